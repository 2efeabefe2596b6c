// Package debugsrv runs the optional debug HTTP server: pprof plus read-only
// JSON views of engine state.
package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	"larder/internal/runtime/supervisor"
	logx "larder/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// Config controls the debug server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	routes map[string]http.Handler

	addr string
	srv  *http.Server
	sup  *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, routes: map[string]http.Handler{}}
}

// Handle registers an extra route. Routes added after Start are served from
// the next (re)start.
func (s *Service) Handle(path string, h http.Handler) {
	s.mu.Lock()
	s.routes[path] = h
	s.mu.Unlock()
}

// Addr is the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg and starts, stops or restarts the server as needed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			_ = s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		_ = s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr || a.Token != b.Token || a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start launches the server under its own supervisor. It is idempotent and
// does nothing when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	applyRuntimeRates(s.cfg)
	// Debug serving is optional; its failures never cancel the app.
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "debugsrv.supervisor"))))
	s.sup.GoRestart("http.serve", s.serveOnce, 500*time.Millisecond, 10*time.Second)
}

// Stop shuts the server down gracefully until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if werr := sup.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	s.log.Info("debug server stopped")
	return err
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	routes := make(map[string]http.Handler, len(s.routes))
	for p, h := range s.routes {
		routes[p] = h
	}
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("debug server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler { return withAuth(cur.Token, h) }
	mux.Handle("/healthz", wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})))
	mux.Handle("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
	mux.Handle("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
	mux.Handle("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
	mux.Handle("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
	mux.Handle("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	for p, h := range routes {
		mux.Handle(p, wrap(h))
	}

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	s.mu.Lock()
	s.srv, s.addr = srv, ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.addr = nil, ""
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

// JSON serves fn's result as indented JSON.
func JSON(fn func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fn()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// Empty host binds every interface.
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
