package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"

	"larder/internal/notification"
	logx "larder/pkg/logx"
)

// Func adapts a function to a Sink.
type Func struct {
	ID string
	Fn func(ctx context.Context, d notification.Delivery) error
}

func (f Func) Name() string { return f.ID }

func (f Func) Send(ctx context.Context, d notification.Delivery) error { return f.Fn(ctx, d) }

// Log writes each delivery as one structured log line.
type Log struct {
	L logx.Logger
}

func (Log) Name() string { return "log" }

func (s Log) Send(_ context.Context, d notification.Delivery) error {
	ids := make([]uint64, 0, len(d.Items))
	for _, n := range d.Items {
		ids = append(ids, n.ID)
	}
	s.L.Info("notification",
		logx.String("kind", string(d.Kind)),
		logx.String("category", string(d.Category)),
		logx.String("summary", d.Summary),
		logx.Int("level", d.Level),
		logx.Any("ids", ids),
	)
	return nil
}

// Feed appends each delivery as a JSON line to a file, for tailing by other
// processes.
type Feed struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *json.Encoder
}

func OpenFeed(path string) (*Feed, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("feed path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Feed{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (*Feed) Name() string { return "feed" }

func (s *Feed) Send(_ context.Context, d notification.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrStopped
	}
	return s.enc.Encode(d)
}

func (s *Feed) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Multi sends to every sink and joins their errors. A retry resends to all
// of them.
type Multi []Sink

func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m Multi) Send(ctx context.Context, d notification.Delivery) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
