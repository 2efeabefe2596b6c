package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "larder/pkg/logx"
)

// fileStore keeps the state in a single snapshot file.
//
// Files:
//   - <prefix>.state.json     (current snapshot)
//   - <prefix>.state.json.tmp (written first, then renamed over the snapshot)
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: filepath.Join(dir, base) + ".state.json"}, nil
}

func (s *fileStore) Load(ctx context.Context) (State, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, false, errors.New("state file closed")
	}
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	defer f.Close()

	var st State
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return State{}, false, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if st.Version > StateVersion {
		return State{}, false, fmt.Errorf("state version %d is newer than supported %d", st.Version, StateVersion)
	}
	return st, true, nil
}

func (s *fileStore) Save(ctx context.Context, st State) error {
	_ = ctx
	st.Version = StateVersion

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("state file closed")
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.log.Debug("state saved", logx.String("path", s.path), logx.Int("log", len(st.Log)), logx.Int("batches", len(st.Batches)), logx.Int("escalations", len(st.Escalations)))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
