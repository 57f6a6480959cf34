package logging

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrSinkClosed = errors.New("log sink closed")

// FileSink is the append-only diagnostic log file. Writes and retention
// rewrites are serialized by the same lock.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func OpenFileSink(path string) (*FileSink, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := openAppend(abs)
	if err != nil {
		return nil, err
	}
	return &FileSink{path: abs, f: f}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrSinkClosed
	}
	return s.f.Write(p)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Prune applies the retention policy to the log file. The rewrite happens
// under the write lock; callers must not log from inside it.
func (s *FileSink) Prune(policy RetentionPolicy, now time.Time) (PruneStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return PruneStats{}, ErrSinkClosed
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return PruneStats{}, nil
	}
	if err != nil {
		return PruneStats{}, err
	}
	kept, stats := policy.Apply(data, now)
	if stats.Removed == 0 {
		return stats, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return PruneStats{}, err
	}
	if _, err := tmp.Write(kept); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return PruneStats{}, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return PruneStats{}, err
	}
	_ = s.f.Close()
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		s.f, _ = openAppend(s.path)
		return PruneStats{}, err
	}
	f, err := openAppend(s.path)
	if err != nil {
		s.f = nil
		return stats, err
	}
	s.f = f
	return stats, nil
}

// Retention binds a sink to a policy so schedulers can prune without knowing
// either.
type Retention struct {
	Sink   *FileSink
	Policy RetentionPolicy
}

func (r Retention) Prune(now time.Time) (PruneStats, error) {
	if r.Sink == nil || !r.Policy.Enabled() {
		return PruneStats{}, nil
	}
	return r.Sink.Prune(r.Policy, now)
}
