package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "relaybot/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// All records live in one JSON file keyed by user id, rewritten atomically
// (tmp + rename) on every mutation. Job records are few (one per active
// user) and short-lived, so full rewrites are cheap and keep the file
// human-inspectable at all times.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	jobs map[string]Record
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("jobstore.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	jobs := map[string]Record{}
	if err := loadJobs(path, jobs); err != nil && !os.IsNotExist(err) {
		// A corrupt file must not brick startup; stale jobs are surfaced
		// via List and cleaned by the orchestrator anyway.
		log.Warn("jobstore: could not load existing records", logx.String("path", path), logx.Err(err))
	}

	return &fileStore{log: log, path: path, jobs: jobs}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Create(ctx context.Context, rec Record) error {
	_ = ctx
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(rec.UserID)
	if _, ok := s.jobs[key]; ok {
		return ErrJobExists
	}
	s.jobs[key] = rec
	return s.flushLocked()
}

func (s *fileStore) Update(ctx context.Context, userID int64, current, success int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(userID)
	rec, ok := s.jobs[key]
	if !ok {
		return ErrNoJob
	}
	if current < rec.Current || success < rec.Success {
		return fmt.Errorf("job record: counters must not decrease (%d/%d -> %d/%d)", rec.Current, rec.Success, current, success)
	}
	if success > current || current > rec.Total {
		return fmt.Errorf("job record: invariant success <= current <= total violated (%d/%d/%d)", success, current, rec.Total)
	}
	rec.Current = current
	rec.Success = success
	s.jobs[key] = rec
	return s.flushLocked()
}

func (s *fileStore) SetProgressMessage(ctx context.Context, userID int64, msgID int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(userID)
	rec, ok := s.jobs[key]
	if !ok {
		return ErrNoJob
	}
	rec.ProgressMsgID = msgID
	s.jobs[key] = rec
	return s.flushLocked()
}

func (s *fileStore) RequestCancel(ctx context.Context, userID int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(userID)
	rec, ok := s.jobs[key]
	if !ok {
		return false, nil
	}
	if rec.Cancel {
		return true, nil
	}
	rec.Cancel = true
	s.jobs[key] = rec
	return true, s.flushLocked()
}

func (s *fileStore) IsCancelled(ctx context.Context, userID int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[userKey(userID)]
	return ok && rec.Cancel, nil
}

func (s *fileStore) Get(ctx context.Context, userID int64) (Record, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[userKey(userID)]
	return rec, ok, nil
}

func (s *fileStore) Remove(ctx context.Context, userID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey(userID)
	if _, ok := s.jobs[key]; !ok {
		return nil
	}
	delete(s.jobs, key)
	return s.flushLocked()
}

func (s *fileStore) List(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fileStore) flushLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.jobs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func loadJobs(path string, out map[string]Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(&out)
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }
