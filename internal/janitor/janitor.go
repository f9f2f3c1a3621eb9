// Package janitor runs periodic housekeeping: stale files in the
// download dir (left by crashed or interrupted transfers) and expired
// premium grants.
package janitor

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/quota"
	"relaybot/pkg/logx"
)

type Config struct {
	Enabled   bool
	Schedule  string
	StagedTTL time.Duration
}

type Service struct {
	cfg   Config
	dir   string
	quota *quota.Service
	log   logx.Logger
	cron  *cron.Cron

	now func() time.Time // test hook
}

func New(cfg Config, downloadDir string, q *quota.Service, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.StagedTTL <= 0 {
		cfg.StagedTTL = 24 * time.Hour
	}
	return &Service{cfg: cfg, dir: downloadDir, quota: q, log: log, now: time.Now}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.log.Debug("janitor disabled")
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("janitor started", logx.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one housekeeping pass.
func (s *Service) Sweep() {
	files := s.sweepFiles()
	grants := s.quota.SweepExpired()
	if files > 0 || grants > 0 {
		s.log.Info("sweep done", logx.Int("files_removed", files), logx.Int("grants_expired", grants))
	}
}

// sweepFiles removes regular files in the download dir older than the
// TTL. Active transfers keep their files fresh enough to survive.
func (s *Service) sweepFiles() int {
	if s.dir == "" {
		return 0
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("download dir scan failed", logx.String("dir", s.dir), logx.Err(err))
		}
		return 0
	}

	cutoff := s.now().Add(-s.cfg.StagedTTL)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err == nil {
			s.log.Debug("removed stale artifact", logx.String("path", path))
			removed++
		}
	}
	return removed
}
