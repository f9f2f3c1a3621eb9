// Package app wires the process together: config, logging, stores,
// session pool, transfer engine, orchestrator, janitor and the command
// surface, with hot reload of the tunable parts.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	telegram "relaybot/internal/adapters/telegram"
	"relaybot/internal/batch"
	"relaybot/internal/bot"
	"relaybot/internal/config"
	"relaybot/internal/creds"
	"relaybot/internal/fetch"
	"relaybot/internal/janitor"
	"relaybot/internal/jobstore"
	"relaybot/internal/prefs"
	"relaybot/internal/quota"
	"relaybot/internal/session"
	"relaybot/internal/transfer"
	"relaybot/pkg/logx"
)

const (
	defaultFreeLimit    = 10
	defaultPremiumLimit = 100
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	shared *telegram.Client
	pool   *session.Pool
	jobs   jobstore.Store
	engine *transfer.Engine
	orch     *batch.Orchestrator
	quota    *quota.Service
	jan      *janitor.Service
	commands *bot.Service

	cfgCh chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	pace, err := config.ParseDurationOrDefault("transfer.pace", cfg.Transfer.Pace, 5*time.Second)
	if err != nil {
		return nil, err
	}
	busyTimeout, err := config.ParseDurationOrDefault("jobstore.busy_timeout", cfg.JobStore.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	stagedTTL, err := config.ParseDurationOrDefault("janitor.staged_ttl", cfg.Janitor.StagedTTL, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	downloadDir := cfg.Transfer.DownloadDir
	if downloadDir == "" {
		downloadDir = "./downloads"
	}

	shared, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	jobsPath := cfg.JobStore.Path
	if jobsPath == "" {
		jobsPath = filepath.Join(dataDir, "jobs.json")
	}
	jobs, err := jobstore.Open(jobstore.Config{
		Driver:      cfg.JobStore.Driver,
		Path:        jobsPath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "jobstore")))
	if err != nil {
		return nil, err
	}

	prefsStore, err := prefs.Open(filepath.Join(dataDir, "prefs.json"))
	if err != nil {
		return nil, err
	}

	var credsStore *creds.Store
	if strings.TrimSpace(cfg.Creds.MasterKey) != "" {
		credsStore, err = creds.Open(filepath.Join(dataDir, "creds.json"), cfg.Creds.MasterKey)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("creds.master_key not set, per-user credentials disabled")
	}

	quotaSvc := quota.New(prefsStore, limitOr(cfg.Quota.FreeLimit, defaultFreeLimit),
		limitOr(cfg.Quota.PremiumLimit, defaultPremiumLimit))

	factory := telegram.NewFactory(pollTimeout, log.With(logx.String("comp", "factory")))
	pool := session.NewPool(factory, credsStore, shared, log.With(logx.String("comp", "session")))
	fetcher := fetch.New(pool, log.With(logx.String("comp", "fetch")))

	engine := transfer.New(transfer.Config{
		DownloadDir:      downloadDir,
		StagingThreshold: cfg.Transfer.StagingThresholdBytes,
		StagingChatID:    cfg.Telegram.StagingChatID,
	}, log.With(logx.String("comp", "transfer")))

	orch := batch.New(jobs, fetcher, engine, pool, prefsStore, quotaSvc, pace,
		log.With(logx.String("comp", "batch")))

	jan := janitor.New(janitor.Config{
		Enabled:   cfg.Janitor.Enabled,
		Schedule:  cfg.Janitor.Schedule,
		StagedTTL: stagedTTL,
	}, downloadDir, quotaSvc, log.With(logx.String("comp", "janitor")))

	commands := bot.New(bot.Deps{
		Orch:   orch,
		Prefs:  prefsStore,
		Creds:  credsStore,
		Pool:   pool,
		Quota:  quotaSvc,
		Owners: cfg.Telegram.OwnerUserIDs,
		Log:    log.With(logx.String("comp", "bot")),
	})
	commands.Register(shared.Bot())

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		shared:   shared,
		pool:     pool,
		jobs:     jobs,
		engine:   engine,
		orch:     orch,
		quota:    quotaSvc,
		jan:      jan,
		commands: commands,
	}, nil
}

// Start brings the process up and begins serving updates. It returns
// once everything is running; cancellation of ctx interrupts running
// jobs and the config watcher, shutdown proper happens in Stop.
func (a *App) Start(ctx context.Context) error {
	if n := a.orch.CleanupStale(ctx); n > 0 {
		a.log.Info("cleaned stale job records", logx.Int("count", n))
	}
	a.commands.UseContext(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})
	a.cfgCh = a.cfgm.Subscribe(4)
	go a.reloadLoop(ctx)
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if err := a.jan.Start(); err != nil {
		return err
	}
	a.shared.Start()
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	err := a.shared.Stop(ctx)
	a.jan.Stop()
	a.orch.Wait()
	a.pool.Close()
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}
	if cerr := a.jobs.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.logs.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// reloadLoop applies the tunable parts of a committed config change.
// Components that cannot be swapped live (token, stores) keep their
// boot-time values until restart.
func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.apply(cfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(logCfg(cfg))

	downloadDir := cfg.Transfer.DownloadDir
	if downloadDir == "" {
		downloadDir = "./downloads"
	}
	a.engine.Apply(transfer.Config{
		DownloadDir:      downloadDir,
		StagingThreshold: cfg.Transfer.StagingThresholdBytes,
		StagingChatID:    cfg.Telegram.StagingChatID,
	})

	if pace, err := config.ParseDurationOrDefault("transfer.pace", cfg.Transfer.Pace, 5*time.Second); err == nil {
		a.orch.ApplyPace(pace)
	}
	a.quota.Apply(limitOr(cfg.Quota.FreeLimit, defaultFreeLimit),
		limitOr(cfg.Quota.PremiumLimit, defaultPremiumLimit))
	a.log.Info("config applied")
}

func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("transfer.pace", cfg.Transfer.Pace, 5*time.Second); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("janitor.staged_ttl", cfg.Janitor.StagedTTL, 24*time.Hour); err != nil {
		return err
	}
	if cfg.Quota.FreeLimit < 0 || cfg.Quota.PremiumLimit < 0 {
		return fmt.Errorf("quota limits must be >= 0")
	}
	if cfg.Transfer.StagingThresholdBytes < 0 {
		return fmt.Errorf("transfer.staging_threshold_bytes must be >= 0")
	}
	return nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func limitOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
