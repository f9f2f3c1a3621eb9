package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
	"relaybot/internal/config"
	"relaybot/internal/jobstore"
	"relaybot/pkg/logx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Batch content relay for Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cfgPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "jobs",
		Short: "List persisted job records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listJobs(cmd, cfgPath)
		},
	})
	return root
}

func runBot(cfgPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return a.Stop(stopCtx)
}

// listJobs prints the durable job records, including ones a crashed
// process left behind.
func listJobs(cmd *cobra.Command, cfgPath string) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return err
	}
	busyTimeout, err := config.ParseDurationOrDefault("jobstore.busy_timeout", cfg.JobStore.BusyTimeout, 0)
	if err != nil {
		return err
	}
	path := cfg.JobStore.Path
	if path == "" {
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		path = dataDir + "/jobs.json"
	}

	store, err := jobstore.Open(jobstore.Config{
		Driver:      cfg.JobStore.Driver,
		Path:        path,
		BusyTimeout: busyTimeout,
	}, logx.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		cmd.Println("no job records")
		return nil
	}
	for _, r := range recs {
		status := "running"
		if r.Cancel {
			status = "cancelling"
		}
		cmd.Printf("user=%d progress=%d/%d delivered=%d status=%s started=%s\n",
			r.UserID, r.Current, r.Total, r.Success, status, r.StartedAt.Format(time.RFC3339))
	}
	return nil
}
