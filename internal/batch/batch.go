// Package batch runs transfer jobs: a parsed locator plus an item count
// becomes a sequential fetch-and-deliver loop with durable progress,
// cooperative cancellation and per-item fault isolation. One job per
// user at a time; the job store enforces that even across processes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/jobstore"
	"relaybot/internal/locator"
	"relaybot/internal/platform"
	"relaybot/internal/prefs"
	"relaybot/internal/quota"
	"relaybot/internal/rename"
	"relaybot/internal/transfer"
	"relaybot/pkg/logx"
)

var (
	ErrJobActive     = errors.New("batch: a job is already running for this user")
	ErrBadCount      = errors.New("batch: item count must be positive")
	ErrQuotaExceeded = errors.New("batch: item count exceeds the tier limit")
)

// Fetcher reads one source message; nil means unavailable.
type Fetcher interface {
	Fetch(ctx context.Context, userID int64, loc locator.Locator, msgID int) *platform.Item
}

// Deliverer relays one fetched item to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, req transfer.Request) (int, error)
}

// ClientPool is the slice of the session pool the orchestrator needs.
type ClientPool interface {
	Relay(ctx context.Context, userID int64) (platform.Client, error)
	Delegate(ctx context.Context, userID int64) platform.Client
}

// Params describes one job request.
type Params struct {
	UserID int64
	Loc    locator.Locator
	Count  int

	// ProgressChatID is the chat where status messages are posted; it is
	// also the delivery destination unless the user routed elsewhere.
	ProgressChatID int64
}

type Orchestrator struct {
	jobs    jobstore.Store
	fetcher Fetcher
	engine  Deliverer
	pool    ClientPool
	prefs   *prefs.Store
	quota   *quota.Service
	log     logx.Logger

	mu   sync.Mutex
	pace time.Duration

	wg sync.WaitGroup
}

func New(jobs jobstore.Store, f Fetcher, e Deliverer, pool ClientPool, p *prefs.Store, q *quota.Service, pace time.Duration, log logx.Logger) *Orchestrator {
	if pace <= 0 {
		pace = 5 * time.Second
	}
	return &Orchestrator{
		jobs:    jobs,
		fetcher: f,
		engine:  e,
		pool:    pool,
		prefs:   p,
		quota:   q,
		pace:    pace,
		log:     log,
	}
}

// ApplyPace swaps the inter-item pacing interval (hot reload). Jobs
// already running keep the pace they started with.
func (o *Orchestrator) ApplyPace(pace time.Duration) {
	if pace <= 0 {
		return
	}
	o.mu.Lock()
	o.pace = pace
	o.mu.Unlock()
}

func (o *Orchestrator) currentPace() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pace
}

// Start validates the request, claims the user's job slot and launches
// the transfer loop in the background.
func (o *Orchestrator) Start(ctx context.Context, p Params) error {
	if p.Count <= 0 {
		return ErrBadCount
	}
	ceiling := o.quota.Ceiling(o.quota.Tier(p.UserID))
	if p.Count > ceiling {
		return fmt.Errorf("%w: %d > %d", ErrQuotaExceeded, p.Count, ceiling)
	}

	rec := jobstore.Record{
		UserID:         p.UserID,
		Total:          p.Count,
		Anchor:         p.Loc.Anchor,
		StartedAt:      time.Now().UTC(),
		ProgressChatID: p.ProgressChatID,
	}
	if err := o.jobs.Create(ctx, rec); err != nil {
		if errors.Is(err, jobstore.ErrJobExists) {
			return ErrJobActive
		}
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, p, rec)
	}()
	return nil
}

// Cancel flags the user's job; the loop observes the flag before the
// next item. ErrNoJob when nothing is running.
func (o *Orchestrator) Cancel(ctx context.Context, userID int64) error {
	ok, err := o.jobs.RequestCancel(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return jobstore.ErrNoJob
	}
	return nil
}

// Status returns the user's current job record.
func (o *Orchestrator) Status(ctx context.Context, userID int64) (jobstore.Record, error) {
	rec, ok, err := o.jobs.Get(ctx, userID)
	if err != nil {
		return jobstore.Record{}, err
	}
	if !ok {
		return jobstore.Record{}, jobstore.ErrNoJob
	}
	return rec, nil
}

// CleanupStale drops job records left behind by a previous process. The
// loops that owned them are gone, so the records only block new jobs.
func (o *Orchestrator) CleanupStale(ctx context.Context) int {
	recs, err := o.jobs.List(ctx)
	if err != nil {
		o.log.Warn("stale job scan failed", logx.Err(err))
		return 0
	}
	removed := 0
	for _, r := range recs {
		if err := o.jobs.Remove(ctx, r.UserID); err == nil {
			o.log.Info("removed stale job record",
				logx.Int64("user_id", r.UserID),
				logx.Int("current", r.Current),
				logx.Int("total", r.Total))
			removed++
		}
	}
	return removed
}

// Wait blocks until all running loops have drained.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) run(ctx context.Context, p Params, rec jobstore.Record) {
	log := o.log.With(logx.Int64("user_id", p.UserID))

	// The record is removed on completion or cancellation. Process
	// shutdown leaves it in place so the next startup can see the
	// interrupted job and clean it up.
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := o.jobs.Remove(context.WithoutCancel(ctx), p.UserID); err != nil {
			log.Warn("job record removal failed", logx.Err(err))
		}
	}()

	relay, err := o.pool.Relay(ctx, p.UserID)
	if err != nil {
		log.Error("no relay client, aborting job", logx.Err(err))
		return
	}
	delegate := o.pool.Delegate(ctx, p.UserID)

	dest := o.destination(p)
	rules := rename.Rules{
		DeleteWords:  o.prefs.DeleteWords(p.UserID),
		Replacements: o.prefs.Replacements(p.UserID),
		Tag:          o.prefs.Get(p.UserID, prefs.KeyRenameTag, ""),
	}
	caption := o.prefs.Get(p.UserID, prefs.KeyCaption, "")
	thumb := o.prefs.Get(p.UserID, prefs.KeyThumbnail, "")

	statusID := o.postStatus(ctx, relay, p, &rec)

	// Each job paces itself; jobs from different users never slow each
	// other down.
	pacer := rate.NewLimiter(rate.Every(o.currentPace()), 1)

	cancelled := false
	for i := 0; i < rec.Total; i++ {
		if ctx.Err() != nil {
			keep = true
			return
		}
		if flagged, err := o.jobs.IsCancelled(ctx, p.UserID); err == nil && flagged {
			cancelled = true
			break
		}
		if err := pacer.Wait(ctx); err != nil {
			keep = true
			return
		}

		msgID := rec.Anchor + i
		item := o.fetcher.Fetch(ctx, p.UserID, p.Loc, msgID)
		if item != nil {
			source := relay
			if p.Loc.Access == locator.AccessRestricted && delegate != nil {
				source = delegate
			}
			var reporter *transfer.Reporter
			if statusID != 0 {
				reporter = transfer.NewReporter(relay, p.ProgressChatID, statusID,
					fmt.Sprintf("Item %d/%d", i+1, rec.Total))
			}
			_, err := o.engine.Deliver(ctx, transfer.Request{
				UserID:          p.UserID,
				Item:            item,
				Source:          source,
				Relay:           relay,
				Delegate:        delegate,
				Dest:            dest,
				Rules:           rules,
				CaptionOverride: caption,
				ThumbPath:       thumb,
				Reporter:        reporter,
			})
			if err != nil {
				log.Warn("item delivery failed", logx.Int("msg_id", msgID), logx.Err(err))
			} else {
				rec.Success++
			}
		} else {
			log.Debug("item skipped", logx.Int("msg_id", msgID))
		}

		rec.Current = i + 1
		if err := o.jobs.Update(ctx, p.UserID, rec.Current, rec.Success); err != nil {
			log.Warn("progress persist failed", logx.Err(err))
		}
		o.editStatus(ctx, relay, p, statusID, rec)
	}

	o.finish(ctx, relay, p, statusID, rec, cancelled)
}

// destination resolves where items go: the user's routed chat when set,
// otherwise back to the chat the job was started from.
func (o *Orchestrator) destination(p Params) platform.Dest {
	if chatID, replyTo, ok := o.prefs.Route(p.UserID); ok {
		return platform.Dest{ChatID: chatID, ReplyTo: replyTo}
	}
	return platform.Dest{ChatID: p.ProgressChatID}
}

func (o *Orchestrator) postStatus(ctx context.Context, relay platform.Client, p Params, rec *jobstore.Record) int {
	if p.ProgressChatID == 0 {
		return 0
	}
	id, err := relay.SendText(ctx, platform.Dest{ChatID: p.ProgressChatID},
		fmt.Sprintf("Starting: %d item(s)", rec.Total))
	if err != nil {
		o.log.Debug("status message post failed", logx.Int64("user_id", p.UserID), logx.Err(err))
		return 0
	}
	rec.ProgressMsgID = id
	if err := o.jobs.SetProgressMessage(ctx, p.UserID, id); err != nil {
		o.log.Debug("status id persist failed", logx.Err(err))
	}
	return id
}

func (o *Orchestrator) editStatus(ctx context.Context, relay platform.Client, p Params, statusID int, rec jobstore.Record) {
	if statusID == 0 {
		return
	}
	text := fmt.Sprintf("Processing %d/%d (delivered %d)", rec.Current, rec.Total, rec.Success)
	_ = relay.EditText(ctx, p.ProgressChatID, statusID, text)
}

func (o *Orchestrator) finish(ctx context.Context, relay platform.Client, p Params, statusID int, rec jobstore.Record, cancelled bool) {
	o.log.Info("job finished",
		logx.Int64("user_id", p.UserID),
		logx.Int("delivered", rec.Success),
		logx.Int("processed", rec.Current),
		logx.Int("total", rec.Total),
		logx.Bool("cancelled", cancelled))
	if statusID == 0 {
		return
	}
	_ = relay.EditText(ctx, p.ProgressChatID, statusID, summaryText(rec, cancelled))
}

func summaryText(rec jobstore.Record, cancelled bool) string {
	if cancelled {
		return fmt.Sprintf("Cancelled: delivered %d of %d before stopping", rec.Success, rec.Current)
	}
	skipped := rec.Current - rec.Success
	if skipped > 0 {
		return fmt.Sprintf("Done: delivered %d/%d (%d skipped or failed)", rec.Success, rec.Total, skipped)
	}
	return fmt.Sprintf("Done: delivered %d/%d", rec.Success, rec.Total)
}
