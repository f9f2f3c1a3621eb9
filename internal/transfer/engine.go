// Package transfer moves a single fetched item to its destination. The
// engine picks the cheapest path that works: text goes straight out,
// referenced media is re-sent without touching disk when the relay can
// see it, restricted media is materialized and re-uploaded, and payloads
// over the staging threshold take a detour through the staging chat.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"relaybot/internal/media"
	"relaybot/internal/platform"
	"relaybot/internal/rename"
	"relaybot/pkg/logx"
)

// DefaultStagingThreshold is the payload size above which bot-session
// uploads stop working and delivery must go through the staging chat.
const DefaultStagingThreshold int64 = 2 << 30

var (
	// ErrNothingToSend is returned for items with no deliverable content.
	ErrNothingToSend = errors.New("transfer: nothing to send")

	// ErrNoStagingRoute is returned for oversized payloads when no
	// delegate session or staging chat is available to carry them.
	ErrNoStagingRoute = errors.New("transfer: payload too large and no staging route")
)

type Config struct {
	DownloadDir      string
	StagingThreshold int64
	StagingChatID    int64
}

// Request carries everything one delivery needs. Source must be the
// client the item was fetched with; Delegate may be nil.
type Request struct {
	UserID   int64
	Item     *platform.Item
	Source   platform.Client
	Relay    platform.Client
	Delegate platform.Client
	Dest     platform.Dest

	Rules           rename.Rules
	CaptionOverride string
	ThumbPath       string
	Reporter        *Reporter
}

type Engine struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Engine {
	if cfg.StagingThreshold <= 0 {
		cfg.StagingThreshold = DefaultStagingThreshold
	}
	return &Engine{cfg: cfg, log: log}
}

// Apply swaps the engine configuration (hot reload).
func (e *Engine) Apply(cfg Config) {
	if cfg.StagingThreshold <= 0 {
		cfg.StagingThreshold = DefaultStagingThreshold
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Deliver relays one item to req.Dest. It returns the destination
// message id of the delivered copy.
func (e *Engine) Deliver(ctx context.Context, req Request) (int, error) {
	item := req.Item
	if item == nil {
		return 0, ErrNothingToSend
	}

	// Opaque reference: the reading client could not inspect the payload
	// (plain bot sessions cannot). Re-deliver it server-side.
	if item.Kind == platform.KindNone && item.Text == "" && !item.Restricted &&
		item.ID != 0 && item.Chat.ID != 0 {
		return req.Relay.Copy(ctx, req.Dest, item.Chat.ID, item.ID)
	}

	if !item.Kind.HasMedia() {
		text := rename.ApplyToText(item.Text, req.Rules)
		if text == "" {
			return 0, ErrNothingToSend
		}
		return req.Relay.SendText(ctx, req.Dest, text)
	}

	caption := req.CaptionOverride
	if caption == "" {
		caption = rename.ApplyToText(item.Text, req.Rules)
	}

	// Unrestricted referenced media can be re-sent without a download,
	// unless a file rename rule would change its name.
	if !item.Restricted && item.FileRef != "" && req.Rules.Tag == "" {
		if id, err := req.Relay.SendByRef(ctx, req.Dest, item, caption); err == nil {
			return id, nil
		} else {
			e.log.Debug("re-send by reference failed, materializing",
				logx.Int64("user_id", req.UserID), logx.Err(err))
		}
	}

	return e.materialize(ctx, req, caption)
}

// materialize downloads the payload, applies file rules and re-uploads
// it, routing through the staging chat when the file is oversized.
// Each item stages in its own directory so concurrent jobs fetching
// same-named files never clobber each other.
func (e *Engine) materialize(ctx context.Context, req Request, caption string) (int, error) {
	cfg := e.config()
	item := req.Item

	dir := filepath.Join(cfg.DownloadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("transfer: download dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if req.Reporter != nil {
		req.Reporter.Reset("Downloading")
	}
	path, err := req.Source.Download(ctx, item, dir, req.Reporter.Func(ctx))
	if err != nil {
		return 0, fmt.Errorf("transfer: download: %w", err)
	}

	path = rename.ApplyToFile(path, req.Rules)

	size := item.FileSize
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	up := e.buildUpload(ctx, req, path, dir, caption)

	if size > cfg.StagingThreshold {
		return e.deliverStaged(ctx, req, up, cfg)
	}

	if req.Reporter != nil {
		req.Reporter.Reset("Uploading")
	}
	return req.Relay.Upload(ctx, req.Dest, up)
}

// deliverStaged uploads through the delegate session into the staging
// chat, then copies the staged message to the real destination.
func (e *Engine) deliverStaged(ctx context.Context, req Request, up platform.Upload, cfg Config) (int, error) {
	if req.Delegate == nil || cfg.StagingChatID == 0 {
		return 0, ErrNoStagingRoute
	}

	if req.Reporter != nil {
		req.Reporter.Reset("Uploading (staged)")
	}
	stagedID, err := req.Delegate.Upload(ctx, platform.Dest{ChatID: cfg.StagingChatID}, up)
	if err != nil {
		return 0, fmt.Errorf("transfer: staged upload: %w", err)
	}

	id, err := req.Relay.Copy(ctx, req.Dest, cfg.StagingChatID, stagedID)
	if err != nil {
		// The staged copy is orphaned in the staging chat. Record where
		// it landed so it can be removed by hand.
		e.log.Error("copy from staging failed, staged message orphaned",
			logx.Int64("user_id", req.UserID),
			logx.Int64("staging_chat", cfg.StagingChatID),
			logx.Int("staged_msg_id", stagedID),
			logx.Err(err))
		return 0, fmt.Errorf("transfer: copy from staging (orphaned message %d in chat %d): %w",
			stagedID, cfg.StagingChatID, err)
	}
	return id, nil
}

// buildUpload assembles the per-kind upload, probing for playback
// metadata and a preview frame when the item carries none. Generated
// previews land in dir and go away with it.
func (e *Engine) buildUpload(ctx context.Context, req Request, path, dir, caption string) platform.Upload {
	item := req.Item
	up := platform.Upload{
		Kind:      item.Kind,
		Path:      path,
		FileName:  item.FileName,
		Caption:   caption,
		ThumbPath: req.ThumbPath,
		Duration:  item.Duration,
		Width:     item.Width,
		Height:    item.Height,
		Performer: item.Performer,
		Title:     item.Title,
		Progress:  req.Reporter.Func(ctx),
	}

	switch item.Kind {
	case platform.KindVideo, platform.KindVideoNote:
		if up.Duration == 0 || up.Width == 0 {
			if m, err := media.Extract(ctx, path); err == nil {
				if up.Duration == 0 {
					up.Duration = m.Duration
				}
				if up.Width == 0 {
					up.Width = m.Width
					up.Height = m.Height
				}
			}
		}
		if up.ThumbPath == "" {
			if thumb, err := media.MakePreview(ctx, path, up.Duration, dir); err == nil {
				up.ThumbPath = thumb
			}
		}
	case platform.KindAudio, platform.KindVoice:
		if up.Duration == 0 {
			if m, err := media.Extract(ctx, path); err == nil {
				up.Duration = m.Duration
			}
		}
	}
	return up
}
