// Package telegram implements the platform contract over the Bot API
// via telebot. Bot sessions cannot read arbitrary messages, so
// GetMessage hands back opaque references the transfer engine delivers
// with a server-side copy; privileged (delegate) sessions are not
// available through this adapter.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"relaybot/internal/platform"
	"relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Client wraps one bot-token session.
type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	runWG   sync.WaitGroup
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			log.Warn("handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying telebot instance for handler registration.
func (c *Client) Bot() *tele.Bot { return c.bot }

// Start begins long polling. It returns immediately; polling runs until
// Stop.
func (c *Client) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.runWG.Add(1)
	go func() {
		defer c.runWG.Done()
		c.log.Info("polling started")
		c.bot.Start()
	}()
}

// Stop halts polling, waiting up to a short grace window so shutdown is
// never held hostage by an in-flight long poll.
func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	wasRunning := c.running
	c.running = false
	c.runMu.Unlock()
	if !wasRunning {
		return nil
	}

	go c.bot.Stop()

	done := make(chan struct{})
	go func() {
		c.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		c.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		c.log.Warn("polling stop grace elapsed")
		return nil
	}
}

func (c *Client) Connected(ctx context.Context) bool {
	_ = ctx
	_, err := c.bot.Raw("getMe", nil)
	return err == nil
}

func (c *Client) Close() error {
	return c.Stop(context.Background())
}

func (c *Client) ResolveChat(ctx context.Context, chat platform.ChatRef) (platform.ChatRef, error) {
	_ = ctx
	if chat.ID != 0 {
		return chat, nil
	}
	if chat.Alias != "" {
		resolved, err := c.bot.ChatByUsername("@" + chat.Alias)
		if err != nil {
			return platform.ChatRef{}, err
		}
		chat.ID = resolved.ID
		return chat, nil
	}
	return platform.ChatRef{}, fmt.Errorf("%w: invite links need a privileged session", platform.ErrUnsupported)
}

func (c *Client) JoinChat(ctx context.Context, chat platform.ChatRef) error {
	_ = ctx
	_ = chat
	return fmt.Errorf("%w: bot sessions cannot join chats", platform.ErrUnsupported)
}

// GetMessage cannot inspect the referenced message over the Bot API; it
// returns an opaque reference for the copy path. Existence is only
// discovered at delivery time.
func (c *Client) GetMessage(ctx context.Context, chat platform.ChatRef, msgID int) (*platform.Item, error) {
	resolved, err := c.ResolveChat(ctx, chat)
	if err != nil {
		return nil, err
	}
	return &platform.Item{ID: msgID, Chat: resolved}, nil
}

// Download materializes a referenced file. The Bot API caps downloads at
// 20 MB; larger payloads fail here and count as skipped.
func (c *Client) Download(ctx context.Context, item *platform.Item, dir string, progress platform.ProgressFunc) (string, error) {
	_ = ctx
	if item.FileRef == "" {
		return "", errors.New("telegram: item has no file reference")
	}
	name := item.FileName
	if name == "" {
		name = uuid.NewString()
	}
	path := filepath.Join(dir, name)
	if err := c.bot.Download(&tele.File{FileID: item.FileRef}, path); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	if progress != nil && item.FileSize > 0 {
		progress(item.FileSize, item.FileSize)
	}
	return path, nil
}

func (c *Client) SendText(ctx context.Context, dest platform.Dest, text string) (int, error) {
	_ = ctx
	msg, err := c.bot.Send(&tele.Chat{ID: dest.ChatID}, text, sendOptions(dest))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (c *Client) SendByRef(ctx context.Context, dest platform.Dest, item *platform.Item, caption string) (int, error) {
	_ = ctx
	if item.FileRef == "" {
		return 0, errors.New("telegram: item has no file reference")
	}
	what := mediaByRef(item, caption)
	if what == nil {
		return 0, fmt.Errorf("%w: kind %s has no by-reference form", platform.ErrUnsupported, item.Kind)
	}
	msg, err := c.bot.Send(&tele.Chat{ID: dest.ChatID}, what, sendOptions(dest))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (c *Client) Upload(ctx context.Context, dest platform.Dest, up platform.Upload) (int, error) {
	_ = ctx
	what := mediaFromDisk(up)
	if what == nil {
		return 0, fmt.Errorf("%w: kind %s cannot be uploaded", platform.ErrUnsupported, up.Kind)
	}
	msg, err := c.bot.Send(&tele.Chat{ID: dest.ChatID}, what, sendOptions(dest))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (c *Client) Copy(ctx context.Context, dest platform.Dest, fromChat int64, msgID int) (int, error) {
	_ = ctx
	src := tele.StoredMessage{MessageID: strconv.Itoa(msgID), ChatID: fromChat}
	msg, err := c.bot.Copy(&tele.Chat{ID: dest.ChatID}, src, sendOptions(dest))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (c *Client) EditText(ctx context.Context, chatID int64, msgID int, text string) error {
	_ = ctx
	_, err := c.bot.Edit(tele.StoredMessage{MessageID: strconv.Itoa(msgID), ChatID: chatID}, text)
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, msgID int) error {
	_ = ctx
	return c.bot.Delete(tele.StoredMessage{MessageID: strconv.Itoa(msgID), ChatID: chatID})
}

func sendOptions(dest platform.Dest) *tele.SendOptions {
	opt := &tele.SendOptions{}
	if dest.ReplyTo != 0 {
		opt.ReplyTo = &tele.Message{ID: dest.ReplyTo, Chat: &tele.Chat{ID: dest.ChatID}}
	}
	return opt
}

func mediaByRef(item *platform.Item, caption string) any {
	file := tele.File{FileID: item.FileRef}
	switch item.Kind {
	case platform.KindPhoto:
		return &tele.Photo{File: file, Caption: caption}
	case platform.KindVideo:
		return &tele.Video{File: file, Caption: caption}
	case platform.KindVideoNote:
		return &tele.VideoNote{File: file}
	case platform.KindVoice:
		return &tele.Voice{File: file, Caption: caption}
	case platform.KindAudio:
		return &tele.Audio{File: file, Caption: caption}
	case platform.KindSticker:
		return &tele.Sticker{File: file}
	case platform.KindDocument:
		return &tele.Document{File: file, Caption: caption, FileName: item.FileName}
	default:
		return nil
	}
}

func mediaFromDisk(up platform.Upload) any {
	file := tele.FromDisk(up.Path)
	var thumb *tele.Photo
	if up.ThumbPath != "" {
		thumb = &tele.Photo{File: tele.FromDisk(up.ThumbPath)}
	}
	switch up.Kind {
	case platform.KindPhoto:
		return &tele.Photo{File: file, Caption: up.Caption}
	case platform.KindVideo:
		return &tele.Video{
			File:      file,
			Caption:   up.Caption,
			Duration:  up.Duration,
			Width:     up.Width,
			Height:    up.Height,
			Thumbnail: thumb,
			FileName:  up.FileName,
			Streaming: true,
		}
	case platform.KindVideoNote:
		return &tele.VideoNote{File: file, Duration: up.Duration, Thumbnail: thumb}
	case platform.KindVoice:
		return &tele.Voice{File: file, Caption: up.Caption, Duration: up.Duration}
	case platform.KindAudio:
		return &tele.Audio{
			File:      file,
			Caption:   up.Caption,
			Duration:  up.Duration,
			Performer: up.Performer,
			Title:     up.Title,
			Thumbnail: thumb,
			FileName:  up.FileName,
		}
	case platform.KindSticker:
		return &tele.Sticker{File: file}
	case platform.KindDocument:
		return &tele.Document{File: file, Caption: up.Caption, Thumbnail: thumb, FileName: up.FileName}
	default:
		return nil
	}
}
