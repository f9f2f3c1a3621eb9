// Package bot is the command surface: it turns chat commands into calls
// on the orchestrator and the per-user stores. Job input is a two-step
// conversation (message link, then item count).
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/batch"
	"relaybot/internal/creds"
	"relaybot/internal/jobstore"
	"relaybot/internal/locator"
	"relaybot/internal/prefs"
	"relaybot/internal/quota"
	"relaybot/internal/session"
	"relaybot/pkg/logx"
)

type Deps struct {
	Orch   *batch.Orchestrator
	Prefs  *prefs.Store
	Creds  *creds.Store
	Pool   *session.Pool
	Quota  *quota.Service
	Owners []int64
	Log    logx.Logger
}

type step int

const (
	stepLink step = iota
	stepCount
)

type convo struct {
	step   step
	single bool
	loc    locator.Locator
}

type Service struct {
	Deps

	mu     sync.Mutex
	base   context.Context
	convos map[int64]convo
}

func New(d Deps) *Service {
	return &Service{Deps: d, convos: map[int64]convo{}}
}

// UseContext installs the process lifecycle context. Jobs started from
// commands inherit it, so shutdown interrupts their pacing instead of
// waiting out the whole batch. Call before the bot starts serving.
func (s *Service) UseContext(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
}

// Register wires the command handlers onto the bot.
func (s *Service) Register(b *tele.Bot) {
	b.Handle("/start", s.handleStart)
	b.Handle("/batch", s.handleBatch)
	b.Handle("/single", s.handleSingle)
	b.Handle("/stop", s.handleStop)
	b.Handle("/status", s.handleStatus)
	b.Handle("/settings", s.handleSettings)
	b.Handle("/setbot", s.handleSetBot)
	b.Handle("/setsession", s.handleSetSession)
	b.Handle("/logout", s.handleLogout)
	b.Handle("/grant", s.handleGrant)
	b.Handle("/revoke", s.handleRevoke)
	b.Handle(tele.OnText, s.handleText)
}

func (s *Service) handleStart(c tele.Context) error {
	return c.Send(strings.TrimSpace(`
Commands:
/batch - relay a run of messages from a link
/single - relay one message
/stop - cancel the running job
/status - show job progress
/settings - view or change preferences
/setbot <token> - use your own relay bot
/setsession <string> - register a delegate session
/logout - forget stored credentials`))
}

func (s *Service) handleBatch(c tele.Context) error {
	return s.beginJob(c, false)
}

func (s *Service) handleSingle(c tele.Context) error {
	return s.beginJob(c, true)
}

func (s *Service) beginJob(c tele.Context, single bool) error {
	userID := c.Sender().ID
	if _, err := s.Orch.Status(s.ctx(), userID); err == nil {
		return c.Send("A job is already running. /stop it first.")
	}
	s.setConvo(userID, convo{step: stepLink, single: single})
	return c.Send("Send the link of the first message.")
}

func (s *Service) handleText(c tele.Context) error {
	userID := c.Sender().ID
	cv, ok := s.getConvo(userID)
	if !ok {
		return nil
	}

	switch cv.step {
	case stepLink:
		loc, err := locator.Parse(c.Text())
		if err != nil {
			return c.Send("That link is not recognized. Send a t.me message link or <chat_id>/<msg_id>.")
		}
		if cv.single {
			s.clearConvo(userID)
			return s.startJob(c, loc, 1)
		}
		cv.loc = loc
		cv.step = stepCount
		s.setConvo(userID, cv)
		ceiling := s.Quota.Ceiling(s.Quota.Tier(userID))
		return c.Send(fmt.Sprintf("How many messages? (max %d)", ceiling))

	case stepCount:
		n, err := strconv.Atoi(strings.TrimSpace(c.Text()))
		if err != nil {
			return c.Send("Send a number.")
		}
		loc := cv.loc
		s.clearConvo(userID)
		return s.startJob(c, loc, n)
	}
	return nil
}

func (s *Service) startJob(c tele.Context, loc locator.Locator, count int) error {
	userID := c.Sender().ID
	err := s.Orch.Start(s.ctx(), batch.Params{
		UserID:         userID,
		Loc:            loc,
		Count:          count,
		ProgressChatID: c.Chat().ID,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, batch.ErrJobActive):
		return c.Send("A job is already running. /stop it first.")
	case errors.Is(err, batch.ErrBadCount):
		return c.Send("The count must be a positive number.")
	case errors.Is(err, batch.ErrQuotaExceeded):
		ceiling := s.Quota.Ceiling(s.Quota.Tier(userID))
		return c.Send(fmt.Sprintf("That exceeds your limit of %d messages per job.", ceiling))
	default:
		s.Log.Error("job start failed", logx.Int64("user_id", userID), logx.Err(err))
		return c.Send("Could not start the job. Try again later.")
	}
}

func (s *Service) handleStop(c tele.Context) error {
	err := s.Orch.Cancel(s.ctx(), c.Sender().ID)
	if errors.Is(err, jobstore.ErrNoJob) {
		return c.Send("Nothing is running.")
	}
	if err != nil {
		return c.Send("Could not cancel. Try again.")
	}
	return c.Send("Stopping after the current item.")
}

func (s *Service) handleStatus(c tele.Context) error {
	rec, err := s.Orch.Status(s.ctx(), c.Sender().ID)
	if errors.Is(err, jobstore.ErrNoJob) {
		return c.Send("Nothing is running.")
	}
	if err != nil {
		return c.Send("Status is unavailable right now.")
	}
	elapsed := time.Since(rec.StartedAt).Round(time.Second)
	return c.Send(fmt.Sprintf("Processing %d/%d, delivered %d, running for %s.",
		rec.Current, rec.Total, rec.Success, elapsed))
}

func (s *Service) handleSettings(c tele.Context) error {
	userID := c.Sender().ID
	args := c.Args()
	if len(args) == 0 {
		return c.Send(s.settingsSummary(userID))
	}

	key := strings.ToLower(args[0])
	value := strings.Join(args[1:], " ")
	var err error
	switch key {
	case "caption":
		err = s.Prefs.Set(userID, prefs.KeyCaption, value)
	case "tag":
		err = s.Prefs.Set(userID, prefs.KeyRenameTag, value)
	case "delwords":
		err = s.Prefs.Set(userID, prefs.KeyDeleteWords, value)
	case "replace":
		err = s.Prefs.Set(userID, prefs.KeyReplacements, value)
	case "route":
		if value != "" {
			if _, _, ok := parseRoute(value); !ok {
				return c.Send("Route must be <chat_id> or <chat_id>/<topic_id>.")
			}
		}
		err = s.Prefs.Set(userID, prefs.KeyRoute, value)
	case "reset":
		err = s.Prefs.Reset(userID)
	default:
		return c.Send("Unknown setting. Use caption, tag, delwords, replace, route or reset.")
	}
	if err != nil {
		s.Log.Warn("settings update failed", logx.Int64("user_id", userID), logx.Err(err))
		return c.Send("Could not save that setting.")
	}
	return c.Send("Saved.")
}

func (s *Service) settingsSummary(userID int64) string {
	get := func(key string) string {
		if v := s.Prefs.Get(userID, key, ""); v != "" {
			return v
		}
		return "(not set)"
	}
	return strings.TrimSpace(fmt.Sprintf(`
Your settings (change with /settings <name> <value>):
caption: %s
tag: %s
delwords: %s
replace: %s
route: %s
tier: %s`,
		get(prefs.KeyCaption),
		get(prefs.KeyRenameTag),
		get(prefs.KeyDeleteWords),
		get(prefs.KeyReplacements),
		get(prefs.KeyRoute),
		s.Quota.Tier(userID)))
}

func (s *Service) handleSetBot(c tele.Context) error {
	userID := c.Sender().ID
	token := strings.TrimSpace(c.Message().Payload)
	// The message carries a secret; remove it regardless of outcome.
	defer func() { _ = c.Delete() }()

	if s.Creds == nil {
		return c.Send("Credential storage is not configured on this instance.")
	}
	if !looksLikeBotToken(token) {
		return c.Send("Usage: /setbot <bot_token>")
	}
	if err := s.Creds.SaveRelayToken(userID, token); err != nil {
		s.Log.Warn("relay token save failed", logx.Int64("user_id", userID), logx.Err(err))
		return c.Send("Could not store the token.")
	}
	s.Pool.DropUser(userID)
	return c.Send("Relay bot registered. Deliveries now go through it.")
}

func (s *Service) handleSetSession(c tele.Context) error {
	userID := c.Sender().ID
	sess := strings.TrimSpace(c.Message().Payload)
	defer func() { _ = c.Delete() }()

	if s.Creds == nil {
		return c.Send("Credential storage is not configured on this instance.")
	}
	if sess == "" {
		return c.Send("Usage: /setsession <session_string>")
	}
	if err := s.Creds.SaveSession(userID, sess); err != nil {
		s.Log.Warn("session save failed", logx.Int64("user_id", userID), logx.Err(err))
		return c.Send("Could not store the session.")
	}
	s.Pool.DropUser(userID)
	return c.Send("Session registered. Restricted sources are now reachable.")
}

func (s *Service) handleLogout(c tele.Context) error {
	userID := c.Sender().ID
	if s.Creds == nil {
		return c.Send("Credential storage is not configured on this instance.")
	}
	if err := s.Creds.RemoveSession(userID); err != nil {
		s.Log.Warn("session removal failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	if err := s.Creds.RemoveRelayToken(userID); err != nil {
		s.Log.Warn("relay token removal failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	s.Pool.DropUser(userID)
	return c.Send("Stored credentials removed.")
}

func (s *Service) handleGrant(c tele.Context) error {
	if !s.isOwner(c.Sender().ID) {
		return nil
	}
	args := c.Args()
	if len(args) != 2 {
		return c.Send("Usage: /grant <user_id> <days>")
	}
	target, err1 := strconv.ParseInt(args[0], 10, 64)
	days, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || days <= 0 {
		return c.Send("Usage: /grant <user_id> <days>")
	}
	until := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	if err := s.Quota.GrantPremium(target, until); err != nil {
		return c.Send("Could not record the grant.")
	}
	return c.Send(fmt.Sprintf("Premium for %d until %s.", target, until.Format("2006-01-02")))
}

func (s *Service) handleRevoke(c tele.Context) error {
	if !s.isOwner(c.Sender().ID) {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /revoke <user_id>")
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("Usage: /revoke <user_id>")
	}
	if err := s.Quota.RevokePremium(target); err != nil {
		return c.Send("Could not revoke.")
	}
	return c.Send("Revoked.")
}

func (s *Service) isOwner(userID int64) bool {
	for _, id := range s.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Service) ctx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base != nil {
		return s.base
	}
	return context.Background()
}

// Conversation state is handed out by value and written back whole, so
// handlers never mutate shared state outside the lock.
func (s *Service) getConvo(userID int64) (convo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.convos[userID]
	return cv, ok
}

func (s *Service) setConvo(userID int64, cv convo) {
	s.mu.Lock()
	s.convos[userID] = cv
	s.mu.Unlock()
}

func (s *Service) clearConvo(userID int64) {
	s.mu.Lock()
	delete(s.convos, userID)
	s.mu.Unlock()
}

func looksLikeBotToken(token string) bool {
	id, rest, ok := strings.Cut(token, ":")
	if !ok || len(rest) < 30 {
		return false
	}
	_, err := strconv.ParseInt(id, 10, 64)
	return err == nil
}

func parseRoute(value string) (int64, int, bool) {
	chatPart, replyPart, hasReply := strings.Cut(value, "/")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, false
	}
	replyTo := 0
	if hasReply {
		replyTo, err = strconv.Atoi(strings.TrimSpace(replyPart))
		if err != nil || replyTo < 0 {
			return 0, 0, false
		}
	}
	return chatID, replyTo, true
}
