// Package session owns client lifecycle for the relay core: one shared
// relay client for the process, per-user relay clients for registered
// tokens, and per-user delegate clients for stored session strings.
//
// Handles are cached until their liveness probe fails, then rebuilt on
// the next request. A user without a stored session simply has no
// delegate handle; that is not an error.
package session

import (
	"context"
	"sync"

	"relaybot/internal/creds"
	"relaybot/internal/platform"
	"relaybot/pkg/logx"
)

// Factory builds concrete platform clients. The telegram adapter
// implements it for bot-token sessions; delegate construction may return
// platform.ErrUnsupported when no MTProto bridge is available.
type Factory interface {
	NewRelay(ctx context.Context, userID int64, token string) (platform.Client, error)
	NewDelegate(ctx context.Context, userID int64, session string) (platform.Client, error)
}

// Pool hands out clients by user, rebuilding dead handles on demand.
// Safe for concurrent use. A nil credential store means no per-user
// credentials exist: everyone shares the process relay, nobody has a
// delegate.
type Pool struct {
	factory Factory
	creds   *creds.Store
	shared  platform.Client
	log     logx.Logger

	mu        sync.Mutex
	relays    map[int64]platform.Client
	delegates map[int64]platform.Client
}

func NewPool(f Factory, cs *creds.Store, shared platform.Client, log logx.Logger) *Pool {
	return &Pool{
		factory:   f,
		creds:     cs,
		shared:    shared,
		log:       log,
		relays:    map[int64]platform.Client{},
		delegates: map[int64]platform.Client{},
	}
}

// Relay returns the client that performs deliveries for the user: their
// registered relay bot if one is stored, otherwise the shared client.
func (p *Pool) Relay(ctx context.Context, userID int64) (platform.Client, error) {
	if c := p.cached(ctx, p.relays, userID); c != nil {
		return c, nil
	}
	if p.creds == nil {
		return p.shared, nil
	}

	token, ok, err := p.creds.RelayToken(userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return p.shared, nil
	}

	c, err := p.factory.NewRelay(ctx, userID, token)
	if err != nil {
		p.log.Warn("relay client build failed, using shared",
			logx.Int64("user_id", userID), logx.Err(err))
		return p.shared, nil
	}
	p.store(p.relays, userID, c)
	return c, nil
}

// Delegate returns the user's privileged client, or nil when the user
// has no stored session or the session cannot be brought up. Callers
// treat a nil handle as "no privileged access".
func (p *Pool) Delegate(ctx context.Context, userID int64) platform.Client {
	if c := p.cached(ctx, p.delegates, userID); c != nil {
		return c
	}
	if p.creds == nil {
		return nil
	}

	sess, ok, err := p.creds.Session(userID)
	if err != nil || !ok {
		if err != nil {
			p.log.Warn("session lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		}
		return nil
	}

	c, err := p.factory.NewDelegate(ctx, userID, sess)
	if err != nil {
		p.log.Warn("delegate client build failed",
			logx.Int64("user_id", userID), logx.Err(err))
		return nil
	}
	p.store(p.delegates, userID, c)
	return c
}

// DropUser closes and forgets the user's cached handles. Called on
// logout and when credentials change.
func (p *Pool) DropUser(userID int64) {
	p.mu.Lock()
	relay := p.relays[userID]
	delegate := p.delegates[userID]
	delete(p.relays, userID)
	delete(p.delegates, userID)
	p.mu.Unlock()

	if relay != nil {
		_ = relay.Close()
	}
	if delegate != nil {
		_ = delegate.Close()
	}
}

// Close shuts down every cached handle. The shared client is owned by
// the caller and is left alone.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := make([]platform.Client, 0, len(p.relays)+len(p.delegates))
	for _, c := range p.relays {
		clients = append(clients, c)
	}
	for _, c := range p.delegates {
		clients = append(clients, c)
	}
	p.relays = map[int64]platform.Client{}
	p.delegates = map[int64]platform.Client{}
	p.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
}

// cached returns the live cached handle, evicting a dead one.
func (p *Pool) cached(ctx context.Context, cache map[int64]platform.Client, userID int64) platform.Client {
	p.mu.Lock()
	c, ok := cache[userID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if c.Connected(ctx) {
		return c
	}

	p.mu.Lock()
	if cache[userID] == c {
		delete(cache, userID)
	}
	p.mu.Unlock()
	_ = c.Close()
	p.log.Debug("evicted dead client", logx.Int64("user_id", userID))
	return nil
}

func (p *Pool) store(cache map[int64]platform.Client, userID int64, c platform.Client) {
	p.mu.Lock()
	if old, ok := cache[userID]; ok && old != c {
		defer func() { _ = old.Close() }()
	}
	cache[userID] = c
	p.mu.Unlock()
}
