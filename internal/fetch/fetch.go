// Package fetch reads source messages under the access policy a locator
// demands. Restricted sources need the user's delegate session; open
// sources go through the relay client with a one-shot delegate
// join-and-refetch recovery when the first read comes back empty.
//
// Fetch never returns an error to the batch loop: anything that prevents
// a read yields a nil item, which the loop records as a skip.
package fetch

import (
	"context"
	"errors"
	"sync"

	"relaybot/internal/locator"
	"relaybot/internal/platform"
	"relaybot/pkg/logx"
)

// ClientSource is the slice of the session pool the fetcher needs.
type ClientSource interface {
	Relay(ctx context.Context, userID int64) (platform.Client, error)
	Delegate(ctx context.Context, userID int64) platform.Client
}

type Fetcher struct {
	pool ClientSource
	log  logx.Logger

	// emptySeen remembers sources whose join-and-refetch recovery already
	// ran and still produced nothing, so the recovery fires once per
	// source per process lifetime.
	mu        sync.Mutex
	emptySeen map[string]bool
}

func New(pool ClientSource, log logx.Logger) *Fetcher {
	return &Fetcher{pool: pool, log: log, emptySeen: map[string]bool{}}
}

// Fetch reads message msgID from the locator's source on behalf of
// userID. A nil result means the message is unavailable to this user
// through any permitted path.
func (f *Fetcher) Fetch(ctx context.Context, userID int64, loc locator.Locator, msgID int) *platform.Item {
	switch loc.Access {
	case locator.AccessRestricted:
		return f.fetchRestricted(ctx, userID, loc.Chat, msgID)
	case locator.AccessOpen:
		return f.fetchOpen(ctx, userID, loc.Chat, msgID)
	default:
		return f.fetchRelayOnly(ctx, userID, loc.Chat, msgID)
	}
}

func (f *Fetcher) fetchRestricted(ctx context.Context, userID int64, chat platform.ChatRef, msgID int) *platform.Item {
	delegate := f.pool.Delegate(ctx, userID)
	if delegate == nil {
		f.log.Debug("restricted source without delegate",
			logx.Int64("user_id", userID), logx.String("chat", chat.Key()))
		return nil
	}
	item, err := delegate.GetMessage(ctx, chat, msgID)
	if err != nil {
		f.logMiss(userID, chat, msgID, err)
		return nil
	}
	return item
}

func (f *Fetcher) fetchOpen(ctx context.Context, userID int64, chat platform.ChatRef, msgID int) *platform.Item {
	relay, err := f.pool.Relay(ctx, userID)
	if err != nil {
		f.logMiss(userID, chat, msgID, err)
		return nil
	}

	item, err := relay.GetMessage(ctx, chat, msgID)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		f.logMiss(userID, chat, msgID, err)
		return nil
	}
	if item != nil && !item.Empty {
		return item
	}

	// Empty or missing: the chat may simply not be joined yet. Relay
	// sessions cannot join on their own, so the recovery runs on the
	// user's delegate, once per source; if the refetch is still empty,
	// remember the source so later items skip straight to nil.
	key := chat.Key()
	f.mu.Lock()
	seen := f.emptySeen[key]
	f.emptySeen[key] = true
	f.mu.Unlock()
	if seen {
		return nil
	}

	delegate := f.pool.Delegate(ctx, userID)
	if delegate == nil {
		f.log.Debug("empty result from open source and no delegate to join with",
			logx.Int64("user_id", userID), logx.String("chat", key), logx.Int("msg_id", msgID))
		return nil
	}

	f.log.Warn("empty result from open source, joining and refetching",
		logx.Int64("user_id", userID), logx.String("chat", key), logx.Int("msg_id", msgID))
	if err := delegate.JoinChat(ctx, chat); err != nil {
		f.logMiss(userID, chat, msgID, err)
		return nil
	}
	item, err = delegate.GetMessage(ctx, chat, msgID)
	if err != nil || item == nil || item.Empty {
		f.logMiss(userID, chat, msgID, err)
		return nil
	}
	f.mu.Lock()
	delete(f.emptySeen, key)
	f.mu.Unlock()
	return item
}

func (f *Fetcher) fetchRelayOnly(ctx context.Context, userID int64, chat platform.ChatRef, msgID int) *platform.Item {
	relay, err := f.pool.Relay(ctx, userID)
	if err != nil {
		f.logMiss(userID, chat, msgID, err)
		return nil
	}
	item, err := relay.GetMessage(ctx, chat, msgID)
	if err != nil {
		f.logMiss(userID, chat, msgID, err)
		return nil
	}
	if item != nil && item.Empty {
		return nil
	}
	return item
}

func (f *Fetcher) logMiss(userID int64, chat platform.ChatRef, msgID int, err error) {
	f.log.Debug("message unavailable",
		logx.Int64("user_id", userID),
		logx.String("chat", chat.Key()),
		logx.Int("msg_id", msgID),
		logx.Err(err))
}
