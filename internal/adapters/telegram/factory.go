package telegram

import (
	"context"
	"fmt"
	"time"

	"relaybot/internal/platform"
	"relaybot/pkg/logx"
)

// Factory builds bot-token clients for the session pool. Delegate
// (user-session) clients need an MTProto bridge this adapter does not
// carry, so NewDelegate always refuses; the pool treats that as "no
// privileged access".
type Factory struct {
	pollTimeout time.Duration
	log         logx.Logger
}

func NewFactory(pollTimeout time.Duration, log logx.Logger) *Factory {
	return &Factory{pollTimeout: pollTimeout, log: log}
}

func (f *Factory) NewRelay(ctx context.Context, userID int64, token string) (platform.Client, error) {
	_ = ctx
	c, err := New(Config{Token: token, PollTimeout: f.pollTimeout},
		f.log.With(logx.Int64("relay_user_id", userID)))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (f *Factory) NewDelegate(ctx context.Context, userID int64, session string) (platform.Client, error) {
	_ = ctx
	_ = session
	return nil, fmt.Errorf("%w: delegate sessions need an MTProto bridge (user %d)", platform.ErrUnsupported, userID)
}
