package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"relaybot/internal/platform"
)

const (
	mb100 = 100 << 20
	mb50  = 50 << 20
	mb10  = 10 << 20
)

// progressStep picks how many percent must pass between edits. Larger
// transfers update more often; tiny ones only at the halfway mark.
func progressStep(total int64) int {
	switch {
	case total >= mb100:
		return 10
	case total >= mb50:
		return 20
	case total >= mb10:
		return 30
	default:
		return 50
	}
}

// Reporter throttles transfer progress into edits of a single status
// message. Edit failures are swallowed; progress is cosmetic.
type Reporter struct {
	client platform.Client
	chatID int64
	msgID  int
	label  string

	mu   sync.Mutex
	last int
}

func NewReporter(client platform.Client, chatID int64, msgID int, label string) *Reporter {
	return &Reporter{client: client, chatID: chatID, msgID: msgID, label: label, last: -1}
}

// Func adapts the reporter to the platform callback shape.
func (r *Reporter) Func(ctx context.Context) platform.ProgressFunc {
	if r == nil {
		return nil
	}
	return func(current, total int64) {
		r.report(ctx, current, total)
	}
}

func (r *Reporter) report(ctx context.Context, current, total int64) {
	if total <= 0 {
		return
	}
	pct := int(current * 100 / total)
	step := progressStep(total)

	r.mu.Lock()
	due := (r.last < 0 || pct >= r.last+step || pct >= 99) && pct != r.last
	if due {
		r.last = pct
	}
	r.mu.Unlock()
	if !due {
		return
	}

	text := fmt.Sprintf("%s %d%% (%s / %s)",
		r.label, pct, humanize.Bytes(uint64(current)), humanize.Bytes(uint64(total)))
	_ = r.client.EditText(ctx, r.chatID, r.msgID, text)
}

// Reset rearms the throttle for the next phase of the same transfer.
func (r *Reporter) Reset(label string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.label = label
	r.last = -1
	r.mu.Unlock()
}
