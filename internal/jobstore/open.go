package jobstore

import (
	"context"
	"errors"
	"strings"

	logx "relaybot/pkg/logx"
)

// Store is the durable job-record API used by the batch orchestrator.
//
// Records survive process restarts: a job interrupted by termination is
// observable (List) and cleanable on next startup, even though it cannot
// be resumed mid-flight.
type Store interface {
	// Create persists a new record. It fails with ErrJobExists if the
	// user already has one.
	Create(ctx context.Context, rec Record) error
	// Update advances counters. current and success are monotonically
	// non-decreasing and must satisfy success <= current <= total.
	Update(ctx context.Context, userID int64, current, success int) error
	// SetProgressMessage records the status message the orchestrator
	// edits, once it has been posted.
	SetProgressMessage(ctx context.Context, userID int64, msgID int) error
	RequestCancel(ctx context.Context, userID int64) (bool, error)
	IsCancelled(ctx context.Context, userID int64) (bool, error)
	Get(ctx context.Context, userID int64) (Record, bool, error)
	Remove(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown jobstore driver: " + driver)
	}
}
