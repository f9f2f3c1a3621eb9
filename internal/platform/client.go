package platform

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the referenced message does not exist
	// or is not visible to the calling client.
	ErrNotFound = errors.New("message not found")

	// ErrUnsupported is returned by factories that cannot build a client
	// of the requested kind (e.g. no MTProto bridge configured).
	ErrUnsupported = errors.New("client kind not supported")
)

// Client is the narrow platform contract the relay core needs.
//
// Implementations wrap a concrete client library (bot-token sessions use
// the telebot adapter); the wire protocol itself is never implemented
// here. All methods take a context and surface platform failures as
// ordinary errors.
type Client interface {
	// Connected reports liveness; the session pool evicts handles that
	// return false.
	Connected(ctx context.Context) bool
	Close() error

	// ResolveChat fills in the numeric id for alias/invite references.
	ResolveChat(ctx context.Context, chat ChatRef) (ChatRef, error)
	// JoinChat joins the referenced chat (used by the empty-result
	// recovery path for open sources).
	JoinChat(ctx context.Context, chat ChatRef) error

	GetMessage(ctx context.Context, chat ChatRef, msgID int) (*Item, error)

	// Download materializes the item's payload under dir and returns the
	// local path.
	Download(ctx context.Context, item *Item, dir string, progress ProgressFunc) (string, error)

	SendText(ctx context.Context, dest Dest, text string) (int, error)
	// SendByRef re-sends media by content reference without re-uploading.
	SendByRef(ctx context.Context, dest Dest, item *Item, caption string) (int, error)
	Upload(ctx context.Context, dest Dest, up Upload) (int, error)
	// Copy re-delivers an existing message (used to move staged oversized
	// payloads from the staging chat to the real destination).
	Copy(ctx context.Context, dest Dest, fromChat int64, msgID int) (int, error)

	// Progress surface plumbing.
	EditText(ctx context.Context, chatID int64, msgID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, msgID int) error
}
