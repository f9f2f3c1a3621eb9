package platform

import "strconv"

// MediaKind tags the content variant carried by an Item.
// The transfer engine dispatches on this tag; each kind declares the
// upload parameters it needs explicitly (see Upload).
type MediaKind int

const (
	KindNone MediaKind = iota
	KindText
	KindPhoto
	KindVideo
	KindVideoNote
	KindVoice
	KindAudio
	KindSticker
	KindDocument
)

func (k MediaKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindVideoNote:
		return "video_note"
	case KindVoice:
		return "voice"
	case KindAudio:
		return "audio"
	case KindSticker:
		return "sticker"
	case KindDocument:
		return "document"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// HasMedia reports whether the kind carries a downloadable payload.
func (k MediaKind) HasMedia() bool {
	return k != KindNone && k != KindText
}

// ChatRef identifies a source chat.
// Exactly one of ID / Alias / Invite is expected to be set for an
// unresolved reference; ResolveChat may fill in ID.
type ChatRef struct {
	ID     int64  // numeric chat id, 0 if unresolved
	Alias  string // public username, without '@'
	Invite string // invite code from a private join link
}

func (r ChatRef) IsZero() bool { return r.ID == 0 && r.Alias == "" && r.Invite == "" }

// Key returns a stable map key for the reference.
func (r ChatRef) Key() string {
	if r.ID != 0 {
		return strconv.FormatInt(r.ID, 10)
	}
	if r.Alias != "" {
		return "@" + r.Alias
	}
	return "+" + r.Invite
}

// Dest is a delivery target: a chat, optionally threaded under a message.
type Dest struct {
	ChatID  int64
	ReplyTo int
}

// Item is one fetched source message in platform-neutral form.
//
// Empty marks the platform's placeholder result (the message exists but
// the client has no access to its content) - a known symptom of the relay
// not having joined the source.
type Item struct {
	ID   int
	Chat ChatRef
	Kind MediaKind

	Text  string // message text or media caption
	Empty bool

	// Restricted is set when the platform flags the source as
	// forward-protected; direct re-send by reference will not work.
	Restricted bool

	FileRef  string // reusable content reference for direct re-send
	FileName string
	FileSize int64

	Duration  int // seconds, for video/audio/voice
	Width     int
	Height    int
	Performer string
	Title     string
}

// ProgressFunc receives transfer progress in bytes.
type ProgressFunc func(current, total int64)

// Upload carries everything a client needs to deliver a local file.
// Per-kind parameters are explicit rather than probed from the path.
type Upload struct {
	Kind      MediaKind
	Path      string
	FileName  string
	Caption   string
	ThumbPath string

	Duration  int
	Width     int
	Height    int
	Performer string
	Title     string

	Progress ProgressFunc
}
