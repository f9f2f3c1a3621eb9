// Package locator turns user-supplied message references into a typed
// Locator. Parsing is pure: no network, no client state.
package locator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"relaybot/internal/platform"
)

// ErrMalformed is returned for references that match no supported shape.
// Callers must not proceed to fetch on a parse failure.
var ErrMalformed = errors.New("malformed message link")

// Access classifies what kind of session a source needs.
type Access int

const (
	// AccessUnknown: bare numeric references; fetched best-effort via relay.
	AccessUnknown Access = iota
	// AccessOpen: public alias links; readable by the relay client.
	AccessOpen
	// AccessRestricted: private /c/ or invite links; need a delegate session.
	AccessRestricted
)

func (a Access) String() string {
	switch a {
	case AccessOpen:
		return "open"
	case AccessRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// Locator is an immutable parsed reference: where to read, from which
// message number, and what access the read needs.
type Locator struct {
	Chat   platform.ChatRef
	Anchor int
	Access Access
}

// Parse recognizes, in order:
//
//	t.me/c/<internal-id>/[<topic>/]<msg>   private channel (restricted)
//	t.me/+<code>/<msg>                     invite link (restricted)
//	t.me/joinchat/<code>/<msg>             legacy invite link (restricted)
//	t.me/<alias>/[<topic>/]<msg>           public alias (open)
//	<chat-id>/<msg>                        raw numeric pair (unknown)
//
// Scheme and host prefixes (https://, telegram.me, telegram.dog) are
// accepted. Query strings ("?single") are ignored.
func Parse(ref string) (Locator, error) {
	s := strings.TrimSpace(ref)
	if s == "" {
		return Locator{}, fmt.Errorf("%w: empty reference", ErrMalformed)
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")

	if rest, ok := stripHost(s); ok {
		return parseLink(rest)
	}
	return parseNumericPair(s)
}

func stripHost(s string) (string, bool) {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	for _, host := range []string{"t.me/", "telegram.me/", "telegram.dog/"} {
		if strings.HasPrefix(s, host) {
			return strings.TrimPrefix(s, host), true
		}
	}
	return "", false
}

func parseLink(rest string) (Locator, error) {
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return Locator{}, fmt.Errorf("%w: missing message number in %q", ErrMalformed, rest)
	}

	anchor, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || anchor <= 0 {
		return Locator{}, fmt.Errorf("%w: bad message number %q", ErrMalformed, parts[len(parts)-1])
	}

	switch {
	case parts[0] == "c":
		// t.me/c/<internal-id>/[<topic>/]<msg>
		if len(parts) < 3 || len(parts) > 4 {
			return Locator{}, fmt.Errorf("%w: bad private link %q", ErrMalformed, rest)
		}
		internal, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || internal <= 0 {
			return Locator{}, fmt.Errorf("%w: bad chat code %q", ErrMalformed, parts[1])
		}
		return Locator{
			Chat:   platform.ChatRef{ID: channelID(internal)},
			Anchor: anchor,
			Access: AccessRestricted,
		}, nil

	case strings.HasPrefix(parts[0], "+"):
		// t.me/+<code>/<msg>
		code := strings.TrimPrefix(parts[0], "+")
		if code == "" || len(parts) != 2 {
			return Locator{}, fmt.Errorf("%w: bad invite link %q", ErrMalformed, rest)
		}
		return Locator{
			Chat:   platform.ChatRef{Invite: code},
			Anchor: anchor,
			Access: AccessRestricted,
		}, nil

	case parts[0] == "joinchat":
		if len(parts) != 3 || parts[1] == "" {
			return Locator{}, fmt.Errorf("%w: bad invite link %q", ErrMalformed, rest)
		}
		return Locator{
			Chat:   platform.ChatRef{Invite: parts[1]},
			Anchor: anchor,
			Access: AccessRestricted,
		}, nil

	default:
		// t.me/<alias>/[<topic>/]<msg>
		if len(parts) > 3 || !validAlias(parts[0]) {
			return Locator{}, fmt.Errorf("%w: bad alias link %q", ErrMalformed, rest)
		}
		return Locator{
			Chat:   platform.ChatRef{Alias: parts[0]},
			Anchor: anchor,
			Access: AccessOpen,
		}, nil
	}
}

func parseNumericPair(s string) (Locator, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Locator{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || chatID == 0 {
		return Locator{}, fmt.Errorf("%w: bad chat id %q", ErrMalformed, parts[0])
	}
	anchor, err := strconv.Atoi(parts[1])
	if err != nil || anchor <= 0 {
		return Locator{}, fmt.Errorf("%w: bad message number %q", ErrMalformed, parts[1])
	}
	return Locator{
		Chat:   platform.ChatRef{ID: chatID},
		Anchor: anchor,
		Access: AccessUnknown,
	}, nil
}

// channelID maps a bare channel internal id to the canonical marked form.
func channelID(internal int64) int64 {
	return -1_000_000_000_000 - internal
}

func validAlias(s string) bool {
	if len(s) < 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}
