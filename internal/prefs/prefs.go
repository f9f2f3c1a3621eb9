// Package prefs stores per-user transfer preferences: destination route,
// rename tag, caption, word filters and thumbnail path.
package prefs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Keys used by the transfer engine and command surface.
const (
	KeyRoute        = "chat_id"           // "chat" or "chat/reply_to"
	KeyRenameTag    = "rename_tag"        // appended to file names
	KeyCaption      = "caption"           // appended to delivered captions
	KeyDeleteWords  = "delete_words"      // space-separated
	KeyReplacements = "replacement_words" // "old=new" pairs, comma-separated
	KeyThumbnail    = "thumbnail"         // local path to a user-set thumbnail
	KeyPremiumUntil = "premium_until"     // RFC3339; managed by quota service
)

// Store is a file-backed per-user key/value store. Safe for concurrent use.
type Store struct {
	path string

	mu    sync.Mutex
	users map[string]map[string]string
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("prefs: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	users := map[string]map[string]string{}
	if b, err := os.ReadFile(path); err == nil {
		if jerr := json.Unmarshal(b, &users); jerr != nil {
			return nil, jerr
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return &Store{path: path, users: users}, nil
}

// Get returns the stored value or def when absent/empty.
func (s *Store) Get(userID int64, key, def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.users[userKey(userID)]; ok {
		if v, ok := m[key]; ok && v != "" {
			return v
		}
	}
	return def
}

func (s *Store) Set(userID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uk := userKey(userID)
	m := s.users[uk]
	if m == nil {
		m = map[string]string{}
		s.users[uk] = m
	}
	if value == "" {
		delete(m, key)
	} else {
		m[key] = value
	}
	return s.flushLocked()
}

// Reset clears all preferences for the user (the /settings reset action).
func (s *Store) Reset(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userKey(userID))
	return s.flushLocked()
}

// Users returns the ids of all users with stored preferences.
func (s *Store) Users() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.users))
	for k := range s.users {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// DeleteWords parses the user's delete-word set.
func (s *Store) DeleteWords(userID int64) []string {
	raw := s.Get(userID, KeyDeleteWords, "")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// Replacements parses the user's replacement map ("old=new" pairs,
// comma-separated). Malformed pairs are skipped.
func (s *Store) Replacements(userID int64) map[string]string {
	raw := s.Get(userID, KeyReplacements, "")
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		old, repl, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || old == "" {
			continue
		}
		out[old] = repl
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Route parses the destination route preference: "chat" or
// "chat/reply_to". ok is false when no valid route is stored.
func (s *Store) Route(userID int64) (chatID int64, replyTo int, ok bool) {
	raw := s.Get(userID, KeyRoute, "")
	if raw == "" {
		return 0, 0, false
	}
	chatPart, replyPart, hasReply := strings.Cut(raw, "/")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, false
	}
	if hasReply {
		replyTo, err = strconv.Atoi(strings.TrimSpace(replyPart))
		if err != nil || replyTo < 0 {
			return 0, 0, false
		}
	}
	return chatID, replyTo, true
}

func (s *Store) flushLocked() error {
	b, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }
