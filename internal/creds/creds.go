// Package creds stores per-user platform credentials at rest: delegate
// session strings and user-registered relay bot tokens.
//
// Secrets are sealed with AES-GCM under a key derived from the configured
// master secret via argon2id. The file on disk never contains plaintext.
package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var ErrNoMasterKey = errors.New("creds: master key is not configured")

const (
	kindSession    = "session"
	kindRelayToken = "relay_token"
)

type sealedRecord struct {
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

type fileFormat struct {
	Salt    []byte                  `json:"salt"`
	Entries map[string]sealedRecord `json:"entries"`
}

// Store is a file-backed credential store. Safe for concurrent use.
type Store struct {
	path string
	key  []byte

	mu      sync.Mutex
	salt    []byte
	entries map[string]sealedRecord
}

// Open loads (or initializes) the sealed credential file. masterKey must
// be non-empty; the argon2id salt is generated once and persisted next to
// the entries.
func Open(path, masterKey string) (*Store, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, ErrNoMasterKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	var ff fileFormat
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &ff); err != nil {
			return nil, fmt.Errorf("creds: corrupt store %s: %w", path, err)
		}
	case os.IsNotExist(err):
		ff.Salt = make([]byte, 16)
		if _, err := rand.Read(ff.Salt); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	if ff.Entries == nil {
		ff.Entries = map[string]sealedRecord{}
	}

	s := &Store{
		path:    path,
		key:     deriveKey([]byte(masterKey), ff.Salt),
		salt:    ff.Salt,
		entries: ff.Entries,
	}
	if os.IsNotExist(err) {
		if ferr := s.flushLocked(); ferr != nil {
			return nil, ferr
		}
	}
	return s, nil
}

func deriveKey(masterKey, salt []byte) []byte {
	return argon2.IDKey(masterKey, salt, 1, 64*1024, 4, 32)
}

// SaveSession seals and persists a delegate session string.
func (s *Store) SaveSession(userID int64, session string) error {
	return s.put(entryKey(kindSession, userID), session)
}

// Session returns the delegate session string, if one is stored.
func (s *Store) Session(userID int64) (string, bool, error) {
	return s.get(entryKey(kindSession, userID))
}

func (s *Store) RemoveSession(userID int64) error {
	return s.remove(entryKey(kindSession, userID))
}

// SaveRelayToken seals and persists a user-registered relay bot token.
func (s *Store) SaveRelayToken(userID int64, token string) error {
	return s.put(entryKey(kindRelayToken, userID), token)
}

func (s *Store) RelayToken(userID int64) (string, bool, error) {
	return s.get(entryKey(kindRelayToken, userID))
}

func (s *Store) RemoveRelayToken(userID int64) error {
	return s.remove(entryKey(kindRelayToken, userID))
}

func (s *Store) put(key, secret string) error {
	rec, err := seal(secret, s.key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = rec
	return s.flushLocked()
}

func (s *Store) get(key string) (string, bool, error) {
	s.mu.Lock()
	rec, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return "", false, nil
	}
	secret, err := open(rec, s.key)
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}

func (s *Store) remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	ff := fileFormat{Salt: s.salt, Entries: s.entries}
	b, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// seal encrypts the secret with AES-GCM under key. A fresh 12-byte nonce
// is generated per call.
func seal(secret string, key []byte) (sealedRecord, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return sealedRecord{}, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return sealedRecord{}, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return sealedRecord{}, err
	}
	return sealedRecord{
		Nonce: nonce,
		Data:  aesgcm.Seal(nil, nonce, []byte(secret), nil),
	}, nil
}

func open(rec sealedRecord, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plain, err := aesgcm.Open(nil, rec.Nonce, rec.Data, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func entryKey(kind string, userID int64) string {
	return kind + ":" + strconv.FormatInt(userID, 10)
}
