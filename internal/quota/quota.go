// Package quota answers "what tier is this user, and how many items may a
// batch carry". Premium grants live in the preference store with an
// expiry; the janitor sweeps expired grants.
package quota

import (
	"sync"
	"time"

	"relaybot/internal/prefs"
)

type Tier int

const (
	TierFree Tier = iota
	TierPremium
)

func (t Tier) String() string {
	if t == TierPremium {
		return "premium"
	}
	return "free"
}

type Service struct {
	prefs *prefs.Store

	mu      sync.Mutex
	free    int
	premium int

	now func() time.Time // test hook
}

func New(p *prefs.Store, freeLimit, premiumLimit int) *Service {
	return &Service{prefs: p, free: freeLimit, premium: premiumLimit, now: time.Now}
}

// Apply updates the per-tier ceilings (config hot reload).
func (s *Service) Apply(freeLimit, premiumLimit int) {
	s.mu.Lock()
	s.free = freeLimit
	s.premium = premiumLimit
	s.mu.Unlock()
}

// Tier reports the user's current tier. A premium grant counts only while
// its expiry is in the future.
func (s *Service) Tier(userID int64) Tier {
	raw := s.prefs.Get(userID, prefs.KeyPremiumUntil, "")
	if raw == "" {
		return TierFree
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil || !until.After(s.now()) {
		return TierFree
	}
	return TierPremium
}

// Ceiling returns the max batch size for the tier. Zero means the tier
// may not start jobs at all.
func (s *Service) Ceiling(t Tier) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == TierPremium {
		return s.premium
	}
	return s.free
}

// GrantPremium records a premium grant until the given time.
func (s *Service) GrantPremium(userID int64, until time.Time) error {
	return s.prefs.Set(userID, prefs.KeyPremiumUntil, until.Format(time.RFC3339))
}

// RevokePremium removes any grant.
func (s *Service) RevokePremium(userID int64) error {
	return s.prefs.Set(userID, prefs.KeyPremiumUntil, "")
}

// SweepExpired clears grants whose expiry has passed and returns how many
// were removed.
func (s *Service) SweepExpired() int {
	removed := 0
	for _, id := range s.prefs.Users() {
		raw := s.prefs.Get(id, prefs.KeyPremiumUntil, "")
		if raw == "" {
			continue
		}
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil || !until.After(s.now()) {
			if s.prefs.Set(id, prefs.KeyPremiumUntil, "") == nil {
				removed++
			}
		}
	}
	return removed
}
