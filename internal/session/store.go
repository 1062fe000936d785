package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps per-session meeting extraction state, keyed by a server-issued
// token. Entries expire after ttl of inactivity so abandoned sessions do not
// accumulate. Extraction state is never shared between tokens.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
}

type entry struct {
	details    MeetingDetails
	lastActive time.Time
}

// NewStore creates a store whose entries expire after ttl of inactivity.
func NewStore(ttl time.Duration) *Store {
	return &Store{entries: make(map[string]*entry), ttl: ttl}
}

// Issue creates a new session and returns its token.
func (s *Store) Issue() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.entries[token] = &entry{lastActive: time.Now()}
	s.mu.Unlock()
	return token
}

// Get returns the current details for a session, touching its activity clock.
func (s *Store) Get(token string) (MeetingDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return MeetingDetails{}, false
	}
	e.lastActive = time.Now()
	return e.details, true
}

// Merge folds newly extracted fields into the session's details and returns
// the merged result. Returns false if the token is unknown or expired.
func (s *Store) Merge(token string, in MeetingDetails) (MeetingDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return MeetingDetails{}, false
	}
	e.details.Merge(in)
	e.lastActive = time.Now()
	return e.details, true
}

// Clear resets a session's details to empty, keeping the session alive.
// Called after a successful booking.
func (s *Store) Clear(token string) {
	s.mu.Lock()
	if e, ok := s.entries[token]; ok {
		e.details = MeetingDetails{}
		e.lastActive = time.Now()
	}
	s.mu.Unlock()
}

// Sweep removes entries idle for longer than the ttl and returns how many
// were evicted.
func (s *Store) Sweep() int {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, e := range s.entries {
		if e.lastActive.Before(cutoff) {
			delete(s.entries, token)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions periodically until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("session: evicted %d idle session(s)", n)
			}
		}
	}
}
