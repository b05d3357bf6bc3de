package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	token    smart.StateToken
	consumed bool
}

// MemoryStore is a thread-safe, capacity-bounded Store. When full, the least
// recently issued token is evicted and later reports StatusUnknown.
// Consumed tokens are kept as tombstones until they expire and are swept.
type MemoryStore struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *memoryEntry]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding at most capacity tokens.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	lru, err := simplelru.NewLRU[string, *memoryEntry](capacity, onEvict)
	if err != nil {
		return nil, fmt.Errorf("create state token table: %w", err)
	}
	return &MemoryStore{lru: lru}, nil
}

func onEvict(value string, e *memoryEntry) {
	if e.consumed || e.token.Expired(NowTimeFunc()) {
		return
	}
	log.Warn().
		Str("state", smart.Fingerprint(value)).
		Msg("state token evicted before use, raise STATE_CAPACITY if this repeats")
}

// Save stores a newly issued token
func (s *MemoryStore) Save(_ context.Context, token smart.StateToken) error {
	if token.Value == "" {
		return errors.New("state value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lru.Contains(token.Value) {
		return errors.New("state value already issued")
	}
	s.lru.Add(token.Value, &memoryEntry{token: token})
	return nil
}

// Consume checks and invalidates value in one critical section
func (s *MemoryStore) Consume(_ context.Context, value string, now time.Time) (Status, *smart.StateToken, error) {
	if value == "" {
		return StatusUnknown, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Peek(value)
	if !ok {
		return StatusUnknown, nil, nil
	}
	if e.token.Expired(now) {
		return StatusExpired, nil, nil
	}
	if e.consumed {
		return StatusUnknown, nil, nil
	}
	e.consumed = true

	// Return a copy to prevent external modifications
	token := e.token
	return StatusValid, &token, nil
}

// Sweep removes expired tokens, consumed or not
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.lru.Keys() {
		e, ok := s.lru.Peek(key)
		if ok && e.token.Expired(now) {
			e.consumed = true
			s.lru.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of retained tokens, including tombstones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
