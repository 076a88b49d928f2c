// Package session issues player identities and the credentials that bind
// a realtime connection to them.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xjhc/alignment/internal/apperr"
)

var (
	ErrInvalidCredential = apperr.New(apperr.CodeUnauthorized, "invalid session credential")
	ErrExpiredCredential = apperr.New(apperr.CodeUnauthorized, "session credential expired")
)

const credentialBytes = 32

type entry struct {
	hash      []byte
	expiresAt time.Time
}

// Store keeps a bcrypt hash per (lobby, player). Plain credentials are only
// ever returned once, from Issue.
type Store struct {
	mu    sync.RWMutex
	creds map[string]map[string]entry
	cost  int
	ttl   time.Duration
	now   func() time.Time
}

// NewStore returns a store hashing with cost; ttl 0 never expires.
func NewStore(cost int, ttl time.Duration) *Store {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return &Store{
		creds: make(map[string]map[string]entry),
		cost:  cost,
		ttl:   ttl,
		now:   time.Now,
	}
}

// NewID mints an opaque identifier for players and lobbies.
func NewID() string {
	return uuid.NewString()
}

// Issue creates a fresh credential for playerID in lobbyID, replacing any
// previous one.
func (s *Store) Issue(lobbyID, playerID string) (string, error) {
	raw := make([]byte, credentialBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	cred := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(cred), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}

	e := entry{hash: hash}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	players, ok := s.creds[lobbyID]
	if !ok {
		players = make(map[string]entry)
		s.creds[lobbyID] = players
	}
	players[playerID] = e
	return cred, nil
}

// Validate checks credential against the stored hash. The comparison runs
// without holding the lock.
func (s *Store) Validate(lobbyID, playerID, credential string) error {
	s.mu.RLock()
	e, ok := s.creds[lobbyID][playerID]
	s.mu.RUnlock()
	if !ok || credential == "" {
		return ErrInvalidCredential
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		return ErrExpiredCredential
	}
	if err := bcrypt.CompareHashAndPassword(e.hash, []byte(credential)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}

// Revoke drops every credential of lobbyID and reports how many were held.
func (s *Store) Revoke(lobbyID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.creds[lobbyID])
	delete(s.creds, lobbyID)
	return n
}

// Forget drops the credential of one player.
func (s *Store) Forget(lobbyID, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players, ok := s.creds[lobbyID]
	if !ok {
		return
	}
	delete(players, playerID)
	if len(players) == 0 {
		delete(s.creds, lobbyID)
	}
}

// Len reports the number of live credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, players := range s.creds {
		n += len(players)
	}
	return n
}
