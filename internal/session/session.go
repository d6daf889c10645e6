package session

import (
	"errors"
	"log/slog"
	"sync"

	"molva/internal/models"
)

var ErrNoSession = errors.New("no active session")

// ChangeKind tells listeners which part of the session moved.
type ChangeKind string

const (
	ChangeLogin      ChangeKind = "login"
	ChangeLogout     ChangeKind = "logout"
	ChangeActivePeer ChangeKind = "active_peer"
)

type Change struct {
	Kind       ChangeKind
	Principal  models.Principal
	ActivePeer *models.Peer
}

type sessionStorage interface {
	SavePrincipal(models.Principal) error
	LoadPrincipal() (models.Principal, error)
	ClearSession() error
}

// Store owns the authenticated principal and the active-peer selection.
// The principal is the only piece of state that survives a restart; the
// active peer is session-local.
type Store struct {
	mu        sync.RWMutex
	storage   sessionStorage
	principal *models.Principal
	active    *models.Peer
	listeners []func(Change)
}

func NewStore(storage sessionStorage) *Store {
	return &Store{storage: storage}
}

// Restore loads a persisted principal from a previous run. Returns
// ErrNoSession when nothing was persisted.
func (s *Store) Restore() (models.Principal, error) {
	p, err := s.storage.LoadPrincipal()
	if errors.Is(err, models.ErrNotFound) {
		return models.Principal{}, ErrNoSession
	}
	if err != nil {
		return models.Principal{}, err
	}

	s.mu.Lock()
	s.principal = &p
	s.mu.Unlock()
	return p, nil
}

func (s *Store) Login(p models.Principal) error {
	if err := s.storage.SavePrincipal(p); err != nil {
		return err
	}

	s.mu.Lock()
	s.principal = &p
	s.active = nil
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeLogin, Principal: p})
	return nil
}

// Logout clears the persisted record and the in-memory session in one go.
// Storage failure is logged but does not keep the user logged in.
func (s *Store) Logout() {
	if err := s.storage.ClearSession(); err != nil {
		slog.Error("failed to clear persisted session", "error", err)
	}

	s.mu.Lock()
	s.principal = nil
	s.active = nil
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeLogout})
}

func (s *Store) Principal() (models.Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return models.Principal{}, false
	}
	return *s.principal, true
}

// SetActivePeer selects the conversation counterpart. Passing nil clears
// the selection.
func (s *Store) SetActivePeer(peer *models.Peer) {
	s.mu.Lock()
	if peer == nil {
		s.active = nil
	} else {
		p := *peer
		s.active = &p
	}
	principal := s.principal
	active := s.active
	s.mu.Unlock()

	change := Change{Kind: ChangeActivePeer, ActivePeer: active}
	if principal != nil {
		change.Principal = *principal
	}
	s.notify(change)
}

func (s *Store) ActivePeer() (models.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return models.Peer{}, false
	}
	return *s.active, true
}

// OnChange registers a listener invoked after every session change.
// Listeners run synchronously on the mutating call, in registration order.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}
