package session

import (
	"errors"
	"testing"

	"molva/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	principal *models.Principal
	saveErr   error
	loadErr   error
	cleared   bool
}

func (f *fakeStorage) SavePrincipal(p models.Principal) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.principal = &p
	return nil
}

func (f *fakeStorage) LoadPrincipal() (models.Principal, error) {
	if f.loadErr != nil {
		return models.Principal{}, f.loadErr
	}
	if f.principal == nil {
		return models.Principal{}, models.ErrNotFound
	}
	return *f.principal, nil
}

func (f *fakeStorage) ClearSession() error {
	f.principal = nil
	f.cleared = true
	return nil
}

func TestRestore_NoSession(t *testing.T) {
	s := NewStore(&fakeStorage{})
	_, err := s.Restore()
	require.ErrorIs(t, err, ErrNoSession)

	_, ok := s.Principal()
	require.False(t, ok)
}

func TestRestore_LoadsPersistedPrincipal(t *testing.T) {
	storage := &fakeStorage{principal: &models.Principal{ID: "u1", Credential: "tok"}}
	s := NewStore(storage)

	p, err := s.Restore()
	require.NoError(t, err)
	require.Equal(t, "u1", p.ID)

	got, ok := s.Principal()
	require.True(t, ok)
	require.Equal(t, "tok", got.Credential)
}

func TestRestore_StorageFailure(t *testing.T) {
	storage := &fakeStorage{loadErr: errors.New("disk gone")}
	s := NewStore(storage)
	_, err := s.Restore()
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoSession)
}

func TestLogin_PersistsAndNotifies(t *testing.T) {
	storage := &fakeStorage{}
	s := NewStore(storage)

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Login(models.Principal{ID: "u1", DisplayName: "alice"}))

	require.NotNil(t, storage.principal)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeLogin, changes[0].Kind)
	require.Equal(t, "u1", changes[0].Principal.ID)
}

func TestLogin_StorageFailureKeepsLoggedOut(t *testing.T) {
	storage := &fakeStorage{saveErr: errors.New("read-only fs")}
	s := NewStore(storage)

	notified := false
	s.OnChange(func(Change) { notified = true })

	require.Error(t, s.Login(models.Principal{ID: "u1"}))
	_, ok := s.Principal()
	require.False(t, ok)
	require.False(t, notified)
}

func TestLogout_ClearsEverything(t *testing.T) {
	storage := &fakeStorage{}
	s := NewStore(storage)
	require.NoError(t, s.Login(models.Principal{ID: "u1"}))
	s.SetActivePeer(&models.Peer{Kind: models.PeerIndividual, ID: "p1"})

	var kinds []ChangeKind
	s.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })

	s.Logout()

	require.True(t, storage.cleared)
	_, ok := s.Principal()
	require.False(t, ok)
	_, ok = s.ActivePeer()
	require.False(t, ok)
	require.Equal(t, []ChangeKind{ChangeLogout}, kinds)
}

func TestSetActivePeer(t *testing.T) {
	s := NewStore(&fakeStorage{})
	require.NoError(t, s.Login(models.Principal{ID: "u1"}))

	var last Change
	s.OnChange(func(c Change) { last = c })

	peer := models.Peer{Kind: models.PeerIndividual, ID: "p1", DisplayName: "Bob"}
	s.SetActivePeer(&peer)

	got, ok := s.ActivePeer()
	require.True(t, ok)
	require.Equal(t, "p1", got.ID)
	require.Equal(t, ChangeActivePeer, last.Kind)
	require.NotNil(t, last.ActivePeer)
	require.Equal(t, "u1", last.Principal.ID)

	// The store keeps its own copy of the selection.
	peer.DisplayName = "mutated"
	got, _ = s.ActivePeer()
	require.Equal(t, "Bob", got.DisplayName)

	s.SetActivePeer(nil)
	_, ok = s.ActivePeer()
	require.False(t, ok)
	require.Nil(t, last.ActivePeer)
}

func TestLogin_ResetsActivePeer(t *testing.T) {
	s := NewStore(&fakeStorage{})
	require.NoError(t, s.Login(models.Principal{ID: "u1"}))
	s.SetActivePeer(&models.Peer{Kind: models.PeerIndividual, ID: "p1"})

	require.NoError(t, s.Login(models.Principal{ID: "u2"}))
	_, ok := s.ActivePeer()
	require.False(t, ok)
}
