package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"molva/internal/attach"
	"molva/internal/channel"
	"molva/internal/config"
	"molva/internal/directory"
	"molva/internal/models"
	"molva/internal/msgsync"
	"molva/internal/rest"
	"molva/internal/session"
	"molva/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// backend fakes the remote service end to end: the REST endpoints the
// client authenticates and lists against, and the websocket channel.
type backend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	events   []channel.Envelope
	loggedIn bool
}

func newBackend(t *testing.T) *backend {
	b := &backend{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/user/login/", b.handleLogin)
	mux.HandleFunc("/user/logout/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.loggedIn = false
		b.mu.Unlock()
	})
	mux.HandleFunc("/user/get-all-users/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]rest.UserRecord{
			{ID: "me", Username: "alice", IsActive: true},
			{ID: "bob", Username: "bob", IsActive: true},
			{ID: "carol", Username: "carol"},
		})
	})
	mux.HandleFunc("/chat/get-groups/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]rest.GroupRecord{
			{ID: "g1", Name: "lounge", Members: []string{"me", "bob"}},
		})
	})
	mux.HandleFunc("/chat/history/", b.handleHistory)
	mux.HandleFunc("/ws", b.handleWS)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req rest.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "pw" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	b.loggedIn = true
	b.mu.Unlock()
	_ = json.NewEncoder(w).Encode(rest.LoginResponse{
		Token: "tok-1", UserID: "me", Username: "alice", Email: req.Email, IsActive: true,
	})
}

func (b *backend) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("receiverId") == "bob" {
		_ = json.NewEncoder(w).Encode([]rest.HistoryRecord{
			{ID: "h1", Content: "hi alice", SenderID: "bob", Timestamp: 1700000000},
			{ID: "h2", Content: "hi bob", SenderID: "me", Timestamp: 1700000060},
		})
		return
	}
	_ = json.NewEncoder(w).Encode([]rest.HistoryRecord{})
}

func (b *backend) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		var env channel.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		b.mu.Lock()
		b.events = append(b.events, env)
		b.mu.Unlock()

		switch env.Event {
		case models.EventAuthenticate:
			_ = conn.WriteJSON(channel.Envelope{Event: models.EventAuthSuccess})
		case models.EventPrivateMsg:
			var msg models.PrivateMessagePayload
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				continue
			}
			_ = conn.WriteJSON(channel.Envelope{
				Event: models.EventMessageSent,
				AckID: env.AckID,
				Payload: mustJSON(b.t, models.MessageSentPayload{
					TempID: msg.TempID, ID: "srv-1",
				}),
			})
		case models.EventCreateRoom:
			var room models.CreateRoomPayload
			if err := json.Unmarshal(env.Payload, &room); err != nil {
				continue
			}
			_ = conn.WriteJSON(channel.Envelope{
				Event: models.EventRoomCreated,
				Payload: mustJSON(b.t, models.RoomCreatedPayload{
					RoomID: "g2", RoomName: room.RoomName, Members: room.MemberIDs,
				}),
			})
		}
	}
}

func (b *backend) push(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotNil(b.t, b.conn)
	require.NoError(b.t, b.conn.WriteJSON(channel.Envelope{Event: event, Payload: mustJSON(b.t, payload)}))
}

func (b *backend) sawEvent(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, env := range b.events {
		if env.Event == name {
			return true
		}
	}
	return false
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	engine  *Engine
	session *session.Store
	dir     *directory.Client
	sync    *msgsync.Synchronizer
	channel *channel.Client
	store   *storage.BboltStorage
}

func newHarness(t *testing.T, b *backend) *harness {
	t.Helper()
	cfg := &config.Config{
		APIBaseURL:        b.srv.URL,
		ChannelURL:        "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws",
		MaxAttachmentSize: attach.DefaultMaxSize,
		ReconnectAttempts: 2,
		ReconnectDelay:    20 * time.Millisecond,
		RequestTimeout:    5 * time.Second,
	}

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	api := rest.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
	ch := channel.NewClient(channel.Config{
		URL:               cfg.ChannelURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	})
	sess := session.NewStore(store)
	dir := directory.NewClient(api, store)
	sy := msgsync.New(api)
	resolver := attach.NewResolver(api, cfg.MaxAttachmentSize)

	return &harness{
		engine:  NewEngine(cfg, sess, api, ch, dir, sy, resolver),
		session: sess,
		dir:     dir,
		sync:    sy,
		channel: ch,
		store:   store,
	}
}

func TestEngine_FullSession(t *testing.T) {
	b := newBackend(t)
	h := newHarness(t, b)
	ctx := context.Background()

	// 1. Log in: identity established, channel up, peers listed.
	require.NoError(t, h.engine.Login(ctx, "alice@example.com", "pw"))
	t.Cleanup(func() { _ = h.channel.Close() })

	principal, ok := h.session.Principal()
	require.True(t, ok)
	require.Equal(t, "me", principal.ID)
	waitFor(t, h.channel.Authenticated, "channel handshake")
	waitFor(t, func() bool { return b.sawEvent(models.EventMakeActive) }, "presence announcement")

	peers := h.dir.Peers()
	require.Len(t, peers, 3, "self excluded, bob + carol + lounge remain")

	// 2. Open the conversation with bob: history lands.
	bob, ok := h.dir.Peer("bob")
	require.True(t, ok)
	require.NoError(t, h.engine.SelectPeer(ctx, bob))
	require.Equal(t, "individual:bob", h.sync.Conversation())
	require.Len(t, h.sync.Messages(), 2)

	// 3. Send a message: optimistic append, then the ack confirms it.
	tempID, err := h.engine.Send("hello bob", nil)
	require.NoError(t, err)
	require.NotEmpty(t, tempID)

	waitFor(t, func() bool {
		msgs := h.sync.Messages()
		return len(msgs) == 3 && msgs[2].State == models.MessageConfirmed
	}, "send ack")
	require.Equal(t, "srv-1", h.sync.Messages()[2].ID)

	// 4. A push for the open conversation appends; one from elsewhere only
	// bumps the unread counter.
	b.push(models.EventNewMessage, models.NewMessagePayload{
		ID: "srv-2", SenderID: "bob", ReceiverID: "me", Content: "got it", Timestamp: 1700000300,
	})
	waitFor(t, func() bool { return len(h.sync.Messages()) == 4 }, "live append")

	b.push(models.EventNewMessage, models.NewMessagePayload{
		ID: "srv-3", SenderID: "carol", ReceiverID: "me", Content: "psst", Timestamp: 1700000400,
	})
	waitFor(t, func() bool { return h.dir.Unread("carol") == 1 }, "unread bump")
	require.Len(t, h.sync.Messages(), 4, "foreign push never lands in the open conversation")

	// 5. Presence and room events patch the directory.
	b.push(models.EventStatusUpdated, models.StatusUpdatedPayload{UserID: "bob", Active: false})
	waitFor(t, func() bool {
		p, ok := h.dir.Peer("bob")
		return ok && !p.Online
	}, "presence patch")

	require.NoError(t, h.engine.CreateRoom("standup", []string{"me", "carol"}))
	waitFor(t, func() bool {
		_, ok := h.dir.Peer("g2")
		return ok
	}, "room creation round trip")

	// 6. Logout: remote credential invalidated, local state wiped.
	h.engine.Logout(ctx)
	waitFor(t, func() bool { return b.sawEvent(models.EventMakeInactive) }, "inactive announcement")

	_, ok = h.session.Principal()
	require.False(t, ok)
	require.Empty(t, h.sync.Messages())
	_, err = h.store.LoadPrincipal()
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestEngine_ResumeFromPersistedSession(t *testing.T) {
	b := newBackend(t)
	h := newHarness(t, b)
	ctx := context.Background()

	require.ErrorIs(t, h.engine.Resume(ctx), session.ErrNoSession)

	// Persist a principal the way a previous run would have.
	require.NoError(t, h.store.SavePrincipal(models.Principal{
		ID: "me", DisplayName: "alice", Credential: "tok-1",
	}))

	require.NoError(t, h.engine.Resume(ctx))
	t.Cleanup(func() { _ = h.channel.Close() })

	principal, ok := h.session.Principal()
	require.True(t, ok)
	require.Equal(t, "me", principal.ID)
	waitFor(t, h.channel.Authenticated, "channel handshake")
	require.NotEmpty(t, h.dir.Peers())
}

func TestEngine_SendRequiresConversation(t *testing.T) {
	b := newBackend(t)
	h := newHarness(t, b)

	_, err := h.engine.Send("hi", nil)
	require.ErrorIs(t, err, session.ErrNoSession)

	require.NoError(t, h.engine.Login(context.Background(), "alice@example.com", "pw"))
	t.Cleanup(func() { _ = h.channel.Close() })

	_, err = h.engine.Send("hi", nil)
	require.ErrorIs(t, err, msgsync.ErrNoConversation)
}

func TestEngine_LoginFailure(t *testing.T) {
	b := newBackend(t)
	h := newHarness(t, b)

	require.Error(t, h.engine.Login(context.Background(), "alice@example.com", "wrong"))
	_, ok := h.session.Principal()
	require.False(t, ok)
}
