package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"molva/internal/attach"
	"molva/internal/channel"
	"molva/internal/config"
	"molva/internal/directory"
	"molva/internal/models"
	"molva/internal/msgsync"
	"molva/internal/rest"
	"molva/internal/session"
)

// Notice is a user-visible failure report. Transient notices auto-dismiss
// (a failed history load), persistent ones stay until the condition
// resolves (a broken channel).
type Notice struct {
	Message    string
	Persistent bool
}

// Engine wires the client components together: session supplies identity,
// the directory lists peers, selecting a peer loads history and
// subscribes, sends go optimistic-first through the synchronizer and out
// over the channel. No failure here is fatal; every error degrades one
// view and surfaces as a Notice.
type Engine struct {
	cfg       *config.Config
	session   *session.Store
	api       *rest.Client
	channel   *channel.Client
	directory *directory.Client
	sync      *msgsync.Synchronizer
	resolver  *attach.Resolver

	mu       sync.Mutex
	onNotice func(Notice)
}

func NewEngine(
	cfg *config.Config,
	sess *session.Store,
	api *rest.Client,
	ch *channel.Client,
	dir *directory.Client,
	sy *msgsync.Synchronizer,
	resolver *attach.Resolver,
) *Engine {
	return &Engine{
		cfg:       cfg,
		session:   sess,
		api:       api,
		channel:   ch,
		directory: dir,
		sync:      sy,
		resolver:  resolver,
	}
}

// OnNotice registers the presentation callback for failure reports.
func (e *Engine) OnNotice(fn func(Notice)) {
	e.mu.Lock()
	e.onNotice = fn
	e.mu.Unlock()
}

func (e *Engine) notify(n Notice) {
	e.mu.Lock()
	fn := e.onNotice
	e.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Login authenticates against the remote service, persists the session and
// brings the channel up.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	principal, err := e.api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := e.session.Login(principal); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return e.connect(ctx, principal)
}

// Register creates an account and logs the new principal in.
func (e *Engine) Register(ctx context.Context, username, email, password string) error {
	principal, err := e.api.Register(ctx, username, email, password)
	if err != nil {
		return err
	}
	if err := e.session.Login(principal); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return e.connect(ctx, principal)
}

// Resume restores a persisted session from a previous run and reconnects.
// Returns session.ErrNoSession when there is nothing to resume.
func (e *Engine) Resume(ctx context.Context) error {
	principal, err := e.session.Restore()
	if err != nil {
		return err
	}
	return e.connect(ctx, principal)
}

func (e *Engine) connect(ctx context.Context, principal models.Principal) error {
	if err := e.channel.Open(ctx, principal.Credential); err != nil {
		// The channel surfaces its own reconnect attempts; login itself
		// still succeeded.
		e.notify(Notice{Message: fmt.Sprintf("live connection failed: %v", err), Persistent: true})
	} else {
		e.subscribe()
		e.announcePresence(models.EventMakeActive, principal.Credential)
	}

	if _, err := e.directory.ListPeers(ctx, principal); err != nil {
		e.notify(Notice{Message: "could not load contacts"})
		return err
	}
	return nil
}

// Logout announces inactivity, invalidates the remote credential, tears
// the channel down and clears all local session state atomically.
func (e *Engine) Logout(ctx context.Context) {
	if principal, ok := e.session.Principal(); ok {
		e.announcePresence(models.EventMakeInactive, principal.Credential)
		if err := e.api.Logout(ctx, principal.Credential); err != nil {
			slog.Warn("remote logout failed", "error", err)
		}
	}

	if err := e.channel.Close(); err != nil {
		slog.Warn("channel close failed", "error", err)
	}
	e.sync.Reset()
	e.resolver.InvalidateCache()
	e.directory.SetActivePeer("")
	e.session.Logout()
}

func (e *Engine) announcePresence(event, credential string) {
	if err := e.channel.Publish(event, models.PresencePayload{Credential: credential}, nil); err != nil {
		slog.Warn("presence announcement failed", "event", event, "error", err)
	}
}

// SelectPeer makes the peer's conversation active: the previous collection
// and preview cache are discarded before the history fetch resolves, so a
// stale conversation never flashes.
func (e *Engine) SelectPeer(ctx context.Context, peer models.Peer) error {
	principal, ok := e.session.Principal()
	if !ok {
		return session.ErrNoSession
	}

	e.session.SetActivePeer(&peer)
	e.directory.SetActivePeer(peer.ID)
	e.resolver.InvalidateCache()

	if err := e.sync.LoadHistory(ctx, principal, peer); err != nil {
		e.notify(Notice{Message: fmt.Sprintf("could not load conversation with %s", peer.DisplayName)})
		return err
	}
	return nil
}

// Send encodes the selected files, appends the optimistic message and
// publishes it. Attachment validation failures abort the send before
// anything is transmitted or appended. A publish failure leaves the
// message pending; the ack, when it arrives, confirms it.
func (e *Engine) Send(text string, paths []string) (string, error) {
	principal, ok := e.session.Principal()
	if !ok {
		return "", session.ErrNoSession
	}
	peer, ok := e.session.ActivePeer()
	if !ok {
		return "", msgsync.ErrNoConversation
	}

	attachments := make([]models.Attachment, 0, len(paths))
	for _, path := range paths {
		a, err := e.resolver.EncodeForSend(path)
		if err != nil {
			return "", err
		}
		attachments = append(attachments, a)
	}

	tempID, err := e.sync.ApplyLocalSend(text, attachments)
	if err != nil {
		return "", err
	}

	files := make([]models.FilePayload, len(attachments))
	for i, a := range attachments {
		files[i] = models.FilePayload{FileName: a.Name, FileType: a.MimeType, Data: a.Data}
	}

	ack := func(payload json.RawMessage) {
		var sent models.MessageSentPayload
		if err := json.Unmarshal(payload, &sent); err != nil {
			slog.Warn("malformed send ack", "error", err)
			return
		}
		if sent.TempID == "" {
			sent.TempID = tempID
		}
		e.sync.ApplySendAck(sent.TempID, sent)
	}

	var publishErr error
	if peer.Kind == models.PeerGroup {
		publishErr = e.channel.Publish(models.EventGroupMsg, models.GroupMessagePayload{
			SenderID: principal.ID,
			GroupID:  peer.ID,
			Content:  text,
			Files:    files,
			TempID:   tempID,
		}, ack)
	} else {
		publishErr = e.channel.Publish(models.EventPrivateMsg, models.PrivateMessagePayload{
			SenderID:   principal.ID,
			ReceiverID: peer.ID,
			Content:    text,
			Files:      files,
			TempID:     tempID,
		}, ack)
	}

	if publishErr != nil {
		if errors.Is(publishErr, channel.ErrClosed) {
			// Offline: the message stays pending and goes out after a
			// reconnect resend by the user.
			slog.Warn("send queued while channel is down", "tempId", tempID)
			return tempID, nil
		}
		e.sync.MarkFailed(tempID)
		return tempID, publishErr
	}
	return tempID, nil
}

// CreateRoom asks the server for a new group room. The directory picks the
// room up from the create_room_success event.
func (e *Engine) CreateRoom(name string, memberIDs []string) error {
	principal, ok := e.session.Principal()
	if !ok {
		return session.ErrNoSession
	}
	return e.channel.Publish(models.EventCreateRoom, models.CreateRoomPayload{
		Credential: principal.Credential,
		RoomName:   name,
		MemberIDs:  memberIDs,
	}, nil)
}

// subscribe registers every server-pushed event this client reacts to.
// The channel keeps registrations across reconnects; Close removes them,
// so a fresh login never double-registers.
func (e *Engine) subscribe() {
	e.channel.Subscribe(models.EventNewMessage, e.handlePush)
	e.channel.Subscribe(models.EventNewGroupMessage, e.handlePush)

	e.channel.Subscribe(models.EventStatusUpdated, func(payload json.RawMessage) {
		var status models.StatusUpdatedPayload
		if err := json.Unmarshal(payload, &status); err != nil {
			slog.Warn("malformed status event", "error", err)
			return
		}
		e.directory.OnPresenceChanged(status)
	})

	e.channel.Subscribe(models.EventRoomCreated, func(payload json.RawMessage) {
		var room models.RoomCreatedPayload
		if err := json.Unmarshal(payload, &room); err != nil {
			slog.Warn("malformed room event", "error", err)
			return
		}
		e.directory.OnRoomCreated(room)
	})

	e.channel.Subscribe(models.EventAuthError, func(payload json.RawMessage) {
		e.notify(Notice{Message: "live connection rejected: " + errorMessage(payload), Persistent: true})
	})
	e.channel.Subscribe(models.EventConnError, func(payload json.RawMessage) {
		e.notify(Notice{Message: errorMessage(payload), Persistent: true})
	})
	e.channel.Subscribe(models.EventError, func(payload json.RawMessage) {
		e.notify(Notice{Message: errorMessage(payload)})
	})
}

// handlePush routes a pushed message: appended to the active conversation
// when relevant, otherwise counted as unread for its peer.
func (e *Engine) handlePush(payload json.RawMessage) {
	var msg models.NewMessagePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Warn("malformed message event", "error", err)
		return
	}

	principal, ok := e.session.Principal()
	if !ok {
		return
	}

	if e.sync.ApplyLivePush(principal.ID, msg) {
		return
	}

	// Not the open conversation: bump the unread counter of the peer the
	// message came from.
	switch {
	case msg.GroupID != "":
		e.directory.OnUnreadIncrement(msg.GroupID)
	case msg.ReceiverID == principal.ID:
		e.directory.OnUnreadIncrement(msg.SenderID)
	}
}

func errorMessage(payload json.RawMessage) string {
	var e models.ErrorPayload
	if err := json.Unmarshal(payload, &e); err != nil || e.Message == "" {
		return "live connection error"
	}
	return e.Message
}
