package msgsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"molva/internal/models"
	"molva/internal/rest"

	"github.com/google/uuid"
)

var (
	ErrNoConversation = errors.New("no active conversation")
	ErrEmptyMessage   = errors.New("message needs a body or at least one attachment")
)

const displayTimeLayout = "15:04"

type historyFetcher interface {
	DirectHistory(ctx context.Context, credential, senderID, receiverID string) ([]rest.HistoryRecord, error)
	GroupHistory(ctx context.Context, credential, groupID string) ([]rest.HistoryRecord, error)
}

// Synchronizer reconciles three message sources for the active
// conversation: one full history fetch, locally created optimistic
// messages, and server-pushed live messages. The result is a single
// ordered, deduplicated collection; GroupedView derives the date-bucketed
// presentation from it.
//
// Only the synchronizer mutates the collection. Presentation code reads
// snapshots via Messages and GroupedView.
type Synchronizer struct {
	fetcher historyFetcher

	mu           sync.Mutex
	conversation string // active conversation key, "" when none
	messages     []models.Message
	byID         map[string]int // server id -> index
	pending      map[string]int // temp id -> index

	tempSeq uint64
	now     func() time.Time
}

func New(fetcher historyFetcher) *Synchronizer {
	return &Synchronizer{
		fetcher: fetcher,
		byID:    make(map[string]int),
		pending: make(map[string]int),
		now:     time.Now,
	}
}

// Reset discards the collection. Called on logout and before a new
// conversation is selected, so a stale collection is never shown while the
// next history fetch is in flight.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.conversation = ""
}

// LoadHistory discards the current collection, fetches the full history
// for the peer and replaces the collection with the mapped result. An
// empty history is not an error. A fetch failure leaves the collection
// empty; the caller retries by re-selecting the conversation.
//
// Messages appended concurrently (live pushes, optimistic sends racing the
// fetch) are carried over and the merged collection is re-deduplicated by
// server id, so a push that also appears in the fetched history is kept
// once.
func (s *Synchronizer) LoadHistory(ctx context.Context, principal models.Principal, peer models.Peer) error {
	key := peer.ConversationKey()

	s.mu.Lock()
	s.clearLocked()
	s.conversation = key
	s.mu.Unlock()

	var (
		records []rest.HistoryRecord
		err     error
	)
	if peer.Kind == models.PeerGroup {
		records, err = s.fetcher.GroupHistory(ctx, principal.Credential, peer.ID)
	} else {
		records, err = s.fetcher.DirectHistory(ctx, principal.Credential, principal.ID, peer.ID)
	}
	if err != nil {
		s.mu.Lock()
		if s.conversation == key {
			s.clearLocked()
		}
		s.mu.Unlock()
		return fmt.Errorf("failed to load history: %w", err)
	}

	fetched := make([]models.Message, 0, len(records))
	for _, rec := range records {
		fetched = append(fetched, s.mapHistory(key, principal.ID, peer.Kind, rec))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The active peer changed while the fetch was in flight; this response
	// belongs to a conversation that is no longer shown.
	if s.conversation != key {
		return nil
	}

	carried := s.messages
	s.messages = fetched
	s.reindexLocked()

	for _, m := range carried {
		if m.ID != "" {
			if _, dup := s.byID[m.ID]; dup {
				continue
			}
		}
		s.appendLocked(m)
	}
	return nil
}

// ApplyLivePush maps a pushed message event onto the collection. The
// returned bool reports whether the event belonged to the active
// conversation; irrelevant events are left for the directory's unread
// accounting. The insert is idempotent by server id.
func (s *Synchronizer) ApplyLivePush(selfID string, payload models.NewMessagePayload) bool {
	key := conversationFor(selfID, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" || key != s.conversation {
		return false
	}
	if _, dup := s.byID[payload.ID]; dup {
		return true
	}

	sender := models.SenderOther
	if payload.SenderID == selfID {
		sender = models.SenderSelf
	} else if payload.GroupID != "" {
		sender = payload.SenderID
	}

	ts := time.Unix(payload.Timestamp, 0)
	s.appendLocked(models.Message{
		ID:           payload.ID,
		Conversation: key,
		Sender:       sender,
		Body:         payload.Content,
		Attachments:  mapFiles(payload.Files),
		Timestamp:    ts,
		DisplayTime:  ts.Format(displayTimeLayout),
		State:        models.MessageConfirmed,
	})
	return true
}

// ApplyLocalSend appends an optimistic pending message and returns its
// temporary id for ack correlation. Enforces the invariant that a message
// with an empty body carries at least one attachment.
func (s *Synchronizer) ApplyLocalSend(text string, attachments []models.Attachment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversation == "" {
		return "", ErrNoConversation
	}
	if text == "" && len(attachments) == 0 {
		return "", ErrEmptyMessage
	}

	// Monotonic counter plus a random suffix: two sends in the same
	// instant can never collide.
	s.tempSeq++
	tempID := fmt.Sprintf("tmp-%d-%s", s.tempSeq, uuid.NewString())

	now := s.now()
	s.appendLocked(models.Message{
		TempID:       tempID,
		Conversation: s.conversation,
		Sender:       models.SenderSelf,
		Body:         text,
		Attachments:  attachments,
		Timestamp:    now,
		DisplayTime:  now.Format(displayTimeLayout),
		State:        models.MessagePending,
	})
	return tempID, nil
}

// ApplySendAck patches the pending message identified by tempID with the
// server-confirmed fields: the permanent id and the stored attachment
// URLs. An ack with no matching pending message is dropped silently. If a
// live push already delivered the confirmed message the pending duplicate
// is removed instead of patched.
func (s *Synchronizer) ApplySendAck(tempID string, ack models.MessageSentPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.pending[tempID]
	if !ok {
		return
	}

	if _, dup := s.byID[ack.ID]; dup && ack.ID != "" {
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
		s.reindexLocked()
		return
	}

	msg := &s.messages[idx]
	msg.ID = ack.ID
	msg.State = models.MessageConfirmed
	for i := range msg.Attachments {
		if i < len(ack.FileURLs) {
			msg.Attachments[i].URL = ack.FileURLs[i]
			msg.Attachments[i].Data = ""
		}
	}

	delete(s.pending, tempID)
	if ack.ID != "" {
		s.byID[ack.ID] = idx
	}
}

// MarkFailed flags a pending message whose send errored. The message stays
// visible so the user can see what did not go out.
func (s *Synchronizer) MarkFailed(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.pending[tempID]; ok {
		s.messages[idx].State = models.MessageFailed
	}
}

// Messages returns a snapshot of the collection in order.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Conversation returns the active conversation key.
func (s *Synchronizer) Conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

func (s *Synchronizer) mapHistory(key, selfID string, kind models.PeerKind, rec rest.HistoryRecord) models.Message {
	sender := models.SenderOther
	if rec.SenderID == selfID {
		sender = models.SenderSelf
	} else if kind == models.PeerGroup {
		sender = rec.SenderID
	}

	ts := time.Unix(rec.Timestamp, 0)
	return models.Message{
		ID:           rec.ID,
		Conversation: key,
		Sender:       sender,
		Body:         rec.Content,
		Attachments:  mapFiles(rec.Files),
		Timestamp:    ts,
		DisplayTime:  ts.Format(displayTimeLayout),
		State:        models.MessageConfirmed,
	}
}

func (s *Synchronizer) appendLocked(m models.Message) {
	s.messages = append(s.messages, m)
	idx := len(s.messages) - 1
	if m.ID != "" {
		s.byID[m.ID] = idx
	}
	if m.TempID != "" && m.State == models.MessagePending {
		s.pending[m.TempID] = idx
	}
}

func (s *Synchronizer) clearLocked() {
	s.messages = nil
	s.byID = make(map[string]int)
	s.pending = make(map[string]int)
}

func (s *Synchronizer) reindexLocked() {
	s.byID = make(map[string]int)
	s.pending = make(map[string]int)
	for i, m := range s.messages {
		if m.ID != "" {
			s.byID[m.ID] = i
		}
		if m.TempID != "" && m.State == models.MessagePending {
			s.pending[m.TempID] = i
		}
	}
}

// conversationFor derives the conversation key a pushed message belongs
// to, from this client's point of view.
func conversationFor(selfID string, payload models.NewMessagePayload) string {
	if payload.GroupID != "" {
		return string(models.PeerGroup) + ":" + payload.GroupID
	}

	switch {
	case payload.SenderID == selfID:
		return string(models.PeerIndividual) + ":" + payload.ReceiverID
	case payload.ReceiverID == selfID:
		return string(models.PeerIndividual) + ":" + payload.SenderID
	default:
		// Not addressed to this client at all.
		return ""
	}
}

func mapFiles(files []models.FilePayload) []models.Attachment {
	if len(files) == 0 {
		return nil
	}
	attachments := make([]models.Attachment, len(files))
	for i, f := range files {
		attachments[i] = models.Attachment{
			Name:     f.FileName,
			MimeType: f.FileType,
			URL:      f.FileURL,
		}
	}
	return attachments
}
