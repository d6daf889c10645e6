package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// DefaultAvatarURL is used when a user record carries no avatar.
const DefaultAvatarURL = "/static/default-avatar.png"

// Principal is the authenticated user of this client.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Active      bool   `json:"active"`
	Credential  string `json:"credential"`
	Bio         string `json:"bio,omitempty"`
}

func (p Principal) AvatarOrDefault() string {
	if p.AvatarURL == "" {
		return DefaultAvatarURL
	}
	return p.AvatarURL
}

type PeerKind string

const (
	PeerIndividual PeerKind = "individual"
	PeerGroup      PeerKind = "group"
)

// Peer is an addressable chat counterpart: an individual user or a group room.
type Peer struct {
	Kind        PeerKind `json:"kind"`
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	Online      bool     `json:"online,omitempty"`
	MemberIDs   []string `json:"memberIds,omitempty"` // groups only
}

// ConversationKey identifies the conversation a peer selection maps to.
// Individuals converse pairwise, groups by room id, so kind and id are
// enough to key a conversation on this side of the wire.
func (p Peer) ConversationKey() string {
	return string(p.Kind) + ":" + p.ID
}

type MessageState string

const (
	MessagePending   MessageState = "pending"
	MessageConfirmed MessageState = "confirmed"
	MessageFailed    MessageState = "failed"
)

// Sender values for direct conversations. Group messages carry the
// member id of the sender instead.
const (
	SenderSelf  = "self"
	SenderOther = "other"
)

// Message is one entry of the active conversation. A message created
// locally starts in MessagePending under a client-generated TempID and is
// patched to MessageConfirmed when the server acknowledges it; messages
// from history or live push arrive confirmed with a server id.
type Message struct {
	ID           string       `json:"id,omitempty"`
	TempID       string       `json:"tempId,omitempty"`
	Conversation string       `json:"conversation"`
	Sender       string       `json:"sender"`
	Body         string       `json:"body"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	DisplayTime  string       `json:"displayTime"`
	State        MessageState `json:"state"`
}

// Attachment content lives remotely once the server stored it. Before the
// send is acknowledged Data holds the base64 payload and URL is empty.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
}
