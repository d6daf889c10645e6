package models

// Channel event names, client to server.
const (
	EventAuthenticate = "authenticate"
	EventPrivateMsg   = "private_message"
	EventGroupMsg     = "group_message"
	EventCreateRoom   = "create_room"
	EventMakeActive   = "make_active"
	EventMakeInactive = "make_inactive"
)

// Channel event names, server to client.
const (
	EventAuthSuccess     = "auth_success"
	EventAuthError       = "auth_error"
	EventNewMessage      = "new_message"
	EventNewGroupMessage = "new_group_message"
	EventMessageSent     = "message_sent"
	EventStatusUpdated   = "status_updated"
	EventRoomCreated     = "create_room_success"
	EventError           = "error"
	// EventConnError is synthesized locally by the channel adapter when the
	// transport fails; it never arrives from the server.
	EventConnError = "connection_error"
)

// FilePayload is the wire shape of one attachment, shared by the history
// endpoint and the message events.
type FilePayload struct {
	FileURL  string `json:"file_url,omitempty"`
	FileType string `json:"file_type"`
	FileName string `json:"file_name"`
	Data     string `json:"data,omitempty"`
}

type AuthenticatePayload struct {
	Credential string `json:"credential"`
}

type PrivateMessagePayload struct {
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Content    string        `json:"content"`
	Files      []FilePayload `json:"files,omitempty"`
	TempID     string        `json:"tempId"`
}

type GroupMessagePayload struct {
	SenderID string        `json:"senderId"`
	GroupID  string        `json:"groupId"`
	Content  string        `json:"content"`
	Files    []FilePayload `json:"files,omitempty"`
	TempID   string        `json:"tempId"`
}

type CreateRoomPayload struct {
	Credential string   `json:"credential"`
	RoomName   string   `json:"roomName"`
	MemberIDs  []string `json:"memberIds"`
}

type PresencePayload struct {
	Credential string `json:"credential"`
}

// NewMessagePayload is pushed for both private and group messages; GroupID
// is empty for the private variant, ReceiverID for the group one.
type NewMessagePayload struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId,omitempty"`
	GroupID    string        `json:"groupId,omitempty"`
	Content    string        `json:"content"`
	Files      []FilePayload `json:"files,omitempty"`
	Timestamp  int64         `json:"timestamp"`
}

type MessageSentPayload struct {
	TempID   string   `json:"tempId"`
	ID       string   `json:"id"`
	FileURLs []string `json:"fileUrls,omitempty"`
}

type StatusUpdatedPayload struct {
	UserID string `json:"userId"`
	Active bool   `json:"active"`
}

type RoomCreatedPayload struct {
	RoomID   string   `json:"roomId"`
	RoomName string   `json:"roomName"`
	Members  []string `json:"members"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
