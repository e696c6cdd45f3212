package chat

import "encoding/json"

// Outbound event types.
const (
	EventUserJoined                 = "user_joined"
	EventUserLeft                   = "user_left"
	EventRoomSnapshot               = "room_snapshot"
	EventPresenceUpdated            = "presence_updated"
	EventMessageReceived            = "message_received"
	EventTypingUpdated              = "typing_updated"
	EventPrivateMessageReceived     = "private_message_received"
	EventPrivateMessageNotification = "private_message_notification"
	EventReactionsUpdated           = "reactions_updated"
	EventRejected                   = "rejected"
	EventPong                       = "pong"
)

// Event is an outbound frame before encoding.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

type UserJoinedPayload struct {
	User  User   `json:"user"`
	Users []User `json:"users"`
}

type UserLeftPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Users    []User `json:"users"`
}

type RoomSnapshotPayload struct {
	Room     string    `json:"room"`
	Users    []User    `json:"users"`
	Messages []Message `json:"messages"`
}

type PresencePayload struct {
	Users []User `json:"users"`
}

type TypingPayload struct {
	Room      string   `json:"room"`
	Usernames []string `json:"usernames"`
}

type PrivateNotificationPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type ReactionsPayload struct {
	MessageID string    `json:"message_id"`
	Room      string    `json:"room"`
	Reactions Reactions `json:"reactions"`
}

type RejectedPayload struct {
	Intent  string `json:"intent"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
