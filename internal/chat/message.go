package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// User is the registry record for a joined connection.
type User struct {
	ConnID   string    `json:"id"`
	Username string    `json:"username"`
	Room     string    `json:"room"`
	Avatar   string    `json:"avatar"`
	JoinedAt time.Time `json:"joined_at"`
}

// Reactions maps a reaction symbol to the usernames that chose it.
type Reactions map[string][]string

func (r Reactions) clone() Reactions {
	out := make(Reactions, len(r))
	for sym, users := range r {
		out[sym] = append(make([]string, 0, len(users)), users...)
	}
	return out
}

// Message is a room broadcast message.
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Room      string    `json:"room"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Reactions Reactions `json:"reactions"`
}

func (m *Message) clone() Message {
	out := *m
	out.Reactions = m.Reactions.clone()
	return out
}

// PrivateMessage is one entry of a direct thread between two usernames.
type PrivateMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	FromAvatar string    `json:"from_avatar"`
	To         string    `json:"to"`
	ToAvatar   string    `json:"to_avatar"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// Envelope is the frame shape in both directions: {"type": ..., "payload": ...}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound intent types.
const (
	IntentJoin               = "join"
	IntentSendMessage        = "send_message"
	IntentTypingStart        = "typing_start"
	IntentTypingStop         = "typing_stop"
	IntentSendPrivateMessage = "send_private_message"
	IntentReactToMessage     = "react_to_message"
	IntentChangeRoom         = "change_room"
	IntentMarkPrivateRead    = "mark_private_read"
	IntentPing               = "ping"
)

// Intent is a decoded client request.
type Intent interface {
	Kind() string
}

type JoinIntent struct {
	Username string `json:"username"`
	Room     string `json:"room,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type SendMessageIntent struct {
	Text string `json:"text"`
}

type TypingStartIntent struct{}

type TypingStopIntent struct{}

type SendPrivateMessageIntent struct {
	ToUsername string `json:"to_username"`
	Text       string `json:"text"`
}

type ReactToMessageIntent struct {
	MessageID string `json:"message_id"`
	Reaction  string `json:"reaction"`
	Room      string `json:"room,omitempty"`
}

type ChangeRoomIntent struct {
	Room string `json:"room"`
}

type MarkPrivateReadIntent struct {
	PeerUsername string `json:"peer_username"`
}

type PingIntent struct{}

func (JoinIntent) Kind() string               { return IntentJoin }
func (SendMessageIntent) Kind() string        { return IntentSendMessage }
func (TypingStartIntent) Kind() string        { return IntentTypingStart }
func (TypingStopIntent) Kind() string         { return IntentTypingStop }
func (SendPrivateMessageIntent) Kind() string { return IntentSendPrivateMessage }
func (ReactToMessageIntent) Kind() string     { return IntentReactToMessage }
func (ChangeRoomIntent) Kind() string         { return IntentChangeRoom }
func (MarkPrivateReadIntent) Kind() string    { return IntentMarkPrivateRead }
func (PingIntent) Kind() string               { return IntentPing }

// ParseIntent decodes one inbound frame. The returned error wraps
// ErrBadRequest or ErrUnknownIntent.
func ParseIntent(data []byte) (Intent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var intent Intent
	switch env.Type {
	case IntentJoin:
		intent = &JoinIntent{}
	case IntentSendMessage:
		intent = &SendMessageIntent{}
	case IntentTypingStart:
		return TypingStartIntent{}, nil
	case IntentTypingStop:
		return TypingStopIntent{}, nil
	case IntentSendPrivateMessage:
		intent = &SendPrivateMessageIntent{}
	case IntentReactToMessage:
		intent = &ReactToMessageIntent{}
	case IntentChangeRoom:
		intent = &ChangeRoomIntent{}
	case IntentMarkPrivateRead:
		intent = &MarkPrivateReadIntent{}
	case IntentPing:
		return PingIntent{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrBadRequest)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, env.Type)
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s needs a payload", ErrBadRequest, env.Type)
	}
	if err := json.Unmarshal(env.Payload, intent); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrBadRequest, env.Type, err)
	}
	return deref(intent), nil
}

// deref turns the pointer used for decoding back into a value intent.
func deref(i Intent) Intent {
	switch v := i.(type) {
	case *JoinIntent:
		return *v
	case *SendMessageIntent:
		return *v
	case *SendPrivateMessageIntent:
		return *v
	case *ReactToMessageIntent:
		return *v
	case *ChangeRoomIntent:
		return *v
	case *MarkPrivateReadIntent:
		return *v
	}
	return i
}

// EncodeIntent builds the frame a client sends for intent.
func EncodeIntent(intent Intent) ([]byte, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: intent.Kind(), Payload: payload})
}
