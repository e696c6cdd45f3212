package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pelusa-v/pelusa-broker/internal/chat"
)

var errQuit = errors.New("quit")

const usage = `commands:
  <text>                  send to the current room
  /pm <user> <text>       private message
  /room <name>            change room
  /react <id> <emoji>     react to a message in the current room
  /read <user>            mark messages from user as read
  /typing | /stop         typing indicator on / off
  /ping
  /quit`

// parseLine turns one input line into an intent. A nil intent with a nil
// error means there is nothing to send.
func parseLine(line string) (chat.Intent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return chat.SendMessageIntent{Text: line}, nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/pm":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return nil, errors.New("usage: /pm <user> <text>")
		}
		return chat.SendPrivateMessageIntent{ToUsername: to, Text: strings.TrimSpace(text)}, nil
	case "/room":
		if rest == "" {
			return nil, errors.New("usage: /room <name>")
		}
		return chat.ChangeRoomIntent{Room: rest}, nil
	case "/react":
		id, emoji, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(emoji) == "" {
			return nil, errors.New("usage: /react <id> <emoji>")
		}
		return chat.ReactToMessageIntent{MessageID: id, Reaction: strings.TrimSpace(emoji)}, nil
	case "/read":
		if rest == "" {
			return nil, errors.New("usage: /read <user>")
		}
		return chat.MarkPrivateReadIntent{PeerUsername: rest}, nil
	case "/typing":
		return chat.TypingStartIntent{}, nil
	case "/stop":
		return chat.TypingStopIntent{}, nil
	case "/ping":
		return chat.PingIntent{}, nil
	case "/quit", "/exit":
		return nil, errQuit
	case "/help":
		return nil, errors.New(usage)
	default:
		return nil, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// formatEvent renders an outbound frame as one terminal line.
func formatEvent(data []byte) string {
	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "? " + string(data)
	}

	switch env.Type {
	case chat.EventMessageReceived:
		var m chat.Message
		if json.Unmarshal(env.Payload, &m) == nil {
			return fmt.Sprintf("[%s] %s: %s  (%s)", m.Room, m.Username, m.Text, m.ID)
		}
	case chat.EventPrivateMessageReceived:
		var pm chat.PrivateMessage
		if json.Unmarshal(env.Payload, &pm) == nil {
			return fmt.Sprintf("[pm %s -> %s] %s", pm.From, pm.To, pm.Text)
		}
	case chat.EventUserJoined:
		var p chat.UserJoinedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("* %s joined %s", p.User.Username, p.User.Room)
		}
	case chat.EventUserLeft:
		var p chat.UserLeftPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("* %s left %s", p.Username, p.Room)
		}
	case chat.EventRoomSnapshot:
		var p chat.RoomSnapshotPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("* in %s: %d users, %d messages", p.Room, len(p.Users), len(p.Messages))
		}
	case chat.EventTypingUpdated:
		var p chat.TypingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			if len(p.Usernames) == 0 {
				return "* nobody is typing"
			}
			return fmt.Sprintf("* typing: %s", strings.Join(p.Usernames, ", "))
		}
	case chat.EventRejected:
		var p chat.RejectedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("! %s rejected: %s (%s)", p.Intent, p.Message, p.Code)
		}
	case chat.EventPong:
		return "* pong"
	}
	return fmt.Sprintf("%s %s", env.Type, env.Payload)
}
