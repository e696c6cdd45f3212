package chat

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// normalizeRoom trims the name, collapses duplicate slashes and drops the
// leading slash, so " /tech " and "tech" address the same room.
func normalizeRoom(room string) string {
	r := strings.TrimSpace(room)
	if r == "" {
		return ""
	}
	r = path.Clean("/" + r)
	return strings.TrimPrefix(r, "/")
}

type room struct {
	name string
	log  []*Message
	byID map[string]*Message
}

// RoomDirectory is the fixed set of rooms, each owning an append-only
// message log. Logs are kept in full for the life of the process; only
// delivery is capped.
type RoomDirectory struct {
	rooms map[string]*room
	order []string
	now   func() time.Time
	newID func() string
}

func NewRoomDirectory(names []string) *RoomDirectory {
	d := &RoomDirectory{
		rooms: make(map[string]*room, len(names)),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, n := range names {
		n = normalizeRoom(n)
		if n == "" || d.rooms[n] != nil {
			continue
		}
		d.rooms[n] = &room{name: n, byID: map[string]*Message{}}
		d.order = append(d.order, n)
	}
	return d
}

// Resolve normalizes name and reports whether it is one of the rooms.
func (d *RoomDirectory) Resolve(name string) (string, bool) {
	n := normalizeRoom(name)
	_, ok := d.rooms[n]
	return n, ok
}

func (d *RoomDirectory) Has(name string) bool {
	_, ok := d.rooms[name]
	return ok
}

// Names returns the rooms in configuration order.
func (d *RoomDirectory) Names() []string {
	return append([]string(nil), d.order...)
}

// Count returns the number of messages stored for name.
func (d *RoomDirectory) Count(name string) int {
	r, ok := d.rooms[name]
	if !ok {
		return 0
	}
	return len(r.log)
}

// Append stores a new message at the tail of the room's log.
func (d *RoomDirectory) Append(name string, author User, text string) (Message, error) {
	r, ok := d.rooms[name]
	if !ok {
		return Message{}, ErrUnknownRoom
	}
	msg := &Message{
		ID:        d.newID(),
		Username:  author.Username,
		Avatar:    author.Avatar,
		Room:      name,
		Text:      text,
		Timestamp: d.now(),
		Reactions: Reactions{},
	}
	r.log = append(r.log, msg)
	r.byID[msg.ID] = msg
	return msg.clone(), nil
}

// Recent returns the last limit messages of the room in arrival order.
// A non-positive limit returns the whole log.
func (d *RoomDirectory) Recent(name string, limit int) []Message {
	r, ok := d.rooms[name]
	if !ok {
		return nil
	}
	start := 0
	if limit > 0 && len(r.log) > limit {
		start = len(r.log) - limit
	}
	out := make([]Message, 0, len(r.log)-start)
	for _, m := range r.log[start:] {
		out = append(out, m.clone())
	}
	return out
}

func (d *RoomDirectory) Find(name, messageID string) (Message, error) {
	r, ok := d.rooms[name]
	if !ok {
		return Message{}, ErrUnknownRoom
	}
	m, ok := r.byID[messageID]
	if !ok {
		return Message{}, ErrUnknownMessage
	}
	return m.clone(), nil
}

// ApplyReaction moves username onto symbol for the message: the user is
// first removed from every symbol on that message, then added to symbol.
// Emptied symbols stay in the map. Returns the full resulting reactions.
func (d *RoomDirectory) ApplyReaction(name, messageID, username, symbol string) (Reactions, error) {
	r, ok := d.rooms[name]
	if !ok {
		return nil, ErrUnknownRoom
	}
	m, ok := r.byID[messageID]
	if !ok {
		return nil, ErrUnknownMessage
	}

	for sym, users := range m.Reactions {
		m.Reactions[sym] = without(users, username)
	}
	m.Reactions[symbol] = append(m.Reactions[symbol], username)
	return m.Reactions.clone(), nil
}

func without(users []string, username string) []string {
	out := users[:0]
	for _, u := range users {
		if u != username {
			out = append(out, u)
		}
	}
	return out
}
