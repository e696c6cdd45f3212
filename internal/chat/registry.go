package chat

import (
	"sort"
	"time"
)

// Registry maps joined connections to their User. It is the source of
// truth for who is online and which room they are in. Not safe for
// concurrent use; the ChatManager serializes access.
type Registry struct {
	users map[string]*User // connID -> user
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		users: map[string]*User{},
		now:   time.Now,
	}
}

// Join creates or overwrites the User for connID. Last join wins.
func (r *Registry) Join(connID, username, room, avatar string) User {
	u := &User{
		ConnID:   connID,
		Username: username,
		Room:     room,
		Avatar:   avatar,
		JoinedAt: r.now(),
	}
	r.users[connID] = u
	return *u
}

// ChangeRoom moves a joined connection to room.
func (r *Registry) ChangeRoom(connID, room string) (User, error) {
	u, ok := r.users[connID]
	if !ok {
		return User{}, ErrUnknownConnection
	}
	u.Room = room
	return *u, nil
}

// Leave removes the User for connID. Removing an absent connection is a no-op.
func (r *Registry) Leave(connID string) (User, bool) {
	u, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	delete(r.users, connID)
	return *u, true
}

func (r *Registry) Lookup(connID string) (User, bool) {
	u, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// LookupByUsername returns the earliest joined connection using username.
// Linear in the number of online users.
func (r *Registry) LookupByUsername(username string) (User, bool) {
	var found *User
	for _, u := range r.users {
		if u.Username != username {
			continue
		}
		if found == nil || before(u, found) {
			found = u
		}
	}
	if found == nil {
		return User{}, false
	}
	return *found, true
}

// MembersOf returns a snapshot of the users in room ordered by join time.
func (r *Registry) MembersOf(room string) []User {
	out := make([]User, 0)
	for _, u := range r.users {
		if u.Room == room {
			out = append(out, *u)
		}
	}
	sortUsers(out)
	return out
}

// All returns every joined user ordered by join time.
func (r *Registry) All() []User {
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sortUsers(out)
	return out
}

func (r *Registry) Len() int {
	return len(r.users)
}

func before(a, b *User) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ConnID < b.ConnID
}

func sortUsers(users []User) {
	sort.Slice(users, func(i, j int) bool { return before(&users[i], &users[j]) })
}
