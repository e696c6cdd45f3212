package chat

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// PairKey is the display id of the thread between two usernames: sorted,
// joined with "_". PairKey(a, b) == PairKey(b, a). Names may contain "_",
// so the store keys threads by pair, not by this string.
func PairKey(a, b string) string {
	p := pairOf(a, b)
	return p[0] + "_" + p[1]
}

// pair is two usernames in sorted order.
type pair [2]string

func pairOf(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

type thread struct {
	users pair
	log   []*PrivateMessage
}

// peer returns the other side of the thread, or false if viewer is not in it.
func (t *thread) peer(viewer string) (string, bool) {
	switch viewer {
	case t.users[0]:
		return t.users[1], true
	case t.users[1]:
		return t.users[0], true
	}
	return "", false
}

// ThreadPreview summarizes one private thread from a viewer's side.
type ThreadPreview struct {
	ThreadID string    `json:"thread_id"`
	Peer     string    `json:"peer"`
	LastText string    `json:"last_text"`
	LastTs   time.Time `json:"last_ts"`
	Unread   int       `json:"unread"`
}

// ThreadStore holds every private thread, created lazily on first send.
type ThreadStore struct {
	threads map[pair]*thread
	now     func() time.Time
	newID   func() string
}

func NewThreadStore() *ThreadStore {
	return &ThreadStore{
		threads: map[pair]*thread{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Send appends an unread message from -> to to their shared thread.
func (s *ThreadStore) Send(from, to User, text string) PrivateMessage {
	key := pairOf(from.Username, to.Username)
	t, ok := s.threads[key]
	if !ok {
		t = &thread{users: key}
		s.threads[key] = t
	}
	pm := &PrivateMessage{
		ID:         s.newID(),
		From:       from.Username,
		FromAvatar: from.Avatar,
		To:         to.Username,
		ToAvatar:   to.Avatar,
		Text:       text,
		Timestamp:  s.now(),
	}
	t.log = append(t.log, pm)
	return *pm
}

// MarkRead flags every message peer sent to viewer as read and returns how
// many changed. Messages viewer sent are untouched. A missing thread is a no-op.
func (s *ThreadStore) MarkRead(viewer, peer string) int {
	t, ok := s.threads[pairOf(viewer, peer)]
	if !ok {
		return 0
	}
	n := 0
	for _, pm := range t.log {
		if pm.To == viewer && pm.From == peer && !pm.Read {
			pm.Read = true
			n++
		}
	}
	return n
}

// Thread returns a copy of the thread between a and b, oldest first.
func (s *ThreadStore) Thread(a, b string) []PrivateMessage {
	t, ok := s.threads[pairOf(a, b)]
	if !ok {
		return nil
	}
	out := make([]PrivateMessage, 0, len(t.log))
	for _, pm := range t.log {
		out = append(out, *pm)
	}
	return out
}

// Unread counts messages addressed to viewer that are still unread.
func (s *ThreadStore) Unread(viewer string) int {
	n := 0
	for _, t := range s.threads {
		if _, ok := t.peer(viewer); !ok {
			continue
		}
		for _, pm := range t.log {
			if pm.To == viewer && !pm.Read {
				n++
			}
		}
	}
	return n
}

// Inbox lists viewer's threads, most recent first.
func (s *ThreadStore) Inbox(viewer string) []ThreadPreview {
	out := make([]ThreadPreview, 0)
	for key, t := range s.threads {
		peer, ok := t.peer(viewer)
		if !ok || len(t.log) == 0 {
			continue
		}
		last := t.log[len(t.log)-1]
		p := ThreadPreview{ThreadID: PairKey(key[0], key[1]), Peer: peer, LastText: last.Text, LastTs: last.Timestamp}
		for _, pm := range t.log {
			if pm.To == viewer && !pm.Read {
				p.Unread++
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastTs.Equal(out[j].LastTs) {
			return out[i].LastTs.After(out[j].LastTs)
		}
		return out[i].Peer < out[j].Peer
	})
	return out
}
