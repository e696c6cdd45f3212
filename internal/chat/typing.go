package chat

import "sort"

type typingMark struct {
	room string
	seq  uint64 // start order
}

// TypingTracker holds at most one typing mark per connection.
type TypingTracker struct {
	marks map[string]typingMark // connID -> mark
	seq   uint64
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{marks: map[string]typingMark{}}
}

// Start marks connID as typing in room. Repeated starts keep the original
// position in the display order unless the room changed.
func (t *TypingTracker) Start(connID, room string) {
	if m, ok := t.marks[connID]; ok && m.room == room {
		return
	}
	t.seq++
	t.marks[connID] = typingMark{room: room, seq: t.seq}
}

// Stop clears the mark for connID and returns the room it was in.
func (t *TypingTracker) Stop(connID string) (string, bool) {
	m, ok := t.marks[connID]
	if !ok {
		return "", false
	}
	delete(t.marks, connID)
	return m.room, true
}

func (t *TypingTracker) IsTyping(connID string) bool {
	_, ok := t.marks[connID]
	return ok
}

// UsernamesFor resolves the marks in room to usernames through the
// registry. Marks whose connection is gone, or whose user has since moved
// to another room, are skipped rather than reported.
func (t *TypingTracker) UsernamesFor(room string, reg *Registry) []string {
	type entry struct {
		name string
		seq  uint64
	}
	var entries []entry
	for connID, m := range t.marks {
		if m.room != room {
			continue
		}
		u, ok := reg.Lookup(connID)
		if !ok || u.Room != room {
			continue
		}
		entries = append(entries, entry{name: u.Username, seq: m.seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.name)
	}
	return out
}
