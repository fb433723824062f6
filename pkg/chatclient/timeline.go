package chatclient

import (
	"sync"
	"time"
)

// DefaultRetention is how many entries a Timeline keeps.
const DefaultRetention = 200

// Provisional is a locally synthesized message that the server has not
// confirmed yet.
type Provisional struct {
	TempID    string
	ClientID  string
	Sender    Profile
	Content   string
	CreatedAt time.Time
}

// Entry is one row of the timeline: either an authoritative Message or a
// Provisional, never both.
type Entry struct {
	Message     *Message
	Provisional *Provisional
}

// Key identifies the entry: the server id, or the temp id while pending.
func (e Entry) Key() string {
	if e.Provisional != nil {
		return e.Provisional.TempID
	}
	return e.Message.ID
}

func (e Entry) Pending() bool { return e.Provisional != nil }

// Outcome reports what Reconcile did with an authoritative message.
type Outcome int

const (
	// Duplicate means the message was already in the timeline.
	Duplicate Outcome = iota
	// Appended means no provisional matched and the message was added.
	Appended
	// Replaced means a provisional was swapped for the message in place.
	Replaced
	// Dropped means the message is older than every confirmed entry kept.
	Dropped
)

// Timeline is the in-memory, chronological message log of one chat.
//
// After every insert only the newest Retention entries are kept. A user who
// scrolled far back and then receives many new messages loses the oldest
// loaded window; the next load brings it back.
type Timeline struct {
	mu        sync.RWMutex
	entries   []Entry
	ids       map[string]struct{}
	retention int
	onChange  func()
}

func NewTimeline(retention int) *Timeline {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Timeline{retention: retention, ids: make(map[string]struct{})}
}

// OnChange registers fn to run after every mutation, outside the lock.
func (t *Timeline) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Timeline) notify() {
	t.mu.RLock()
	fn := t.onChange
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Load replaces the confirmed history with msgs (oldest first). Pending
// provisionals survive at the end.
func (t *Timeline) Load(msgs []Message) {
	t.mu.Lock()
	var pending []Entry
	for _, e := range t.entries {
		if e.Pending() {
			pending = append(pending, e)
		}
	}
	t.entries = t.entries[:0]
	t.ids = make(map[string]struct{}, len(msgs))
	for i := range msgs {
		if _, dup := t.ids[msgs[i].ID]; dup {
			continue
		}
		t.push(msgs[i])
	}
	t.entries = append(t.entries, pending...)
	t.trim()
	t.mu.Unlock()
	t.notify()
}

// Prepend inserts an older page (oldest first) in front of the log,
// skipping messages already present. It returns how many are still in the
// log after the retention cap is applied.
func (t *Timeline) Prepend(msgs []Message) int {
	t.mu.Lock()
	older := make([]Entry, 0, len(msgs))
	for i := range msgs {
		if _, dup := t.ids[msgs[i].ID]; dup {
			continue
		}
		m := msgs[i]
		t.ids[m.ID] = struct{}{}
		older = append(older, Entry{Message: &m})
	}
	kept := len(older)
	if kept > 0 {
		if over := kept + len(t.entries) - t.retention; over > 0 {
			kept -= over
		}
		t.entries = append(older, t.entries...)
		t.trim()
	}
	t.mu.Unlock()
	if kept > 0 {
		t.notify()
	}
	return max(kept, 0)
}

// AddProvisional appends a pending entry.
func (t *Timeline) AddProvisional(p Provisional) {
	t.mu.Lock()
	t.entries = append(t.entries, Entry{Provisional: &p})
	t.trim()
	t.mu.Unlock()
	t.notify()
}

// RemoveProvisional drops a pending entry. It reports false when the entry
// is gone, e.g. because it was already confirmed.
func (t *Timeline) RemoveProvisional(tempID string) bool {
	t.mu.Lock()
	idx := t.provisionalIndex(func(p *Provisional) bool { return p.TempID == tempID })
	if idx >= 0 {
		t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	}
	t.mu.Unlock()
	if idx >= 0 {
		t.notify()
	}
	return idx >= 0
}

// Reconcile records an authoritative message. A pending provisional with
// the same client id is replaced in place; when the message carries no
// client id, the oldest provisional from the same sender with exactly the
// same content is. Otherwise the message is inserted in sequence order
// among the confirmed entries. A message already present is ignored, and so
// is one older than the oldest confirmed entry, which is where evicted
// messages land when redelivered. Replacement happens under one lock, so
// readers see either the provisional or the message, never both.
func (t *Timeline) Reconcile(msg Message) (Outcome, string) {
	t.mu.Lock()
	if _, dup := t.ids[msg.ID]; dup {
		t.mu.Unlock()
		return Duplicate, ""
	}

	idx := -1
	if msg.ClientID != "" {
		idx = t.provisionalIndex(func(p *Provisional) bool { return p.ClientID == msg.ClientID })
	} else if sender := msg.SenderID(); sender != "" {
		idx = t.provisionalIndex(func(p *Provisional) bool {
			return p.Sender.ID == sender && p.Content == msg.Content
		})
	}

	outcome, tempID := Appended, ""
	if idx >= 0 {
		tempID = t.entries[idx].Provisional.TempID
		t.entries[idx] = Entry{Message: &msg}
		t.ids[msg.ID] = struct{}{}
		outcome = Replaced
	} else {
		pos, ok := t.insertPos(msg.Seq)
		if !ok {
			t.mu.Unlock()
			return Dropped, ""
		}
		t.entries = append(t.entries, Entry{})
		copy(t.entries[pos+1:], t.entries[pos:])
		t.entries[pos] = Entry{Message: &msg}
		t.ids[msg.ID] = struct{}{}
		t.trim()
	}
	t.mu.Unlock()
	t.notify()
	return outcome, tempID
}

// Entries returns a snapshot of the log, oldest first.
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Contains reports whether a confirmed message with id is in the log.
func (t *Timeline) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

// Oldest returns the oldest confirmed message.
func (t *Timeline) Oldest() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.Message != nil {
			return *e.Message, true
		}
	}
	return Message{}, false
}

func (t *Timeline) push(m Message) {
	t.ids[m.ID] = struct{}{}
	t.entries = append(t.entries, Entry{Message: &m})
}

// insertPos finds where a confirmed message with seq belongs: at the end
// unless a newer confirmed entry is present, in which case right after the
// newest confirmed entry not newer than seq. It reports false when seq is
// older than every confirmed entry. Callers hold the lock.
func (t *Timeline) insertPos(seq int64) (int, bool) {
	if seq <= 0 {
		return len(t.entries), true
	}
	after, newer := -1, false
	for i := len(t.entries) - 1; i >= 0; i-- {
		m := t.entries[i].Message
		if m == nil {
			continue
		}
		if m.Seq <= seq {
			after = i
			break
		}
		newer = true
	}
	switch {
	case !newer:
		return len(t.entries), true
	case after < 0:
		return 0, false
	default:
		return after + 1, true
	}
}

func (t *Timeline) provisionalIndex(match func(*Provisional) bool) int {
	for i, e := range t.entries {
		if e.Provisional != nil && match(e.Provisional) {
			return i
		}
	}
	return -1
}

// trim keeps the newest retention entries. Callers hold the lock.
func (t *Timeline) trim() {
	over := len(t.entries) - t.retention
	if over <= 0 {
		return
	}
	for _, e := range t.entries[:over] {
		if e.Message != nil {
			delete(t.ids, e.Message.ID)
		}
	}
	t.entries = append([]Entry(nil), t.entries[over:]...)
}
