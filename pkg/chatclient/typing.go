package chatclient

import (
	"sort"
	"sync"
	"time"
)

const (
	// TypingIdle is how long after the last keystroke stop-typing is sent.
	TypingIdle = 3 * time.Second
	// typingGrace pads remote expiry for transport delay.
	typingGrace = 2 * time.Second
)

// TypingPublisher broadcasts the local user's presence on a chat channel.
type TypingPublisher interface {
	Typing(chatID string, typing bool) error
}

// TypingNotifier turns keystrokes into typing / stop-typing broadcasts:
// typing on the first keystroke of a burst, stop-typing once the input has
// been idle for the idle timeout.
type TypingNotifier struct {
	pub    TypingPublisher
	chatID string
	idle   time.Duration

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	gen    uint64
}

func NewTypingNotifier(pub TypingPublisher, chatID string, idle time.Duration) *TypingNotifier {
	if idle <= 0 {
		idle = TypingIdle
	}
	return &TypingNotifier{pub: pub, chatID: chatID, idle: idle}
}

// Keystroke marks activity and restarts the idle timer.
func (n *TypingNotifier) Keystroke() {
	n.mu.Lock()
	start := !n.typing
	n.typing = true
	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, func() { n.expire(gen) })
	n.mu.Unlock()

	if start {
		_ = n.pub.Typing(n.chatID, true)
	}
}

// Stop ends a burst early, e.g. after the message was sent.
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	was := n.typing
	n.typing = false
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if was {
		_ = n.pub.Typing(n.chatID, false)
	}
}

// Typing reports whether the local user is currently marked as typing.
func (n *TypingNotifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing
}

func (n *TypingNotifier) expire(gen uint64) {
	n.mu.Lock()
	if gen != n.gen || !n.typing {
		n.mu.Unlock()
		return
	}
	n.typing = false
	n.timer = nil
	n.mu.Unlock()

	_ = n.pub.Typing(n.chatID, false)
}

// TypingSet is the set of remote users currently typing in a chat. Entries
// expire on their own when a stop-typing never arrives.
type TypingSet struct {
	self string
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	users map[string]typingEntry
}

type typingEntry struct {
	name    string
	expires time.Time
}

func NewTypingSet(selfID string) *TypingSet {
	return &TypingSet{
		self:  selfID,
		ttl:   TypingIdle + typingGrace,
		now:   time.Now,
		users: make(map[string]typingEntry),
	}
}

// Apply handles a typing or stop-typing event. Events about the local user
// are ignored. It reports whether the set changed.
func (s *TypingSet) Apply(event string, ev TypingEvent) bool {
	if ev.UserID == "" || ev.UserID == s.self {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event {
	case EventTyping:
		_, had := s.users[ev.UserID]
		s.users[ev.UserID] = typingEntry{name: ev.UserName, expires: s.now().Add(s.ttl)}
		return !had
	case EventStopTyping:
		if _, had := s.users[ev.UserID]; had {
			delete(s.users, ev.UserID)
			return true
		}
	}
	return false
}

// Active returns the users typing right now, sorted by name.
func (s *TypingSet) Active() []TypingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]TypingEvent, 0, len(s.users))
	for id, e := range s.users {
		if !now.Before(e.expires) {
			delete(s.users, id)
			continue
		}
		out = append(out, TypingEvent{UserID: id, UserName: e.name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
