package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyMessage is returned for drafts that are blank after trimming.
var ErrEmptyMessage = errors.New("chatclient: message is empty")

// MessagePoster stores a message on the server.
type MessagePoster interface {
	SendMessage(ctx context.Context, chatID, content, clientID string) (Message, error)
}

// SendState is the lifecycle of one outgoing message:
// Composing -> Pending -> Confirmed | Failed.
type SendState interface {
	sendState()
}

type Composing struct {
	Draft string
}

type Pending struct {
	TempID   string
	ClientID string
	Content  string
}

type Confirmed struct {
	Message Message
}

type Failed struct {
	Draft string
	Err   error
}

func (Composing) sendState() {}
func (Pending) sendState()   {}
func (Confirmed) sendState() {}
func (Failed) sendState()    {}

// Sender runs optimistic sends for one chat. The provisional entry is shown
// at once; whichever of the HTTP response and the channel event arrives
// first confirms it, the other is a no-op.
type Sender struct {
	api      MessagePoster
	timeline *Timeline
	chatID   string
	self     Profile
	now      func() time.Time
	newID    func() string

	mu     sync.Mutex
	draft  string
	states map[string]SendState
}

func NewSender(api MessagePoster, timeline *Timeline, chatID string, self Profile) *Sender {
	return &Sender{
		api:      api,
		timeline: timeline,
		chatID:   chatID,
		self:     self,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		states:   make(map[string]SendState),
	}
}

func (s *Sender) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Draft is the compose buffer. A failed send restores its text here.
func (s *Sender) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Send submits text. It blocks for the HTTP round trip and returns the
// temp id of the provisional entry along with the final state.
func (s *Sender) Send(ctx context.Context, text string) (string, SendState, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return "", Composing{Draft: text}, ErrEmptyMessage
	}

	p := Provisional{
		TempID:    "tmp-" + s.newID(),
		ClientID:  s.newID(),
		Sender:    s.self,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.draft = ""
	s.states[p.TempID] = Pending{TempID: p.TempID, ClientID: p.ClientID, Content: content}
	s.mu.Unlock()
	s.timeline.AddProvisional(p)

	msg, err := s.api.SendMessage(ctx, s.chatID, content, p.ClientID)
	if err != nil {
		// The channel event may have confirmed it already, e.g. when only
		// the response was lost.
		if !s.timeline.RemoveProvisional(p.TempID) {
			if st, ok := s.State(p.TempID).(Confirmed); ok {
				return p.TempID, st, nil
			}
		}
		failed := Failed{Draft: text, Err: err}
		s.mu.Lock()
		s.states[p.TempID] = failed
		s.draft = text
		s.mu.Unlock()
		return p.TempID, failed, err
	}

	s.HandleMessage(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, still := s.states[p.TempID].(Pending); still {
		s.states[p.TempID] = Confirmed{Message: msg}
	}
	return p.TempID, s.states[p.TempID], nil
}

// HandleMessage feeds an authoritative message, from the channel or an
// HTTP response, into the timeline and confirms the send it matches.
func (s *Sender) HandleMessage(msg Message) Outcome {
	outcome, tempID := s.timeline.Reconcile(msg)
	if outcome == Replaced {
		s.mu.Lock()
		if _, ours := s.states[tempID]; ours {
			s.states[tempID] = Confirmed{Message: msg}
		}
		s.mu.Unlock()
	}
	return outcome
}

// State returns the state of the send with tempID; unknown ids are
// Composing.
func (s *Sender) State(tempID string) SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[tempID]; ok {
		return st
	}
	return Composing{Draft: s.draft}
}
