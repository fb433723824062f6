package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePoster stores messages and lets a test run code between the server
// accepting a message and the response reaching the client.
type fakePoster struct {
	mu      sync.Mutex
	seq     int64
	posted  []Message
	err     error
	stored  bool
	onStore func(Message)
}

func (p *fakePoster) SendMessage(_ context.Context, chatID, content, clientID string) (Message, error) {
	p.mu.Lock()
	if p.err != nil && !p.stored {
		err := p.err
		p.mu.Unlock()
		return Message{}, err
	}
	p.seq++
	m := Message{
		ID:       fmt.Sprintf("srv-%d", p.seq),
		ChatID:   chatID,
		Seq:      p.seq,
		Sender:   &Profile{ID: "alice", Name: "Alice"},
		Content:  content,
		ClientID: clientID,
	}
	p.posted = append(p.posted, m)
	hook, err := p.onStore, p.err
	p.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func newSender(p *fakePoster) (*Sender, *Timeline) {
	tl := NewTimeline(0)
	s := NewSender(p, tl, "c1", Profile{ID: "alice", Name: "Alice"})
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("id%d", n)
	}
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s, tl
}

func TestSendConfirmsFromResponse(t *testing.T) {
	p := &fakePoster{}
	s, tl := newSender(p)
	s.SetDraft("hello")

	var seen []Entry
	tl.OnChange(func() {
		if seen == nil {
			seen = tl.Entries()
		}
	})

	tempID, st, err := s.Send(context.Background(), "  hello ")
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.True(t, seen[0].Pending())
	assert.Equal(t, "hello", seen[0].Provisional.Content)

	confirmed, ok := st.(Confirmed)
	require.True(t, ok)
	assert.Equal(t, "srv-1", confirmed.Message.ID)
	assert.Equal(t, st, s.State(tempID))
	assert.Equal(t, []string{"srv-1"}, keys(tl))
	assert.Empty(t, s.Draft())
	assert.Equal(t, p.posted[0].ClientID, confirmed.Message.ClientID)
}

func TestSendChannelEventFirst(t *testing.T) {
	p := &fakePoster{}
	s, tl := newSender(p)
	// The broadcast lands before the HTTP response.
	p.onStore = func(m Message) {
		assert.Equal(t, Replaced, s.HandleMessage(m))
	}

	_, st, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	assert.IsType(t, Confirmed{}, st)
	assert.Equal(t, []string{"srv-1"}, keys(tl))
}

func TestSendResponseFirstThenChannelEvent(t *testing.T) {
	p := &fakePoster{}
	s, tl := newSender(p)

	_, _, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, Duplicate, s.HandleMessage(p.posted[0]))
	assert.Equal(t, []string{"srv-1"}, keys(tl))
}

func TestSendFailureRestoresDraft(t *testing.T) {
	boom := errors.New("network down")
	p := &fakePoster{err: boom}
	s, tl := newSender(p)

	tempID, st, err := s.Send(context.Background(), "draft text ")
	require.ErrorIs(t, err, boom)

	failed, ok := st.(Failed)
	require.True(t, ok)
	assert.Equal(t, "draft text ", failed.Draft)
	assert.Equal(t, "draft text ", s.Draft())
	assert.Zero(t, tl.Len())
	assert.Equal(t, st, s.State(tempID))
}

func TestSendLostResponseAfterChannelConfirm(t *testing.T) {
	p := &fakePoster{err: errors.New("response lost"), stored: true}
	s, tl := newSender(p)
	p.onStore = func(m Message) { s.HandleMessage(m) }

	_, st, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	assert.IsType(t, Confirmed{}, st)
	assert.Equal(t, []string{"srv-1"}, keys(tl))
	assert.Empty(t, s.Draft())
}

func TestSendRejectsBlank(t *testing.T) {
	p := &fakePoster{}
	s, tl := newSender(p)

	_, st, err := s.Send(context.Background(), " \n\t")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.IsType(t, Composing{}, st)
	assert.Zero(t, tl.Len())
	assert.Empty(t, p.posted)
}

func TestForeignMessageDoesNotConfirmOwnSend(t *testing.T) {
	p := &fakePoster{}
	s, tl := newSender(p)

	gate := make(chan struct{})
	p.onStore = func(Message) { <-gate }

	done := make(chan SendState, 1)
	go func() {
		_, st, _ := s.Send(context.Background(), "hi")
		done <- st
	}()
	require.Eventually(t, func() bool { return tl.Len() == 1 }, timeout, tick)

	outcome := s.HandleMessage(Message{ID: "other", Sender: &Profile{ID: "bob"}, Content: "hi", ClientID: "bobs"})
	assert.Equal(t, Appended, outcome)

	close(gate)
	st := <-done
	assert.IsType(t, Confirmed{}, st)
	assert.Len(t, tl.Entries(), 2)
}
