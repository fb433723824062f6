package chatclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewBackend struct {
	*pagedHistory
	*fakePoster
}

func envelope(t *testing.T, channel, event string, data any) Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Envelope{Channel: channel, Event: event, Data: raw}
}

func TestChatViewRoutesEnvelopes(t *testing.T) {
	presence := &recordedPresence{}
	api := viewBackend{pagedHistory: &pagedHistory{total: 3}, fakePoster: &fakePoster{}}
	v := NewChatView(api, presence, ViewConfig{ChatID: "c1", Self: Profile{ID: "alice"}, PageSize: 10})
	defer v.Close()

	require.NoError(t, v.Open(context.Background()))
	assert.Equal(t, 3, v.Timeline.Len())

	live := NewMessageEvent{ChatID: "c1", Message: Message{ID: "m4", Seq: 4, Sender: &Profile{ID: "bob"}, Content: "yo"}}
	assert.True(t, v.HandleEnvelope(envelope(t, ChatChannel("c1"), EventNewMessage, live)))
	assert.True(t, v.HandleEnvelope(envelope(t, ChatChannel("c1"), EventNewMessage, live)))
	assert.Equal(t, 4, v.Timeline.Len())

	assert.False(t, v.HandleEnvelope(envelope(t, ChatChannel("c2"), EventNewMessage, live)))
	assert.False(t, v.HandleEnvelope(envelope(t, UserChannel("alice"), EventNewMessage, Notification{ChatID: "c1"})))

	assert.True(t, v.HandleEnvelope(envelope(t, ChatChannel("c1"), EventTyping, TypingEvent{UserID: "bob", UserName: "Bob"})))
	assert.Len(t, v.Typing.Active(), 1)
	assert.True(t, v.HandleEnvelope(envelope(t, ChatChannel("c1"), EventStopTyping, TypingEvent{UserID: "bob"})))
	assert.Empty(t, v.Typing.Active())
}

func TestChatViewSendStopsTyping(t *testing.T) {
	presence := &recordedPresence{}
	api := viewBackend{pagedHistory: &pagedHistory{}, fakePoster: &fakePoster{}}
	v := NewChatView(api, presence, ViewConfig{ChatID: "c1", Self: Profile{ID: "alice"}})

	v.Input("h")
	v.Input("hi")
	assert.Equal(t, "hi", v.Sender.Draft())

	_, st, err := v.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.IsType(t, Confirmed{}, st)
	assert.Equal(t, []bool{true, false}, presence.got())
}
