package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/apperr"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/channels"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/pubsub"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/realtime"
)

type members map[string][]string

func (m members) CanSubscribe(_ context.Context, chatID, userID string) error {
	for _, id := range m[chatID] {
		if id == userID {
			return nil
		}
	}
	return apperr.Forbidden("You are not a participant of this chat")
}

func (m members) DisplayName(_ context.Context, userID string) string {
	return strings.ToUpper(userID[:1]) + userID[1:]
}

type gatewayServer struct {
	broker *pubsub.MemoryBroker
	gw     *realtime.Gateway
	url    string
}

// newGatewayServer runs the real websocket gateway; the bearer token is
// taken as the user id.
func newGatewayServer(t *testing.T) *gatewayServer {
	t.Helper()
	gs := &gatewayServer{broker: pubsub.NewMemoryBroker()}
	gs.gw = realtime.NewGateway(gs.broker, members{"c1": {"alice", "bob"}}, nil, zap.NewNop())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if user == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gs.gw.Serve(r.Context(), conn, user)
	}))
	t.Cleanup(srv.Close)
	gs.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	return gs
}

func (gs *gatewayServer) publish(t *testing.T, channel, event string, data any) {
	t.Helper()
	env, err := pubsub.NewEnvelope(channel, event, data)
	require.NoError(t, err)
	require.NoError(t, gs.broker.Publish(context.Background(), env))
}

func startSubscriber(t *testing.T, gs *gatewayServer, token string) (*Subscriber, chan error) {
	t.Helper()
	sub := NewSubscriber(SubscriberConfig{URL: gs.url, Token: token, MaxBackoff: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sub, done
}

func nextEvent(t *testing.T, sub *Subscriber, event string) Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-sub.Events():
			require.True(t, ok, "events closed")
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s event", event)
		}
	}
}

func TestSubscriberReceivesChatTraffic(t *testing.T) {
	gs := newGatewayServer(t)
	sub, _ := startSubscriber(t, gs, "alice")

	// Recorded offline, sent on connect.
	require.NoError(t, sub.Subscribe("c1"))
	ack := nextEvent(t, sub, realtime.EventSubscribed)
	assert.Equal(t, ChatChannel("c1"), ack.Channel)

	gs.publish(t, channels.Chat("c1"), channels.EventNewMessage, models.NewMessageEvent{ChatID: "c1"})
	env := nextEvent(t, sub, EventNewMessage)
	assert.Equal(t, ChatChannel("c1"), env.Channel)

	gs.publish(t, channels.User("alice"), channels.EventNewMessage, models.MessageNotification{ChatID: "c1", Message: "hi"})
	env = nextEvent(t, sub, EventNewMessage)
	assert.Equal(t, UserChannel("alice"), env.Channel)
	var n Notification
	require.NoError(t, env.Decode(&n))
	assert.Equal(t, "hi", n.Message)
}

func TestSubscriberResubscribesAfterReconnect(t *testing.T) {
	gs := newGatewayServer(t)
	sub, _ := startSubscriber(t, gs, "bob")
	require.NoError(t, sub.Subscribe("c1"))
	nextEvent(t, sub, realtime.EventSubscribed)

	gs.gw.Hub().CloseAll()

	nextEvent(t, sub, realtime.EventSubscribed)
	require.Eventually(t, func() bool {
		return gs.broker.Subscribers(channels.Chat("c1")) == 1
	}, 3*time.Second, tick)
}

func TestSubscriberTypingUsesSessionIdentity(t *testing.T) {
	gs := newGatewayServer(t)
	sub, _ := startSubscriber(t, gs, "alice")
	assert.ErrorIs(t, NewSubscriber(SubscriberConfig{}).Typing("c1", true), ErrNotConnected)

	require.NoError(t, sub.Subscribe("c1"))
	nextEvent(t, sub, realtime.EventSubscribed)

	require.NoError(t, sub.Typing("c1", true))
	env := nextEvent(t, sub, EventTyping)
	var ev TypingEvent
	require.NoError(t, env.Decode(&ev))
	assert.Equal(t, TypingEvent{UserID: "alice", UserName: "Alice"}, ev)

	require.NoError(t, sub.Typing("c1", false))
	nextEvent(t, sub, EventStopTyping)

	require.NoError(t, sub.Unsubscribe("c1"))
	nextEvent(t, sub, realtime.EventUnsubscribed)
}

func TestSubscriberStopsOnRejectedHandshake(t *testing.T) {
	gs := newGatewayServer(t)
	sub := NewSubscriber(SubscriberConfig{URL: gs.url})

	err := sub.Run(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestSubscriberRunEndsWithContext(t *testing.T) {
	gs := newGatewayServer(t)
	sub := NewSubscriber(SubscriberConfig{URL: gs.url, Token: "alice"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	require.Eventually(t, sub.Connected, timeout, tick)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(timeout):
		t.Fatal("Run did not return")
	}
	assert.False(t, sub.Connected())
}
