// Package realtime runs the websocket side of chat: one Session per
// connection, bridging the pub/sub channels the user is allowed to hear to
// the socket and relaying typing presence back onto chat channels.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/apperr"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/channels"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/metrics"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/pubsub"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit    = 64 * 1024
	readTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	controlQueue = 16
)

// Client frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameTyping      = channels.EventTyping
	FrameStopTyping  = channels.EventStopTyping
	FramePing        = "ping"
)

// Server control events, sent as envelopes next to channel traffic.
const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPong         = "pong"
	EventError        = "error"
)

// ClientFrame is what a client sends over the socket.
type ClientFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId,omitempty"`
}

// ErrorFrame is the payload of an error event.
type ErrorFrame struct {
	Message string `json:"message"`
}

// Access decides who may listen on a chat and how users are named.
type Access interface {
	CanSubscribe(ctx context.Context, chatID, userID string) error
	DisplayName(ctx context.Context, userID string) string
}

type Gateway struct {
	sub    pubsub.Subscriber
	pub    pubsub.Publisher
	access Access
	hub    *Hub
	log    *zap.Logger
}

func NewGateway(broker pubsub.Broker, access Access, hub *Hub, log *zap.Logger) *Gateway {
	if hub == nil {
		hub = NewHub()
	}
	return &Gateway{sub: broker, pub: broker, access: access, hub: hub, log: log}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// Session is one authenticated websocket connection.
type Session struct {
	gw       *Gateway
	conn     *websocket.Conn
	userID   string
	userName string
	log      *zap.Logger

	sub     pubsub.Subscription
	control chan pubsub.Envelope
	cancel  context.CancelFunc

	mu    sync.Mutex
	chats map[string]struct{}

	closeOnce sync.Once
}

// Serve runs the session until the client goes away, the subscription
// ends or ctx is cancelled. It owns conn and closes it.
func (g *Gateway) Serve(ctx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := g.log.With(zap.String("user_id", userID))
	sub, err := g.sub.Subscribe(ctx, channels.User(userID))
	if err != nil {
		log.Error("websocket subscribe failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	s := &Session{
		gw:       g,
		conn:     conn,
		userID:   userID,
		userName: g.access.DisplayName(ctx, userID),
		log:      log,
		sub:      sub,
		control:  make(chan pubsub.Envelope, controlQueue),
		cancel:   cancel,
		chats:    make(map[string]struct{}),
	}
	g.hub.register(s)
	metrics.WebSocketSessions.Inc()
	log.Debug("websocket session opened")

	defer func() {
		g.hub.unregister(s)
		metrics.WebSocketSessions.Dec()
		s.Close()
		log.Debug("websocket session closed")
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx)
	}()
	s.readLoop(ctx)
	cancel()
	<-done
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.sub.Close()
		_ = s.conn.Close()
	})
}

func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("", "Malformed frame")
			continue
		}
		s.handle(ctx, frame)
	}
}

func (s *Session) handle(ctx context.Context, frame ClientFrame) {
	chatID := strings.TrimSpace(frame.ChatID)

	switch frame.Type {
	case FrameSubscribe:
		s.subscribe(ctx, chatID)
	case FrameUnsubscribe:
		s.unsubscribe(ctx, chatID)
	case FrameTyping, FrameStopTyping:
		s.relayTyping(ctx, chatID, frame.Type)
	case FramePing:
		s.sendControl("", EventPong, struct{}{})
	default:
		s.sendError("", "Unknown frame type")
	}
}

func (s *Session) subscribe(ctx context.Context, chatID string) {
	channel := channels.Chat(chatID)
	if chatID == "" {
		s.sendError(channel, "chatId is required")
		return
	}
	if err := s.gw.access.CanSubscribe(ctx, chatID, s.userID); err != nil {
		if apperr.Is(err, apperr.KindInternal) {
			s.log.Error("subscribe access check failed", zap.String("chat_id", chatID), zap.Error(err))
		}
		s.sendError(channel, apperr.PublicMessage(err))
		return
	}
	if err := s.sub.Add(ctx, channel); err != nil {
		s.log.Error("channel subscribe failed", zap.String("chat_id", chatID), zap.Error(err))
		s.sendError(channel, "Subscription failed")
		return
	}
	s.mu.Lock()
	s.chats[chatID] = struct{}{}
	s.mu.Unlock()
	s.sendControl(channel, EventSubscribed, struct{}{})
}

func (s *Session) unsubscribe(ctx context.Context, chatID string) {
	channel := channels.Chat(chatID)
	s.mu.Lock()
	_, ok := s.chats[chatID]
	delete(s.chats, chatID)
	s.mu.Unlock()
	if ok {
		if err := s.sub.Remove(ctx, channel); err != nil {
			s.log.Warn("channel unsubscribe failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	s.sendControl(channel, EventUnsubscribed, struct{}{})
}

// relayTyping republishes presence on the chat channel. The identity comes
// from the session, never from the frame.
func (s *Session) relayTyping(ctx context.Context, chatID, event string) {
	channel := channels.Chat(chatID)
	s.mu.Lock()
	_, ok := s.chats[chatID]
	s.mu.Unlock()
	if !ok {
		s.sendError(channel, "Subscribe to the chat before sending typing events")
		return
	}

	env, err := pubsub.NewEnvelope(channel, event, models.TypingEvent{
		UserID:   s.userID,
		UserName: s.userName,
	})
	if err != nil {
		return
	}
	if err := s.gw.pub.Publish(ctx, env); err != nil {
		s.log.Warn("typing relay failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	metrics.TypingRelayed.Inc()
}

func (s *Session) sendError(channel, message string) {
	s.sendControl(channel, EventError, ErrorFrame{Message: message})
}

// sendControl queues a frame for the writer. A client that does not read
// its control replies loses them.
func (s *Session) sendControl(channel, event string, payload any) {
	env, err := pubsub.NewEnvelope(channel, event, payload)
	if err != nil {
		return
	}
	select {
	case s.control <- env:
	default:
	}
}

// writeLoop is the only writer on the connection.
func (s *Session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case env, ok := <-s.sub.Events():
			if !ok {
				s.Close()
				return
			}
			if err := s.write(env); err != nil {
				s.Close()
				return
			}
		case env := <-s.control:
			if err := s.write(env); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.Close()
				return
			}
		}
	}
}

func (s *Session) write(env pubsub.Envelope) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(env)
}
