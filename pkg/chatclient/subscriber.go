package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned for frames that only make sense live.
var ErrNotConnected = errors.New("chatclient: websocket not connected")

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"

	subscriberBuffer = 64
	wsWriteTimeout   = 10 * time.Second
)

type frame struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId,omitempty"`
}

type SubscriberConfig struct {
	// URL is the websocket endpoint, e.g. wss://host/ws/chat.
	URL        string
	Token      string
	MaxBackoff time.Duration
	Logger     *zap.Logger
}

// Subscriber keeps a websocket to the gateway open, reconnecting with
// exponential backoff, and re-subscribes to every chat it was asked to
// follow after each reconnect.
type Subscriber struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	maxBackoff time.Duration
	log        *zap.Logger
	events     chan Envelope

	mu    sync.Mutex
	conn  *websocket.Conn
	chats map[string]struct{}

	writeMu sync.Mutex
}

func NewSubscriber(conf SubscriberConfig) *Subscriber {
	header := http.Header{}
	if conf.Token != "" {
		header.Set("Authorization", "Bearer "+conf.Token)
	}
	if conf.MaxBackoff == 0 {
		conf.MaxBackoff = 30 * time.Second
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	return &Subscriber{
		url:        conf.URL,
		header:     header,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		maxBackoff: conf.MaxBackoff,
		log:        conf.Logger,
		events:     make(chan Envelope, subscriberBuffer),
		chats:      make(map[string]struct{}),
	}
}

// Events delivers every envelope the gateway sends, channel traffic and
// control replies alike. It is closed when Run returns.
func (s *Subscriber) Events() <-chan Envelope { return s.events }

// Run connects and keeps the connection alive until ctx is done or the
// server rejects the credentials.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.events)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = s.maxBackoff

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(&APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"})
			}
			return fmt.Errorf("dial: %w", err)
		}
		b.Reset()
		return s.serve(ctx, conn)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debug("websocket reconnecting", zap.Error(err), zap.Duration("in", wait))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

func (s *Subscriber) serve(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	s.conn = conn
	chats := make([]string, 0, len(s.chats))
	for id := range s.chats {
		chats = append(chats, id)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, id := range chats {
		if err := s.write(conn, frame{Type: frameSubscribe, ChatID: id}); err != nil {
			return err
		}
	}

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("read: %w", err)
		}
		select {
		case s.events <- env:
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
	}
}

// Subscribe follows a chat channel. Offline, the request is remembered and
// sent on connect.
func (s *Subscriber) Subscribe(chatID string) error {
	s.mu.Lock()
	s.chats[chatID] = struct{}{}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.write(conn, frame{Type: frameSubscribe, ChatID: chatID})
}

func (s *Subscriber) Unsubscribe(chatID string) error {
	s.mu.Lock()
	delete(s.chats, chatID)
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.write(conn, frame{Type: frameUnsubscribe, ChatID: chatID})
}

// Typing publishes the local user's typing state on a chat. Presence is
// not queued while offline.
func (s *Subscriber) Typing(chatID string, typing bool) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	event := EventStopTyping
	if typing {
		event = EventTyping
	}
	return s.write(conn, frame{Type: event, ChatID: chatID})
}

// Connected reports whether a live connection is up.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Subscriber) write(conn *websocket.Conn, f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(f)
}
