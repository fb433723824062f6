// Package chatclient is the Go client for the chat backend: a REST client,
// a websocket subscriber, and the client-side protocols layered on top of
// them (paginated timeline with a retention cap, optimistic sends, typing
// presence).
package chatclient

import (
	"encoding/json"
	"time"
)

// Channel event names.
const (
	EventNewMessage = "new-message"
	EventTyping     = "typing"
	EventStopTyping = "stop-typing"
)

type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// DisplayName falls back from name to email to id.
func (p Profile) DisplayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Email != "":
		return p.Email
	}
	return p.ID
}

// Message is an authoritative, stored message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Seq       int64     `json:"seq"`
	Sender    *Profile  `json:"sender"`
	Content   string    `json:"content"`
	ClientID  string    `json:"clientId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SenderID is the id of the author, or "" when the sender is unresolved.
func (m Message) SenderID() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.ID
}

type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Participants []Profile `json:"participants"`
	CreatedBy    *Profile  `json:"createdBy,omitempty"`
	IsActive     bool      `json:"isActive"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ChatDetail is a chat with its newest page of messages.
type ChatDetail struct {
	Chat
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

type CreateChatRequest struct {
	Name         string   `json:"name,omitempty"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

// HistoryPage is one chunk of history, oldest first.
type HistoryPage struct {
	Messages   []Message `json:"messages"`
	Pagination struct {
		HasMore bool `json:"hasMore"`
		Page    int  `json:"page,omitempty"`
	} `json:"pagination"`
}

// Envelope is a frame received from the websocket gateway.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// NewMessageEvent arrives on a chat channel.
type NewMessageEvent struct {
	Message Message `json:"message"`
	ChatID  string  `json:"chatId"`
}

// Notification arrives on the user's personal channel.
type Notification struct {
	SenderName string `json:"senderName"`
	ChatID     string `json:"chatId"`
	ChatName   string `json:"chatName"`
	Message    string `json:"message"`
}

type TypingEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
