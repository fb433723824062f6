package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is a single chat message, one document per message in the
// "chat_messages" collection. Seq is strictly increasing within a chat.
// ClientID is the optional idempotency token supplied by the sender and
// echoed back so that clients can reconcile optimistic entries exactly.
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatID    primitive.ObjectID `bson:"chat_id" json:"chatId"`
	Seq       int64              `bson:"seq" json:"seq"`
	SenderID  string             `bson:"sender_id" json:"-"`
	Sender    *UserProfile       `bson:"-" json:"sender"`
	Content   string             `bson:"content" json:"content"`
	ClientID  string             `bson:"client_id,omitempty" json:"clientId,omitempty"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

// MessagePage is one chunk of history, oldest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
	Page     int       `json:"page"`
}
