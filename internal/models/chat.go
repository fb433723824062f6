package models

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatType is one of general, private or group.
type ChatType string

const (
	ChatTypeGeneral ChatType = "general"
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

func (t ChatType) Valid() bool {
	switch t {
	case ChatTypeGeneral, ChatTypePrivate, ChatTypeGroup:
		return true
	}
	return false
}

// Chat is stored in the "chats" collection. Messages live in their own
// collection keyed by (chat_id, seq); MessageSeq is the last sequence number
// handed out for this chat.
type Chat struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Name          string             `bson:"name"`
	Type          ChatType           `bson:"type"`
	Participants  []string           `bson:"participants"`
	CreatedBy     string             `bson:"created_by,omitempty"`
	IsActive      bool               `bson:"is_active"`
	PairKey       string             `bson:"pair_key,omitempty"`
	MessageSeq    int64              `bson:"message_seq"`
	LastMessageAt *time.Time         `bson:"last_message_at,omitempty"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
}

// HasParticipant reports whether userID is in the participant list.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// CanAccess is the read/write rule for chats: everybody may use a general
// chat, everybody else must be a participant.
func (c *Chat) CanAccess(userID string) bool {
	return c.Type == ChatTypeGeneral || c.HasParticipant(userID)
}

// PairKey identifies the unordered pair of users in a private chat.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// ChatView is a chat with its user references resolved for display.
type ChatView struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         ChatType      `json:"type"`
	Participants []UserProfile `json:"participants"`
	CreatedBy    *UserProfile  `json:"createdBy,omitempty"`
	IsActive     bool          `json:"isActive"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ChatDetail is a chat view together with its newest page of messages.
type ChatDetail struct {
	ChatView
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}
