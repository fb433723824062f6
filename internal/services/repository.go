package services

import (
	"context"
	"errors"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned by repositories when no document matches.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when a unique index rejects a write.
	ErrDuplicate = errors.New("duplicate key")
)

// ChatRepository is the persistence contract of the message store. Message
// slices are always returned oldest first.
type ChatRepository interface {
	InsertChat(ctx context.Context, chat *models.Chat) error
	FindChat(ctx context.Context, id primitive.ObjectID) (*models.Chat, error)
	FindGeneralChat(ctx context.Context) (*models.Chat, error)
	FindPrivateChat(ctx context.Context, pairKey string) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)

	// AppendMessage allocates the next sequence number of the chat, stamps
	// msg with it and a fresh id, and inserts it.
	AppendMessage(ctx context.Context, msg *models.Message) error
	FindMessageByClientID(ctx context.Context, chatID primitive.ObjectID, senderID, clientID string) (*models.Message, error)
	LatestMessage(ctx context.Context, chatID primitive.ObjectID) (*models.Message, error)
	PageMessages(ctx context.Context, chatID primitive.ObjectID, skip, limit int64) ([]models.Message, bool, error)
	MessagesBefore(ctx context.Context, chatID primitive.ObjectID, beforeSeq, limit int64) ([]models.Message, bool, error)
}
