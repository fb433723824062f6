package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "chat_messages"
)

// MongoChatStore keeps chats and messages in two collections. Messages are
// one document each, keyed by (chat_id, seq), so a chat never grows without
// bound and history pages are index scans.
type MongoChatStore struct {
	chats    *mongo.Collection
	messages *mongo.Collection
}

func NewMongoChatStore(db *mongo.Database) *MongoChatStore {
	return &MongoChatStore{
		chats:    db.Collection(chatsCollection),
		messages: db.Collection(messagesCollection),
	}
}

// EnsureIndexes creates the indexes the store relies on for correctness as
// well as speed: the unique general chat, one private chat per pair, and
// unique sequence numbers and client ids per chat.
func (s *MongoChatStore) EnsureIndexes(ctx context.Context) error {
	chatIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "type", Value: 1}},
			Options: options.Index().
				SetName("uniq_general_chat").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"type": models.ChatTypeGeneral}),
		},
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().
				SetName("uniq_private_pair").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"type": models.ChatTypePrivate}),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_participants_updated"),
		},
	}
	if _, err := s.chats.Indexes().CreateMany(ctx, chatIndexes); err != nil {
		return fmt.Errorf("chat indexes: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "seq", Value: -1}},
			Options: options.Index().SetName("uniq_chat_seq").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_chat_timestamp"),
		},
		{
			Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_chat_sender_client").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"client_id": bson.M{"$exists": true}}),
		},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

func (s *MongoChatStore) InsertChat(ctx context.Context, chat *models.Chat) error {
	if chat.ID.IsZero() {
		chat.ID = primitive.NewObjectID()
	}
	if _, err := s.chats.InsertOne(ctx, chat); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoChatStore) findOneChat(ctx context.Context, filter bson.M) (*models.Chat, error) {
	var chat models.Chat
	if err := s.chats.FindOne(ctx, filter).Decode(&chat); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &chat, nil
}

func (s *MongoChatStore) FindChat(ctx context.Context, id primitive.ObjectID) (*models.Chat, error) {
	return s.findOneChat(ctx, bson.M{"_id": id})
}

func (s *MongoChatStore) FindGeneralChat(ctx context.Context) (*models.Chat, error) {
	return s.findOneChat(ctx, bson.M{"type": models.ChatTypeGeneral})
}

func (s *MongoChatStore) FindPrivateChat(ctx context.Context, pairKey string) (*models.Chat, error) {
	return s.findOneChat(ctx, bson.M{"type": models.ChatTypePrivate, "pair_key": pairKey})
}

func (s *MongoChatStore) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	filter := bson.M{
		"is_active": true,
		"$or": bson.A{
			bson.M{"participants": userID},
			bson.M{"type": models.ChatTypeGeneral},
			bson.M{"created_by": userID},
		},
	}
	cur, err := s.chats.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	chats := []models.Chat{}
	if err := cur.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *MongoChatStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var counter struct {
		Seq int64 `bson:"message_seq"`
	}
	err := s.chats.FindOneAndUpdate(ctx,
		bson.M{"_id": msg.ChatID, "is_active": true},
		bson.M{
			"$inc": bson.M{"message_seq": 1},
			"$set": bson.M{"updated_at": msg.Timestamp, "last_message_at": msg.Timestamp},
		},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"message_seq": 1}),
	).Decode(&counter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	msg.ID = primitive.NewObjectID()
	msg.Seq = counter.Seq
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoChatStore) FindMessageByClientID(ctx context.Context, chatID primitive.ObjectID, senderID, clientID string) (*models.Message, error) {
	var msg models.Message
	err := s.messages.FindOne(ctx, bson.M{
		"chat_id":   chatID,
		"sender_id": senderID,
		"client_id": clientID,
	}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (s *MongoChatStore) LatestMessage(ctx context.Context, chatID primitive.ObjectID) (*models.Message, error) {
	var msg models.Message
	err := s.messages.FindOne(ctx,
		bson.M{"chat_id": chatID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}),
	).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (s *MongoChatStore) PageMessages(ctx context.Context, chatID primitive.ObjectID, skip, limit int64) ([]models.Message, bool, error) {
	return s.findNewest(ctx, bson.M{"chat_id": chatID}, skip, limit)
}

func (s *MongoChatStore) MessagesBefore(ctx context.Context, chatID primitive.ObjectID, beforeSeq, limit int64) ([]models.Message, bool, error) {
	return s.findNewest(ctx, bson.M{"chat_id": chatID, "seq": bson.M{"$lt": beforeSeq}}, 0, limit)
}

// findNewest reads limit+1 documents newest first to learn whether older
// ones remain, then returns the chunk oldest first.
func (s *MongoChatStore) findNewest(ctx context.Context, filter bson.M, skip, limit int64) ([]models.Message, bool, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit + 1)

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close(ctx)

	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, false, err
	}

	hasMore := int64(len(msgs)) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	reverseMessages(msgs)
	return msgs, hasMore, nil
}

func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
