package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/apperr"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/metrics"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	DefaultPageSize  = 50
	MaxPageSize      = 100
	MaxPage          = 10000
	MaxClientIDLen   = 64
	MaxContentLength = 4000
	GeneralChatName  = "General"
)

// Deliverer fans out a stored message.
type Deliverer interface {
	Deliver(ctx context.Context, chat *models.Chat, msg models.Message)
}

type ChatServiceConfig struct {
	Store    ChatRepository
	Users    UserDirectory
	Cache    MessageCache
	Delivery Deliverer
	Logger   *zap.Logger
	PageSize int
}

// ChatService implements the message store operations on top of a
// ChatRepository, resolving user references for display and handing every
// new message to the delivery gateway.
type ChatService struct {
	store    ChatRepository
	users    UserDirectory
	cache    MessageCache
	delivery Deliverer
	log      *zap.Logger
	pageSize int
	now      func() time.Time
}

func NewChatService(cfg ChatServiceConfig) *ChatService {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{
		store:    cfg.Store,
		users:    cfg.Users,
		cache:    cfg.Cache,
		delivery: cfg.Delivery,
		log:      log,
		pageSize: pageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateChatInput is the body of a chat creation request.
type CreateChatInput struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

func (s *ChatService) loadChat(ctx context.Context, chatID string) (*models.Chat, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, apperr.NotFound("Chat not found")
	}
	chat, err := s.store.FindChat(ctx, oid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Chat not found")
		}
		return nil, apperr.Internal("failed to load chat", err)
	}
	if !chat.IsActive {
		return nil, apperr.NotFound("Chat not found")
	}
	return chat, nil
}

func (s *ChatService) loadAccessibleChat(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.CanAccess(userID) {
		return nil, apperr.Forbidden("You are not a participant of this chat")
	}
	return chat, nil
}

// Append stores a message from senderID. When clientID is set and the same
// sender already stored a message with it in this chat, that message is
// returned and nothing new is written or broadcast.
func (s *ChatService) Append(ctx context.Context, chatID, senderID, content, clientID string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, apperr.Validation("Message content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return models.Message{}, apperr.Validation("Message is too long")
	}
	clientID = strings.TrimSpace(clientID)
	if len(clientID) > MaxClientIDLen {
		return models.Message{}, apperr.Validation("clientId is too long")
	}

	chat, err := s.loadAccessibleChat(ctx, chatID, senderID)
	if err != nil {
		return models.Message{}, err
	}

	if clientID != "" {
		if existing, err := s.findByClientID(ctx, chat.ID, senderID, clientID); err != nil {
			return models.Message{}, err
		} else if existing != nil {
			return s.resolveOne(ctx, *existing), nil
		}
	}

	msg := &models.Message{
		ChatID:    chat.ID,
		SenderID:  senderID,
		Content:   content,
		ClientID:  clientID,
		Timestamp: s.now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return models.Message{}, apperr.NotFound("Chat not found")
		case errors.Is(err, ErrDuplicate) && clientID != "":
			// Lost a race against a retry of the same send.
			existing, ferr := s.findByClientID(ctx, chat.ID, senderID, clientID)
			if ferr != nil {
				return models.Message{}, ferr
			}
			if existing != nil {
				return s.resolveOne(ctx, *existing), nil
			}
		}
		return models.Message{}, apperr.Internal("failed to store message", err)
	}
	metrics.MessagesAppended.Inc()

	stored := s.resolveOne(ctx, *msg)
	if s.cache != nil {
		s.cache.Push(ctx, stored)
	}
	if s.delivery != nil {
		s.delivery.Deliver(ctx, chat, stored)
	}
	return stored, nil
}

func (s *ChatService) findByClientID(ctx context.Context, chatID primitive.ObjectID, senderID, clientID string) (*models.Message, error) {
	msg, err := s.store.FindMessageByClientID(ctx, chatID, senderID, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, apperr.Internal("failed to look up message", err)
	}
	return msg, nil
}

func (s *ChatService) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// Page returns page n of the chat's history: page 1 is the newest limit
// messages, each further page the next older chunk. Every chunk is oldest
// first.
func (s *ChatService) Page(ctx context.Context, chatID, userID string, page, limit int) (models.MessagePage, error) {
	if page > MaxPage {
		return models.MessagePage{}, apperr.Validation("page is too large")
	}
	page, limit = s.normalizePage(page, limit)
	chat, err := s.loadAccessibleChat(ctx, chatID, userID)
	if err != nil {
		return models.MessagePage{}, err
	}
	return s.page(ctx, chat, page, limit)
}

func (s *ChatService) page(ctx context.Context, chat *models.Chat, page, limit int) (models.MessagePage, error) {
	if page == 1 && s.cache != nil {
		if msgs, hasMore, ok := s.cache.Recent(ctx, chat.ID.Hex(), limit, chat.MessageSeq); ok {
			return models.MessagePage{Messages: s.resolve(ctx, msgs), HasMore: hasMore, Page: page}, nil
		}
	}

	msgs, hasMore, err := s.store.PageMessages(ctx, chat.ID, int64((page-1)*limit), int64(limit))
	if err != nil {
		return models.MessagePage{}, apperr.Internal("failed to load messages", err)
	}
	if page == 1 && s.cache != nil && len(msgs) > 0 {
		s.cache.Warm(ctx, chat.ID.Hex(), msgs)
	}
	return models.MessagePage{Messages: s.resolve(ctx, msgs), HasMore: hasMore, Page: page}, nil
}

// Before returns up to limit messages older than beforeSeq, oldest first.
func (s *ChatService) Before(ctx context.Context, chatID, userID string, beforeSeq int64, limit int) (models.MessagePage, error) {
	_, limit = s.normalizePage(1, limit)
	if beforeSeq <= 0 {
		return models.MessagePage{}, apperr.Validation("before must be a positive sequence number")
	}
	chat, err := s.loadAccessibleChat(ctx, chatID, userID)
	if err != nil {
		return models.MessagePage{}, err
	}
	msgs, hasMore, err := s.store.MessagesBefore(ctx, chat.ID, beforeSeq, int64(limit))
	if err != nil {
		return models.MessagePage{}, apperr.Internal("failed to load messages", err)
	}
	return models.MessagePage{Messages: s.resolve(ctx, msgs), HasMore: hasMore}, nil
}

// GetChat returns the chat with participants resolved and its newest page.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (models.ChatDetail, error) {
	chat, err := s.loadAccessibleChat(ctx, chatID, userID)
	if err != nil {
		return models.ChatDetail{}, err
	}
	page, err := s.page(ctx, chat, 1, s.pageSize)
	if err != nil {
		return models.ChatDetail{}, err
	}

	var last *models.Message
	if n := len(page.Messages); n > 0 {
		last = &page.Messages[n-1]
	}
	profiles := s.profiles(ctx, chatUserIDs(chat))
	return models.ChatDetail{
		ChatView: buildView(chat, userID, profiles, last),
		Messages: page.Messages,
		HasMore:  page.HasMore,
	}, nil
}

// ListForUser returns the active chats the user takes part in, every general
// chat and the chats the user created, most recently updated first.
func (s *ChatService) ListForUser(ctx context.Context, userID string) ([]models.ChatView, error) {
	chats, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list chats", err)
	}

	lasts := make([]*models.Message, len(chats))
	var ids []string
	for i := range chats {
		ids = append(ids, chatUserIDs(&chats[i])...)
		if chats[i].MessageSeq == 0 {
			continue
		}
		last, err := s.store.LatestMessage(ctx, chats[i].ID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Warn("latest message lookup failed", zap.String("chat_id", chats[i].ID.Hex()), zap.Error(err))
			}
			continue
		}
		lasts[i] = last
		ids = append(ids, last.SenderID)
	}

	profiles := s.profiles(ctx, ids)
	views := make([]models.ChatView, 0, len(chats))
	for i := range chats {
		if lasts[i] != nil {
			withSender(lasts[i], profiles)
		}
		views = append(views, buildView(&chats[i], userID, profiles, lasts[i]))
	}
	return views, nil
}

// Create validates and stores a new private or group chat.
func (s *ChatService) Create(ctx context.Context, in CreateChatInput, creatorID string) (models.ChatView, error) {
	chatType := models.ChatType(strings.ToLower(strings.TrimSpace(in.Type)))
	if !chatType.Valid() {
		return models.ChatView{}, apperr.Validation("Invalid chat type")
	}
	if chatType == models.ChatTypeGeneral {
		return models.ChatView{}, apperr.Validation("The general chat cannot be created manually")
	}

	name := strings.TrimSpace(in.Name)
	invitees := make([]string, 0, len(in.Participants))
	for _, p := range uniqueStrings(trimAll(in.Participants)) {
		if p != creatorID {
			invitees = append(invitees, p)
		}
	}

	switch chatType {
	case models.ChatTypePrivate:
		if len(invitees) != 1 || len(in.Participants) != 1 {
			return models.ChatView{}, apperr.Validation("A private chat needs exactly one other participant")
		}
	case models.ChatTypeGroup:
		if name == "" {
			return models.ChatView{}, apperr.Validation("Chat name is required")
		}
	}

	profiles, err := s.users.Profiles(ctx, append([]string{creatorID}, invitees...))
	if err != nil {
		return models.ChatView{}, apperr.Internal("failed to load participants", err)
	}
	for _, id := range invitees {
		if _, ok := profiles[id]; !ok {
			return models.ChatView{}, apperr.Validation("Unknown participant: " + id)
		}
	}

	now := s.now()
	chat := &models.Chat{
		Name:         name,
		Type:         chatType,
		Participants: append([]string{creatorID}, invitees...),
		CreatedBy:    creatorID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if chatType == models.ChatTypePrivate {
		chat.PairKey = models.PairKey(creatorID, invitees[0])
		if chat.Name == "" {
			chat.Name = profiles[invitees[0]].DisplayName()
		}
		if _, err := s.store.FindPrivateChat(ctx, chat.PairKey); err == nil {
			return models.ChatView{}, apperr.Conflict("A private chat with this user already exists")
		} else if !errors.Is(err, ErrNotFound) {
			return models.ChatView{}, apperr.Internal("failed to check existing chats", err)
		}
	}

	if err := s.store.InsertChat(ctx, chat); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return models.ChatView{}, apperr.Conflict("A private chat with this user already exists")
		}
		return models.ChatView{}, apperr.Internal("failed to create chat", err)
	}

	s.log.Info("chat created",
		zap.String("chat_id", chat.ID.Hex()),
		zap.String("type", string(chat.Type)),
		zap.String("created_by", creatorID),
	)
	return buildView(chat, creatorID, profiles, nil), nil
}

// EnsureGeneral returns the general chat, creating it on first use. The
// unique index on the general type makes concurrent first calls converge on
// a single chat: the losing insert reads back the winner.
func (s *ChatService) EnsureGeneral(ctx context.Context) (models.ChatView, error) {
	chat, err := s.store.FindGeneralChat(ctx)
	if err == nil {
		return buildView(chat, "", nil, nil), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.ChatView{}, apperr.Internal("failed to load general chat", err)
	}

	now := s.now()
	chat = &models.Chat{
		Name:         GeneralChatName,
		Type:         models.ChatTypeGeneral,
		Participants: []string{},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertChat(ctx, chat); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return models.ChatView{}, apperr.Internal("failed to create general chat", err)
		}
		chat, err = s.store.FindGeneralChat(ctx)
		if err != nil {
			return models.ChatView{}, apperr.Internal("failed to load general chat", err)
		}
	} else {
		s.log.Info("general chat created", zap.String("chat_id", chat.ID.Hex()))
	}
	return buildView(chat, "", nil, nil), nil
}

// CanSubscribe reports whether userID may listen on the chat's channel.
func (s *ChatService) CanSubscribe(ctx context.Context, chatID, userID string) error {
	_, err := s.loadAccessibleChat(ctx, chatID, userID)
	return err
}

// DisplayName resolves a single user's display name.
func (s *ChatService) DisplayName(ctx context.Context, userID string) string {
	return profileOrID(s.profiles(ctx, []string{userID}), userID).DisplayName()
}

// profiles never fails: display data is cosmetic, so lookup errors degrade
// to bare ids.
func (s *ChatService) profiles(ctx context.Context, ids []string) map[string]models.UserProfile {
	if s.users == nil || len(ids) == 0 {
		return map[string]models.UserProfile{}
	}
	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		s.log.Warn("profile lookup failed", zap.Error(err))
		return map[string]models.UserProfile{}
	}
	return profiles
}

func (s *ChatService) resolve(ctx context.Context, msgs []models.Message) []models.Message {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	profiles := s.profiles(ctx, ids)
	out := make([]models.Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i]
		withSender(&out[i], profiles)
	}
	return out
}

func (s *ChatService) resolveOne(ctx context.Context, msg models.Message) models.Message {
	return s.resolve(ctx, []models.Message{msg})[0]
}

func withSender(msg *models.Message, profiles map[string]models.UserProfile) {
	p := profileOrID(profiles, msg.SenderID)
	msg.Sender = &p
}

func profileOrID(profiles map[string]models.UserProfile, id string) models.UserProfile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return models.UserProfile{ID: id}
}

func chatUserIDs(chat *models.Chat) []string {
	ids := append([]string{}, chat.Participants...)
	if chat.CreatedBy != "" {
		ids = append(ids, chat.CreatedBy)
	}
	return ids
}

// buildView resolves a chat for viewerID. A private chat is shown under the
// name of the participant on the other side.
func buildView(chat *models.Chat, viewerID string, profiles map[string]models.UserProfile, last *models.Message) models.ChatView {
	view := models.ChatView{
		ID:           chat.ID.Hex(),
		Name:         chat.Name,
		Type:         chat.Type,
		Participants: make([]models.UserProfile, 0, len(chat.Participants)),
		IsActive:     chat.IsActive,
		LastMessage:  last,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
	for _, id := range chat.Participants {
		view.Participants = append(view.Participants, profileOrID(profiles, id))
	}
	if chat.CreatedBy != "" {
		creator := profileOrID(profiles, chat.CreatedBy)
		view.CreatedBy = &creator
	}
	if chat.Type == models.ChatTypePrivate && chat.HasParticipant(viewerID) {
		for _, id := range chat.Participants {
			if id != viewerID {
				if p, ok := profiles[id]; ok {
					view.Name = p.DisplayName()
				}
				break
			}
		}
	}
	return view
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
