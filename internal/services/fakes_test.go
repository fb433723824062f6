package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memoryRepo is an in-memory ChatRepository mirroring the unique indexes of
// the Mongo store.
type memoryRepo struct {
	mu        sync.Mutex
	chats     map[primitive.ObjectID]*models.Chat
	messages  map[primitive.ObjectID][]models.Message
	appendErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		chats:    make(map[primitive.ObjectID]*models.Chat),
		messages: make(map[primitive.ObjectID][]models.Message),
	}
}

func (r *memoryRepo) InsertChat(_ context.Context, chat *models.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if chat.Type == models.ChatTypeGeneral && c.Type == models.ChatTypeGeneral {
			return ErrDuplicate
		}
		if chat.PairKey != "" && c.PairKey == chat.PairKey {
			return ErrDuplicate
		}
	}
	if chat.ID.IsZero() {
		chat.ID = primitive.NewObjectID()
	}
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *memoryRepo) FindChat(_ context.Context, id primitive.ObjectID) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryRepo) find(match func(*models.Chat) bool) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) FindGeneralChat(_ context.Context) (*models.Chat, error) {
	return r.find(func(c *models.Chat) bool { return c.Type == models.ChatTypeGeneral })
}

func (r *memoryRepo) FindPrivateChat(_ context.Context, pairKey string) (*models.Chat, error) {
	return r.find(func(c *models.Chat) bool { return c.PairKey == pairKey })
}

func (r *memoryRepo) ListChatsForUser(_ context.Context, userID string) ([]models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Chat
	for _, c := range r.chats {
		if !c.IsActive {
			continue
		}
		if c.Type == models.ChatTypeGeneral || c.HasParticipant(userID) || c.CreatedBy == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memoryRepo) AppendMessage(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	c, ok := r.chats[msg.ChatID]
	if !ok || !c.IsActive {
		return ErrNotFound
	}
	if msg.ClientID != "" {
		for _, m := range r.messages[msg.ChatID] {
			if m.SenderID == msg.SenderID && m.ClientID == msg.ClientID {
				return ErrDuplicate
			}
		}
	}
	c.MessageSeq++
	c.UpdatedAt = msg.Timestamp
	ts := msg.Timestamp
	c.LastMessageAt = &ts
	msg.ID = primitive.NewObjectID()
	msg.Seq = c.MessageSeq
	r.messages[msg.ChatID] = append(r.messages[msg.ChatID], *msg)
	return nil
}

func (r *memoryRepo) FindMessageByClientID(_ context.Context, chatID primitive.ObjectID, senderID, clientID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[chatID] {
		if m.SenderID == senderID && m.ClientID == clientID {
			cp := m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) LatestMessage(_ context.Context, chatID primitive.ObjectID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[chatID]
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	cp := msgs[len(msgs)-1]
	return &cp, nil
}

func (r *memoryRepo) PageMessages(_ context.Context, chatID primitive.ObjectID, skip, limit int64) ([]models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[chatID]
	end := int64(len(msgs)) - skip
	if end <= 0 {
		return []models.Message{}, false, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]models.Message{}, msgs[start:end]...), start > 0, nil
}

func (r *memoryRepo) MessagesBefore(_ context.Context, chatID primitive.ObjectID, beforeSeq, limit int64) ([]models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var older []models.Message
	for _, m := range r.messages[chatID] {
		if m.Seq < beforeSeq {
			older = append(older, m)
		}
	}
	start := int64(len(older)) - limit
	if start < 0 {
		start = 0
	}
	return append([]models.Message{}, older[start:]...), start > 0, nil
}

func (r *memoryRepo) addChat(chat models.Chat) *models.Chat {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
		chat.UpdatedAt = chat.CreatedAt
	}
	chat.IsActive = true
	if err := r.InsertChat(context.Background(), &chat); err != nil {
		panic(err)
	}
	return &chat
}

type staticDirectory struct {
	profiles map[string]models.UserProfile
	err      error
	calls    int
	mu       sync.Mutex
}

func newStaticDirectory(profiles ...models.UserProfile) *staticDirectory {
	d := &staticDirectory{profiles: make(map[string]models.UserProfile)}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

func (d *staticDirectory) Profiles(_ context.Context, ids []string) (map[string]models.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]models.UserProfile)
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []models.Message
}

func (d *recordingDeliverer) Deliver(_ context.Context, _ *models.Chat, msg models.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, msg)
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

// sliceCache is a MessageCache over a plain slice, using the same window
// rules as the Redis cache.
type sliceCache struct {
	mu    sync.Mutex
	lists map[string][]models.Message
	hits  int
}

func newSliceCache() *sliceCache {
	return &sliceCache{lists: make(map[string][]models.Message)}
}

func (c *sliceCache) Recent(_ context.Context, chatID string, limit int, latestSeq int64) ([]models.Message, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, hasMore, ok := newestWindow(c.lists[chatID], limit, latestSeq)
	if ok {
		c.hits++
	}
	return out, hasMore, ok
}

func (c *sliceCache) Push(_ context.Context, msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := msg.ChatID.Hex()
	if _, warm := c.lists[key]; warm {
		c.lists[key] = append(c.lists[key], msg)
	}
}

func (c *sliceCache) Warm(_ context.Context, chatID string, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[chatID] = append([]models.Message{}, msgs...)
}

var errStoreDown = errors.New("store down")
