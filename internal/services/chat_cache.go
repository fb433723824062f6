package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/metrics"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	chatRecentKeyPrefix = "chat:recent:"
	chatRecentMaxLen    = 100
	chatRecentTTL       = 1 * time.Hour
	chatCacheTimeout    = 2 * time.Second
)

// MessageCache serves the newest page of a chat without touching Mongo.
type MessageCache interface {
	// Recent returns the newest limit messages, oldest first. latestSeq is
	// the chat's last allocated sequence number; a cache that does not
	// reach it is stale and reported as a miss.
	Recent(ctx context.Context, chatID string, limit int, latestSeq int64) ([]models.Message, bool, bool)
	Push(ctx context.Context, msg models.Message)
	Warm(ctx context.Context, chatID string, msgs []models.Message)
}

// cachedMessage keeps the sender id, which the public JSON form hides.
type cachedMessage struct {
	ID        primitive.ObjectID `json:"id"`
	ChatID    primitive.ObjectID `json:"chatId"`
	Seq       int64              `json:"seq"`
	SenderID  string             `json:"senderId"`
	Content   string             `json:"content"`
	ClientID  string             `json:"clientId,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func toCached(m models.Message) cachedMessage {
	return cachedMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Seq:       m.Seq,
		SenderID:  m.SenderID,
		Content:   m.Content,
		ClientID:  m.ClientID,
		Timestamp: m.Timestamp,
	}
}

func (c cachedMessage) message() models.Message {
	return models.Message{
		ID:        c.ID,
		ChatID:    c.ChatID,
		Seq:       c.Seq,
		SenderID:  c.SenderID,
		Content:   c.Content,
		ClientID:  c.ClientID,
		Timestamp: c.Timestamp,
	}
}

// RedisMessageCache keeps the newest messages of each chat in a Redis list,
// newest at the head.
type RedisMessageCache struct {
	client redis.Cmdable
	log    *zap.Logger
}

func NewRedisMessageCache(client redis.Cmdable, log *zap.Logger) *RedisMessageCache {
	return &RedisMessageCache{client: client, log: log}
}

func chatRecentKey(chatID string) string {
	return chatRecentKeyPrefix + chatID
}

// Push adds a freshly stored message. LPUSHX leaves a cold cache cold, so a
// partial list is never mistaken for a warm one. The write is detached from
// the caller: the message is already stored, and a list that misses it must
// not survive. When the push fails the list is dropped.
func (c *RedisMessageCache) Push(ctx context.Context, msg models.Message) {
	data, err := json.Marshal(toCached(msg))
	if err != nil {
		return
	}
	chatID := msg.ChatID.Hex()
	key := chatRecentKey(chatID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chatCacheTimeout)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.LPushX(ctx, key, data)
	pipe.LTrim(ctx, key, 0, chatRecentMaxLen-1)
	pipe.Expire(ctx, key, chatRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("recent cache push failed, dropping list", zap.String("chat_id", chatID), zap.Error(err))
		c.invalidate(ctx, key)
	}
}

func (c *RedisMessageCache) invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("recent cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisMessageCache) Recent(ctx context.Context, chatID string, limit int, latestSeq int64) ([]models.Message, bool, bool) {
	raw, err := c.client.LRange(ctx, chatRecentKey(chatID), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		metrics.RecentCacheLookups.WithLabelValues("miss").Inc()
		return nil, false, false
	}

	msgs := decodeCached(raw)
	out, hasMore, ok := newestWindow(msgs, limit, latestSeq)
	if !ok {
		metrics.RecentCacheLookups.WithLabelValues("miss").Inc()
		return nil, false, false
	}
	metrics.RecentCacheLookups.WithLabelValues("hit").Inc()
	return out, hasMore, true
}

// Warm replaces the cached list with msgs (oldest first).
func (c *RedisMessageCache) Warm(ctx context.Context, chatID string, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	key := chatRecentKey(chatID)

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	for i := len(msgs) - 1; i >= 0; i-- {
		data, err := json.Marshal(toCached(msgs[i]))
		if err != nil {
			continue
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, 0, chatRecentMaxLen-1)
	pipe.Expire(ctx, key, chatRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("recent cache warm failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// decodeCached parses list entries, drops duplicates and sorts by sequence.
// Concurrent pushes may land out of order.
func decodeCached(raw []string) []models.Message {
	seen := make(map[primitive.ObjectID]struct{}, len(raw))
	msgs := make([]models.Message, 0, len(raw))
	for _, r := range raw {
		var cm cachedMessage
		if json.Unmarshal([]byte(r), &cm) != nil {
			continue
		}
		if _, dup := seen[cm.ID]; dup {
			continue
		}
		seen[cm.ID] = struct{}{}
		msgs = append(msgs, cm.message())
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	return msgs
}

// newestWindow picks the newest limit messages out of an ascending slice.
// It refuses when the slice is behind latestSeq, when it holds fewer than
// limit messages without reaching the start of the chat, or when the window
// skips a sequence number. A skipped number is either a push that never
// reached the list or a failed insert; both are served from the store.
func newestWindow(msgs []models.Message, limit int, latestSeq int64) ([]models.Message, bool, bool) {
	if len(msgs) == 0 || msgs[len(msgs)-1].Seq < latestSeq {
		return nil, false, false
	}
	out := msgs
	if len(msgs) < limit {
		if msgs[0].Seq != 1 {
			return nil, false, false
		}
	} else {
		out = msgs[len(msgs)-limit:]
	}
	for i := 1; i < len(out); i++ {
		if out[i].Seq != out[i-1].Seq+1 {
			return nil, false, false
		}
	}
	return out, out[0].Seq > 1, true
}
