package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// UserDirectory resolves user ids to display profiles. Unknown ids are
// absent from the result rather than an error.
type UserDirectory interface {
	Profiles(ctx context.Context, ids []string) (map[string]models.UserProfile, error)
}

// PostgresUserDirectory reads the users table written by the identity
// provider's adapter.
type PostgresUserDirectory struct {
	db *sql.DB
}

func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

func (d *PostgresUserDirectory) Profiles(ctx context.Context, ids []string) (map[string]models.UserProfile, error) {
	out := make(map[string]models.UserProfile, len(ids))

	// Ids that are not UUIDs cannot exist and would fail the cast below.
	valid := make([]string, 0, len(ids))
	for _, id := range uniqueStrings(ids) {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return out, nil
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id::text, COALESCE(name, ''), COALESCE(email, ''), COALESCE(image, '')
		FROM users
		WHERE id = ANY($1::uuid[])
	`, pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.UserProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Image); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

const (
	profileCacheKeyPrefix = "cache:profile:"
	profileCacheTTL       = 10 * time.Minute
)

// CachedUserDirectory puts a Redis read-through cache in front of another
// directory. Cache failures degrade to the underlying directory.
type CachedUserDirectory struct {
	next   UserDirectory
	client redis.Cmdable
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedUserDirectory(next UserDirectory, client redis.Cmdable, log *zap.Logger) *CachedUserDirectory {
	return &CachedUserDirectory{next: next, client: client, ttl: profileCacheTTL, log: log}
}

func (d *CachedUserDirectory) Profiles(ctx context.Context, ids []string) (map[string]models.UserProfile, error) {
	ids = uniqueStrings(ids)
	out := make(map[string]models.UserProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileCacheKeyPrefix + id
	}

	missing := ids
	if vals, err := d.client.MGet(ctx, keys...).Result(); err == nil {
		missing = nil
		for i, v := range vals {
			s, ok := v.(string)
			var p models.UserProfile
			if !ok || json.Unmarshal([]byte(s), &p) != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = p
		}
	} else {
		d.log.Debug("profile cache unavailable", zap.Error(err))
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := d.next.Profiles(ctx, missing)
	if err != nil {
		return nil, err
	}

	pipe := d.client.Pipeline()
	for id, p := range fetched {
		out[id] = p
		if data, err := json.Marshal(p); err == nil {
			pipe.Set(ctx, profileCacheKeyPrefix+id, data, d.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.Debug("profile cache fill failed", zap.Error(err))
	}
	return out, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
