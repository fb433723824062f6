package services

import (
	"context"
	"errors"
	"strings"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionKeyPrefix is the Redis key prefix of opaque session tokens.
const SessionKeyPrefix = "session:"

// Authenticator turns a bearer token into a user id. Two token shapes are
// accepted: HS256 JWTs issued by the identity provider (user id in "sub"),
// and opaque session tokens stored in Redis as session:<token> -> user id.
type Authenticator struct {
	secret   []byte
	sessions redis.Cmdable
}

func NewAuthenticator(jwtSecret string, sessions redis.Cmdable) *Authenticator {
	return &Authenticator{secret: []byte(jwtSecret), sessions: sessions}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.Unauthorized("Authentication required")
	}

	if strings.Count(token, ".") == 2 && len(a.secret) > 0 {
		return a.fromJWT(token)
	}
	if a.sessions == nil {
		return "", apperr.Unauthorized("Invalid session")
	}

	userID, err := a.sessions.Get(ctx, SessionKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.Unauthorized("Invalid session")
		}
		return "", apperr.Internal("session lookup failed", err)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return "", apperr.Unauthorized("Invalid session")
	}
	return userID, nil
}

func (a *Authenticator) fromJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", apperr.Unauthorized("Invalid session")
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", apperr.Unauthorized("Invalid session")
	}
	if _, err := uuid.Parse(sub); err != nil {
		return "", apperr.Unauthorized("Invalid session")
	}
	return sub, nil
}
