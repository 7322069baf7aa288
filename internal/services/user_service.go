package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tokenBytes is the entropy of an issued bearer token before hex encoding.
const tokenBytes = 24

// registerAttempts bounds retries on (astronomically unlikely) hash collisions.
const registerAttempts = 3

// Registration is what a caller learns about a freshly created user. Token is
// only ever returned here; the store keeps its keyed hash.
type Registration struct {
	UserID   string
	ShadowID string
	Token    string
}

// UserService issues shadow identities and resolves bearer tokens.
type UserService struct {
	DB     *gorm.DB
	Secret []byte

	// Now is the clock used for last-seen updates; nil means time.Now.
	Now func() time.Time
}

// HashToken returns the hex HMAC-SHA256 of token under the service secret.
func (s *UserService) HashToken(token string) string {
	return keyedHash(s.Secret, token)
}

// Register creates a user with a random bearer token and a shadow id that
// cannot be traced back to it. The device fingerprint is accepted for API
// compatibility and deliberately dropped.
func (s *UserService) Register(ctx context.Context, _ string) (*Registration, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	for attempt := 0; attempt < registerAttempts; attempt++ {
		token, err := newToken()
		if err != nil {
			return nil, err
		}
		shadowID := keyedHash(s.Secret, uuid.NewString())

		u, err := repo.CreateUser(ctx, s.DB, shadowID, s.HashToken(token))
		if errors.Is(err, repo.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		span.SetAttributes(attribute.String("user.id", u.ID))
		zerolog.Ctx(ctx).Info().Str("user_id", u.ID).Msg("shadow user registered")
		return &Registration{UserID: u.ID, ShadowID: u.ShadowID, Token: token}, nil
	}
	return nil, repo.ErrDuplicate
}

// Authenticate resolves a raw bearer token to its user and bumps last-seen.
// Empty and unknown tokens are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Authenticate")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	u, err := repo.FindUserByTokenHash(ctx, s.DB, s.HashToken(token))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID), attribute.Bool("auth.ok", true))

	seen := s.now()
	if err := repo.TouchUser(ctx, s.DB, u.ID, seen); err != nil {
		span.SetAttributes(attribute.String("touch.error", err.Error()))
		return nil, err
	}
	u.LastSeenAt = seen.UTC()
	span.AddEvent("last_seen", trace.WithAttributes(attribute.String("at", u.LastSeenAt.Format(time.RFC3339))))
	return u, nil
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func keyedHash(secret []byte, msg string) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
