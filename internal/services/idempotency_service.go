package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/repo"
)

// DefaultIdempotencyTTL is how long a stored result can be replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyService looks up which post a (user, scope, key) produced so a
// retried write can be answered without running the pipeline again. Records
// are written by PostService.SubmitOnce inside the post transaction.
type IdempotencyService struct {
	DB *gorm.DB
}

// Exists reports whether a live record is stored. It matches
// middleware.IdempotencyLookup.
func (s *IdempotencyService) Exists(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	rec, err := s.Find(ctx, userID, scope, key, now)
	return rec != nil, err
}

// Find returns the live record or nil when there is none.
func (s *IdempotencyService) Find(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
