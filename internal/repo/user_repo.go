package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/domain"
)

// CreateUser inserts a user with the given shadow id and token hash.
// A collision on either unique column returns ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, shadowID, tokenHash string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:         uuid.NewString(),
		ShadowID:   shadowID,
		TokenHash:  tokenHash,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// FindUserByTokenHash returns the user owning hash, or ErrNotFound.
func FindUserByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("token_hash = ?", hash).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// TouchUser sets last_seen_at. Missing users return ErrNotFound.
func TouchUser(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("last_seen_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
