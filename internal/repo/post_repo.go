package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/domain"
)

// NewPost carries the fields the ingestion pipeline persists.
type NewPost struct {
	AuthorID  string
	TextRaw   string
	TextClean string
	TopicTags []string
	GroupID   *string
	TTL       time.Duration
}

// CreatePost inserts a post with ExpiresAt = CreatedAt + TTL.
func CreatePost(ctx context.Context, db *gorm.DB, in NewPost) (*domain.Post, error) {
	now := time.Now().UTC()
	tags := in.TopicTags
	if tags == nil {
		tags = []string{}
	}
	p := &domain.Post{
		ID:        uuid.NewString(),
		AuthorID:  in.AuthorID,
		TextRaw:   in.TextRaw,
		TextClean: in.TextClean,
		TopicTags: datatypes.JSONSlice[string](tags),
		GroupID:   in.GroupID,
		CreatedAt: now,
		ExpiresAt: now.Add(in.TTL),
	}
	if err := db.WithContext(ctx).Omit("Author", "Group").Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetPost fetches a post by id regardless of expiry, or ErrNotFound.
func GetPost(ctx context.Context, db *gorm.DB, id string) (*domain.Post, error) {
	var p domain.Post
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListFeed returns up to limit non-expired posts ordered newest first. A
// non-empty cursor is the id of the last post on the previous page; listing
// resumes strictly after it. An unknown or expired cursor yields ErrNotFound.
func ListFeed(ctx context.Context, db *gorm.DB, now time.Time, cursor string, limit int) ([]domain.Post, error) {
	q := db.WithContext(ctx).
		Where("expires_at > ?", now.UTC())

	if cursor != "" {
		var anchor domain.Post
		err := db.WithContext(ctx).
			Select("id", "created_at").
			Where("id = ? AND expires_at > ?", cursor, now.UTC()).
			First(&anchor).Error
		if err != nil {
			return nil, err
		}
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
	}

	var out []domain.Post
	err := q.Order("created_at desc").Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// ListGroupPosts returns up to limit non-expired posts in groupID, newest first.
func ListGroupPosts(ctx context.Context, db *gorm.DB, groupID string, now time.Time, limit int) ([]domain.Post, error) {
	var out []domain.Post
	err := db.WithContext(ctx).
		Where("group_id = ? AND expires_at > ?", groupID, now.UTC()).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetEmbedding stores vec on the post. Missing posts return ErrNotFound.
func SetEmbedding(ctx context.Context, db *gorm.DB, id string, vec []float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Post{}).
		Where("id = ?", id).
		Update("embedding", datatypes.JSONSlice[float64](vec))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
