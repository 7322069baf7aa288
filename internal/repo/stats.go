package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/domain"
)

// FeedStats returns the number of live posts (expires_at > now), optionally
// scoped to a group, and the newest CreatedAt among them. The HTTP layer
// derives weak ETags from it. With no rows, latest is nil.
func FeedStats(ctx context.Context, db *gorm.DB, groupID string, now time.Time) (count int64, latest *time.Time, err error) {
	base := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.Post{}).Where("expires_at > ?", now.UTC())
		if groupID != "" {
			q = q.Where("group_id = ?", groupID)
		}
		return q
	}

	if err = base().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Newest created_at via ORDER BY (MAX() comes back as TEXT on SQLite).
	var row struct {
		CreatedAt time.Time
	}
	if err = base().Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
