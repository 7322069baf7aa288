package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-anon-backend/internal/depersonalize"
	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/moderation"
	"github.com/tbourn/go-anon-backend/internal/repo"
)

var testSecret = []byte("0123456789abcdef-test")

// newTestDB opens an isolated in-memory database, optionally with the full
// schema.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if migrate {
		require.NoError(t, repo.AutoMigrate(db))
	}
	return db
}

func newUser(t *testing.T, db *gorm.DB) *domain.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), db, "shadow-"+uuid.NewString(), "hash-"+uuid.NewString())
	require.NoError(t, err)
	return u
}

func newPostService(db *gorm.DB) *PostService {
	return &PostService{
		DB:        db,
		Cleaner:   depersonalize.Depersonalizer{MaxLength: depersonalize.DefaultMaxLength},
		Moderator: moderation.Default(),
	}
}

func newGroupingService(db *gorm.DB, capacity int) *GroupingService {
	return &GroupingService{Store: repo.NewGroupStore(db), Capacity: capacity}
}
