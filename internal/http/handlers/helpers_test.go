package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-anon-backend/internal/depersonalize"
	"github.com/tbourn/go-anon-backend/internal/http/middleware"
	"github.com/tbourn/go-anon-backend/internal/moderation"
	"github.com/tbourn/go-anon-backend/internal/repo"
	"github.com/tbourn/go-anon-backend/internal/services"
)

// ---------- test plumbing ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

// stack is a real service graph over an in-memory database.
type stack struct {
	db    *gorm.DB
	users *services.UserService
	svc   Services
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := newTestDB(t)
	users := &services.UserService{DB: db, Secret: []byte("0123456789abcdef-handlers")}
	return &stack{
		db:    db,
		users: users,
		svc: Services{
			Users: users,
			Posts: &services.PostService{
				DB:        db,
				Cleaner:   depersonalize.Depersonalizer{MaxLength: depersonalize.DefaultMaxLength},
				Moderator: moderation.Default(),
			},
			Groups:      &services.GroupingService{Store: repo.NewGroupStore(db), Capacity: 12},
			Embeddings:  &services.EmbeddingService{DB: db},
			Idempotency: &services.IdempotencyService{DB: db},
		},
	}
}

// router mounts h the same way the API router does, minus edge concerns.
func (s *stack) router(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())

	r.GET("/health", h.Health)
	r.POST("/register", h.Register)
	r.GET("/posts", h.ListFeed)
	r.POST("/posts/:id/vec", h.EmbedPost)

	var idem middleware.IdempotencyLookup
	if is, ok := s.svc.Idempotency.(*services.IdempotencyService); ok {
		idem = is.Exists
	}
	auth := r.Group("", middleware.Auth(s.users))
	auth.POST("/posts", middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: PostsScope}, idem), h.CreatePost)
	auth.POST("/groups/join", h.JoinGroup)
	auth.GET("/groups/:id/posts", h.ListGroupPosts)
	return r
}

func (s *stack) register(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(r, http.MethodPost, "/register", "", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	return reg.Token
}

func do(r http.Handler, method, path, token string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
