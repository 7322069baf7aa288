// Package handlers provides the HTTP endpoints of the anonymous board.
//
// Handlers are transport-thin: they decode and validate input, call the
// application services through the small interfaces below, and translate
// results and sentinel errors into the response envelope.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/services"
)

// PostsScope namespaces Idempotency-Key records written by CreatePost.
const PostsScope = "posts"

// UserService issues pseudonymous identities.
type UserService interface {
	Register(ctx context.Context, deviceFingerprint string) (*services.Registration, error)
}

// PostService runs the ingestion pipeline and serves post listings.
type PostService interface {
	Submit(ctx context.Context, userID, text string, topicTags []string) (*services.Submission, error)
	SubmitOnce(ctx context.Context, userID, text string, topicTags []string, rc services.Receipt) (*services.Submission, error)
	Get(ctx context.Context, id string) (*domain.Post, error)
	Feed(ctx context.Context, cursor string, limit int) (*services.FeedPage, error)
	FeedVersion(ctx context.Context, groupID string) (int64, *time.Time, error)
	GroupPosts(ctx context.Context, userID, groupID string) ([]domain.Post, error)
}

// GroupService places users into topic groups.
type GroupService interface {
	AssignUserToGroup(ctx context.Context, userID string, topicTags []string) (*domain.Group, error)
}

// EmbeddingService writes post vectors.
type EmbeddingService interface {
	Embed(ctx context.Context, postID, text string) error
}

// IdempotencyStore finds which post a retried write produced. Records are
// written by PostService.SubmitOnce.
type IdempotencyStore interface {
	Find(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
}

// Services bundles the collaborators the handlers call.
type Services struct {
	Users       UserService
	Posts       PostService
	Groups      GroupService
	Embeddings  EmbeddingService
	Idempotency IdempotencyStore
}

// Options carries deployment settings that shape responses.
type Options struct {
	// InternalToken guards POST /posts/{id}/vec. Empty disables the route (501).
	InternalToken string
	// Version is reported by /health.
	Version string
	// StartedAt anchors the /health uptime; zero means New's call time.
	StartedAt time.Time
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	users  UserService
	posts  PostService
	groups GroupService
	embeds EmbeddingService
	idem   IdempotencyStore
	opts   Options
}

// New constructs Handlers bound to the given services.
func New(svc Services, opts Options) *Handlers {
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	return &Handlers{
		users:  svc.Users,
		posts:  svc.Posts,
		groups: svc.Groups,
		embeds: svc.Embeddings,
		idem:   svc.Idempotency,
		opts:   opts,
	}
}
