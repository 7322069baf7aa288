// Package services – PostService
//
// PostService runs the ingestion pipeline for a single post:
// received → cleaned → moderated → {accepted | pending review | blocked}.
// Blocked posts are never stored. Accepted and pending-review posts are
// stored with the author's current group (if any) in one transaction.
//
// It also serves the read side: the public feed with keyset cursors and the
// member-only group timeline.

package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/moderation"
	"github.com/tbourn/go-anon-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPostTTL is how long a post stays visible after creation.
	DefaultPostTTL = 48 * time.Hour

	// DefaultFeedLimit and MaxFeedLimit bound a feed page.
	DefaultFeedLimit = 20
	MaxFeedLimit     = 50

	// GroupPostsLimit caps a group timeline read.
	GroupPostsLimit = 50
)

// Cleaner turns raw user text into its de-personalized form.
type Cleaner interface {
	Clean(text string) string
}

// Moderator classifies clean text.
type Moderator interface {
	Check(text string) moderation.Verdict
}

// State is the terminal state of a stored post.
type State string

const (
	StateAccepted      State = "accepted"
	StatePendingReview State = "pending_review"
)

// Submission is the result of a post that made it to storage.
type Submission struct {
	State   State
	Post    *domain.Post
	Verdict moderation.Verdict
}

// FeedPage is one page of the public feed. NextCursor is empty on the last
// page.
type FeedPage struct {
	Items      []domain.Post
	NextCursor string
}

// PostService coordinates post ingestion and listing.
type PostService struct {
	DB        *gorm.DB
	Cleaner   Cleaner
	Moderator Moderator

	// TTL defaults to DefaultPostTTL.
	TTL time.Duration

	// ReceiptTTL bounds how long a Receipt can be replayed; it defaults to
	// DefaultIdempotencyTTL.
	ReceiptTTL time.Duration

	// Now is the listing clock; nil means time.Now.
	Now func() time.Time
}

// Receipt asks SubmitOnce to record an Idempotency-Key in the same
// transaction as the post. Status maps the terminal state to the result code
// stored for replays.
type Receipt struct {
	Scope  string
	Key    string
	Status func(State) int
}

// Submit runs text through the pipeline on behalf of userID. Empty text
// returns ErrEmptyText and a blocked verdict returns *BlockedError; neither
// writes anything.
func (s *PostService) Submit(ctx context.Context, userID, text string, topicTags []string) (*Submission, error) {
	return s.submit(ctx, userID, text, topicTags, nil)
}

// SubmitOnce is Submit plus an idempotency record written atomically with the
// post. When (userID, rc.Scope, rc.Key) is already recorded nothing is stored
// and ErrDuplicateKey is returned.
func (s *PostService) SubmitOnce(ctx context.Context, userID, text string, topicTags []string, rc Receipt) (*Submission, error) {
	return s.submit(ctx, userID, text, topicTags, &rc)
}

func (s *PostService) submit(ctx context.Context, userID, text string, topicTags []string, rc *Receipt) (*Submission, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("tags.count", len(topicTags)),
		),
	)
	defer span.End()

	if strings.TrimSpace(text) == "" {
		postsIngested.WithLabelValues(outcomeRejected).Inc()
		return nil, ErrEmptyText
	}

	clean := s.Cleaner.Clean(text)
	verdict := s.Moderator.Check(clean)
	span.SetAttributes(attribute.String("moderation.status", string(verdict.Status)))

	if verdict.Status == moderation.StatusBlocked {
		postsIngested.WithLabelValues(outcomeBlocked).Inc()
		span.SetAttributes(attribute.String("moderation.category", verdict.Category))
		return nil, &BlockedError{Category: verdict.Category, Message: verdict.Message}
	}

	state, outcome := StateAccepted, outcomeAccepted
	if verdict.Status == moderation.StatusNeedsReview {
		state, outcome = StatePendingReview, outcomePendingReview
	}

	var post *domain.Post
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groupID, err := repo.LatestGroupID(ctx, tx, userID)
		if err != nil {
			return err
		}
		post, err = repo.CreatePost(ctx, tx, repo.NewPost{
			AuthorID:  userID,
			TextRaw:   text,
			TextClean: clean,
			TopicTags: cleanTags(topicTags),
			GroupID:   groupID,
			TTL:       s.ttl(),
		})
		if err != nil || rc == nil {
			return err
		}
		_, err = repo.CreateIdempotency(ctx, tx, userID, rc.Scope, rc.Key, post.ID, rc.Status(state), s.receiptTTL())
		if errors.Is(err, repo.ErrDuplicate) {
			return ErrDuplicateKey
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &Submission{State: state, Post: post, Verdict: verdict}
	postsIngested.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("post.id", post.ID))
	return out, nil
}

// Get returns a stored post by id, expired or not.
func (s *PostService) Get(ctx context.Context, id string) (*domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("post.id", id)))
	defer span.End()

	p, err := repo.GetPost(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPostNotFound
	}
	return p, err
}

// Feed returns the newest live posts after cursor. Limits outside
// [1, MaxFeedLimit] are clamped; zero or negative selects DefaultFeedLimit.
func (s *PostService) Feed(ctx context.Context, cursor string, limit int) (*FeedPage, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}

	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "Feed",
		trace.WithAttributes(
			attribute.String("cursor", cursor),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	items, err := repo.ListFeed(ctx, s.DB, s.now(), cursor, limit+1)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidCursor
	}
	if err != nil {
		return nil, err
	}

	page := &FeedPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = items[limit-1].ID
	}
	return page, nil
}

// FeedVersion summarizes the live feed (or one group's slice of it) for
// cache validation.
func (s *PostService) FeedVersion(ctx context.Context, groupID string) (int64, *time.Time, error) {
	return repo.FeedStats(ctx, s.DB, groupID, s.now())
}

// GroupPosts lists a group's live posts for one of its members.
func (s *PostService) GroupPosts(ctx context.Context, userID, groupID string) ([]domain.Post, error) {
	tr := otel.Tracer("services/PostService")
	ctx, span := tr.Start(ctx, "GroupPosts",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("group.id", groupID),
		),
	)
	defer span.End()

	member, err := repo.IsMember(ctx, s.DB, userID, groupID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotGroupMember
	}
	return repo.ListGroupPosts(ctx, s.DB, groupID, s.now(), GroupPostsLimit)
}

func (s *PostService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultPostTTL
}

func (s *PostService) receiptTTL() time.Duration {
	if s.ReceiptTTL > 0 {
		return s.ReceiptTTL
	}
	return DefaultIdempotencyTTL
}

func (s *PostService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// cleanTags trims tags and drops blanks, keeping submission order.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
