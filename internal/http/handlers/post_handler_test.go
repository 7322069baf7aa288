package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/http/middleware"
	"github.com/tbourn/go-anon-backend/internal/moderation"
	"github.com/tbourn/go-anon-backend/internal/repo"
	"github.com/tbourn/go-anon-backend/internal/services"
)

func TestCreatePost_AcceptedCleansText(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)

	w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{
		Text:      "mail me at a.b@example.com or +1 415 555 0100",
		TopicTags: []string{" music ", "", "jazz"},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[CreatePostResponse](t, w)
	assert.NotEmpty(t, resp.ID)
	assert.NotContains(t, resp.Text, "example.com")
	assert.Contains(t, resp.Text, "[email]")
	assert.Equal(t, []string{"music", "jazz"}, resp.TopicTags)
	assert.Nil(t, resp.Moderation)
	assert.WithinDuration(t, time.Now().Add(services.DefaultPostTTL), resp.ExpiresAt, time.Minute)
}

func TestCreatePost_PendingReviewIs202(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)

	w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "最近的选举怎么看"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[CreatePostResponse](t, w)
	require.NotNil(t, resp.Moderation)
	assert.Equal(t, moderation.StatusNeedsReview, resp.Moderation.Status)
	assert.Equal(t, "politics", resp.Moderation.Category)
	assert.Equal(t, []string{}, resp.TopicTags)
}

func TestCreatePost_BlockedAndEmpty(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)

	w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "这里有涉黄内容"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	er := decode[ErrorResponse](t, w)
	assert.Equal(t, ErrCodeContentBlocked, er.Code)
	assert.Equal(t, "sexual", er.Category)
	assert.NotEmpty(t, er.Message)

	for _, body := range []any{CreatePostRequest{Text: "   "}, map[string]any{"topicTags": []string{"x"}}} {
		w = do(r, http.MethodPost, "/posts", tok, body, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, ErrCodeBadRequest, decode[ErrorResponse](t, w).Code)
	}

	w = do(r, http.MethodPost, "/posts", tok, "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var n int64
	require.NoError(t, s.db.Model(&domain.Post{}).Count(&n).Error)
	assert.Zero(t, n, "rejected posts must not be stored")
}

func TestCreatePost_RequiresToken(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))

	w := do(r, http.MethodPost, "/posts", "", CreatePostRequest{Text: "hi"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/posts", "not-a-token", CreatePostRequest{Text: "hi"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePost_AttachesCurrentGroup(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)

	g := decode[GroupResponse](t, do(r, http.MethodPost, "/groups/join", tok, JoinGroupRequest{TopicTags: []string{"Hiking"}}, nil))
	created := decode[CreatePostResponse](t, do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "trail at 7?"}, nil))

	p, err := repo.GetPost(context.Background(), s.db, created.ID)
	require.NoError(t, err)
	require.NotNil(t, p.GroupID)
	assert.Equal(t, g.ID, *p.GroupID)
}

func TestCreatePost_IdempotentReplay(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "retry-1"}

	first := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "once only"}, hdr)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(middleware.HeaderIdempotencyReplayed))

	second := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "once only"}, hdr)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(middleware.HeaderIdempotencyReplayed))
	assert.Equal(t, decode[CreatePostResponse](t, first).ID, decode[CreatePostResponse](t, second).ID)

	var n int64
	require.NoError(t, s.db.Model(&domain.Post{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	// Pending-review results replay with their 202.
	hdr2 := map[string]string{middleware.HeaderIdempotencyKey: "retry-2"}
	require.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "投资建议"}, hdr2).Code)
	again := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "投资建议"}, hdr2)
	require.Equal(t, http.StatusAccepted, again.Code)
	require.NotNil(t, decode[CreatePostResponse](t, again).Moderation)

	// Another user with the same key is not a replay.
	other := s.register(t, r)
	w := do(r, http.MethodPost, "/posts", other, CreatePostRequest{Text: "once only"}, hdr)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Header().Get(middleware.HeaderIdempotencyReplayed))
}

func TestCreatePost_ReplayOfDeletedPostIsConflict(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "gone-1"}

	first := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "short lived"}, hdr)
	require.Equal(t, http.StatusCreated, first.Code)
	require.NoError(t, s.db.Delete(&domain.Post{}, "id = ?", decode[CreatePostResponse](t, first).ID).Error)

	w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "short lived"}, hdr)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, ErrCodeReplayUnavailable, decode[ErrorResponse](t, w).Code)
	assert.Empty(t, w.Header().Get(middleware.HeaderIdempotencyReplayed))

	var n int64
	require.NoError(t, s.db.Model(&domain.Post{}).Count(&n).Error)
	assert.Zero(t, n, "a failed replay must not publish a fresh post")
}

// findOnly hides Exists from the router so the validator never flags a
// replay, leaving duplicate detection to the post transaction.
type findOnly struct {
	IdempotencyStore
	err error
}

func (f findOnly) Find(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.IdempotencyStore.Find(ctx, userID, scope, key, now)
}

// racedKey stores a record for key as a concurrent request would have,
// without the validator seeing it.
func racedKey(t *testing.T, s *stack, tok, key string) *domain.Post {
	t.Helper()
	u, err := s.users.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	sub, err := s.svc.Posts.Submit(context.Background(), u.ID, "first writer", nil)
	require.NoError(t, err)
	_, err = repo.CreateIdempotency(context.Background(), s.db, u.ID, PostsScope, key, sub.Post.ID, http.StatusCreated, time.Hour)
	require.NoError(t, err)
	return sub.Post
}

func TestCreatePost_DuplicateKeyRaceReplays(t *testing.T) {
	s := newStack(t)
	s.svc.Idempotency = findOnly{IdempotencyStore: s.svc.Idempotency}
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)
	winner := racedKey(t, s, tok, "race-1")

	w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "second writer"}, map[string]string{middleware.HeaderIdempotencyKey: "race-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(middleware.HeaderIdempotencyReplayed))
	assert.Equal(t, winner.ID, decode[CreatePostResponse](t, w).ID)

	var n int64
	require.NoError(t, s.db.Model(&domain.Post{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestCreatePost_ReplayLookupErrorIs500(t *testing.T) {
	s := newStack(t)
	s.svc.Idempotency = findOnly{IdempotencyStore: s.svc.Idempotency, err: errors.New("replica lag")}
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)
	racedKey(t, s, tok, "race-2")

	w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "second writer"}, map[string]string{middleware.HeaderIdempotencyKey: "race-2"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternal, decode[ErrorResponse](t, w).Code)
	assert.NotContains(t, w.Body.String(), "replica lag")

	var n int64
	require.NoError(t, s.db.Model(&domain.Post{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

type failingPosts struct {
	PostService
	err error
}

func (f failingPosts) Submit(context.Context, string, string, []string) (*services.Submission, error) {
	return nil, f.err
}

func (f failingPosts) SubmitOnce(ctx context.Context, uid, text string, tags []string, _ services.Receipt) (*services.Submission, error) {
	return f.Submit(ctx, uid, text, tags)
}

func (f failingPosts) FeedVersion(context.Context, string) (int64, *time.Time, error) {
	return 0, nil, f.err
}

func (f failingPosts) Feed(context.Context, string, int) (*services.FeedPage, error) {
	return nil, f.err
}

func TestCreatePost_StoreErrorIs500(t *testing.T) {
	s := newStack(t)
	svc := s.svc
	svc.Posts = failingPosts{err: errors.New("disk full")}
	r := s.router(New(svc, Options{}))
	tok := s.register(t, r)

	w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "hello"}, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternal, decode[ErrorResponse](t, w).Code)
	assert.NotContains(t, w.Body.String(), "disk full")
}

func TestListFeed_PaginatesWithCursor(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)

	var ids []string
	for i := 0; i < 5; i++ {
		w := do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "post " + string(rune('a'+i))}, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		ids = append(ids, decode[CreatePostResponse](t, w).ID)
		time.Sleep(2 * time.Millisecond)
	}

	page1 := decode[FeedResponse](t, do(r, http.MethodGet, "/posts?limit=2", "", nil, nil))
	require.Len(t, page1.Items, 2)
	assert.Equal(t, ids[4], page1.Items[0].ID)
	assert.Equal(t, ids[3], page1.Items[1].ID)
	require.NotNil(t, page1.NextCursor)
	assert.Equal(t, ids[3], *page1.NextCursor)

	page2 := decode[FeedResponse](t, do(r, http.MethodGet, "/posts?limit=2&cursor="+*page1.NextCursor, "", nil, nil))
	require.Len(t, page2.Items, 2)
	assert.Equal(t, ids[2], page2.Items[0].ID)
	require.NotNil(t, page2.NextCursor)

	page3 := decode[FeedResponse](t, do(r, http.MethodGet, "/posts?limit=2&cursor="+*page2.NextCursor, "", nil, nil))
	require.Len(t, page3.Items, 1)
	assert.Equal(t, ids[0], page3.Items[0].ID)
	assert.Nil(t, page3.NextCursor)

	raw := do(r, http.MethodGet, "/posts?limit=abc", "", nil, nil)
	require.Equal(t, http.StatusOK, raw.Code)
	assert.Contains(t, raw.Body.String(), `"nextCursor":null`)
	assert.Contains(t, raw.Body.String(), `"groupId":null`)
}

func TestListFeed_ETag304(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))
	tok := s.register(t, r)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "hi"}, nil).Code)

	w := do(r, http.MethodGet, "/posts", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.True(t, strings.HasPrefix(etag, `W/"feed:1:`), etag)
	assert.True(t, strings.HasSuffix(etag, `::20"`), etag)

	w = do(r, http.MethodGet, "/posts", "", nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Zero(t, w.Body.Len())

	// Different page parameters have different validators.
	w = do(r, http.MethodGet, "/posts?limit=5", "", nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusOK, w.Code)

	// A new post changes the validator.
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "again"}, nil).Code)
	w = do(r, http.MethodGet, "/posts", "", nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))
}

func TestListFeed_InvalidCursorAndErrors(t *testing.T) {
	s := newStack(t)
	r := s.router(New(s.svc, Options{}))

	for _, cur := range []string{"not-a-uuid", uuid.NewString()} {
		w := do(r, http.MethodGet, "/posts?cursor="+cur, "", nil, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, cur)
		assert.Equal(t, ErrCodeInvalidCursor, decode[ErrorResponse](t, w).Code)
	}

	svc := s.svc
	svc.Posts = failingPosts{err: errors.New("db gone")}
	w := do(s.router(New(svc, Options{})), http.MethodGet, "/posts", "", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("ETag"))
}

func TestEmbedPost(t *testing.T) {
	s := newStack(t)

	off := s.router(New(s.svc, Options{}))
	w := do(off, http.MethodPost, "/posts/x/vec", "", nil, map[string]string{HeaderInternalToken: "anything"})
	require.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, ErrCodeNotConfigured, decode[ErrorResponse](t, w).Code)

	r := s.router(New(s.svc, Options{InternalToken: "s3cret"}))
	tok := s.register(t, r)
	post := decode[CreatePostResponse](t, do(r, http.MethodPost, "/posts", tok, CreatePostRequest{Text: "vectorize me"}, nil))

	for _, hdr := range []map[string]string{nil, {HeaderInternalToken: "wrong"}} {
		w = do(r, http.MethodPost, "/posts/"+post.ID+"/vec", "", nil, hdr)
		require.Equal(t, http.StatusForbidden, w.Code)
	}

	good := map[string]string{HeaderInternalToken: "s3cret"}
	w = do(r, http.MethodPost, "/posts/"+uuid.NewString()+"/vec", "", nil, good)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/posts/"+post.ID+"/vec", "", nil, good)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, EmbedResponse{ID: post.ID, EmbeddingUpdated: true}, decode[EmbedResponse](t, w))

	p, err := repo.GetPost(context.Background(), s.db, post.ID)
	require.NoError(t, err)
	require.Len(t, p.Embedding, services.EmbeddingDims)
	assert.Equal(t, services.PlaceholderVector("vectorize me"), []float64(p.Embedding))

	w = do(r, http.MethodPost, "/posts/"+post.ID+"/vec", "", EmbedRequest{Text: "override"}, good)
	require.Equal(t, http.StatusOK, w.Code)
	p, err = repo.GetPost(context.Background(), s.db, post.ID)
	require.NoError(t, err)
	assert.Equal(t, services.PlaceholderVector("override"), []float64(p.Embedding))

	w = do(r, http.MethodPost, "/posts/"+post.ID+"/vec", "", "[1,2", good)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
