// Post HTTP handlers.
//
//   - POST /posts            (authenticated; rate limited; optional Idempotency-Key)
//   - GET  /posts            (public feed, keyset cursor, weak ETag)
//   - POST /posts/{id}/vec   (internal; X-Internal-Token)
package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/http/middleware"
	"github.com/tbourn/go-anon-backend/internal/moderation"
	"github.com/tbourn/go-anon-backend/internal/services"
	"github.com/tbourn/go-anon-backend/internal/utils"
)

// HeaderInternalToken authenticates internal callers of the vector route.
const HeaderInternalToken = "X-Internal-Token"

//
// DTOs
//

// CreatePostRequest is the JSON payload for a new post.
type CreatePostRequest struct {
	Text      string   `json:"text"      example:"anyone up for a late show tonight?"`
	TopicTags []string `json:"topicTags" example:"music,nightlife"`
}

// CreatePostResponse describes a stored post. Moderation is present only
// when the post is pending review (HTTP 202).
type CreatePostResponse struct {
	ID         string              `json:"id"`
	Text       string              `json:"text"`
	TopicTags  []string            `json:"topicTags"`
	ExpiresAt  time.Time           `json:"expiresAt"`
	Moderation *moderation.Verdict `json:"moderation,omitempty"`
}

// FeedItem is one post in the public feed.
type FeedItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	TopicTags []string  `json:"topicTags"`
	GroupID   *string   `json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// FeedResponse is a feed page. NextCursor is null on the last page.
type FeedResponse struct {
	Items      []FeedItem `json:"items"`
	NextCursor *string    `json:"nextCursor"`
}

// EmbedRequest optionally overrides the text that is vectorized.
type EmbedRequest struct {
	Text string `json:"text,omitempty"`
}

// EmbedResponse acknowledges a vector write.
type EmbedResponse struct {
	ID               string `json:"id"`
	EmbeddingUpdated bool   `json:"embeddingUpdated"`
}

//
// Handlers
//

// CreatePost godoc
// @ID          createPost
// @Summary     Publish a post
// @Description Cleans personal data from the text, moderates it, and stores it with the author's current group.
// @Description Returns 202 when the post is stored but flagged for review. Blocked content is never stored.
// @Tags        Posts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Replay key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreatePostRequest  true  "Post payload"
// @Success     201  {object}  handlers.CreatePostResponse  "Accepted"
// @Success     202  {object}  handlers.CreatePostResponse  "Stored, pending review"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty text or blocked content"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid token"
// @Failure     409  {object}  handlers.ErrorResponse  "Stored Idempotency-Key result no longer available"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limit exceeded"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /posts [post]
func (h *Handlers) CreatePost(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	if key != "" && middleware.IsReplay(c) {
		// The post rate limit was skipped for this request, so it must be
		// answered from the stored result or not at all.
		h.replayPost(c, uid, key)
		return
	}

	var (
		sub *services.Submission
		err error
	)
	if key != "" {
		sub, err = h.posts.SubmitOnce(ctx, uid, req.Text, req.TopicTags, services.Receipt{
			Scope:  PostsScope,
			Key:    key,
			Status: statusFor,
		})
	} else {
		sub, err = h.posts.Submit(ctx, uid, req.Text, req.TopicTags)
	}
	var blocked *services.BlockedError
	switch {
	case errors.Is(err, services.ErrDuplicateKey):
		// A concurrent request with the same key stored its post first.
		h.replayPost(c, uid, key)
		return
	case errors.As(err, &blocked):
		failBlocked(c, blocked.Category, blocked.Message)
		return
	case errors.Is(err, services.ErrEmptyText):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text is required")
		return
	case err != nil:
		internalError(c, err)
		return
	}

	status := statusFor(sub.State)
	resp := newCreatePostResponse(sub.Post)
	if sub.State == services.StatePendingReview {
		v := sub.Verdict
		resp.Moderation = &v
	}
	ok(c, status, resp)
}

// statusFor maps a stored post's terminal state to its response code.
func statusFor(s services.State) int {
	if s == services.StatePendingReview {
		return http.StatusAccepted
	}
	return http.StatusCreated
}

const msgReplayGone = "stored result for this Idempotency-Key is no longer available; retry with a new key"

// replayPost answers from the stored result for key. It never falls back to
// creating a post: a record that lapsed or points at a missing post is a 409,
// and store failures are 500s.
func (h *Handlers) replayPost(c *gin.Context, uid, key string) {
	ctx := c.Request.Context()
	var rec *domain.Idempotency
	if h.idem != nil {
		var err error
		if rec, err = h.idem.Find(ctx, uid, PostsScope, key, time.Now().UTC()); err != nil {
			internalError(c, err)
			return
		}
	}
	if rec == nil {
		fail(c, http.StatusConflict, ErrCodeReplayUnavailable, msgReplayGone)
		return
	}
	p, err := h.posts.Get(ctx, rec.PostID)
	switch {
	case errors.Is(err, services.ErrPostNotFound):
		fail(c, http.StatusConflict, ErrCodeReplayUnavailable, msgReplayGone)
		return
	case err != nil:
		internalError(c, err)
		return
	}

	resp := newCreatePostResponse(p)
	if rec.Status == http.StatusAccepted {
		resp.Moderation = &moderation.Verdict{Status: moderation.StatusNeedsReview}
	}
	c.Header(middleware.HeaderIdempotencyReplayed, "true")
	ok(c, rec.Status, resp)
}

// ListFeed godoc
// @ID          listFeed
// @Summary     Public feed
// @Description Non-expired posts, newest first. Pass nextCursor back as cursor for the next page.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Posts
// @Produce     json
// @Param       limit   query  int     false  "Page size"              minimum(1) maximum(50) default(20)
// @Param       cursor  query  string  false  "Id of the last post seen"  format(uuid)
// @Success     200  {object}  handlers.FeedResponse
// @Success     304  "Not modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid cursor"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /posts [get]
func (h *Handlers) ListFeed(c *gin.Context) {
	ctx := c.Request.Context()
	limit := utils.ClampLimit(c.Query("limit"), services.DefaultFeedLimit, services.MaxFeedLimit)
	cursor := c.Query("cursor")
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidCursor, "invalid cursor")
			return
		}
	}

	// ETag pre-check (best effort).
	if count, latest, err := h.posts.FeedVersion(ctx, ""); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"feed:%d:%d:%s:%d"`, count, ts, cursor, limit)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, err := h.posts.Feed(ctx, cursor, limit)
	if errors.Is(err, services.ErrInvalidCursor) {
		fail(c, http.StatusBadRequest, ErrCodeInvalidCursor, "invalid cursor")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	resp := FeedResponse{Items: make([]FeedItem, 0, len(page.Items))}
	for i := range page.Items {
		p := &page.Items[i]
		resp.Items = append(resp.Items, FeedItem{
			ID:        p.ID,
			Text:      p.TextClean,
			TopicTags: tagsOf(p),
			GroupID:   p.GroupID,
			CreatedAt: p.CreatedAt,
		})
	}
	if page.NextCursor != "" {
		next := page.NextCursor
		resp.NextCursor = &next
	}
	ok(c, http.StatusOK, resp)
}

// EmbedPost godoc
// @ID          embedPost
// @Summary     Store a post vector (internal)
// @Description Writes a deterministic placeholder vector for the post. Body text defaults to the post's clean text.
// @Tags        Internal
// @Accept      json
// @Produce     json
// @Param       X-Internal-Token  header  string  true   "Internal API token"
// @Param       id                path    string  true   "Post ID"  format(uuid)
// @Param       body              body    handlers.EmbedRequest  false  "Optional source text"
// @Success     200  {object}  handlers.EmbedResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid internal token"
// @Failure     404  {object}  handlers.ErrorResponse  "Post not found"
// @Failure     501  {object}  handlers.ErrorResponse  "Internal token not configured"
// @Router      /posts/{id}/vec [post]
func (h *Handlers) EmbedPost(c *gin.Context) {
	if h.opts.InternalToken == "" {
		fail(c, http.StatusNotImplemented, ErrCodeNotConfigured, "INTERNAL_API_TOKEN missing")
		return
	}
	got := c.GetHeader(HeaderInternalToken)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.InternalToken)) != 1 {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "invalid internal token")
		return
	}

	var req EmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	id := c.Param("id")
	err := h.embeds.Embed(c.Request.Context(), id, req.Text)
	if errors.Is(err, services.ErrPostNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "post not found")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, http.StatusOK, EmbedResponse{ID: id, EmbeddingUpdated: true})
}

//
// Helpers
//

func newCreatePostResponse(p *domain.Post) CreatePostResponse {
	return CreatePostResponse{
		ID:        p.ID,
		Text:      p.TextClean,
		TopicTags: tagsOf(p),
		ExpiresAt: p.ExpiresAt,
	}
}

// tagsOf never returns nil so empty tag lists encode as [].
func tagsOf(p *domain.Post) []string {
	if len(p.TopicTags) == 0 {
		return []string{}
	}
	return append([]string(nil), p.TopicTags...)
}
