// Group HTTP handlers.
//
//   - POST /groups/join        (authenticated; sticky-or-assign)
//   - GET  /groups/{id}/posts  (authenticated; members only)
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-anon-backend/internal/http/middleware"
	"github.com/tbourn/go-anon-backend/internal/services"
)

// JoinGroupRequest lists the caller's topics. An empty body joins an "open" group.
type JoinGroupRequest struct {
	TopicTags []string `json:"topicTags" example:"music,jazz"`
}

// GroupResponse describes the group the caller belongs to.
type GroupResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"        example:"music-k3z9"`
	Capacity    int    `json:"capacity"    example:"12"`
	MemberCount int    `json:"memberCount" example:"4"`
}

// GroupPostItem is one post in a group timeline.
type GroupPostItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	TopicTags []string  `json:"topicTags"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupPostsResponse wraps a group timeline.
type GroupPostsResponse struct {
	Items []GroupPostItem `json:"items"`
}

// JoinGroup godoc
// @ID          joinGroup
// @Summary     Join a topic group
// @Description Returns the caller's current group if it is still open, otherwise the least-full open group
// @Description for the first tag, otherwise a newly created one.
// @Tags        Groups
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.JoinGroupRequest  false  "Topic tags"
// @Success     200   {object}  handlers.GroupResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid token"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups/join [post]
func (h *Handlers) JoinGroup(c *gin.Context) {
	var req JoinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	g, err := h.groups.AssignUserToGroup(c.Request.Context(), middleware.UserID(c), req.TopicTags)
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, http.StatusOK, GroupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Capacity:    g.Capacity,
		MemberCount: g.MemberCount,
	})
}

// ListGroupPosts godoc
// @ID          listGroupPosts
// @Summary     Group timeline
// @Description Up to 50 non-expired posts of the group, newest first. Only members may read.
// @Tags        Groups
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Group ID"  format(uuid)
// @Success     200  {object}  handlers.GroupPostsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid token"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a member"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups/{id}/posts [get]
func (h *Handlers) ListGroupPosts(c *gin.Context) {
	posts, err := h.posts.GroupPosts(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if errors.Is(err, services.ErrNotGroupMember) {
		fail(c, http.StatusForbidden, ErrCodeNotMember, "not part of this group")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	resp := GroupPostsResponse{Items: make([]GroupPostItem, 0, len(posts))}
	for i := range posts {
		p := &posts[i]
		resp.Items = append(resp.Items, GroupPostItem{
			ID:        p.ID,
			Text:      p.TextClean,
			TopicTags: tagsOf(p),
			CreatedAt: p.CreatedAt,
		})
	}
	ok(c, http.StatusOK, resp)
}
