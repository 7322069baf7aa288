// Package domain defines the persistence models for users, posts, groups,
// and memberships. These types are mapped with GORM and form the core data
// layer of the anonymous board.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// User is a pseudonymous account. Only a keyed hash of the bearer token is
// stored; the raw token is shown once at registration and never persisted.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ShadowID: public pseudonymous identifier; unique, not reversible.
//   - TokenHash: keyed hash of the bearer token; unique, never serialized.
//   - LastSeenAt: touched on every authenticated request.
type User struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ShadowID   string    `json:"shadowId"    gorm:"type:varchar(64);not null;uniqueIndex:ux_users_shadow"`
	TokenHash  string    `json:"-"           gorm:"type:varchar(64);not null;uniqueIndex:ux_users_token_hash"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Post is a short ephemeral message. TextRaw is kept for audit only; every
// client-facing representation uses TextClean.
//
// Fields:
//   - AuthorID: owning user (indexed).
//   - TopicTags: tags in submission order, stored as a JSON array.
//   - GroupID: the author's current group at posting time, if any.
//   - ExpiresAt: CreatedAt + post TTL; expired posts are filtered from every listing.
//   - Embedding: optional vector written out-of-band, never serialized.
type Post struct {
	ID        string                      `json:"id"        gorm:"type:char(36);primaryKey"`
	AuthorID  string                      `json:"-"         gorm:"type:char(36);not null;index:idx_posts_author"`
	TextRaw   string                      `json:"-"         gorm:"type:text;not null"`
	TextClean string                      `json:"text"      gorm:"type:text;not null"`
	TopicTags datatypes.JSONSlice[string] `json:"topicTags"`
	GroupID   *string                     `json:"groupId,omitempty" gorm:"type:char(36);index:idx_posts_group"`
	CreatedAt time.Time                   `json:"createdAt" gorm:"index:idx_posts_feed"`
	ExpiresAt time.Time                   `json:"expiresAt" gorm:"not null;index:idx_posts_expiry"`
	Embedding datatypes.JSONSlice[float64] `json:"-"`

	Author User   `json:"-" gorm:"foreignKey:AuthorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Group  *Group `json:"-" gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string { return "posts" }

// Group is a capacity-bounded discussion room. MemberCount is mutated only by
// the atomic increment in the group store and never exceeds Capacity.
type Group struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"        gorm:"type:varchar(96);not null;index:idx_groups_name"`
	Capacity    int       `json:"capacity"    gorm:"not null;default:12;check:chk_groups_capacity,capacity > 0"`
	MemberCount int       `json:"memberCount" gorm:"not null;default:0;check:chk_groups_member_count,member_count >= 0 AND member_count <= capacity"`
	IsArchived  bool      `json:"-"           gorm:"not null;default:false;index:idx_groups_open,priority:1"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// TableName returns the database table name for Group.
func (Group) TableName() string { return "groups" }

// Full reports whether the group has no free seat.
func (g Group) Full() bool { return g.MemberCount >= g.Capacity }

// Membership links a user to a group. The (user, group) pair is unique.
type Membership struct {
	ID       string    `json:"id"       gorm:"type:char(36);primaryKey"`
	UserID   string    `json:"userId"   gorm:"type:char(36);not null;uniqueIndex:ux_memberships_user_group,priority:1;index:idx_memberships_latest,priority:1"`
	GroupID  string    `json:"groupId"  gorm:"type:char(36);not null;uniqueIndex:ux_memberships_user_group,priority:2"`
	JoinedAt time.Time `json:"joinedAt" gorm:"not null;index:idx_memberships_latest,priority:2"`

	User  User  `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Group Group `json:"-" gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Membership.
func (Membership) TableName() string { return "memberships" }
