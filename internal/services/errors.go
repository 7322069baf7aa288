// Package services holds the business logic for registration, group
// matchmaking, and post ingestion. This file centralizes service-level error
// values so handlers can map them to HTTP results consistently.
package services

import "errors"

var (
	// ErrEmptyText is returned when a post has no text after trimming.
	ErrEmptyText = errors.New("text is empty")

	// ErrPostNotFound indicates the requested post does not exist.
	ErrPostNotFound = errors.New("post not found")

	// ErrGroupNotFound indicates the requested group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrNotGroupMember is returned when a user reads a group they never joined.
	ErrNotGroupMember = errors.New("not a member of this group")

	// ErrInvalidToken covers missing, malformed, and unknown bearer tokens alike.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCursor is returned when a feed cursor does not name a live post.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrDuplicateKey is returned by SubmitOnce when the Idempotency-Key was
	// recorded by an earlier request. The new post is rolled back.
	ErrDuplicateKey = errors.New("idempotency key already used")
)

// BlockedError is the policy rejection for a post that hit a hard moderation
// rule. Nothing is persisted when it is returned.
type BlockedError struct {
	Category string
	Message  string
}

func (e *BlockedError) Error() string {
	return "content blocked (" + e.Category + "): " + e.Message
}
