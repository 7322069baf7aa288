// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase, snake_case strings returned in the `code` field
// of every error envelope (see fail in response.go). Clients branch on the
// code; the message is for people.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "content_blocked",
//	  "category": "sexual",
//	  "message": "Content contains disallowed material"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeContentBlocked    = "content_blocked"
	ErrCodeNotMember         = "not_member"
	ErrCodeNotConfigured     = "not_configured"
	ErrCodeInvalidCursor     = "invalid_cursor"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
	ErrCodeReplayUnavailable = "replay_unavailable"
)
