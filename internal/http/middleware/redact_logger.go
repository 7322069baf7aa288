// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. Query strings and
// header values pass through the same sensitive-pattern table that cleans
// post text (phones, emails, handles, links, metadata markers), credentials
// are masked outright, and bodies are never logged.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Internal-Token"},
//	}))
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-anon-backend/internal/depersonalize"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders names extra headers whose values are replaced with
// "[REDACTED]". Matching is case-insensitive and merged with Authorization,
// Cookie and Set-Cookie.
type RedactOptions struct {
	MaskHeaders []string
}

// uuidRE runs before the phone rules so digit groups inside ids are not
// mistaken for phone numbers.
var uuidRE = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)

// scrub redacts ids and every sensitive pattern from s.
func scrub(s string) string {
	if s == "" {
		return s
	}
	return depersonalize.Redact(uuidRE.ReplaceAllString(s, "[id]"))
}

// scrubQuery decodes raw before scrubbing so percent-encoded values
// (a%40b.com) are caught too.
func scrubQuery(raw string) string {
	if dec, err := url.PathUnescape(raw); err == nil {
		raw = dec
	}
	return scrub(truncate(raw, maxQueryLogLength))
}

// RedactingLogger returns a Gin middleware that attaches a request-scoped
// logger and emits one structured access log per request.
//
// Level is error for 5xx or when handlers recorded gin errors, warn for 4xx,
// info otherwise. The user id is taken from the context after the chain runs
// so authenticated requests carry it.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		rid, _ := c.Get(requestIDKey)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(strings.Join(vv, ", "))
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		attachLogger(c, &l)

		c.Next()

		status := c.Writer.Status()
		uid, _ := c.Get("userID")

		ev := log.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = log.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", scrub(c.Errors.String()))
			}
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", asString(rid)).
			Str("user_id", asString(uid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", scrubQuery(c.Request.URL.RawQuery)).
			Str("remote_ip", c.ClientIP()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
