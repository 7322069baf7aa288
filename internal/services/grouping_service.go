// Package services – GroupingService
//
// GroupingService is the small-group matchmaker. A user keeps their most
// recent non-archived group across join calls; otherwise they are seated in
// the least-full open group whose name carries their first topic tag, and a
// new group is opened when none has a free seat. All reads and writes for one
// join run inside a single domain.GroupStore unit of work.

package services

import (
	"context"
	"crypto/rand"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-anon-backend/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultGroupCapacity is the seat count of matchmaker-created groups.
	DefaultGroupCapacity = 12

	defaultGroupBase = "open"
	suffixLen        = 4
	maxSlugRunes     = 48
	suffixAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var nonSlug = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// GroupingService assigns users to capacity-bounded groups.
type GroupingService struct {
	Store    domain.GroupStore
	Capacity int

	// Rand feeds group-name suffixes; nil means crypto/rand.
	Rand io.Reader
}

// AssignUserToGroup returns the user's sticky group or seats them in one.
// Repeated calls never create a second membership for the same group and
// never bump a member count more than once.
func (s *GroupingService) AssignUserToGroup(ctx context.Context, userID string, topicTags []string) (*domain.Group, error) {
	tr := otel.Tracer("services/GroupingService")
	ctx, span := tr.Start(ctx, "AssignUserToGroup",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("tags.count", len(topicTags)),
		),
	)
	defer span.End()

	slug, tagged := "", false
	if len(topicTags) > 0 {
		slug, tagged = Slug(topicTags[0]), true
	}
	prefix := ""
	if slug != "" {
		prefix = slug + "-"
	}
	// A tag with no letters or digits has nothing to match on; it must not
	// fall through to the untagged "any open group" search.
	search := prefix != "" || !tagged

	var (
		out    *domain.Group
		result string
	)
	err := s.Store.WithinTx(ctx, func(u domain.GroupUnit) error {
		_, current, err := u.LatestMembership(userID)
		if err != nil {
			return err
		}
		if current != nil && !current.IsArchived {
			out, result = current, assignSticky
			return nil
		}

		var g *domain.Group
		if search {
			if g, err = u.FindEligibleGroup(prefix); err != nil {
				return err
			}
		}
		result = assignJoined
		if g == nil {
			name, err := s.groupName(slug)
			if err != nil {
				return err
			}
			if g, err = u.CreateGroup(name, s.capacity()); err != nil {
				return err
			}
			result = assignCreated
		}

		m, err := u.FindMembership(userID, g.ID)
		if err != nil {
			return err
		}
		if m == nil {
			if _, err := u.CreateMembership(userID, g.ID); err != nil {
				return err
			}
			if err := u.IncrementMemberCount(g.ID); err != nil {
				return err
			}
			g.MemberCount++
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result == assignCreated {
		groupsCreated.Inc()
	}
	groupAssignments.WithLabelValues(result).Inc()
	span.SetAttributes(
		attribute.String("group.id", out.ID),
		attribute.String("assign.result", result),
	)
	zerolog.Ctx(ctx).Debug().
		Str("user_id", userID).
		Str("group_id", out.ID).
		Str("result", result).
		Msg("user assigned to group")
	return out, nil
}

// Slug lowercases tag and folds every run of characters that are neither
// letters nor digits (in any script) to a single '-', trimming dashes at both
// ends. The result is capped at maxSlugRunes.
func Slug(tag string) string {
	s := cases.Lower(language.Und).String(strings.TrimSpace(tag))
	s = strings.Trim(nonSlug.ReplaceAllString(s, "-"), "-")
	if r := []rune(s); len(r) > maxSlugRunes {
		s = strings.TrimRight(string(r[:maxSlugRunes]), "-")
	}
	return s
}

func (s *GroupingService) groupName(slug string) (string, error) {
	base := slug
	if base == "" {
		base = defaultGroupBase
	}
	suffix, err := s.suffix()
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

func (s *GroupingService) suffix() (string, error) {
	r := s.Rand
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, suffixLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return string(b), nil
}

func (s *GroupingService) capacity() int {
	if s.Capacity > 0 {
		return s.Capacity
	}
	return DefaultGroupCapacity
}
