package domain

import "context"

// GroupStore opens units of work over groups and memberships. Every call made
// on the GroupUnit passed to fn runs inside one serializable transaction; fn
// returning an error rolls back all of it.
type GroupStore interface {
	WithinTx(ctx context.Context, fn func(GroupUnit) error) error
}

// GroupUnit is the set of group/membership operations available inside a
// GroupStore transaction.
type GroupUnit interface {
	// LatestMembership returns the user's most recent membership and its group,
	// or (nil, nil, nil) when the user has none.
	LatestMembership(userID string) (*Membership, *Group, error)

	// FindEligibleGroup returns the least-full non-archived group with a free
	// seat whose name starts with namePrefix (case-insensitive, "" matches
	// all), or nil when none qualifies.
	FindEligibleGroup(namePrefix string) (*Group, error)

	// CreateGroup inserts an empty group.
	CreateGroup(name string, capacity int) (*Group, error)

	// FindMembership returns the (user, group) membership or nil.
	FindMembership(userID, groupID string) (*Membership, error)

	// CreateMembership inserts a (user, group) membership.
	CreateMembership(userID, groupID string) (*Membership, error)

	// IncrementMemberCount adds exactly one member, failing when the group is
	// already full.
	IncrementMemberCount(groupID string) error
}
