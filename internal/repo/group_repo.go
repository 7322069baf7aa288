package repo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-anon-backend/internal/domain"
)

// GroupStore runs group/membership units of work inside one transaction.
//
// On PostgreSQL each unit takes a transaction-scoped advisory lock on the
// user and row locks on the candidate group, so concurrent joins serialize
// per user and per group. SQLite has no row locks; units are serialized by
// an in-process mutex instead.
type GroupStore struct {
	DB *gorm.DB

	mu sync.Mutex
}

var _ domain.GroupStore = (*GroupStore)(nil)

// NewGroupStore returns a GroupStore over db.
func NewGroupStore(db *gorm.DB) *GroupStore { return &GroupStore{DB: db} }

// WithinTx implements domain.GroupStore.
func (s *GroupStore) WithinTx(ctx context.Context, fn func(domain.GroupUnit) error) error {
	pg := Dialect(s.DB) == "postgres"
	if !pg {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&groupUnit{tx: tx, pg: pg})
	})
}

type groupUnit struct {
	tx *gorm.DB
	pg bool
}

func (u *groupUnit) LatestMembership(userID string) (*domain.Membership, *domain.Group, error) {
	if u.pg {
		if err := u.tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "membership:"+userID).Error; err != nil {
			return nil, nil, err
		}
	}
	var m domain.Membership
	err := u.tx.
		Preload("Group").
		Where("user_id = ?", userID).
		Order("joined_at desc").
		Order("id desc").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	g := m.Group
	return &m, &g, nil
}

func (u *groupUnit) FindEligibleGroup(namePrefix string) (*domain.Group, error) {
	q := u.tx.Where("is_archived = ? AND member_count < capacity", false)
	if p := strings.ToLower(namePrefix); p != "" {
		q = q.Where("LOWER(name) LIKE ?", p+"%")
	}
	if u.pg {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var g domain.Group
	err := q.Order("member_count asc").Order("created_at asc").Order("id asc").First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (u *groupUnit) CreateGroup(name string, capacity int) (*domain.Group, error) {
	now := time.Now().UTC()
	g := &domain.Group{
		ID:        uuid.NewString(),
		Name:      name,
		Capacity:  capacity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.tx.Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

func (u *groupUnit) FindMembership(userID, groupID string) (*domain.Membership, error) {
	var m domain.Membership
	err := u.tx.Where("user_id = ? AND group_id = ?", userID, groupID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (u *groupUnit) CreateMembership(userID, groupID string) (*domain.Membership, error) {
	m := &domain.Membership{
		ID:       uuid.NewString(),
		UserID:   userID,
		GroupID:  groupID,
		JoinedAt: time.Now().UTC(),
	}
	if err := u.tx.Omit("User", "Group").Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

func (u *groupUnit) IncrementMemberCount(groupID string) error {
	res := u.tx.Model(&domain.Group{}).
		Where("id = ? AND member_count < capacity", groupID).
		Updates(map[string]any{
			"member_count": gorm.Expr("member_count + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := u.tx.Model(&domain.Group{}).Where("id = ?", groupID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrGroupFull
}

// GetGroup fetches a group by id, or ErrNotFound.
func GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.Group, error) {
	var g domain.Group
	if err := db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// IsMember reports whether userID has a membership in groupID.
func IsMember(ctx context.Context, db *gorm.DB, userID, groupID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		Count(&n).Error
	return n > 0, err
}

// ArchiveGroup excludes a group from matching and sticky reuse. Missing
// groups return ErrNotFound.
func ArchiveGroup(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_archived": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroups returns groups ordered by creation time, optionally including
// archived ones.
func ListGroups(ctx context.Context, db *gorm.DB, includeArchived bool) ([]domain.Group, error) {
	q := db.WithContext(ctx)
	if !includeArchived {
		q = q.Where("is_archived = ?", false)
	}
	var out []domain.Group
	err := q.Order("created_at asc").Order("id asc").Find(&out).Error
	return out, err
}

// CountMemberships returns the number of membership rows for groupID.
func CountMemberships(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Membership{}).Where("group_id = ?", groupID).Count(&n).Error
	return n, err
}

// LatestGroupID returns the group of the user's most recent membership, or
// nil when the user has never joined one.
func LatestGroupID(ctx context.Context, db *gorm.DB, userID string) (*string, error) {
	var m domain.Membership
	err := db.WithContext(ctx).
		Select("group_id").
		Where("user_id = ?", userID).
		Order("joined_at desc").
		Order("id desc").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m.GroupID, nil
}
