package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/repo"
)

// GroupAdminService exposes operator actions on groups.
type GroupAdminService struct {
	DB *gorm.DB
}

// Archive removes a group from matching and from sticky reuse. Existing
// memberships and posts are left in place.
func (s *GroupAdminService) Archive(ctx context.Context, id string) error {
	err := repo.ArchiveGroup(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrGroupNotFound
	}
	return err
}

// List returns groups in creation order.
func (s *GroupAdminService) List(ctx context.Context, includeArchived bool) ([]domain.Group, error) {
	return repo.ListGroups(ctx, s.DB, includeArchived)
}
