package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so services can match either.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique constraint rejected the insert.
var ErrDuplicate = errors.New("duplicate")

// ErrGroupFull is returned when an increment would push a group past capacity.
var ErrGroupFull = errors.New("group is full")

// isUniqueViolation recognizes unique-key failures across drivers. glebarez
// sqlite reports them as plain text; pgx uses SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "sqlstate 23505")
}
