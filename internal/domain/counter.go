package domain

import "time"

// RateCounter is one fixed-window bucket for the database-backed counter
// store. BucketKey already embeds the window number.
type RateCounter struct {
	BucketKey string    `gorm:"type:varchar(255);primaryKey"`
	Hits      int64     `gorm:"not null;default:0"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (RateCounter) TableName() string { return "rate_counters" }
