package archive

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord stores one emitted mining event with its rendered attributes.
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Type       string    `gorm:"index;not null"`
	Cycle      uint64    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// SlashRecord is a denormalised view of mining.minerSlashed events.
type SlashRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Cycle     uint64 `gorm:"uniqueIndex:idx_slash_cycle_miner"`
	Miner     string `gorm:"uniqueIndex:idx_slash_cycle_miner;index"`
	Amount    string `gorm:"not null"`
	Reason    string
	CreatedAt time.Time
}

// ConfirmationRecord keeps the canonical root of every confirmed cycle.
type ConfirmationRecord struct {
	Cycle       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Root        string `gorm:"not null"`
	NLeaves     uint64
	JRH         string
	ConfirmedAt time.Time
}

// AutoMigrate creates or updates the archive tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventRecord{},
		&SlashRecord{},
		&ConfirmationRecord{},
	)
}
