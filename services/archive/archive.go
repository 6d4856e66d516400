// Package archive persists arbiter events into a relational store so
// operators can audit slashes and confirmations after the fact.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"repchain/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultBuffer = 256
)

// Config selects the database backing the archive.
type Config struct {
	Driver string
	DSN    string
}

// Open connects to the configured database.
func Open(cfg Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("archive: dsn required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// Archive records events. Emit queues them for Run; Record writes inline.
type Archive struct {
	db      *gorm.DB
	queue   chan events.Event
	now     func() time.Time
	logger  *slog.Logger
	dropped atomic.Uint64
}

// Option customises an Archive.
type Option func(*Archive)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

// WithBuffer sets how many events may wait for the writer before Emit drops.
func WithBuffer(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.queue = make(chan events.Event, n)
		}
	}
}

// New migrates db and returns an archive writing to it.
func New(db *gorm.DB, opts ...Option) (*Archive, error) {
	if db == nil {
		return nil, errors.New("archive: db is required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	a := &Archive{
		db:     db,
		queue:  make(chan events.Event, defaultBuffer),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Emit implements events.Emitter. It never blocks the caller.
func (a *Archive) Emit(evt events.Event) {
	if a == nil || evt == nil {
		return
	}
	select {
	case a.queue <- evt:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("archive queue full, event dropped", "type", evt.EventType(), "dropped", n)
	}
}

// Dropped reports how many events Emit discarded.
func (a *Archive) Dropped() uint64 { return a.dropped.Load() }

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (a *Archive) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-a.queue:
			a.write(evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-a.queue:
					a.write(evt)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Archive) write(evt events.Event) {
	if err := a.Record(evt); err != nil {
		a.logger.Error("archive write failed", "type", evt.EventType(), "error", err)
	}
}

// Record stores evt and any derived slash or confirmation row in one
// transaction.
func (a *Archive) Record(evt events.Event) error {
	if evt == nil {
		return nil
	}
	rendered := events.Render(evt)
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("archive: encode attributes: %w", err)
	}
	cycle, _ := strconv.ParseUint(rendered.Attributes["cycle"], 10, 64)
	now := a.now().UTC()

	return a.db.Transaction(func(tx *gorm.DB) error {
		record := EventRecord{Type: rendered.Type, Cycle: cycle, Attributes: string(attrs), CreatedAt: now}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("archive: insert event: %w", err)
		}
		switch rendered.Type {
		case events.TypeMinerSlashed:
			slash := SlashRecord{
				Cycle:     cycle,
				Miner:     rendered.Attributes["miner"],
				Amount:    rendered.Attributes["amount"],
				Reason:    rendered.Attributes["reason"],
				CreatedAt: now,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&slash).Error; err != nil {
				return fmt.Errorf("archive: insert slash: %w", err)
			}
		case events.TypeCycleConfirmed:
			leaves, _ := strconv.ParseUint(rendered.Attributes["nLeaves"], 10, 64)
			confirmation := ConfirmationRecord{
				Cycle:       cycle,
				Root:        rendered.Attributes["root"],
				NLeaves:     leaves,
				JRH:         rendered.Attributes["jrh"],
				ConfirmedAt: now,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&confirmation).Error; err != nil {
				return fmt.Errorf("archive: insert confirmation: %w", err)
			}
		}
		return nil
	})
}

// EventFilter narrows event queries. Zero values match everything.
type EventFilter struct {
	Type      string
	FromCycle uint64
	ToCycle   uint64
	Limit     int
}

func (f EventFilter) apply(db *gorm.DB) *gorm.DB {
	q := db.Model(&EventRecord{})
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if f.FromCycle > 0 {
		q = q.Where("cycle >= ?", f.FromCycle)
	}
	if f.ToCycle > 0 {
		q = q.Where("cycle <= ?", f.ToCycle)
	}
	q = q.Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q
}

// Events returns archived events in emission order.
func (a *Archive) Events(filter EventFilter) ([]EventRecord, error) {
	var out []EventRecord
	if err := filter.apply(a.db).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: load events: %w", err)
	}
	return out, nil
}

// Slashes returns recorded slashes, optionally for a single miner.
func (a *Archive) Slashes(miner string) ([]SlashRecord, error) {
	q := a.db.Model(&SlashRecord{}).Order("cycle ASC, id ASC")
	if m := strings.TrimSpace(miner); m != "" {
		q = q.Where("miner = ?", m)
	}
	var out []SlashRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: load slashes: %w", err)
	}
	return out, nil
}

// Confirmations returns the most recent confirmations, newest first.
func (a *Archive) Confirmations(limit int) ([]ConfirmationRecord, error) {
	q := a.db.Model(&ConfirmationRecord{}).Order("cycle DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []ConfirmationRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: load confirmations: %w", err)
	}
	return out, nil
}
