// Package activity persists participant activity in SQL and serves it to the
// leaderboard gate as its activity source.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	board "emojiboard/native/leaderboard"
)

// ErrInvalidRecord is returned when an ingested record is malformed.
var ErrInvalidRecord = errors.New("activity: invalid record")

// Record is the persisted form of one activity event.
type Record struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Participant string    `gorm:"size:42;index;not null"`
	Kind        string    `gorm:"size:64;not null"`
	Quantity    uint64    `gorm:"not null"`
	OccurredAt  time.Time `gorm:"index;not null"`
	CreatedAt   time.Time
}

// TableName pins the table name independently of the struct name.
func (Record) TableName() string { return "activity_records" }

// Store reads and writes activity records through gorm.
type Store struct {
	db    *gorm.DB
	kinds map[string]struct{}
	now   func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("activity: sqlite dsn required")
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("activity: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("activity: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the activity tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("activity: migrate: %w", err)
	}
	return nil
}

// NewStore wraps db. kinds restricts ingestion to the weighted activity
// kinds; nil accepts any non-empty kind.
func NewStore(db *gorm.DB, kinds []string) *Store {
	var allowed map[string]struct{}
	if len(kinds) > 0 {
		allowed = make(map[string]struct{}, len(kinds))
		for _, kind := range kinds {
			allowed[strings.ToLower(strings.TrimSpace(kind))] = struct{}{}
		}
	}
	return &Store{db: db, kinds: allowed, now: time.Now}
}

// Ingest validates and stores records in one transaction, assigning ids and
// defaulting OccurredAt to the ingestion time.
func (s *Store) Ingest(ctx context.Context, records []board.ActivityRecord) ([]uuid.UUID, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrInvalidRecord)
	}
	now := s.now().UTC()
	rows := make([]Record, 0, len(records))
	for i, record := range records {
		kind := strings.ToLower(strings.TrimSpace(record.Kind))
		switch {
		case record.Participant == (common.Address{}):
			return nil, fmt.Errorf("%w: record %d has no participant", ErrInvalidRecord, i)
		case kind == "":
			return nil, fmt.Errorf("%w: record %d has no kind", ErrInvalidRecord, i)
		case record.Quantity == 0:
			return nil, fmt.Errorf("%w: record %d has zero quantity", ErrInvalidRecord, i)
		}
		if s.kinds != nil {
			if _, ok := s.kinds[kind]; !ok {
				return nil, fmt.Errorf("%w: record %d has unknown kind %q", ErrInvalidRecord, i, record.Kind)
			}
		}
		occurred := record.OccurredAt.UTC()
		if record.OccurredAt.IsZero() {
			occurred = now
		}
		rows = append(rows, Record{
			ID:          uuid.New(),
			Participant: strings.ToLower(record.Participant.Hex()),
			Kind:        kind,
			Quantity:    record.Quantity,
			OccurredAt:  occurred,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("activity: insert: %w", err)
	}
	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	return ids, nil
}

// Activity implements board.ActivitySource.
func (s *Store) Activity(ctx context.Context, window board.Window) ([]board.ActivityRecord, error) {
	query := s.db.WithContext(ctx).Model(&Record{}).Order("occurred_at asc, id asc")
	if !window.From.IsZero() {
		query = query.Where("occurred_at >= ?", window.From.UTC())
	}
	if !window.To.IsZero() {
		query = query.Where("occurred_at <= ?", window.To.UTC())
	}
	var rows []Record
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("activity: query: %w", err)
	}
	out := make([]board.ActivityRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, board.ActivityRecord{
			ID:          row.ID.String(),
			Participant: common.HexToAddress(row.Participant),
			Kind:        row.Kind,
			Quantity:    row.Quantity,
			OccurredAt:  row.OccurredAt,
		})
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("activity: count: %w", err)
	}
	return count, nil
}

// Prune deletes records that occurred before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("occurred_at < ?", cutoff.UTC()).Delete(&Record{})
	if result.Error != nil {
		return 0, fmt.Errorf("activity: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}
