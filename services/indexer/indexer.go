package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nftescrow/core/events"
	"nftescrow/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EventRecord is one committed lifecycle or ledger event.
type EventRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Type         string `gorm:"size:64;index;not null"`
	OrderAddress string `gorm:"size:96;index"`
	Buyer        string `gorm:"size:96;index"`
	Timestamp    int64  `gorm:"index"`
	Attributes   string `gorm:"type:text;not null"`
	CreatedAt    time.Time
}

// Attrs decodes the stored attribute map.
func (r EventRecord) Attrs() (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, fmt.Errorf("decode attributes of event %d: %w", r.ID, err)
	}
	return out, nil
}

// Store persists events through gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing connection.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: nil database")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Store{db: db, logger: log.With("component", "indexer")}, nil
}

// Record stores one event.
func (s *Store) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}
	rec := EventRecord{
		Type:         evt.Type,
		OrderAddress: evt.Attributes["order"],
		Buyer:        evt.Attributes["buyer"],
		Attributes:   string(attrs),
	}
	if ts, err := strconv.ParseInt(evt.Attributes["timestamp"], 10, 64); err == nil {
		rec.Timestamp = ts
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListByOrder returns the events of order in commit order, up to limit.
func (s *Store) ListByOrder(ctx context.Context, order string, limit int) ([]EventRecord, error) {
	var out []EventRecord
	q := s.db.WithContext(ctx).Where("order_address = ?", order).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Emit implements events.Emitter. Failures are logged; the ledger has already
// committed by the time events arrive here.
func (s *Store) Emit(evt events.Event) {
	withPayload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	if err := s.Record(context.Background(), withPayload.Event()); err != nil {
		s.logger.Error("index event", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
