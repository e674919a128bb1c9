// Package indexer archives engine events in a SQL database for querying by
// participant, type and epoch.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"licensestake/core/events"
)

// Record is one archived event.
type Record struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Type        string    `gorm:"index" json:"type"`
	Participant string    `gorm:"index" json:"participant,omitempty"`
	Epoch       uint64    `gorm:"index" json:"epoch"`
	Attributes  string    `json:"-"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}

// Fields decodes the stored attribute map.
func (r Record) Fields() map[string]string {
	out := map[string]string{}
	_ = json.Unmarshal([]byte(r.Attributes), &out)
	return out
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Type        string
	Participant string
	Epoch       uint64
	Limit       int
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Open connects to dsn. DSNs starting with postgres:// or postgresql:// use
// PostgreSQL; anything else is a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return db, nil
}

// Archive is an events.Emitter writing every event to the database.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewArchive migrates the schema and returns an archive over db.
func NewArchive(db *gorm.DB, log *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archive{db: db, logger: log.With("component", "indexer"), now: time.Now}, nil
}

// Emit implements events.Emitter. Write failures are logged and dropped.
func (a *Archive) Emit(evt events.Event) {
	flat := events.Flatten(evt)
	if a == nil || flat == nil {
		return
	}
	attrs, err := json.Marshal(flat.Attributes)
	if err != nil {
		a.logger.Error("encode event attributes", "type", flat.Type, "error", err)
		return
	}
	record := Record{
		ID:          uuid.New(),
		Type:        flat.Type,
		Participant: strings.ToLower(flat.Attributes["participant"]),
		Attributes:  string(attrs),
		CreatedAt:   a.now().UTC(),
	}
	if epoch, err := strconv.ParseUint(flat.Attributes["epoch"], 10, 64); err == nil {
		record.Epoch = epoch
	}
	if err := a.db.Create(&record).Error; err != nil {
		a.logger.Error("archive event", "type", flat.Type, "error", err)
	}
}

// Query returns matching records, newest first.
func (a *Archive) Query(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := a.db.WithContext(ctx).Model(&Record{})
	if t := strings.TrimSpace(filter.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if p := strings.TrimSpace(filter.Participant); p != "" {
		q = q.Where("participant = ?", strings.ToLower(p))
	}
	if filter.Epoch > 0 {
		q = q.Where("epoch = ?", filter.Epoch)
	}
	var records []Record
	if err := q.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	return records, nil
}
