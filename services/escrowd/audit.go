package escrowd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Audit entry kinds. Emergency marks operator overrides.
const (
	AuditKindNormal    = "normal"
	AuditKindEmergency = "emergency"
)

// Audit outcomes.
const (
	AuditOutcomeAccepted = "accepted"
	AuditOutcomeRejected = "rejected"
	AuditOutcomeFailed   = "failed"
)

// AuditEntry records one attempted trade action.
type AuditEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID string    `gorm:"size:64;index" json:"request_id"`
	TradeID   string    `gorm:"size:64;index" json:"trade_id"`
	Action    string    `gorm:"size:32;index" json:"action"`
	Caller    string    `gorm:"size:128;index" json:"caller"`
	Outcome   string    `gorm:"size:16" json:"outcome"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	Kind      string    `gorm:"size:16;index" json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenAuditDB connects to the audit database selected by cfg.
func OpenAuditDB(cfg AuditConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	return db, nil
}

// AuditLog persists audit entries.
type AuditLog struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditLog migrates the schema and returns a log writing to db.
func NewAuditLog(db *gorm.DB) (*AuditLog, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: database required")
	}
	if err := db.AutoMigrate(&AuditEntry{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &AuditLog{db: db, now: time.Now}, nil
}

// Record stores entry, filling in its ID, timestamp and kind when unset.
func (l *AuditLog) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	if entry.Kind == "" {
		entry.Kind = AuditKindNormal
	}
	return l.db.WithContext(ctx).Create(&entry).Error
}

// ForTrade returns the newest entries recorded for a trade.
func (l *AuditLog) ForTrade(ctx context.Context, tradeID string, limit int) ([]AuditEntry, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []AuditEntry
	err := l.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at desc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
