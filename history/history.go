// Package history persists settled rewards claims for off-chain accounting.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/logger"
)

// ErrDSNRequired is returned when no database location is configured.
var ErrDSNRequired = errors.New("history: dsn must be configured")

// SettlementRecord - one settled claim
type SettlementRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RunID           string    `gorm:"index;size:36" json:"run_id,omitempty"`
	TokenAccount    string    `gorm:"index;size:44" json:"token_account"`
	Recipient       string    `gorm:"size:44" json:"recipient"`
	Amount          uint64    `json:"amount"`
	Fee             uint64    `json:"fee"`
	Manager         string    `gorm:"index;size:44" json:"manager,omitempty"`
	FeeTokenAccount string    `gorm:"size:44" json:"fee_token_account,omitempty"`
	Index           string    `gorm:"size:40" json:"index"`
	Timestamp       uint64    `gorm:"index" json:"timestamp"`
	CreatedAt       time.Time `json:"created_at"`
}

func (SettlementRecord) TableName() string {
	return "settlement_records"
}

func newRecord(runID string, claim earn.RewardsClaim) SettlementRecord {
	rec := SettlementRecord{
		RunID:        runID,
		TokenAccount: claim.TokenAccount.String(),
		Recipient:    claim.Recipient.String(),
		Amount:       claim.Amount,
		Fee:          claim.Fee,
		Index:        claim.Index.Dec(),
		Timestamp:    claim.Timestamp,
	}
	if !claim.Manager.IsZero() {
		rec.Manager = claim.Manager.String()
	}
	if !claim.FeeTokenAccount.IsZero() {
		rec.FeeTokenAccount = claim.FeeTokenAccount.String()
	}
	return rec
}

type runIDKey struct{}

// WithRunID tags claims recorded under ctx with a batch run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the batch run ID carried by ctx, if any.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Repository stores settlement records and implements earn.ClaimSink.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ earn.ClaimSink = (*Repository)(nil)

// Open connects to a sqlite database at dsn and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Repository, error) {
	if err := db.AutoMigrate(&SettlementRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return &Repository{db: db, logger: logger.OrDiscard(log)}, nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordClaim persists a settled claim together with the run ID from ctx.
func (r *Repository) RecordClaim(ctx context.Context, claim earn.RewardsClaim) error {
	rec := newRecord(RunIDFrom(ctx), claim)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record claim: %w", err)
	}
	r.logger.Debug("claim recorded",
		slog.String("token_account", rec.TokenAccount),
		slog.String("run_id", rec.RunID),
		slog.Uint64("amount", rec.Amount),
	)
	return nil
}

// ListByTokenAccount returns the newest records first. limit <= 0 returns all.
func (r *Repository) ListByTokenAccount(ctx context.Context, tokenAccount solana.PublicKey, limit int) ([]SettlementRecord, error) {
	q := r.db.WithContext(ctx).
		Where("token_account = ?", tokenAccount.String()).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []SettlementRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return out, nil
}

// ListByRun returns the records of one claim batch in insertion order.
func (r *Repository) ListByRun(ctx context.Context, runID string) ([]SettlementRecord, error) {
	var out []SettlementRecord
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list run %s: %w", runID, err)
	}
	return out, nil
}

// Totals sums the amounts and fees settled for a token account.
func (r *Repository) Totals(ctx context.Context, tokenAccount solana.PublicKey) (amount, fee uint64, err error) {
	var row struct {
		Amount uint64
		Fee    uint64
	}
	err = r.db.WithContext(ctx).
		Model(&SettlementRecord{}).
		Select("COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(fee), 0) AS fee").
		Where("token_account = ?", tokenAccount.String()).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum claims: %w", err)
	}
	return row.Amount, row.Fee, nil
}
