package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/paymail/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	"github.com/smallbiznis/paymail/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the ledger in a SQL table. Every write runs in its own
// transaction.
type GormStore struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewGormStore(conn *gorm.DB, log *zap.Logger, metrics *obsmetrics.Metrics) *GormStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormStore{
		db:      conn,
		log:     log.Named("ledger.gorm"),
		metrics: metrics,
	}
}

// Migrate creates or updates the ledger table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&domain.Record{}); err != nil {
		return fmt.Errorf("%w: migrate: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (s *GormStore) Append(ctx context.Context, record *domain.Record) error {
	if record == nil || record.ID == 0 || record.DedupKey == "" {
		return domain.ErrInvalidRecord
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Record{}).
			Where("dedup_key = ?", record.DedupKey).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrDuplicateKey
		}
		return tx.Create(record).Error
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicateKey), db.IsDuplicateKeyErr(err):
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, record.DedupKey)
	default:
		return fmt.Errorf("%w: append: %w", domain.ErrPersistence, err)
	}

	s.metrics.RecordLedgerWrite(ctx, "append", s.db.Dialector.Name())
	return nil
}

func (s *GormStore) Update(ctx context.Context, record *domain.Record) error {
	if record == nil || record.ID == 0 {
		return domain.ErrInvalidRecord
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.Record
		stmt := tx
		if s.supportsRowLocks() {
			stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := stmt.Where("id = ?", record.ID).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if current.Terminal() {
			return domain.ErrInvalidTransition
		}

		updatedAt := record.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		return tx.Model(&domain.Record{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"delivery_status":       record.DeliveryStatus,
				"delivery_completed_at": record.DeliveryCompletedAt,
				"attempts":              record.Attempts,
				"last_error":            record.LastError,
				"failed_at":             record.FailedAt,
				"metadata":              record.Metadata,
				"updated_at":            updatedAt,
			}).Error
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		return err
	default:
		return fmt.Errorf("%w: update: %w", domain.ErrPersistence, err)
	}

	s.metrics.RecordLedgerWrite(ctx, "update", s.db.Dialector.Name())
	return nil
}

func (s *GormStore) All(ctx context.Context) ([]domain.Record, error) {
	var records []domain.Record
	if err := s.db.WithContext(ctx).
		Order("created_at asc, id asc").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: list: %w", domain.ErrPersistence, err)
	}
	return records, nil
}

func (s *GormStore) FindByDedupKey(ctx context.Context, key string) (*domain.Record, error) {
	var record domain.Record
	err := s.db.WithContext(ctx).
		Where("dedup_key = ?", key).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find: %w", domain.ErrPersistence, err)
	}
	return &record, nil
}

func (s *GormStore) supportsRowLocks() bool {
	switch s.db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

var _ domain.Store = (*GormStore)(nil)
