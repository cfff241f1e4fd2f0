package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smallbiznis/paymail/internal/config"
	"github.com/smallbiznis/paymail/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	"go.uber.org/zap"
)

// JSONStore keeps the ledger as a single JSON array on disk. The whole file
// is read before and rewritten after every write; the rewrite goes through
// a temp file and rename so a crash leaves either the old or new contents.
type JSONStore struct {
	mu      sync.Mutex
	path    string
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewJSONStore(path string, log *zap.Logger, metrics *obsmetrics.Metrics) *JSONStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &JSONStore{
		path:    path,
		log:     log.Named("ledger.json"),
		metrics: metrics,
	}
}

func (s *JSONStore) Append(ctx context.Context, record *domain.Record) error {
	if record == nil || record.ID == 0 || record.DedupKey == "" {
		return domain.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].DedupKey == record.DedupKey {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, record.DedupKey)
		}
	}
	if err := s.write(append(records, *record)); err != nil {
		return err
	}

	s.metrics.RecordLedgerWrite(ctx, "append", config.LedgerDriverJSON)
	return nil
}

func (s *JSONStore) Update(ctx context.Context, record *domain.Record) error {
	if record == nil || record.ID == 0 {
		return domain.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	idx := -1
	for i := range records {
		if records[i].ID == record.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ErrNotFound
	}
	if records[idx].Terminal() {
		return domain.ErrInvalidTransition
	}

	current := &records[idx]
	current.DeliveryStatus = record.DeliveryStatus
	current.DeliveryCompletedAt = record.DeliveryCompletedAt
	current.Attempts = record.Attempts
	current.LastError = record.LastError
	current.FailedAt = record.FailedAt
	current.Metadata = record.Metadata
	current.UpdatedAt = record.UpdatedAt
	if current.UpdatedAt.IsZero() {
		current.UpdatedAt = time.Now().UTC()
	}

	if err := s.write(records); err != nil {
		return err
	}

	s.metrics.RecordLedgerWrite(ctx, "update", config.LedgerDriverJSON)
	return nil
}

func (s *JSONStore) All(context.Context) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *JSONStore) FindByDedupKey(_ context.Context, key string) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].DedupKey == key {
			found := records[i]
			return &found, nil
		}
	}
	return nil, nil
}

// load reads the ledger file. A missing or empty file is an empty ledger.
func (s *JSONStore) load() ([]domain.Record, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.Record{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrPersistence, s.path, err)
	}
	if len(raw) == 0 {
		return []domain.Record{}, nil
	}

	var records []domain.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrPersistence, s.path, err)
	}
	return records, nil
}

func (s *JSONStore) write(records []domain.Record) error {
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: temp file: %w", domain.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write: %w", domain.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync: %w", domain.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close: %w", domain.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename: %w", domain.ErrPersistence, err)
	}

	s.log.Debug("ledger rewritten", zap.Int("records", len(records)))
	return nil
}

var _ domain.Store = (*JSONStore)(nil)
