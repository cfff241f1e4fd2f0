package domain

import (
	"context"
	"errors"
)

// Store is the durable ledger of payment records.
type Store interface {
	// Append persists a new record. It fails with ErrDuplicateKey when a
	// record with the same dedup key already exists.
	Append(ctx context.Context, record *Record) error
	// Update rewrites the delivery bookkeeping of an existing record.
	Update(ctx context.Context, record *Record) error
	// All returns every record in insertion order.
	All(ctx context.Context) ([]Record, error)
	// FindByDedupKey returns nil when no record carries key.
	FindByDedupKey(ctx context.Context, key string) (*Record, error)
}

var (
	ErrPersistence       = errors.New("ledger_persistence_failed")
	ErrDuplicateKey      = errors.New("duplicate_dedup_key")
	ErrNotFound          = errors.New("record_not_found")
	ErrInvalidTransition = errors.New("invalid_delivery_transition")
	ErrInvalidRecord     = errors.New("invalid_record")
)
