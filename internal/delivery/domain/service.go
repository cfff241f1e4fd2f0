package domain

import (
	"context"
	"errors"

	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
)

type Service interface {
	// Deliver generates the artifact for a pending record, mails it to the
	// payer and persists the resulting state. It reports true only when the
	// record was delivered and the ledger updated. On failure the record
	// keeps its status unless the attempt limit moved it to failed.
	Deliver(ctx context.Context, record *ledgerdomain.Record) (bool, error)
}

var (
	ErrDeliveryFailed    = errors.New("delivery_failed")
	ErrInvalidTransition = ledgerdomain.ErrInvalidTransition
)
