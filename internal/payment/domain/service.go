package domain

import (
	"context"
	"errors"
)

// ManualPaymentRequest records a payment reported by the operator.
type ManualPaymentRequest struct {
	PayerIdentity string
	Amount        string
	Note          string
}

type Service interface {
	// Classify decides whether msg is a payment and, when it is, makes sure
	// the ledger holds exactly one record for it. A non-nil error means the
	// ledger could not be read or written.
	Classify(ctx context.Context, msg InboundMessage) (Result, error)
	// RecordManual appends an operator-reported payment through the same
	// ledger path as Classify.
	RecordManual(ctx context.Context, req ManualPaymentRequest) (Result, error)
}

var (
	ErrInvalidPayer  = errors.New("invalid_payer")
	ErrInvalidAmount = errors.New("invalid_amount")
)
