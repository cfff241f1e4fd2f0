package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DeliveryStatus is the delivery state of a ledger record.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// AmountUnknown marks a payment whose amount could not be extracted.
const AmountUnknown = "unknown"

// PaymentMethodPayPal is the only integration this deployment serves.
const PaymentMethodPayPal = "PayPal"

// Record is one customer payment and its delivery state. Fact fields are
// written once on Append; only the delivery bookkeeping changes afterwards.
type Record struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Reference string       `gorm:"not null" json:"reference"`

	PayerIdentity string     `gorm:"column:payer_identity;not null;index" json:"email"`
	ObservedAt    time.Time  `gorm:"not null" json:"timestamp"`
	Amount        string     `gorm:"not null" json:"amount"`
	Subject       string     `json:"subject"`
	RawExcerpt    string     `json:"raw_excerpt,omitempty"`
	PaymentMethod string     `gorm:"not null" json:"payment_method"`
	MessageID     string     `json:"message_id,omitempty"`
	MessageDate   *time.Time `json:"message_date,omitempty"`
	DedupKey      string     `gorm:"size:64;not null;uniqueIndex" json:"dedup_key"`

	DeliveryStatus      DeliveryStatus `gorm:"size:16;not null;index" json:"delivery_status"`
	DeliveryCompletedAt *time.Time     `json:"delivery_timestamp"`
	Attempts            int            `gorm:"not null;default:0" json:"attempts"`
	LastError           string         `json:"last_error,omitempty"`
	FailedAt            *time.Time     `json:"failed_at,omitempty"`

	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

func (Record) TableName() string { return "payment_records" }

// Terminal reports whether the record has reached delivered or failed.
func (r Record) Terminal() bool {
	return r.DeliveryStatus == DeliveryStatusDelivered || r.DeliveryStatus == DeliveryStatusFailed
}

// HasKnownAmount reports whether Amount carries an extracted value.
func (r Record) HasKnownAmount() bool {
	amount := strings.TrimSpace(r.Amount)
	return amount != "" && amount != AmountUnknown
}

// MarkDelivered moves a pending record to delivered.
func (r *Record) MarkDelivered(at time.Time) error {
	if r.DeliveryStatus != DeliveryStatusPending {
		return ErrInvalidTransition
	}
	at = at.UTC()
	r.DeliveryStatus = DeliveryStatusDelivered
	r.DeliveryCompletedAt = &at
	r.LastError = ""
	r.UpdatedAt = at
	return nil
}

// RecordFailure books a failed delivery attempt. The record moves to failed
// once attempts reach maxAttempts; a non-positive maxAttempts never fails it.
func (r *Record) RecordFailure(reason string, at time.Time, maxAttempts int) error {
	if r.DeliveryStatus != DeliveryStatusPending {
		return ErrInvalidTransition
	}
	at = at.UTC()
	r.Attempts++
	r.LastError = reason
	r.UpdatedAt = at
	if maxAttempts > 0 && r.Attempts >= maxAttempts {
		r.DeliveryStatus = DeliveryStatusFailed
		r.FailedAt = &at
	}
	return nil
}
