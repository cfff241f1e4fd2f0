package domain

import (
	"time"

	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
)

// InboundMessage is a decoded mailbox message as the classifier sees it.
type InboundMessage struct {
	UID       uint32
	MessageID string
	Subject   string
	Sender    string
	Body      string
	Date      time.Time
}

// PaymentFact is what the classifier extracts from one payment message.
type PaymentFact struct {
	PayerIdentity string
	ObservedAt    time.Time
	Amount        string
	Subject       string
	RawExcerpt    string
	PaymentMethod string
	MessageID     string
	MessageDate   time.Time
	DedupKey      string
}

// Outcome tells a caller what Classify did with a message.
type Outcome string

const (
	// OutcomeNoMatch means the message is not a payment; nothing was written.
	OutcomeNoMatch Outcome = "no_match"
	// OutcomeCreated means a new pending record was appended.
	OutcomeCreated Outcome = "created"
	// OutcomeExisting means the dedup key was already in the ledger.
	OutcomeExisting Outcome = "existing"
)

// Result carries the fact and the owning ledger record for a payment match.
type Result struct {
	Outcome Outcome
	Fact    *PaymentFact
	Record  *ledgerdomain.Record
}

// Matched reports whether the message was a payment.
func (r Result) Matched() bool {
	return r.Outcome == OutcomeCreated || r.Outcome == OutcomeExisting
}
