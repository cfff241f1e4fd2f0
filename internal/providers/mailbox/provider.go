package mailbox

import (
	"context"
	"errors"

	paymentdomain "github.com/smallbiznis/paymail/internal/payment/domain"
)

// Mailbox opens authenticated sessions on the inbound folder.
type Mailbox interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one logged-in connection with the folder selected.
type Session interface {
	// Unseen lists the UIDs of messages without the \Seen flag.
	Unseen(ctx context.Context) ([]uint32, error)
	// Fetch downloads and decodes a message without setting \Seen.
	Fetch(ctx context.Context, uid uint32) (paymentdomain.InboundMessage, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

var (
	ErrTransport = errors.New("imap_transport_failed")
	ErrParse     = errors.New("message_parse_failed")
	ErrNotFound  = errors.New("message_not_found")
)
