package email

import (
	"context"
	"errors"
)

// Attachment is a file carried by an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a single-recipient outbound mail with a plain-text body.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	// CheckConnection dials and authenticates without sending anything.
	CheckConnection(ctx context.Context) error
}

var (
	ErrTransport        = errors.New("smtp_transport_failed")
	ErrInvalidRecipient = errors.New("invalid_recipient")
)

// NoOpSender accepts every message and keeps a copy.
type NoOpSender struct {
	Sent []Message
}

func (p *NoOpSender) Send(_ context.Context, msg Message) error {
	p.Sent = append(p.Sent, msg)
	return nil
}

func (p *NoOpSender) CheckConnection(context.Context) error {
	return nil
}
