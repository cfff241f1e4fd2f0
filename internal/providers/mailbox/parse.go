package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	paymentdomain "github.com/smallbiznis/paymail/internal/payment/domain"
)

// ParseMessage decodes a raw RFC 5322 message. The body is the concatenation
// of every text/plain part; other parts are skipped.
func ParseMessage(r io.Reader) (paymentdomain.InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return paymentdomain.InboundMessage{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	defer mr.Close()

	var msg paymentdomain.InboundMessage
	h := mr.Header
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	} else {
		msg.Sender = strings.TrimSpace(h.Get("From"))
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date.UTC()
	}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}

	var body strings.Builder
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			return msg, fmt.Errorf("%w: %w", ErrParse, err)
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil || !strings.EqualFold(contentType, "text/plain") {
			continue
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			return msg, fmt.Errorf("%w: %w", ErrParse, err)
		}
		body.Write(content)
	}
	msg.Body = body.String()
	return msg, nil
}
