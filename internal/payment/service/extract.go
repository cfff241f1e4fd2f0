package service

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	"github.com/smallbiznis/paymail/internal/payment/domain"
)

const excerptRunes = 280

var (
	payerPattern  = regexp.MustCompile(`[\p{L}\p{N}_.-]+@[\p{L}\p{N}_.-]+`)
	amountPattern = regexp.MustCompile(`\$(\d+\.?\d*)`)

	paymentKeywords = []string{"paypal", "payment", "paid", "$", "receipt", "confirmation"}
)

// IsPaymentMessage reports whether subject or body carries a payment keyword.
func IsPaymentMessage(subject, body string) bool {
	subject = strings.ToLower(subject)
	body = strings.ToLower(body)
	for _, kw := range paymentKeywords {
		if strings.Contains(subject, kw) || strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

// ExtractPayer prefers the first address in the body and falls back to the
// envelope sender. Forwarded receipts carry the buyer in the body.
func ExtractPayer(body, sender string) string {
	if match := payerPattern.FindString(body); match != "" {
		return match
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(sender); err == nil && addr.Address != "" {
		return addr.Address
	}
	return sender
}

// ExtractAmount returns the first dollar amount in body, or "unknown".
func ExtractAmount(body string) string {
	if m := amountPattern.FindStringSubmatch(body); len(m) == 2 {
		return m[1]
	}
	return ledgerdomain.AmountUnknown
}

// Extract builds a PaymentFact when msg is a payment message.
func Extract(msg domain.InboundMessage, observedAt time.Time, window time.Duration) (domain.PaymentFact, bool) {
	if !IsPaymentMessage(msg.Subject, msg.Body) {
		return domain.PaymentFact{}, false
	}

	payer := ExtractPayer(msg.Body, msg.Sender)
	amount := ExtractAmount(msg.Body)
	keyTime := msg.Date
	if keyTime.IsZero() {
		keyTime = observedAt
	}

	return domain.PaymentFact{
		PayerIdentity: payer,
		ObservedAt:    observedAt.UTC(),
		Amount:        amount,
		Subject:       msg.Subject,
		RawExcerpt:    excerpt(msg.Body, excerptRunes),
		PaymentMethod: ledgerdomain.PaymentMethodPayPal,
		MessageID:     strings.TrimSpace(msg.MessageID),
		MessageDate:   msg.Date,
		DedupKey:      DedupKey(payer, amount, msg.MessageID, keyTime, window),
	}, true
}

// DedupKey hashes payer, amount and the time bucket the payment falls into.
// Two messages for the same payer and amount within one window share a key
// unless both carry a Message-ID, which then tells them apart.
func DedupKey(payer, amount, messageID string, at time.Time, window time.Duration) string {
	bucket := int64(0)
	if window >= time.Second {
		bucket = at.UTC().Unix() / int64(window/time.Second)
	}
	material := strings.ToLower(strings.TrimSpace(payer)) + "|" +
		strings.TrimSpace(amount) + "|" +
		strconv.FormatInt(bucket, 10)
	if id := strings.Trim(messageID, " \t<>"); id != "" {
		material += "|" + id
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

func excerpt(body string, n int) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	runes := []rune(body)
	return string(runes[:n])
}
