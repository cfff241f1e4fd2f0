package domain

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/smallbiznis/paymail/internal/config"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
)

// MailData is the view the delivery body template renders.
type MailData struct {
	Amount        string
	ProductName   string
	RepositoryURL string
	SupportEmail  string
	Reference     string
	Identity      string
	Now           string
}

// RenderMail returns the subject and body for a record from the current copy.
func RenderMail(copyCfg config.DeliveryCopy, record ledgerdomain.Record, now time.Time) (string, string, error) {
	tmpl, err := template.New("body").Parse(copyCfg.Body)
	if err != nil {
		return "", "", fmt.Errorf("parse body template: %w", err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, MailData{
		Amount:        record.Amount,
		ProductName:   copyCfg.ProductName,
		RepositoryURL: copyCfg.RepositoryURL,
		SupportEmail:  copyCfg.SupportEmail,
		Reference:     record.Reference,
		Identity:      record.PayerIdentity,
		Now:           now.UTC().Format(time.RFC3339),
	}); err != nil {
		return "", "", fmt.Errorf("render body template: %w", err)
	}
	return copyCfg.Subject, body.String(), nil
}
