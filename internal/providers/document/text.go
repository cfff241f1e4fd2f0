package document

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
)

const textTemplate = `
# {{.Title}}
**Personal Copy for: {{.Identity}}**
**Purchase Date: {{.PurchaseDate}}**
**Payment Amount: ${{.Amount}}**

## Your Personal Implementation Guide

Thank you for purchasing the {{.ProductName}}! This is your personalized copy of the complete technical guide.

## What's Included
{{range .Sections}}- {{.}}
{{end}}
## Support & Updates
- Repository: {{.RepositoryURL}}
{{- if .SupportEmail}}
- Email support: {{.SupportEmail}}
{{- end}}

---
**Document generated automatically by the delivery system**
**Customer ID: {{.Reference}}**
**Generated: {{.Generated}}**
`

var textDoc = template.Must(template.New("document").Parse(textTemplate))

type TextGenerator struct {
	dir    string
	holder *config.DeliveryCopyHolder
	clock  clock.Clock
}

func NewText(dir string, holder *config.DeliveryCopyHolder, clk clock.Clock) *TextGenerator {
	if holder == nil {
		holder = config.NewStaticDeliveryCopyHolder(config.DefaultDeliveryCopy())
	}
	if clk == nil {
		clk = clock.System()
	}
	return &TextGenerator{dir: dir, holder: holder, clock: clk}
}

func (g *TextGenerator) ContentType() string { return "text/plain" }

func (g *TextGenerator) Generate(ctx context.Context, record ledgerdomain.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := textDoc.Execute(&buf, newData(g.holder.Get(), record, g.clock.Now())); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return writeArtifact(g.dir, ArtifactName(record.PayerIdentity, "txt"), buf.Bytes())
}
