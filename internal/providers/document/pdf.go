package document

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	marotoconfig "github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
)

type PDFGenerator struct {
	dir    string
	holder *config.DeliveryCopyHolder
	clock  clock.Clock
}

func NewPDF(dir string, holder *config.DeliveryCopyHolder, clk clock.Clock) *PDFGenerator {
	if holder == nil {
		holder = config.NewStaticDeliveryCopyHolder(config.DefaultDeliveryCopy())
	}
	if clk == nil {
		clk = clock.System()
	}
	return &PDFGenerator{dir: dir, holder: holder, clock: clk}
}

func (g *PDFGenerator) ContentType() string { return "application/pdf" }

func (g *PDFGenerator) Generate(ctx context.Context, record ledgerdomain.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data := newData(g.holder.Get(), record, g.clock.Now())

	cfg := marotoconfig.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(12, data.Title, props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)
	m.AddRow(20,
		col.New(12).Add(
			text.New("Personal copy for: "+data.Identity, props.Text{Top: 0}),
			text.New("Purchase date: "+data.PurchaseDate, props.Text{Top: 5}),
			text.New("Payment amount: $"+data.Amount, props.Text{Top: 10}),
		),
	)
	m.AddRow(15,
		text.NewCol(12, "Thank you for purchasing the "+data.ProductName+"!", props.Text{Size: 11, Top: 4}),
	)

	m.AddRow(10,
		text.NewCol(12, "What's included", props.Text{Style: fontstyle.Bold, Size: 12}),
	)
	for _, section := range data.Sections {
		m.AddRow(7, text.NewCol(12, "- "+section, props.Text{Size: 10, Left: 4}))
	}

	m.AddRow(10,
		text.NewCol(12, "Support & updates", props.Text{Style: fontstyle.Bold, Size: 12, Top: 3}),
	)
	m.AddRow(7, text.NewCol(12, "Repository: "+data.RepositoryURL, props.Text{Size: 10}))
	if data.SupportEmail != "" {
		m.AddRow(7, text.NewCol(12, "Email support: "+data.SupportEmail, props.Text{Size: 10}))
	}

	m.AddRow(15,
		col.New(12).Add(
			text.New("Customer ID: "+data.Reference, props.Text{Size: 8, Top: 6}),
			text.New("Generated: "+data.Generated, props.Text{Size: 8, Top: 10}),
		),
	)

	doc, err := m.Generate()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return writeArtifact(g.dir, ArtifactName(record.PayerIdentity, "pdf"), doc.GetBytes())
}
