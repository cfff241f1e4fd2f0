package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
)

// Generator renders the personalized artifact for a record and returns the
// path of the written file.
type Generator interface {
	Generate(ctx context.Context, record ledgerdomain.Record) (string, error)
	ContentType() string
}

var ErrRender = errors.New("document_render_failed")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]`)

// ArtifactName derives the per-customer file name from the payer identity.
func ArtifactName(identity, ext string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "unknown"
	}
	return "selune_docs_" + unsafeChars.ReplaceAllString(identity, "_") + "." + ext
}

// Data is the template view of a record.
type Data struct {
	Title         string
	ProductName   string
	Identity      string
	PurchaseDate  string
	Amount        string
	Sections      []string
	RepositoryURL string
	SupportEmail  string
	Reference     string
	Generated     string
}

func newData(copyCfg config.DeliveryCopy, record ledgerdomain.Record, now time.Time) Data {
	return Data{
		Title:         copyCfg.DocumentTitle,
		ProductName:   copyCfg.ProductName,
		Identity:      record.PayerIdentity,
		PurchaseDate:  record.ObservedAt.UTC().Format(time.RFC3339),
		Amount:        record.Amount,
		Sections:      copyCfg.Sections,
		RepositoryURL: copyCfg.RepositoryURL,
		SupportEmail:  copyCfg.SupportEmail,
		Reference:     record.Reference,
		Generated:     now.UTC().Format(time.RFC3339),
	}
}

func writeArtifact(dir, name string, payload []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return path, nil
}

// NewFromConfig picks the generator for ARTIFACT_FORMAT.
func NewFromConfig(cfg config.Config, holder *config.DeliveryCopyHolder, clk clock.Clock) (Generator, error) {
	switch cfg.ArtifactFormat {
	case config.ArtifactFormatPDF:
		return NewPDF(cfg.ArtifactDir, holder, clk), nil
	case config.ArtifactFormatText, "":
		return NewText(cfg.ArtifactDir, holder, clk), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidFormat, cfg.ArtifactFormat)
	}
}
