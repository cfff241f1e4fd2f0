package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DeliveryCopy is the seller-facing text used in outbound mail and generated
// documents. Placeholders use text/template syntax over the customer record.
type DeliveryCopy struct {
	ProductName   string   `mapstructure:"productName"`
	SupportEmail  string   `mapstructure:"supportEmail"`
	RepositoryURL string   `mapstructure:"repositoryURL"`
	Subject       string   `mapstructure:"subject"`
	Body          string   `mapstructure:"body"`
	DocumentTitle string   `mapstructure:"documentTitle"`
	Sections      []string `mapstructure:"sections"`
}

func DefaultDeliveryCopy() DeliveryCopy {
	return DeliveryCopy{
		ProductName:   "Selûne AI Automation Documentation",
		SupportEmail:  "",
		RepositoryURL: "https://github.com/colera1333/selune-ai-automation-launch",
		Subject:       "Your Selûne AI Automation Documentation - Automated Delivery",
		Body: `Hi there!

Thank you for your ${{.Amount}} payment for the {{.ProductName}}!

Your personalized technical guide is attached.

QUICK START:
1. Follow the setup guide in Section 1
2. Run the demo automation in Section 3
3. Deploy your first automation in Section 5

SUPPORT:
- Repository: {{.RepositoryURL}}
- Questions: Reply to this email

---
This email was sent automatically by the delivery system.
Customer ID: {{.Reference}}
Delivered: {{.Now}}
`,
		DocumentTitle: "Selûne AI Automation System - Complete Technical Documentation",
		Sections: []string{
			"Complete MCP server setup instructions",
			"Real automation code examples",
			"Revenue generation strategies",
			"Troubleshooting guides",
			"Business model templates",
		},
	}
}

// DeliveryCopyHolder serves the current DeliveryCopy and swaps it when
// delivery.yml changes on disk. Invalid edits are ignored.
type DeliveryCopyHolder struct {
	current atomic.Value // holds DeliveryCopy
}

// NewStaticDeliveryCopyHolder returns a holder that never reloads.
func NewStaticDeliveryCopyHolder(c DeliveryCopy) *DeliveryCopyHolder {
	holder := &DeliveryCopyHolder{}
	holder.current.Store(c)
	return holder
}

func NewDeliveryCopyHolder(cfg Config, log *zap.Logger) (*DeliveryCopyHolder, error) {
	v := viper.New()

	v.SetConfigName("delivery")
	v.SetConfigType("yml")
	v.AddConfigPath(cfg.DeliveryConfigPath)
	v.AddConfigPath("/etc/paymail")

	defaults := DefaultDeliveryCopy()
	v.SetDefault("delivery.productName", defaults.ProductName)
	v.SetDefault("delivery.supportEmail", cfg.AccountAddress)
	v.SetDefault("delivery.repositoryURL", defaults.RepositoryURL)
	v.SetDefault("delivery.subject", defaults.Subject)
	v.SetDefault("delivery.body", defaults.Body)
	v.SetDefault("delivery.documentTitle", defaults.DocumentTitle)
	v.SetDefault("delivery.sections", defaults.Sections)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	copyCfg := readDeliveryCopy(v)
	if err := validateDeliveryCopy(copyCfg); err != nil {
		return nil, err
	}

	holder := NewStaticDeliveryCopyHolder(copyCfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := readDeliveryCopy(v)
		if err := validateDeliveryCopy(updated); err != nil {
			log.Warn("invalid delivery copy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("delivery copy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *DeliveryCopyHolder) Get() DeliveryCopy {
	return h.current.Load().(DeliveryCopy)
}

// readDeliveryCopy reads key by key so a partial file keeps the defaults
// for whatever it leaves out.
func readDeliveryCopy(v *viper.Viper) DeliveryCopy {
	return DeliveryCopy{
		ProductName:   v.GetString("delivery.productName"),
		SupportEmail:  v.GetString("delivery.supportEmail"),
		RepositoryURL: v.GetString("delivery.repositoryURL"),
		Subject:       v.GetString("delivery.subject"),
		Body:          v.GetString("delivery.body"),
		DocumentTitle: v.GetString("delivery.documentTitle"),
		Sections:      v.GetStringSlice("delivery.sections"),
	}
}

func validateDeliveryCopy(c DeliveryCopy) error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("delivery.subject cannot be empty")
	}
	if strings.TrimSpace(c.Body) == "" {
		return errors.New("delivery.body cannot be empty")
	}
	return nil
}
