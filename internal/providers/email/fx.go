package email

import (
	"github.com/smallbiznis/paymail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig uses the mailbox account for SMTP submission.
func NewFromConfig(cfg config.Config, log *zap.Logger) Sender {
	return NewSMTP(Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.AccountAddress,
		Password: cfg.AccountPassword,
		From:     cfg.AccountAddress,
		Timeout:  cfg.SMTPTimeout,
	}, log)
}
