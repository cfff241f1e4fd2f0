package mailbox

import (
	"context"

	"github.com/smallbiznis/paymail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.mailbox",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Mailbox {
	return NewIMAP(Config{
		Host:     cfg.IMAPHost,
		Port:     cfg.IMAPPort,
		Username: cfg.AccountAddress,
		Password: cfg.AccountPassword,
		Folder:   cfg.IMAPFolder,
		Timeout:  cfg.IMAPTimeout,
	}, log)
}

// CheckConnection logs in, selects the folder and logs out.
func CheckConnection(ctx context.Context, m Mailbox) error {
	session, err := m.Open(ctx)
	if err != nil {
		return err
	}
	return session.Close()
}
