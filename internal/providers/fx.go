package providers

import (
	"github.com/smallbiznis/paymail/internal/providers/document"
	"github.com/smallbiznis/paymail/internal/providers/email"
	"github.com/smallbiznis/paymail/internal/providers/mailbox"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	mailbox.Module,
	email.Module,
	document.Module,
)
