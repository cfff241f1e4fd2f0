package payment

import (
	"github.com/smallbiznis/paymail/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.classifier",
	fx.Provide(service.NewService),
)
