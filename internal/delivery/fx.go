package delivery

import (
	"github.com/smallbiznis/paymail/internal/delivery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery.service",
	fx.Provide(service.NewService),
)
