package payment

import (
	"github.com/tirtabiz/tirta/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.client",
	fx.Provide(service.NewClient),
)
