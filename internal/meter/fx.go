package meter

import (
	"github.com/tirtabiz/tirta/internal/meter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meter.service",
	fx.Provide(service.NewService),
)
