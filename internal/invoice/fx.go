package invoice

import (
	"github.com/tirtabiz/tirta/internal/invoice/render"
	"github.com/tirtabiz/tirta/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(
		render.New,
		service.NewService,
	),
)
