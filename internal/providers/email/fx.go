package email

import (
	"github.com/tirtabiz/tirta/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewProvider),
)

func NewProvider(cfg config.Config, log *zap.Logger) Provider {
	if cfg.SMTP.Host == "" {
		log.Info("smtp not configured, email delivery disabled")
		return Noop{}
	}
	return NewSMTP(cfg.SMTP)
}
