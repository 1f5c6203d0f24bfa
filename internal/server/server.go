package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/config"
	"github.com/tirtabiz/tirta/internal/customer"
	customerdomain "github.com/tirtabiz/tirta/internal/customer/domain"
	"github.com/tirtabiz/tirta/internal/invoice"
	invoicedomain "github.com/tirtabiz/tirta/internal/invoice/domain"
	"github.com/tirtabiz/tirta/internal/meter"
	meterdomain "github.com/tirtabiz/tirta/internal/meter/domain"
	"github.com/tirtabiz/tirta/internal/notification"
	notificationdomain "github.com/tirtabiz/tirta/internal/notification/domain"
	"github.com/tirtabiz/tirta/internal/observability"
	obsmiddleware "github.com/tirtabiz/tirta/internal/observability/logger"
	obsmetrics "github.com/tirtabiz/tirta/internal/observability/metrics"
	obstracing "github.com/tirtabiz/tirta/internal/observability/tracing"
	"github.com/tirtabiz/tirta/internal/payment"
	paymentdomain "github.com/tirtabiz/tirta/internal/payment/domain"
	"github.com/tirtabiz/tirta/internal/providers/email"
	"github.com/tirtabiz/tirta/internal/ratelimit"
	"github.com/tirtabiz/tirta/internal/subscription"
	subscriptiondomain "github.com/tirtabiz/tirta/internal/subscription/domain"
	"github.com/tirtabiz/tirta/internal/usage"
	usagedomain "github.com/tirtabiz/tirta/internal/usage/domain"
	"github.com/tirtabiz/tirta/internal/wallet"
	walletdomain "github.com/tirtabiz/tirta/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	customer.Module,
	meter.Module,
	usage.Module,
	wallet.Module,
	notification.Module,
	email.Module,
	subscription.Module,
	invoice.Module,
	payment.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	customerSvc     customerdomain.Service
	meterSvc        meterdomain.Service
	usageSvc        usagedomain.Service
	walletSvc       walletdomain.Service
	notificationSvc notificationdomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	paymentClient   paymentdomain.Client
	ingestLimiter   *ratelimit.ReadingIngestLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	CustomerSvc     customerdomain.Service
	MeterSvc        meterdomain.Service
	UsageSvc        usagedomain.Service
	WalletSvc       walletdomain.Service
	NotificationSvc notificationdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentClient   paymentdomain.Client
	IngestLimiter   *ratelimit.ReadingIngestLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics             `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log,
		genID:           p.GenID,
		clock:           p.Clock,
		customerSvc:     p.CustomerSvc,
		meterSvc:        p.MeterSvc,
		usageSvc:        p.UsageSvc,
		walletSvc:       p.WalletSvc,
		notificationSvc: p.NotificationSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentClient:   p.PaymentClient,
		ingestLimiter:   p.IngestLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Customers --------
	v1.POST("/customers", s.CreateCustomer)
	v1.GET("/customers", s.ListCustomers)
	v1.GET("/customers/:id", s.GetCustomerByID)

	// -------- Tariffs & Meters --------
	v1.GET("/tariffs/:id", s.GetTariffTier)
	v1.POST("/meters", s.CreateMeter)
	v1.GET("/meters", s.ListMeters)
	v1.GET("/meters/:id", s.GetMeterByID)

	// -------- Telemetry --------
	v1.POST("/readings", s.ReadingIngestRateLimit(), s.IngestReading)

	// -------- Invoice operations (back office) --------
	v1.POST("/invoices/generate", s.GenerateInvoices)
	v1.POST("/meters/:id/invoices", s.GenerateMeterInvoice)
	v1.POST("/invoices/:id/reverse", s.ReverseInvoiceStatus)

	// -------- Plans & Subscriptions --------
	v1.POST("/plans", s.CreatePlan)
	v1.GET("/plans/:id", s.GetPlanByID)
	v1.POST("/subscriptions", s.CreateSubscription)
	v1.GET("/subscriptions/:id", s.GetSubscriptionByID)
	v1.POST("/subscriptions/:id/usage", s.IngestSubscriptionUsage)
	v1.POST("/subscriptions/:id/pipe-check", s.CheckSubscriptionPipe)

	// -------- Customer self-service --------
	// Identity comes from the gateway-injected principal header.
	me := v1.Group("", s.PrincipalRequired())

	me.GET("/invoices", s.ListMyInvoices)
	me.GET("/invoices/:id", s.GetInvoiceByID)
	me.GET("/invoices/:id/pdf", s.RenderInvoicePDF)
	me.POST("/invoices/:id/pay", s.PayInvoice)
	me.POST("/invoices/pay-all", s.PayAllInvoices)
	me.POST("/invoices/:id/checkout", s.CheckoutInvoice)
	me.POST("/invoices/checkout-all", s.CheckoutAllInvoices)

	me.GET("/wallet", s.GetMyWallet)
	me.POST("/wallet/topup", s.TopUpWallet)
	me.POST("/wallet/convert-tokens", s.ConvertTokens)
	me.GET("/wallet/transactions", s.ListWalletTransactions)

	me.GET("/usage", s.ListMyUsage)
	me.GET("/notifications", s.ListMyNotifications)
}
