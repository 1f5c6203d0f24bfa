package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. All recorders are
// nil-receiver safe so callers can hold an optional handle.
type Metrics struct {
	readingIngest     metric.Int64Counter
	invoicesGenerated metric.Int64Counter
	invoicePayments   metric.Int64Counter
	settlements       metric.Int64Counter
	lateFeeAmount     metric.Int64Counter
	notifications     metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tirta"
	}
	meter := provider.Meter(name)

	readingIngest, err := meter.Int64Counter("tirta_reading_ingest_total")
	if err != nil {
		return nil, err
	}
	invoicesGenerated, err := meter.Int64Counter("tirta_invoices_generated_total")
	if err != nil {
		return nil, err
	}
	invoicePayments, err := meter.Int64Counter("tirta_invoice_payments_total")
	if err != nil {
		return nil, err
	}
	settlements, err := meter.Int64Counter("tirta_settlements_total")
	if err != nil {
		return nil, err
	}
	lateFeeAmount, err := meter.Int64Counter("tirta_late_fee_minor_units_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("tirta_notifications_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("tirta_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("tirta_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		readingIngest:     readingIngest,
		invoicesGenerated: invoicesGenerated,
		invoicePayments:   invoicePayments,
		settlements:       settlements,
		lateFeeAmount:     lateFeeAmount,
		notifications:     notifications,
		rateLimitAllowed:  rateLimitAllowed,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordReadingIngest counts accepted telemetry readings.
func (m *Metrics) RecordReadingIngest(ctx context.Context, accountNumber string) {
	if m == nil {
		return
	}
	// account numbers are unbounded; the attribute filter drops them.
	attrs := FilterAttributes(attribute.String("account_number", strings.TrimSpace(accountNumber)))
	m.readingIngest.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceGenerated counts generator outcomes (created/skipped/failed).
func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoicePayment counts settled invoices by payment mode.
func (m *Metrics) RecordInvoicePayment(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("mode", strings.TrimSpace(mode)))
	m.invoicePayments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSettlement counts pay-as-you-go settlements by kind (full/partial/deferred).
func (m *Metrics) RecordSettlement(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.settlements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLateFee accumulates charged late fees in minor units.
func (m *Metrics) RecordLateFee(ctx context.Context, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.lateFeeAmount.Add(ctx, amount)
}

// RecordNotification counts emitted notifications by category.
func (m *Metrics) RecordNotification(ctx context.Context, category string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("category", strings.TrimSpace(category)))
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"status":      {},
	"status_code": {},
	"mode":        {},
	"kind":        {},
	"category":    {},
	"endpoint":    {},
	"reason":      {},
	"job":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
