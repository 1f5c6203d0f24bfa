package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsUnknownKeys(t *testing.T) {
	filtered := FilterAttributes(
		attribute.String("status", "created"),
		attribute.String("account_number", "ACC-001"),
		attribute.String("category", "invoice_created"),
		attribute.String("customer_id", "12345"),
	)

	keys := make([]string, 0, len(filtered))
	for _, attr := range filtered {
		keys = append(keys, string(attr.Key))
	}
	assert.ElementsMatch(t, []string{"status", "category"}, keys)
}

func TestFilterAttributesEmpty(t *testing.T) {
	assert.Empty(t, FilterAttributes())
}

func TestSchedulerMetricsSingleton(t *testing.T) {
	first := Scheduler()
	second := Scheduler()
	assert.Same(t, first, second)

	// nil receivers must be safe for optional wiring
	var m *SchedulerMetrics
	m.IncJobRun("sweep_overdue")
	m.IncJobTimeout("sweep_overdue")
	m.ObserveJobDuration("sweep_overdue", 0)
}
