package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "created"),
		attribute.String("payer", "buyer@test.com"),
		attribute.String("driver", "sqlite"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
	if attrs[0].Key != "driver" && attrs[1].Key != "driver" {
		t.Fatalf("expected driver to be retained")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordClassification(context.Background(), "created")
		m.RecordDelivery(context.Background(), "delivered", "text", time.Second)
		m.RecordLedgerWrite(context.Background(), "append", "json")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "paymail"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordClassification(context.Background(), "existing")
	})
}
