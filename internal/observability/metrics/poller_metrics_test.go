package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestPollerMessageCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newPollerMetrics(registry, Config{
		ServiceName: "paymail",
		Environment: "test",
	})

	m.IncMessage(MessageOutcomeDelivered)
	m.IncMessage(MessageOutcomeDelivered)
	m.IncMessage(MessageOutcomeNoMatch)
	m.IncCycleError("")

	if got := testutil.ToFloat64(m.messages.WithLabelValues(MessageOutcomeDelivered)); got != 2 {
		t.Fatalf("expected delivered count 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues(MessageOutcomeNoMatch)); got != 1 {
		t.Fatalf("expected no_match count 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.cycleErrors.WithLabelValues(CycleReasonUnknown)); got != 1 {
		t.Fatalf("expected unknown cycle error count 1, got %v", got)
	}
}

func TestPollerRunLoopLagClampsNegative(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newPollerMetrics(registry, Config{})

	m.ObserveRunLoopLag(-time.Second)

	got, err := testutil.GatherAndCount(registry, "paymail_poll_runloop_lag_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected one lag series, got %d", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "db", err: gorm.ErrInvalidTransaction, want: true},
		{name: "not_found", err: gorm.ErrRecordNotFound, want: false},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNilPollerMetricsSafe(t *testing.T) {
	var m *PollerMetrics
	m.IncCycle()
	m.IncMessage(MessageOutcomeFailed)
	m.ObserveCycleDuration(time.Second)
}
