package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	CycleReasonDeadlineExceeded = "deadline_exceeded"
	CycleReasonMailbox          = "mailbox"
	CycleReasonLedger           = "ledger"
	CycleReasonLease            = "lease"
	CycleReasonUnknown          = "unknown"
)

const (
	MessageOutcomeNoMatch   = "no_match"
	MessageOutcomeDelivered = "delivered"
	MessageOutcomeFailed    = "failed"
	MessageOutcomeRetry     = "retry"
	MessageOutcomeSkipped   = "skipped"
	MessageOutcomeError     = "error"
)

// PollerMetrics captures mailbox poll loop health signals.
type PollerMetrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Observer
	cycleErrors   *prometheus.CounterVec
	messages      *prometheus.CounterVec
	leaseSkipped  prometheus.Counter
	runLoopLag    prometheus.Observer
}

var (
	pollerMetricsOnce sync.Once
	pollerMetrics     *PollerMetrics
)

// Poller returns the singleton poller metrics registry.
func Poller() *PollerMetrics {
	return PollerWithConfig(Config{})
}

// PollerWithConfig returns the singleton poller metrics registry using config labels.
func PollerWithConfig(cfg Config) *PollerMetrics {
	pollerMetricsOnce.Do(func() {
		pollerMetrics = newPollerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pollerMetrics
}

// ResetPollerMetricsForTest resets the poller metrics singleton for tests.
func ResetPollerMetricsForTest() {
	pollerMetricsOnce = sync.Once{}
	pollerMetrics = nil
}

// NewPollerMetricsForRegistry builds poller metrics on a caller-owned registry.
func NewPollerMetricsForRegistry(registerer prometheus.Registerer, cfg Config) *PollerMetrics {
	return newPollerMetrics(registerer, cfg)
}

func newPollerMetrics(registerer prometheus.Registerer, cfg Config) *PollerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paymail"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	cycles := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "paymail_poll_cycles_total",
		Help:        "Mailbox poll cycles started.",
		ConstLabels: constLabels,
	})
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "paymail_poll_cycle_duration_seconds",
		Help:        "Mailbox poll cycle latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	cycleErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paymail_poll_cycle_errors_total",
		Help:        "Mailbox poll cycles aborted by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paymail_poll_messages_total",
		Help:        "Unseen messages handled by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	leaseSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "paymail_poll_lease_skipped_total",
		Help:        "Poll cycles skipped because another instance holds the lease.",
		ConstLabels: constLabels,
	})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "paymail_poll_runloop_lag_seconds",
		Help:        "Poll loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(cycles, cycleDuration, cycleErrors, messages, leaseSkipped, runLoopLag)

	return &PollerMetrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
		cycleErrors:   cycleErrors,
		messages:      messages,
		leaseSkipped:  leaseSkipped,
		runLoopLag:    runLoopLag,
	}
}

// IncCycle increments the cycle counter.
func (m *PollerMetrics) IncCycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// ObserveCycleDuration records cycle latency.
func (m *PollerMetrics) ObserveCycleDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

// IncCycleError increments aborted cycles by reason.
func (m *PollerMetrics) IncCycleError(reason string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = CycleReasonUnknown
	}
	m.cycleErrors.WithLabelValues(reason).Inc()
}

// IncMessage increments handled messages by outcome.
func (m *PollerMetrics) IncMessage(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

// IncLeaseSkipped counts cycles yielded to another instance.
func (m *PollerMetrics) IncLeaseSkipped() {
	if m == nil {
		return
	}
	m.leaseSkipped.Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual cycle start.
func (m *PollerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.runLoopLag.Observe(d.Seconds())
}

// IsRetryable reports whether a cycle error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return IsDBError(err)
}

// IsDBError reports whether err originates from the gorm layer.
func IsDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	return errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrDuplicatedKey)
}
