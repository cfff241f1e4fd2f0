package poller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	deliveryservice "github.com/smallbiznis/paymail/internal/delivery/service"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	"github.com/smallbiznis/paymail/internal/ledger/repository"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paymail/internal/payment/domain"
	paymentservice "github.com/smallbiznis/paymail/internal/payment/service"
	"github.com/smallbiznis/paymail/internal/providers/document"
	"github.com/smallbiznis/paymail/internal/providers/email"
	"github.com/smallbiznis/paymail/internal/providers/mailbox"
	statsdomain "github.com/smallbiznis/paymail/internal/stats/domain"
	statsservice "github.com/smallbiznis/paymail/internal/stats/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMailbox struct {
	order    []uint32
	messages map[uint32]paymentdomain.InboundMessage
	seen     map[uint32]bool
	fetchErr map[uint32]error
	openErr  error
	opened   int
	onOpen   func()
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages: map[uint32]paymentdomain.InboundMessage{},
		seen:     map[uint32]bool{},
		fetchErr: map[uint32]error{},
	}
}

func (m *fakeMailbox) add(uid uint32, msg paymentdomain.InboundMessage) {
	msg.UID = uid
	m.order = append(m.order, uid)
	m.messages[uid] = msg
}

func (m *fakeMailbox) Open(context.Context) (mailbox.Session, error) {
	m.opened++
	if m.onOpen != nil {
		m.onOpen()
	}
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &fakeSession{box: m}, nil
}

type fakeSession struct {
	box    *fakeMailbox
	closed bool
}

func (s *fakeSession) Unseen(context.Context) ([]uint32, error) {
	var uids []uint32
	for _, uid := range s.box.order {
		if !s.box.seen[uid] {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (s *fakeSession) Fetch(_ context.Context, uid uint32) (paymentdomain.InboundMessage, error) {
	if err := s.box.fetchErr[uid]; err != nil {
		return paymentdomain.InboundMessage{}, err
	}
	msg, ok := s.box.messages[uid]
	if !ok {
		return paymentdomain.InboundMessage{}, mailbox.ErrNotFound
	}
	return msg, nil
}

func (s *fakeSession) MarkSeen(_ context.Context, uid uint32) error {
	s.box.seen[uid] = true
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type failingSender struct {
	calls int
}

func (s *failingSender) Send(context.Context, email.Message) error {
	s.calls++
	return fmt.Errorf("%w: connection refused", email.ErrTransport)
}

func (s *failingSender) CheckConnection(context.Context) error {
	return email.ErrTransport
}

type fakeLease struct {
	grant    bool
	err      error
	acquired int
	released []string
}

func (l *fakeLease) TryAcquire(context.Context, string, time.Duration) (string, bool, error) {
	l.acquired++
	if l.err != nil {
		return "", false, l.err
	}
	return "token-1", l.grant, nil
}

func (l *fakeLease) Release(_ context.Context, _ string, token string) error {
	l.released = append(l.released, token)
	return nil
}

type harness struct {
	poller   *Poller
	mailbox  *fakeMailbox
	store    ledgerdomain.Store
	stats    statsdomain.Service
	registry *prometheus.Registry
}

func newHarness(t *testing.T, sender email.Sender, maxAttempts int, lease Lease) *harness {
	t.Helper()

	dir := t.TempDir()
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		MaxAttempts:    maxAttempts,
		DedupWindow:    24 * time.Hour,
		ArtifactDir:    dir,
		ArtifactFormat: config.ArtifactFormatText,
		LedgerDriver:   config.LedgerDriverJSON,
	}
	store := repository.NewJSONStore(filepath.Join(dir, "customers.json"), log, nil)
	classifier := paymentservice.NewService(paymentservice.Params{
		Config: cfg,
		Store:  store,
		Log:    log,
		GenID:  node,
		Clock:  clk,
	})
	delivery := deliveryservice.NewService(deliveryservice.Params{
		Config:    cfg,
		Store:     store,
		Generator: document.NewText(dir, nil, clk),
		Sender:    sender,
		Clock:     clk,
		Log:       log,
	})
	stats := statsservice.NewService(statsservice.Params{Store: store, Log: log})

	registry := prometheus.NewRegistry()
	box := newFakeMailbox()
	p, err := New(Params{
		Config:     Config{Interval: time.Millisecond, ErrorBackoff: time.Millisecond},
		Log:        log,
		Mailbox:    box,
		Classifier: classifier,
		Delivery:   delivery,
		Stats:      stats,
		Lease:      lease,
		Metrics:    obsmetrics.NewPollerMetricsForRegistry(registry, obsmetrics.Config{Environment: "test"}),
		GenID:      node,
		Clock:      clk,
	})
	require.NoError(t, err)

	return &harness{poller: p, mailbox: box, store: store, stats: stats, registry: registry}
}

func counterValue(t *testing.T, registry *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	var families []*dto.MetricFamily
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func paymentMessage(body string) paymentdomain.InboundMessage {
	return paymentdomain.InboundMessage{
		MessageID: "<pay-1@test>",
		Subject:   "Payment confirmation",
		Sender:    "PayPal <service@paypal.com>",
		Body:      body,
		Date:      time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestRunOnceEndToEnd(t *testing.T) {
	sender := &email.NoOpSender{}
	h := newHarness(t, sender, 3, nil)
	h.mailbox.add(1, paymentMessage("Paid $25.00, from buyer@test.com"))

	report, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unseen)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.MarkedSeen)
	assert.True(t, h.mailbox.seen[1])

	require.Len(t, sender.Sent, 1)
	assert.Equal(t, "buyer@test.com", sender.Sent[0].To)
	require.Len(t, sender.Sent[0].Attachments, 1)
	assert.Equal(t, "selune_docs_buyer_test_com.txt", sender.Sent[0].Attachments[0].Filename)

	summary, err := h.stats.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalCustomers)
	assert.InDelta(t, 25.0, summary.TotalRevenue, 1e-9)
	assert.Equal(t, 1, summary.DeliveredCount)
	assert.Equal(t, 0, summary.PendingCount)

	assert.Equal(t, 1.0, counterValue(t, h.registry, "paymail_poll_cycles_total", "", ""))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "paymail_poll_messages_total", "outcome", obsmetrics.MessageOutcomeDelivered))
}

func TestRunOnceLeavesNonPaymentUnseen(t *testing.T) {
	sender := &email.NoOpSender{}
	h := newHarness(t, sender, 3, nil)
	h.mailbox.add(7, paymentdomain.InboundMessage{
		Subject: "Lunch on Friday",
		Sender:  "friend@example.com",
		Body:    "See you at noon",
	})

	report, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.NoMatch)
	assert.False(t, h.mailbox.seen[7])
	assert.Empty(t, sender.Sent)

	records, err := h.store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "paymail_poll_messages_total", "outcome", obsmetrics.MessageOutcomeNoMatch))
}

func TestRunOnceRetriesThenAbandons(t *testing.T) {
	sender := &failingSender{}
	h := newHarness(t, sender, 2, nil)
	h.mailbox.add(3, paymentMessage("Paid $40 by buyer@test.com"))

	first, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 1, first.Retrying)
	assert.False(t, h.mailbox.seen[3])

	records, err := h.store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledgerdomain.DeliveryStatusPending, records[0].DeliveryStatus)
	assert.Equal(t, 1, records[0].Attempts)

	second, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Existing)
	assert.Equal(t, 1, second.Failed)
	assert.True(t, h.mailbox.seen[3])
	assert.Equal(t, 2, sender.calls)

	records, err = h.store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledgerdomain.DeliveryStatusFailed, records[0].DeliveryStatus)
	assert.NotNil(t, records[0].FailedAt)

	summary, err := h.stats.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, 0, summary.DeliveredCount)
}

func TestRunOnceDuplicateOfDeliveredIsMarkedSeen(t *testing.T) {
	sender := &email.NoOpSender{}
	h := newHarness(t, sender, 3, nil)
	h.mailbox.add(1, paymentMessage("Paid $25.00, from buyer@test.com"))
	h.mailbox.add(2, paymentMessage("Paid $25.00, from buyer@test.com"))

	report, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Existing)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 2, report.MarkedSeen)
	assert.Len(t, sender.Sent, 1)

	records, err := h.store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "paymail_poll_messages_total", "outcome", obsmetrics.MessageOutcomeSkipped))
}

func TestRunOnceRepeatPaymentGetsOwnRecord(t *testing.T) {
	sender := &email.NoOpSender{}
	h := newHarness(t, sender, 3, nil)
	h.mailbox.add(1, paymentMessage("Paid $25.00, from buyer@test.com"))
	again := paymentMessage("Paid $25.00, from buyer@test.com")
	again.MessageID = "<pay-2@test>"
	again.Date = again.Date.Add(3 * time.Hour)
	h.mailbox.add(2, again)

	report, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Existing)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 2, report.MarkedSeen)
	assert.Len(t, sender.Sent, 2)

	summary, err := h.stats.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCustomers)
	assert.InDelta(t, 50.0, summary.TotalRevenue, 1e-9)
}

func TestRunOnceFetchFailureDoesNotBlockNext(t *testing.T) {
	sender := &email.NoOpSender{}
	h := newHarness(t, sender, 3, nil)
	h.mailbox.add(1, paymentMessage("Paid $10 by first@test.com"))
	h.mailbox.add(2, paymentMessage("Paid $12 by second@test.com"))
	h.mailbox.fetchErr[1] = fmt.Errorf("%w: truncated literal", mailbox.ErrParse)

	report, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Delivered)
	assert.False(t, h.mailbox.seen[1])
	assert.True(t, h.mailbox.seen[2])
}

func TestRunOnceMailboxFailure(t *testing.T) {
	h := newHarness(t, &email.NoOpSender{}, 3, nil)
	h.mailbox.openErr = fmt.Errorf("%w: dial tcp: timeout", mailbox.ErrTransport)

	_, err := h.poller.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mailbox.ErrTransport))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "paymail_poll_cycle_errors_total", "reason", obsmetrics.CycleReasonMailbox))
}

func TestRunOnceSkipsWhenLeaseHeld(t *testing.T) {
	lease := &fakeLease{grant: false}
	h := newHarness(t, &email.NoOpSender{}, 3, lease)
	h.mailbox.add(1, paymentMessage("Paid $25.00, from buyer@test.com"))

	report, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 0, h.mailbox.opened)
	assert.Empty(t, lease.released)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "paymail_poll_lease_skipped_total", "", ""))
}

func TestRunOnceReleasesLease(t *testing.T) {
	lease := &fakeLease{grant: true}
	h := newHarness(t, &email.NoOpSender{}, 3, lease)

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.mailbox.opened)
	assert.Equal(t, []string{"token-1"}, lease.released)
}

func TestRunOnceLeaseBackendDown(t *testing.T) {
	lease := &fakeLease{err: errors.New("dial tcp 127.0.0.1:6379: connection refused")}
	h := newHarness(t, &email.NoOpSender{}, 3, lease)

	_, err := h.poller.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLeaseUnavailable))
	assert.Equal(t, 0, h.mailbox.opened)
	assert.Equal(t, 1.0, counterValue(t, h.registry, "paymail_poll_cycle_errors_total", "reason", obsmetrics.CycleReasonLease))
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	h := newHarness(t, &email.NoOpSender{}, 3, nil)
	h.mailbox.add(1, paymentMessage("Paid $25.00, from buyer@test.com"))

	ctx, cancel := context.WithCancel(context.Background())
	h.mailbox.onOpen = cancel

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.poller.RunForever(ctx)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not stop after cancel")
	}
	assert.Equal(t, 1, h.mailbox.opened)
	assert.False(t, h.mailbox.seen[1])
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
