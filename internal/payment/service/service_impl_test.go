package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	"github.com/smallbiznis/paymail/internal/ledger/repository"
	"github.com/smallbiznis/paymail/internal/payment/domain"
	"github.com/smallbiznis/paymail/internal/payment/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, record *ledgerdomain.Record) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockStore) Update(ctx context.Context, record *ledgerdomain.Record) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockStore) All(ctx context.Context) ([]ledgerdomain.Record, error) {
	args := m.Called(ctx)
	return args.Get(0).([]ledgerdomain.Record), args.Error(1)
}

func (m *MockStore) FindByDedupKey(ctx context.Context, key string) (*ledgerdomain.Record, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgerdomain.Record), args.Error(1)
}

func newService(t *testing.T, store ledgerdomain.Store, clk clock.Clock) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return service.NewService(service.Params{
		Config: config.Config{DedupWindow: 24 * time.Hour},
		Store:  store,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
	})
}

func TestClassifyCreatesPendingRecord(t *testing.T) {
	ctx := context.Background()
	store := repository.NewJSONStore(filepath.Join(t.TempDir(), "customers.json"), zap.NewNop(), nil)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(t, store, clk)

	res, err := svc.Classify(ctx, domain.InboundMessage{
		UID:     42,
		Subject: "Payment confirmation",
		Body:    "Your PayPal payment of $49.99 received from jane@example.com",
		Sender:  "service@paypal.example",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Record)
	assert.Equal(t, ledgerdomain.DeliveryStatusPending, res.Record.DeliveryStatus)
	assert.Equal(t, "49.99", res.Record.Amount)
	assert.Equal(t, "jane@example.com", res.Record.PayerIdentity)
	assert.Equal(t, "AUTO_"+res.Record.ID.String(), res.Record.Reference)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClassifyNoMatchLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := repository.NewJSONStore(filepath.Join(t.TempDir(), "customers.json"), zap.NewNop(), nil)
	svc := newService(t, store, clock.System())

	res, err := svc.Classify(ctx, domain.InboundMessage{Subject: "hi", Body: "Let's grab lunch"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoMatch, res.Outcome)
	assert.False(t, res.Matched())
	assert.Nil(t, res.Record)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClassifyDuplicateReturnsExisting(t *testing.T) {
	ctx := context.Background()
	store := repository.NewJSONStore(filepath.Join(t.TempDir(), "customers.json"), zap.NewNop(), nil)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(t, store, clk)
	msg := domain.InboundMessage{Subject: "Payment confirmation", Body: "Paid $25.00, from buyer@test.com"}

	first, err := svc.Classify(ctx, msg)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	second, err := svc.Classify(ctx, msg)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExisting, second.Outcome)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClassifyPersistenceFailureIsError(t *testing.T) {
	store := new(MockStore)
	boom := errors.New("disk full")
	store.On("FindByDedupKey", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("Append", mock.Anything, mock.Anything).Return(boom)

	svc := newService(t, store, clock.System())
	res, err := svc.Classify(context.Background(), domain.InboundMessage{Body: "paid $3 by a@b.com"})

	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res.Record)
	store.AssertExpectations(t)
}

func TestClassifyLostRaceReturnsWinner(t *testing.T) {
	store := new(MockStore)
	winner := &ledgerdomain.Record{ID: 9, DeliveryStatus: ledgerdomain.DeliveryStatusPending}
	store.On("FindByDedupKey", mock.Anything, mock.Anything).Return(nil, nil).Once()
	store.On("Append", mock.Anything, mock.Anything).Return(ledgerdomain.ErrDuplicateKey)
	store.On("FindByDedupKey", mock.Anything, mock.Anything).Return(winner, nil).Once()

	svc := newService(t, store, clock.System())
	res, err := svc.Classify(context.Background(), domain.InboundMessage{Body: "paid $3 by a@b.com"})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExisting, res.Outcome)
	assert.Equal(t, winner, res.Record)
	store.AssertExpectations(t)
}

func TestRecordManual(t *testing.T) {
	ctx := context.Background()
	store := repository.NewJSONStore(filepath.Join(t.TempDir(), "customers.json"), zap.NewNop(), nil)
	svc := newService(t, store, clock.System())

	res, err := svc.RecordManual(ctx, domain.ManualPaymentRequest{PayerIdentity: "buyer@test.com", Amount: "$30"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.Equal(t, "30", res.Record.Amount)
	assert.Equal(t, "manual", res.Record.Metadata["source"])

	_, err = svc.RecordManual(ctx, domain.ManualPaymentRequest{PayerIdentity: "nobody", Amount: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidPayer)

	_, err = svc.RecordManual(ctx, domain.ManualPaymentRequest{PayerIdentity: "a@b.com", Amount: "ten"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
