package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	"github.com/smallbiznis/paymail/internal/ledger/repository"
	"github.com/smallbiznis/paymail/internal/observability"
	statsdomain "github.com/smallbiznis/paymail/internal/stats/domain"
	statsservice "github.com/smallbiznis/paymail/internal/stats/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenStats struct{}

func (brokenStats) Summarize(context.Context) (statsdomain.Summary, error) {
	return statsdomain.Summary{}, ledgerdomain.ErrPersistence
}

func newTestServer(t *testing.T, stats statsdomain.Service) (*Server, ledgerdomain.Store) {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewJSONStore(filepath.Join(t.TempDir(), "customers.json"), log, nil)
	if stats == nil {
		stats = statsservice.NewService(statsservice.Params{Store: store, Log: log})
	}
	s := NewServer(Params{
		Engine: NewEngine(observability.Config{}, log),
		Log:    log,
		Stats:  stats,
		Store:  store,
	})
	return s, store
}

func seed(t *testing.T, store ledgerdomain.Store) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &ledgerdomain.Record{
		ID: node.Generate(), Reference: "AUTO_1", PayerIdentity: "a@test.com", Amount: "25.00",
		ObservedAt: now, DedupKey: "k1", DeliveryStatus: ledgerdomain.DeliveryStatusDelivered, DeliveryCompletedAt: &now,
	}))
	require.NoError(t, store.Append(ctx, &ledgerdomain.Record{
		ID: node.Generate(), Reference: "AUTO_2", PayerIdentity: "b@test.com", Amount: "unknown",
		ObservedAt: now, DedupKey: "k2", DeliveryStatus: ledgerdomain.DeliveryStatusPending,
	}))
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetStats(t *testing.T) {
	s, store := newTestServer(t, nil)
	seed(t, store)

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary statsdomain.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.TotalCustomers)
	assert.InDelta(t, 25.0, summary.TotalRevenue, 1e-9)
	assert.Equal(t, 1, summary.DeliveredCount)
	assert.Equal(t, 1, summary.PendingCount)
	assert.Equal(t, 1, summary.UnknownAmountCount)
}

func TestGetStatsLedgerUnavailable(t *testing.T) {
	s, _ := newTestServer(t, brokenStats{})
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRecordsFiltersByStatus(t *testing.T) {
	s, store := newTestServer(t, nil)
	seed(t, store)

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/records?status=pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []recordView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "AUTO_2", body.Data[0].Reference)
	assert.NotContains(t, rec.Body.String(), "b@test.com")
}

func TestListRecordsRejectsUnknownStatus(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/records?status=lost", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
