package service

import (
	"context"
	"math"
	"strconv"
	"strings"

	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	"github.com/smallbiznis/paymail/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Store ledgerdomain.Store
	Log   *zap.Logger
}

type Service struct {
	store ledgerdomain.Store
	log   *zap.Logger
}

func NewService(p Params) domain.Service {
	return &Service{
		store: p.Store,
		log:   p.Log.Named("stats.service"),
	}
}

func (s *Service) Summarize(ctx context.Context) (domain.Summary, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		s.log.Warn("ledger scan failed", zap.Error(err))
		return domain.Summary{}, err
	}
	return Compute(records), nil
}

// Compute folds records into a Summary. Records count individually, so a
// payer who paid twice counts twice.
func Compute(records []ledgerdomain.Record) domain.Summary {
	var sum domain.Summary
	sum.TotalCustomers = len(records)
	for _, r := range records {
		switch r.DeliveryStatus {
		case ledgerdomain.DeliveryStatusDelivered:
			sum.DeliveredCount++
		case ledgerdomain.DeliveryStatusFailed:
			sum.FailedCount++
		default:
			sum.PendingCount++
		}

		cents, ok := ParseCents(r.Amount)
		if !ok || sum.RevenueCents > math.MaxInt64-cents {
			sum.UnknownAmountCount++
			continue
		}
		sum.RevenueCents += cents
	}
	sum.TotalRevenue = float64(sum.RevenueCents) / 100
	return sum
}

// maxUnits keeps units*100 plus cents and rounding within int64.
const maxUnits = (math.MaxInt64 - 100) / 100

// ParseCents converts a decimal dollar string to cents, rounding half up
// past the second fractional digit. Amounts beyond int64 cents are rejected.
func ParseCents(amount string) (int64, bool) {
	amount = strings.TrimSpace(amount)
	if amount == "" || amount == ledgerdomain.AmountUnknown {
		return 0, false
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" && frac == "" {
		return 0, false
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, false
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > maxUnits {
		return 0, false
	}

	roundUp := len(frac) > 2 && frac[2] >= '5'
	frac = (frac + "00")[:2]
	cents, _ := strconv.ParseInt(frac, 10, 64)
	total := units*100 + cents
	if roundUp {
		total++
	}
	return total, true
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
