package poller

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/paymail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	"go.uber.org/zap"
)

// CycleReport summarises one poll cycle.
type CycleReport struct {
	RunID      string
	StartedAt  time.Time
	Duration   time.Duration
	Skipped    bool
	Unseen     int
	NoMatch    int
	Created    int
	Existing   int
	Delivered  int
	Retrying   int
	Failed     int
	MarkedSeen int
	Errors     int
}

func (p *Poller) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, p.log)
}

func (p *Poller) logCycleStart(ctx context.Context, report *CycleReport) {
	p.logger(ctx).Debug("poller.cycle.start",
		zap.String("run_id", report.RunID),
	)
}

func (p *Poller) logCycleFinish(ctx context.Context, report *CycleReport, err error) {
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.Int64("duration_ms", report.Duration.Milliseconds()),
		zap.Int("unseen_count", report.Unseen),
		zap.Int("created_count", report.Created),
		zap.Int("existing_count", report.Existing),
		zap.Int("delivered_count", report.Delivered),
		zap.Int("retry_count", report.Retrying),
		zap.Int("failed_count", report.Failed),
		zap.Int("error_count", report.Errors),
	}
	log := p.logger(ctx)
	if err != nil {
		log.Warn("poller.cycle.finish", append(fields, zap.Error(err))...)
		return
	}
	log.Info("poller.cycle.finish", fields...)
}

func (p *Poller) logMessageError(ctx context.Context, report *CycleReport, uid uint32, msg string, err error) {
	if err == nil {
		return
	}
	report.Errors++
	p.logger(ctx).Error(msg,
		zap.String("run_id", report.RunID),
		zap.Uint32("uid", uid),
		zap.String("error", err.Error()),
		zap.Bool("retryable", obsmetrics.IsRetryable(err)),
	)
}

// logLedgerStats prints the running totals after a cycle that changed
// something.
func (p *Poller) logLedgerStats(ctx context.Context, report *CycleReport) {
	if p.stats == nil || report.Created+report.Delivered+report.Failed == 0 {
		return
	}
	summary, err := p.stats.Summarize(ctx)
	if err != nil {
		p.logger(ctx).Warn("poller.stats.failed", zap.Error(err))
		return
	}
	p.logger(ctx).Info("poller.stats",
		zap.String("run_id", report.RunID),
		zap.Int("total_customers", summary.TotalCustomers),
		zap.Float64("total_revenue", summary.TotalRevenue),
		zap.Int("delivered_count", summary.DeliveredCount),
		zap.Int("pending_count", summary.PendingCount),
		zap.Int("failed_count", summary.FailedCount),
	)
}
