package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymail/internal/clock"
	deliverydomain "github.com/smallbiznis/paymail/internal/delivery/domain"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	obslogger "github.com/smallbiznis/paymail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paymail/internal/payment/domain"
	"github.com/smallbiznis/paymail/internal/providers/mailbox"
	statsdomain "github.com/smallbiznis/paymail/internal/stats/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_poller_config")

type Params struct {
	fx.In

	Config     Config `optional:"true"`
	Log        *zap.Logger
	Mailbox    mailbox.Mailbox
	Classifier paymentdomain.Service
	Delivery   deliverydomain.Service
	Stats      statsdomain.Service       `optional:"true"`
	Lease      Lease                     `optional:"true"`
	Metrics    *obsmetrics.PollerMetrics `optional:"true"`
	GenID      *snowflake.Node
	Clock      clock.Clock
}

// Poller drains unseen payment mail into the ledger and delivers documents.
type Poller struct {
	cfg        Config
	log        *zap.Logger
	mailbox    mailbox.Mailbox
	classifier paymentdomain.Service
	delivery   deliverydomain.Service
	stats      statsdomain.Service
	lease      Lease
	metrics    *obsmetrics.PollerMetrics
	genID      *snowflake.Node
	clock      clock.Clock
}

func New(p Params) (*Poller, error) {
	if p.Log == nil || p.Mailbox == nil || p.Classifier == nil || p.Delivery == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Poller()
	}
	return &Poller{
		cfg:        p.Config.withDefaults(),
		log:        p.Log.Named("poller").With(zap.String("component", "poller")),
		mailbox:    p.Mailbox,
		classifier: p.Classifier,
		delivery:   p.Delivery,
		stats:      p.Stats,
		lease:      p.Lease,
		metrics:    metrics,
		genID:      p.GenID,
		clock:      p.Clock,
	}, nil
}

// RunOnce performs a single poll cycle. A returned error means the cycle
// itself failed (mailbox unreachable, lease backend down, cancellation);
// per-message failures are counted in the report and logged.
func (p *Poller) RunOnce(parent context.Context) (CycleReport, error) {
	report := CycleReport{
		RunID:     p.genID.Generate().String(),
		StartedAt: p.clock.Now(),
	}
	ctx, span := otel.Tracer("paymail/poller").Start(parent, "poller.RunOnce")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", report.RunID))

	p.metrics.IncCycle()
	p.logCycleStart(ctx, &report)

	err := p.runCycle(ctx, &report)
	report.Duration = p.clock.Now().Sub(report.StartedAt)
	p.metrics.ObserveCycleDuration(report.Duration)
	if err != nil {
		p.metrics.IncCycleError(cycleReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll cycle failed")
	}
	span.SetAttributes(
		attribute.Int("unseen", report.Unseen),
		attribute.Int("delivered", report.Delivered),
		attribute.Int("errors", report.Errors),
	)
	if !report.Skipped {
		p.logCycleFinish(ctx, &report, err)
		p.logLedgerStats(context.WithoutCancel(ctx), &report)
	}
	return report, err
}

func (p *Poller) runCycle(ctx context.Context, report *CycleReport) error {
	if p.lease != nil {
		token, ok, err := p.lease.TryAcquire(ctx, p.cfg.LeaseKey, p.cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLeaseUnavailable, err)
		}
		if !ok {
			report.Skipped = true
			p.metrics.IncLeaseSkipped()
			p.logger(ctx).Info("poller.cycle.skipped", zap.String("reason", "lease_held"))
			return nil
		}
		defer func() {
			if err := p.lease.Release(context.WithoutCancel(ctx), p.cfg.LeaseKey, token); err != nil {
				p.logger(ctx).Warn("poller.lease.release_failed", zap.Error(err))
			}
		}()
	}

	session, err := p.mailbox.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			p.logger(ctx).Debug("poller.session.close_failed", zap.Error(err))
		}
	}()

	uids, err := session.Unseen(ctx)
	if err != nil {
		return err
	}
	report.Unseen = len(uids)

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.handleMessage(ctx, session, uid, report)
	}
	return nil
}

func (p *Poller) handleMessage(ctx context.Context, session mailbox.Session, uid uint32, report *CycleReport) {
	msg, err := session.Fetch(ctx, uid)
	if err != nil {
		p.metrics.IncMessage(obsmetrics.MessageOutcomeError)
		p.logMessageError(ctx, report, uid, "poller.message.fetch_failed", err)
		return
	}
	msg.UID = uid
	log := obslogger.WithMessage(p.logger(ctx), uid, msg.MessageID)

	result, err := p.classifier.Classify(ctx, msg)
	if err != nil {
		p.metrics.IncMessage(obsmetrics.MessageOutcomeError)
		p.logMessageError(ctx, report, uid, "poller.message.classify_failed", err)
		return
	}

	switch result.Outcome {
	case paymentdomain.OutcomeNoMatch:
		report.NoMatch++
		p.metrics.IncMessage(obsmetrics.MessageOutcomeNoMatch)
		log.Debug("poller.message.no_match")
		return
	case paymentdomain.OutcomeCreated:
		report.Created++
	case paymentdomain.OutcomeExisting:
		report.Existing++
	}

	record := result.Record
	if record == nil {
		p.metrics.IncMessage(obsmetrics.MessageOutcomeError)
		p.logMessageError(ctx, report, uid, "poller.message.classify_failed", ledgerdomain.ErrInvalidRecord)
		return
	}
	log = obslogger.WithRecord(log, record.ID.String(), record.PayerIdentity)

	if record.DeliveryStatus == ledgerdomain.DeliveryStatusPending {
		// Delivery is not interrupted once started.
		delivered, err := p.delivery.Deliver(context.WithoutCancel(ctx), record)
		switch {
		case delivered:
			report.Delivered++
			p.metrics.IncMessage(obsmetrics.MessageOutcomeDelivered)
		case record.DeliveryStatus == ledgerdomain.DeliveryStatusFailed:
			report.Failed++
			p.metrics.IncMessage(obsmetrics.MessageOutcomeFailed)
			log.Warn("poller.message.delivery_abandoned", zap.Int("attempts", record.Attempts), zap.Error(err))
		default:
			report.Retrying++
			p.metrics.IncMessage(obsmetrics.MessageOutcomeRetry)
			p.logMessageError(ctx, report, uid, "poller.message.delivery_failed", err)
		}
	} else {
		p.metrics.IncMessage(obsmetrics.MessageOutcomeSkipped)
		log.Debug("poller.message.already_settled", zap.String("status", string(record.DeliveryStatus)))
	}

	if !record.Terminal() {
		return
	}
	if err := session.MarkSeen(ctx, uid); err != nil {
		p.logMessageError(ctx, report, uid, "poller.message.mark_seen_failed", err)
		return
	}
	report.MarkedSeen++
}

// RunForever polls until ctx is cancelled, sleeping the error backoff
// instead of the interval after a failed cycle.
func (p *Poller) RunForever(ctx context.Context) {
	nextRun := p.clock.Now()

	for {
		if lag := p.clock.Now().Sub(nextRun); lag > 0 {
			p.metrics.ObserveRunLoopLag(lag)
		}

		wait := p.cfg.Interval
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("poller run failed", zap.Error(err), zap.Duration("backoff", p.cfg.ErrorBackoff))
			wait = p.cfg.ErrorBackoff
		}
		nextRun = p.clock.Now().Add(wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func cycleReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return obsmetrics.CycleReasonDeadlineExceeded
	case errors.Is(err, ErrLeaseUnavailable):
		return obsmetrics.CycleReasonLease
	case errors.Is(err, mailbox.ErrTransport), errors.Is(err, mailbox.ErrParse), errors.Is(err, mailbox.ErrNotFound):
		return obsmetrics.CycleReasonMailbox
	case errors.Is(err, ledgerdomain.ErrPersistence):
		return obsmetrics.CycleReasonLedger
	default:
		return obsmetrics.CycleReasonUnknown
	}
}
