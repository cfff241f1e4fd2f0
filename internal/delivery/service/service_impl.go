package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	"github.com/smallbiznis/paymail/internal/delivery/domain"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	"github.com/smallbiznis/paymail/internal/observability/tracing"
	"github.com/smallbiznis/paymail/internal/providers/document"
	"github.com/smallbiznis/paymail/internal/providers/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config    config.Config
	Store     ledgerdomain.Store
	Generator document.Generator
	Sender    email.Sender
	Copy      *config.DeliveryCopyHolder
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store       ledgerdomain.Store
	generator   document.Generator
	sender      email.Sender
	copy        *config.DeliveryCopyHolder
	clock       clock.Clock
	log         *zap.Logger
	metrics     *obsmetrics.Metrics
	maxAttempts int
	format      string
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	holder := p.Copy
	if holder == nil {
		holder = config.NewStaticDeliveryCopyHolder(config.DefaultDeliveryCopy())
	}
	return &Service{
		store:       p.Store,
		generator:   p.Generator,
		sender:      p.Sender,
		copy:        holder,
		clock:       clk,
		log:         p.Log.Named("delivery.service"),
		metrics:     p.Metrics,
		maxAttempts: p.Config.MaxAttempts,
		format:      p.Config.ArtifactFormat,
	}
}

func (s *Service) Deliver(ctx context.Context, record *ledgerdomain.Record) (bool, error) {
	if record == nil {
		return false, ledgerdomain.ErrInvalidRecord
	}
	if record.DeliveryStatus != ledgerdomain.DeliveryStatusPending {
		return false, fmt.Errorf("%w: record %s is %s", domain.ErrInvalidTransition, record.ID, record.DeliveryStatus)
	}

	ctx, span := otel.Tracer("paymail/delivery").Start(ctx, "delivery.Deliver")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("record_id", record.ID.String()),
		attribute.Int("attempts", record.Attempts),
	)...)

	log := s.log.With(
		zap.String("record_id", record.ID.String()),
		zap.String("reference", record.Reference),
	)
	start := time.Now()

	// Work on a copy so the caller's record only changes once the ledger
	// accepted the new state.
	updated := *record
	if sendErr := s.send(ctx, updated); sendErr != nil {
		cause := fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, sendErr)
		span.RecordError(tracing.SafeError(sendErr))
		span.SetStatus(codes.Error, "delivery failed")

		if err := updated.RecordFailure(sendErr.Error(), s.clock.Now(), s.maxAttempts); err != nil {
			return false, errors.Join(cause, err)
		}
		if err := s.store.Update(ctx, &updated); err != nil {
			log.Error("failed to persist delivery attempt", zap.Error(err))
			return false, errors.Join(cause, err)
		}
		*record = updated

		status := "retry"
		if updated.DeliveryStatus == ledgerdomain.DeliveryStatusFailed {
			status = string(ledgerdomain.DeliveryStatusFailed)
		}
		s.metrics.RecordDelivery(ctx, status, s.format, time.Since(start))
		log.Warn("delivery failed",
			zap.Error(sendErr),
			zap.Int("attempts", updated.Attempts),
			zap.Int("max_attempts", s.maxAttempts),
			zap.String("status", string(updated.DeliveryStatus)),
		)
		return false, cause
	}

	if err := updated.MarkDelivered(s.clock.Now()); err != nil {
		return false, err
	}
	if err := s.store.Update(ctx, &updated); err != nil {
		// The mail went out; the record stays pending and may be sent again.
		log.Error("delivered but ledger update failed", zap.Error(err))
		span.SetStatus(codes.Error, "ledger update failed")
		return false, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	*record = updated

	s.metrics.RecordDelivery(ctx, string(ledgerdomain.DeliveryStatusDelivered), s.format, time.Since(start))
	log.Info("delivery complete", zap.Duration("elapsed", time.Since(start)))
	return true, nil
}

func (s *Service) send(ctx context.Context, record ledgerdomain.Record) error {
	path, err := s.generator.Generate(ctx, record)
	if err != nil {
		return fmt.Errorf("generate artifact: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	subject, body, err := domain.RenderMail(s.copy.Get(), record, s.clock.Now())
	if err != nil {
		return err
	}

	return s.sender.Send(ctx, email.Message{
		To:      record.PayerIdentity,
		Subject: subject,
		Body:    body,
		Attachments: []email.Attachment{{
			Filename:    filepath.Base(path),
			ContentType: s.generator.ContentType(),
			Data:        data,
		}},
	})
}
