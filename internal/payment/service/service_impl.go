package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	"github.com/smallbiznis/paymail/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Config  config.Config
	Store   ledgerdomain.Store
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store   ledgerdomain.Store
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	window  time.Duration
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		store:   p.Store,
		log:     p.Log.Named("payment.classifier"),
		genID:   p.GenID,
		clock:   clk,
		window:  p.Config.DedupWindow,
		metrics: p.Metrics,
	}
}

func (s *Service) Classify(ctx context.Context, msg domain.InboundMessage) (domain.Result, error) {
	fact, ok := Extract(msg, s.clock.Now(), s.window)
	if !ok {
		s.metrics.RecordClassification(ctx, string(domain.OutcomeNoMatch))
		return domain.Result{Outcome: domain.OutcomeNoMatch}, nil
	}

	metadata := datatypes.JSONMap{"source": "mailbox"}
	if msg.UID != 0 {
		metadata["uid"] = msg.UID
	}
	return s.persist(ctx, fact, metadata)
}

func (s *Service) RecordManual(ctx context.Context, req domain.ManualPaymentRequest) (domain.Result, error) {
	payer := strings.TrimSpace(req.PayerIdentity)
	if payer == "" || !strings.Contains(payer, "@") {
		return domain.Result{}, domain.ErrInvalidPayer
	}
	amount := strings.TrimPrefix(strings.TrimSpace(req.Amount), "$")
	if amount == "" {
		amount = ledgerdomain.AmountUnknown
	}
	if amount != ledgerdomain.AmountUnknown {
		if _, err := strconv.ParseFloat(amount, 64); err != nil {
			return domain.Result{}, domain.ErrInvalidAmount
		}
	}

	now := s.clock.Now().UTC()
	subject := strings.TrimSpace(req.Note)
	if subject == "" {
		subject = "manual delivery"
	}
	fact := domain.PaymentFact{
		PayerIdentity: payer,
		ObservedAt:    now,
		Amount:        amount,
		Subject:       subject,
		PaymentMethod: ledgerdomain.PaymentMethodPayPal,
		DedupKey:      DedupKey(payer, amount, "", now, s.window),
	}
	return s.persist(ctx, fact, datatypes.JSONMap{"source": "manual"})
}

// persist returns the record owning fact's dedup key, appending one when the
// ledger has none.
func (s *Service) persist(ctx context.Context, fact domain.PaymentFact, metadata datatypes.JSONMap) (domain.Result, error) {
	log := s.log.With(zap.String("dedup_key", fact.DedupKey))

	existing, err := s.store.FindByDedupKey(ctx, fact.DedupKey)
	if err != nil {
		log.Error("ledger lookup failed", zap.Error(err))
		return domain.Result{}, err
	}
	if existing != nil {
		s.metrics.RecordClassification(ctx, string(domain.OutcomeExisting))
		log.Info("payment already in ledger",
			zap.String("record_id", existing.ID.String()),
			zap.String("status", string(existing.DeliveryStatus)),
		)
		return domain.Result{Outcome: domain.OutcomeExisting, Fact: &fact, Record: existing}, nil
	}

	record := s.newRecord(fact, metadata)
	if err := s.store.Append(ctx, record); err != nil {
		if !errors.Is(err, ledgerdomain.ErrDuplicateKey) {
			log.Error("ledger append failed", zap.Error(err))
			return domain.Result{}, err
		}
		// Lost a race with another writer; hand back the winner.
		existing, findErr := s.store.FindByDedupKey(ctx, fact.DedupKey)
		if findErr != nil || existing == nil {
			return domain.Result{}, errors.Join(err, findErr)
		}
		s.metrics.RecordClassification(ctx, string(domain.OutcomeExisting))
		return domain.Result{Outcome: domain.OutcomeExisting, Fact: &fact, Record: existing}, nil
	}

	s.metrics.RecordClassification(ctx, string(domain.OutcomeCreated))
	log.Info("payment recorded",
		zap.String("record_id", record.ID.String()),
		zap.String("amount", record.Amount),
	)
	return domain.Result{Outcome: domain.OutcomeCreated, Fact: &fact, Record: record}, nil
}

func (s *Service) newRecord(fact domain.PaymentFact, metadata datatypes.JSONMap) *ledgerdomain.Record {
	id := s.genID.Generate()
	now := s.clock.Now().UTC()

	if fact.MessageID != "" {
		metadata["message_id"] = fact.MessageID
	}
	var messageDate *time.Time
	if !fact.MessageDate.IsZero() {
		d := fact.MessageDate.UTC()
		messageDate = &d
	}

	return &ledgerdomain.Record{
		ID:             id,
		Reference:      "AUTO_" + id.String(),
		PayerIdentity:  fact.PayerIdentity,
		ObservedAt:     fact.ObservedAt,
		Amount:         fact.Amount,
		Subject:        fact.Subject,
		RawExcerpt:     fact.RawExcerpt,
		PaymentMethod:  fact.PaymentMethod,
		MessageID:      fact.MessageID,
		MessageDate:    messageDate,
		DedupKey:       fact.DedupKey,
		DeliveryStatus: ledgerdomain.DeliveryStatusPending,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
