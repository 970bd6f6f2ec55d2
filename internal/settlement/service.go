package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/davidecorsi/beatstore-backend/internal/catalog"
	"github.com/davidecorsi/beatstore-backend/internal/notify"
	"github.com/davidecorsi/beatstore-backend/internal/orders"
	"github.com/davidecorsi/beatstore-backend/internal/reservation"
	"github.com/davidecorsi/beatstore-backend/pkg/config"
	"github.com/davidecorsi/beatstore-backend/pkg/db/models"
	"github.com/davidecorsi/beatstore-backend/pkg/enums"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/metrics"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TxRunner runs a unit of work inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier is the delivery surface the engine needs from the bot gateway.
type Notifier interface {
	Send(ctx context.Context, req notify.Request) (enums.NotifyOutcome, error)
	SendWaitingNotice(ctx context.Context, userID int64, transactionID string) error
}

// Result is what a settlement attempt produced, returned to the webhook
// controller for the response envelope.
type Result struct {
	TransactionID string              `json:"transaction_id"`
	Duplicate     bool                `json:"duplicate"`
	Kind          enums.OrderKind     `json:"kind,omitempty"`
	NotifyOutcome enums.NotifyOutcome `json:"notify_outcome,omitempty"`
	CleanedUp     bool                `json:"cleaned_up"`
}

// ServiceParams wires the engine's collaborators.
type ServiceParams struct {
	DB           TxRunner
	Orders       orders.Repository
	Catalog      catalog.Repository
	Reservations reservation.Repository
	Ledger       *Ledger
	Resolver     *Resolver
	Notifier     Notifier
	Logger       *logger.Logger
	Metrics      *metrics.WebhookMetrics
	Config       config.SettlementConfig
}

func (p ServiceParams) validate() error {
	if p.DB == nil {
		return errors.New("db client is required")
	}
	if p.Orders == nil {
		return errors.New("orders repository is required")
	}
	if p.Catalog == nil {
		return errors.New("catalog repository is required")
	}
	if p.Reservations == nil {
		return errors.New("reservation repository is required")
	}
	if p.Ledger == nil {
		return errors.New("idempotency ledger is required")
	}
	if p.Resolver == nil {
		return errors.New("resolver is required")
	}
	if p.Notifier == nil {
		return errors.New("notifier is required")
	}
	if p.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Service is the order settlement engine: given a verified capture event it
// resolves the buyer, gates duplicates, validates reservations, persists the
// order exactly once, notifies delivery, and reclaims exclusive inventory.
type Service struct {
	db           TxRunner
	orders       orders.Repository
	catalog      catalog.Repository
	reservations reservation.Repository
	ledger       *Ledger
	resolver     *Resolver
	notifier     Notifier
	log          *logger.Logger
	metrics      *metrics.WebhookMetrics
	cfg          config.SettlementConfig
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	cfg := params.Config
	if cfg.StaleOrderThreshold <= 0 {
		cfg.StaleOrderThreshold = 5 * time.Minute
	}
	return &Service{
		db:           params.DB,
		orders:       params.Orders,
		catalog:      params.Catalog,
		reservations: params.Reservations,
		ledger:       params.Ledger,
		resolver:     params.Resolver,
		notifier:     params.Notifier,
		log:          params.Logger,
		metrics:      params.Metrics,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleCaptureCompleted runs the full settlement pipeline for a
// PAYMENT.CAPTURE.COMPLETED delivery.
func (s *Service) HandleCaptureCompleted(ctx context.Context, event *paypal.WebhookEvent) (*Result, error) {
	started := s.now()
	defer func() {
		s.metrics.ObserveDuration(event.EventType, s.now().Sub(started))
	}()

	capture, err := event.DecodeCapture()
	if err != nil {
		return nil, err
	}
	ctx = s.log.WithTransactionID(ctx, capture.ID)

	res, err := s.resolver.Resolve(ctx, capture)
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		s.recordUnresolvable(ctx, event.ID, capture)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery carries no resolvable correlation token")
	}
	ctx = s.log.WithBuyerID(ctx, res.BuyerID)

	if result, done := s.gateDuplicates(ctx, event.ID, capture, res); done {
		return result, nil
	}

	order, err := s.settle(ctx, capture, res)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDuplicate {
			// lost the insert race, the winner owns fulfillment
			s.metrics.IncOutcome("duplicate")
			return &Result{TransactionID: capture.ID, Duplicate: true}, nil
		}
		s.ledger.Forget(ctx, event.ID)
		return nil, err
	}
	s.metrics.IncSettled(string(res.Kind))

	outcome := s.notifyAndCleanup(ctx, order)
	s.metrics.IncOutcome(string(outcome))
	return &Result{
		TransactionID: capture.ID,
		Kind:          res.Kind,
		NotifyOutcome: outcome,
		CleanedUp:     outcome == enums.NotifyOutcomeSuccess,
	}, nil
}

// HandleOrderApproved sends a best-effort waiting notice for
// CHECKOUT.ORDER.APPROVED deliveries. No settlement happens here.
func (s *Service) HandleOrderApproved(ctx context.Context, event *paypal.WebhookEvent) error {
	order, err := event.DecodeApprovedOrder()
	if err != nil {
		return err
	}
	token := ""
	for _, unit := range order.PurchaseUnits {
		if unit.CustomID != "" {
			token = unit.CustomID
			break
		}
		if unit.ReferenceID != "" {
			token = unit.ReferenceID
			break
		}
	}
	buyerID, _, _, ok := parseToken(token)
	if !ok {
		s.log.Info(ctx, "approved order without correlation token, skipping waiting notice")
		return nil
	}
	if err := s.notifier.SendWaitingNotice(ctx, buyerID, order.ID); err != nil {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{"error": err.Error()}),
			"waiting notice delivery failed")
	}
	return nil
}

// gateDuplicates applies the two idempotency checks: the durable order row
// and the short-lived ledger. A stale existing order gets one more delivery
// attempt but no new persistence or inventory mutation.
func (s *Service) gateDuplicates(ctx context.Context, eventID string, capture *paypal.Capture, res Resolution) (*Result, bool) {
	existing, err := s.orders.FindByTransactionID(ctx, capture.ID)
	if err == nil && existing != nil {
		if s.now().Sub(existing.CreatedAt) > s.cfg.StaleOrderThreshold {
			s.log.Warn(ctx, "stale settled order redelivered, re-attempting notification")
			outcome := s.deliver(ctx, existing)
			return &Result{TransactionID: capture.ID, Duplicate: true, NotifyOutcome: outcome}, true
		}
		s.metrics.IncOutcome("duplicate")
		return &Result{TransactionID: capture.ID, Duplicate: true}, true
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		// order store unreadable, fall through: the insert's unique
		// constraint still protects us
		s.log.Error(ctx, "order lookup failed during idempotency gate", err)
	}

	if s.ledger.CheckAndMark(ctx, eventID, capture.ID) {
		s.metrics.IncOutcome("duplicate")
		return &Result{TransactionID: capture.ID, Duplicate: true}, true
	}
	return nil, false
}

// settle validates the purchase and persists the order inside one
// transaction.
func (s *Service) settle(ctx context.Context, capture *paypal.Capture, res Resolution) (*models.Order, error) {
	order := s.buildOrder(ctx, capture, res)

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if !res.Simulator {
			if err := s.validatePurchase(ctx, s.catalog.WithTx(tx), s.reservations.WithTx(tx), capture, res, order); err != nil {
				return err
			}
		}
		return s.orders.WithTx(tx).Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) validatePurchase(ctx context.Context, catalogTx catalog.Repository, reservationsTx reservation.Repository, capture *paypal.Capture, res Resolution, order *models.Order) error {
	if res.Kind == enums.OrderKindBundle {
		if res.BundleID == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "bundle not found").
				WithDetails(map[string]any{"bundle_name": res.Title})
		}
		bundle, err := catalogTx.FindBundleByID(ctx, *res.BundleID)
		if err != nil {
			return err
		}
		if !bundle.IsActive || len(bundle.Members) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "bundle is not sellable").
				WithDetails(map[string]any{"bundle_id": bundle.ID})
		}
		order.BundleID = res.BundleID
		return nil
	}

	beat, err := catalogTx.FindBeatByTitle(ctx, res.Title)
	if err != nil {
		return err
	}
	if !beat.IsAvailable {
		return pkgerrors.New(pkgerrors.CodeNotFound, "beat is not available")
	}
	id := beat.ID
	order.BeatID = &id

	if !beat.IsExclusive {
		return nil
	}

	held, err := reservationsTx.ConfirmHold(ctx, beat.ID, res.BuyerID)
	if err != nil {
		if s.cfg.ReservationFailOpen {
			s.log.Audit(ctx, "reservation check unavailable, settling fail-open", map[string]any{
				"buyer_id":       res.BuyerID,
				"beat_id":        beat.ID.String(),
				"transaction_id": capture.ID,
				"error":          err.Error(),
			})
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reservation check unavailable")
	}
	if !held {
		holder, _, holderErr := reservationsTx.HeldBy(ctx, beat.ID)
		fields := map[string]any{
			"buyer_id":       res.BuyerID,
			"beat_id":        beat.ID.String(),
			"transaction_id": capture.ID,
		}
		if holderErr == nil && holder != 0 {
			fields["held_by"] = holder
		}
		s.log.Audit(ctx, "exclusive purchase without valid reservation rejected", fields)
		return pkgerrors.New(pkgerrors.CodeConflict, "buyer holds no valid reservation for this beat")
	}
	return nil
}

// notifyAndCleanup notifies the bot gateway and, only on full success,
// releases the buyer's holds and reclaims sold exclusive inventory.
func (s *Service) notifyAndCleanup(ctx context.Context, order *models.Order) enums.NotifyOutcome {
	outcome := s.deliver(ctx, order)
	if outcome != enums.NotifyOutcomeSuccess {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{"outcome": outcome.String()}),
			"delivery not confirmed, keeping reservations and inventory for retry")
		return outcome
	}

	if err := s.cleanup(ctx, order); err != nil {
		s.log.Error(ctx, "post-fulfillment cleanup failed", err)
	}
	return outcome
}

func (s *Service) deliver(ctx context.Context, order *models.Order) enums.NotifyOutcome {
	req := notify.Request{
		UserID:        order.BuyerID,
		BeatTitle:     order.BeatTitle,
		OrderType:     string(order.Kind),
		TransactionID: order.TransactionID,
	}
	if order.BundleID != nil {
		req.BundleID = order.BundleID.String()
	}
	outcome, err := s.notifier.Send(ctx, req)
	if err != nil {
		s.log.Error(ctx, "notification delivery failed", err)
		return enums.NotifyOutcomeFailure
	}
	return outcome
}

func (s *Service) cleanup(ctx context.Context, order *models.Order) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		catalogTx := s.catalog.WithTx(tx)
		reservationsTx := s.reservations.WithTx(tx)

		if order.Kind == enums.OrderKindBundle && order.BundleID != nil {
			released, err := reservationsTx.ReleaseBundle(ctx, *order.BundleID, order.BuyerID)
			if err != nil {
				return err
			}
			if released > 0 {
				s.log.Info(s.log.WithFields(ctx, map[string]any{"released": released}),
					"released bundle member reservations")
			}

			bundle, err := catalogTx.FindBundleByID(ctx, *order.BundleID)
			if err != nil {
				if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
					return nil
				}
				return err
			}
			// An exclusive member may sit in other bundles too; capture all of
			// its memberships before the delete cascades through them.
			affected := map[uuid.UUID]struct{}{*order.BundleID: {}}
			for _, member := range bundle.Members {
				if member.Beat == nil || !member.Beat.IsExclusive {
					continue
				}
				memberships, err := bundlesContaining(tx, member.BeatID)
				if err != nil {
					return err
				}
				for _, bundleID := range memberships {
					affected[bundleID] = struct{}{}
				}
				if err := catalogTx.DeleteExclusiveBeat(ctx, member.BeatID); err != nil {
					return err
				}
			}
			for bundleID := range affected {
				if err := catalogTx.RecomputeBundleAfterSale(ctx, bundleID); err != nil {
					return err
				}
			}
			return nil
		}

		if order.BeatID == nil {
			return nil
		}
		beat, err := catalogTx.FindBeatByID(ctx, *order.BeatID)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				return nil
			}
			return err
		}
		if _, err := reservationsTx.ReleaseBeat(ctx, beat.ID, order.BuyerID); err != nil {
			return err
		}
		if !beat.IsExclusive {
			return nil
		}

		memberships, err := bundlesContaining(tx, beat.ID)
		if err != nil {
			return err
		}
		if err := catalogTx.DeleteExclusiveBeat(ctx, beat.ID); err != nil {
			return err
		}
		for _, bundleID := range memberships {
			if err := catalogTx.RecomputeBundleAfterSale(ctx, bundleID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) buildOrder(ctx context.Context, capture *paypal.Capture, res Resolution) *models.Order {
	kind := res.Kind
	if res.Simulator {
		kind = enums.OrderKindUnknown
	}
	cents, ok := amountToCents(capture.Amount.Value)
	if !ok {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{"raw_amount": capture.Amount.Value}),
			"unparseable capture amount, recording zero cents")
	}
	return &models.Order{
		TransactionID: capture.ID,
		BuyerID:       res.BuyerID,
		BeatTitle:     res.Title,
		PayerEmail:    capture.Payer.EmailAddress,
		AmountCents:   cents,
		Currency:      capture.Amount.CurrencyCode,
		Kind:          kind,
	}
}

// recordUnresolvable keeps a best-effort debug record of a paid delivery we
// could not correlate, so the money trail survives the 400 response.
func (s *Service) recordUnresolvable(ctx context.Context, eventID string, capture *paypal.Capture) {
	failure := &models.WebhookFailure{
		EventID:       eventID,
		TransactionID: capture.ID,
		RawAmount:     capture.Amount.Value,
		Currency:      capture.Amount.CurrencyCode,
		Reason:        "no resolvable correlation token",
	}
	if err := s.orders.RecordFailure(ctx, failure); err != nil {
		s.log.Error(ctx, "failed to persist webhook failure record", err)
	}
}

// bundlesContaining lists the bundles a beat belongs to, captured before the
// membership rows are deleted with the beat.
func bundlesContaining(tx *gorm.DB, beatID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.Model(&models.BundleMember{}).
		Where("beat_id = ?", beatID).
		Pluck("bundle_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bundle memberships")
	}
	return ids, nil
}

// amountToCents reports ok=false when the provider amount does not parse; the
// caller decides how loudly to complain about the zero it gets back.
func amountToCents(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return 0, false
	}
	return int(parsed.Mul(decimal.NewFromInt(100)).Round(0).IntPart()), true
}
