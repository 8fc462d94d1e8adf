package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
	"github.com/dukerupert/skadi/internal/telemetry"
)

// PaymentService is the attempt ledger and reconciler for order payments.
// It owns every Payment transition and the order-status cascade; nothing
// else writes those fields.
type PaymentService interface {
	// CreateAttempt opens a new pending payment attempt against an order.
	// Fails with AttemptInProgress while a pending attempt exists and
	// with AttemptsExhausted once the attempt policy is spent. Safe under
	// concurrent invocation: the store's unique-pending constraint lets
	// exactly one racer win.
	CreateAttempt(ctx context.Context, orderID uuid.UUID, gateway string) (*domain.Payment, error)

	// LatestAttempt returns the attempt with the highest attempt number,
	// or nil when the order has none. An external reconciliation sweep
	// uses this plus Payment.Age to find attempts that never received a
	// gateway result.
	LatestAttempt(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)

	// SuccessfulAttempt returns the succeeded attempt, or nil. Finding
	// more than one is a data-integrity error, reported, never resolved
	// silently.
	SuccessfulAttempt(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)

	// ApplyResult applies a gateway outcome to a pending attempt and
	// cascades status to the order. Applying the same outcome twice is a
	// no-op on the second application.
	ApplyResult(ctx context.Context, paymentID uuid.UUID, result domain.GatewayResult) (*domain.Order, error)
}

type paymentService struct {
	repo        repository.Querier
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	maxAttempts int32
	now         func() time.Time
}

// NewPaymentService creates a PaymentService. maxAttempts is the attempt
// policy (0 disables the cap); metrics may be nil.
func NewPaymentService(repo repository.Querier, logger *slog.Logger, metrics *telemetry.Metrics, maxAttempts int32) PaymentService {
	return &paymentService{
		repo:        repo,
		logger:      logger,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (s *paymentService) CreateAttempt(ctx context.Context, orderID uuid.UUID, gateway string) (*domain.Payment, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, domain.Internal(err, "payment.create_attempt", "failed to load order")
	}

	attempts, err := s.repo.ListPaymentsForOrder(ctx, orderID)
	if err != nil {
		return nil, domain.Internal(err, "payment.create_attempt", "failed to list attempts")
	}

	next := int32(1)
	for _, a := range attempts {
		if a.Status == domain.AttemptPending {
			return nil, ErrAttemptInProgress
		}
		if a.AttemptNumber >= next {
			next = a.AttemptNumber + 1
		}
	}

	if s.maxAttempts > 0 && next > s.maxAttempts {
		return nil, ErrAttemptsExhausted
	}

	// Deterministic-but-unique placeholder reference so the row is
	// insertable before the gateway assigns a real one.
	ref := fmt.Sprintf("pending-%s-%d-%s", order.ID, next, uuid.New())

	payment, err := s.repo.CreatePaymentAttempt(ctx, repository.CreatePaymentAttemptParams{
		OrderID:       order.ID,
		AttemptNumber: next,
		Amount:        order.Total,
		Currency:      order.Currency,
		ExternalRef:   ref,
		Gateway:       gateway,
	})
	if err != nil {
		// A concurrent racer inserted its pending attempt first; the
		// unique-pending constraint serialized us out.
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, ErrAttemptInProgress
		}
		return nil, domain.Internal(err, "payment.create_attempt", "failed to insert attempt")
	}

	if s.metrics != nil {
		s.metrics.PaymentAttempts.WithLabelValues(gateway).Inc()
	}
	s.logger.Info("payment attempt created",
		"order_id", order.ID,
		"attempt_number", next,
		"gateway", gateway,
		"amount", payment.Amount.String(),
		"currency", payment.Currency,
	)

	return &payment, nil
}

func (s *paymentService) LatestAttempt(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	attempts, err := s.repo.ListPaymentsForOrder(ctx, orderID)
	if err != nil {
		return nil, domain.Internal(err, "payment.latest_attempt", "failed to list attempts")
	}
	if len(attempts) == 0 {
		return nil, nil
	}

	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].AttemptNumber != attempts[j].AttemptNumber {
			return attempts[i].AttemptNumber > attempts[j].AttemptNumber
		}
		// Equal attempt numbers should not happen; break the tie on the
		// most recently created row.
		if !attempts[i].CreatedAt.Equal(attempts[j].CreatedAt) {
			return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
		}
		return attempts[i].ID.String() > attempts[j].ID.String()
	})

	return &attempts[0], nil
}

func (s *paymentService) SuccessfulAttempt(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	attempts, err := s.repo.ListPaymentsForOrder(ctx, orderID)
	if err != nil {
		return nil, domain.Internal(err, "payment.successful_attempt", "failed to list attempts")
	}

	var succeeded *domain.Payment
	for i := range attempts {
		if attempts[i].Status != domain.AttemptSucceeded {
			continue
		}
		if succeeded != nil {
			s.logger.Error("order has multiple succeeded payments",
				"order_id", orderID,
				"payment_ids", []string{succeeded.ID.String(), attempts[i].ID.String()},
			)
			return nil, ErrDuplicateSuccess
		}
		succeeded = &attempts[i]
	}

	return succeeded, nil
}

func (s *paymentService) ApplyResult(ctx context.Context, paymentID uuid.UUID, result domain.GatewayResult) (*domain.Order, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, domain.Internal(err, "payment.apply_result", "failed to load payment")
	}

	// Idempotency: only a pending attempt transitions. Gateways redeliver
	// results; the second delivery must not double-transition.
	if payment.Status != domain.AttemptPending {
		s.logger.Debug("ignoring result for settled attempt",
			"payment_id", payment.ID,
			"status", payment.Status,
			"external_ref", result.ExternalRef,
		)
		order, err := s.repo.GetOrder(ctx, payment.OrderID)
		if err != nil {
			return nil, domain.Internal(err, "payment.apply_result", "failed to load order")
		}
		return &order, nil
	}

	if result.Success {
		return s.applySuccess(ctx, payment, result)
	}
	return s.applyFailure(ctx, payment, result)
}

// settledElsewhere handles losing the settle race: the attempt was pending
// when we loaded it, but another delivery transitioned it first. The row's
// state stands and no cascade runs.
func (s *paymentService) settledElsewhere(ctx context.Context, payment domain.Payment) (*domain.Order, error) {
	s.logger.Debug("attempt settled by a concurrent delivery",
		"payment_id", payment.ID,
		"order_id", payment.OrderID,
	)
	order, err := s.repo.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, domain.Internal(err, "payment.apply_result", "failed to load order")
	}
	return &order, nil
}

func (s *paymentService) applySuccess(ctx context.Context, payment domain.Payment, result domain.GatewayResult) (*domain.Order, error) {
	now := s.now()

	// The ledger reflects what was truly charged. When the gateway
	// settled in a different currency, overwrite the charge fields and
	// keep the original estimate in the conversion metadata.
	amount := payment.Amount
	chargeCurrency := domain.CanonicalCurrencyCode(payment.Currency)
	var convMeta []byte

	resultCurrency := domain.CanonicalCurrencyCode(result.Currency)
	if resultCurrency != "" && !result.Amount.IsZero() {
		if resultCurrency != chargeCurrency || !result.Amount.Equal(amount) {
			record := domain.ConversionRecord{
				OriginalAmount:   payment.Amount,
				OriginalCurrency: chargeCurrency,
				ChargedAmount:    result.Amount,
				ChargedCurrency:  resultCurrency,
			}
			meta, err := json.Marshal(record)
			if err != nil {
				return nil, domain.Internal(err, "payment.apply_result", "failed to encode conversion metadata")
			}
			convMeta = meta
		}
		amount = result.Amount
		chargeCurrency = resultCurrency
	}

	externalRef := payment.ExternalRef
	if result.ExternalRef != "" {
		externalRef = result.ExternalRef
	}

	updated, err := s.repo.UpdatePaymentResult(ctx, repository.UpdatePaymentResultParams{
		ID:              payment.ID,
		Status:          domain.AttemptSucceeded,
		Amount:          amount,
		Currency:        chargeCurrency,
		ExternalRef:     externalRef,
		ConversionMeta:  convMeta,
		PaidAt:          &now,
		LastAttemptedAt: &now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			return s.settledElsewhere(ctx, payment)
		}
		return nil, domain.Internal(err, "payment.apply_result", "failed to record success")
	}

	paid := domain.PaymentStatusPaid
	processing := domain.OrderStatusProcessing
	order, err := s.repo.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
		ID:            payment.OrderID,
		Status:        &processing,
		PaymentStatus: &paid,
	})
	if err != nil {
		return nil, domain.Internal(err, "payment.apply_result", "failed to cascade order status")
	}

	if s.metrics != nil {
		s.metrics.PaymentSucceeded.WithLabelValues(updated.Gateway).Inc()
		value, _ := updated.Amount.Float64()
		s.metrics.PaymentValue.WithLabelValues(updated.Currency).Observe(value)
	}
	s.logger.Info("payment succeeded",
		"order_id", order.ID,
		"payment_id", updated.ID,
		"attempt_number", updated.AttemptNumber,
		"amount", updated.Amount.String(),
		"currency", updated.Currency,
		"converted", convMeta != nil,
	)

	return &order, nil
}

func (s *paymentService) applyFailure(ctx context.Context, payment domain.Payment, result domain.GatewayResult) (*domain.Order, error) {
	now := s.now()

	externalRef := payment.ExternalRef
	if result.ExternalRef != "" {
		externalRef = result.ExternalRef
	}

	updated, err := s.repo.UpdatePaymentResult(ctx, repository.UpdatePaymentResultParams{
		ID:              payment.ID,
		Status:          domain.AttemptFailed,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		ExternalRef:     externalRef,
		FailureDetail:   result.FailureDetail,
		LastAttemptedAt: &now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			return s.settledElsewhere(ctx, payment)
		}
		return nil, domain.Internal(err, "payment.apply_result", "failed to record failure")
	}

	params := repository.UpdateOrderStatusParams{ID: payment.OrderID}

	// A later (or concurrent) success always wins the order's final
	// payment state.
	succeeded, err := s.SuccessfulAttempt(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if succeeded == nil {
		failed := domain.PaymentStatusFailed
		params.PaymentStatus = &failed
		if s.maxAttempts > 0 && updated.AttemptNumber >= s.maxAttempts {
			attention := domain.OrderStatusRequiresAttention
			params.Status = &attention
		}
	}

	order, err := s.repo.UpdateOrderStatus(ctx, params)
	if err != nil {
		return nil, domain.Internal(err, "payment.apply_result", "failed to cascade order status")
	}

	if s.metrics != nil {
		s.metrics.PaymentFailed.WithLabelValues(updated.Gateway).Inc()
	}
	s.logger.Warn("payment failed",
		"order_id", order.ID,
		"payment_id", updated.ID,
		"attempt_number", updated.AttemptNumber,
		"final_attempt", s.maxAttempts > 0 && updated.AttemptNumber >= s.maxAttempts,
	)

	return &order, nil
}
