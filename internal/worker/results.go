package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/service"
)

// ResultSubject is the NATS subject gateway adapters publish charge
// outcomes on.
const ResultSubject = "skadi.payments.results"

// resultMessage is the wire form of a gateway outcome. The adapter that
// spoke the gateway's protocol resolves the attempt ID before publishing.
type resultMessage struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	Success       bool            `json:"success"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	FailureDetail json.RawMessage `json:"failure_detail,omitempty"`
}

// ResultConsumer applies gateway charge outcomes delivered over NATS and
// materializes order items once an order settles. Applying a result is
// idempotent, so NATS redeliveries are safe.
type ResultConsumer struct {
	conn         *nats.Conn
	payments     service.PaymentService
	materializer service.MaterializerService
	logger       *slog.Logger
	timeout      time.Duration
}

// NewResultConsumer creates a consumer over an established NATS
// connection. A nil connection yields a no-op consumer.
func NewResultConsumer(
	conn *nats.Conn,
	payments service.PaymentService,
	materializer service.MaterializerService,
	logger *slog.Logger,
) *ResultConsumer {
	return &ResultConsumer{
		conn:         conn,
		payments:     payments,
		materializer: materializer,
		logger:       logger,
		timeout:      30 * time.Second,
	}
}

// Start subscribes to the result subject. The returned subscription should
// be drained on shutdown.
func (c *ResultConsumer) Start(ctx context.Context) (*nats.Subscription, error) {
	if c.conn == nil {
		return nil, nil
	}
	return c.conn.Subscribe(ResultSubject, func(msg *nats.Msg) {
		c.handle(ctx, msg.Data)
	})
}

func (c *ResultConsumer) handle(ctx context.Context, data []byte) {
	var msg resultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("malformed gateway result", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	order, err := c.payments.ApplyResult(ctx, msg.PaymentID, domain.GatewayResult{
		ExternalRef:   msg.ExternalRef,
		Success:       msg.Success,
		Amount:        msg.Amount,
		Currency:      msg.Currency,
		FailureDetail: msg.FailureDetail,
	})
	if err != nil {
		c.logger.Error("failed to apply gateway result",
			"payment_id", msg.PaymentID,
			"error", err,
		)
		return
	}

	if order.PaymentStatus != domain.PaymentStatusPaid {
		return
	}

	items, err := c.materializer.Materialize(ctx, order.ID)
	if err != nil {
		c.logger.Error("failed to materialize order items",
			"order_id", order.ID,
			"error", err,
		)
		return
	}
	c.logger.Info("order settled and materialized",
		"order_id", order.ID,
		"items", len(items),
	)
}
