package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/skadi/internal/domain"
)

// mockPaymentService implements service.PaymentService for testing
type mockPaymentService struct {
	ApplyResultFunc func(ctx context.Context, paymentID uuid.UUID, result domain.GatewayResult) (*domain.Order, error)
}

func (m *mockPaymentService) CreateAttempt(ctx context.Context, orderID uuid.UUID, gateway string) (*domain.Payment, error) {
	return nil, nil
}

func (m *mockPaymentService) LatestAttempt(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return nil, nil
}

func (m *mockPaymentService) SuccessfulAttempt(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return nil, nil
}

func (m *mockPaymentService) ApplyResult(ctx context.Context, paymentID uuid.UUID, result domain.GatewayResult) (*domain.Order, error) {
	return m.ApplyResultFunc(ctx, paymentID, result)
}

// mockMaterializer implements service.MaterializerService for testing
type mockMaterializer struct {
	calls []uuid.UUID
}

func (m *mockMaterializer) Materialize(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	m.calls = append(m.calls, orderID)
	return []domain.OrderItem{{OrderID: orderID}}, nil
}

func TestResultConsumer_SettledOrderMaterializes(t *testing.T) {
	paymentID := uuid.New()
	orderID := uuid.New()

	var applied *domain.GatewayResult
	payments := &mockPaymentService{
		ApplyResultFunc: func(ctx context.Context, id uuid.UUID, result domain.GatewayResult) (*domain.Order, error) {
			require.Equal(t, paymentID, id)
			applied = &result
			return &domain.Order{
				ID:            orderID,
				Status:        domain.OrderStatusProcessing,
				PaymentStatus: domain.PaymentStatusPaid,
			}, nil
		},
	}
	materializer := &mockMaterializer{}
	c := NewResultConsumer(nil, payments, materializer, discardLogger())

	raw, err := json.Marshal(resultMessage{
		PaymentID:   paymentID,
		ExternalRef: "ch_abc123",
		Success:     true,
		Amount:      decimal.RequireFromString("120.00"),
		Currency:    "USD",
	})
	require.NoError(t, err)

	c.handle(context.Background(), raw)

	require.NotNil(t, applied)
	assert.True(t, applied.Success)
	assert.Equal(t, "ch_abc123", applied.ExternalRef)
	assert.Equal(t, []uuid.UUID{orderID}, materializer.calls)
}

func TestResultConsumer_FailedChargeDoesNotMaterialize(t *testing.T) {
	payments := &mockPaymentService{
		ApplyResultFunc: func(ctx context.Context, id uuid.UUID, result domain.GatewayResult) (*domain.Order, error) {
			return &domain.Order{
				ID:            uuid.New(),
				Status:        domain.OrderStatusPending,
				PaymentStatus: domain.PaymentStatusFailed,
			}, nil
		},
	}
	materializer := &mockMaterializer{}
	c := NewResultConsumer(nil, payments, materializer, discardLogger())

	raw, err := json.Marshal(resultMessage{
		PaymentID:     uuid.New(),
		Success:       false,
		Amount:        decimal.RequireFromString("120.00"),
		Currency:      "USD",
		FailureDetail: json.RawMessage(`{"code":"card_declined"}`),
	})
	require.NoError(t, err)

	c.handle(context.Background(), raw)

	assert.Empty(t, materializer.calls)
}

func TestResultConsumer_MalformedMessageIsDropped(t *testing.T) {
	payments := &mockPaymentService{
		ApplyResultFunc: func(ctx context.Context, id uuid.UUID, result domain.GatewayResult) (*domain.Order, error) {
			t.Fatal("ApplyResult should not be called")
			return nil, nil
		},
	}
	c := NewResultConsumer(nil, payments, &mockMaterializer{}, discardLogger())

	c.handle(context.Background(), []byte("not json"))
}
