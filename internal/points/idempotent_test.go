package points

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/LoyaltyGo/pkg/idempotency"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Earn(ctx context.Context, t Transfer) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockGateway) Redeem(ctx context.Context, t Transfer) error {
	return m.Called(ctx, t).Error(0)
}

type failingStore struct{}

func (failingStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

func (failingStore) Add(context.Context, string) error {
	return errors.New("store down")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIdempotentGateway_ReplayDoesNotDoubleCredit(t *testing.T) {
	inner := new(mockGateway)
	transfer := Transfer{CustomerID: "cust", Amount: 500, IdempotencyKey: "credit:v:c:cust:a"}
	inner.On("Earn", mock.Anything, transfer).Return(nil).Once()

	g := NewIdempotentGateway(inner, idempotency.NewMemoryStore(time.Hour), testLogger())
	require.NoError(t, g.Earn(context.Background(), transfer))
	require.NoError(t, g.Earn(context.Background(), transfer))

	inner.AssertNumberOfCalls(t, "Earn", 1)
}

func TestIdempotentGateway_FailureIsRetried(t *testing.T) {
	inner := new(mockGateway)
	transfer := Transfer{CustomerID: "cust", Amount: 500, IdempotencyKey: "k"}
	inner.On("Earn", mock.Anything, transfer).Return(errors.New("timeout")).Once()
	inner.On("Earn", mock.Anything, transfer).Return(nil).Once()

	g := NewIdempotentGateway(inner, idempotency.NewMemoryStore(time.Hour), testLogger())
	require.Error(t, g.Earn(context.Background(), transfer))
	require.NoError(t, g.Earn(context.Background(), transfer))
	require.NoError(t, g.Earn(context.Background(), transfer))

	inner.AssertNumberOfCalls(t, "Earn", 2)
}

func TestIdempotentGateway_EarnAndRedeemKeysAreSeparate(t *testing.T) {
	inner := new(mockGateway)
	transfer := Transfer{CustomerID: "cust", Amount: 500, IdempotencyKey: "giftcard:v"}
	inner.On("Redeem", mock.Anything, transfer).Return(nil).Once()
	inner.On("Earn", mock.Anything, transfer).Return(nil).Once()

	g := NewIdempotentGateway(inner, idempotency.NewMemoryStore(time.Hour), testLogger())
	require.NoError(t, g.Redeem(context.Background(), transfer))
	require.NoError(t, g.Earn(context.Background(), transfer))
	inner.AssertExpectations(t)
}

func TestIdempotentGateway_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := new(mockGateway)
	transfer := Transfer{CustomerID: "cust", Amount: 10, IdempotencyKey: "credit:1"}
	inner.On("Earn", mock.Anything, transfer).Return(nil).Once()

	store := idempotency.NewRedisStore(client, "vouchers:", 24*time.Hour)
	g := NewIdempotentGateway(inner, store, testLogger())
	require.NoError(t, g.Earn(context.Background(), transfer))
	require.NoError(t, g.Earn(context.Background(), transfer))

	inner.AssertNumberOfCalls(t, "Earn", 1)
	assert.True(t, mr.Exists("vouchers:earn:credit:1"))
}

func TestIdempotentGateway_StoreDownStillCalls(t *testing.T) {
	inner := new(mockGateway)
	transfer := Transfer{Amount: 1, IdempotencyKey: "k"}
	inner.On("Earn", mock.Anything, transfer).Return(nil).Twice()

	g := NewIdempotentGateway(inner, failingStore{}, testLogger())
	require.NoError(t, g.Earn(context.Background(), transfer))
	require.NoError(t, g.Earn(context.Background(), transfer))
	inner.AssertExpectations(t)
}

func TestIdempotentGateway_EmptyKeyPassesThrough(t *testing.T) {
	inner := new(mockGateway)
	inner.On("Earn", mock.Anything, Transfer{Amount: 1}).Return(nil).Twice()

	g := NewIdempotentGateway(inner, idempotency.NewMemoryStore(time.Hour), testLogger())
	require.NoError(t, g.Earn(context.Background(), Transfer{Amount: 1}))
	require.NoError(t, g.Earn(context.Background(), Transfer{Amount: 1}))
	inner.AssertExpectations(t)
}
