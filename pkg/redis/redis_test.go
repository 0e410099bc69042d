package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return Wrap(db), mock
}

func TestClient_Read(t *testing.T) {
	// Arrange
	client, mock := newMockClient(t)
	ctx := context.Background()
	mock.ExpectGet("mpesa:token:key").SetVal("abc123")
	mock.ExpectGet("missing").RedisNil()

	// Act
	val, err := client.Read(ctx, "mpesa:token:key")
	_, missErr := client.Read(ctx, "missing")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "abc123", val)
	assert.ErrorIs(t, missErr, ErrCacheMiss)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Read_RetriesTransientErrors(t *testing.T) {
	// Arrange
	client, mock := newMockClient(t)
	mock.ExpectGet("k").SetErr(errors.New("read tcp: connection reset by peer"))
	mock.ExpectGet("k").SetVal("v")

	// Act
	val, err := client.Read(context.Background(), "k")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "v", val)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Claim(t *testing.T) {
	// Arrange
	client, mock := newMockClient(t)
	ctx := context.Background()
	mock.ExpectSetNX("idempotency:lock", "hash", time.Minute).SetVal(true)
	mock.ExpectSetNX("idempotency:lock", "hash", time.Minute).SetVal(false)

	// Act
	first, err1 := client.Claim(ctx, "idempotency:lock", "hash", time.Minute)
	second, err2 := client.Claim(ctx, "idempotency:lock", "hash", time.Minute)

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.True(t, first)
	assert.False(t, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_WriteAndDelete(t *testing.T) {
	// Arrange
	client, mock := newMockClient(t)
	ctx := context.Background()
	mock.ExpectSet("promo:SAFARI", "{}", 5*time.Minute).SetVal("OK")
	mock.ExpectDel("promo:SAFARI").SetVal(1)

	// Act & Assert
	require.NoError(t, client.Write(ctx, "promo:SAFARI", "{}", 5*time.Minute))
	require.NoError(t, client.Delete(ctx, "promo:SAFARI"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"miss", ErrCacheMiss, false},
		{"cancelled", context.Canceled, false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"wrong type", errors.New("WRONGTYPE Operation against a key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
