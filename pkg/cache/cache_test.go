package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisclient "github.com/richxcame/escrow-settlement/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type promo struct {
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
}

func newManager(t *testing.T) (*Manager, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewManager(redisclient.Wrap(db)), mock
}

func TestManager_GetHit(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectGet("promo:KARIBU").SetVal(`{"code":"KARIBU","discount":200}`)

	var got promo
	require.NoError(t, m.Get(context.Background(), "promo:KARIBU", &got))
	assert.Equal(t, promo{Code: "KARIBU", Discount: 200}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_GetMiss(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectGet("promo:NONE").RedisNil()

	var got promo
	err := m.Get(context.Background(), "promo:NONE", &got)
	assert.ErrorIs(t, err, redisclient.ErrCacheMiss)
}

func TestManager_GetOrSet_LoadsAndCachesOnMiss(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectGet("promo:KARIBU").RedisNil()
	mock.ExpectSet("promo:KARIBU", `{"code":"KARIBU","discount":200}`, time.Minute).SetVal("OK")

	calls := 0
	var got promo
	err := m.GetOrSet(context.Background(), "promo:KARIBU", time.Minute, &got, func() (interface{}, error) {
		calls++
		return promo{Code: "KARIBU", Discount: 200}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(200), got.Discount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_GetOrSet_CacheHitSkipsLoader(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectGet("promo:KARIBU").SetVal(`{"code":"KARIBU","discount":150}`)

	var got promo
	err := m.GetOrSet(context.Background(), "promo:KARIBU", time.Minute, &got, func() (interface{}, error) {
		t.Fatal("loader must not run on a hit")
		return nil, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Discount)
}

func TestManager_GetOrSet_LoaderError(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectGet("promo:X").RedisNil()
	loadErr := errors.New("db down")

	var got promo
	err := m.GetOrSet(context.Background(), "promo:X", time.Minute, &got, func() (interface{}, error) {
		return nil, loadErr
	})
	assert.ErrorIs(t, err, loadErr)
}

func TestManager_GetOrSet_CacheWriteFailureIsIgnored(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectGet("promo:KARIBU").RedisNil()
	mock.ExpectSet("promo:KARIBU", `{"code":"KARIBU","discount":200}`, time.Minute).SetErr(errors.New("READONLY"))

	var got promo
	err := m.GetOrSet(context.Background(), "promo:KARIBU", time.Minute, &got, func() (interface{}, error) {
		return promo{Code: "KARIBU", Discount: 200}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "KARIBU", got.Code)
}

func TestManager_Delete(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectDel("promo:KARIBU", "escrow:summary").SetVal(2)

	require.NoError(t, m.Delete(context.Background(), PromoKey("karibu"), EscrowSummaryKey()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_GetCorruptEntryReloads(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectGet("promo:KARIBU").SetVal(`not json`)
	mock.ExpectSet("promo:KARIBU", `{"code":"KARIBU","discount":200}`, time.Minute).SetVal("OK")

	var got promo
	err := m.GetOrSet(context.Background(), "promo:KARIBU", time.Minute, &got, func() (interface{}, error) {
		return promo{Code: "KARIBU", Discount: 200}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Discount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "promo:KARIBU", PromoKey(" karibu "))
	assert.Equal(t, "mpesa:token:abc", GatewayTokenKey("abc"))
	assert.Equal(t, "escrow", family(EscrowSummaryKey()))
}
