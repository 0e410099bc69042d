package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/httpclient"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.MPesaConfig {
	return config.MPesaConfig{
		BaseURL:            baseURL,
		ConsumerKey:        "key",
		ConsumerSecret:     "secret",
		ShortCode:          "174379",
		PassKey:            "passkey",
		B2CShortCode:       "600000",
		InitiatorName:      "testapi",
		SecurityCredential: "cred",
		CallbackBaseURL:    "https://settle.example.com/",
		CallbackToken:      "cb-token",
		MinAmount:          10,
		MaxAmount:          150000,
	}
}

// darajaStub serves the token endpoint and delegates everything else to handler
func darajaStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "key", user)
			assert.Equal(t, "secret", pass)
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient(testConfig(srv.URL), 2*time.Second, config.CircuitBreakerConfig{}, nil)
	c.now = func() time.Time { return time.Date(2026, 10, 16, 6, 30, 0, 0, time.UTC) }
	return c
}

func TestClient_InitiateCharge(t *testing.T) {
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, stkPushPath, r.URL.Path)

		var req stkPushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "20261016093000", req.Timestamp)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379passkey20261016093000")), req.Password)
		assert.Equal(t, "254712345678", req.PhoneNumber)
		assert.Equal(t, "254712345678", req.PartyA)
		assert.Equal(t, int64(1850), req.Amount)
		assert.Equal(t, "https://settle.example.com/api/v1/callbacks/mpesa/stk/cb-token", req.CallBackURL)
		assert.LessOrEqual(t, len(req.AccountReference), 12)

		_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success"}`))
	})

	handle, err := newTestClient(t, srv).InitiateCharge(context.Background(), "0712345678", 1850, "3f1c2a9e-1111-2222-3333-444455556666")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", handle)
}

func TestClient_InitiateChargeRejectsAmountOutOfRange(t *testing.T) {
	var calls int32
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	client := newTestClient(t, srv)

	_, err := client.InitiateCharge(context.Background(), "0712345678", 5, "ref")
	assert.ErrorIs(t, err, common.ErrAmountOutOfRange)

	_, err = client.InitiateCharge(context.Background(), "0712345678", 150001, "ref")
	assert.ErrorIs(t, err, common.ErrAmountOutOfRange)

	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestClient_InitiateChargeRejectsBadPhone(t *testing.T) {
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := newTestClient(t, srv).InitiateCharge(context.Background(), "12345", 1850, "ref")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestClient_ClientErrorIsRejected(t *testing.T) {
	var calls int32
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"r-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
	})

	_, err := newTestClient(t, srv).InitiateCharge(context.Background(), "0712345678", 1850, "ref")
	assert.ErrorIs(t, err, ErrRequestRejected)
	assert.True(t, IsRejected(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	var calls int32
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := newTestClient(t, srv).InitiatePayout(context.Background(), "0712345678", 500, "tx-1")
	assert.ErrorIs(t, err, common.ErrGatewayUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_InitiatePayout(t *testing.T) {
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, b2cPath, r.URL.Path)

		var req b2cRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tx-1", req.OriginatorConversationID)
		assert.Equal(t, "tx-1", req.Occasion)
		assert.Equal(t, "600000", req.PartyA)
		assert.Equal(t, "254712345678", req.PartyB)
		assert.Equal(t, "https://settle.example.com/api/v1/callbacks/mpesa/b2c/cb-token", req.ResultURL)

		_, _ = w.Write([]byte(`{"ConversationID":"AG_1","OriginatorConversationID":"tx-1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`))
	})

	handle, err := newTestClient(t, srv).InitiatePayout(context.Background(), "+254712345678", 500, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "AG_1", handle)
}

func TestClient_QueryCharge(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   models.GatewayStatus
		code   int
	}{
		{"completed", http.StatusOK, `{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`, models.GatewayCompleted, 0},
		{"cancelled by user", http.StatusOK, `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`, models.GatewayFailed, 1032},
		{"still processing result", http.StatusOK, `{"ResponseCode":"0","ResultCode":"4999","ResultDesc":"The transaction is still under processing"}`, models.GatewayPending, 0},
		{"still processing error", http.StatusInternalServerError, `{"requestId":"r","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`, models.GatewayPending, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, stkQueryPath, r.URL.Path)
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := newTestClient(t, srv).QueryStatus(context.Background(), models.TransactionBookingPayment, "ws_CO_1")
			require.NoError(t, err)
			assert.Equal(t, "ws_CO_1", result.Handle)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.code, result.ResultCode)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestClient_QueryPayoutIsAsynchronous(t *testing.T) {
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, transactionStatusPath, r.URL.Path)

		var req transactionStatusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "TransactionStatusQuery", req.CommandID)
		assert.Equal(t, "AG_1", req.OriginalConversationID)
		assert.Equal(t, "AG_1", req.Occasion)

		_, _ = w.Write([]byte(`{"ConversationID":"AG_2","OriginatorConversationID":"q-1","ResponseCode":"0","ResponseDescription":"Accepted"}`))
	})

	result, err := newTestClient(t, srv).QueryStatus(context.Background(), models.TransactionPayout, "AG_1")
	require.NoError(t, err)
	assert.Equal(t, models.GatewayPending, result.Status)
	assert.Equal(t, "AG_1", result.Handle)
}

func TestClient_QueryStatusRequiresHandle(t *testing.T) {
	srv := darajaStub(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := newTestClient(t, srv).QueryStatus(context.Background(), models.TransactionPayout, "")
	assert.Error(t, err)
}

func TestClient_UnauthorizedDropsToken(t *testing.T) {
	var tokens, calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			atomic.AddInt32(&tokens, 1)
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_2","ResponseCode":"0"}`))
	}))
	defer srv.Close()
	client := newTestClient(t, srv)

	// a stale token says nothing about the request, so the caller keeps it pending
	_, err := client.InitiateCharge(context.Background(), "0712345678", 100, "ref")
	assert.ErrorIs(t, err, common.ErrGatewayUnavailable)
	assert.False(t, IsRejected(err))

	handle, err := client.InitiateCharge(context.Background(), "0712345678", 100, "ref")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_2", handle)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokens))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		unavailable bool
	}{
		{"bad request is a refusal", http.StatusBadRequest, false},
		{"forbidden is a refusal", http.StatusForbidden, false},
		{"stale token is retried later", http.StatusUnauthorized, true},
		{"server error is retried later", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&httpclient.HTTPError{StatusCode: tt.status})

			assert.Equal(t, tt.unavailable, errors.Is(err, common.ErrGatewayUnavailable))
			assert.Equal(t, !tt.unavailable, IsRejected(err))
		})
	}
}

func TestAccountReference(t *testing.T) {
	assert.Equal(t, "3F1C2A9E1111", accountReference("3f1c2a9e-1111-2222-3333-444455556666"))
	assert.Equal(t, "SHORT", accountReference("short"))
}
