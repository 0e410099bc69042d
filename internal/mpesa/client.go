package mpesa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/cache"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/httpclient"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
	"github.com/richxcame/escrow-settlement/pkg/security"
	"github.com/richxcame/escrow-settlement/pkg/tracing"
	"github.com/richxcame/escrow-settlement/pkg/validation"
	"go.uber.org/zap"
)

const (
	stkPushPath           = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath          = "/mpesa/stkpushquery/v1/query"
	b2cPath               = "/mpesa/b2c/v3/paymentrequest"
	transactionStatusPath = "/mpesa/transactionstatus/v1/query"

	// CallbackPathSTK and CallbackPathB2C are mounted by the payments handler; the shared
	// token is appended as the last path segment.
	CallbackPathSTK = "/api/v1/callbacks/mpesa/stk/"
	CallbackPathB2C = "/api/v1/callbacks/mpesa/b2c/"

	breakerName           = "mpesa"
	accountReferenceLimit = 12
)

// Daraja timestamps are in East Africa Time
var eat = time.FixedZone("EAT", 3*60*60)

// Gateway is the mobile-money rail the settlement engine drives
type Gateway interface {
	InitiateCharge(ctx context.Context, phone string, amount int64, reference string) (string, error)
	InitiatePayout(ctx context.Context, phone string, amount int64, reference string) (string, error)
	QueryStatus(ctx context.Context, txType models.TransactionType, handle string) (*models.GatewayResult, error)
}

// Client talks to the Safaricom Daraja API
type Client struct {
	cfg     config.MPesaConfig
	http    *httpclient.Client
	tokens  *TokenSource
	breaker *resilience.CircuitBreaker
	now     func() time.Time
}

var _ Gateway = (*Client)(nil)

// NewClient wires the Daraja client with a circuit breaker and bounded retry. tokenCache may be nil.
func NewClient(cfg config.MPesaConfig, timeout time.Duration, breakerCfg config.CircuitBreakerConfig, tokenCache *cache.Manager) *Client {
	settings := resilience.SettingsFromConfig(breakerName, breakerCfg)
	// provider refusals and pending prompts say nothing about Daraja's health
	settings.IsSuccessful = func(err error) bool {
		return err == nil || httpclient.IsClientError(err) || isProcessing(err)
	}

	var breaker *resilience.CircuitBreaker
	if breakerCfg.Enabled {
		breaker = resilience.NewCircuitBreaker(settings, nil)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.InitialBackoff = 500 * time.Millisecond
	retry.MaxBackoff = 5 * time.Second
	retry.RetryableChecker = func(err error) bool {
		return !isProcessing(err) && httpclient.IsRetryable(err)
	}

	hc := httpclient.NewClient(strings.TrimRight(cfg.BaseURL, "/"), timeout,
		httpclient.WithRetry(retry),
		httpclient.WithBreaker(breaker),
		httpclient.WithTracer("mpesa"),
	)

	return &Client{
		cfg:     cfg,
		http:    hc,
		tokens:  NewTokenSource(hc, cfg.ConsumerKey, cfg.ConsumerSecret, tokenCache),
		breaker: breaker,
		now:     time.Now,
	}
}

// Breaker exposes the circuit breaker for health reporting
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// CheckAmount enforces the configured per-transaction bounds
func (c *Client) CheckAmount(amount int64) error {
	return CheckAmount(c.cfg, amount)
}

// CheckAmount enforces the per-transaction bounds in cfg
func CheckAmount(cfg config.MPesaConfig, amount int64) error {
	if amount < cfg.MinAmount || amount > cfg.MaxAmount {
		return fmt.Errorf("%w: KES %d is outside KES %d-%d", common.ErrAmountOutOfRange, amount, cfg.MinAmount, cfg.MaxAmount)
	}
	return nil
}

// InitiateCharge sends an STK push prompt and returns the CheckoutRequestID
func (c *Client) InitiateCharge(ctx context.Context, phone string, amount int64, reference string) (string, error) {
	msisdn, err := c.validate(phone, amount)
	if err != nil {
		requestsTotal.WithLabelValues("stk_push", resultLabel(err)).Inc()
		return "", err
	}

	timestamp := c.timestamp()
	req := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.callbackURL(CallbackPathSTK),
		AccountReference:  accountReference(reference),
		TransactionDesc:   "Booking payment",
	}

	var resp stkPushResponse
	err = c.call(ctx, "stk_push", stkPushPath, req, &resp)
	if err != nil {
		return "", err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		err = fmt.Errorf("%w: stk push %s: %s", ErrRequestRejected, resp.ResponseCode, resp.ResponseDescription)
		requestsTotal.WithLabelValues("stk_push", resultLabel(err)).Inc()
		return "", err
	}

	logger.InfoContext(ctx, "stk push initiated",
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.String("phone", security.MaskPhone(msisdn)),
		zap.Int64("amount", amount),
	)
	return resp.CheckoutRequestID, nil
}

// InitiatePayout sends a B2C payment and returns the ConversationID. reference is sent as
// the OriginatorConversationID so Daraja drops re-sends of the same payout.
func (c *Client) InitiatePayout(ctx context.Context, phone string, amount int64, reference string) (string, error) {
	msisdn, err := c.validate(phone, amount)
	if err != nil {
		requestsTotal.WithLabelValues("b2c", resultLabel(err)).Inc()
		return "", err
	}

	req := b2cRequest{
		OriginatorConversationID: reference,
		InitiatorName:            c.cfg.InitiatorName,
		SecurityCredential:       c.cfg.SecurityCredential,
		CommandID:                "BusinessPayment",
		Amount:                   amount,
		PartyA:                   c.cfg.B2CShortCode,
		PartyB:                   msisdn,
		Remarks:                  "Driver withdrawal",
		QueueTimeOutURL:          c.callbackURL(CallbackPathB2C),
		ResultURL:                c.callbackURL(CallbackPathB2C),
		Occasion:                 reference,
	}

	var resp asyncResponse
	if err := c.call(ctx, "b2c", b2cPath, req, &resp); err != nil {
		return "", err
	}
	if resp.ResponseCode != "0" || resp.ConversationID == "" {
		err := fmt.Errorf("%w: b2c %s: %s", ErrRequestRejected, resp.ResponseCode, resp.ResponseDescription)
		requestsTotal.WithLabelValues("b2c", resultLabel(err)).Inc()
		return "", err
	}

	logger.InfoContext(ctx, "b2c payout initiated",
		zap.String("conversation_id", resp.ConversationID),
		zap.String("phone", security.MaskPhone(msisdn)),
		zap.Int64("amount", amount),
	)
	return resp.ConversationID, nil
}

// QueryStatus asks Daraja for the outcome of a charge or payout. It never changes state on
// the provider side and is safe to repeat. Payout results arrive asynchronously on the
// B2C result URL, so a payout query always reports pending.
func (c *Client) QueryStatus(ctx context.Context, txType models.TransactionType, handle string) (*models.GatewayResult, error) {
	if handle == "" {
		return nil, common.NewBadRequestError("gateway handle is required", nil)
	}
	if txType.IsCharge() {
		return c.queryCharge(ctx, handle)
	}
	return c.queryPayout(ctx, handle)
}

func (c *Client) queryCharge(ctx context.Context, checkoutRequestID string) (*models.GatewayResult, error) {
	timestamp := c.timestamp()
	req := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp stkQueryResponse
	err := c.call(ctx, "stk_query", stkQueryPath, req, &resp)
	if err != nil {
		if errors.Is(err, errStillProcessing) {
			return &models.GatewayResult{Handle: checkoutRequestID, Status: models.GatewayPending}, nil
		}
		return nil, err
	}

	result := &models.GatewayResult{
		Handle:     checkoutRequestID,
		ResultDesc: resp.ResultDesc,
	}
	switch resp.ResultCode {
	case "0":
		result.Status = models.GatewayCompleted
	case "", processingResultCode:
		result.Status = models.GatewayPending
	default:
		result.Status = models.GatewayFailed
		result.ResultCode = atoiOrNegative(resp.ResultCode)
	}

	return result, nil
}

func (c *Client) queryPayout(ctx context.Context, conversationID string) (*models.GatewayResult, error) {
	req := transactionStatusRequest{
		Initiator:              c.cfg.InitiatorName,
		SecurityCredential:     c.cfg.SecurityCredential,
		CommandID:              "TransactionStatusQuery",
		OriginalConversationID: conversationID,
		PartyA:                 c.cfg.B2CShortCode,
		IdentifierType:         "4",
		ResultURL:              c.callbackURL(CallbackPathB2C),
		QueueTimeOutURL:        c.callbackURL(CallbackPathB2C),
		Remarks:                "Payout status",
		Occasion:               conversationID,
	}

	var resp asyncResponse
	if err := c.call(ctx, "transaction_status", transactionStatusPath, req, &resp); err != nil {
		return nil, err
	}

	return &models.GatewayResult{
		Handle:     conversationID,
		Status:     models.GatewayPending,
		ResultDesc: resp.ResponseDescription,
	}, nil
}

var errStillProcessing = errors.New("mpesa: transaction still processing")

// call posts an authenticated request through the breaker and retry policy
func (c *Client) call(ctx context.Context, operation, path string, body, out interface{}) error {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	err := tracing.TraceExternalAPI(ctx, "mpesa", "daraja", operation, func(ctx context.Context) error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		err = c.http.PostJSON(ctx, path, body, map[string]string{"Authorization": "Bearer " + token}, out)
		if isUnauthorized(err) {
			c.tokens.Invalidate(ctx)
		}
		if isProcessing(err) {
			return errStillProcessing
		}
		if err != nil && !errors.Is(err, common.ErrGatewayUnavailable) {
			return classify(err)
		}
		return err
	})

	if errors.Is(err, errStillProcessing) {
		requestsTotal.WithLabelValues(operation, "pending").Inc()
		return err
	}
	requestsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	if err != nil {
		logger.WarnContext(ctx, "daraja call failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
	return err
}

func (c *Client) validate(phone string, amount int64) (string, error) {
	if err := c.CheckAmount(amount); err != nil {
		return "", err
	}
	msisdn, err := validation.NormalizeMSISDN(phone)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return msisdn, nil
}

func (c *Client) timestamp() string {
	return c.now().In(eat).Format("20060102150405")
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

func (c *Client) callbackURL(path string) string {
	return strings.TrimRight(c.cfg.CallbackBaseURL, "/") + path + c.cfg.CallbackToken
}

func accountReference(reference string) string {
	ref := strings.ReplaceAll(reference, "-", "")
	if len(ref) > accountReferenceLimit {
		ref = ref[:accountReferenceLimit]
	}
	return strings.ToUpper(ref)
}

func isUnauthorized(err error) bool {
	var httpErr *httpclient.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 401
}
