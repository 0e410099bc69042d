package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
	"github.com/richxcame/escrow-settlement/pkg/security"
	twilioClient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

const breakerName = "twilio-sms"

// ResilientSender wraps an SMSSender with circuit breaker and retry logic
type ResilientSender struct {
	sender  SMSSender
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewResilientSender creates a resilient wrapper around sender
func NewResilientSender(sender SMSSender, breakerCfg config.CircuitBreakerConfig) *ResilientSender {
	settings := resilience.SettingsFromConfig(breakerName, breakerCfg)
	settings.IsSuccessful = func(err error) bool {
		return err == nil || !isRetryable(err)
	}
	breaker := resilience.NewCircuitBreaker(settings, nil)

	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = 3
	retryConfig.InitialBackoff = 1 * time.Second
	retryConfig.MaxBackoff = 10 * time.Second
	retryConfig.RetryableChecker = isRetryable

	return &ResilientSender{
		sender:  sender,
		breaker: breaker,
		retry:   retryConfig,
	}
}

// SendSMS sends an SMS message with retry and circuit breaker
func (r *ResilientSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.sender.SendSMS(ctx, to, body)
	}, "twilio.send_sms")
	if err != nil {
		logger.ErrorContext(ctx, "failed to send SMS after retries",
			zap.String("to", security.MaskPhone(to)),
			zap.Error(err),
		)
		return "", err
	}

	sid, _ := result.(string)
	logger.DebugContext(ctx, "sms sent",
		zap.String("message_sid", sid),
		zap.String("to", security.MaskPhone(to)),
	)
	return sid, nil
}

// Twilio error codes that are worth another attempt
var retryableCodes = map[int]bool{
	20429: true, // too many requests
	20500: true, // internal server error
	20503: true, // service unavailable
	30001: true, // queue overflow
	30003: true, // unreachable handset
}

// isRetryable determines if a Twilio error should be retried
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var restErr *twilioClient.TwilioRestError
	if errors.As(err, &restErr) {
		if retryableCodes[restErr.Code] {
			return true
		}
		return restErr.Status >= 500 || restErr.Status == 429
	}

	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"invalid", "unauthorized", "forbidden"} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	return true
}
