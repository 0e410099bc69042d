package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/httpclient"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
)

// ErrRequestRejected means Daraja refused the request itself; retrying will not help.
var ErrRequestRejected = errors.New("mpesa: request rejected")

// Daraja answers STK queries for prompts the customer has not acted on yet with these codes
const (
	processingErrorCode  = "500.001.1001"
	processingResultCode = "4999"
)

// classify maps transport and HTTP failures onto the settlement taxonomy: anything that
// might still succeed later is common.ErrGatewayUnavailable, provider refusals are
// ErrRequestRejected.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: circuit open", common.ErrGatewayUnavailable)
	}
	// a 401 is a stale token, which call has already dropped from the cache
	if isUnauthorized(err) {
		return fmt.Errorf("%w: access token rejected: %v", common.ErrGatewayUnavailable, err)
	}
	if httpclient.IsClientError(err) {
		return fmt.Errorf("%w: %v", ErrRequestRejected, err)
	}
	return fmt.Errorf("%w: %v", common.ErrGatewayUnavailable, err)
}

// isProcessing reports whether Daraja says the STK prompt is still awaiting the customer
func isProcessing(err error) bool {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	var body errorResponse
	if err := json.Unmarshal([]byte(httpErr.Body), &body); err == nil && body.ErrorCode != "" {
		return body.ErrorCode == processingErrorCode
	}
	return strings.Contains(httpErr.Body, processingErrorCode)
}

func atoiOrNegative(code string) int {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return -1
	}
	return n
}

// IsRejected reports whether err is a definitive refusal from the provider
func IsRejected(err error) bool {
	return errors.Is(err, ErrRequestRejected)
}
