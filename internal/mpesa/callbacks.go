package mpesa

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/models"
)

// ParseSTKCallback normalizes the body Daraja posts once the customer answers (or ignores)
// an STK prompt. The handle is the CheckoutRequestID returned by InitiateCharge.
func ParseSTKCallback(body []byte) (*models.GatewayResult, error) {
	var cb STKCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		callbacksTotal.WithLabelValues("stk", "invalid").Inc()
		return nil, fmt.Errorf("%w: decode stk callback: %v", common.ErrValidation, err)
	}

	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		callbacksTotal.WithLabelValues("stk", "invalid").Inc()
		return nil, fmt.Errorf("%w: stk callback has no CheckoutRequestID", common.ErrValidation)
	}

	result := &models.GatewayResult{
		Handle:     stk.CheckoutRequestID,
		Reference:  stk.MerchantRequestID,
		ResultCode: stk.ResultCode,
		ResultDesc: stk.ResultDesc,
		Status:     models.GatewayFailed,
	}

	if stk.ResultCode == 0 {
		result.Status = models.GatewayCompleted
		if stk.CallbackMetadata != nil {
			for _, item := range stk.CallbackMetadata.Item {
				switch item.name() {
				case "MpesaReceiptNumber":
					result.ReceiptNumber = itemString(item.Value)
				case "Amount":
					result.Amount = itemAmount(item.Value)
				}
			}
		}
	}

	callbacksTotal.WithLabelValues("stk", string(result.Status)).Inc()
	return result, nil
}

// ParseB2CResult normalizes B2C payment results and transaction status query results.
// The handle is the ConversationID; Reference carries the Occasion when present and the
// OriginatorConversationID otherwise, so status query results can be matched to the payout
// they were asked about.
func ParseB2CResult(body []byte) (*models.GatewayResult, error) {
	var cb ResultCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		callbacksTotal.WithLabelValues("b2c", "invalid").Inc()
		return nil, fmt.Errorf("%w: decode result callback: %v", common.ErrValidation, err)
	}

	res := cb.Result
	if res.ConversationID == "" && res.OriginatorConversationID == "" {
		callbacksTotal.WithLabelValues("b2c", "invalid").Inc()
		return nil, fmt.Errorf("%w: result callback has no conversation id", common.ErrValidation)
	}

	result := &models.GatewayResult{
		Handle:     res.ConversationID,
		Reference:  res.OriginatorConversationID,
		ResultCode: res.ResultCode,
		ResultDesc: res.ResultDesc,
		Status:     models.GatewayFailed,
	}
	// a status query result carries the payout's ConversationID as its Occasion. Its
	// ResultCode describes the query, not the payout.
	occasion := referenceValue(res.ReferenceData, "Occasion")
	if occasion != "" {
		result.Reference = occasion
		result.Status = models.GatewayPending
	}

	params := map[string]interface{}{}
	if res.ResultParameters != nil {
		for _, p := range res.ResultParameters.ResultParameter {
			params[p.name()] = p.Value
		}
	}

	if res.ResultCode == 0 {
		if occasion == "" {
			result.Status = models.GatewayCompleted
		}
		if v, ok := params["TransactionStatus"]; ok {
			result.Status = statusFromQuery(itemString(v))
		}
		result.ReceiptNumber = res.TransactionID
		if v, ok := params["TransactionReceipt"]; ok {
			result.ReceiptNumber = itemString(v)
		}
		if v, ok := params["ReceiptNo"]; ok {
			result.ReceiptNumber = itemString(v)
		}
		if v, ok := params["TransactionAmount"]; ok {
			result.Amount = itemAmount(v)
		}
		if v, ok := params["Amount"]; ok {
			result.Amount = itemAmount(v)
		}
	}

	callbacksTotal.WithLabelValues("b2c", string(result.Status)).Inc()
	return result, nil
}

func statusFromQuery(status string) models.GatewayStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return models.GatewayCompleted
	case "failed", "cancelled", "reversed", "expired":
		return models.GatewayFailed
	default:
		return models.GatewayPending
	}
}

// referenceValue finds key in ReferenceData, which Daraja sends as a single item or a list
func referenceValue(data *struct {
	ReferenceItem json.RawMessage `json:"ReferenceItem"`
}, key string) string {
	if data == nil || len(data.ReferenceItem) == 0 {
		return ""
	}

	var items []callbackItem
	if err := json.Unmarshal(data.ReferenceItem, &items); err != nil {
		var single callbackItem
		if err := json.Unmarshal(data.ReferenceItem, &single); err != nil {
			return ""
		}
		items = []callbackItem{single}
	}

	for _, item := range items {
		if item.name() == key {
			return itemString(item.Value)
		}
	}
	return ""
}

func itemString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// itemAmount reads whole shillings; Daraja sends amounts as numbers or numeric strings
func itemAmount(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(math.Round(val))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return int64(math.Round(f))
	default:
		return 0
	}
}
