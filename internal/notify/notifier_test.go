package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	twilioClient "github.com/twilio/twilio-go/client"
)

func TestSMSNotifier_Send(t *testing.T) {
	sender := new(mocks.MockSMSSender)
	n := &models.Notification{
		TransactionID: uuid.New(),
		Type:          models.NotificationPayoutCompleted,
		Channel:       models.NotificationChannelSMS,
		PhoneNumber:   "254712345678",
		Body:          "KES 500 has been sent to your M-Pesa.",
	}
	sender.On("SendSMS", mock.Anything, "254712345678", n.Body).Return("SM123", nil)

	err := NewSMSNotifier(sender).Send(context.Background(), n)

	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestSMSNotifier_Send_NoPhone(t *testing.T) {
	sender := new(mocks.MockSMSSender)

	err := NewSMSNotifier(sender).Send(context.Background(), &models.Notification{
		TransactionID: uuid.New(),
		Type:          models.NotificationPaymentFailed,
	})

	assert.Error(t, err)
	sender.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestSMSNotifier_Send_SenderError(t *testing.T) {
	sender := new(mocks.MockSMSSender)
	sender.On("SendSMS", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("boom"))

	err := NewSMSNotifier(sender).Send(context.Background(), &models.Notification{
		TransactionID: uuid.New(),
		PhoneNumber:   "254712345678",
		Body:          "hi",
	})

	assert.EqualError(t, err, "boom")
}

func TestResilientSender_PermanentErrorNotRetried(t *testing.T) {
	sender := new(mocks.MockSMSSender)
	restErr := &twilioClient.TwilioRestError{Code: 21211, Status: 400, Message: "Invalid 'To' Phone Number"}
	sender.On("SendSMS", mock.Anything, "254712345678", "hello").Return("", restErr).Once()

	r := NewResilientSender(sender, config.CircuitBreakerConfig{})
	_, err := r.SendSMS(context.Background(), "254712345678", "hello")

	assert.Error(t, err)
	sender.AssertNumberOfCalls(t, "SendSMS", 1)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"rate limited", &twilioClient.TwilioRestError{Code: 20429, Status: 429}, true},
		{"server error", &twilioClient.TwilioRestError{Code: 0, Status: 502}, true},
		{"invalid number", &twilioClient.TwilioRestError{Code: 21211, Status: 400}, false},
		{"plain invalid", errors.New("invalid phone"), false},
		{"network", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestNew_DisabledFallsBackToLog(t *testing.T) {
	n := New(config.TwilioConfig{Enabled: false}, config.CircuitBreakerConfig{})
	_, ok := n.(LogNotifier)
	assert.True(t, ok)

	n = New(config.TwilioConfig{Enabled: true, AccountSID: "AC1"}, config.CircuitBreakerConfig{})
	_, ok = n.(LogNotifier)
	assert.True(t, ok)
}

func TestE164(t *testing.T) {
	assert.Equal(t, "+254712345678", e164("254712345678"))
	assert.Equal(t, "+254712345678", e164("+254712345678"))
}
