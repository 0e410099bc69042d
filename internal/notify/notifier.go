package notify

import (
	"context"
	"fmt"

	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/security"
	"go.uber.org/zap"
)

// Notifier sends settlement notices to customers and drivers
type Notifier interface {
	Send(ctx context.Context, n *models.Notification) error
}

// SMSNotifier delivers notices by SMS
type SMSNotifier struct {
	sender SMSSender
}

// NewSMSNotifier creates a notifier on top of sender
func NewSMSNotifier(sender SMSSender) *SMSNotifier {
	return &SMSNotifier{sender: sender}
}

// Send delivers n to its phone number
func (s *SMSNotifier) Send(ctx context.Context, n *models.Notification) error {
	if n.PhoneNumber == "" {
		return fmt.Errorf("notification %s for transaction %s has no phone number", n.Type, n.TransactionID)
	}

	sid, err := s.sender.SendSMS(ctx, n.PhoneNumber, n.Body)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "notice sent",
		zap.String("type", string(n.Type)),
		zap.String("transaction_id", n.TransactionID.String()),
		zap.String("message_sid", sid),
	)
	return nil
}

// LogNotifier records notices in the log when SMS is disabled
type LogNotifier struct{}

// Send logs n
func (LogNotifier) Send(ctx context.Context, n *models.Notification) error {
	logger.InfoContext(ctx, "notice (sms disabled)",
		zap.String("type", string(n.Type)),
		zap.String("transaction_id", n.TransactionID.String()),
		zap.String("phone", security.MaskPhone(n.PhoneNumber)),
	)
	return nil
}

// New returns a Twilio-backed notifier when SMS is enabled and configured, otherwise a LogNotifier
func New(cfg config.TwilioConfig, breakerCfg config.CircuitBreakerConfig) Notifier {
	if !cfg.Enabled || cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		logger.Info("twilio disabled, notices will only be logged")
		return LogNotifier{}
	}
	client := NewTwilioClient(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber)
	return NewSMSNotifier(NewResilientSender(client, breakerCfg))
}
