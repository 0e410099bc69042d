package mocks

import (
	"context"

	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of the settlement notice sender
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, n *models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockSMSSender is a mock implementation of notify.SMSSender
type MockSMSSender struct {
	mock.Mock
}

func (m *MockSMSSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	args := m.Called(ctx, to, body)
	return args.String(0), args.Error(1)
}
