package services

import (
	"context"

	"github.com/payloop/backend/internal/processor"
	"github.com/stretchr/testify/mock"
)

type MockPayoutExecutor struct {
	mock.Mock
}

func (m *MockPayoutExecutor) Execute(ctx context.Context, instr processor.PayoutInstruction) (processor.PayoutOutcome, error) {
	args := m.Called(ctx, instr)
	return args.Get(0).(processor.PayoutOutcome), args.Error(1)
}

func (m *MockPayoutExecutor) GetPayoutOutcome(ctx context.Context, idempotencyKey string) (processor.PayoutOutcome, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.Get(0).(processor.PayoutOutcome), args.Error(1)
}

type MockProcessorClient struct {
	mock.Mock
}

func (m *MockProcessorClient) GetTransactionState(ctx context.Context, processorRef string) (processor.TransactionState, error) {
	args := m.Called(ctx, processorRef)
	return args.Get(0).(processor.TransactionState), args.Error(1)
}
