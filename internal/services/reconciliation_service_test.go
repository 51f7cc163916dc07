package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/payloop/backend/internal/models"
	"github.com/payloop/backend/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newReconciliationTestService(t *testing.T) (*ReconciliationService, sqlmock.Sqlmock, *MockProcessorClient) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	redisClient, _ := redismock.NewClientMock()
	client := &MockProcessorClient{}
	service := NewReconciliationService(db, redisClient, NewLedgerService(db), client, testSettlementConfig())
	return service, dbMock, client
}

func TestReconciliationService_IngestRaw(t *testing.T) {
	ctx := context.Background()

	t.Run("quarantines malformed payloads without failing", func(t *testing.T) {
		service, dbMock, _ := newReconciliationTestService(t)

		dbMock.ExpectExec("INSERT INTO quarantined_events").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.IngestRaw(ctx, []byte(`{"type": "unknown.event", "amount": -1}`))
		assert.NoError(t, err)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("applies a well-formed event", func(t *testing.T) {
		service, dbMock, _ := newReconciliationTestService(t)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("FOR UPDATE").
			WithArgs("pi_1").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		raw := []byte(`{
			"processorRef": "pi_1",
			"type": "payment_intent.created",
			"amount": 10000,
			"currency": "USD",
			"occurredAtSequence": 1,
			"metadata": {"payLinkId": "link1", "sellerId": "seller1"}
		}`)
		err := service.IngestRaw(ctx, raw)
		assert.NoError(t, err)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestReconciliationService_ApplyEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("attributes commission from the affiliate account", func(t *testing.T) {
		service, dbMock, _ := newReconciliationTestService(t)

		dbMock.ExpectQuery("SELECT commission_rate_bps FROM affiliate_accounts WHERE affiliate_id = \\$1").
			WithArgs("aff1").
			WillReturnRows(sqlmock.NewRows([]string{"commission_rate_bps"}).AddRow(1500))
		dbMock.ExpectBegin()
		dbMock.ExpectQuery("FOR UPDATE").
			WithArgs("pi_1").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		tx, err := service.ApplyEvent(ctx, processor.Event{
			ProcessorRef: "pi_1",
			Kind:         processor.EventPaymentSucceeded,
			Amount:       10000,
			Currency:     "USD",
			Seq:          1,
			AffiliateID:  "aff1",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(1500), tx.CommissionRateBps)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("quarantines events with an unresolvable affiliate", func(t *testing.T) {
		service, dbMock, _ := newReconciliationTestService(t)

		dbMock.ExpectQuery("SELECT commission_rate_bps FROM affiliate_accounts WHERE affiliate_id = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("INSERT INTO quarantined_events").
			WillReturnResult(sqlmock.NewResult(1, 1))

		tx, err := service.ApplyEvent(ctx, processor.Event{
			ProcessorRef: "pi_1",
			Kind:         processor.EventPaymentSucceeded,
			Amount:       10000,
			Seq:          1,
			AffiliateID:  "ghost",
		})
		assert.NoError(t, err)
		assert.Nil(t, tx)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("swallows stale and out-of-order deliveries", func(t *testing.T) {
		service, dbMock, _ := newReconciliationTestService(t)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("FOR UPDATE").
			WithArgs("pi_1").
			WillReturnRows(storedTransactionRow("pi_1", 10000, models.StatusSucceeded, 5))
		dbMock.ExpectRollback()

		tx, err := service.ApplyEvent(ctx, processor.Event{
			ProcessorRef: "pi_1",
			Kind:         processor.EventPaymentUncaptured,
			Amount:       10000,
			Seq:          2,
		})
		assert.NoError(t, err)
		assert.Equal(t, models.StatusSucceeded, tx.Status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("refund event carries the refunded amount", func(t *testing.T) {
		service, dbMock, _ := newReconciliationTestService(t)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery("FOR UPDATE").
			WithArgs("pi_1").
			WillReturnRows(storedTransactionRow("pi_1", 10000, models.StatusSucceeded, 5))
		dbMock.ExpectExec("UPDATE transactions\\s+SET status = \\$1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		tx, err := service.ApplyEvent(ctx, processor.Event{
			ProcessorRef: "pi_1",
			Kind:         processor.EventChargeRefunded,
			Amount:       4000,
			Seq:          6,
		})
		assert.NoError(t, err)
		assert.Equal(t, models.StatusRefunded, tx.Status)
		assert.Equal(t, int64(4000), tx.RefundAmount)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestReconciliationService_ApplyBatch(t *testing.T) {
	service, dbMock, _ := newReconciliationTestService(t)

	// First payload quarantined, second applied; a poison payload never
	// blocks its siblings.
	dbMock.ExpectExec("INSERT INTO quarantined_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectBegin()
	dbMock.ExpectQuery("FOR UPDATE").
		WithArgs("pi_2").
		WillReturnError(sql.ErrNoRows)
	dbMock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectCommit()

	applied, failed := service.ApplyBatch(context.Background(), [][]byte{
		[]byte(`not even json`),
		[]byte(`{"processorRef": "pi_2", "type": "payment_intent.created", "amount": 500, "occurredAtSequence": 1}`),
	})
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, failed)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestReconciliationService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("matching transactions produce no drift", func(t *testing.T) {
		service, dbMock, client := newReconciliationTestService(t)

		dbMock.ExpectQuery("WHERE created_at >= \\$1 OR last_reconciled_at >= \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(storedTransactionRow("pi_1", 10000, models.StatusSucceeded, 2))

		client.On("GetTransactionState", mock.Anything, "pi_1").
			Return(processor.TransactionState{
				ProcessorRef: "pi_1",
				Status:       models.StatusSucceeded,
				RefundAmount: 0,
			}, nil)

		result, err := service.Reconcile(ctx, time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, 1, result.Checked)
		assert.Equal(t, 1, result.Matched)
		assert.Equal(t, 0, result.Corrected)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("corrects drift and records before and after snapshots", func(t *testing.T) {
		service, dbMock, client := newReconciliationTestService(t)

		dbMock.ExpectQuery("WHERE created_at >= \\$1 OR last_reconciled_at >= \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(storedTransactionRow("pi_1", 10000, models.StatusSucceeded, 2))

		client.On("GetTransactionState", mock.Anything, "pi_1").
			Return(processor.TransactionState{
				ProcessorRef: "pi_1",
				Status:       models.StatusRefunded,
				RefundAmount: 10000,
			}, nil)

		// Authoritative correction through the ledger, then the drift record.
		dbMock.ExpectBegin()
		dbMock.ExpectQuery("FOR UPDATE").
			WithArgs("pi_1").
			WillReturnRows(storedTransactionRow("pi_1", 10000, models.StatusSucceeded, 2))
		dbMock.ExpectExec("UPDATE transactions\\s+SET status = \\$1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()
		dbMock.ExpectExec("INSERT INTO reconciliation_drifts").
			WillReturnResult(sqlmock.NewResult(1, 1))

		result, err := service.Reconcile(ctx, time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, 1, result.Checked)
		assert.Equal(t, 1, result.Corrected)
		assert.Equal(t, 0, result.Matched)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("query failures skip the transaction for the next run", func(t *testing.T) {
		service, dbMock, client := newReconciliationTestService(t)

		dbMock.ExpectQuery("WHERE created_at >= \\$1 OR last_reconciled_at >= \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(storedTransactionRow("pi_1", 10000, models.StatusSucceeded, 2))

		client.On("GetTransactionState", mock.Anything, "pi_1").
			Return(processor.TransactionState{}, assert.AnError)

		result, err := service.Reconcile(ctx, time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, 1, result.Checked)
		assert.Equal(t, 1, result.QueryErrors)
		assert.Equal(t, 0, result.Corrected)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestReconciliationService_ListDrifts(t *testing.T) {
	service, dbMock, _ := newReconciliationTestService(t)

	dbMock.ExpectQuery("FROM reconciliation_drifts\\s+ORDER BY detected_at DESC").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "processor_ref", "local_status", "processor_state",
			"before_snapshot", "after_snapshot", "detected_at",
		}).AddRow("d1", "pi_1", "succeeded", "refunded",
			[]byte(`{"status":"succeeded"}`), []byte(`{"status":"refunded"}`), time.Now()))

	drifts, err := service.ListDrifts(0)
	assert.NoError(t, err)
	assert.Len(t, drifts, 1)
	assert.Equal(t, models.StatusSucceeded, drifts[0].LocalStatus)
	assert.Equal(t, models.StatusRefunded, drifts[0].ProcessorState)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}
