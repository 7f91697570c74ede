package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

func TestSQLiteStorage_SaveAndGetTransactions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txns, _ := seedStatement(t, store, "file-a", 5)

	t.Run("get by id keeps amounts exact", func(t *testing.T) {
		got, err := store.GetTransactionByID(ctx, txns[2].ID)
		require.NoError(t, err)
		assert.Equal(t, txns[2].Label, got.Label)
		assert.Equal(t, txns[2].LineNumber, got.LineNumber)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(300)), "amount = %s", got.Amount)
		assert.True(t, got.Date.Equal(txns[2].Date))
		assert.Equal(t, got.LineNumber, got.SettlementReference())
	})

	t.Run("missing transaction", func(t *testing.T) {
		_, err := store.GetTransactionByID(ctx, "nope")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	tests := []struct {
		name   string
		filter service.TransactionFilter
		want   []string
	}{
		{
			name:   "all in date order",
			filter: service.TransactionFilter{},
			want:   []string{txns[0].ID, txns[1].ID, txns[2].ID, txns[3].ID, txns[4].ID},
		},
		{
			name: "date range",
			filter: service.TransactionFilter{
				StartDate: &txns[1].Date,
				EndDate:   &txns[3].Date,
			},
			want: []string{txns[1].ID, txns[2].ID, txns[3].ID},
		},
		{
			name:   "limit and offset",
			filter: service.TransactionFilter{Limit: 2, Offset: 1},
			want:   []string{txns[1].ID, txns[2].ID},
		},
		{
			name:   "other statement file",
			filter: service.TransactionFilter{StatementFileID: "file-b"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetTransactions(ctx, tt.filter)
			require.NoError(t, err)

			var ids []string
			for _, txn := range got {
				ids = append(ids, txn.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSQLiteStorage_SaveTransactions_DuplicateLineNumber(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txns, _ := seedStatement(t, store, "file-a", 1)

	dup := txns[0]
	dup.ID = "another-id"
	err := store.SaveTransactions(ctx, []model.Transaction{dup})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestSQLiteStorage_SaveTransactions_WithoutLineNumber(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedStatement(t, store, "file-a", 0)

	txns := []model.Transaction{
		{ID: "t1", StatementFileID: "file-a", Date: baseDate, Label: "CB SHOP", Amount: decimal.NewFromInt(-12)},
		{ID: "t2", StatementFileID: "file-a", Date: baseDate, Label: "CB SHOP", Amount: decimal.NewFromInt(-12)},
	}
	require.NoError(t, store.SaveTransactions(ctx, txns))

	got, err := store.GetTransactionByID(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, got.LineNumber)
	assert.Equal(t, "t2", got.SettlementReference())
	assert.False(t, got.IsCredit())
}

func TestSQLiteStorage_SaveTransactions_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	assert.ErrorIs(t, store.SaveTransactions(ctx, nil), ErrNilParameter)
	assert.ErrorIs(t, store.SaveTransactions(ctx, []model.Transaction{}), ErrEmptySlice)
	assert.ErrorIs(t, store.SaveTransactions(ctx, []model.Transaction{{ID: "x"}}), ErrInvalidTransaction)
}

func TestSQLiteStorage_DeleteTransactionsByStatementFile(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedStatement(t, store, "file-a", 2)
	seedStatement(t, store, "file-b", 2)

	require.NoError(t, store.DeleteRecordsByStatementFile(ctx, "file-a"))
	require.NoError(t, store.DeleteTransactionsByStatementFile(ctx, "file-a"))

	remaining, err := store.GetTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	for _, txn := range remaining {
		assert.Equal(t, "file-b", txn.StatementFileID)
	}
}
