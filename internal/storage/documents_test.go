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

func TestSQLiteStorage_SaveDocuments_AllKinds(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	declaration := model.Document{
		Ref:       model.DocumentRef{Kind: model.KindDeclaration, ID: "decl-1"},
		Number:    "URSSAF-2024-Q1",
		AmountDue: decimal.RequireFromString("812.37"),
		DueDate:   baseDate,
	}
	require.NoError(t, store.SaveDocuments(ctx, []model.Document{
		invoice("inv-1", 120, model.InvoiceTypeSale),
		subscription("sub-1", 30),
		declaration,
	}))

	for _, ref := range []model.DocumentRef{
		{Kind: model.KindInvoice, ID: "inv-1"},
		{Kind: model.KindSubscription, ID: "sub-1"},
		{Kind: model.KindDeclaration, ID: "decl-1"},
	} {
		t.Run(string(ref.Kind), func(t *testing.T) {
			doc, err := store.GetDocument(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, ref, doc.Ref)
			assert.False(t, doc.IsSettled())
			assert.True(t, doc.DueDate.Equal(baseDate))
		})
	}

	decl, err := store.GetDocument(ctx, declaration.Ref)
	require.NoError(t, err)
	assert.True(t, decl.AmountDue.Equal(declaration.AmountDue))
	assert.Empty(t, decl.InvoiceType)

	inv, err := store.GetDocument(ctx, model.DocumentRef{Kind: model.KindInvoice, ID: "inv-1"})
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceTypeSale, inv.InvoiceType)
	assert.True(t, inv.AmountExclTax.Add(inv.VATAmount).Equal(inv.AmountDue))

	_, err = store.GetDocument(ctx, model.DocumentRef{Kind: model.KindInvoice, ID: "nope"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_SaveDocuments_UpsertKeepsSettlement(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	doc := invoice("inv-1", 100, model.InvoiceTypeSale)
	require.NoError(t, store.SaveDocuments(ctx, []model.Document{doc}))
	require.NoError(t, store.SettleDocument(ctx, doc.Ref, model.Settlement{Reference: "L001", Date: baseDate}))

	doc.Label = "Renamed"
	doc.Settlement = nil
	require.NoError(t, store.SaveDocuments(ctx, []model.Document{doc}))

	got, err := store.GetDocument(ctx, doc.Ref)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Label)
	require.True(t, got.IsSettled())
	assert.True(t, got.SettledBy("L001"))
	assert.True(t, got.Settlement.Date.Equal(baseDate))
}

func TestSQLiteStorage_SettleAndUnsettle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveDocuments(ctx, []model.Document{subscription("sub-1", 30)}))
	ref := model.DocumentRef{Kind: model.KindSubscription, ID: "sub-1"}

	require.NoError(t, store.SettleDocument(ctx, ref, model.Settlement{Reference: "L009", Date: baseDate}))
	doc, err := store.GetDocument(ctx, ref)
	require.NoError(t, err)
	assert.True(t, doc.SettledBy("L009"))

	require.NoError(t, store.UnsettleDocument(ctx, ref))
	doc, err = store.GetDocument(ctx, ref)
	require.NoError(t, err)
	assert.False(t, doc.IsSettled())
	assert.Nil(t, doc.Settlement)

	err = store.SettleDocument(ctx, model.DocumentRef{Kind: model.KindSubscription, ID: "ghost"},
		model.Settlement{Reference: "L009", Date: baseDate})
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = store.SettleDocument(ctx, ref, model.Settlement{Date: baseDate})
	assert.ErrorIs(t, err, ErrEmptyString)

	err = store.UnsettleDocument(ctx, model.DocumentRef{Kind: "receipt", ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestSQLiteStorage_GetDocuments_Filter(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveDocuments(ctx, []model.Document{
		invoice("sale-1", 100, model.InvoiceTypeSale),
		invoice("sale-2", 200, model.InvoiceTypeSale),
		invoice("buy-1", 50, model.InvoiceTypePurchase),
		subscription("sub-1", 30),
	}))
	march := baseDate.AddDate(0, 0, 10)
	require.NoError(t, store.SettleDocument(ctx, model.DocumentRef{Kind: model.KindInvoice, ID: "sale-1"},
		model.Settlement{Reference: "L1", Date: march}))
	require.NoError(t, store.SettleDocument(ctx, model.DocumentRef{Kind: model.KindInvoice, ID: "buy-1"},
		model.Settlement{Reference: "L2", Date: march.AddDate(0, 1, 0)}))

	from := baseDate
	to := baseDate.AddDate(0, 1, -1)

	tests := []struct {
		name   string
		filter service.DocumentFilter
		want   []string
	}{
		{
			name:   "default kind is invoice",
			filter: service.DocumentFilter{},
			want:   []string{"buy-1", "sale-1", "sale-2"},
		},
		{
			name:   "unsettled only",
			filter: service.DocumentFilter{Kind: model.KindInvoice, UnsettledOnly: true},
			want:   []string{"sale-2"},
		},
		{
			name:   "settled sales",
			filter: service.DocumentFilter{SettledOnly: true, InvoiceType: model.InvoiceTypeSale},
			want:   []string{"sale-1"},
		},
		{
			name:   "settled in march",
			filter: service.DocumentFilter{SettledFrom: &from, SettledTo: &to},
			want:   []string{"sale-1"},
		},
		{
			name:   "subscriptions ignore invoice type",
			filter: service.DocumentFilter{Kind: model.KindSubscription, InvoiceType: model.InvoiceTypeSale},
			want:   []string{"sub-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.GetDocuments(ctx, tt.filter)
			require.NoError(t, err)

			var ids []string
			for _, d := range docs {
				ids = append(ids, d.Ref.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}
