package report

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
	"github.com/Veraticus/settle/internal/settlement"
	"github.com/Veraticus/settle/internal/testutil"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func settle(t *testing.T, db *testutil.TestDB, kind model.DocumentKind, id string, on time.Time) {
	t.Helper()
	ref := model.DocumentRef{Kind: kind, ID: id}
	require.NoError(t, db.Storage.SettleDocument(context.Background(), ref, model.Settlement{Reference: "REF-" + id, Date: on}))
}

func TestOverdueAging(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sale := model.InvoiceTypeSale
	db.SeedDocuments(
		testutil.Due(testutil.Invoice("F1", "120", sale), day(2024, time.June, 20)),
		testutil.Due(testutil.Invoice("F2", "240", sale), day(2024, time.May, 15)),
		testutil.Due(testutil.Invoice("F3", "360", sale), day(2024, time.April, 10)),
		testutil.Due(testutil.Invoice("F4", "480", sale), day(2024, time.January, 1)),
		testutil.Due(testutil.Invoice("F5", "999", sale), day(2024, time.July, 10)),
		testutil.Due(testutil.Invoice("F6", "999", sale), day(2024, time.May, 1)),
		testutil.Due(testutil.Invoice("F7", "999", sale), day(2024, time.June, 30)),
		testutil.Due(testutil.Invoice("P1", "999", model.InvoiceTypePurchase), day(2024, time.January, 1)),
	)
	settle(t, db, model.KindInvoice, "F6", day(2024, time.May, 3))

	aging, err := NewReporter(db.Storage).OverdueAging(context.Background(), day(2024, time.June, 30).Add(15*time.Hour))
	require.NoError(t, err)

	require.Len(t, aging.Items, 4, "future, due-today, settled and purchase invoices are excluded")
	assert.True(t, aging.Total.Equal(amount("1200")))

	want := map[string]struct {
		bucket string
		days   int
	}{
		"FAC-F1": {"0-30", 10},
		"FAC-F2": {"31-60", 46},
		"FAC-F3": {"61-90", 81},
		"FAC-F4": {"90+", 181},
	}
	for _, item := range aging.Items {
		w, ok := want[item.Document.Number]
		require.True(t, ok, item.Document.Number)
		assert.Equal(t, w.bucket, item.Bucket, item.Document.Number)
		assert.Equal(t, w.days, item.DaysOverdue, item.Document.Number)
	}

	for _, b := range aging.Buckets {
		assert.Equal(t, 1, b.Count, b.Label)
	}
	assert.True(t, aging.Buckets[3].Total.Equal(amount("480")))
}

func TestAgingBucketBoundaries(t *testing.T) {
	buckets := agingBuckets()
	tests := []struct {
		want string
		days int
	}{
		{"0-30", 1},
		{"0-30", 30},
		{"31-60", 31},
		{"61-90", 90},
		{"90+", 91},
		{"90+", 4000},
	}

	for _, tt := range tests {
		var got string
		for _, b := range buckets {
			if b.contains(tt.days) {
				got = b.Label
				break
			}
		}
		assert.Equal(t, tt.want, got, "%d days", tt.days)
	}
}

func TestMonthlyVAT(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedDocuments(
		testutil.Invoice("F1", "1200", model.InvoiceTypeSale),
		testutil.Invoice("F2", "600", model.InvoiceTypeSale),
		testutil.Invoice("F3", "600", model.InvoiceTypeSale),
		testutil.Invoice("F4", "600", model.InvoiceTypeSale),
		testutil.Invoice("P1", "120", model.InvoiceTypePurchase),
		testutil.Invoice("P2", "60", model.InvoiceTypePurchase),
	)
	settle(t, db, model.KindInvoice, "F1", day(2024, time.March, 10))
	settle(t, db, model.KindInvoice, "F2", day(2024, time.March, 25))
	settle(t, db, model.KindInvoice, "F3", day(2023, time.December, 31))
	settle(t, db, model.KindInvoice, "P1", day(2024, time.March, 5))
	settle(t, db, model.KindInvoice, "P2", day(2024, time.July, 1))

	vat, err := NewReporter(db.Storage).MonthlyVAT(context.Background(), 2024)
	require.NoError(t, err)

	march := vat.Months[time.March-1]
	assert.True(t, march.Collected.Equal(amount("300")), march.Collected.String())
	assert.True(t, march.Deductible.Equal(amount("20")))
	assert.True(t, march.Net().Equal(amount("280")))

	july := vat.Months[time.July-1]
	assert.True(t, july.Net().Equal(amount("-10")), "a deductible-only month is a credit")

	assert.True(t, vat.Months[time.January-1].Net().IsZero())
	assert.True(t, vat.Collected.Equal(amount("300")))
	assert.True(t, vat.Deductible.Equal(amount("30")))
	assert.True(t, vat.Net().Equal(amount("270")))
}

// zonedStore returns documents whose settlement dates carry a local zone.
type zonedStore struct {
	service.Storage
	docs []model.Document
}

func (z *zonedStore) GetDocuments(_ context.Context, filter service.DocumentFilter) ([]model.Document, error) {
	var out []model.Document
	for _, doc := range z.docs {
		if doc.InvoiceType == filter.InvoiceType {
			out = append(out, doc)
		}
	}
	return out, nil
}

func TestMonthlyVAT_BucketsByUTCMonth(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	sale := testutil.Invoice("F1", "1200", model.InvoiceTypeSale)
	sale.Settlement = &model.Settlement{Reference: "L001", Date: time.Date(2024, time.February, 1, 0, 30, 0, 0, paris)}
	purchase := testutil.Invoice("P1", "120", model.InvoiceTypePurchase)
	purchase.Settlement = &model.Settlement{Reference: "L002", Date: time.Date(2024, time.April, 1, 0, 15, 0, 0, paris)}

	vat, err := NewReporter(&zonedStore{docs: []model.Document{sale, purchase}}).MonthlyVAT(context.Background(), 2024)
	require.NoError(t, err)

	assert.True(t, vat.Months[time.January-1].Collected.Equal(amount("200")))
	assert.True(t, vat.Months[time.February-1].Collected.IsZero())
	assert.True(t, vat.Months[time.March-1].Deductible.Equal(amount("20")))
	assert.True(t, vat.Months[time.April-1].Deductible.IsZero())
}

func TestAnnualTreasury(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	db.SeedDocuments(
		testutil.Invoice("F1", "1200", model.InvoiceTypeSale),
		testutil.Invoice("P1", "120", model.InvoiceTypePurchase),
		testutil.Subscription("A1", "600"),
	)
	_, records := db.SeedStatement("mar",
		testutil.Credit("L1", "1200").On(day(2024, time.March, 10)),
		testutil.Debit("L2", "120").On(day(2024, time.March, 5)),
		testutil.Credit("L3", "600").On(day(2024, time.April, 2)),
		testutil.Debit("L4", "29.99").On(day(2023, time.December, 31)),
	)

	linker := settlement.NewLinker(db.Storage)
	_, err := linker.Commit(ctx, records[0].ID, settlement.State{Status: model.StatusMatched, InvoiceIDs: []string{"F1"}})
	require.NoError(t, err)
	_, err = linker.Commit(ctx, records[1].ID, settlement.State{Status: model.StatusMatched, InvoiceIDs: []string{"P1"}})
	require.NoError(t, err)
	_, err = linker.Commit(ctx, records[2].ID, settlement.State{Status: model.StatusUncertain, SubscriptionID: model.StringPtr("A1")})
	require.NoError(t, err)

	treasury, err := NewReporter(db.Storage).AnnualTreasury(ctx, 2024)
	require.NoError(t, err)

	march := treasury.Months[time.March-1]
	assert.Equal(t, 2, march.Transactions)
	assert.True(t, march.Credits.Equal(amount("1200")))
	assert.True(t, march.Debits.Equal(amount("120")))
	assert.True(t, march.Net().Equal(amount("1080")))
	assert.Equal(t, 2, march.Statuses[model.StatusMatched])
	assert.Equal(t, 2, march.SettledCount)
	assert.True(t, march.Settled.Equal(amount("1320")))

	april := treasury.Months[time.April-1]
	assert.Equal(t, 1, april.Statuses[model.StatusUncertain])
	assert.True(t, april.Settled.Equal(amount("600")))

	assert.True(t, treasury.Credits.Equal(amount("1800")))
	assert.True(t, treasury.Debits.Equal(amount("120")), "the 2023 line is excluded")
	assert.True(t, treasury.Settled.Equal(amount("1920")))

	table := treasury.Table()
	require.Len(t, table.Rows, 12)
	assert.Equal(t, []any{"Total", treasury.Credits, treasury.Debits, treasury.Net(), 2, 1, 0, 3, treasury.Settled}, table.Footer)
}

func TestReportsOnEmptyLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	reporter := NewReporter(db.Storage)
	ctx := context.Background()

	aging, err := reporter.OverdueAging(ctx, testutil.BaseDate)
	require.NoError(t, err)
	assert.Empty(t, aging.Items)
	assert.True(t, aging.Total.IsZero())

	vat, err := reporter.MonthlyVAT(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, vat.Net().IsZero())

	treasury, err := reporter.AnnualTreasury(ctx, 2024)
	require.NoError(t, err)
	assert.Zero(t, treasury.Months[0].Transactions)
}
