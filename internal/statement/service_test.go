package statement

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
	"github.com/Veraticus/settle/internal/settlement"
	"github.com/Veraticus/settle/internal/storage"
	"github.com/Veraticus/settle/internal/testutil"
)

const marchBlob = `{"rapprochements": [
	{"transaction": {"date": "2024-03-05", "libelle": "VIR ACME", "montant": 1200.0, "credit": 1200.0, "numero_ligne": "L001"},
	 "facture": {"id": "F1", "numero_facture": "FAC-F1", "total_ttc": 700}, "status": "matched"},
	{"transaction": {"date": "2024-03-06", "libelle": "PRLV OVH", "montant": -29.99, "numero_ligne": "L002"},
	 "status": "uncertain"},
	{"transaction": {"date": "06/03/2024", "libelle": "CB BOULANGERIE", "montant": -4.5},
	 "status": "unmatched"},
	{"transaction": {"date": "2024-03-07T10:00:00", "libelle": "VIR BETA", "montant": 300, "numero_ligne": "L004"},
	 "facture": {"id": "F1"}, "status": "uncertain"}
]}`

type countingProgress struct{ n int }

func (p *countingProgress) Add(n int) error {
	p.n += n
	return nil
}

type recordingObserver struct {
	imports   []error
	proposals []string
	rollbacks []error
}

func (o *recordingObserver) ObserveImport(err error, _ time.Duration, _ int) {
	o.imports = append(o.imports, err)
}
func (o *recordingObserver) ObserveProposal(result string) { o.proposals = append(o.proposals, result) }
func (o *recordingObserver) ObserveRollback(err error)     { o.rollbacks = append(o.rollbacks, err) }

type fakeCheckpointer struct {
	prefixes []string
	err      error
	during   func()
}

func (f *fakeCheckpointer) AutoCheckpoint(_ context.Context, prefix string) (*storage.CheckpointMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.during != nil {
		f.during()
	}
	f.prefixes = append(f.prefixes, prefix)
	return &storage.CheckpointMetadata{ID: "auto-" + prefix, IsAuto: true}, nil
}

func setupService(t *testing.T, opts ...Option) (*testutil.TestDB, *Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	db.SeedDocuments(
		testutil.Invoice("F1", "700.00", model.InvoiceTypeSale),
		testutil.Invoice("F2", "500.00", model.InvoiceTypeSale),
	)
	return db, NewService(db.Storage, settlement.NewLinker(db.Storage), opts...)
}

func TestImport_CreatesUnmatchedRecords(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	result, err := svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Transactions)
	assert.Zero(t, result.Applied)
	require.Len(t, result.Records, 4)

	for _, rec := range result.Records {
		assert.Equal(t, model.StatusUnmatched, rec.Status)
	}
	assert.Equal(t, model.StatusMatched, result.Records[0].ProposedStatus)
	require.NotNil(t, result.Records[0].ProposedInvoiceID)
	assert.Equal(t, "F1", *result.Records[0].ProposedInvoiceID)
	assert.False(t, db.MustDocument(model.KindInvoice, "F1").IsSettled(), "proposals are not applied by default")

	txns, err := db.Storage.GetTransactions(ctx, service.TransactionFilter{StatementFileID: result.File.ID})
	require.NoError(t, err)
	require.Len(t, txns, 4)
	assert.True(t, txns[0].Credit.Equal(decimal.RequireFromString("1200")))
	assert.True(t, txns[1].Debit.Equal(decimal.RequireFromString("29.99")))
	assert.True(t, txns[1].Amount.Equal(decimal.RequireFromString("-29.99")))
	assert.Equal(t, time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC), txns[2].Date.UTC())
	assert.Empty(t, txns[2].LineNumber)

	stored, err := db.Storage.GetStatementFile(ctx, result.File.ID)
	require.NoError(t, err)
	assert.Equal(t, marchBlob, string(stored.Blob), "the proposer blob is kept verbatim")
}

func TestImport_RefusesDuplicateFile(t *testing.T) {
	_, svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{})
	require.NoError(t, err)

	_, err = svc.Import(ctx, "copy.json", strings.NewReader(marchBlob), ImportOptions{})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestImport_InvalidInput(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		blob    string
	}{
		{name: "not json", blob: `rapprochements`, wantErr: common.ErrInvalidStatement},
		{name: "empty", blob: `{"rapprochements": []}`, wantErr: common.ErrEmptyStatement},
		{
			name:    "bad date",
			blob:    `{"rapprochements": [{"transaction": {"date": "March 5th", "libelle": "X", "montant": 1}, "status": "matched"}]}`,
			wantErr: common.ErrInvalidStatement,
		},
		{
			name:    "missing label",
			blob:    `{"rapprochements": [{"transaction": {"date": "2024-03-05", "libelle": " ", "montant": 1}, "status": "matched"}]}`,
			wantErr: common.ErrInvalidStatement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observer := &recordingObserver{}
			db, svc := setupService(t, WithObserver(observer))
			ctx := context.Background()

			_, err := svc.Import(ctx, "bad.json", strings.NewReader(tt.blob), ImportOptions{})
			assert.ErrorIs(t, err, tt.wantErr)

			files, err := db.Storage.ListStatementFiles(ctx)
			require.NoError(t, err)
			assert.Empty(t, files)
			require.Len(t, observer.imports, 1)
			assert.Error(t, observer.imports[0])
		})
	}
}

func TestImport_AppliesProposals(t *testing.T) {
	observer := &recordingObserver{}
	db, svc := setupService(t, WithObserver(observer))
	ctx := context.Background()

	progress := &countingProgress{}
	result, err := svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{
		ApplyProposals: true,
		NewProgress: func(total int) Progress {
			assert.Equal(t, 4, total)
			return progress
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Applied)
	// L001 pays 1200 against a 700 invoice; L002 is uncertain with nothing linked.
	assert.Equal(t, 2, result.Warnings)
	require.Len(t, result.Conflicts, 1)
	var settled *settlement.AlreadySettledError
	assert.ErrorAs(t, result.Conflicts[0], &settled)
	assert.Equal(t, 4, progress.n)
	assert.Equal(t, []string{ProposalApplied, ProposalApplied, ProposalSkipped, ProposalConflict}, observer.proposals)

	assert.True(t, db.MustDocument(model.KindInvoice, "F1").SettledBy("L001"))
	assert.Equal(t, model.StatusMatched, db.MustRecord(result.Records[0].ID).Status)
	assert.Equal(t, model.StatusUncertain, db.MustRecord(result.Records[1].ID).Status)
	assert.Equal(t, model.StatusUnmatched, db.MustRecord(result.Records[3].ID).Status)
	assert.Equal(t, 2, result.Records[0].Version)
}

func TestRollback_UnsettlesAndDeletes(t *testing.T) {
	observer := &recordingObserver{}
	checkpointer := &fakeCheckpointer{}
	db, svc := setupService(t, WithObserver(observer), WithCheckpointer(checkpointer))
	ctx := context.Background()

	imported, err := svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{ApplyProposals: true})
	require.NoError(t, err)
	require.True(t, db.MustDocument(model.KindInvoice, "F1").IsSettled())

	result, err := svc.Rollback(ctx, imported.File.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Records)
	assert.Equal(t, 4, result.Transactions)
	assert.Equal(t, []model.DocumentRef{{Kind: model.KindInvoice, ID: "F1"}}, result.Unsettled)
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, []string{"rollback"}, checkpointer.prefixes)

	assert.False(t, db.MustDocument(model.KindInvoice, "F1").IsSettled())
	_, err = db.Storage.GetStatementFile(ctx, imported.File.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	lines, err := db.Storage.GetTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{})
	require.NoError(t, err, "a rolled back file can be imported again")
	assert.Equal(t, []error{nil}, observer.rollbacks)
}

func TestRollback_RefusesValidatedFile(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	imported, err := svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{ApplyProposals: true})
	require.NoError(t, err)
	require.NoError(t, svc.Validate(ctx, imported.File.ID))

	_, err = svc.Rollback(ctx, imported.File.ID)
	assert.ErrorIs(t, err, ErrFileValidated)
	assert.True(t, db.MustDocument(model.KindInvoice, "F1").SettledBy("L001"))

	files, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].IsValidated())
	assert.Equal(t, 1, files[0].RecordCounts[model.StatusMatched])
	assert.Equal(t, 1, files[0].RecordCounts[model.StatusUncertain])
	assert.Equal(t, 2, files[0].RecordCounts[model.StatusUnmatched])
}

func TestRollback_RefusesFileValidatedMeanwhile(t *testing.T) {
	checkpointer := &fakeCheckpointer{}
	db, svc := setupService(t, WithCheckpointer(checkpointer))
	ctx := context.Background()

	imported, err := svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{ApplyProposals: true})
	require.NoError(t, err)
	checkpointer.during = func() {
		require.NoError(t, svc.Validate(ctx, imported.File.ID))
	}

	_, err = svc.Rollback(ctx, imported.File.ID)
	assert.ErrorIs(t, err, ErrFileValidated)
	assert.True(t, db.MustDocument(model.KindInvoice, "F1").SettledBy("L001"))

	file, err := db.Storage.GetStatementFile(ctx, imported.File.ID)
	require.NoError(t, err)
	assert.True(t, file.IsValidated())
}

func TestRollback_CheckpointFailureAborts(t *testing.T) {
	db, svc := setupService(t, WithCheckpointer(&fakeCheckpointer{err: errors.New("disk full")}))
	ctx := context.Background()

	imported, err := svc.Import(ctx, "releve-mars.json", strings.NewReader(marchBlob), ImportOptions{ApplyProposals: true})
	require.NoError(t, err)

	_, err = svc.Rollback(ctx, imported.File.ID)
	require.Error(t, err)
	assert.True(t, db.MustDocument(model.KindInvoice, "F1").IsSettled())
}

func TestValidate_UnknownFile(t *testing.T) {
	_, svc := setupService(t)
	assert.ErrorIs(t, svc.Validate(context.Background(), "missing"), common.ErrNotFound)
}
