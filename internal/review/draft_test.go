package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/settlement"
)

func testDraft() Draft {
	return newDraft(&model.Record{
		ID:              "R1",
		StatementFileID: "releve-03",
		Status:          model.StatusUnmatched,
		InvoiceIDs:      []string{"F2"},
		Version:         4,
	}, false)
}

func TestDraft_EditsDoNotMutateOriginal(t *testing.T) {
	base := testDraft()

	edited, err := base.ToggleInvoice("F1")
	require.NoError(t, err)
	edited, err = edited.WithStatus(model.StatusMatched)
	require.NoError(t, err)

	assert.Equal(t, []string{"F2"}, base.InvoiceIDs())
	assert.Equal(t, model.StatusUnmatched, base.Status())
	assert.False(t, base.Changed())

	assert.Equal(t, []string{"F1", "F2"}, edited.InvoiceIDs())
	assert.True(t, edited.Changed())
}

func TestDraft_ToggleTwiceIsUnchanged(t *testing.T) {
	d, err := testDraft().ToggleInvoice("F9")
	require.NoError(t, err)
	d, err = d.ToggleInvoice("F9")
	require.NoError(t, err)
	assert.False(t, d.Changed())
	assert.False(t, d.HasInvoice("F9"))
}

func TestDraft_Slots(t *testing.T) {
	d, err := testDraft().WithSubscription("S1")
	require.NoError(t, err)
	d, err = d.WithDeclaration("D1")
	require.NoError(t, err)
	assert.Equal(t, "S1", d.SubscriptionID())
	assert.Equal(t, "D1", d.DeclarationID())

	d, err = d.WithSubscription("")
	require.NoError(t, err)
	assert.Empty(t, d.SubscriptionID())

	state := d.State()
	assert.Nil(t, state.SubscriptionID)
	require.NotNil(t, state.DeclarationID)
	assert.Equal(t, 4, state.BaseVersion)
}

func TestDraft_InvalidStatus(t *testing.T) {
	d := testDraft()
	same, err := d.WithStatus("paid")
	var invalid *settlement.InvalidStatusError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, d, same)
}

func TestDraft_NotesChangeCounts(t *testing.T) {
	d, err := testDraft().WithNotes("checked with the bank")
	require.NoError(t, err)
	assert.True(t, d.Changed())
	assert.Equal(t, "checked with the bank", d.Notes())
	assert.Equal(t, "R1", d.RecordID())
}
