package statement

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
)

// Date layouts accepted in the proposer blob, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
}

func parseBlob(blob []byte) (*model.ProposalBlob, error) {
	var parsed model.ProposalBlob
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidStatement, err)
	}
	if len(parsed.Rapprochements) == 0 {
		return nil, common.ErrEmptyStatement
	}
	return &parsed, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", common.ErrInvalidStatement, raw)
}

// toTransaction converts a proposer line. Credit and debit default to the sign of montant.
func toTransaction(p model.ProposedTransaction, fileID, id string) (model.Transaction, error) {
	date, err := parseDate(p.Date)
	if err != nil {
		return model.Transaction{}, err
	}

	amount := p.Montant.Round(2)
	txn := model.Transaction{
		ID:              id,
		StatementFileID: fileID,
		Date:            date,
		Label:           strings.TrimSpace(p.Libelle),
		Amount:          amount,
	}
	if p.NumeroLigne != nil {
		txn.LineNumber = strings.TrimSpace(*p.NumeroLigne)
	}

	switch {
	case p.Credit != nil || p.Debit != nil:
		if p.Credit != nil {
			txn.Credit = p.Credit.Round(2)
		}
		if p.Debit != nil {
			txn.Debit = p.Debit.Round(2).Abs()
		}
	case amount.IsPositive():
		txn.Credit = amount
	default:
		txn.Debit = amount.Abs()
	}

	if txn.Label == "" {
		return model.Transaction{}, fmt.Errorf("%w: line dated %s has no label", common.ErrInvalidStatement, p.Date)
	}
	return txn, nil
}
