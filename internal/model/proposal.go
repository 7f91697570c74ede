package model

import "github.com/shopspring/decimal"

// ProposalBlob is the matching proposer output persisted per statement file.
// Field names follow the proposer's JSON contract.
type ProposalBlob struct {
	Rapprochements []Proposal `json:"rapprochements"`
}

// Proposal is one transaction with the proposer's candidate invoice and confidence.
type Proposal struct {
	Facture     *ProposedInvoice     `json:"facture,omitempty"`
	Status      ReconciliationStatus `json:"status"`
	Transaction ProposedTransaction  `json:"transaction"`
}

// ProposedTransaction is a raw bank line as the proposer saw it.
// Amounts decode as JSON numbers or quoted strings.
type ProposedTransaction struct {
	NumeroLigne *string          `json:"numero_ligne,omitempty"`
	Credit      *decimal.Decimal `json:"credit,omitempty"`
	Debit       *decimal.Decimal `json:"debit,omitempty"`
	Date        string           `json:"date"`
	Libelle     string           `json:"libelle"`
	Montant     decimal.Decimal  `json:"montant"`
}

// ProposedInvoice is the candidate invoice summary embedded in the blob.
type ProposedInvoice struct {
	ID            string          `json:"id"`
	NumeroFacture string          `json:"numero_facture,omitempty"`
	TypeFacture   string          `json:"type_facture,omitempty"`
	TotalTTC      decimal.Decimal `json:"total_ttc,omitempty"`
}
