package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// StatementFile is one imported bank statement together with the proposer output.
type StatementFile struct {
	ImportedAt   time.Time
	ValidatedAt  *time.Time
	ID           string
	FileName     string
	Hash         string
	Blob         []byte
	RecordCounts map[ReconciliationStatus]int
}

// IsValidated reports whether the file has been finalized. Its records are then read-only.
func (f *StatementFile) IsValidated() bool {
	return f.ValidatedAt != nil
}

// GenerateHash creates a content hash used to refuse importing the same file twice.
func GenerateHash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return fmt.Sprintf("%x", sum)
}
