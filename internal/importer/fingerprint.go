// Package importer ingests bank transactions from CSV exports and the
// open-banking API, with fingerprint-based duplicate detection.
package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// ComputeFingerprint derives the deduplication key for an imported
// transaction from its observable fields. The canonical form is
// "date|amount|reference|balance" hashed with SHA-256 and truncated to 32 hex
// characters; a missing balance contributes an empty segment. The same bank
// line always produces the same fingerprint regardless of import channel.
func ComputeFingerprint(date string, amount float64, reference string, balance *float64) string {
	var b strings.Builder
	b.WriteString(date)
	b.WriteByte('|')
	b.WriteString(formatAmount(amount))
	b.WriteByte('|')
	b.WriteString(reference)
	b.WriteByte('|')
	if balance != nil {
		b.WriteString(formatAmount(*balance))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:32]
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
