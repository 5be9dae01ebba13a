package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedBreakdown marks a VAT breakdown that could not be parsed.
// Consumers fall back to the document-level totals instead of failing.
var ErrMalformedBreakdown = errors.New("malformed VAT breakdown")

// VATLine is one rate bucket of a document's VAT breakdown.
type VATLine struct {
	Rate float64 `json:"rate"`
	Net  float64 `json:"net"`
	VAT  float64 `json:"vat"`
}

// ParseVATBreakdown decodes the stored breakdown JSON into an ordered list of
// rate buckets. An empty string yields nil without error; anything that is not
// a JSON array of objects yields ErrMalformedBreakdown.
func ParseVATBreakdown(raw string) ([]VATLine, error) {
	if raw == "" {
		return nil, nil
	}
	var lines []VATLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBreakdown, err)
	}
	return lines, nil
}
