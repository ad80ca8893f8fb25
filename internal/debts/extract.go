package debts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawDebt is one record of the debt extract endpoint's response.
type RawDebt struct {
	Year            flexInt   `json:"ano"`
	Number          flexInt   `json:"parcela"`
	Amount          flexFloat `json:"valor"`
	DueDate         string    `json:"vencimento"`
	OriginalDueDate string    `json:"vencimentoOriginal"`
	Status          string    `json:"situacao"`
}

// ParseExtract decodes the body of a 200 answer of the debt extract endpoint.
// The body is either a bare array of records or an object holding them
// under `debitos`.
func ParseExtract(body []byte) ([]RawDebt, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []RawDebt
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode debt list: %w", err)
		}
		return list, nil
	}

	var envelope struct {
		Debts []RawDebt `json:"debitos"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode debt envelope: %w", err)
	}
	return envelope.Debts, nil
}

// Installment converts the record, the status is left for classification.
func (r RawDebt) Installment() Installment {
	original := r.OriginalDueDate
	if original == "" {
		original = r.DueDate
	}
	return Installment{
		Year:            int(r.Year),
		Number:          int(r.Number),
		Amount:          float64(r.Amount),
		DueDate:         strings.TrimSpace(r.DueDate),
		OriginalDueDate: strings.TrimSpace(original),
		StatusText:      strings.TrimSpace(r.Status),
	}
}

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("parse int %q: %w", text, err)
	}
	*f = flexInt(v)
	return nil
}

// flexFloat accepts JSON numbers and strings in either `1234.56` or the
// localized `1.234,56` format.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(strings.Trim(string(data), `"`))
	if text == "" || text == "null" {
		*f = 0
		return nil
	}
	text = strings.TrimPrefix(text, "R$")
	text = strings.TrimSpace(text)
	if strings.Contains(text, ",") {
		text = strings.ReplaceAll(text, ".", "")
		text = strings.ReplaceAll(text, ",", ".")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", text, err)
	}
	*f = flexFloat(v)
	return nil
}
