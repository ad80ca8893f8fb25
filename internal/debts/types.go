// Package debts holds the domain types shared by extraction, change detection
// and persistence.
package debts

import (
	"encoding/json"
	"time"
)

type PropertyStatus string

const (
	StatusPending         PropertyStatus = "pending"
	StatusProcessing      PropertyStatus = "processing"
	StatusSuccess         PropertyStatus = "success"
	StatusNoDebts         PropertyStatus = "no_debts"
	StatusNoChange        PropertyStatus = "no_change"
	StatusExtractionError PropertyStatus = "extraction_error"
)

type InstallmentStatus string

const (
	InstallmentOpen      InstallmentStatus = "open"
	InstallmentPaid      InstallmentStatus = "paid"
	InstallmentCancelled InstallmentStatus = "cancelled"
	InstallmentUnknown   InstallmentStatus = "unknown"
)

// Property is a taxed property as it is stored.
type Property struct {
	ID        int64
	Code      string
	Status    PropertyStatus
	UpdatedAt time.Time
	// Snapshot is the binary-stripped projection of the last extraction that
	// changed something, nil if there never was one.
	Snapshot json.RawMessage
}

// Installment is one billing period's debt line item of a property.
type Installment struct {
	Year            int               `json:"year"`
	Number          int               `json:"installment_number"`
	Amount          float64           `json:"amount"`
	DueDate         string            `json:"due_date"`
	OriginalDueDate string            `json:"due_date_original"`
	Status          InstallmentStatus `json:"status"`
	// StatusText is the status exactly as the portal wrote it.
	StatusText string `json:"status_text"`
	// Document is only ever set for open installments whose payment slip
	// was downloaded.
	Document []byte `json:"document_bytes,omitempty"`
}

// RecordSet is the result of one successful extraction.
type RecordSet struct {
	PropertyID   string        `json:"property_id"`
	Installments []Installment `json:"installments"`
}

// DocumentCount returns how many installments carry a document.
func (r RecordSet) DocumentCount() int {
	n := 0
	for _, i := range r.Installments {
		if len(i.Document) > 0 {
			n++
		}
	}
	return n
}
