// Package changes decides whether a fresh extraction has to be persisted by
// comparing it with the snapshot of the last one that was.
package changes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iptu-backend/internal/assert"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/telemetry"
)

const (
	report_no_change = "no-change"
	report_changed   = "changed"
	report_forced    = "forced"
)

// Store is the subset of the persistence collaborator change detection needs.
type Store interface {
	ReadSnapshot(ctx context.Context, code string) (json.RawMessage, error)
	Commit(ctx context.Context, code string, snapshot json.RawMessage, status debts.PropertyStatus, installments []debts.Installment) error
	Touch(ctx context.Context, code string, status debts.PropertyStatus) error
}

// Strip returns a copy of set without any document bytes.
func Strip(set debts.RecordSet) debts.RecordSet {
	out := debts.RecordSet{
		PropertyID:   set.PropertyID,
		Installments: make([]debts.Installment, len(set.Installments)),
	}
	for i, inst := range set.Installments {
		inst.Document = nil
		out.Installments[i] = inst
	}
	return out
}

// Snapshot renders the binary-stripped projection of set in canonical form.
func Snapshot(set debts.RecordSet) (json.RawMessage, error) {
	encoded, err := json.Marshal(Strip(set))
	if err != nil {
		return nil, err
	}
	return canonical(encoded)
}

// canonical re-encodes a json document through a generic tree, which sorts
// object keys and drops insignificant whitespace.
func canonical(doc []byte) (json.RawMessage, error) {
	var tree any
	decoder := json.NewDecoder(bytes.NewReader(doc))
	decoder.UseNumber()
	err := decoder.Decode(&tree)
	if err != nil {
		return nil, err
	}
	stripBinary(tree)
	return json.Marshal(tree)
}

// stripBinary removes document payloads anywhere in a decoded tree, stored
// snapshots are never trusted to be stripped already.
func stripBinary(node any) {
	switch v := node.(type) {
	case map[string]any:
		delete(v, "document_bytes")
		for _, child := range v {
			stripBinary(child)
		}
	case []any:
		for _, child := range v {
			stripBinary(child)
		}
	}
}

// Equal deep-compares two snapshots. A missing snapshot equals nothing.
func Equal(a, b json.RawMessage) (bool, error) {
	if len(a) == 0 || len(b) == 0 {
		return false, nil
	}
	ca, err := canonical(a)
	if err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}
	cb, err := canonical(b)
	if err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}
	return bytes.Equal(ca, cb), nil
}

type Detector struct {
	store Store
	tel   telemetry.API
}

func NewDetector(store Store, tel telemetry.API) Detector {
	assert.NotNil(store)
	assert.NotNil(tel)
	return Detector{
		store: store,
		tel:   telemetry.NewScopedAPI("changes", tel),
	}
}

// Apply persists set unless it equals the stored snapshot and force is off,
// in which case only the timestamp moves and the status becomes NoChange.
// It returns the status the property ends up with.
func (d Detector) Apply(ctx context.Context, set debts.RecordSet, force bool) (debts.PropertyStatus, error) {
	code := set.PropertyID
	snapshot, err := Snapshot(set)
	if err != nil {
		return "", fmt.Errorf("build snapshot: %w", err)
	}

	stored, err := d.store.ReadSnapshot(ctx, code)
	if err != nil {
		return "", err
	}

	same, err := Equal(snapshot, stored)
	if err != nil {
		// an unreadable stored snapshot is replaced
		d.tel.ReportWarning(report_changed, telemetry.KV{Key: "property_id", Value: code}, err)
		same = false
	}

	if same && !force {
		err = d.store.Touch(ctx, code, debts.StatusNoChange)
		if err != nil {
			return "", err
		}
		d.tel.ReportDebug(report_no_change, telemetry.KV{Key: "property_id", Value: code})
		return debts.StatusNoChange, nil
	}
	if same {
		d.tel.ReportDebug(report_forced, telemetry.KV{Key: "property_id", Value: code})
	}

	status := debts.StatusSuccess
	if len(set.Installments) == 0 {
		status = debts.StatusNoDebts
	}
	err = d.store.Commit(ctx, code, snapshot, status, set.Installments)
	if err != nil {
		return "", err
	}
	d.tel.ReportDebug(
		report_changed,
		telemetry.KV{Key: "property_id", Value: code},
		telemetry.KV{Key: "installments", Value: len(set.Installments)},
		telemetry.KV{Key: "documents", Value: set.DocumentCount()},
	)
	return status, nil
}
