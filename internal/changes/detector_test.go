package changes

import (
	"context"
	"encoding/json"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/store"
	"iptu-backend/internal/telemetry"
	"iptu-backend/lib/testutil"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func sampleSet() debts.RecordSet {
	return debts.RecordSet{
		PropertyID: "2166",
		Installments: []debts.Installment{
			{
				Year:            2025,
				Number:          1,
				Amount:          198.3,
				DueDate:         "22-12-2025",
				OriginalDueDate: "22-12-2025",
				Status:          debts.InstallmentOpen,
				StatusText:      "Em aberto",
				Document:        []byte("%PDF-1.4 first"),
			},
		},
	}
}

type fixture struct {
	store    store.Store
	clock    *chrono.FixedTime
	detector Detector
}

func newFixture(t *testing.T) fixture {
	clock := &chrono.FixedTime{Current: time.Date(2025, 12, 1, 9, 0, 0, 0, chrono.SaoPaulo())}
	rec := telemetry.NewRecorder()
	s := store.NewStore(testutil.OpenDB(t), clock, rec)
	_, err := s.FindOrCreate(context.Background(), "2166")
	require.NoError(t, err)
	return fixture{store: s, clock: clock, detector: NewDetector(s, rec)}
}

func TestStripKeepsOriginal(t *testing.T) {
	set := sampleSet()
	stripped := Strip(set)
	require.Nil(t, stripped.Installments[0].Document)
	require.NotNil(t, set.Installments[0].Document)
}

func TestEqualIgnoresDocuments(t *testing.T) {
	a := sampleSet()
	b := sampleSet()
	b.Installments[0].Document = []byte("%PDF-1.4 second")

	sa, err := Snapshot(a)
	require.NoError(t, err)
	sb, err := Snapshot(b)
	require.NoError(t, err)

	same, err := Equal(sa, sb)
	require.NoError(t, err)
	require.True(t, same)
	require.NotContains(t, string(sa), "document_bytes")
}

func TestEqualStoredWithDocument(t *testing.T) {
	fresh, err := Snapshot(sampleSet())
	require.NoError(t, err)
	withBytes, err := json.Marshal(sampleSet())
	require.NoError(t, err)

	same, err := Equal(fresh, withBytes)
	require.NoError(t, err)
	require.True(t, same)
}

func TestEqualKeyOrder(t *testing.T) {
	same, err := Equal(
		json.RawMessage(`{"a":1,"b":[1.50,{"c":"x"}]}`),
		json.RawMessage(`{ "b": [1.50, {"c": "x"}], "a": 1 }`),
	)
	require.NoError(t, err)
	require.True(t, same)

	same, err = Equal(json.RawMessage(`{"a":1}`), nil)
	require.NoError(t, err)
	require.False(t, same)
}

func TestApplyNoContent(t *testing.T) {
	f := newFixture(t)
	status, err := f.detector.Apply(context.Background(), debts.RecordSet{PropertyID: "2166", Installments: []debts.Installment{}}, false)
	require.NoError(t, err)
	require.Equal(t, debts.StatusNoDebts, status)
}

func TestApplyIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	status, err := f.detector.Apply(ctx, sampleSet(), false)
	require.NoError(t, err)
	require.Equal(t, debts.StatusSuccess, status)
	prop, before, err := f.store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, debts.StatusSuccess, prop.Status)

	f.clock.Advance(time.Hour)
	rerun := sampleSet()
	rerun.Installments[0].Document = []byte("%PDF-1.4 redownloaded")

	status, err = f.detector.Apply(ctx, rerun, false)
	require.NoError(t, err)
	require.Equal(t, debts.StatusNoChange, status)

	prop, after, err := f.store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, debts.StatusNoChange, prop.Status)
	require.Equal(t, f.clock.Now().Unix(), prop.UpdatedAt.Unix())
	require.Empty(t, cmp.Diff(before, after))
	require.Equal(t, []byte("%PDF-1.4 first"), after[0].Document)
}

func TestApplyForce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.detector.Apply(ctx, sampleSet(), false)
	require.NoError(t, err)

	rerun := sampleSet()
	rerun.Installments[0].Document = []byte("%PDF-1.4 redownloaded")
	status, err := f.detector.Apply(ctx, rerun, true)
	require.NoError(t, err)
	require.Equal(t, debts.StatusSuccess, status)

	_, after, err := f.store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4 redownloaded"), after[0].Document)
}

func TestApplyChanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.detector.Apply(ctx, sampleSet(), false)
	require.NoError(t, err)

	paid := sampleSet()
	paid.Installments[0].Status = debts.InstallmentPaid
	paid.Installments[0].StatusText = "Pago"
	paid.Installments[0].Document = nil

	status, err := f.detector.Apply(ctx, paid, false)
	require.NoError(t, err)
	require.Equal(t, debts.StatusSuccess, status)

	prop, after, err := f.store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, debts.InstallmentPaid, after[0].Status)
	require.Nil(t, after[0].Document)

	stored, err := Snapshot(paid)
	require.NoError(t, err)
	same, err := Equal(prop.Snapshot, stored)
	require.NoError(t, err)
	require.True(t, same)
}
