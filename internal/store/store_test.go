package store

import (
	"context"
	"encoding/json"
	"errors"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/db"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/telemetry"
	"iptu-backend/lib/testutil"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (Store, *chrono.FixedTime, *telemetry.Recorder) {
	clock := &chrono.FixedTime{Current: time.Date(2025, 12, 1, 10, 0, 0, 0, chrono.SaoPaulo())}
	rec := telemetry.NewRecorder()
	return NewStore(testutil.OpenDB(t), clock, rec), clock, rec
}

func TestFindOrCreate(t *testing.T) {
	store, clock, _ := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	created, err := store.FindOrCreate(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, "2166", created.Code)
	require.Equal(t, debts.StatusPending, created.Status)
	require.Nil(t, created.Snapshot)
	require.Equal(t, clock.Current.Unix(), created.UpdatedAt.Unix())

	clock.Advance(time.Hour)
	found, err := store.FindOrCreate(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
	require.Equal(t, created.UpdatedAt, found.UpdatedAt)
}

func TestCommitReplacesInstallments(t *testing.T) {
	store, _, _ := setup(t)
	ctx := context.Background()

	_, err := store.FindOrCreate(ctx, "2166")
	require.NoError(t, err)

	first := []debts.Installment{
		{Year: 2025, Number: 1, Amount: 198.3, DueDate: "22-12-2025", OriginalDueDate: "22-12-2025", Status: debts.InstallmentOpen, Document: []byte("%PDF-1.4")},
		{Year: 2025, Number: 2, Amount: 198.3, DueDate: "22-01-2026", OriginalDueDate: "22-01-2026", Status: debts.InstallmentPaid, Document: []byte("never stored")},
	}
	err = store.Commit(ctx, "2166", json.RawMessage(`{"a":1}`), debts.StatusSuccess, first)
	require.NoError(t, err)

	property, stored, err := store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, debts.StatusSuccess, property.Status)
	require.JSONEq(t, `{"a":1}`, string(property.Snapshot))
	require.Len(t, stored, 2)
	require.Equal(t, []byte("%PDF-1.4"), stored[0].Document)
	require.Nil(t, stored[1].Document)

	err = store.Commit(ctx, "2166", json.RawMessage(`{"a":2}`), debts.StatusNoDebts, nil)
	require.NoError(t, err)

	property, stored, err = store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, debts.StatusNoDebts, property.Status)
	require.Len(t, stored, 0)

	snapshot, err := store.ReadSnapshot(ctx, "2166")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2}`, string(snapshot))
}

func TestCommitRollsBack(t *testing.T) {
	store, _, rec := setup(t)
	ctx := context.Background()

	err := store.Commit(ctx, "unknown", json.RawMessage(`{}`), debts.StatusSuccess, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, debts.ErrPersistence))
	require.True(t, rec.Has("broken", "store.commit"))

	_, err = store.FindOrCreate(ctx, "2166")
	require.NoError(t, err)
	err = store.Commit(ctx, "2166", json.RawMessage(`{"v":1}`), debts.StatusSuccess, []debts.Installment{
		{Year: 2025, Number: 1, Status: debts.InstallmentOpen},
	})
	require.NoError(t, err)

	// the second installment references a property that does not exist, so the
	// snapshot update that preceded it in the same transaction must not stick.
	err = store.inTx(ctx, "test", func(tx *db.Queries) error {
		if err := store.updateSnapshot(ctx, tx, "2166", json.RawMessage(`{"v":2}`), debts.StatusSuccess); err != nil {
			return err
		}
		return store.replaceInstallments(ctx, tx, "missing", []debts.Installment{{Year: 2025, Number: 2}})
	})
	require.Error(t, err)

	snapshot, err := store.ReadSnapshot(ctx, "2166")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(snapshot))

	_, stored, err := store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestTouchKeepsInstallments(t *testing.T) {
	store, clock, _ := setup(t)
	ctx := context.Background()

	_, err := store.FindOrCreate(ctx, "2166")
	require.NoError(t, err)
	err = store.ReplaceInstallments(ctx, "2166", []debts.Installment{{Year: 2025, Number: 1, Status: debts.InstallmentOpen}})
	require.NoError(t, err)
	err = store.UpdateSnapshot(ctx, "2166", json.RawMessage(`[]`), debts.StatusSuccess)
	require.NoError(t, err)

	clock.Advance(time.Hour * 24)
	err = store.Touch(ctx, "2166", debts.StatusNoChange)
	require.NoError(t, err)

	property, stored, err := store.Get(ctx, "2166")
	require.NoError(t, err)
	require.Equal(t, debts.StatusNoChange, property.Status)
	require.Equal(t, clock.Current.Unix(), property.UpdatedAt.Unix())
	require.JSONEq(t, `[]`, string(property.Snapshot))
	require.Len(t, stored, 1)

	require.Error(t, store.Touch(ctx, "missing", debts.StatusNoChange))
}

func TestReadSnapshotMissing(t *testing.T) {
	store, _, _ := setup(t)
	snapshot, err := store.ReadSnapshot(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, snapshot)
}
