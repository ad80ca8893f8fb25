// Package store is the persistence collaborator of the extraction pipeline.
//
// Every exported mutation runs in its own transaction. Commit is the one that
// matters for change detection: the snapshot update and the delete-then-insert
// of a property's installments either all land or none of them do.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iptu-backend/internal/assert"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/db"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/telemetry"
	"time"
)

const (
	report_db_query = "db.query"
	report_commit   = "store.commit"
)

type Store struct {
	qry    *db.Queries
	makeTx db.MakeTx
	time   chrono.TimeAPI
	tel    telemetry.API
}

func NewStore(database *sql.DB, time chrono.TimeAPI, tel telemetry.API) Store {
	assert.NotNil(database)
	assert.NotNil(time)
	assert.NotNil(tel)

	return Store{
		qry:    db.New(database),
		makeTx: db.NewMakeTx(database),
		time:   time,
		tel:    telemetry.NewScopedAPI("store", tel),
	}
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", debts.ErrPersistence, op, err)
}

func toProperty(row db.Property) debts.Property {
	p := debts.Property{
		ID:        row.ID,
		Code:      row.Code,
		Status:    debts.PropertyStatus(row.Status),
		UpdatedAt: time.Unix(row.UpdatedAt, 0).In(chrono.SaoPaulo()),
	}
	if row.Snapshot.Valid {
		p.Snapshot = json.RawMessage(row.Snapshot.String)
	}
	return p
}

// FindOrCreate returns the stored property, creating it as pending on first encounter.
func (s Store) FindOrCreate(ctx context.Context, code string) (debts.Property, error) {
	row, err := s.qry.GetProperty(ctx, code)
	if err == nil {
		return toProperty(row), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.tel.ReportBroken(report_db_query, err, "GetProperty", code)
		return debts.Property{}, persistenceErr("get property", err)
	}

	row, err = s.qry.CreateProperty(ctx, db.CreatePropertyParams{
		Code:      code,
		Status:    string(debts.StatusPending),
		UpdatedAt: s.time.Now().Unix(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		// created concurrently by someone else between the two queries
		row, err = s.qry.GetProperty(ctx, code)
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "CreateProperty", code)
		return debts.Property{}, persistenceErr("create property", err)
	}
	return toProperty(row), nil
}

// Get returns a property with its stored installments.
func (s Store) Get(ctx context.Context, code string) (debts.Property, []debts.Installment, error) {
	row, err := s.qry.GetProperty(ctx, code)
	if err != nil {
		return debts.Property{}, nil, persistenceErr("get property", err)
	}
	rows, err := s.qry.GetInstallments(ctx, code)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetInstallments", code)
		return debts.Property{}, nil, persistenceErr("get installments", err)
	}

	installments := make([]debts.Installment, len(rows))
	for i, r := range rows {
		installments[i] = debts.Installment{
			Year:            int(r.Year),
			Number:          int(r.Number),
			Amount:          r.Amount,
			DueDate:         r.DueDate,
			OriginalDueDate: r.DueDateOriginal,
			Status:          debts.InstallmentStatus(r.Status),
			StatusText:      r.StatusText,
			Document:        r.Document,
		}
	}
	return toProperty(row), installments, nil
}

// ReadSnapshot returns the stored snapshot, nil when the property has none.
func (s Store) ReadSnapshot(ctx context.Context, code string) (json.RawMessage, error) {
	row, err := s.qry.GetProperty(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetProperty", code)
		return nil, persistenceErr("read snapshot", err)
	}
	if !row.Snapshot.Valid {
		return nil, nil
	}
	return json.RawMessage(row.Snapshot.String), nil
}

// UpdateSnapshot replaces the snapshot and status of a property.
func (s Store) UpdateSnapshot(ctx context.Context, code string, snapshot json.RawMessage, status debts.PropertyStatus) error {
	return s.inTx(ctx, "UpdateSnapshot", func(tx *db.Queries) error {
		return s.updateSnapshot(ctx, tx, code, snapshot, status)
	})
}

// ReplaceInstallments deletes every stored installment of a property and inserts the given ones.
func (s Store) ReplaceInstallments(ctx context.Context, code string, installments []debts.Installment) error {
	return s.inTx(ctx, "ReplaceInstallments", func(tx *db.Queries) error {
		return s.replaceInstallments(ctx, tx, code, installments)
	})
}

// Commit stores a changed extraction: snapshot, status and installments in a single transaction.
func (s Store) Commit(ctx context.Context, code string, snapshot json.RawMessage, status debts.PropertyStatus, installments []debts.Installment) error {
	return s.inTx(ctx, "Commit", func(tx *db.Queries) error {
		err := s.updateSnapshot(ctx, tx, code, snapshot, status)
		if err != nil {
			return err
		}
		return s.replaceInstallments(ctx, tx, code, installments)
	})
}

// Touch updates only the timestamp and status of a property, installments are left as they are.
func (s Store) Touch(ctx context.Context, code string, status debts.PropertyStatus) error {
	return s.inTx(ctx, "Touch", func(tx *db.Queries) error {
		n, err := tx.UpdatePropertyStatus(ctx, db.UpdatePropertyStatusParams{
			Status:    string(status),
			UpdatedAt: s.time.Now().Unix(),
			Code:      code,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("property %s does not exist", code)
		}
		return nil
	})
}

// SetStatus is Touch under the name the batch runner reads best with.
func (s Store) SetStatus(ctx context.Context, code string, status debts.PropertyStatus) error {
	return s.Touch(ctx, code, status)
}

func (s Store) inTx(ctx context.Context, op string, fn func(tx *db.Queries) error) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err), op)
		return persistenceErr(op, err)
	}
	defer discard()

	err = fn(tx)
	if err != nil {
		s.tel.ReportBroken(report_commit, err, op)
		return persistenceErr(op, err)
	}
	err = commit()
	if err != nil {
		s.tel.ReportBroken(report_commit, fmt.Errorf("commit: %w", err), op)
		return persistenceErr(op, err)
	}
	return nil
}

func (s Store) updateSnapshot(ctx context.Context, tx *db.Queries, code string, snapshot json.RawMessage, status debts.PropertyStatus) error {
	param := db.UpdatePropertySnapshotParams{
		Snapshot:  sql.NullString{String: string(snapshot), Valid: snapshot != nil},
		Status:    string(status),
		UpdatedAt: s.time.Now().Unix(),
		Code:      code,
	}
	n, err := tx.UpdatePropertySnapshot(ctx, param)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("property %s does not exist", code)
	}
	return nil
}

func (s Store) replaceInstallments(ctx context.Context, tx *db.Queries, code string, installments []debts.Installment) error {
	err := tx.DeleteInstallments(ctx, code)
	if err != nil {
		return fmt.Errorf("delete installments: %w", err)
	}
	for _, inst := range installments {
		var document []byte
		if inst.Status == debts.InstallmentOpen && len(inst.Document) > 0 {
			document = inst.Document
		}
		err := tx.CreateInstallment(ctx, db.CreateInstallmentParams{
			Code:            code,
			Year:            int64(inst.Year),
			Number:          int64(inst.Number),
			Amount:          inst.Amount,
			DueDate:         inst.DueDate,
			DueDateOriginal: inst.OriginalDueDate,
			Status:          string(inst.Status),
			StatusText:      inst.StatusText,
			Document:        document,
		})
		if err != nil {
			return fmt.Errorf("create installment %d/%d: %w", inst.Year, inst.Number, err)
		}
	}
	s.tel.ReportDebug("replaced installments", code, len(installments))
	return nil
}
