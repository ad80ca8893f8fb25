package db

import (
	"context"
	"database/sql"
)

const createProperty = `-- name: CreateProperty :one
insert into property(code, status, updated_at) values (?, ?, ?)
on conflict(code) do nothing
returning id, code, status, updated_at, snapshot
`

type CreatePropertyParams struct {
	Code      string
	Status    string
	UpdatedAt int64
}

func (q *Queries) CreateProperty(ctx context.Context, arg CreatePropertyParams) (Property, error) {
	row := q.db.QueryRowContext(ctx, createProperty, arg.Code, arg.Status, arg.UpdatedAt)
	var i Property
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Status,
		&i.UpdatedAt,
		&i.Snapshot,
	)
	return i, err
}

const getProperty = `-- name: GetProperty :one
select id, code, status, updated_at, snapshot from property
where code = ?
`

func (q *Queries) GetProperty(ctx context.Context, code string) (Property, error) {
	row := q.db.QueryRowContext(ctx, getProperty, code)
	var i Property
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Status,
		&i.UpdatedAt,
		&i.Snapshot,
	)
	return i, err
}

const updatePropertySnapshot = `-- name: UpdatePropertySnapshot :execrows
update property set snapshot = ?, status = ?, updated_at = ?
where code = ?
`

type UpdatePropertySnapshotParams struct {
	Snapshot  sql.NullString
	Status    string
	UpdatedAt int64
	Code      string
}

func (q *Queries) UpdatePropertySnapshot(ctx context.Context, arg UpdatePropertySnapshotParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updatePropertySnapshot,
		arg.Snapshot,
		arg.Status,
		arg.UpdatedAt,
		arg.Code,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updatePropertyStatus = `-- name: UpdatePropertyStatus :execrows
update property set status = ?, updated_at = ?
where code = ?
`

type UpdatePropertyStatusParams struct {
	Status    string
	UpdatedAt int64
	Code      string
}

func (q *Queries) UpdatePropertyStatus(ctx context.Context, arg UpdatePropertyStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updatePropertyStatus, arg.Status, arg.UpdatedAt, arg.Code)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteInstallments = `-- name: DeleteInstallments :exec
delete from installment
where property_id = (select id from property where code = ?)
`

func (q *Queries) DeleteInstallments(ctx context.Context, code string) error {
	_, err := q.db.ExecContext(ctx, deleteInstallments, code)
	return err
}

const createInstallment = `-- name: CreateInstallment :exec
insert into installment(
    property_id, year, number, amount, due_date, due_date_original, status, status_text, document
) values ((select id from property where code = ?), ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateInstallmentParams struct {
	Code            string
	Year            int64
	Number          int64
	Amount          float64
	DueDate         string
	DueDateOriginal string
	Status          string
	StatusText      string
	Document        []byte
}

func (q *Queries) CreateInstallment(ctx context.Context, arg CreateInstallmentParams) error {
	_, err := q.db.ExecContext(ctx, createInstallment,
		arg.Code,
		arg.Year,
		arg.Number,
		arg.Amount,
		arg.DueDate,
		arg.DueDateOriginal,
		arg.Status,
		arg.StatusText,
		arg.Document,
	)
	return err
}

const getInstallments = `-- name: GetInstallments :many
select installment.id, installment.property_id, installment.year, installment.number, installment.amount,
    installment.due_date, installment.due_date_original, installment.status, installment.status_text, installment.document
from installment
inner join property on property.id = installment.property_id
where property.code = ?
order by installment.year, installment.number, installment.id
`

func (q *Queries) GetInstallments(ctx context.Context, code string) ([]Installment, error) {
	rows, err := q.db.QueryContext(ctx, getInstallments, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Installment
	for rows.Next() {
		var i Installment
		if err := rows.Scan(
			&i.ID,
			&i.PropertyID,
			&i.Year,
			&i.Number,
			&i.Amount,
			&i.DueDate,
			&i.DueDateOriginal,
			&i.Status,
			&i.StatusText,
			&i.Document,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countInstallments = `-- name: CountInstallments :one
select count(*) from installment
inner join property on property.id = installment.property_id
where property.code = ?
`

func (q *Queries) CountInstallments(ctx context.Context, code string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countInstallments, code)
	var count int64
	err := row.Scan(&count)
	return count, err
}
