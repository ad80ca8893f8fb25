package db

import (
	"database/sql"
)

type Property struct {
	ID        int64
	Code      string
	Status    string
	UpdatedAt int64
	Snapshot  sql.NullString
}

type Installment struct {
	ID              int64
	PropertyID      int64
	Year            int64
	Number          int64
	Amount          float64
	DueDate         string
	DueDateOriginal string
	Status          string
	StatusText      string
	Document        []byte
}
