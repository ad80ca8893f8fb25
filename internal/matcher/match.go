package matcher

import (
	"iptu-backend/internal/debts"
	"strings"
)

const (
	scoreNone = iota
	scoreSingle
	scoreBoth
)

// Assignment pairs an open installment with the row its document is downloaded from.
type Assignment struct {
	// Installment indexes the slice given to Plan.
	Installment int
	Row         Row
	Keys        Keys
	// Score is 2 when both due date and amount were found in the row, 1 when only one of them was.
	Score int
	// Ambiguous is set when more than one row had the winning score.
	Ambiguous bool
}

// Unmatched is an open installment for which no row qualified.
type Unmatched struct {
	Installment int
	Keys        Keys
}

func contains(text string, forms []string) bool {
	for _, f := range forms {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}

func score(text string, keys Keys) int {
	date := contains(text, keys.Dates)
	amount := contains(text, keys.Amounts)
	switch {
	case date && amount:
		return scoreBoth
	case date || amount:
		return scoreSingle
	default:
		return scoreNone
	}
}

// Match picks the row for one installment. Rows matching both the due date and
// the amount beat rows matching only one of them, ties go to the earliest row
// in document order. Rows in used are skipped.
func Match(keys Keys, rows []Row, used map[int]bool) (best Row, bestScore int, ties int) {
	for _, row := range rows {
		if used[row.Index] {
			continue
		}
		s := score(row.Text, keys)
		if s == scoreNone {
			continue
		}
		switch {
		case s > bestScore:
			best, bestScore, ties = row, s, 1
		case s == bestScore:
			ties++
		}
	}
	return best, bestScore, ties
}

// Plan assigns rows to every open installment, in installment order. A row is
// never assigned twice.
func Plan(installments []debts.Installment, rows []Row) ([]Assignment, []Unmatched) {
	var assignments []Assignment
	var unmatched []Unmatched
	used := map[int]bool{}

	for i, inst := range installments {
		if inst.Status != debts.InstallmentOpen {
			continue
		}
		keys := Normalize(inst)
		row, s, ties := Match(keys, rows, used)
		if s == scoreNone {
			unmatched = append(unmatched, Unmatched{Installment: i, Keys: keys})
			continue
		}
		used[row.Index] = true
		assignments = append(assignments, Assignment{
			Installment: i,
			Row:         row,
			Keys:        keys,
			Score:       s,
			Ambiguous:   ties > 1,
		})
	}
	return assignments, unmatched
}
