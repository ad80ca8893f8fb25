package matcher

import (
	"fmt"
	"iptu-backend/lib/htmlutil"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Row is a rendered table row that exposes a document download action.
type Row struct {
	// Index is the position of the row among every element matched by the row
	// selector, in document order. It addresses the same element in the live
	// page through the same selector.
	Index int
	Text  string
}

// ParseRows extracts the rows of a rendered page that contain a download
// action. Rows that only wrap other rows (nested layout tables) are skipped,
// their text would contain every inner row.
func ParseRows(page string, rowSelector, actionSelector string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var rows []Row
	doc.Find(rowSelector).Each(func(i int, sel *goquery.Selection) {
		if sel.Find(actionSelector).Length() == 0 {
			return
		}
		nested := sel.Find(rowSelector).FilterFunction(func(_ int, inner *goquery.Selection) bool {
			return inner.Find(actionSelector).Length() > 0
		})
		if nested.Length() > 0 {
			return
		}
		rows = append(rows, Row{
			Index: i,
			Text:  htmlutil.VisibleText(sel.Nodes[0]),
		})
	})
	return rows, nil
}
