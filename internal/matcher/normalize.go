package matcher

import (
	"iptu-backend/internal/debts"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Keys are the renderings of an installment that may appear in its row's text.
type Keys struct {
	Dates   []string
	Amounts []string
}

var (
	dayFirstDate = regexp.MustCompile(`^(\d{2})[-/.](\d{2})[-/.](\d{4})$`)
	isoDate      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
)

// Normalize renders the due date with both hyphen and slash separators and
// the amount with both dot and comma as decimal separator, grouped by
// thousands as well when it is large enough.
func Normalize(inst debts.Installment) Keys {
	return Keys{
		Dates:   dateForms(inst.DueDate),
		Amounts: amountForms(inst.Amount),
	}
}

func dateForms(date string) []string {
	date = strings.TrimSpace(date)
	if date == "" {
		return nil
	}

	var day, month, year string
	if m := dayFirstDate.FindStringSubmatch(date); m != nil {
		day, month, year = m[1], m[2], m[3]
	} else if m := isoDate.FindStringSubmatch(date); m != nil {
		year, month, day = m[1], m[2], m[3]
	} else {
		// unknown layout, at least swap the separators we know of
		return unique(
			date,
			strings.ReplaceAll(date, "/", "-"),
			strings.ReplaceAll(date, "-", "/"),
		)
	}
	return unique(
		day+"-"+month+"-"+year,
		day+"/"+month+"/"+year,
	)
}

// grouped renderings of the integer part, the portal writes 1.234,50.
var (
	groupedBR = message.NewPrinter(language.BrazilianPortuguese)
	groupedEN = message.NewPrinter(language.English)
)

// amountForms renders like a shortest float repr that always keeps one
// decimal: 198.30 -> 198.3 / 198,3 and 198 -> 198.0 / 198,0, so that a form is
// a prefix of the two decimal rendering on screen. From 1000 on the thousands
// grouped forms 1.234,5 / 1,234.5 are added.
func amountForms(amount float64) []string {
	if amount <= 0 {
		return nil
	}
	dot := strconv.FormatFloat(amount, 'f', -1, 64)
	whole, frac, _ := strings.Cut(dot, ".")
	if frac == "" {
		frac = "0"
	}
	forms := []string{whole + "." + frac, whole + "," + frac}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err == nil && units >= 1000 {
		forms = append(
			forms,
			groupedBR.Sprintf("%d", units)+","+frac,
			groupedEN.Sprintf("%d", units)+"."+frac,
		)
	}
	return unique(forms...)
}

func unique(values ...string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
