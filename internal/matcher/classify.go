// Package matcher cross-references the structured debt records returned by
// the portal's backend with the rows rendered on screen, to find which row's
// download action produces each open installment's payment slip.
package matcher

import (
	"iptu-backend/internal/debts"
	"iptu-backend/lib/textutil"
)

// markers are matched against the folded (lowercase, accent free) status text.
var (
	cancelledMarkers = []string{"nao cobrar", "nao cobrado", "cancelad"}
	paidMarkers      = []string{"quitad", "pago", "liquidad"}
	notPaidMarkers   = []string{"nao pago", "nao paga"}
)

// Classify decides the status of an installment from its raw status text.
func Classify(inst debts.Installment) debts.InstallmentStatus {
	switch {
	case textutil.ContainsAny(inst.StatusText, cancelledMarkers):
		return debts.InstallmentCancelled
	case textutil.ContainsAny(inst.StatusText, paidMarkers) &&
		!textutil.ContainsAny(inst.StatusText, notPaidMarkers):
		return debts.InstallmentPaid
	case inst.DueDate == "" && inst.Amount == 0:
		// nothing to match a row against
		return debts.InstallmentUnknown
	default:
		return debts.InstallmentOpen
	}
}

// ClassifyAll sets the status of every installment in place.
func ClassifyAll(installments []debts.Installment) {
	for i := range installments {
		installments[i].Status = Classify(installments[i])
	}
}
