// Package reconcile decides how freshly ingested vehicles combine with the
// vehicles already persisted for the same customer. It performs no I/O.
package reconcile

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/dealer-sync/internal/model"
)

// Evidence names the rule that decided whether two vehicles are the same.
type Evidence int

const (
	// EvidenceNone means no rule applied; the vehicles are different.
	EvidenceNone Evidence = iota
	EvidencePlate
	EvidenceDescriptionPlate
	EvidenceDescriptionSaleDate
	EvidenceModelYear
)

func (e Evidence) String() string {
	switch e {
	case EvidencePlate:
		return "plate"
	case EvidenceDescriptionPlate:
		return "description+plate"
	case EvidenceDescriptionSaleDate:
		return "description+sale_date"
	case EvidenceModelYear:
		return "model+year"
	default:
		return "none"
	}
}

// Verdict is the outcome of comparing two vehicles.
type Verdict struct {
	Evidence Evidence
	Same     bool
}

type matchKey struct {
	description string
	year        string
	plate       string
	saleDate    string
}

type rule struct {
	evidence Evidence
	applies  func(a, b matchKey) bool
	equal    func(a, b matchKey) bool
}

// rules are evaluated in order. The first rule whose fields are present on
// both sides decides the verdict, so differing plates are never rescued by a
// later rule.
var rules = []rule{
	{
		evidence: EvidencePlate,
		applies:  func(a, b matchKey) bool { return a.plate != "" && b.plate != "" },
		equal:    func(a, b matchKey) bool { return a.plate == b.plate },
	},
	{
		evidence: EvidenceDescriptionPlate,
		applies: func(a, b matchKey) bool {
			return a.description != "" && b.description != "" && a.plate != "" && b.plate != ""
		},
		equal: func(a, b matchKey) bool { return a.description == b.description && a.plate == b.plate },
	},
	{
		evidence: EvidenceDescriptionSaleDate,
		applies: func(a, b matchKey) bool {
			return a.description != "" && b.description != "" && a.saleDate != "" && b.saleDate != ""
		},
		equal: func(a, b matchKey) bool { return a.description == b.description && a.saleDate == b.saleDate },
	},
	// A year read from the description counts here. Sheets without a year
	// column have no other year, and re-importing them must not duplicate
	// their vehicles.
	{
		evidence: EvidenceModelYear,
		applies: func(a, b matchKey) bool {
			return a.description != "" && b.description != "" && a.year != "" && b.year != ""
		},
		equal: func(a, b matchKey) bool { return a.description == b.description && a.year == b.year },
	},
}

// Compare applies the matching rules to a and b.
func Compare(a, b model.VehicleRecord) Verdict {
	ka, kb := keyOf(a), keyOf(b)
	for _, r := range rules {
		if r.applies(ka, kb) {
			return Verdict{Evidence: r.evidence, Same: r.equal(ka, kb)}
		}
	}
	return Verdict{Evidence: EvidenceNone}
}

// SameVehicle reports whether a and b describe the same vehicle.
func SameVehicle(a, b model.VehicleRecord) bool {
	return Compare(a, b).Same
}

// FindMatch returns the index of the first entry in list that is the same
// vehicle as v, or -1.
func FindMatch(list []model.VehicleRecord, v model.VehicleRecord) int {
	for i := range list {
		if SameVehicle(list[i], v) {
			return i
		}
	}
	return -1
}

func keyOf(v model.VehicleRecord) matchKey {
	return matchKey{
		description: normalize(v.Description),
		year:        normalize(v.Year),
		plate:       normalize(v.Plate),
		saleDate:    normalize(v.SaleDate),
	}
}

// normalize case-folds s and collapses internal whitespace. A Caser holds
// state, so one is built per call.
func normalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}
