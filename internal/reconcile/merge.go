package reconcile

import (
	"slices"
	"time"

	"github.com/sells-group/dealer-sync/internal/model"
)

// Result is the state to persist for one customer after merging.
type Result struct {
	Phone    string
	Name     string
	Email    string
	Vehicles []model.VehicleRecord
	Added    int
	Updated  int
}

// Merge combines an existing persisted customer (nil when the phone is new)
// with the customer grouped from the current upload. Scalars from the upload
// win when non-empty. Each incoming vehicle either updates the entry it
// matches or is appended with AcquiredAt set to now, unless it already
// carries one. See Fold.
func Merge(existing *model.PersistedCustomer, incoming model.Customer, now time.Time) Result {
	res := Result{
		Phone: incoming.Phone,
		Name:  incoming.Name,
		Email: incoming.Email,
	}

	if existing != nil {
		if res.Name == "" {
			res.Name = existing.Name
		}
		if res.Email == "" {
			res.Email = existing.Email
		}
		res.Vehicles = make([]model.VehicleRecord, len(existing.Vehicles), len(existing.Vehicles)+len(incoming.Vehicles))
		copy(res.Vehicles, existing.Vehicles)
	}

	for _, v := range incoming.Vehicles {
		if v.IsEmpty() {
			continue
		}
		if v.AcquiredAt.IsZero() {
			v.AcquiredAt = now
		}
		var matched, changed bool
		res.Vehicles, matched, changed = Fold(res.Vehicles, v)
		switch {
		case !matched:
			res.Added++
		case changed:
			res.Updated++
		}
	}

	return res
}

// Fold adds v to list. When an entry is the same vehicle, v's values fill that
// entry instead, and any other entry the enriched one now matches is collapsed
// into it, keeping the earliest AcquiredAt. The list therefore never holds two
// entries the matcher judges equal. Reports whether v matched an entry and
// whether an existing entry changed.
func Fold(list []model.VehicleRecord, v model.VehicleRecord) ([]model.VehicleRecord, bool, bool) {
	i := FindMatch(list, v)
	if i < 0 {
		return append(list, v), false, false
	}
	changed := Absorb(&list[i], v)
	for {
		j := matchOther(list, i)
		if j < 0 {
			break
		}
		fillEmpty(&list[i], list[j])
		list = slices.Delete(list, j, j+1)
		if j < i {
			i--
		}
		changed = true
	}
	return list, true, changed
}

// matchOther returns the index of an entry other than i that is the same
// vehicle as list[i], or -1.
func matchOther(list []model.VehicleRecord, i int) int {
	for j := range list {
		if j != i && SameVehicle(list[i], list[j]) {
			return j
		}
	}
	return -1
}

// fillEmpty copies fields of src onto dst only where dst has none. An explicit
// year replaces a derived one. The earlier non-zero AcquiredAt wins.
func fillEmpty(dst *model.VehicleRecord, src model.VehicleRecord) {
	fill := func(to *string, from string) {
		if *to == "" {
			*to = from
		}
	}
	fill(&dst.Description, src.Description)
	fill(&dst.Plate, src.Plate)
	fill(&dst.SaleDate, src.SaleDate)
	fill(&dst.Seller, src.Seller)
	if src.Year != "" && (dst.Year == "" || (dst.YearDerived && !src.YearDerived)) {
		dst.Year, dst.YearDerived = src.Year, src.YearDerived
	}
	if !src.AcquiredAt.IsZero() && (dst.AcquiredAt.IsZero() || src.AcquiredAt.Before(dst.AcquiredAt)) {
		dst.AcquiredAt = src.AcquiredAt
	}
}

// Absorb copies every non-empty field of src onto dst. A year read from the
// description never replaces one from a year column. AcquiredAt on dst is
// never touched. Reports whether dst changed.
func Absorb(dst *model.VehicleRecord, src model.VehicleRecord) bool {
	changed := false
	apply := func(to *string, from string) {
		if from != "" && *to != from {
			*to = from
			changed = true
		}
	}
	apply(&dst.Description, src.Description)
	apply(&dst.Plate, src.Plate)
	apply(&dst.SaleDate, src.SaleDate)
	apply(&dst.Seller, src.Seller)
	if src.Year != "" && !(src.YearDerived && dst.Year != "" && !dst.YearDerived) {
		if dst.Year != src.Year || dst.YearDerived != src.YearDerived {
			dst.Year, dst.YearDerived = src.Year, src.YearDerived
			changed = true
		}
	}
	return changed
}
