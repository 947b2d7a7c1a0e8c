package ingest

import (
	"regexp"
	"strings"

	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/reconcile"
)

var embeddedYearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// GroupStats summarises how the rows of one upload were consumed. Skipped
// rows never become job rows and are not errors.
type GroupStats struct {
	Rows                int `json:"rows" yaml:"rows"`
	Customers           int `json:"customers" yaml:"customers"`
	SkippedNoContact    int `json:"skipped_no_contact" yaml:"skipped_no_contact"`
	SkippedInvalidPhone int `json:"skipped_invalid_phone" yaml:"skipped_invalid_phone"`
}

// Group folds rows into one Customer per canonical phone, preserving
// first-seen order. The mapping is computed once per upload by the caller and
// applied to every row unchanged.
func Group(rows []model.RawRow, m ColumnMapping) ([]model.Customer, GroupStats) {
	stats := GroupStats{Rows: len(rows)}
	if !m.HasContact() {
		stats.SkippedNoContact = len(rows)
		return nil, stats
	}

	var customers []model.Customer
	index := make(map[string]int)

	for _, row := range rows {
		name := cell(row, m.Name)
		rawPhone := cell(row, m.Phone)
		if name == "" || rawPhone == "" {
			stats.SkippedNoContact++
			continue
		}

		phone, err := NormalizePhone(rawPhone)
		if err != nil {
			stats.SkippedInvalidPhone++
			continue
		}

		vehicle := extractVehicle(row, m)
		email := strings.ToLower(cell(row, m.Email))

		if i, ok := index[phone]; ok {
			c := &customers[i]
			if c.Email == "" {
				c.Email = email
			}
			if !vehicle.IsEmpty() {
				c.Vehicles = addVehicle(c.Vehicles, vehicle)
			}
			continue
		}

		c := model.Customer{
			Phone:     phone,
			Name:      name,
			Email:     email,
			SourceRow: row,
		}
		if !vehicle.IsEmpty() {
			c.Vehicles = []model.VehicleRecord{vehicle}
		}
		index[phone] = len(customers)
		customers = append(customers, c)
	}

	stats.Customers = len(customers)
	return customers, stats
}

func extractVehicle(row model.RawRow, m ColumnMapping) model.VehicleRecord {
	v := model.VehicleRecord{
		Description: cell(row, m.Vehicle),
		Year:        cell(row, m.Year),
		Plate:       cell(row, m.Plate),
		SaleDate:    cell(row, m.SaleDate),
		Seller:      cell(row, m.Seller),
	}
	if m.Year == "" && v.Description != "" {
		v.Year = embeddedYearRe.FindString(v.Description)
		v.YearDerived = v.Year != ""
	}
	return v
}

// addVehicle appends v unless an entry already in the aggregate is the same
// vehicle, in which case the new row's values fill that entry.
func addVehicle(list []model.VehicleRecord, v model.VehicleRecord) []model.VehicleRecord {
	list, _, _ = reconcile.Fold(list, v)
	return list
}

func cell(row model.RawRow, header string) string {
	if header == "" {
		return ""
	}
	return strings.TrimSpace(row[header])
}
