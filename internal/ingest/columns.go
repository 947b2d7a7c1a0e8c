package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a semantic column the grouper knows how to read.
type Field string

const (
	FieldName     Field = "name"
	FieldPhone    Field = "phone"
	FieldEmail    Field = "email"
	FieldVehicle  Field = "vehicle"
	FieldYear     Field = "year"
	FieldPlate    Field = "plate"
	FieldSaleDate Field = "sale_date"
	FieldSeller   Field = "seller"
)

// ColumnMapping holds the header chosen for each field. An empty string means
// the field is unmapped and rows simply omit it.
type ColumnMapping struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Vehicle  string `json:"vehicle,omitempty"`
	Year     string `json:"year,omitempty"`
	Plate    string `json:"plate,omitempty"`
	SaleDate string `json:"sale_date,omitempty"`
	Seller   string `json:"seller,omitempty"`
}

// Column returns the header mapped to f.
func (m ColumnMapping) Column(f Field) (string, bool) {
	var h string
	switch f {
	case FieldName:
		h = m.Name
	case FieldPhone:
		h = m.Phone
	case FieldEmail:
		h = m.Email
	case FieldVehicle:
		h = m.Vehicle
	case FieldYear:
		h = m.Year
	case FieldPlate:
		h = m.Plate
	case FieldSaleDate:
		h = m.SaleDate
	case FieldSeller:
		h = m.Seller
	}
	return h, h != ""
}

// HasContact reports whether both identifying columns were found.
func (m ColumnMapping) HasContact() bool {
	return m.Name != "" && m.Phone != ""
}

func (m *ColumnMapping) set(f Field, header string) {
	switch f {
	case FieldName:
		m.Name = header
	case FieldPhone:
		m.Phone = header
	case FieldEmail:
		m.Email = header
	case FieldVehicle:
		m.Vehicle = header
	case FieldYear:
		m.Year = header
	case FieldPlate:
		m.Plate = header
	case FieldSaleDate:
		m.SaleDate = header
	case FieldSeller:
		m.Seller = header
	}
}

// HeaderPredicate tests a folded header (lower-cased, accents removed,
// separators collapsed to single spaces).
type HeaderPredicate func(folded string) bool

// ColumnRule resolves one field. Passes are tried in order; each pass scans
// every header in column order and the first match of the earliest
// successful pass wins.
type ColumnRule struct {
	Field  Field
	Passes []HeaderPredicate
}

// DefaultRules is the fixed resolution order: name, phone, email, vehicle,
// year, plate, sale date, seller.
var DefaultRules = []ColumnRule{
	{Field: FieldName, Passes: []HeaderPredicate{containsAny("cliente", "nome", "name")}},
	{Field: FieldPhone, Passes: []HeaderPredicate{containsAny("celular", "telefone", "tel", "phone")}},
	{Field: FieldEmail, Passes: []HeaderPredicate{containsAny("email", "e mail")}},
	{Field: FieldVehicle, Passes: []HeaderPredicate{
		equalsAny("veiculo", "veiculos"),
		equalsAny("modelo"),
		containsAny("veiculo", "modelo"),
	}},
	{Field: FieldYear, Passes: []HeaderPredicate{containsAny("ano", "year")}},
	{Field: FieldPlate, Passes: []HeaderPredicate{containsAny("placa", "plate")}},
	{Field: FieldSaleDate, Passes: []HeaderPredicate{isSaleDate}},
	{Field: FieldSeller, Passes: []HeaderPredicate{containsAny("vendedor", "seller", "consultor")}},
}

// MapColumns resolves the mapping for one upload from its header row using
// DefaultRules. A header claimed by an earlier field is not offered to later
// fields.
func MapColumns(headers []string) ColumnMapping {
	return MapColumnsWith(headers, DefaultRules)
}

// MapColumnsWith resolves the mapping with an explicit rule list.
func MapColumnsWith(headers []string, rules []ColumnRule) ColumnMapping {
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = FoldHeader(h)
	}

	var m ColumnMapping
	claimed := make(map[int]bool, len(headers))
	for _, rule := range rules {
		if idx := resolve(folded, claimed, rule.Passes); idx >= 0 {
			claimed[idx] = true
			m.set(rule.Field, headers[idx])
		}
	}
	return m
}

func resolve(folded []string, claimed map[int]bool, passes []HeaderPredicate) int {
	for _, match := range passes {
		for i, h := range folded {
			if claimed[i] || h == "" {
				continue
			}
			if match(h) {
				return i
			}
		}
	}
	return -1
}

var separatorReplacer = strings.NewReplacer("_", " ", "-", " ", ".", " ", "/", " ", ":", " ")

// FoldHeader lower-cases h, strips diacritics and collapses separators and
// runs of whitespace into single spaces.
func FoldHeader(h string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), h)
	if err != nil {
		stripped = h
	}
	stripped = separatorReplacer.Replace(strings.ToLower(stripped))
	return strings.Join(strings.Fields(stripped), " ")
}

func containsAny(triggers ...string) HeaderPredicate {
	return func(h string) bool {
		for _, t := range triggers {
			if strings.Contains(h, t) {
				return true
			}
		}
		return false
	}
}

func equalsAny(targets ...string) HeaderPredicate {
	return func(h string) bool {
		for _, t := range targets {
			if h == t {
				return true
			}
		}
		return false
	}
}

var saleDateForms = []string{"data venda", "data da venda", "data de venda", "dt venda", "datavenda", "dtvenda"}

func isSaleDate(h string) bool {
	compact := strings.ReplaceAll(h, " ", "")
	for _, f := range saleDateForms {
		if strings.Contains(h, f) || strings.Contains(compact, strings.ReplaceAll(f, " ", "")) {
			return true
		}
	}
	return false
}
