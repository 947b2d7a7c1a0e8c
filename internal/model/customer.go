package model

import "time"

// RawRow is one spreadsheet line keyed by its header text.
type RawRow map[string]string

// WhatsAppStatus is the tri-state messaging reachability of a phone.
type WhatsAppStatus string

const (
	WhatsAppValid   WhatsAppStatus = "valid"
	WhatsAppInvalid WhatsAppStatus = "invalid"
	WhatsAppUnknown WhatsAppStatus = "unknown"
)

// ParseWhatsAppStatus maps a stored string to a WhatsAppStatus. Unrecognised
// values collapse to unknown.
func ParseWhatsAppStatus(s string) WhatsAppStatus {
	switch WhatsAppStatus(s) {
	case WhatsAppValid:
		return WhatsAppValid
	case WhatsAppInvalid:
		return WhatsAppInvalid
	default:
		return WhatsAppUnknown
	}
}

// VehicleRecord is a single vehicle purchase owned by one customer. It has no
// identity of its own; see reconcile.SameVehicle. YearDerived is set when Year
// was read from the description rather than a year column.
type VehicleRecord struct {
	Description string    `json:"description,omitempty"`
	Year        string    `json:"year,omitempty"`
	YearDerived bool      `json:"year_derived,omitempty"`
	Plate       string    `json:"plate,omitempty"`
	SaleDate    string    `json:"sale_date,omitempty"`
	Seller      string    `json:"seller,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at,omitzero"`
}

// IsEmpty reports whether no vehicle field carries a value.
func (v VehicleRecord) IsEmpty() bool {
	return v.Description == "" && v.Year == "" && v.Plate == "" && v.SaleDate == "" && v.Seller == ""
}

// Customer is the in-flight aggregate built from one upload, keyed by
// canonical phone.
type Customer struct {
	Phone     string          `json:"phone"`
	Name      string          `json:"name"`
	Email     string          `json:"email,omitempty"`
	Vehicles  []VehicleRecord `json:"vehicles"`
	SourceRow RawRow          `json:"source_row,omitempty"`
}

// PersistedCustomer is the store-side record, unique by Phone.
type PersistedCustomer struct {
	Phone          string          `json:"phone"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	Vehicles       []VehicleRecord `json:"vehicles"`
	FirstSentAt    *time.Time      `json:"first_sent_at,omitempty"`
	LastSentAt     *time.Time      `json:"last_sent_at,omitempty"`
	TotalSent      int             `json:"total_sent"`
	WhatsAppStatus WhatsAppStatus  `json:"whatsapp_status"`
	Blocked        bool            `json:"blocked"`
	Active         bool            `json:"active"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CustomerFilter narrows CountActive queries. Nil fields are not filtered.
type CustomerFilter struct {
	WhatsAppStatus WhatsAppStatus `json:"whatsapp_status,omitempty"`
	Blocked        *bool          `json:"blocked,omitempty"`
	Active         *bool          `json:"active,omitempty"`
}

// StatusUpdate is one verifier verdict to write back by phone.
type StatusUpdate struct {
	Phone  string
	Status WhatsAppStatus
}
