package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealer-sync/internal/model"
)

func TestGroup_EndToEndSample(t *testing.T) {
	headers := []string{"Cliente", "Celular", "Veículo", "Placa"}
	rows := []model.RawRow{
		{"Cliente": "Maria", "Celular": "11999998888", "Veículo": "HONDA CIVIC 2020", "Placa": "XYZ9999"},
	}

	customers, stats := Group(rows, MapColumns(headers))

	require.Len(t, customers, 1)
	c := customers[0]
	assert.Equal(t, "5511999998888", c.Phone)
	assert.Equal(t, "Maria", c.Name)
	require.Len(t, c.Vehicles, 1)
	assert.Equal(t, model.VehicleRecord{
		Description: "HONDA CIVIC 2020",
		Year:        "2020",
		YearDerived: true,
		Plate:       "XYZ9999",
	}, c.Vehicles[0])
	assert.Equal(t, rows[0], c.SourceRow)
	assert.Equal(t, GroupStats{Rows: 1, Customers: 1}, stats)
}

func TestGroup_SamePhoneTwoVehicles(t *testing.T) {
	m := MapColumns([]string{"Nome", "Telefone", "Veiculo", "Placa"})
	rows := []model.RawRow{
		{"Nome": "Joao", "Telefone": "(11) 98765-4321", "Veiculo": "Onix", "Placa": "AAA1111"},
		{"Nome": "Joao", "Telefone": "5511987654321", "Veiculo": "Tracker", "Placa": "BBB2222"},
	}

	customers, stats := Group(rows, m)

	require.Len(t, customers, 1)
	require.Len(t, customers[0].Vehicles, 2)
	assert.Equal(t, "AAA1111", customers[0].Vehicles[0].Plate)
	assert.Equal(t, "BBB2222", customers[0].Vehicles[1].Plate)
	assert.Equal(t, 1, stats.Customers)
}

func TestGroup_PreservesFirstSeenOrder(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular"})
	rows := []model.RawRow{
		{"Nome": "B", "Celular": "21988887777"},
		{"Nome": "A", "Celular": "11977776666"},
		{"Nome": "B again", "Celular": "21 98888-7777"},
		{"Nome": "C", "Celular": "31966665555"},
	}

	customers, _ := Group(rows, m)

	require.Len(t, customers, 3)
	assert.Equal(t, "5521988887777", customers[0].Phone)
	assert.Equal(t, "B", customers[0].Name)
	assert.Equal(t, "5511977776666", customers[1].Phone)
	assert.Equal(t, "5531966665555", customers[2].Phone)
	assert.Empty(t, customers[0].Vehicles)
}

func TestGroup_SkipsRowsWithoutContact(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular", "Modelo"})
	rows := []model.RawRow{
		{"Nome": "", "Celular": "11999998888", "Modelo": "Onix"},
		{"Nome": "Ana", "Celular": "  ", "Modelo": "Onix"},
		{"Nome": "Bia", "Celular": "98765432", "Modelo": "Onix"},
		{"Nome": "Caio", "Celular": "11999998888", "Modelo": "Onix"},
	}

	customers, stats := Group(rows, m)

	require.Len(t, customers, 1)
	assert.Equal(t, "Caio", customers[0].Name)
	assert.Equal(t, GroupStats{Rows: 4, Customers: 1, SkippedNoContact: 2, SkippedInvalidPhone: 1}, stats)
}

func TestGroup_UnmappedContactColumn(t *testing.T) {
	m := MapColumns([]string{"Nome", "Modelo"})
	rows := []model.RawRow{{"Nome": "Ana", "Modelo": "Onix"}}

	customers, stats := Group(rows, m)

	assert.Empty(t, customers)
	assert.Equal(t, 1, stats.SkippedNoContact)
}

func TestGroup_EmptyVehicleNotAppended(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular", "Veiculo", "Placa"})
	rows := []model.RawRow{
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "Onix", "Placa": "AAA1111"},
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "", "Placa": ""},
	}

	customers, _ := Group(rows, m)

	require.Len(t, customers, 1)
	assert.Len(t, customers[0].Vehicles, 1)
}

func TestGroup_RepeatedVehicleFoldsIntoOneEntry(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular", "Placa", "Vendedor"})
	rows := []model.RawRow{
		{"Nome": "Ana", "Celular": "11999998888", "Placa": "AAA1111", "Vendedor": ""},
		{"Nome": "Ana", "Celular": "11999998888", "Placa": "aaa1111", "Vendedor": "Carlos"},
	}

	customers, _ := Group(rows, m)

	require.Len(t, customers, 1)
	require.Len(t, customers[0].Vehicles, 1)
	assert.Equal(t, "Carlos", customers[0].Vehicles[0].Seller)
}

func TestGroup_RowBridgingTwoEntriesCollapsesThem(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular", "Veiculo", "Ano", "Placa"})
	rows := []model.RawRow{
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "CIVIC", "Ano": "2020", "Placa": ""},
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "", "Ano": "", "Placa": "XYZ9999"},
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "civic", "Ano": "2020", "Placa": "XYZ9999"},
	}

	customers, _ := Group(rows, m)

	require.Len(t, customers, 1)
	require.Len(t, customers[0].Vehicles, 1)
	assert.Equal(t, model.VehicleRecord{Description: "civic", Year: "2020", Plate: "XYZ9999"}, customers[0].Vehicles[0])
}

func TestGroup_RepeatedDescriptionWithEmbeddedYearFolds(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular", "Veiculo", "Vendedor"})
	rows := []model.RawRow{
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "Onix 2019", "Vendedor": ""},
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "Onix 2019", "Vendedor": "Carlos"},
	}

	customers, _ := Group(rows, m)

	require.Len(t, customers, 1)
	require.Len(t, customers[0].Vehicles, 1)
	assert.Equal(t, model.VehicleRecord{Description: "Onix 2019", Year: "2019", YearDerived: true, Seller: "Carlos"}, customers[0].Vehicles[0])
}

func TestGroup_YearColumnBeatsEmbeddedYear(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular", "Veiculo", "Ano"})
	rows := []model.RawRow{
		{"Nome": "Ana", "Celular": "11999998888", "Veiculo": "Civic 2019", "Ano": ""},
	}

	customers, _ := Group(rows, m)

	require.Len(t, customers, 1)
	require.Len(t, customers[0].Vehicles, 1)
	assert.Empty(t, customers[0].Vehicles[0].Year)
}

func TestGroup_EmailLowercasedAndFilled(t *testing.T) {
	m := MapColumns([]string{"Nome", "Celular", "Email"})
	rows := []model.RawRow{
		{"Nome": "Ana", "Celular": "11999998888", "Email": ""},
		{"Nome": "Ana", "Celular": "11999998888", "Email": "Ana@Example.COM"},
	}

	customers, _ := Group(rows, m)

	require.Len(t, customers, 1)
	assert.Equal(t, "ana@example.com", customers[0].Email)
}

func TestExtractVehicle_EmbeddedYear(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"HONDA CIVIC 2020", "2020"},
		{"Fusca 1975 azul", "1975"},
		{"Corolla XEi", ""},
		{"Onix 12345", ""},
		{"Modelo 2101", ""},
	}
	m := ColumnMapping{Name: "n", Phone: "p", Vehicle: "v"}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			v := extractVehicle(model.RawRow{"v": tt.desc}, m)
			assert.Equal(t, tt.want, v.Year)
			assert.Equal(t, tt.want != "", v.YearDerived)
		})
	}
}
