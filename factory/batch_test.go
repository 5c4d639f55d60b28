package factory

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraexport/cartera/ledger"
)

const documentJSON = `{
  "account": {"side": "Receivable", "counterparty": " cli-001 "},
  "period": {"from": "01/01/2025", "to": "2025-03-31"},
  "movements": [
    {"idMovimiento": "F1", "tipoDocumento": "FACTURA", "fecha": "05/01/2025", "valorTotal": "1.500,00"},
    {"id": "A1", "kind": "prepayment", "date": "2024-12-20", "grossAmount": 1000.10}
  ]
}`

func TestParseBatch_Document(t *testing.T) {
	batch, err := NewBatchFactory().ParseBatch([]byte(documentJSON))
	require.NoError(t, err)

	assert.True(t, batch.HasAccount())
	assert.Equal(t, ledger.Account{Side: ledger.SideReceivable, CounterpartyID: "cli-001"}, batch.Account)
	assert.Equal(t, "2025-01-01", batch.Period.Start.String())
	assert.Equal(t, "2025-03-31", batch.Period.End.String())
	require.Len(t, batch.Records, 2)

	// Numbers stay exact until the normalizer reads them.
	assert.Equal(t, json.Number("1000.10"), batch.Records[1]["grossAmount"])

	ms := ledger.NewNormalizer().Normalize(batch.Records)
	assert.Equal(t, "1500.00", ms[0].GrossAmount.StringFixed(2))
	assert.Equal(t, "1000.10", ms[1].GrossAmount.StringFixed(2))
	assert.Equal(t, ledger.KindPrepayment, ms[1].Kind)
}

func TestParseBatch_BareArray(t *testing.T) {
	batch, err := NewBatchFactory().ParseBatch([]byte(` [{"id": "F1", "kind": "invoice"}] `))
	require.NoError(t, err)

	assert.False(t, batch.HasAccount())
	assert.True(t, batch.Period.Start.IsZero())
	require.Len(t, batch.Records, 1)
}

func TestParseBatch_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty":           "  ",
		"not json":        "{movements",
		"string record":   `["F1"]`,
		"null record":     `[null]`,
		"trailing data":   `[] []`,
		"bad side":        `{"account": {"side": "both", "counterparty": "x"}}`,
		"bad period date": `{"period": {"from": "soon"}}`,
		"inverted period": `{"period": {"from": "2025-03-01", "to": "2025-01-01"}}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewBatchFactory().ParseBatch([]byte(input))
			assert.ErrorIs(t, err, ErrInvalidBatch)
		})
	}
}

func TestParseBatch_MaxRecords(t *testing.T) {
	f := &BatchFactory{MaxRecords: 1}
	_, err := f.ParseBatch([]byte(`[{"id": "a"}, {"id": "b"}]`))
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestEncodeBatch_RoundTrips(t *testing.T) {
	// GIVEN: normalized movements
	// WHEN: encoding then reading back
	// THEN: normalizing the decoded records yields the same movements

	acc := ledger.Account{Side: ledger.SidePayable, CounterpartyID: "prov-9"}
	period := ledger.Period{Start: ledger.MustParseDate("2025-01-01")}
	ms := ledger.NewNormalizer().Normalize([]ledger.RawMovement{
		{"id": "F1", "kind": "FACTURA", "date": "2025-01-05", "grossAmount": "10,50", "notes": "lote 4"},
		{"id": "R1", "kind": "retencion", "date": "2025-01-06", "grossAmount": "1.05", "editable": true},
	})

	var buf bytes.Buffer
	require.NoError(t, EncodeBatch(&buf, acc, period, ms))
	assert.True(t, strings.Contains(buf.String(), `"from": "2025-01-01"`))

	batch, err := NewBatchFactory().ReadBatch(&buf)
	require.NoError(t, err)
	assert.Equal(t, acc, batch.Account)
	assert.True(t, batch.Period.End.IsZero())

	again := ledger.NewNormalizer().Normalize(batch.Records)
	require.Len(t, again, 2)
	for i := range ms {
		assert.Equal(t, ms[i].ID, again[i].ID)
		assert.Equal(t, ms[i].Kind, again[i].Kind)
		assert.Equal(t, ms[i].Date.String(), again[i].Date.String())
		assert.Equal(t, ms[i].GrossAmount.StringFixed(2), again[i].GrossAmount.StringFixed(2))
		assert.Equal(t, ms[i].Notes, again[i].Notes)
		assert.Equal(t, ms[i].Editable, again[i].Editable)
	}
}
