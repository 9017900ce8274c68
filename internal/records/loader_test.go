package records

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONArray(t *testing.T) {
	src := `[
		{"id": "r1", "merchant_name": "Acme", "total_amount": "103.46", "receipt_date": "2025-10-15"},
		{"id": "r2", "merchant_name": null, "subtotal": 12.5}
	]`
	recs, err := DecodeJSON(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "r1", recs[0].ID)
	require.NotNil(t, recs[0].MerchantName)
	assert.Equal(t, "Acme", *recs[0].MerchantName)
	assert.Equal(t, "103.46", recs[0].TotalAmount.String())
	assert.Equal(t, "2025-10-15", *recs[0].ReceiptDate)

	assert.Nil(t, recs[1].MerchantName)
	assert.Equal(t, "12.5", recs[1].Subtotal.String())
}

func TestDecodeJSONEnvelope(t *testing.T) {
	recs, err := DecodeJSON(strings.NewReader(`{"records": [{"id": "r1"}]}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r1", recs[0].ID)

	_, err = DecodeJSON(strings.NewReader(`{"rows": []}`))
	assert.Error(t, err)

	recs, err = DecodeJSON(strings.NewReader(`{"records": []}`))
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = DecodeJSON(strings.NewReader("  "))
	assert.Error(t, err)
}

func TestDecodeJSONFormsAgree(t *testing.T) {
	record := `{"id": "r1", "merchant_name": "Acme", "source_system": "scanner"}`

	bare, err := DecodeJSON(strings.NewReader("[" + record + "]"))
	require.NoError(t, err)
	wrapped, err := DecodeJSON(strings.NewReader(`{"records": [` + record + `]}`))
	require.NoError(t, err)

	require.Len(t, wrapped, 1)
	assert.Equal(t, bare, wrapped)
	assert.Equal(t, "Acme", *wrapped[0].MerchantName)
}

func TestDecodeYAML(t *testing.T) {
	src := `
records:
  - id: r1
    merchant_name: Acme
    receipt_date: 2025-10-15
    total_amount: 103.46
`
	recs, err := DecodeYAML(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2025-10-15", *recs[0].ReceiptDate)
	assert.Equal(t, "103.46", recs[0].TotalAmount.String())

	recs, err = DecodeYAML(strings.NewReader("- id: a\n- id: b\n"))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = DecodeYAML(strings.NewReader("just a string\n"))
	assert.Error(t, err)
}

func TestDecodeCSV(t *testing.T) {
	src := "id,merchant_name,total_amount,receipt_date\n" +
		"r1,  Acme  ,103.46,2025-10-15\n" +
		",,,\n" +
		"r2,Cafe,,\n"
	recs, err := DecodeCSV(strings.NewReader(src), DefaultCSVSettings())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "r1", recs[0].ID)
	assert.Equal(t, "  Acme  ", *recs[0].MerchantName)
	assert.Equal(t, "103.46", recs[0].TotalAmount.String())

	assert.Equal(t, "r2", recs[1].ID)
	assert.Nil(t, recs[1].TotalAmount)
	assert.Nil(t, recs[1].ReceiptDate)
}

func TestDecodeCSVErrors(t *testing.T) {
	tests := map[string]string{
		"empty":            "",
		"unknown header":   "id,merchant\nr1,Acme\n",
		"duplicate header": "id,notes,notes\nr1,a,b\n",
		"bad amount":       "id,total_amount\nr1,ten\n",
		"too many cells":   "id,notes\nr1,a,b\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCSV(strings.NewReader(src), DefaultCSVSettings())
			assert.Error(t, err)
		})
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	recs, err := Load(write("r.json", `[{"id":"a"}]`), DefaultCSVSettings())
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = Load(write("r.tsv", "id\tnotes\na\thello\n"), DefaultCSVSettings())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "hello", *recs[0].Notes)

	recs, err = Load(write("r.csv", "\ufeffid;category\na;Travel\n"), CSVSettings{Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Travel", *recs[0].Category)

	_, err = Load(write("r.xml", "<records/>"), DefaultCSVSettings())
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.json"), DefaultCSVSettings())
	assert.Error(t, err)
}
