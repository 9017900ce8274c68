package export

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/engine"
	"github.com/ginjaninja78/xlsx-template-export/internal/templatestore"
	"github.com/ginjaninja78/xlsx-template-export/internal/testutil"
	"github.com/ginjaninja78/xlsx-template-export/internal/types"
	"github.com/ginjaninja78/xlsx-template-export/internal/validation"
)

func strPtr(s string) *string { return &s }

func expenseRequest(t *testing.T) Request {
	total := decimal.RequireFromString("103.46")
	return Request{
		Name:     "October expenses",
		Template: testutil.TemplateWorkbook(t),
		Config: types.TemplateConfig{
			SheetName: testutil.ExpenseSheet,
			StartRow:  2,
			FieldMapping: types.FieldMapping{
				{Field: "merchant_name", Column: "B"},
				{Field: "total_amount", Column: "G"},
				{Field: "receipt_date", Column: "C"},
			},
		},
		Records: []types.Record{
			{ID: "r1", MerchantName: strPtr("Acme"), TotalAmount: &total, ReceiptDate: strPtr("2025-10-15")},
			{ID: "r2", MerchantName: strPtr("Cafe"), ReceiptDate: strPtr("15/10/2025")},
		},
	}
}

func newService(store *templatestore.Store) *Service {
	s := NewService(Options{
		Limits:     config.LimitsConfig{MaxRecords: 10, MaxTemplateBytes: 1 << 20},
		NameFormat: "{name}_{date}.xlsx",
		Verify:     true,
		Logger:     zerolog.Nop(),
		Store:      store,
	})
	s.now = func() time.Time { return time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestRunPopulatesAndNames(t *testing.T) {
	res := newService(nil).Run(context.Background(), expenseRequest(t))
	require.NoError(t, res.Error)
	require.True(t, res.Success)

	assert.Equal(t, "October_expenses_2025-10-15.xlsx", res.FileName)
	assert.Nil(t, res.Export)
	assert.Equal(t, 2, res.Stats.Records)
	assert.Equal(t, 2, res.Stats.RowsWritten)
	assert.Equal(t, 6, res.Stats.CellsWritten)
	require.Len(t, res.Stats.Warnings, 1)
	assert.Contains(t, res.Stats.Warnings[0], "receipt_date")

	f := testutil.Open(t, res.Data)
	v, err := f.GetCellValue(testutil.ExpenseSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Acme", v)
}

func TestRunPersistsToStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := templatestore.New(
		templatestore.NewFileMetadata(filepath.Join(root, "meta")),
		templatestore.NewFileBlobs(filepath.Join(root, "blobs")),
	)

	req := expenseRequest(t)
	tpl, err := store.SaveTemplate(ctx, templatestore.Template{OwnerID: "u1", Name: "Expenses", Config: req.Config}, req.Template)
	require.NoError(t, err)
	req.TemplateID = tpl.ID
	req.OwnerID = "u1"

	res := newService(store).Run(ctx, req)
	require.NoError(t, res.Error)
	require.NotNil(t, res.Export)
	assert.Equal(t, tpl.ID, res.Export.TemplateID)
	assert.Equal(t, 1, res.Export.Warnings)

	saved, data, err := store.GetExport(ctx, res.Export.ID)
	require.NoError(t, err)
	assert.Equal(t, res.FileName, saved.FileName)
	assert.Equal(t, res.Data, data)
}

func TestRunLimits(t *testing.T) {
	s := newService(nil)

	req := expenseRequest(t)
	req.Records = make([]types.Record, 11)
	res := s.Run(context.Background(), req)
	assert.ErrorIs(t, res.Error, ErrTooManyRecords)
	assert.False(t, res.Success)
	assert.Empty(t, res.Data)

	req = expenseRequest(t)
	s.limits.MaxTemplateBytes = 10
	res = s.Run(context.Background(), req)
	assert.ErrorIs(t, res.Error, ErrTemplateTooLarge)

	_, err := s.Check(req.Template, req.Config)
	assert.ErrorIs(t, err, ErrTemplateTooLarge)
}

func TestRunRejectsOverlongText(t *testing.T) {
	req := expenseRequest(t)
	long := strings.Repeat("z", excelize.TotalCellChars+1)
	req.Config.FieldMapping = append(req.Config.FieldMapping, types.ColumnMapping{Field: "notes", Column: "H"})
	req.Records[0].Notes = &long

	res := newService(nil).Run(context.Background(), req)
	assert.ErrorIs(t, res.Error, ErrInvalidRecords)
	assert.Empty(t, res.Data)
	require.Len(t, res.Problems, 1)
	assert.Equal(t, validation.RuleTextTooLong, res.Problems[0].Rule)
}

func TestRunWarnsOnIllegalCharacters(t *testing.T) {
	req := expenseRequest(t)
	req.Records[0].MerchantName = strPtr("Acme\vCorp")

	res := newService(nil).Run(context.Background(), req)
	require.NoError(t, res.Error)
	require.Len(t, res.Stats.Warnings, 2)
	assert.Contains(t, res.Stats.Warnings[0], "merchant_name")
	assert.Contains(t, res.Stats.Warnings[0], "U+000B")
}

func TestRunRejectsRecordsWithoutID(t *testing.T) {
	req := expenseRequest(t)
	req.Records[1].ID = "  "

	res := newService(nil).Run(context.Background(), req)
	assert.ErrorIs(t, res.Error, ErrInvalidRecords)
	require.Len(t, res.Problems, 1)
	assert.Equal(t, validation.RuleMissingID, res.Problems[0].Rule)
	assert.Equal(t, 1, res.Problems[0].RecordIndex)
}

func TestRunReturnsEngineErrors(t *testing.T) {
	req := expenseRequest(t)
	req.Config.SheetName = "Expenses"

	res := newService(nil).Run(context.Background(), req)
	var notFound *engine.SheetNotFoundError
	require.True(t, errors.As(res.Error, &notFound))
	assert.Equal(t, []string{"Sheet1", testutil.ExpenseSheet}, notFound.Available)
	assert.Empty(t, res.FileName)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newService(nil).Run(ctx, expenseRequest(t))
	assert.ErrorIs(t, res.Error, context.Canceled)
}

func TestCheck(t *testing.T) {
	req := expenseRequest(t)
	sheets, err := newService(nil).Check(req.Template, req.Config)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1", testutil.ExpenseSheet}, sheets)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultMainConfig()
	off := false
	cfg.Export.VerifyOutput = &off

	opts := OptionsFromConfig(cfg, zerolog.Nop(), nil)
	assert.Equal(t, 1000, opts.Limits.MaxRecords)
	assert.Equal(t, "{name}_{date}.xlsx", opts.NameFormat)
	assert.False(t, opts.Verify)
}
