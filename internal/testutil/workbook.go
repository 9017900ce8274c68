// Package testutil builds spreadsheet fixtures shared by package tests.
package testutil

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

// ExpenseSheet is the data sheet of the reference template. The two trailing
// spaces are deliberate: real templates often carry them.
const ExpenseSheet = "Purchase or Expense  "

// Cells of the reference template that tests check for non-interference.
const (
	HeaderCell   = "B1"
	FormulaCell  = "G20"
	Formula      = "SUM(G2:G19)"
	MergedRange  = "A22:C22"
	MergedCell   = "A22"
	MergedText   = "Prepared by finance"
	SummaryCell  = "A1"
	SummaryText  = "Expense summary"
	PrefilledRow = 3

	// F2 anchors a shared formula filled down to F5.
	SharedFormulaRange  = "F2:F5"
	SharedFormulaAnchor = "F2"
)

// SharedFormulas is the formula each cell of SharedFormulaRange reads as.
var SharedFormulas = map[string]string{
	"F2": "E2*0.1",
	"F3": "E3*0.1",
	"F4": "E4*0.1",
	"F5": "E5*0.1",
}

// Headers is row 1 of ExpenseSheet, columns A to H.
var Headers = []string{"Ref", "Merchant", "Date", "Category", "Subtotal", "Tax", "Total", "Notes"}

// TemplateWorkbook returns the bytes of the reference template:
//
//   - "Sheet1" with a summary label in A1
//   - ExpenseSheet with a bold filled header row, bordered data cells in
//     B2:H19, a SUM formula in G20, a shared formula in F2:F5 and a
//     merged footer in A22:C22
//   - cell D3 prefilled with "keep me" so tests can see untouched values
func TemplateWorkbook(t testing.TB) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	must(t, f.SetCellStr("Sheet1", SummaryCell, SummaryText))

	if _, err := f.NewSheet(ExpenseSheet); err != nil {
		t.Fatalf("new sheet: %v", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E78"}},
	})
	must(t, err)
	body, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Family: "Arial", Size: 10, Italic: true},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	must(t, err)

	for i, h := range Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		must(t, err)
		must(t, f.SetCellStr(ExpenseSheet, cell, h))
	}
	must(t, f.SetCellStyle(ExpenseSheet, "A1", "H1", header))
	must(t, f.SetCellStyle(ExpenseSheet, "B2", "H19", body))

	must(t, f.SetCellStr(ExpenseSheet, "D3", "keep me"))
	must(t, f.SetCellFormula(ExpenseSheet, FormulaCell, Formula))
	ref, shared := SharedFormulaRange, excelize.STCellFormulaTypeShared
	must(t, f.SetCellFormula(ExpenseSheet, SharedFormulaAnchor, SharedFormulas[SharedFormulaAnchor],
		excelize.FormulaOpts{Ref: &ref, Type: &shared}))
	must(t, f.SetCellStr(ExpenseSheet, MergedCell, MergedText))
	must(t, f.MergeCell(ExpenseSheet, "A22", "C22"))

	buf, err := f.WriteToBuffer()
	must(t, err)
	return buf.Bytes()
}

// Open parses data and closes the workbook when the test ends.
func Open(t testing.TB, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// OpenRaw parses data with raw cell values, so numbers and dates come back
// unformatted.
func OpenRaw(t testing.TB, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// CellStyle returns the resolved style of a cell.
func CellStyle(t testing.TB, f *excelize.File, sheet, cell string) *excelize.Style {
	t.Helper()
	id, err := f.GetCellStyle(sheet, cell)
	must(t, err)
	style, err := f.GetStyle(id)
	must(t, err)
	return style
}

var builtinCodes = map[int]string{
	0:  "General",
	2:  "0.00",
	4:  "#,##0.00",
	14: "mm-dd-yy",
	22: "m/d/yy h:mm",
}

// NumFmtCode returns the number format code of a style, whether it is a
// built-in format or a custom one.
func NumFmtCode(style *excelize.Style) string {
	if style.CustomNumFmt != nil {
		return *style.CustomNumFmt
	}
	return builtinCodes[style.NumFmt]
}

// Grid reads every row of a sheet.
func Grid(t testing.TB, f *excelize.File, sheet string) [][]string {
	t.Helper()
	rows, err := f.GetRows(sheet)
	must(t, err)
	return rows
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
