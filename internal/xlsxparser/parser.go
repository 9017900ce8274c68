// =============================================================================
// XLSX Template Export - Template Parser
// =============================================================================
//
// This module opens user-supplied XLSX templates and answers questions about
// their structure:
//   - Which sheets exist, in workbook order
//   - Whether a configured sheet name matches one of them exactly
//   - Which sheets look like the configured name (whitespace or case drift)
//   - What each sheet contains, for the inspect command
//
// SHEET NAME MATCHING:
//   Spreadsheet applications compare sheet names case-insensitively, and the
//   excelize lookups do the same. Template names are matched here byte for
//   byte instead, so "Purchase or Expense" does NOT resolve to a sheet named
//   "Purchase or Expense  ". Near misses are reported through SimilarSheets
//   and never used as a fallback.
//
// =============================================================================

package xlsxparser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// =============================================================================
// OPENING TEMPLATES
// =============================================================================

// Open decodes workbook bytes into an in-memory file. The caller's slice is
// only read; the returned file must be closed by the caller.
//
// PARAMETERS:
//   - data: The raw XLSX bytes.
//   - opts: Optional excelize options (for example RawCellValue).
//
// RETURNS:
//   - The opened workbook.
//   - An error if the bytes are not a readable workbook.
func Open(data []byte, opts ...excelize.Options) (*excelize.File, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("template is empty")
	}
	f, err := excelize.OpenReader(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	if len(f.GetSheetList()) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("template has no sheets")
	}
	return f, nil
}

// =============================================================================
// SHEET RESOLUTION
// =============================================================================

// ExactSheet reports whether the workbook has a sheet whose name is exactly
// name, including case and surrounding whitespace.
func ExactSheet(f *excelize.File, name string) bool {
	for _, s := range f.GetSheetList() {
		if s == name {
			return true
		}
	}
	return false
}

// SimilarSheets returns the names in available that differ from want only
// by surrounding whitespace or letter case. An exact match is not included.
func SimilarSheets(available []string, want string) []string {
	key := foldSheetName(want)
	var similar []string
	for _, name := range available {
		if name != want && foldSheetName(name) == key {
			similar = append(similar, name)
		}
	}
	return similar
}

func foldSheetName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// =============================================================================
// COLUMN NORMALIZATION
// =============================================================================

// NormalizeColumn converts a configured column into its letter name and
// 1-based number. Letters are case-insensitive ("g" and "G" both name
// column 7); digits are read as a 1-based column index ("7" is "G").
//
// PARAMETERS:
//   - column: The column as written in the template config.
//
// RETURNS:
//   - The uppercase column name (for example "G").
//   - The 1-based column number.
//   - An error if the value names no valid column.
func NormalizeColumn(column string) (string, int, error) {
	c := strings.TrimSpace(column)
	if c == "" {
		return "", 0, fmt.Errorf("column is empty")
	}

	if isDigits(c) {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > excelize.MaxColumns {
			return "", 0, fmt.Errorf("column index %q is out of range 1-%d", column, excelize.MaxColumns)
		}
		name, err := excelize.ColumnNumberToName(n)
		if err != nil {
			return "", 0, err
		}
		return name, n, nil
	}

	for _, r := range c {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return "", 0, fmt.Errorf("column %q must be letters or a 1-based index", column)
		}
	}
	name := strings.ToUpper(c)
	n, err := excelize.ColumnNameToNumber(name)
	if err != nil {
		return "", 0, fmt.Errorf("column %q is out of range A-XFD", column)
	}
	return name, n, nil
}

// =============================================================================
// CELL TEXT LIMITS
// =============================================================================

// TextLength returns the length of s in UTF-16 code units, the unit that
// excelize.TotalCellChars is counted in. Longer text is truncated on write.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// IllegalXMLRune returns the first rune of s that an XML 1.0 document cannot
// carry. Such runes, and invalid UTF-8 bytes, are written as U+FFFD.
func IllegalXMLRune(s string) (rune, bool) {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			return r, true
		}
		if !xmlChar(r) {
			return r, true
		}
		s = s[size:]
	}
	return 0, false
}

func xmlChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// =============================================================================
// TEMPLATE DESCRIPTION
// =============================================================================

// SheetInfo summarizes one sheet of a template.
type SheetInfo struct {
	// Name is the sheet name exactly as stored in the workbook.
	Name string

	// Quoted is Name in Go quoted form, which makes trailing or doubled
	// whitespace visible in terminal output.
	Quoted string

	// Index is the 0-based position in the workbook.
	Index int

	// Visible is false for hidden sheets.
	Visible bool

	// Dimension is the used range, for example "A1:H22".
	Dimension string

	// MergedRanges lists merged regions such as "A22:C22".
	MergedRanges []string

	// Preview holds the first non-empty rows, keyed by 1-based row number
	// in RowNumbers.
	Preview    [][]string
	RowNumbers []int
}

// HasEdgeWhitespace reports whether the sheet name starts or ends with
// whitespace, the usual cause of sheet-not-found errors.
func (s SheetInfo) HasEdgeWhitespace() bool {
	return strings.TrimSpace(s.Name) != s.Name
}

// Describe opens the template and summarizes every sheet.
//
// PARAMETERS:
//   - data: The raw XLSX bytes.
//   - previewRows: How many non-empty rows to include per sheet (0 for none).
//
// RETURNS:
//   - One SheetInfo per sheet, in workbook order.
//   - An error if the template cannot be opened or a sheet cannot be read.
func Describe(data []byte, previewRows int) ([]SheetInfo, error) {
	f, err := Open(data)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var infos []SheetInfo
	for i, name := range f.GetSheetList() {
		info := SheetInfo{Name: name, Quoted: strconv.Quote(name), Index: i}

		if info.Visible, err = f.GetSheetVisible(name); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		if info.Dimension, err = f.GetSheetDimension(name); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}

		merged, err := f.GetMergeCells(name, true)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		for _, m := range merged {
			info.MergedRanges = append(info.MergedRanges, m.GetStartAxis()+":"+m.GetEndAxis())
		}

		if previewRows > 0 {
			if err := readPreview(f, &info, previewRows); err != nil {
				return nil, fmt.Errorf("sheet %q: %w", name, err)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// readPreview streams rows until previewRows non-empty rows are collected.
func readPreview(f *excelize.File, info *SheetInfo, previewRows int) error {
	rows, err := f.Rows(info.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	rowNum := 0
	for rows.Next() && len(info.Preview) < previewRows {
		rowNum++
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		if isRowEmpty(cols) {
			continue
		}
		info.Preview = append(info.Preview, cols)
		info.RowNumbers = append(info.RowNumbers, rowNum)
	}
	return rows.Error()
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
