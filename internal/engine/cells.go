package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/xlsx-template-export/internal/fields"
	"github.com/ginjaninja78/xlsx-template-export/internal/types"
	"github.com/ginjaninja78/xlsx-template-export/internal/xlsxparser"
)

// Serial day zero of the two spreadsheet date systems. The 1900 epoch is
// shifted back one day to absorb the phantom 29 February 1900.
var (
	epoch1900 = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
	epoch1904 = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

	// Serials below this fall in the range affected by the 1900 leap bug.
	firstSafe1900 = time.Date(1900, time.March, 1, 0, 0, 0, 0, time.UTC)
)

// styleKey identifies a derived style: the template style it starts from
// plus the number format laid over it.
type styleKey struct {
	base   int
	format string
}

// cellWriter writes coerced values into one sheet of an open workbook.
type cellWriter struct {
	f            *excelize.File
	sheet        string
	dateFormat   string
	amountFormat string
	date1904     bool

	styles map[styleKey]int

	// formulas holds every formula on the sheet, loaded the first time a
	// written cell turns out to hold one. Shared formula members are
	// stored in their translated form.
	formulas map[string]string
	written  map[string]bool
	restored int
}

func newCellWriter(f *excelize.File, cfg types.TemplateConfig) *cellWriter {
	w := &cellWriter{
		f:            f,
		sheet:        cfg.SheetName,
		dateFormat:   cfg.DateFormatOrDefault(),
		amountFormat: cfg.AmountFormatOrDefault(),
		styles:       make(map[styleKey]int),
		written:      make(map[string]bool),
	}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		w.date1904 = *props.Date1904
	}
	return w
}

// write assigns v to cell. A non-empty warning means the value could not
// be coerced and an empty cell was written instead, or that excelize
// altered the text on the way in.
//
// Overwriting the anchor of a shared formula makes excelize drop the formula
// from every cell sharing it, so those cells get their formulas back as
// ordinary formulas.
func (w *cellWriter) write(cell string, v fields.Value) (string, error) {
	formula, err := w.f.GetCellFormula(w.sheet, cell)
	if err != nil {
		return "", err
	}
	if formula != "" && w.formulas == nil {
		if err := w.loadFormulas(); err != nil {
			return "", err
		}
	}

	warn, err := w.assign(cell, v)
	if err != nil {
		return "", err
	}
	w.written[cell] = true

	if formula != "" {
		return warn, w.restoreFormulas()
	}
	return warn, nil
}

func (w *cellWriter) assign(cell string, v fields.Value) (string, error) {
	if !v.Present {
		return "", w.f.SetCellStr(w.sheet, cell, "")
	}

	switch v.Kind {
	case fields.Amount:
		return "", w.writeNumber(cell, v.Amount.InexactFloat64(), w.amountFormat)

	case fields.Date:
		t, ok := fields.ParseDate(v.Text)
		if !ok {
			return "unparseable date " + strconv.Quote(v.Text) + "; cell left empty", w.f.SetCellStr(w.sheet, cell, "")
		}
		serial, ok := w.serial(t)
		if !ok {
			return "date " + strconv.Quote(v.Text) + " predates the workbook's date system; cell left empty", w.f.SetCellStr(w.sheet, cell, "")
		}
		return "", w.writeNumber(cell, serial, w.dateFormat)

	default:
		return textWarning(v.Text), w.f.SetCellStr(w.sheet, cell, v.Text)
	}
}

// textWarning describes how excelize will alter s, if at all.
func textWarning(s string) string {
	var notes []string
	if n := xlsxparser.TextLength(s); n > excelize.TotalCellChars {
		notes = append(notes, fmt.Sprintf("text of %d characters truncated to %d", n, excelize.TotalCellChars))
	}
	if bad, ok := xlsxparser.IllegalXMLRune(s); ok {
		notes = append(notes, fmt.Sprintf("text contains %U, written as U+FFFD", bad))
	}
	return strings.Join(notes, "; ")
}

// loadFormulas records the formula of every cell in the sheet's used area.
// Cells covered by a merge, other than its top-left cell, are skipped since
// excelize resolves them to the top-left cell.
func (w *cellWriter) loadFormulas() error {
	maxCol, maxRow := 1, 1
	if dim, err := w.f.GetSheetDimension(w.sheet); err == nil && dim != "" {
		parts := strings.Split(dim, ":")
		if c, r, err := excelize.CellNameToCoordinates(parts[len(parts)-1]); err == nil {
			maxCol, maxRow = c, r
		}
	}
	rows, err := w.f.GetRows(w.sheet)
	if err != nil {
		return err
	}
	maxRow = max(maxRow, len(rows))
	for _, row := range rows {
		maxCol = max(maxCol, len(row))
	}

	merged, err := w.f.GetMergeCells(w.sheet)
	if err != nil {
		return err
	}
	covered := make(map[string]bool)
	for _, m := range merged {
		c1, r1, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			return err
		}
		c2, r2, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			return err
		}
		for r := r1; r <= r2; r++ {
			for c := c1; c <= c2; c++ {
				if r != r1 || c != c1 {
					name, _ := excelize.CoordinatesToCellName(c, r)
					covered[name] = true
				}
			}
		}
	}

	w.formulas = make(map[string]string)
	for r := 1; r <= maxRow; r++ {
		for c := 1; c <= maxCol; c++ {
			name, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return err
			}
			if covered[name] {
				continue
			}
			formula, err := w.f.GetCellFormula(w.sheet, name)
			if err != nil {
				return err
			}
			if formula != "" {
				w.formulas[name] = formula
			}
		}
	}
	return nil
}

// restoreFormulas puts back formulas that excelize removed from cells this
// writer never assigned.
func (w *cellWriter) restoreFormulas() error {
	for cell, formula := range w.formulas {
		if w.written[cell] {
			continue
		}
		got, err := w.f.GetCellFormula(w.sheet, cell)
		if err != nil {
			return err
		}
		if got != "" {
			continue
		}
		if err := w.f.SetCellFormula(w.sheet, cell, formula); err != nil {
			return err
		}
		w.restored++
	}
	return nil
}

// finish asks spreadsheet applications to recalculate on open when formulas
// were restored, since their cached values were typed as text.
func (w *cellWriter) finish() error {
	if w.restored == 0 {
		return nil
	}
	props, err := w.f.GetCalcProps()
	if err != nil {
		return err
	}
	recalc := true
	props.FullCalcOnLoad = &recalc
	return w.f.SetCalcProps(&props)
}

// writeNumber stores a numeric value and lays format over the cell's
// existing style. The style is read before the value is set.
func (w *cellWriter) writeNumber(cell string, value float64, format string) error {
	base, err := w.f.GetCellStyle(w.sheet, cell)
	if err != nil {
		return err
	}
	if err := w.f.SetCellFloat(w.sheet, cell, value, -1, 64); err != nil {
		return err
	}
	id, err := w.derivedStyle(base, format)
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(w.sheet, cell, cell, id)
}

// derivedStyle returns a style equal to base except for its number format.
func (w *cellWriter) derivedStyle(base int, format string) (int, error) {
	key := styleKey{base: base, format: format}
	if id, ok := w.styles[key]; ok {
		return id, nil
	}

	style, err := w.f.GetStyle(base)
	if err != nil {
		return 0, err
	}
	code := format
	style.NumFmt = 0
	style.DecimalPlaces = nil
	style.NegRed = false
	style.CustomNumFmt = &code

	id, err := w.f.NewStyle(style)
	if err != nil {
		return 0, err
	}
	w.styles[key] = id
	return id, nil
}

// serial converts a UTC midnight date into a spreadsheet day number.
func (w *cellWriter) serial(t time.Time) (float64, bool) {
	if w.date1904 {
		if t.Before(epoch1904) {
			return 0, false
		}
		return days(t, epoch1904), true
	}
	if t.Before(firstSafe1900) {
		return 0, false
	}
	return days(t, epoch1900), true
}

func days(t, epoch time.Time) float64 {
	return float64((t.Unix() - epoch.Unix()) / 86400)
}
