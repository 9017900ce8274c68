// =============================================================================
// XLSX Template Export - Template Population Engine
// =============================================================================
//
// The engine fills a user-supplied XLSX template with records:
//
//   template bytes + TemplateConfig + []Record  ->  new workbook bytes
//
// PROCESSING FLOW:
//   1. Validate the config (no workbook is opened for a bad config)
//   2. Open a private in-memory copy of the template
//   3. Resolve the sheet by exact name
//   4. For record i, write each mapped field to column + (start_row + i)
//   5. Serialize, then re-open the result to confirm it is a valid workbook
//
// Only addressed cells change. Each written date or amount cell gets a style
// derived from the cell's own template style with just the number format
// replaced, so fonts, fills, borders, alignment and protection survive.
//
// An Engine holds no per-call state and is safe for concurrent use.
//
// =============================================================================

package engine

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/xlsx-template-export/internal/fields"
	"github.com/ginjaninja78/xlsx-template-export/internal/types"
	"github.com/ginjaninja78/xlsx-template-export/internal/validation"
	"github.com/ginjaninja78/xlsx-template-export/internal/xlsxparser"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine populates templates.
type Engine struct {
	log    zerolog.Logger
	verify bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for debug traces and warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithVerify toggles re-opening the output after serialization.
// Default: true
func WithVerify(verify bool) Option {
	return func(e *Engine) { e.verify = verify }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{log: zerolog.Nop(), verify: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report describes what a population run wrote.
type Report struct {
	// Sheet is the sheet that was populated.
	Sheet string

	// RowsWritten is the number of records written.
	RowsWritten int

	// CellsWritten is the number of cells assigned.
	CellsWritten int

	// Warnings lists non-fatal problems, such as dates that could not be
	// parsed and were written as empty cells, or text excelize altered.
	Warnings []string
}

// Populate fills the template with records using a default Engine.
func Populate(template []byte, cfg types.TemplateConfig, records []types.Record) ([]byte, error) {
	return New().Populate(template, cfg, records)
}

// Populate fills the template with records and returns the new workbook.
// On error no bytes are returned.
func (e *Engine) Populate(template []byte, cfg types.TemplateConfig, records []types.Record) ([]byte, error) {
	out, _, err := e.PopulateWithReport(template, cfg, records)
	return out, err
}

// PopulateWithReport is Populate plus a report of what was written.
//
// PARAMETERS:
//   - template: The XLSX template bytes. The slice is never modified.
//   - cfg: Sheet name, start row and field mapping.
//   - records: The records to write, in row order.
//
// RETURNS:
//   - The serialized workbook.
//   - A report of rows, cells and warnings.
//   - *InvalidConfigError, *TemplateLoadError, *SheetNotFoundError or
//     *SerializationError.
func (e *Engine) PopulateWithReport(template []byte, cfg types.TemplateConfig, records []types.Record) ([]byte, *Report, error) {
	cols, warnings, err := compile(cfg, len(records))
	if err != nil {
		return nil, nil, err
	}

	f, err := e.openSheet(template, cfg.SheetName)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	report := &Report{Sheet: cfg.SheetName, Warnings: warnings}

	e.log.Debug().
		Str("sheet", cfg.SheetName).
		Int("start_row", cfg.StartRow).
		Int("records", len(records)).
		Int("columns", len(cols)).
		Msg("populating template")

	w := newCellWriter(f, cfg)
	for i := range records {
		row := cfg.StartRow + i
		for _, col := range cols {
			cell, err := excelize.JoinCellName(col.name, row)
			if err != nil {
				return nil, nil, &InvalidConfigError{Problems: []string{err.Error()}}
			}
			warn, err := w.write(cell, col.spec.Extract(&records[i]))
			if err != nil {
				return nil, nil, &SerializationError{Err: fmt.Errorf("cell %s: %w", cell, err)}
			}
			if warn != "" {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("record %d (id %q): %s at %s: %s", i, records[i].ID, col.spec.Key, cell, warn))
			}
			report.CellsWritten++
		}
		report.RowsWritten++
	}

	if err := w.finish(); err != nil {
		return nil, nil, &SerializationError{Err: err}
	}
	if w.restored > 0 {
		e.log.Debug().Int("cells", w.restored).Msg("restored shared formulas")
	}

	for _, msg := range report.Warnings {
		e.log.Warn().Str("sheet", cfg.SheetName).Msg(msg)
	}

	out, err := e.serialize(f, sheets)
	if err != nil {
		return nil, nil, err
	}

	e.log.Debug().
		Int("rows", report.RowsWritten).
		Int("cells", report.CellsWritten).
		Int("bytes", len(out)).
		Msg("template populated")

	return out, report, nil
}

// Check validates the config and resolves the sheet without writing
// anything. It returns the workbook's sheet names.
func (e *Engine) Check(template []byte, cfg types.TemplateConfig) ([]string, error) {
	if _, _, err := compile(cfg, 0); err != nil {
		return nil, err
	}
	f, err := e.openSheet(template, cfg.SheetName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// column is one compiled mapping entry.
type column struct {
	spec fields.Spec
	name string
}

// compile validates cfg and resolves each mapping entry to a field spec and
// a column letter. Duplicate-column notices come back as warnings.
func compile(cfg types.TemplateConfig, recordCount int) ([]column, []string, error) {
	errs, notices := validation.Split(validation.ValidateConfig(cfg, recordCount))
	if len(errs) > 0 {
		problems := make([]string, len(errs))
		for i, p := range errs {
			problems[i] = p.Field + ": " + p.Message
		}
		return nil, nil, &InvalidConfigError{Problems: problems}
	}

	var warnings []string
	for _, n := range notices {
		warnings = append(warnings, n.Field+": "+n.Message)
	}

	cols := make([]column, 0, len(cfg.FieldMapping))
	for _, cm := range cfg.FieldMapping {
		spec, _ := fields.Lookup(cm.Field)
		name, _, _ := xlsxparser.NormalizeColumn(cm.Column)
		cols = append(cols, column{spec: spec, name: name})
	}
	return cols, warnings, nil
}

// openSheet decodes the template and confirms the sheet exists.
func (e *Engine) openSheet(template []byte, sheet string) (*excelize.File, error) {
	f, err := xlsxparser.Open(template)
	if err != nil {
		return nil, &TemplateLoadError{Err: err}
	}
	if !xlsxparser.ExactSheet(f, sheet) {
		available := f.GetSheetList()
		_ = f.Close()
		return nil, &SheetNotFoundError{
			Sheet:     sheet,
			Available: available,
			Similar:   xlsxparser.SimilarSheets(available, sheet),
		}
	}
	return f, nil
}

// serialize writes the workbook and, when verification is on, re-opens the
// bytes and compares the sheet list.
func (e *Engine) serialize(f *excelize.File, sheets []string) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	out := buf.Bytes()
	if !e.verify {
		return out, nil
	}

	check, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		return nil, &SerializationError{Err: fmt.Errorf("output does not re-open: %w", err)}
	}
	defer check.Close()
	if got := check.GetSheetList(); !slices.Equal(got, sheets) {
		return nil, &SerializationError{Err: fmt.Errorf("output sheets %q differ from template sheets %q", got, sheets)}
	}
	return out, nil
}
