// =============================================================================
// XLSX Template Export - Validation Engine
// =============================================================================
//
// This module validates template configurations and records before any
// workbook is touched. It works at two levels:
//   1. Config-level: sheet name, start row, field mapping keys and columns,
//      and whether the records fit below the start row
//   2. Record-level: record identifiers, the values of mapped date fields
//      and mapped text that a cell cannot hold verbatim
//
// ERROR HANDLING:
//   - Problems are collected, not returned one at a time
//   - Each problem carries the field, value and rule that failed
//   - Severity "error" blocks the export; "warning" is reported and the
//     export continues (an unparseable date is written as an empty cell)
//
// =============================================================================

package validation

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/xlsx-template-export/internal/fields"
	"github.com/ginjaninja78/xlsx-template-export/internal/types"
	"github.com/ginjaninja78/xlsx-template-export/internal/xlsxparser"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Rule names reported in ValidationError.Rule.
const (
	RuleSheetName       = "sheet_name"
	RuleStartRow        = "start_row"
	RuleEmptyMapping    = "empty_mapping"
	RuleUnknownField    = "unknown_field"
	RuleDuplicateField  = "duplicate_field"
	RuleInvalidColumn   = "invalid_column"
	RuleDuplicateColumn = "duplicate_column"
	RuleRowOverflow     = "row_overflow"
	RuleMissingID       = "missing_id"
	RuleInvalidDate     = "invalid_date"
	RuleTextTooLong     = "text_too_long"
	RuleIllegalChars    = "illegal_characters"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation problem.
type ValidationError struct {
	// Severity is SeverityError or SeverityWarning.
	Severity string

	// Field is the config key or record field that failed validation.
	Field string

	// Value is the offending value.
	Value string

	// Rule is the validation rule that was violated.
	Rule string

	// Message is a human-readable explanation.
	Message string

	// RecordIndex is the 0-based position of the record, or -1 for
	// config-level problems.
	RecordIndex int

	// RecordID is the identifier of the record, when known.
	RecordID string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.RecordIndex < 0 {
		return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(e.Severity), e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] Record %d (id %q), Field '%s': %s (value: '%s')",
		strings.ToUpper(e.Severity),
		e.RecordIndex,
		e.RecordID,
		e.Field,
		e.Message,
		e.Value,
	)
}

// IsError reports whether the problem blocks the export.
func (e *ValidationError) IsError() bool {
	return e.Severity == SeverityError
}

func configError(field, value, rule, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Severity:    SeverityError,
		Field:       field,
		Value:       value,
		Rule:        rule,
		Message:     fmt.Sprintf(format, args...),
		RecordIndex: -1,
	}
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult summarizes a list of problems.
type ValidationResult struct {
	// IsValid is true if there are no errors.
	IsValid bool

	// Errors contains every problem, warnings included.
	Errors []*ValidationError

	// ErrorCount is the number of blocking errors.
	ErrorCount int

	// WarningCount is the number of warnings.
	WarningCount int
}

// Summarize counts errors and warnings.
func Summarize(problems []*ValidationError) *ValidationResult {
	result := &ValidationResult{IsValid: true, Errors: problems}
	for _, p := range problems {
		if p.IsError() {
			result.ErrorCount++
			result.IsValid = false
		} else {
			result.WarningCount++
		}
	}
	return result
}

// Split separates blocking errors from warnings, keeping order.
func Split(problems []*ValidationError) (errs, warnings []*ValidationError) {
	for _, p := range problems {
		if p.IsError() {
			errs = append(errs, p)
		} else {
			warnings = append(warnings, p)
		}
	}
	return errs, warnings
}

// =============================================================================
// CONFIG VALIDATION
// =============================================================================

// ValidateConfig checks a template configuration against the field
// vocabulary and the sheet limits. recordCount is the number of records
// about to be written; pass 0 to skip the row overflow check.
//
// PARAMETERS:
//   - cfg: The template configuration.
//   - recordCount: How many records will be written starting at cfg.StartRow.
//
// RETURNS:
//   - Every problem found. Duplicate columns are warnings; everything else
//     is an error.
func ValidateConfig(cfg types.TemplateConfig, recordCount int) []*ValidationError {
	var problems []*ValidationError

	if cfg.SheetName == "" {
		problems = append(problems, configError("sheet_name", "", RuleSheetName,
			"sheet name is required"))
	}

	if cfg.StartRow < 1 {
		problems = append(problems, configError("start_row", fmt.Sprint(cfg.StartRow), RuleStartRow,
			"start row must be 1 or greater, got %d", cfg.StartRow))
	} else if cfg.StartRow > excelize.TotalRows {
		problems = append(problems, configError("start_row", fmt.Sprint(cfg.StartRow), RuleStartRow,
			"start row must not exceed %d, got %d", excelize.TotalRows, cfg.StartRow))
	} else if recordCount > 0 {
		if last := cfg.StartRow + recordCount - 1; last > excelize.TotalRows {
			problems = append(problems, configError("start_row", fmt.Sprint(cfg.StartRow), RuleRowOverflow,
				"%d records starting at row %d would end at row %d, beyond the sheet limit of %d",
				recordCount, cfg.StartRow, last, excelize.TotalRows))
		}
	}

	if len(cfg.FieldMapping) == 0 {
		problems = append(problems, configError("field_mapping", "", RuleEmptyMapping,
			"field mapping must map at least one field"))
	}

	seenField := make(map[string]bool, len(cfg.FieldMapping))
	seenColumn := make(map[string]string, len(cfg.FieldMapping))
	for _, cm := range cfg.FieldMapping {
		key := "field_mapping." + cm.Field

		if _, ok := fields.Lookup(cm.Field); !ok {
			problems = append(problems, configError(key, cm.Field, RuleUnknownField,
				"unknown field %q; expected one of %s", cm.Field, strings.Join(fields.Names(), ", ")))
		} else if seenField[cm.Field] {
			problems = append(problems, configError(key, cm.Field, RuleDuplicateField,
				"field %q is mapped more than once", cm.Field))
		}
		seenField[cm.Field] = true

		name, _, err := xlsxparser.NormalizeColumn(cm.Column)
		if err != nil {
			problems = append(problems, configError(key, cm.Column, RuleInvalidColumn,
				"invalid column: %v", err))
			continue
		}
		if prev, dup := seenColumn[name]; dup {
			p := configError(key, cm.Column, RuleDuplicateColumn,
				"column %s is also mapped from %q; the later field wins", name, prev)
			p.Severity = SeverityWarning
			problems = append(problems, p)
		}
		seenColumn[name] = cm.Field
	}

	return problems
}

// =============================================================================
// RECORD VALIDATION
// =============================================================================

// ValidateRecords checks records against the fields a mapping will write.
// A missing id is an error, and so is mapped text longer than a cell holds.
// A mapped date that cannot be parsed is a warning, since it is written as
// an empty cell. Text with characters XML cannot carry is a warning too.
func ValidateRecords(records []types.Record, mapping types.FieldMapping) []*ValidationError {
	var dateSpecs, textSpecs []fields.Spec
	for _, cm := range mapping {
		s, ok := fields.Lookup(cm.Field)
		if !ok {
			continue
		}
		switch s.Kind {
		case fields.Date:
			dateSpecs = append(dateSpecs, s)
		case fields.Text:
			textSpecs = append(textSpecs, s)
		}
	}

	var problems []*ValidationError
	for i := range records {
		r := &records[i]
		if strings.TrimSpace(r.ID) == "" {
			problems = append(problems, &ValidationError{
				Severity:    SeverityError,
				Field:       "id",
				Rule:        RuleMissingID,
				Message:     "record has no id",
				RecordIndex: i,
			})
		}
		for _, s := range dateSpecs {
			v := s.Extract(r)
			if !v.Present {
				continue
			}
			if _, ok := fields.ParseDate(v.Text); !ok {
				problems = append(problems, &ValidationError{
					Severity:    SeverityWarning,
					Field:       string(s.Key),
					Value:       v.Text,
					Rule:        RuleInvalidDate,
					Message:     "not an ISO-8601 date; the cell will be left empty",
					RecordIndex: i,
					RecordID:    r.ID,
				})
			}
		}
		for _, s := range textSpecs {
			v := s.Extract(r)
			if !v.Present {
				continue
			}
			if n := xlsxparser.TextLength(v.Text); n > excelize.TotalCellChars {
				problems = append(problems, &ValidationError{
					Severity:    SeverityError,
					Field:       string(s.Key),
					Value:       abbreviate(v.Text),
					Rule:        RuleTextTooLong,
					Message:     fmt.Sprintf("text is %d characters; a cell holds at most %d", n, excelize.TotalCellChars),
					RecordIndex: i,
					RecordID:    r.ID,
				})
			}
			if bad, ok := xlsxparser.IllegalXMLRune(v.Text); ok {
				problems = append(problems, &ValidationError{
					Severity:    SeverityWarning,
					Field:       string(s.Key),
					Value:       abbreviate(v.Text),
					Rule:        RuleIllegalChars,
					Message:     fmt.Sprintf("contains %U, which a workbook cannot store; it will be written as U+FFFD", bad),
					RecordIndex: i,
					RecordID:    r.ID,
				})
			}
		}
	}
	return problems
}

// abbreviate shortens long values for messages.
func abbreviate(s string) string {
	const limit = 60
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// =============================================================================
// OUTPUT
// =============================================================================

// FormatErrors formats validation problems for display or logging.
//
// PARAMETERS:
//   - errors: The validation problems to format.
//
// RETURNS:
//   - A formatted string containing all problems.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Validation completed with %d problem(s):\n\n", len(errors)))

	for i, err := range errors {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}

	return builder.String()
}

// WriteErrorLog writes validation problems to a log file, with a timestamped
// header.
func WriteErrorLog(errors []*ValidationError, filePath string) error {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("# Validation report %s\n\n", time.Now().Format(time.RFC3339)))
	builder.WriteString(FormatErrors(errors))

	if err := os.WriteFile(filePath, []byte(builder.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write error log: %w", err)
	}
	return nil
}
