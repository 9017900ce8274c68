package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// TemplateLoadError means the template bytes are not a readable workbook.
type TemplateLoadError struct {
	Err error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("invalid template file: %v", e.Err)
}

func (e *TemplateLoadError) Unwrap() error { return e.Err }

// SheetNotFoundError means no sheet has exactly the configured name.
type SheetNotFoundError struct {
	// Sheet is the configured name.
	Sheet string

	// Available lists the workbook's sheets in order.
	Available []string

	// Similar lists sheets whose names differ from Sheet only by
	// whitespace or case. They are a hint and are never used.
	Similar []string
}

func (e *SheetNotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sheet %q not found; available sheets: %s", e.Sheet, quoteAll(e.Available))
	if len(e.Similar) > 0 {
		fmt.Fprintf(&b, " (did you mean %s? sheet names must match exactly, including spaces and case)",
			quoteAll(e.Similar))
	}
	return b.String()
}

// InvalidConfigError lists every problem found in a template config.
type InvalidConfigError struct {
	Problems []string
}

func (e *InvalidConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid template config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid template config (%d problems): %s",
		len(e.Problems), strings.Join(e.Problems, "; "))
}

// SerializationError means the populated workbook could not be written, or
// the written bytes did not read back as the same workbook.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize workbook: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return strings.Join(quoted, ", ")
}
