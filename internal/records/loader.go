// =============================================================================
// XLSX Template Export - Record Loader
// =============================================================================
//
// This module reads extracted records from files so the CLI can export them.
// Three formats are supported:
//   - JSON: an array of records, or an object {"records": [...]}
//   - YAML: the same shapes as JSON
//   - CSV:  a header row of field keys ("id", "merchant_name", ...) followed
//           by one record per row; empty cells mean the field is absent
//
// Field keys use the snake_case vocabulary of the template field mapping.
//
// =============================================================================

package records

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/xlsx-template-export/internal/fields"
	"github.com/ginjaninja78/xlsx-template-export/internal/types"
)

// CSVSettings configures CSV decoding.
type CSVSettings struct {
	// Delimiter separates fields.
	// Default: ','
	Delimiter rune

	// Comment marks lines to skip when non-zero.
	Comment rune
}

// DefaultCSVSettings returns comma-separated settings without comments.
func DefaultCSVSettings() CSVSettings {
	return CSVSettings{Delimiter: ','}
}

// envelope is the object form of a YAML record file.
type envelope struct {
	Records []types.Record `json:"records" yaml:"records"`
}

// =============================================================================
// FILE LOADING
// =============================================================================

// Load reads records from a file, choosing the decoder by extension.
//
// PARAMETERS:
//   - path: A .json, .yaml, .yml, .csv, .tsv or .txt file.
//   - settings: CSV settings; ignored for JSON and YAML. A .tsv file always
//     uses a tab delimiter.
//
// RETURNS:
//   - The records in file order.
//   - An error naming the file if it cannot be read or decoded.
func Load(path string, settings CSVSettings) ([]types.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	var recs []types.Record
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		recs, err = DecodeJSON(reader)
	case ".yaml", ".yml":
		recs, err = DecodeYAML(reader)
	case ".tsv":
		settings.Delimiter = '\t'
		recs, err = DecodeCSV(reader, settings)
	case ".csv", ".txt":
		recs, err = DecodeCSV(reader, settings)
	default:
		return nil, fmt.Errorf("unsupported records file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// =============================================================================
// DECODERS
// =============================================================================

// DecodeJSON reads an array of records or a {"records": [...]} object.
func DecodeJSON(r io.Reader) ([]types.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no records: input is empty")
	}

	if data[0] == '[' {
		var recs []types.Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("invalid records JSON: %w", err)
		}
		return recs, nil
	}

	// Only the envelope itself is strict. Records decode the same way in
	// both forms, so extra keys inside a record are ignored.
	var env struct {
		Records json.RawMessage `json:"records"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("invalid records JSON: %w", err)
	}
	if len(env.Records) == 0 || string(env.Records) == "null" {
		return nil, nil
	}
	var recs []types.Record
	if err := json.Unmarshal(env.Records, &recs); err != nil {
		return nil, fmt.Errorf("invalid records JSON: %w", err)
	}
	return recs, nil
}

// DecodeYAML reads a sequence of records or a mapping with a records key.
func DecodeYAML(r io.Reader) ([]types.Record, error) {
	var node yaml.Node
	if err := yaml.NewDecoder(r).Decode(&node); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("no records: input is empty")
		}
		return nil, fmt.Errorf("invalid records YAML: %w", err)
	}

	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}

	var recs []types.Record
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&recs); err != nil {
			return nil, fmt.Errorf("invalid records YAML: %w", err)
		}
	case yaml.MappingNode:
		var env envelope
		if err := root.Decode(&env); err != nil {
			return nil, fmt.Errorf("invalid records YAML: %w", err)
		}
		recs = env.Records
	default:
		return nil, fmt.Errorf("invalid records YAML: expected a list or a records key")
	}
	return recs, nil
}

// DecodeCSV reads records from CSV. The header row names the fields; every
// header must be "id" or a field key. Cells keep their exact text, so
// leading and trailing spaces survive into the spreadsheet.
func DecodeCSV(r io.Reader, settings CSVSettings) ([]types.Record, error) {
	csvReader := csv.NewReader(r)
	configureReader(csvReader, settings)

	header, err := csvReader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no records: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	specs, idCol, err := resolveHeader(header)
	if err != nil {
		return nil, err
	}

	var recs []types.Record
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		line, _ := csvReader.FieldPos(0)
		if isRowEmpty(row) {
			continue
		}

		if len(row) > len(header) {
			return nil, fmt.Errorf("line %d: %d cells but only %d header columns", line, len(row), len(header))
		}

		var rec types.Record
		for col, cell := range row {
			if col == idCol {
				rec.ID = strings.TrimSpace(cell)
				continue
			}
			spec := specs[col]
			if spec == nil {
				continue
			}
			if err := spec.Assign(&rec, cell); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// configureReader applies CSV settings to the reader.
func configureReader(reader *csv.Reader, settings CSVSettings) {
	reader.Comma = ','
	if settings.Delimiter != 0 {
		reader.Comma = settings.Delimiter
	}
	reader.Comment = settings.Comment
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
}

// resolveHeader maps header cells to field specs. The returned slice has a
// nil entry for the id column.
func resolveHeader(header []string) ([]*fields.Spec, int, error) {
	specs := make([]*fields.Spec, len(header))
	idCol := -1
	seen := make(map[string]bool, len(header))

	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if seen[name] {
			return nil, 0, fmt.Errorf("header column %q appears more than once", name)
		}
		seen[name] = true

		if name == "id" {
			idCol = i
			continue
		}
		spec, ok := fields.Lookup(name)
		if !ok {
			return nil, 0, fmt.Errorf("unknown header column %q; expected id or one of %s",
				name, strings.Join(fields.Names(), ", "))
		}
		specs[i] = &spec
	}
	return specs, idCol, nil
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
