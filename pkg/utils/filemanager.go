// =============================================================================
// XLSX Template Export - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the exporter, including:
//   - Template discovery and resolution
//   - Output file naming and sanitizing
//   - Atomic output writes
//   - Directory management
//
// OUTPUT NAMING:
//   - Names come from a format string such as "{name}_{date}.xlsx"
//   - {name} is always sanitized before substitution
//   - The result always carries the .xlsx extension
//
// =============================================================================

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DefaultExportName is used when a sanitized name comes out empty.
const DefaultExportName = "export"

// maxNameLength caps the sanitized {name} placeholder, in runes.
const maxNameLength = 100

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles template and output files for the CLI.
type FileManager struct {
	// TemplatesDir is searched for templates given by bare file name.
	TemplatesDir string

	// OutputDir is where populated workbooks are written.
	OutputDir string

	// UseDateSubdirs writes outputs into date-based subdirectories.
	// Example: output/2025/10/15/report_2025-10-15.xlsx
	UseDateSubdirs bool

	// now is replaced in tests.
	now func() time.Time
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(templatesDir, outputDir string) *FileManager {
	return &FileManager{
		TemplatesDir: templatesDir,
		OutputDir:    outputDir,
		now:          time.Now,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates the templates and output directories.
//
// RETURNS:
//   - An error if any directory cannot be created.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.TemplatesDir, fm.OutputDir} {
		if err := EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDir creates dir and its parents if they don't exist.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// =============================================================================
// TEMPLATE DISCOVERY
// =============================================================================

// DiscoverTemplates lists the .xlsx workbooks in the templates directory,
// sorted by name. Excel lock files ("~$...") are skipped.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverTemplates() ([]string, error) {
	entries, err := os.ReadDir(fm.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan templates directory: %w", err)
	}

	var result []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "~$") {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ".xlsx") {
			result = append(result, filepath.Join(fm.TemplatesDir, name))
		}
	}
	sort.Strings(result)
	return result, nil
}

// ResolveTemplate returns the path of a template. A path that exists is
// used as is; otherwise the name is looked up in the templates directory.
//
// PARAMETERS:
//   - name: A file path or a bare file name.
//
// RETURNS:
//   - The resolved path.
//   - An error if neither location holds the file.
func (fm *FileManager) ResolveTemplate(name string) (string, error) {
	if FileExists(name) {
		return name, nil
	}
	if fm.TemplatesDir != "" && !filepath.IsAbs(name) {
		candidate := filepath.Join(fm.TemplatesDir, name)
		if FileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("template %s not found", name)
}

// =============================================================================
// OUTPUT WRITING
// =============================================================================

// OutputPath returns where an output named fileName is written.
func (fm *FileManager) OutputPath(fileName string) string {
	fileName = filepath.Base(fileName)
	if fm.UseDateSubdirs {
		now := fm.clock()
		return filepath.Join(
			fm.OutputDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
			fileName,
		)
	}
	return filepath.Join(fm.OutputDir, fileName)
}

// WriteOutput writes a populated workbook into the output directory.
//
// RETURNS:
//   - The path to the written file.
//   - An error if writing fails. No partial file is left behind.
func (fm *FileManager) WriteOutput(fileName string, data []byte) (string, error) {
	path := fm.OutputPath(fileName)
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (fm *FileManager) clock() time.Time {
	if fm.now == nil {
		return time.Now()
	}
	return fm.now()
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so readers never observe a half-written workbook.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName generates an output file name from a format string.
//
// PARAMETERS:
//   - format: The format string for the file name.
//     Placeholders:
//     {name}      - Export name, sanitized
//     {date}      - Current date (YYYY-MM-DD)
//     {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//     {uuid}      - A random UUID
//   - params: Placeholder values. "name" is sanitized; any other key is
//     substituted verbatim.
//
// RETURNS:
//   - The generated file name, always ending in .xlsx.
//
// EXAMPLE:
//
//	format: "{name}_{date}.xlsx"
//	params: {"name": "Q3 expenses/report"}
//	output: "Q3_expenses_report_2025-10-15.xlsx"
func GenerateOutputFileName(format string, params map[string]string) string {
	return GenerateOutputFileNameAt(format, params, time.Now())
}

// GenerateOutputFileNameAt is GenerateOutputFileName with a fixed clock.
func GenerateOutputFileNameAt(format string, params map[string]string, now time.Time) string {
	if format == "" {
		format = "{name}_{date}.xlsx"
	}

	replacements := map[string]string{
		"{name}":      DefaultExportName,
		"{date}":      now.Format("2006-01-02"),
		"{timestamp}": now.Format("20060102_150405"),
	}
	if strings.Contains(format, "{uuid}") {
		replacements["{uuid}"] = uuid.NewString()
	}
	for key, value := range params {
		if key == "name" {
			value = SanitizeFileName(value)
		}
		replacements["{"+key+"}"] = value
	}

	// One pass over the format, so substituted values are never rescanned.
	placeholders := make([]string, 0, len(replacements))
	for placeholder := range replacements {
		placeholders = append(placeholders, placeholder)
	}
	sort.Strings(placeholders)
	pairs := make([]string, 0, 2*len(placeholders))
	for _, placeholder := range placeholders {
		pairs = append(pairs, placeholder, replacements[placeholder])
	}
	result := strings.NewReplacer(pairs...).Replace(format)

	// Ensure .xlsx extension.
	if !strings.HasSuffix(strings.ToLower(result), ".xlsx") {
		result += ".xlsx"
	}
	return result
}

// SanitizeFileName reduces name to letters, digits, '-', '_' and '.',
// replacing runs of anything else with a single underscore. Leading and
// trailing separators are trimmed. An empty result becomes DefaultExportName.
func SanitizeFileName(name string) string {
	var b strings.Builder
	pendingSep := false
	n := 0
	for _, r := range name {
		if n >= maxNameLength {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
				n++
			}
			pendingSep = false
			b.WriteRune(r)
			n++
			continue
		}
		pendingSep = true
	}

	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return DefaultExportName
	}
	return out
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns the size of a file in bytes.
func GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
