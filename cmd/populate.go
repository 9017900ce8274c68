// =============================================================================
// XLSX Template Export - Populate Command
// =============================================================================
//
// This file defines the 'populate' command, which writes record files into
// a template and saves one workbook per record file.
//
// COMMAND USAGE:
//   exporter populate --template t.xlsx --mapping m.yaml --records r.json [flags]
//
// FLAGS:
//   --records     : One or more record files (.json, .yaml, .csv, .tsv)
//   --name        : Export name used in the output file name
//   --out         : Output directory (default: output_dir from config)
//   --delimiter   : CSV delimiter
//   --dry-run     : Populate and verify without writing output files
//
// PROCESSING PIPELINE:
//   1. Load configuration, template and mapping
//   2. For each record file (concurrently):
//      a. Load the records
//      b. Run the export (limits, validation, population)
//      c. Write the output file
//   3. Print a summary and write an error log for failed files
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/export"
	"github.com/ginjaninja78/xlsx-template-export/internal/records"
	"github.com/ginjaninja78/xlsx-template-export/internal/validation"
	"github.com/ginjaninja78/xlsx-template-export/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var populateFlags struct {
	template   string
	mapping    string
	records    []string
	name       string
	outDir     string
	delimiter  string
	dateSubdir bool
	dryRun     bool
}

// =============================================================================
// POPULATE COMMAND DEFINITION
// =============================================================================

var populateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Write records into a template and save the workbook",
	Long: `The populate command writes each record file into a copy of the template,
one record per row starting at start_row, and saves the result in the output
directory. The template itself is never modified.

Record files may be JSON (an array, or {"records": [...]}), YAML, CSV or TSV.
CSV headers are field names such as id, merchant_name and total_amount.

Several record files are processed concurrently. A failure in one file does
not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPopulate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(populateCmd)

	f := populateCmd.Flags()
	f.StringVarP(&populateFlags.template, "template", "t", "", "Template workbook (path, or file name in templates_dir)")
	f.StringVarP(&populateFlags.mapping, "mapping", "m", "", "Template config file (YAML or JSON)")
	f.StringSliceVarP(&populateFlags.records, "records", "r", nil, "Record files to export")
	f.StringVar(&populateFlags.name, "name", "", "Export name (default: template name, or record file name for several files)")
	f.StringVarP(&populateFlags.outDir, "out", "o", "", "Output directory (default: output_dir from config)")
	f.StringVar(&populateFlags.delimiter, "delimiter", ",", "CSV field delimiter")
	f.BoolVar(&populateFlags.dateSubdir, "date-subdirs", false, "Write outputs into YYYY/MM/DD subdirectories")
	f.BoolVar(&populateFlags.dryRun, "dry-run", false, "Populate without writing output files")

	populateCmd.MarkFlagRequired("template")
	populateCmd.MarkFlagRequired("mapping")
	populateCmd.MarkFlagRequired("records")
}

// populateResult pairs a record file with its export outcome.
type populateResult struct {
	recordsPath string
	outputPath  string
	result      export.Result
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runPopulate(cmd *cobra.Command) error {
	startTime := time.Now()
	out := cmd.OutOrStdout()

	// =========================================================================
	// STEP 1: LOAD CONFIGURATION
	// =========================================================================

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	outDir := a.cfg.OutputDir
	if populateFlags.outDir != "" {
		outDir = populateFlags.outDir
	}
	fm := utils.NewFileManager(a.cfg.TemplatesDir, outDir)
	fm.UseDateSubdirs = populateFlags.dateSubdir

	templatePath, err := fm.ResolveTemplate(populateFlags.template)
	if err != nil {
		return err
	}
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	tcfg, err := config.LoadTemplateConfig(populateFlags.mapping)
	if err != nil {
		return err
	}
	settings, err := csvSettings(populateFlags.delimiter)
	if err != nil {
		return err
	}

	svc := export.NewService(export.OptionsFromConfig(a.cfg, a.log, nil))
	files := populateFlags.records
	if len(files) > 1 && !distinctNames(a.cfg.Export.NameFormat) {
		return fmt.Errorf("export.name_format %q has no {name} or {uuid}, so %d record files would overwrite one another",
			a.cfg.Export.NameFormat, len(files))
	}
	names := exportNames(files, templatePath)

	a.log.Debug().
		Str("template", templatePath).
		Str("sheet", tcfg.SheetName).
		Int("files", len(files)).
		Msg("starting populate")

	// =========================================================================
	// STEP 2: EXPORT RECORD FILES CONCURRENTLY
	// =========================================================================

	var wg sync.WaitGroup
	results := make(chan populateResult, len(files))

	for i, path := range files {
		wg.Add(1)
		go func(path, name string) {
			defer wg.Done()
			pr := populateResult{recordsPath: path}

			recs, err := records.Load(path, settings)
			if err != nil {
				pr.result.Error = err
				results <- pr
				return
			}

			pr.result = svc.Run(cmd.Context(), export.Request{
				Name:     name,
				Template: template,
				Config:   tcfg,
				Records:  recs,
			})
			if pr.result.Error != nil || populateFlags.dryRun {
				results <- pr
				return
			}

			pr.outputPath, err = fm.WriteOutput(pr.result.FileName, pr.result.Data)
			if err != nil {
				pr.result.Success = false
				pr.result.Error = err
			}
			results <- pr
		}(path, names[i])
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// =========================================================================
	// STEP 3: COLLECT RESULTS AND PRINT SUMMARY
	// =========================================================================

	var (
		successCount int
		failures     []string
		problems     []*validation.ValidationError
	)
	for pr := range results {
		base := filepath.Base(pr.recordsPath)
		if pr.result.Error != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", base, pr.result.Error))
			problems = append(problems, pr.result.Problems...)
			fmt.Fprintf(out, "  ✗ %s: %v\n", base, pr.result.Error)
			continue
		}
		successCount++
		target := pr.outputPath
		if populateFlags.dryRun {
			target = pr.result.FileName + " (dry run)"
		}
		fmt.Fprintf(out, "  ✓ %s -> %s (%d rows)\n", base, target, pr.result.Stats.RowsWritten)
		for _, w := range pr.result.Stats.Warnings {
			fmt.Fprintf(out, "      warning: %s\n", w)
		}
	}

	fmt.Fprintln(out, "\n=== Populate Complete ===")
	fmt.Fprintf(out, "Total files:     %d\n", len(files))
	fmt.Fprintf(out, "Successful:      %d\n", successCount)
	fmt.Fprintf(out, "Errors:          %d\n", len(failures))
	fmt.Fprintf(out, "Time elapsed:    %s\n", time.Since(startTime).Round(time.Millisecond))

	if len(failures) == 0 {
		return nil
	}

	if len(problems) > 0 && !populateFlags.dryRun {
		logPath := filepath.Join(outDir, fmt.Sprintf("validation_errors_%s.log", time.Now().Format("20060102_150405")))
		if err := validation.WriteErrorLog(problems, logPath); err != nil {
			a.log.Warn().Err(err).Msg("could not write error log")
		} else {
			fmt.Fprintf(out, "\nRecord problems have been logged to %s\n", logPath)
		}
	}
	return fmt.Errorf("%d of %d export(s) failed:\n  %s", len(failures), len(files), strings.Join(failures, "\n  "))
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// exportNames picks the {name} for each record file. A single file uses
// --name or the template's base name; several files use their own base
// names, and files whose names collide get their 1-based position appended.
func exportNames(recordsPaths []string, templatePath string) []string {
	names := make([]string, len(recordsPaths))
	if len(recordsPaths) == 1 {
		names[0] = populateFlags.name
		if names[0] == "" {
			names[0] = strings.TrimSuffix(filepath.Base(templatePath), filepath.Ext(templatePath))
		}
		return names
	}

	seen := make(map[string]int, len(recordsPaths))
	for i, path := range recordsPaths {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if populateFlags.name != "" {
			base = populateFlags.name + "_" + base
		}
		names[i] = base
		seen[utils.SanitizeFileName(base)]++
	}
	for i, name := range names {
		if seen[utils.SanitizeFileName(name)] > 1 {
			names[i] = fmt.Sprintf("%s_%d", name, i+1)
		}
	}
	return names
}

// distinctNames reports whether a name format yields different file names
// for different exports.
func distinctNames(format string) bool {
	return format == "" || strings.Contains(format, "{name}") || strings.Contains(format, "{uuid}")
}

// csvSettings builds CSV settings from the --delimiter flag. "\t" and "tab"
// both select a tab.
func csvSettings(delimiter string) (records.CSVSettings, error) {
	settings := records.DefaultCSVSettings()
	switch delimiter {
	case "", ",":
		return settings, nil
	case `\t`, "tab":
		settings.Delimiter = '\t'
		return settings, nil
	}
	if utf8.RuneCountInString(delimiter) != 1 {
		return settings, fmt.Errorf("--delimiter must be a single character, got %q", delimiter)
	}
	settings.Delimiter, _ = utf8.DecodeRuneInString(delimiter)
	return settings, nil
}
