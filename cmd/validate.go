// =============================================================================
// XLSX Template Export - Validate Command
// =============================================================================
//
// This file defines the 'validate' command, which checks a template config
// against its template without writing anything.
//
// COMMAND USAGE:
//   exporter validate --template t.xlsx --mapping m.yaml [--records r.json]
//
// CHECKS:
//   1. The config is complete (sheet name, start row, known fields, columns)
//   2. The template opens and the sheet exists, matched exactly
//   3. Optionally, the records have ids and parseable dates
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/engine"
	"github.com/ginjaninja78/xlsx-template-export/internal/export"
	"github.com/ginjaninja78/xlsx-template-export/internal/records"
	"github.com/ginjaninja78/xlsx-template-export/internal/validation"
	"github.com/ginjaninja78/xlsx-template-export/pkg/utils"
)

var validateFlags struct {
	template  string
	mapping   string
	records   string
	delimiter string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a template config against its template",
	Long: `The validate command checks that a template config is complete and that the
sheet it names exists in the template, exactly as written. When the sheet is
missing, the available sheet names are listed, with near matches that differ
only in case or spacing.

With --records, the record file is checked too: every record needs an id,
and mapped dates that cannot be parsed are reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	f := validateCmd.Flags()
	f.StringVarP(&validateFlags.template, "template", "t", "", "Template workbook (path, or file name in templates_dir)")
	f.StringVarP(&validateFlags.mapping, "mapping", "m", "", "Template config file (YAML or JSON)")
	f.StringVarP(&validateFlags.records, "records", "r", "", "Record file to check (optional)")
	f.StringVar(&validateFlags.delimiter, "delimiter", ",", "CSV field delimiter")

	validateCmd.MarkFlagRequired("template")
	validateCmd.MarkFlagRequired("mapping")
}

func runValidate(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fm := utils.NewFileManager(a.cfg.TemplatesDir, a.cfg.OutputDir)
	templatePath, err := fm.ResolveTemplate(validateFlags.template)
	if err != nil {
		return err
	}
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	tcfg, err := config.LoadTemplateConfig(validateFlags.mapping)
	if err != nil {
		return err
	}

	svc := export.NewService(export.OptionsFromConfig(a.cfg, a.log, nil))
	sheets, err := svc.Check(template, tcfg)
	if err != nil {
		var sheetErr *engine.SheetNotFoundError
		if errors.As(err, &sheetErr) {
			fmt.Fprintln(out, "Sheets in template:")
			for _, s := range sheetErr.Available {
				fmt.Fprintf(out, "  %q\n", s)
			}
		}
		return err
	}

	fmt.Fprintf(out, "Template:  %s\n", templatePath)
	fmt.Fprintf(out, "Sheet:     %q (found; %d sheet(s) in workbook)\n", tcfg.SheetName, len(sheets))
	fmt.Fprintf(out, "Start row: %d\n", tcfg.StartRow)
	for _, cm := range tcfg.FieldMapping {
		fmt.Fprintf(out, "  %-22s -> %s\n", cm.Field, cm.Column)
	}

	var problems []*validation.ValidationError
	if validateFlags.records == "" {
		problems = validation.ValidateConfig(tcfg, 0)
	} else {
		settings, err := csvSettings(validateFlags.delimiter)
		if err != nil {
			return err
		}
		recs, err := records.Load(validateFlags.records, settings)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Records:   %d in %s\n", len(recs), validateFlags.records)
		if limit := a.cfg.Limits.MaxRecords; limit > 0 && len(recs) > limit {
			return fmt.Errorf("%w: %d records exceeds the limit of %d", export.ErrTooManyRecords, len(recs), limit)
		}
		problems = append(validation.ValidateConfig(tcfg, len(recs)), validation.ValidateRecords(recs, tcfg.FieldMapping)...)
	}

	summary := validation.Summarize(problems)
	if len(problems) > 0 {
		fmt.Fprintln(out)
		fmt.Fprint(out, validation.FormatErrors(problems))
	}
	if !summary.IsValid {
		return fmt.Errorf("validation failed with %d error(s)", summary.ErrorCount)
	}

	fmt.Fprintln(out, "\nValidation passed.")
	return nil
}
