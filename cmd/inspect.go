// =============================================================================
// XLSX Template Export - Inspect Command
// =============================================================================
//
// This file defines the 'inspect' command, which prints what a template
// contains: exact sheet names, used ranges, merged cells and the first
// non-empty rows of each sheet.
//
// COMMAND USAGE:
//   exporter inspect --template t.xlsx [--rows N]
//   exporter inspect                    (lists templates in templates_dir)
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/xlsx-template-export/internal/xlsxparser"
	"github.com/ginjaninja78/xlsx-template-export/pkg/utils"
)

var inspectFlags struct {
	template string
	rows     int
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the sheets, ranges and first rows of a template",
	Long: `The inspect command prints every sheet of a template with its name quoted,
so trailing or doubled spaces are visible. Copy sheet names from here into
the template config.

Without --template, the workbooks in templates_dir are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	f := inspectCmd.Flags()
	f.StringVarP(&inspectFlags.template, "template", "t", "", "Template workbook (path, or file name in templates_dir)")
	f.IntVar(&inspectFlags.rows, "rows", 3, "Non-empty rows to preview per sheet")
}

func runInspect(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fm := utils.NewFileManager(a.cfg.TemplatesDir, a.cfg.OutputDir)

	if inspectFlags.template == "" {
		found, err := fm.DiscoverTemplates()
		if err != nil {
			return err
		}
		if len(found) == 0 {
			fmt.Fprintf(out, "No templates found in %s\n", fm.TemplatesDir)
			return nil
		}
		fmt.Fprintf(out, "Templates in %s:\n", fm.TemplatesDir)
		for _, path := range found {
			size, _ := utils.GetFileSize(path)
			fmt.Fprintf(out, "  %-40s %8d bytes\n", filepath.Base(path), size)
		}
		return nil
	}

	path, err := fm.ResolveTemplate(inspectFlags.template)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	sheets, err := xlsxparser.Describe(data, inspectFlags.rows)
	if err != nil {
		return fmt.Errorf("invalid template file: %w", err)
	}

	fmt.Fprintf(out, "Template: %s (%d sheet(s))\n", path, len(sheets))
	for _, s := range sheets {
		printSheet(out, s)
	}
	return nil
}

func printSheet(out io.Writer, s xlsxparser.SheetInfo) {
	fmt.Fprintf(out, "\n[%d] %s", s.Index, s.Quoted)
	if !s.Visible {
		fmt.Fprint(out, " (hidden)")
	}
	fmt.Fprintln(out)
	if s.HasEdgeWhitespace() {
		fmt.Fprintln(out, "    note: name has leading or trailing spaces; keep them in sheet_name")
	}
	if s.Dimension != "" {
		fmt.Fprintf(out, "    used range: %s\n", s.Dimension)
	}
	if len(s.MergedRanges) > 0 {
		fmt.Fprintf(out, "    merged:     %s\n", strings.Join(s.MergedRanges, ", "))
	}
	for i, row := range s.Preview {
		fmt.Fprintf(out, "    row %-4d %s\n", s.RowNumbers[i], strings.Join(row, " | "))
	}
}
