package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/xlsx-template-export/internal/testutil"
)

const mappingYAML = `
sheet_name: "Purchase or Expense  "
start_row: 2
field_mapping:
  merchant_name: B
  total_amount: G
  receipt_date: C
`

type fixture struct {
	dir      string
	config   string
	template string
	mapping  string
	records  string
	outDir   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		dir:      dir,
		config:   filepath.Join(dir, "config.yaml"),
		template: filepath.Join(dir, "expenses.xlsx"),
		mapping:  filepath.Join(dir, "expenses.yaml"),
		records:  filepath.Join(dir, "receipts.json"),
		outDir:   filepath.Join(dir, "out"),
	}
	write := func(path string, data []byte) {
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	write(fx.config, []byte("templates_dir: "+dir+"\noutput_dir: "+fx.outDir+"\nlog_level: error\n"))
	write(fx.template, testutil.TemplateWorkbook(t))
	write(fx.mapping, []byte(mappingYAML))
	write(fx.records, []byte(`[{"id": "r1", "merchant_name": "Acme", "total_amount": "103.46", "receipt_date": "2025-10-15"}]`))
	return fx
}

// resetFlags restores every flag to its default so commands can run more
// than once in one test binary.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, fx fixture, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--config", fx.config, "--env-file", filepath.Join(fx.dir, "missing.env")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPopulateCommand(t *testing.T) {
	fx := newFixture(t)

	out, err := run(t, fx, "populate", "-t", "expenses.xlsx", "-m", fx.mapping, "-r", fx.records, "--name", "October")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Successful:      1")

	matches, err := filepath.Glob(filepath.Join(fx.outDir, "October_*.xlsx"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	f := testutil.Open(t, data)
	v, err := f.GetCellValue(testutil.ExpenseSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Acme", v)
}

func TestPopulateCommandDryRunAndFailures(t *testing.T) {
	fx := newFixture(t)
	bad := filepath.Join(fx.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"merchant_name": "no id"}]`), 0o644))

	out, err := run(t, fx, "populate", "-t", fx.template, "-m", fx.mapping, "-r", fx.records, "-r", bad, "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 export(s) failed")
	assert.Contains(t, out, "(dry run)")

	matches, _ := filepath.Glob(filepath.Join(fx.outDir, "*.xlsx"))
	assert.Empty(t, matches)
}

func TestPopulateCommandSameBaseName(t *testing.T) {
	fx := newFixture(t)
	data, err := os.ReadFile(fx.records)
	require.NoError(t, err)
	var paths []string
	for _, sub := range []string{"north", "south"} {
		dir := filepath.Join(fx.dir, sub)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		path := filepath.Join(dir, "receipts.json")
		require.NoError(t, os.WriteFile(path, data, 0o644))
		paths = append(paths, path)
	}

	out, err := run(t, fx, "populate", "-t", fx.template, "-m", fx.mapping, "-r", paths[0], "-r", paths[1])
	require.NoError(t, err, out)
	assert.Contains(t, out, "Successful:      2")

	matches, err := filepath.Glob(filepath.Join(fx.outDir, "receipts_*.xlsx"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestExportNames(t *testing.T) {
	defer func() { populateFlags.name = "" }()
	tmpl := "/t/expenses.xlsx"

	assert.Equal(t, []string{"expenses"}, exportNames([]string{"/a/r.json"}, tmpl))
	assert.Equal(t, []string{"a", "b"}, exportNames([]string{"/x/a.json", "/x/b.csv"}, tmpl))
	assert.Equal(t, []string{"r_1", "r_2", "s"}, exportNames([]string{"/a/r.json", "/b/r.csv", "/c/s.json"}, tmpl))

	populateFlags.name = "Oct"
	assert.Equal(t, []string{"Oct"}, exportNames([]string{"/a/r.json"}, tmpl))
	assert.Equal(t, []string{"Oct_r_1", "Oct_r_2"}, exportNames([]string{"/a/r.json", "/b/r.json"}, tmpl))
}

func TestDistinctNames(t *testing.T) {
	assert.True(t, distinctNames(""))
	assert.True(t, distinctNames("{name}_{date}.xlsx"))
	assert.True(t, distinctNames("{uuid}.xlsx"))
	assert.False(t, distinctNames("report_{date}.xlsx"))
}

func TestValidateCommand(t *testing.T) {
	fx := newFixture(t)

	out, err := run(t, fx, "validate", "-t", fx.template, "-m", fx.mapping, "-r", fx.records)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Validation passed.")

	wrong := filepath.Join(fx.dir, "wrong.yaml")
	require.NoError(t, os.WriteFile(wrong, []byte("sheet_name: Expenses\nstart_row: 2\nfield_mapping: {notes: H}\n"), 0o644))
	out, err = run(t, fx, "validate", "-t", fx.template, "-m", wrong)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Expenses" not found`)
	assert.Contains(t, out, `"Purchase or Expense  "`)
}

func TestInspectCommand(t *testing.T) {
	fx := newFixture(t)

	out, err := run(t, fx, "inspect", "-t", fx.template, "--rows", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"Purchase or Expense  "`)
	assert.Contains(t, out, "leading or trailing spaces")
	assert.Contains(t, out, "A22:C22")

	out, err = run(t, fx, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "expenses.xlsx")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, newFixture(t), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    "+Version)
}

func TestCSVSettings(t *testing.T) {
	tests := []struct {
		in   string
		want rune
		err  bool
	}{
		{",", ',', false},
		{"", ',', false},
		{";", ';', false},
		{`\t`, '\t', false},
		{"tab", '\t', false},
		{"\t", '\t', false},
		{"||", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := csvSettings(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Delimiter)
		})
	}
}
