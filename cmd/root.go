// =============================================================================
// XLSX Template Export - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands are attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (exporter)
//   ├── populateCmd (exporter populate)
//   ├── validateCmd (exporter validate)
//   ├── inspectCmd  (exporter inspect)
//   ├── serveCmd    (exporter serve)
//   └── versionCmd  (exporter version)
//
// CONFIGURATION:
//   Commands that need it call loadApp, which:
//   1. Loads .env files into the environment
//   2. Loads config.yaml (optional unless --config is given)
//   3. Builds the zerolog logger
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
// This can be overridden using the --config flag.
var cfgFile string

// envFile is the .env file loaded before the configuration.
var envFile string

// verbose enables debug logging when set to true.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "exporter",
	Short: "XLSX Template Export - Fill spreadsheet templates with records",
	Long: `XLSX Template Export writes records into a user-supplied Excel template,
keeping every header, style, merged cell and formula the template already has.

A template config names the target sheet, the first data row, and which
column each record field goes to:

  sheet_name: "Purchase or Expense  "
  start_row: 2
  field_mapping:
    merchant_name: B
    total_amount: G
    receipt_date: C

Sheet names must match exactly, including trailing spaces and case. Use
'exporter inspect' to see the exact names stored in a template.

Example Usage:
  exporter inspect --template expenses.xlsx
  exporter validate --template expenses.xlsx --mapping expenses.yaml
  exporter populate --template expenses.xlsx --mapping expenses.yaml --records receipts.json
  exporter serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. This is called by main.main().
// Interrupts cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		".env",
		"Path to a .env file with EXPORTER_* overrides",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// =============================================================================
// APPLICATION SETUP
// =============================================================================

// app is what a command needs after setup.
type app struct {
	cfg    *config.MainConfig
	log    zerolog.Logger
	closer io.Closer
}

// loadApp loads the environment, the main configuration and the logger.
// The config file is optional unless --config was given explicitly.
func loadApp(cmd *cobra.Command) (*app, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}

	optional := !cmd.Flags().Changed("config")
	cfg, err := config.LoadMainConfig(cfgFile, optional)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	log, closer, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Verbose: verbose,
		File:    cfg.LogFile,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("config", cfgFile).Bool("config_optional", optional).Msg("configuration loaded")
	return &app{cfg: cfg, log: log, closer: closer}, nil
}

func (a *app) Close() error {
	return a.closer.Close()
}
