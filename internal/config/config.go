// =============================================================================
// XLSX Template Export - Configuration Module
// =============================================================================
//
// This module loads and manages the configuration files:
//
// CONFIGURATION FILES:
//   1. Main Config (config.yaml): directories, storage, limits, server, logging
//   2. Template Configs (*.yaml / *.json): sheet name, start row and field
//      mapping for one spreadsheet template
//   3. Environment (.env + EXPORTER_* variables): deployment overrides applied
//      on top of the main config
//
// Every configuration is validated on load.
//
// =============================================================================

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/xlsx-template-export/internal/types"
)

// Metadata backends for the template store.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
// This is loaded from the main config.yaml file.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// TemplatesDir is where the CLI looks for template workbooks given by
	// bare file name.
	// Default: "./templates"
	TemplatesDir string `yaml:"templates_dir"`

	// OutputDir is where populated workbooks are written by the CLI.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// =========================================================================
	// COMPONENT SETTINGS
	// =========================================================================

	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	Export  ExportConfig  `yaml:"export"`
	Server  ServerConfig  `yaml:"server"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFile is an optional path for JSON logs. Empty means console only.
	LogFile string `yaml:"log_file"`
}

// StorageConfig configures where templates and exports are persisted.
type StorageConfig struct {
	// RootDir holds template and export blobs.
	// Default: "./data"
	RootDir string `yaml:"root_dir"`

	// MetadataBackend is "file" (YAML sidecars under RootDir) or "postgres".
	// Default: "file"
	MetadataBackend string `yaml:"metadata_backend"`

	// PostgresDSN is required when MetadataBackend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LimitsConfig holds the per-export quota.
type LimitsConfig struct {
	// MaxRecords caps the records in one export.
	// Default: 1000
	MaxRecords int `yaml:"max_records"`

	// MaxTemplateBytes caps the size of an uploaded template.
	// Default: 5 MiB
	MaxTemplateBytes int64 `yaml:"max_template_bytes"`

	// MaxRequestBytes caps the body of one HTTP request.
	// Default: 16 MiB
	MaxRequestBytes int64 `yaml:"max_request_bytes"`
}

// ExportConfig controls output naming and verification.
type ExportConfig struct {
	// NameFormat is the output file name pattern.
	// Placeholders: {name}, {date}, {timestamp}, {uuid}
	// Default: "{name}_{date}.xlsx"
	NameFormat string `yaml:"name_format"`

	// VerifyOutput re-opens every populated workbook before returning it.
	// Default: true
	VerifyOutput *bool `yaml:"verify_output"`
}

// Verify reports whether output verification is enabled.
func (c ExportConfig) Verify() bool {
	return c.VerifyOutput == nil || *c.VerifyOutput
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string `yaml:"addr"`
}

// DefaultMainConfig returns a configuration with every default applied.
func DefaultMainConfig() *MainConfig {
	cfg := &MainConfig{}
	applyMainConfigDefaults(cfg)
	return cfg
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main application configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the config.yaml file. A missing file is not
//     an error when optional is true; defaults are used instead.
//   - optional: Whether a missing file falls back to defaults.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read, parsed, or fails validation.
func LoadMainConfig(configPath string, optional bool) (*MainConfig, error) {
	var config MainConfig

	// Read the configuration file.
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Parse the YAML.
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Apply default values, then environment overrides.
	applyMainConfigDefaults(&config)
	if err := ApplyEnvOverrides(&config); err != nil {
		return nil, err
	}

	// Validate the configuration.
	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyMainConfigDefaults sets default values for unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.TemplatesDir == "" {
		config.TemplatesDir = "./templates"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.Storage.RootDir == "" {
		config.Storage.RootDir = "./data"
	}
	if config.Storage.MetadataBackend == "" {
		config.Storage.MetadataBackend = BackendFile
	}
	if config.Limits.MaxRecords == 0 {
		config.Limits.MaxRecords = 1000
	}
	if config.Limits.MaxTemplateBytes == 0 {
		config.Limits.MaxTemplateBytes = 5 << 20
	}
	if config.Limits.MaxRequestBytes == 0 {
		config.Limits.MaxRequestBytes = 16 << 20
	}
	if config.Export.NameFormat == "" {
		config.Export.NameFormat = "{name}_{date}.xlsx"
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}

// validateMainConfig checks values and creates the output directory.
func validateMainConfig(config *MainConfig) error {
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", config.LogLevel)
	}

	switch config.Storage.MetadataBackend {
	case BackendFile:
	case BackendPostgres:
		if config.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.metadata_backend must be %q or %q, got %q",
			BackendFile, BackendPostgres, config.Storage.MetadataBackend)
	}

	if config.Limits.MaxRecords < 0 {
		return fmt.Errorf("limits.max_records must not be negative")
	}
	if config.Limits.MaxTemplateBytes < 0 {
		return fmt.Errorf("limits.max_template_bytes must not be negative")
	}
	if config.Limits.MaxRequestBytes < 0 {
		return fmt.Errorf("limits.max_request_bytes must not be negative")
	}
	if !strings.HasSuffix(strings.ToLower(config.Export.NameFormat), ".xlsx") {
		return fmt.Errorf("export.name_format must end in .xlsx, got %q", config.Export.NameFormat)
	}

	// Create the output directory if it doesn't exist.
	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", config.OutputDir, err)
	}

	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Environment variables read by ApplyEnvOverrides.
const (
	EnvLogLevel    = "EXPORTER_LOG_LEVEL"
	EnvLogFile     = "EXPORTER_LOG_FILE"
	EnvServerAddr  = "EXPORTER_SERVER_ADDR"
	EnvStorageRoot = "EXPORTER_STORAGE_ROOT"
	EnvBackend     = "EXPORTER_METADATA_BACKEND"
	EnvPostgresDSN = "EXPORTER_POSTGRES_DSN"
	EnvMaxRecords  = "EXPORTER_MAX_RECORDS"
)

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Variables already set are kept. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnvOverrides copies EXPORTER_* variables over the configuration.
func ApplyEnvOverrides(config *MainConfig) error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		config.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		config.LogFile = v
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		config.Server.Addr = v
	}
	if v := os.Getenv(EnvStorageRoot); v != "" {
		config.Storage.RootDir = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		config.Storage.MetadataBackend = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		config.Storage.PostgresDSN = v
	}
	if v := os.Getenv(EnvMaxRecords); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRecords, err)
		}
		config.Limits.MaxRecords = n
	}
	return nil
}

// =============================================================================
// TEMPLATE CONFIGURATION
// =============================================================================

// LoadTemplateConfig reads a template config from a YAML or JSON file.
func LoadTemplateConfig(path string) (types.TemplateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.TemplateConfig{}, fmt.Errorf("failed to read template config: %w", err)
	}
	cfg, err := ParseTemplateConfig(data)
	if err != nil {
		return types.TemplateConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseTemplateConfig decodes a template config. JSON input is accepted
// since it is valid YAML. Unknown keys are rejected.
func ParseTemplateConfig(data []byte) (types.TemplateConfig, error) {
	var cfg types.TemplateConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("template config is empty")
		}
		return cfg, fmt.Errorf("failed to parse template config: %w", err)
	}
	return cfg, nil
}

// MarshalTemplateConfig encodes a template config as YAML.
func MarshalTemplateConfig(cfg types.TemplateConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
