// =============================================================================
// XLSX Template Export - Export Service
// =============================================================================
//
// This module runs one export request end to end. It wraps the population
// engine with the policy that callers need around it.
//
// EXPORT PIPELINE:
//   1. Enforce the record and template size limits
//   2. Validate the records (every record needs an id)
//   3. Populate the template
//   4. Name the output file
//   5. Persist the output (when a store and template id are given)
//
// CONCURRENCY:
//   A Service holds no per-request state and may be shared by goroutines.
//
// =============================================================================

package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/engine"
	"github.com/ginjaninja78/xlsx-template-export/internal/templatestore"
	"github.com/ginjaninja78/xlsx-template-export/internal/types"
	"github.com/ginjaninja78/xlsx-template-export/internal/validation"
	"github.com/ginjaninja78/xlsx-template-export/pkg/utils"
)

// Quota and record errors. Engine failures are returned as the engine's
// typed errors.
var (
	ErrTooManyRecords   = errors.New("too many records")
	ErrTemplateTooLarge = errors.New("template too large")
	ErrInvalidRecords   = errors.New("invalid records")
)

// MIMEType is the content type of populated workbooks.
const MIMEType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of one export.
type Result struct {
	// FileName is the generated output file name.
	// This is empty if the export failed.
	FileName string

	// Data is the populated workbook.
	Data []byte

	// Export is the persisted export, when the request asked for one.
	Export *templatestore.Export

	// Success indicates whether the export was successful.
	Success bool

	// Error contains the error if the export failed.
	Error error

	// Problems lists record validation problems that failed the export.
	Problems []*validation.ValidationError

	// Stats contains processing statistics.
	Stats Stats
}

// Stats contains statistics about one export.
type Stats struct {
	// Records is the number of records supplied.
	Records int

	// RowsWritten is the number of sheet rows written.
	RowsWritten int

	// CellsWritten is the number of cells assigned.
	CellsWritten int

	// Warnings lists non-fatal problems reported by the engine.
	Warnings []string

	// ProcessingTime is the time taken by the export.
	ProcessingTime time.Duration
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is one export.
type Request struct {
	// Name is the export name used for {name} in the file name format.
	Name string

	// Template is the XLSX template bytes.
	Template []byte

	// Config says where records go.
	Config types.TemplateConfig

	// Records are written one per row, in order.
	Records []types.Record

	// TemplateID and OwnerID identify a stored template. When both the
	// service has a store and TemplateID is set, the output is persisted.
	TemplateID string
	OwnerID    string
}

// =============================================================================
// SERVICE
// =============================================================================

// Options configures a Service.
type Options struct {
	Limits     config.LimitsConfig
	NameFormat string
	Verify     bool
	Logger     zerolog.Logger
	Store      *templatestore.Store
}

// OptionsFromConfig builds service options from the main configuration.
func OptionsFromConfig(cfg *config.MainConfig, log zerolog.Logger, store *templatestore.Store) Options {
	return Options{
		Limits:     cfg.Limits,
		NameFormat: cfg.Export.NameFormat,
		Verify:     cfg.Export.Verify(),
		Logger:     log,
		Store:      store,
	}
}

// Service runs exports.
type Service struct {
	engine     *engine.Engine
	store      *templatestore.Store
	limits     config.LimitsConfig
	nameFormat string
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	return &Service{
		engine:     engine.New(engine.WithLogger(opts.Logger), engine.WithVerify(opts.Verify)),
		store:      opts.Store,
		limits:     opts.Limits,
		nameFormat: opts.NameFormat,
		log:        opts.Logger,
		now:        time.Now,
	}
}

// Run executes the export pipeline.
//
// RETURNS:
//   - A Result. On failure Result.Error is one of ErrTooManyRecords,
//     ErrTemplateTooLarge or ErrInvalidRecords (wrapped), an engine error
//     (*engine.InvalidConfigError, *engine.TemplateLoadError,
//     *engine.SheetNotFoundError, *engine.SerializationError), a store
//     error, or the context's error.
func (s *Service) Run(ctx context.Context, req Request) (result Result) {
	start := s.now()
	result = Result{Stats: Stats{Records: len(req.Records)}}
	defer func() { result.Stats.ProcessingTime = s.now().Sub(start) }()

	log := s.log.With().Str("export", req.Name).Str("template_id", req.TemplateID).Logger()

	// =========================================================================
	// STEP 1: LIMITS
	// =========================================================================

	if limit := s.limits.MaxRecords; limit > 0 && len(req.Records) > limit {
		result.Error = fmt.Errorf("%w: %d records exceeds the limit of %d", ErrTooManyRecords, len(req.Records), limit)
		return result
	}
	if limit := s.limits.MaxTemplateBytes; limit > 0 && int64(len(req.Template)) > limit {
		result.Error = fmt.Errorf("%w: %d bytes exceeds the limit of %d", ErrTemplateTooLarge, len(req.Template), limit)
		return result
	}

	// =========================================================================
	// STEP 2: VALIDATE RECORDS
	// =========================================================================
	// Date warnings are left to the engine, which reports the cells it
	// leaves empty.

	errs, _ := validation.Split(validation.ValidateRecords(req.Records, req.Config.FieldMapping))
	if len(errs) > 0 {
		result.Problems = errs
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, fmt.Sprintf("record %d: %s", e.RecordIndex, e.Message))
		}
		result.Error = fmt.Errorf("%w: %s", ErrInvalidRecords, strings.Join(msgs, "; "))
		return result
	}

	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	// =========================================================================
	// STEP 3: POPULATE
	// =========================================================================

	data, report, err := s.engine.PopulateWithReport(req.Template, req.Config, req.Records)
	if err != nil {
		log.Warn().Err(err).Msg("export failed")
		result.Error = err
		return result
	}
	result.Stats.RowsWritten = report.RowsWritten
	result.Stats.CellsWritten = report.CellsWritten
	result.Stats.Warnings = report.Warnings

	// =========================================================================
	// STEP 4: NAME
	// =========================================================================

	name := req.Name
	if name == "" {
		name = utils.DefaultExportName
	}
	fileName := utils.GenerateOutputFileNameAt(s.nameFormat, map[string]string{"name": name}, s.now())

	// =========================================================================
	// STEP 5: PERSIST
	// =========================================================================

	if s.store != nil && req.TemplateID != "" {
		saved, err := s.store.SaveExport(ctx, templatestore.Export{
			TemplateID: req.TemplateID,
			OwnerID:    req.OwnerID,
			FileName:   fileName,
			Records:    len(req.Records),
			Warnings:   len(report.Warnings),
		}, data)
		if err != nil {
			result.Error = err
			return result
		}
		result.Export = &saved
	}

	result.FileName = fileName
	result.Data = data
	result.Success = true

	log.Info().
		Str("file", fileName).
		Int("records", len(req.Records)).
		Int("cells", report.CellsWritten).
		Int("warnings", len(report.Warnings)).
		Msg("export complete")

	return result
}

// Check validates a template and config without writing anything. It
// returns the workbook's sheet names.
func (s *Service) Check(template []byte, cfg types.TemplateConfig) ([]string, error) {
	if limit := s.limits.MaxTemplateBytes; limit > 0 && int64(len(template)) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds the limit of %d", ErrTemplateTooLarge, len(template), limit)
	}
	return s.engine.Check(template, cfg)
}
