// =============================================================================
// XLSX Template Export - Serve Command
// =============================================================================
//
// This file defines the 'serve' command, which runs the HTTP API.
//
// COMMAND USAGE:
//   exporter serve [--addr :8080]
//
// STORAGE:
//   Workbooks are stored under storage.root_dir/blobs. Metadata goes to
//   storage.root_dir/meta, or to PostgreSQL when storage.metadata_backend
//   is "postgres".
//
// =============================================================================

package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/export"
	"github.com/ginjaninja78/xlsx-template-export/internal/server"
	"github.com/ginjaninja78/xlsx-template-export/internal/templatestore"
)

var serveAddr string

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	meta, closeMeta, err := openMetadata(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	defer closeMeta()

	store := templatestore.New(meta, templatestore.NewFileBlobs(filepath.Join(a.cfg.Storage.RootDir, "blobs")))
	svc := export.NewService(export.OptionsFromConfig(a.cfg, a.log, store))
	srv := server.New(store, svc, a.cfg.Limits, a.log)

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

// openMetadata opens the configured metadata backend.
func openMetadata(ctx context.Context, cfg config.StorageConfig) (templatestore.MetadataStore, func(), error) {
	if cfg.MetadataBackend == config.BackendPostgres {
		pg, err := templatestore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	}
	return templatestore.NewFileMetadata(filepath.Join(cfg.RootDir, "meta")), func() {}, nil
}
