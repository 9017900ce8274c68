package templatestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
)

// schema is applied by Migrate.
const schema = `
CREATE TABLE IF NOT EXISTS export_templates (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	config     TEXT NOT NULL,
	sheets     TEXT[] NOT NULL DEFAULT '{}',
	size       BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS export_templates_owner_idx ON export_templates (owner_id, created_at);
CREATE TABLE IF NOT EXISTS export_files (
	id          TEXT PRIMARY KEY,
	template_id TEXT NOT NULL REFERENCES export_templates (id),
	owner_id    TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	records     INTEGER NOT NULL,
	warnings    INTEGER NOT NULL,
	size        BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
`

// PostgresMetadata stores metadata in PostgreSQL through lib/pq.
// Template configs are kept as YAML text.
type PostgresMetadata struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, verifies the connection and applies the
// schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresMetadata, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	m := NewPostgresMetadata(db)
	if err := m.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewPostgresMetadata wraps an open database handle.
func NewPostgresMetadata(db *sql.DB) *PostgresMetadata {
	return &PostgresMetadata{db: db}
}

// Migrate creates the metadata tables if they do not exist.
func (m *PostgresMetadata) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (m *PostgresMetadata) Close() error {
	return m.db.Close()
}

// PutTemplate inserts or replaces a template row.
func (m *PostgresMetadata) PutTemplate(ctx context.Context, t Template) error {
	cfg, err := config.MarshalTemplateConfig(t.Config)
	if err != nil {
		return fmt.Errorf("failed to encode template config: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO export_templates (id, owner_id, name, config, sheets, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			config = EXCLUDED.config,
			sheets = EXCLUDED.sheets,
			size = EXCLUDED.size`,
		t.ID, t.OwnerID, t.Name, string(cfg), pq.Array(t.Sheets), t.Size, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", describePQ(err))
	}
	return nil
}

// GetTemplate loads one template row.
func (m *PostgresMetadata) GetTemplate(ctx context.Context, id string) (Template, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, config, sheets, size, created_at
		FROM export_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTemplates returns one owner's templates, oldest first.
func (m *PostgresMetadata) ListTemplates(ctx context.Context, ownerID string) ([]Template, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, owner_id, name, config, sheets, size, created_at
		FROM export_templates WHERE owner_id = $1
		ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", describePQ(err))
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (Template, error) {
	var (
		t   Template
		cfg string
	)
	if err := s.Scan(&t.ID, &t.OwnerID, &t.Name, &cfg, pq.Array(&t.Sheets), &t.Size, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, err
		}
		return Template{}, fmt.Errorf("failed to read template row: %w", err)
	}
	parsed, err := config.ParseTemplateConfig([]byte(cfg))
	if err != nil {
		return Template{}, fmt.Errorf("template %s: %w", t.ID, err)
	}
	t.Config = parsed
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// PutExport inserts an export row.
func (m *PostgresMetadata) PutExport(ctx context.Context, e Export) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO export_files (id, template_id, owner_id, file_name, records, warnings, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TemplateID, e.OwnerID, e.FileName, e.Records, e.Warnings, e.Size, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert export: %w", describePQ(err))
	}
	return nil
}

// GetExport loads one export row.
func (m *PostgresMetadata) GetExport(ctx context.Context, id string) (Export, error) {
	var e Export
	err := m.db.QueryRowContext(ctx, `
		SELECT id, template_id, owner_id, file_name, records, warnings, size, created_at
		FROM export_files WHERE id = $1`, id).
		Scan(&e.ID, &e.TemplateID, &e.OwnerID, &e.FileName, &e.Records, &e.Warnings, &e.Size, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Export{}, fmt.Errorf("export %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Export{}, fmt.Errorf("failed to read export row: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// describePQ adds the constraint name to postgres constraint violations.
func describePQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Constraint != "" {
		return fmt.Errorf("%w (constraint %s)", err, pqErr.Constraint)
	}
	return err
}
