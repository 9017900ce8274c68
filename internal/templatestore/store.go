// Package templatestore persists uploaded templates and generated exports.
//
// Workbook bytes live in a BlobStore and their metadata in a MetadataStore.
// Blobs are always written before metadata, so a metadata row never points
// at a missing workbook.
package templatestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/xlsx-template-export/internal/types"
)

// ErrNotFound is returned when a template, export or blob does not exist.
var ErrNotFound = errors.New("not found")

// Template describes an uploaded template workbook.
type Template struct {
	ID        string               `yaml:"id" json:"id"`
	OwnerID   string               `yaml:"owner_id" json:"owner_id"`
	Name      string               `yaml:"name" json:"name"`
	Config    types.TemplateConfig `yaml:"config" json:"config"`
	Sheets    []string             `yaml:"sheets" json:"sheets"`
	Size      int64                `yaml:"size" json:"size"`
	CreatedAt time.Time            `yaml:"created_at" json:"created_at"`
}

// Export describes a populated workbook produced from a template.
type Export struct {
	ID         string    `yaml:"id" json:"id"`
	TemplateID string    `yaml:"template_id" json:"template_id"`
	OwnerID    string    `yaml:"owner_id" json:"owner_id"`
	FileName   string    `yaml:"file_name" json:"file_name"`
	Records    int       `yaml:"records" json:"records"`
	Warnings   int       `yaml:"warnings" json:"warnings"`
	Size       int64     `yaml:"size" json:"size"`
	CreatedAt  time.Time `yaml:"created_at" json:"created_at"`
}

// MetadataStore keeps template and export descriptions.
type MetadataStore interface {
	PutTemplate(ctx context.Context, t Template) error
	GetTemplate(ctx context.Context, id string) (Template, error)
	ListTemplates(ctx context.Context, ownerID string) ([]Template, error)
	PutExport(ctx context.Context, e Export) error
	GetExport(ctx context.Context, id string) (Export, error)
}

// BlobStore keeps workbook bytes under slash-separated keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Store combines a metadata store and a blob store.
type Store struct {
	Meta  MetadataStore
	Blobs BlobStore

	now func() time.Time
}

// New returns a Store over the given backends.
func New(meta MetadataStore, blobs BlobStore) *Store {
	return &Store{Meta: meta, Blobs: blobs, now: time.Now}
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC().Truncate(time.Microsecond)
	}
	return s.now().UTC().Truncate(time.Microsecond)
}

func templateKey(id string) string { return "templates/" + id + ".xlsx" }

func exportKey(id string) string { return "exports/" + id + ".xlsx" }

// SaveTemplate stores a template workbook. ID, Size and CreatedAt are
// assigned here; any values set by the caller are replaced.
func (s *Store) SaveTemplate(ctx context.Context, t Template, data []byte) (Template, error) {
	if t.OwnerID == "" {
		return Template{}, fmt.Errorf("template owner is required")
	}
	t.ID = uuid.NewString()
	t.Size = int64(len(data))
	t.CreatedAt = s.clock()

	if err := s.Blobs.Put(ctx, templateKey(t.ID), data); err != nil {
		return Template{}, fmt.Errorf("failed to store template %s: %w", t.ID, err)
	}
	if err := s.Meta.PutTemplate(ctx, t); err != nil {
		_ = s.Blobs.Delete(ctx, templateKey(t.ID))
		return Template{}, fmt.Errorf("failed to record template %s: %w", t.ID, err)
	}
	return t, nil
}

// GetTemplate returns a template and its workbook bytes.
func (s *Store) GetTemplate(ctx context.Context, id string) (Template, []byte, error) {
	t, err := s.Meta.GetTemplate(ctx, id)
	if err != nil {
		return Template{}, nil, err
	}
	data, err := s.Blobs.Get(ctx, templateKey(t.ID))
	if err != nil {
		return Template{}, nil, fmt.Errorf("failed to read template %s: %w", t.ID, err)
	}
	return t, data, nil
}

// ListTemplates returns the templates of one owner, oldest first.
func (s *Store) ListTemplates(ctx context.Context, ownerID string) ([]Template, error) {
	return s.Meta.ListTemplates(ctx, ownerID)
}

// SaveExport stores a populated workbook. ID, Size and CreatedAt are
// assigned here.
func (s *Store) SaveExport(ctx context.Context, e Export, data []byte) (Export, error) {
	e.ID = uuid.NewString()
	e.Size = int64(len(data))
	e.CreatedAt = s.clock()

	if err := s.Blobs.Put(ctx, exportKey(e.ID), data); err != nil {
		return Export{}, fmt.Errorf("failed to store export %s: %w", e.ID, err)
	}
	if err := s.Meta.PutExport(ctx, e); err != nil {
		_ = s.Blobs.Delete(ctx, exportKey(e.ID))
		return Export{}, fmt.Errorf("failed to record export %s: %w", e.ID, err)
	}
	return e, nil
}

// GetExport returns an export and its workbook bytes.
func (s *Store) GetExport(ctx context.Context, id string) (Export, []byte, error) {
	e, err := s.Meta.GetExport(ctx, id)
	if err != nil {
		return Export{}, nil, err
	}
	data, err := s.Blobs.Get(ctx, exportKey(e.ID))
	if err != nil {
		return Export{}, nil, fmt.Errorf("failed to read export %s: %w", e.ID, err)
	}
	return e, data, nil
}

// validID reports whether id is a canonical lowercase UUID.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}
