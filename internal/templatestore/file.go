package templatestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/xlsx-template-export/pkg/utils"
)

// =============================================================================
// FILE BLOBS
// =============================================================================

// FileBlobs stores blobs as files under Root.
type FileBlobs struct {
	Root string
}

// NewFileBlobs returns a blob store rooted at dir.
func NewFileBlobs(dir string) *FileBlobs {
	return &FileBlobs{Root: dir}
}

func (b *FileBlobs) path(key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(b.Root, filepath.FromSlash(key)), nil
}

// Put writes data atomically under key.
func (b *FileBlobs) Put(_ context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// Get reads the blob under key.
func (b *FileBlobs) Get(_ context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	return data, err
}

// Delete removes the blob under key. A missing blob is not an error.
func (b *FileBlobs) Delete(_ context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// =============================================================================
// FILE METADATA
// =============================================================================

// FileMetadata stores one YAML document per template or export under Root.
//
// Layout:
//
//	<root>/templates/<id>.yaml
//	<root>/exports/<id>.yaml
type FileMetadata struct {
	Root string

	mu sync.RWMutex
}

// NewFileMetadata returns a metadata store rooted at dir.
func NewFileMetadata(dir string) *FileMetadata {
	return &FileMetadata{Root: dir}
}

func (m *FileMetadata) templatePath(id string) string {
	return filepath.Join(m.Root, "templates", id+".yaml")
}

func (m *FileMetadata) exportPath(id string) string {
	return filepath.Join(m.Root, "exports", id+".yaml")
}

// PutTemplate writes the template description.
func (m *FileMetadata) PutTemplate(_ context.Context, t Template) error {
	if !validID(t.ID) {
		return fmt.Errorf("invalid template id %q", t.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return writeYAML(m.templatePath(t.ID), t)
}

// GetTemplate reads a template description.
func (m *FileMetadata) GetTemplate(_ context.Context, id string) (Template, error) {
	var t Template
	if !validID(id) {
		return t, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := readYAML(m.templatePath(id), &t); err != nil {
		return Template{}, fmt.Errorf("template %s: %w", id, err)
	}
	return t, nil
}

// ListTemplates scans the templates directory for one owner's templates.
func (m *FileMetadata) ListTemplates(_ context.Context, ownerID string) ([]Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(m.Root, "templates"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var out []Template
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		var t Template
		if err := readYAML(filepath.Join(m.Root, "templates", e.Name()), &t); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PutExport writes the export description.
func (m *FileMetadata) PutExport(_ context.Context, e Export) error {
	if !validID(e.ID) {
		return fmt.Errorf("invalid export id %q", e.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return writeYAML(m.exportPath(e.ID), e)
}

// GetExport reads an export description.
func (m *FileMetadata) GetExport(_ context.Context, id string) (Export, error) {
	var e Export
	if !validID(id) {
		return e, fmt.Errorf("export %s: %w", id, ErrNotFound)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := readYAML(m.exportPath(id), &e); err != nil {
		return Export{}, fmt.Errorf("export %s: %w", id, err)
	}
	return e, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	return nil
}
