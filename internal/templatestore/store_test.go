package templatestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/xlsx-template-export/internal/types"
)

func sampleTemplate(owner string) Template {
	return Template{
		OwnerID: owner,
		Name:    "Expenses",
		Config: types.TemplateConfig{
			SheetName: "Purchase or Expense  ",
			StartRow:  2,
			FieldMapping: types.FieldMapping{
				{Field: "merchant_name", Column: "B"},
				{Field: "total_amount", Column: "G"},
			},
			AmountFormat: "#,##0.000",
		},
		Sheets: []string{"Sheet1", "Purchase or Expense  "},
	}
}

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s := New(NewFileMetadata(filepath.Join(root, "meta")), NewFileBlobs(filepath.Join(root, "blobs")))
	tick := time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s, root
}

func TestSaveAndGetTemplate(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	saved, err := s.SaveTemplate(ctx, sampleTemplate("owner-1"), []byte("workbook"))
	require.NoError(t, err)
	assert.True(t, validID(saved.ID))
	assert.Equal(t, int64(8), saved.Size)

	got, data, err := s.GetTemplate(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "workbook", string(data))
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("template mismatch (-saved +got):\n%s", diff)
	}
}

func TestSaveTemplateRequiresOwner(t *testing.T) {
	s, _ := newFileStore(t)
	_, err := s.SaveTemplate(context.Background(), sampleTemplate(""), []byte("x"))
	assert.Error(t, err)
}

func TestGetTemplateNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	for _, id := range []string{"6f1c2a8e-3b7d-4c0a-9e55-2f4d1b9a7c10", "../../etc/passwd", ""} {
		_, _, err := s.GetTemplate(ctx, id)
		assert.True(t, errors.Is(err, ErrNotFound), "id %q: %v", id, err)
	}
}

func TestListTemplatesByOwner(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	first, err := s.SaveTemplate(ctx, sampleTemplate("owner-1"), []byte("a"))
	require.NoError(t, err)
	_, err = s.SaveTemplate(ctx, sampleTemplate("owner-2"), []byte("b"))
	require.NoError(t, err)
	second, err := s.SaveTemplate(ctx, sampleTemplate("owner-1"), []byte("c"))
	require.NoError(t, err)

	list, err := s.ListTemplates(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	list, err = s.ListTemplates(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSaveAndGetExport(t *testing.T) {
	ctx := context.Background()
	s, root := newFileStore(t)

	tpl, err := s.SaveTemplate(ctx, sampleTemplate("owner-1"), []byte("tpl"))
	require.NoError(t, err)

	e, err := s.SaveExport(ctx, Export{
		TemplateID: tpl.ID,
		OwnerID:    "owner-1",
		FileName:   "Expenses_2025-10-15.xlsx",
		Records:    3,
		Warnings:   1,
	}, []byte("populated"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "blobs", "exports", e.ID+".xlsx"))

	got, data, err := s.GetExport(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "populated", string(data))
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("export mismatch (-saved +got):\n%s", diff)
	}

	_, _, err = s.GetExport(ctx, tpl.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingMeta struct {
	MetadataStore
}

func (failingMeta) PutTemplate(context.Context, Template) error {
	return errors.New("database unavailable")
}

func TestSaveTemplateRemovesBlobWhenMetadataFails(t *testing.T) {
	root := t.TempDir()
	s := New(failingMeta{}, NewFileBlobs(root))

	_, err := s.SaveTemplate(context.Background(), sampleTemplate("owner-1"), []byte("x"))
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "templates"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileBlobsRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	b := NewFileBlobs(t.TempDir())

	assert.Error(t, b.Put(ctx, "../outside.xlsx", []byte("x")))
	_, err := b.Get(ctx, "/etc/passwd")
	assert.Error(t, err)

	_, err = b.Get(ctx, "templates/missing.xlsx")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.Delete(ctx, "templates/missing.xlsx"))
}
