package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/export"
	"github.com/ginjaninja78/xlsx-template-export/internal/templatestore"
	"github.com/ginjaninja78/xlsx-template-export/internal/testutil"
)

const expenseConfig = `
sheet_name: "Purchase or Expense  "
start_row: 2
field_mapping:
  merchant_name: B
  total_amount: G
  receipt_date: C
`

func newTestServer(t *testing.T, limits config.LimitsConfig) *Server {
	t.Helper()
	root := t.TempDir()
	store := templatestore.New(
		templatestore.NewFileMetadata(filepath.Join(root, "meta")),
		templatestore.NewFileBlobs(filepath.Join(root, "blobs")),
	)
	svc := export.NewService(export.Options{
		Limits:     limits,
		NameFormat: "{name}_{date}.xlsx",
		Verify:     true,
		Logger:     zerolog.Nop(),
		Store:      store,
	})
	return New(store, svc, limits, zerolog.Nop())
}

func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{MaxRecords: 5, MaxTemplateBytes: 5 << 20}
}

func uploadRequest(t *testing.T, owner string, workbook []byte, cfg, name string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if workbook != nil {
		part, err := w.CreateFormFile("file", "expenses.xlsx")
		require.NoError(t, err)
		_, err = part.Write(workbook)
		require.NoError(t, err)
	}
	if cfg != "" {
		require.NoError(t, w.WriteField("config", cfg))
	}
	if name != "" {
		require.NoError(t, w.WriteField("name", name))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	if owner != "" {
		req.Header.Set(HeaderOwnerID, owner)
	}
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (Response, map[string]json.RawMessage) {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp, raw
}

func uploadTemplate(t *testing.T, s *Server, owner string) templatestore.Template {
	t.Helper()
	rec := serve(s, uploadRequest(t, owner, testutil.TemplateWorkbook(t), expenseConfig, "October"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data templatestore.Template `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func exportRequest(owner, templateID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates/"+templateID+"/exports", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderOwnerID, owner)
	return req
}

func TestRequestBodyLimit(t *testing.T) {
	limits := defaultLimits()
	limits.MaxRequestBytes = 64 << 10
	s := newTestServer(t, limits)
	tpl := uploadTemplate(t, s, "u1")

	small := `{"records": [{"id": "r1", "merchant_name": "Acme"}]}`
	rec := serve(s, exportRequest("u1", tpl.ID, small))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	big := `{"records": [{"id": "r1", "notes": "` + strings.Repeat("n", 100<<10) + `"}]}`
	rec = serve(s, exportRequest("u1", tpl.ID, big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, defaultLimits())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOwnerHeaderRequired(t *testing.T) {
	s := newTestServer(t, defaultLimits())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadAndExport(t *testing.T) {
	s := newTestServer(t, defaultLimits())
	tpl := uploadTemplate(t, s, "u1")

	assert.Equal(t, "October", tpl.Name)
	assert.Equal(t, []string{"Sheet1", testutil.ExpenseSheet}, tpl.Sheets)
	assert.Equal(t, testutil.ExpenseSheet, tpl.Config.SheetName)

	rec := serve(s, exportRequest("u1", tpl.ID,
		`{"name": "Q3 report", "records": [{"id": "r1", "merchant_name": "Acme", "total_amount": "103.46", "receipt_date": "2025-10-15"}]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, export.MIMEType, rec.Header().Get(echo.HeaderContentType))
	assert.Regexp(t, `attachment; filename="Q3_report_\d{4}-\d{2}-\d{2}\.xlsx"`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, "0", rec.Header().Get(HeaderExportWarnings))

	f := testutil.Open(t, rec.Body.Bytes())
	v, err := f.GetCellValue(testutil.ExpenseSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Acme", v)

	exportID := rec.Header().Get(HeaderExportID)
	require.NotEmpty(t, exportID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+exportID, nil)
	req.Header.Set(HeaderOwnerID, "u1")
	download := serve(s, req)
	require.Equal(t, http.StatusOK, download.Code)
	assert.Equal(t, rec.Body.Bytes(), download.Body.Bytes())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+exportID, nil)
	req.Header.Set(HeaderOwnerID, "u2")
	assert.Equal(t, http.StatusNotFound, serve(s, req).Code)
}

func TestTemplatesAreScopedToOwner(t *testing.T) {
	s := newTestServer(t, defaultLimits())
	tpl := uploadTemplate(t, s, "u1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates/"+tpl.ID, nil)
	req.Header.Set(HeaderOwnerID, "u1")
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	req.Header.Set(HeaderOwnerID, "u2")
	assert.Equal(t, http.StatusNotFound, serve(s, req).Code)

	rec := serve(s, exportRequest("u2", tpl.ID, `{"records": []}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set(HeaderOwnerID, "u2")
	rec = serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	_, raw := decode(t, rec)
	assert.JSONEq(t, `[]`, string(raw["data"]))
}

func TestUploadErrors(t *testing.T) {
	workbook := testutil.TemplateWorkbook(t)

	tests := []struct {
		name     string
		limits   config.LimitsConfig
		workbook []byte
		cfg      string
		want     int
	}{
		{"missing file", defaultLimits(), nil, expenseConfig, http.StatusBadRequest},
		{"missing config", defaultLimits(), workbook, "", http.StatusBadRequest},
		{"bad config", defaultLimits(), workbook, "sheet_name: [", http.StatusBadRequest},
		{"invalid config", defaultLimits(), workbook, "sheet_name: Sheet1\nstart_row: 0\nfield_mapping: {notes: A}\n", http.StatusBadRequest},
		{"not a workbook", defaultLimits(), []byte("hello"), expenseConfig, http.StatusUnprocessableEntity},
		{"wrong sheet", defaultLimits(), workbook, "sheet_name: Expenses\nstart_row: 2\nfield_mapping: {notes: A}\n", http.StatusUnprocessableEntity},
		{"too large", config.LimitsConfig{MaxTemplateBytes: 100}, workbook, expenseConfig, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.limits)
			rec := serve(s, uploadRequest(t, "u1", tt.workbook, tt.cfg, ""))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			resp, _ := decode(t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestUploadWrongSheetListsAvailable(t *testing.T) {
	s := newTestServer(t, defaultLimits())
	cfg := "sheet_name: \"Purchase or Expense\"\nstart_row: 2\nfield_mapping: {notes: A}\n"
	rec := serve(s, uploadRequest(t, "u1", testutil.TemplateWorkbook(t), cfg, ""))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Data sheetProblem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Sheet1", testutil.ExpenseSheet}, resp.Data.Available)
	assert.Equal(t, []string{testutil.ExpenseSheet}, resp.Data.Similar)
}

func TestExportErrors(t *testing.T) {
	s := newTestServer(t, defaultLimits())
	tpl := uploadTemplate(t, s, "u1")

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"bad json", tpl.ID, `{"records": [`, http.StatusBadRequest},
		{"missing id", tpl.ID, `{"records": [{"merchant_name": "Acme"}]}`, http.StatusBadRequest},
		{"too many records", tpl.ID, `{"records": [{"id":"1"},{"id":"2"},{"id":"3"},{"id":"4"},{"id":"5"},{"id":"6"}]}`, http.StatusRequestEntityTooLarge},
		{"unknown template", "6f1c2a8e-3b7d-4c0a-9e55-2f4d1b9a7c10", `{"records": []}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, exportRequest("u1", tt.id, tt.body))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
