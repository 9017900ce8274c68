// Package server exposes template upload and export over HTTP.
//
// Routes:
//
//	GET  /healthz
//	POST /api/v1/templates               multipart: file, config, name
//	GET  /api/v1/templates
//	GET  /api/v1/templates/:id
//	POST /api/v1/templates/:id/exports   JSON: {"name": ..., "records": [...]}
//	GET  /api/v1/exports/:id
//
// Every /api/v1 request must carry an X-Owner-ID header. Templates and
// exports belonging to another owner are reported as not found.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ginjaninja78/xlsx-template-export/internal/config"
	"github.com/ginjaninja78/xlsx-template-export/internal/export"
	"github.com/ginjaninja78/xlsx-template-export/internal/templatestore"
	"github.com/ginjaninja78/xlsx-template-export/internal/types"
)

// Headers used by the API.
const (
	HeaderOwnerID        = "X-Owner-ID"
	HeaderExportID       = "X-Export-ID"
	HeaderExportWarnings = "X-Export-Warnings"
)

const ownerKey = "owner_id"

// Server is the HTTP API.
type Server struct {
	echo    *echo.Echo
	store   *templatestore.Store
	exports *export.Service
	limits  config.LimitsConfig
	log     zerolog.Logger
}

// New builds the server and registers its routes.
func New(store *templatestore.Store, exports *export.Service, limits config.LimitsConfig, log zerolog.Logger) *Server {
	s := &Server{
		echo:    echo.New(),
		store:   store,
		exports: exports,
		limits:  limits,
		log:     log,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.registerMiddlewares()
	s.registerRoutes()
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) registerMiddlewares() {
	s.echo.Use(middleware.Recover())
	if n := s.limits.MaxRequestBytes; n > 0 {
		s.echo.Use(middleware.BodyLimit(strconv.FormatInt(n, 10) + "B"))
	}
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.HealthHandler)

	api := s.echo.Group("/api/v1", requireOwner)
	api.POST("/templates", s.CreateTemplateHandler)
	api.GET("/templates", s.ListTemplatesHandler)
	api.GET("/templates/:id", s.GetTemplateHandler)
	api.POST("/templates/:id/exports", s.CreateExportHandler)
	api.GET("/exports/:id", s.DownloadExportHandler)
}

// requireOwner rejects requests without an owner header.
func requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := strings.TrimSpace(c.Request().Header.Get(HeaderOwnerID))
		if owner == "" {
			return responseError(c, http.StatusUnauthorized, "missing "+HeaderOwnerID+" header", nil)
		}
		c.Set(ownerKey, owner)
		return next(c)
	}
}

func ownerOf(c echo.Context) string {
	owner, _ := c.Get(ownerKey).(string)
	return owner
}

func (s *Server) fail(c echo.Context, err error) error {
	code, msg, data := errorStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	}
	return responseError(c, code, msg, data)
}

// =============================================================================
// HANDLERS
// =============================================================================

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateTemplateHandler handles POST /api/v1/templates
func (s *Server) CreateTemplateHandler(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		return responseError(c, http.StatusBadRequest, "missing template file", nil)
	}
	data, err := s.readUpload(fh)
	if err != nil {
		return s.fail(c, err)
	}

	cfgText, err := formText(c, "config")
	if err != nil {
		return responseError(c, http.StatusBadRequest, err.Error(), nil)
	}
	cfg, err := config.ParseTemplateConfig([]byte(cfgText))
	if err != nil {
		return responseError(c, http.StatusBadRequest, err.Error(), nil)
	}

	sheets, err := s.exports.Check(data, cfg)
	if err != nil {
		return s.fail(c, err)
	}

	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	}

	t, err := s.store.SaveTemplate(ctx, templatestore.Template{
		OwnerID: ownerOf(c),
		Name:    name,
		Config:  cfg,
		Sheets:  sheets,
	}, data)
	if err != nil {
		return s.fail(c, err)
	}
	return responseSuccess(c, http.StatusCreated, "template saved", t)
}

// ListTemplatesHandler handles GET /api/v1/templates
func (s *Server) ListTemplatesHandler(c echo.Context) error {
	list, err := s.store.ListTemplates(c.Request().Context(), ownerOf(c))
	if err != nil {
		return s.fail(c, err)
	}
	if list == nil {
		list = []templatestore.Template{}
	}
	return responseSuccess(c, http.StatusOK, "", list)
}

// GetTemplateHandler handles GET /api/v1/templates/:id
func (s *Server) GetTemplateHandler(c echo.Context) error {
	t, err := s.store.Meta.GetTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if t.OwnerID != ownerOf(c) {
		return s.fail(c, templatestore.ErrNotFound)
	}
	return responseSuccess(c, http.StatusOK, "", t)
}

type exportBody struct {
	Name    string         `json:"name"`
	Records []types.Record `json:"records"`
}

// CreateExportHandler handles POST /api/v1/templates/:id/exports
func (s *Server) CreateExportHandler(c echo.Context) error {
	ctx := c.Request().Context()

	var body exportBody
	if err := c.Bind(&body); err != nil {
		return responseError(c, http.StatusBadRequest, "invalid request body", nil)
	}

	t, data, err := s.store.GetTemplate(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if t.OwnerID != ownerOf(c) {
		return s.fail(c, templatestore.ErrNotFound)
	}

	name := body.Name
	if name == "" {
		name = t.Name
	}
	res := s.exports.Run(ctx, export.Request{
		Name:       name,
		Template:   data,
		Config:     t.Config,
		Records:    body.Records,
		TemplateID: t.ID,
		OwnerID:    t.OwnerID,
	})
	if res.Error != nil {
		return s.fail(c, res.Error)
	}

	if res.Export != nil {
		c.Response().Header().Set(HeaderExportID, res.Export.ID)
	}
	c.Response().Header().Set(HeaderExportWarnings, strconv.Itoa(len(res.Stats.Warnings)))
	return sendWorkbook(c, res.FileName, res.Data)
}

// DownloadExportHandler handles GET /api/v1/exports/:id
func (s *Server) DownloadExportHandler(c echo.Context) error {
	e, data, err := s.store.GetExport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if e.OwnerID != ownerOf(c) {
		return s.fail(c, templatestore.ErrNotFound)
	}
	c.Response().Header().Set(HeaderExportID, e.ID)
	return sendWorkbook(c, e.FileName, data)
}

func sendWorkbook(c echo.Context, fileName string, data []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", fileName))
	return c.Blob(http.StatusOK, export.MIMEType, data)
}

// readUpload reads an uploaded template, enforcing the size limit.
func (s *Server) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	limit := s.limits.MaxTemplateBytes
	if limit > 0 && fh.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds the limit of %d", export.ErrTemplateTooLarge, fh.Size, limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formText returns a form value, or the contents of a form file of the same
// name.
func formText(c echo.Context, field string) (string, error) {
	if v := c.FormValue(field); v != "" {
		return v, nil
	}
	fh, err := c.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("missing %s", field)
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
