// Package report renders printable topo sheets through a Gotenberg service.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/topoclimb/topoclimb/internal/catalog"
	"github.com/topoclimb/topoclimb/internal/platform/httpx"
	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/web"
)

// SiteLoader loads the data printed on a topo sheet.
type SiteLoader interface {
	SiteOverview(ctx context.Context, id int64) (catalog.SiteOverview, error)
}

// Renderer turns HTML into PDF bytes.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte, page PageSetup) ([]byte, error)
}

type sheetRow struct {
	catalog.Sector
	Stats catalog.SectorStats
}

type sheetData struct {
	Site        catalog.Site
	Rows        []sheetRow
	GeneratedAt time.Time
}

// Handler serves topo sheet downloads.
type Handler struct {
	sites    SiteLoader
	renderer Renderer
	logger   *slog.Logger
	sheet    *template.Template
	now      func() time.Time
}

// NewHandler parses the topo sheet template and builds the handler.
func NewHandler(sites SiteLoader, renderer Renderer, logger *slog.Logger) (*Handler, error) {
	sheet, err := template.New("topo_sheet.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time) string { return t.Format("02 Jan 2006") },
	}).ParseFS(web.Templates, "templates/reports/topo_sheet.html")
	if err != nil {
		return nil, fmt.Errorf("report: parse topo sheet: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sites: sites, renderer: renderer, logger: logger, sheet: sheet, now: time.Now}, nil
}

// MountRoutes registers the download under the public site routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sites/{id}/topo.pdf", h.siteTopo)
}

func (h *Handler) siteTopo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown site")
		return
	}
	overview, err := h.sites.SiteOverview(r.Context(), id)
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown site")
		return
	}
	if err != nil {
		h.logger.Error("load site for topo sheet", slog.Int64("site_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}

	html, err := h.renderSheet(overview)
	if err != nil {
		h.logger.Error("render topo sheet html", slog.Int64("site_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	pdf, err := h.renderer.RenderHTML(r.Context(), html, A4)
	if errors.Is(err, ErrNotConfigured) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "PDF export is not configured")
		return
	}
	if err != nil {
		h.logger.Error("render topo sheet pdf", slog.Int64("site_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "PDF rendering failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=topo-site-%d.pdf", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) renderSheet(overview catalog.SiteOverview) ([]byte, error) {
	stats := make(map[int64]catalog.SectorStats, len(overview.Stats))
	for _, st := range overview.Stats {
		stats[st.SectorID] = st
	}
	data := sheetData{Site: overview.Site, GeneratedAt: h.now()}
	for _, sector := range overview.Sectors {
		data.Rows = append(data.Rows, sheetRow{Sector: sector, Stats: stats[sector.ID]})
	}
	var buf bytes.Buffer
	if err := h.sheet.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
