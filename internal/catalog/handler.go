package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/internal/view"
)

// Handler serves the public catalog pages and the climber logbook.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	redirects *shared.RedirectGuard
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, redirects *shared.RedirectGuard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, redirects: redirects}
}

// MountRoutes registers the public pages. requireUser guards the logbook.
func (h *Handler) MountRoutes(r chi.Router, requireUser func(http.Handler) http.Handler) {
	r.Get("/", h.home)
	r.Get("/regions", h.listRegions)
	r.Get("/regions/{id}", h.showRegion)
	r.Get("/sites", h.listSites)
	r.Get("/sites/{id}", h.showSite)
	r.Get("/sectors", h.listSectors)
	r.Get("/sectors/{id}", h.showSector)
	r.Get("/routes", h.listRoutes)
	r.Get("/routes/{id}", h.showRoute)
	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/routes/{id}/ascents", h.logAscent)
		r.Get("/ascents", h.listAscents)
	})
}

func pageOptions(r *http.Request) shared.PageOptions {
	return shared.PageOptions{Path: r.URL.Path, Query: r.URL.Query()}
}

func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	return shared.ParsePage(q.Get("page")), shared.ParsePerPage(q.Get("per_page"))
}

func urlID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	regions, err := h.service.Regions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/home.html", "", map[string]any{"Regions": regions}, http.StatusOK)
}

func (h *Handler) listRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.service.Regions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/regions.html", "Regions", map[string]any{"Regions": regions}, http.StatusOK)
}

func (h *Handler) showRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	region, err := h.service.Region(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	query.Set("region_id", strconv.FormatInt(id, 10))
	page, perPage := pageParams(r)
	sites, err := h.service.ListSites(r.Context(), NewSiteFilter(query), page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/region.html", region.Name, map[string]any{"Region": region, "Sites": sites}, http.StatusOK)
}

func (h *Handler) listSites(w http.ResponseWriter, r *http.Request) {
	filter := NewSiteFilter(r.URL.Query())
	page, perPage := pageParams(r)
	sites, err := h.service.ListSites(r.Context(), filter, page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	regions, err := h.service.Regions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/sites.html", "Sites", map[string]any{
		"Sites":   sites,
		"Filter":  filter,
		"Regions": regions,
	}, http.StatusOK)
}

func (h *Handler) showSite(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	overview, err := h.service.SiteOverview(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats := make(map[int64]SectorStats, len(overview.Stats))
	for _, st := range overview.Stats {
		stats[st.SectorID] = st
	}
	h.render(w, r, "pages/site.html", overview.Site.Name, map[string]any{
		"Overview": overview,
		"Stats":    stats,
	}, http.StatusOK)
}

func (h *Handler) listSectors(w http.ResponseWriter, r *http.Request) {
	filter := NewSectorFilter(r.URL.Query())
	page, perPage := pageParams(r)
	sectors, err := h.service.ListSectors(r.Context(), filter, page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/sectors.html", "Sectors", map[string]any{"Sectors": sectors, "Filter": filter}, http.StatusOK)
}

func (h *Handler) showSector(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	sector, err := h.service.Sector(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	query.Set("sector_id", strconv.FormatInt(id, 10))
	filter := NewRouteFilter(query)
	page, perPage := pageParams(r)
	routes, err := h.service.ListRoutes(r.Context(), filter, page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/sector.html", sector.Name, map[string]any{
		"Sector": sector,
		"Routes": routes,
		"Filter": filter,
	}, http.StatusOK)
}

func (h *Handler) listRoutes(w http.ResponseWriter, r *http.Request) {
	filter := NewRouteFilter(r.URL.Query())
	page, perPage := pageParams(r)
	routes, err := h.service.ListRoutes(r.Context(), filter, page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/routes.html", "Routes", map[string]any{
		"Routes":   routes,
		"Filter":   filter,
		"Styles":   RouteStyles,
		"PerPages": shared.AllowedPerPage,
	}, http.StatusOK)
}

func (h *Handler) showRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	route, err := h.service.Route(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderRoute(w, r, route, map[string]string{}, nil, http.StatusOK)
}

func (h *Handler) renderRoute(w http.ResponseWriter, r *http.Request, route Route, form map[string]string, errs shared.ValidationErrors, status int) {
	h.render(w, r, "pages/route.html", route.Name, map[string]any{
		"Route":    route,
		"Form":     form,
		"Errors":   errs,
		"Styles":   AscentStyles,
		"ReturnTo": r.URL.Query().Get("return_to"),
	}, status)
}

func (h *Handler) logAscent(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	userID, _ := shared.CurrentUserID(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	data := FormData(r.PostForm, "style", "climbed_on", "rating", "notes")
	data["route_id"] = strconv.FormatInt(id, 10)

	if _, err := h.service.LogAscent(r.Context(), userID, data); err != nil {
		var errs shared.ValidationErrors
		if !errors.As(err, &errs) {
			h.fail(w, r, err)
			return
		}
		route, rerr := h.service.Route(r.Context(), id)
		if rerr != nil {
			h.fail(w, r, rerr)
			return
		}
		h.renderRoute(w, r, route, data, errs, http.StatusUnprocessableEntity)
		return
	}
	fallback := "/routes/" + strconv.FormatInt(id, 10)
	target := h.redirects.SafeRequest(r, r.PostFormValue("return_to"), fallback)
	h.redirectWithFlash(w, r, target, "success", "Ascent logged")
}

func (h *Handler) listAscents(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.CurrentUserID(r.Context())
	page, perPage := pageParams(r)
	ascents, err := h.service.UserAscents(r.Context(), userID, page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/ascents.html", "My ascents", map[string]any{"Ascents": ascents}, http.StatusOK)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		h.render(w, r, "pages/error.html", "Not found", map[string]any{
			"Status":  http.StatusNotFound,
			"Message": "The page you are looking for does not exist.",
		}, http.StatusNotFound)
		return
	}
	h.logger.Error("catalog request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	h.render(w, r, "pages/error.html", "Error", map[string]any{
		"Status":  http.StatusInternalServerError,
		"Message": "Something went wrong. Please try again later.",
	}, http.StatusInternalServerError)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	viewData := view.NewTemplateData(r, title, csrfToken, data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", "error", err, "template", template)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
