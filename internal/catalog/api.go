package catalog

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/topoclimb/topoclimb/internal/platform/httpx"
	"github.com/topoclimb/topoclimb/internal/shared"
)

// APIHandler exposes the catalog as JSON under /api/v1.
type APIHandler struct {
	logger  *slog.Logger
	service *Service
	csrf    *shared.CSRFManager
}

// NewAPIHandler constructs an APIHandler.
func NewAPIHandler(logger *slog.Logger, service *Service, csrf *shared.CSRFManager) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{logger: logger, service: service, csrf: csrf}
}

// MountRoutes registers the API routes relative to r.
func (h *APIHandler) MountRoutes(r chi.Router, requireUser func(http.Handler) http.Handler) {
	r.Get("/csrf-token", h.csrfToken)
	r.Get("/regions", h.regions)
	r.Get("/regions/{id}/sites", h.regionSites)
	r.Get("/sites/{id}", h.site)
	r.Get("/sites/{id}/sectors", h.siteSectors)
	r.Get("/sectors", h.sectors)
	r.Get("/routes", h.routes)
	r.Get("/routes/{id}", h.route)
	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/ascents", h.ascents)
		r.Post("/ascents", h.logAscent)
	})
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("api request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *APIHandler) csrfToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIHandler) regions(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.Regions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, perPage := pageParams(r)
	httpx.Page(w, shared.Paginate(all, page, perPage, pageOptions(r)))
}

// scoped copies the request query with key pinned to the URL id.
func scoped(r *http.Request, key string) (url.Values, bool) {
	id, ok := urlID(r)
	if !ok {
		return nil, false
	}
	query := r.URL.Query()
	query.Set(key, strconv.FormatInt(id, 10))
	return query, true
}

func (h *APIHandler) regionSites(w http.ResponseWriter, r *http.Request) {
	query, ok := scoped(r, "region_id")
	if !ok {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	id, _ := urlID(r)
	if _, err := h.service.Region(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	page, perPage := pageParams(r)
	p, err := h.service.ListSites(r.Context(), NewSiteFilter(query), page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Page(w, p)
}

func (h *APIHandler) site(w http.ResponseWriter, r *http.Request) {
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
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *APIHandler) siteSectors(w http.ResponseWriter, r *http.Request) {
	query, ok := scoped(r, "site_id")
	if !ok {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	page, perPage := pageParams(r)
	p, err := h.service.ListSectors(r.Context(), NewSectorFilter(query), page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Page(w, p)
}

func (h *APIHandler) sectors(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	p, err := h.service.ListSectors(r.Context(), NewSectorFilter(r.URL.Query()), page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Page(w, p)
}

func (h *APIHandler) routes(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	p, err := h.service.ListRoutes(r.Context(), NewRouteFilter(r.URL.Query()), page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Page(w, p)
}

func (h *APIHandler) route(w http.ResponseWriter, r *http.Request) {
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
	httpx.JSON(w, http.StatusOK, route)
}

func (h *APIHandler) ascents(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.CurrentUserID(r.Context())
	page, perPage := pageParams(r)
	p, err := h.service.UserAscents(r.Context(), userID, page, perPage, pageOptions(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Page(w, p)
}

type ascentRequest struct {
	RouteID   int64  `json:"route_id"`
	Style     string `json:"style"`
	ClimbedOn string `json:"climbed_on"`
	Rating    *int   `json:"rating,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (req ascentRequest) formData() map[string]string {
	data := map[string]string{
		"style":      req.Style,
		"climbed_on": req.ClimbedOn,
		"notes":      req.Notes,
		"route_id":   "",
		"rating":     "",
	}
	if req.RouteID != 0 {
		data["route_id"] = strconv.FormatInt(req.RouteID, 10)
	}
	if req.Rating != nil {
		data["rating"] = strconv.Itoa(*req.Rating)
	}
	return data
}

func (h *APIHandler) logAscent(w http.ResponseWriter, r *http.Request) {
	var req ascentRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	userID, _ := shared.CurrentUserID(r.Context())
	ascent, err := h.service.LogAscent(r.Context(), userID, req.formData())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ascent)
}
