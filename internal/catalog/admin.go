package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/internal/view"
)

// adminField describes one input of the generic admin form.
type adminField struct {
	Name    string
	Label   string
	Type    string // text, number, textarea, select
	Options []string
}

// adminRow is one line of the generic admin table.
type adminRow struct {
	ID    int64
	Cells []string
}

type adminEntity struct {
	Key      string
	Singular string
	Plural   string
	Columns  []string
	Fields   []adminField

	rows   func(ctx context.Context, query url.Values, opts shared.PageOptions) (*shared.Paginator[adminRow], error)
	load   func(ctx context.Context, id int64) (map[string]string, error)
	create func(ctx context.Context, data map[string]string) error
	update func(ctx context.Context, id int64, data map[string]string) error
	remove func(ctx context.Context, id int64) error
}

func (e *adminEntity) fieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// mapPage converts a page of items into admin rows, keeping its metadata.
func mapPage[T any](p *shared.Paginator[T], opts shared.PageOptions, fn func(T) adminRow) *shared.Paginator[adminRow] {
	rows := make([]adminRow, 0, len(p.Items))
	for _, item := range p.Items {
		rows = append(rows, fn(item))
	}
	return shared.NewPaginator(rows, p.Total, p.PerPage, p.CurrentPage, opts)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func adminEntities(s *Service) []*adminEntity {
	pageOf := func(query url.Values) (int, int) {
		return shared.ParsePage(query.Get("page")), shared.ParsePerPage(query.Get("per_page"))
	}

	regions := &adminEntity{
		Key: "regions", Singular: "Region", Plural: "Regions",
		Columns: []string{"Name", "Country"},
		Fields: []adminField{
			{Name: "name", Label: "Name", Type: "text"},
			{Name: "country", Label: "Country", Type: "text"},
			{Name: "description", Label: "Description", Type: "textarea"},
		},
		rows: func(ctx context.Context, query url.Values, opts shared.PageOptions) (*shared.Paginator[adminRow], error) {
			all, err := s.Regions(ctx)
			if err != nil {
				return nil, err
			}
			page, perPage := pageOf(query)
			return mapPage(shared.Paginate(all, page, perPage, opts), opts, func(r Region) adminRow {
				return adminRow{ID: r.ID, Cells: []string{r.Name, r.Country}}
			}), nil
		},
		load: func(ctx context.Context, id int64) (map[string]string, error) {
			r, err := s.Region(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]string{"name": r.Name, "country": r.Country, "description": r.Description}, nil
		},
		create: func(ctx context.Context, data map[string]string) error {
			_, err := s.CreateRegion(ctx, data)
			return err
		},
		update: func(ctx context.Context, id int64, data map[string]string) error {
			_, err := s.UpdateRegion(ctx, id, data)
			return err
		},
		remove: s.DeleteRegion,
	}

	sites := &adminEntity{
		Key: "sites", Singular: "Site", Plural: "Sites",
		Columns: []string{"Name", "Region", "Coordinates"},
		Fields: []adminField{
			{Name: "region_id", Label: "Region ID", Type: "number"},
			{Name: "name", Label: "Name", Type: "text"},
			{Name: "latitude", Label: "Latitude", Type: "text"},
			{Name: "longitude", Label: "Longitude", Type: "text"},
			{Name: "description", Label: "Description", Type: "textarea"},
		},
		rows: func(ctx context.Context, query url.Values, opts shared.PageOptions) (*shared.Paginator[adminRow], error) {
			page, perPage := pageOf(query)
			p, err := s.ListSites(ctx, NewSiteFilter(query), page, perPage, opts)
			if err != nil {
				return nil, err
			}
			return mapPage(p, opts, func(st Site) adminRow {
				return adminRow{ID: st.ID, Cells: []string{st.Name, st.RegionName, ftoa(st.Latitude) + ", " + ftoa(st.Longitude)}}
			}), nil
		},
		load: func(ctx context.Context, id int64) (map[string]string, error) {
			st, err := s.Site(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]string{
				"region_id": itoa(st.RegionID), "name": st.Name, "description": st.Description,
				"latitude": ftoa(st.Latitude), "longitude": ftoa(st.Longitude),
			}, nil
		},
		create: func(ctx context.Context, data map[string]string) error {
			_, err := s.CreateSite(ctx, data)
			return err
		},
		update: func(ctx context.Context, id int64, data map[string]string) error {
			_, err := s.UpdateSite(ctx, id, data)
			return err
		},
		remove: s.DeleteSite,
	}

	sectors := &adminEntity{
		Key: "sectors", Singular: "Sector", Plural: "Sectors",
		Columns: []string{"Name", "Site", "Orientation"},
		Fields: []adminField{
			{Name: "site_id", Label: "Site ID", Type: "number"},
			{Name: "name", Label: "Name", Type: "text"},
			{Name: "orientation", Label: "Orientation", Type: "select", Options: []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}},
			{Name: "approach_minutes", Label: "Approach (min)", Type: "number"},
		},
		rows: func(ctx context.Context, query url.Values, opts shared.PageOptions) (*shared.Paginator[adminRow], error) {
			page, perPage := pageOf(query)
			p, err := s.ListSectors(ctx, NewSectorFilter(query), page, perPage, opts)
			if err != nil {
				return nil, err
			}
			return mapPage(p, opts, func(sc Sector) adminRow {
				return adminRow{ID: sc.ID, Cells: []string{sc.Name, sc.SiteName, sc.Orientation}}
			}), nil
		},
		load: func(ctx context.Context, id int64) (map[string]string, error) {
			sc, err := s.Sector(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]string{
				"site_id": itoa(sc.SiteID), "name": sc.Name, "orientation": sc.Orientation,
				"approach_minutes": strconv.Itoa(sc.ApproachMinutes),
			}, nil
		},
		create: func(ctx context.Context, data map[string]string) error {
			_, err := s.CreateSector(ctx, data)
			return err
		},
		update: func(ctx context.Context, id int64, data map[string]string) error {
			_, err := s.UpdateSector(ctx, id, data)
			return err
		},
		remove: s.DeleteSector,
	}

	routes := &adminEntity{
		Key: "routes", Singular: "Route", Plural: "Routes",
		Columns: []string{"Name", "Sector", "Grade", "Style"},
		Fields: []adminField{
			{Name: "sector_id", Label: "Sector ID", Type: "number"},
			{Name: "name", Label: "Name", Type: "text"},
			{Name: "grade", Label: "Grade", Type: "text"},
			{Name: "style", Label: "Style", Type: "select", Options: RouteStyles},
			{Name: "height_m", Label: "Height (m)", Type: "number"},
			{Name: "bolts", Label: "Bolts", Type: "number"},
		},
		rows: func(ctx context.Context, query url.Values, opts shared.PageOptions) (*shared.Paginator[adminRow], error) {
			page, perPage := pageOf(query)
			p, err := s.ListRoutes(ctx, NewRouteFilter(query), page, perPage, opts)
			if err != nil {
				return nil, err
			}
			return mapPage(p, opts, func(rt Route) adminRow {
				return adminRow{ID: rt.ID, Cells: []string{rt.Name, rt.SectorName, rt.Grade, rt.Style}}
			}), nil
		},
		load: func(ctx context.Context, id int64) (map[string]string, error) {
			rt, err := s.Route(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]string{
				"sector_id": itoa(rt.SectorID), "name": rt.Name, "grade": rt.Grade, "style": rt.Style,
				"height_m": strconv.Itoa(rt.Height), "bolts": strconv.Itoa(rt.Bolts),
			}, nil
		},
		create: func(ctx context.Context, data map[string]string) error {
			_, err := s.CreateRoute(ctx, data)
			return err
		},
		update: func(ctx context.Context, id int64, data map[string]string) error {
			_, err := s.UpdateRoute(ctx, id, data)
			return err
		},
		remove: s.DeleteRoute,
	}

	return []*adminEntity{regions, sites, sectors, routes}
}

// AdminHandler serves the catalog back office. Callers mount it behind an
// admin role check.
type AdminHandler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	entities  []*adminEntity
	byKey     map[string]*adminEntity
	stats     func(ctx context.Context, reason string) error
}

// SetStatsTrigger registers fn to run after sectors or routes change.
func (h *AdminHandler) SetStatsTrigger(fn func(ctx context.Context, reason string) error) {
	h.stats = fn
}

func (h *AdminHandler) changed(r *http.Request, e *adminEntity, action string) {
	if h.stats == nil || (e.Key != "sectors" && e.Key != "routes") {
		return
	}
	if err := h.stats(r.Context(), "admin:"+e.Key+":"+action); err != nil {
		h.logger.Warn("request stats refresh", "error", err, "entity", e.Key)
	}
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &AdminHandler{logger: logger, templates: templates, csrf: csrf, byKey: map[string]*adminEntity{}}
	h.entities = adminEntities(service)
	for _, e := range h.entities {
		h.byKey[e.Key] = e
	}
	return h
}

// MountRoutes registers the admin routes relative to r.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.index)
	r.Get("/{entity}", h.list)
	r.Get("/{entity}/new", h.newForm)
	r.Post("/{entity}", h.create)
	r.Get("/{entity}/{id}/edit", h.editForm)
	r.Post("/{entity}/{id}", h.update)
	r.Post("/{entity}/{id}/delete", h.delete)
}

func (h *AdminHandler) entity(w http.ResponseWriter, r *http.Request) (*adminEntity, bool) {
	e, ok := h.byKey[chi.URLParam(r, "entity")]
	if !ok {
		http.NotFound(w, r)
	}
	return e, ok
}

func (h *AdminHandler) index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/admin_index.html", "Administration", map[string]any{"Entities": h.entities}, http.StatusOK)
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	opts := shared.PageOptions{Path: r.URL.Path, Query: r.URL.Query()}
	rows, err := e.rows(r.Context(), r.URL.Query(), opts)
	if err != nil {
		h.logger.Error("admin list failed", "error", err, "entity", e.Key)
		http.Error(w, "Failed to load "+e.Plural, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/admin_list.html", e.Plural, map[string]any{"Entity": e, "Rows": rows}, http.StatusOK)
}

func (h *AdminHandler) newForm(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	h.renderForm(w, r, e, 0, map[string]string{}, nil, http.StatusOK)
}

func (h *AdminHandler) editForm(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	values, err := e.load(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.Error(w, e.Singular+" not found", http.StatusNotFound)
			return
		}
		h.logger.Error("admin load failed", "error", err, "entity", e.Key, "id", id)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.renderForm(w, r, e, id, values, nil, http.StatusOK)
}

func (h *AdminHandler) create(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	data := FormData(r.PostForm, e.fieldNames()...)
	if err := e.create(r.Context(), data); err != nil {
		h.formError(w, r, e, 0, data, err)
		return
	}
	h.changed(r, e, "create")
	h.redirectWithFlash(w, r, "/admin/"+e.Key, "success", e.Singular+" created successfully")
}

func (h *AdminHandler) update(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	data := FormData(r.PostForm, e.fieldNames()...)
	if err := e.update(r.Context(), id, data); err != nil {
		h.formError(w, r, e, id, data, err)
		return
	}
	h.changed(r, e, "update")
	h.redirectWithFlash(w, r, "/admin/"+e.Key, "success", e.Singular+" updated successfully")
}

func (h *AdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	err := e.remove(r.Context(), id)
	switch {
	case err == nil:
		h.changed(r, e, "delete")
		h.redirectWithFlash(w, r, "/admin/"+e.Key, "success", e.Singular+" deleted successfully")
	case errors.Is(err, shared.ErrInUse):
		h.redirectWithFlash(w, r, "/admin/"+e.Key, "error", e.Singular+" is still referenced and cannot be deleted")
	case errors.Is(err, shared.ErrNotFound):
		h.redirectWithFlash(w, r, "/admin/"+e.Key, "error", e.Singular+" not found")
	default:
		h.logger.Error("admin delete failed", "error", err, "entity", e.Key, "id", id)
		h.redirectWithFlash(w, r, "/admin/"+e.Key, "error", "Delete failed")
	}
}

func (h *AdminHandler) formError(w http.ResponseWriter, r *http.Request, e *adminEntity, id int64, data map[string]string, err error) {
	var errs shared.ValidationErrors
	switch {
	case errors.As(err, &errs):
	case errors.Is(err, shared.ErrDuplicate):
		errs = shared.ValidationErrors{"name": {fmt.Sprintf("a %s with this name already exists", e.Singular)}}
	case errors.Is(err, shared.ErrNotFound):
		errs = shared.ValidationErrors{"general": {"the referenced parent does not exist"}}
	default:
		h.logger.Error("admin save failed", "error", err, "entity", e.Key, "id", id)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.renderForm(w, r, e, id, data, errs, http.StatusUnprocessableEntity)
}

func (h *AdminHandler) renderForm(w http.ResponseWriter, r *http.Request, e *adminEntity, id int64, values map[string]string, errs shared.ValidationErrors, status int) {
	action := "/admin/" + e.Key
	title := "New " + e.Singular
	if id > 0 {
		action += "/" + itoa(id)
		title = "Edit " + e.Singular
	}
	h.render(w, r, "pages/admin_form.html", title, map[string]any{
		"Entity": e,
		"ID":     id,
		"Action": action,
		"Values": values,
		"Errors": errs,
	}, status)
}

func (h *AdminHandler) render(w http.ResponseWriter, r *http.Request, template, title string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	viewData := view.NewTemplateData(r, title, csrfToken, data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", "error", err, "template", template)
	}
}

func (h *AdminHandler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
