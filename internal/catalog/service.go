package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/topoclimb/topoclimb/internal/shared"
)

// Service wraps catalog business rules.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	regionRules *shared.RuleSet
	siteRules   *shared.RuleSet
	sectorRules *shared.RuleSet
	routeRules  *shared.RuleSet
	ascentRules *shared.RuleSet
}

// NewService constructs a Service and compiles its form rules. It registers
// the "grade" rule on v.
func NewService(store Store, v *shared.Validator, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v.Register("grade", 0, func(_, value string, _ []string, _ map[string]string) bool {
		_, err := ParseGrade(value)
		return err == nil
	}, func(field string, _ []string) string {
		return field + " must be a French grade such as 6a+"
	})

	s := &Service{store: store, logger: logger, now: time.Now}
	specs := []struct {
		dst  **shared.RuleSet
		spec map[string]string
	}{
		{&s.regionRules, map[string]string{
			"name":        "required|min:2|max:120",
			"country":     "required|between:2,56",
			"description": "max:2000",
		}},
		{&s.siteRules, map[string]string{
			"region_id":   "required|integer|min_value:1",
			"name":        "required|min:2|max:120",
			"description": "max:2000",
			"latitude":    "required|latitude",
			"longitude":   "required|longitude",
		}},
		{&s.sectorRules, map[string]string{
			"site_id":          "required|integer|min_value:1",
			"name":             "required|min:2|max:120",
			"orientation":      "in:N,NE,E,SE,S,SW,W,NW",
			"approach_minutes": "integer|min_value:0|max_value:600",
		}},
		{&s.routeRules, map[string]string{
			"sector_id": "required|integer|min_value:1",
			"name":      "required|min:1|max:120",
			"grade":     "required|grade",
			"height_m":  "integer|min_value:1|max_value:2000",
			"bolts":     "integer|min_value:0|max_value:200",
			"style":     "required|in:" + strings.Join(RouteStyles, ","),
		}},
		{&s.ascentRules, map[string]string{
			"route_id":   "required|integer|min_value:1",
			"style":      "required|in:" + strings.Join(AscentStyles, ","),
			"climbed_on": "required|date",
			"rating":     "integer|min_value:0|max_value:5",
			"notes":      "max:1000",
		}},
	}
	for _, sp := range specs {
		rs, err := v.Compile(sp.spec)
		if err != nil {
			return nil, err
		}
		*sp.dst = rs
	}
	return s, nil
}

// FormData copies the named fields of a submitted form, trimmed.
func FormData(values url.Values, fields ...string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f] = strings.TrimSpace(values.Get(f))
	}
	return out
}

func parseID(raw string) int64 {
	id, _ := strconv.ParseInt(raw, 10, 64)
	return id
}

func parseInt(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func parseFloat(raw string) float64 {
	f, _ := strconv.ParseFloat(raw, 64)
	return f
}

// listPage runs a filtered listing. Without in-memory predicates the count
// and the page slice come from the store; otherwise the whole match set is
// loaded, narrowed and paginated in memory.
func listPage[T any](
	ctx context.Context,
	f shared.ResultFilter[T],
	inMemory bool,
	count func(context.Context, shared.Conditions) (int, error),
	list func(context.Context, shared.Conditions, int, int) ([]T, error),
	page, perPage int,
	opts shared.PageOptions,
) (*shared.Paginator[T], error) {
	conds := f.Apply(nil)
	perPage = shared.NormalizePerPage(perPage)
	page = max(page, 1)
	if inMemory {
		all, err := list(ctx, conds, 0, 0)
		if err != nil {
			return nil, err
		}
		return shared.Paginate(f.FilterResults(all), page, perPage, opts), nil
	}
	total, err := count(ctx, conds)
	if err != nil {
		return nil, err
	}
	var items []T
	if offset := shared.Offset(page, perPage); offset < total {
		if items, err = list(ctx, conds, perPage, offset); err != nil {
			return nil, err
		}
	}
	return shared.NewPaginator(items, total, perPage, page, opts), nil
}

// Regions

func (s *Service) Regions(ctx context.Context) ([]Region, error) {
	return s.store.ListRegions(ctx)
}

func (s *Service) Region(ctx context.Context, id int64) (Region, error) {
	return s.store.GetRegion(ctx, id)
}

func (s *Service) CreateRegion(ctx context.Context, data map[string]string) (Region, error) {
	if errs := s.regionRules.Validate(data); errs != nil {
		return Region{}, errs
	}
	return s.store.CreateRegion(ctx, regionFromForm(data))
}

func (s *Service) UpdateRegion(ctx context.Context, id int64, data map[string]string) (Region, error) {
	if errs := s.regionRules.Validate(data); errs != nil {
		return Region{}, errs
	}
	region := regionFromForm(data)
	region.ID = id
	return region, s.store.UpdateRegion(ctx, region)
}

func (s *Service) DeleteRegion(ctx context.Context, id int64) error {
	return s.store.DeleteRegion(ctx, id)
}

func regionFromForm(data map[string]string) Region {
	return Region{Name: data["name"], Country: data["country"], Description: data["description"]}
}

// Sites

// ListSites returns one page of sites. Sites are few per region, so the
// listing always runs in memory.
func (s *Service) ListSites(ctx context.Context, f SiteFilter, page, perPage int, opts shared.PageOptions) (*shared.Paginator[Site], error) {
	all, err := s.store.ListSites(ctx, f.Apply(nil))
	if err != nil {
		return nil, err
	}
	return shared.Paginate(f.FilterResults(all), page, perPage, opts), nil
}

func (s *Service) Site(ctx context.Context, id int64) (Site, error) {
	return s.store.GetSite(ctx, id)
}

// SiteOverview loads a site with its sectors and their statistics.
func (s *Service) SiteOverview(ctx context.Context, id int64) (SiteOverview, error) {
	var out SiteOverview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		site, err := s.store.GetSite(gctx, id)
		out.Site = site
		return err
	})
	g.Go(func() error {
		sectors, err := s.store.ListSectors(gctx, shared.Conditions{}.With(colSiteID, shared.OpEq, id), 0, 0)
		out.Sectors = sectors
		return err
	})
	g.Go(func() error {
		stats, err := s.store.SectorStats(gctx, id)
		out.Stats = stats
		return err
	})
	if err := g.Wait(); err != nil {
		return SiteOverview{}, err
	}
	return out, nil
}

func (s *Service) CreateSite(ctx context.Context, data map[string]string) (Site, error) {
	if errs := s.siteRules.Validate(data); errs != nil {
		return Site{}, errs
	}
	return s.store.CreateSite(ctx, siteFromForm(data))
}

func (s *Service) UpdateSite(ctx context.Context, id int64, data map[string]string) (Site, error) {
	if errs := s.siteRules.Validate(data); errs != nil {
		return Site{}, errs
	}
	site := siteFromForm(data)
	site.ID = id
	return site, s.store.UpdateSite(ctx, site)
}

func (s *Service) DeleteSite(ctx context.Context, id int64) error {
	return s.store.DeleteSite(ctx, id)
}

func siteFromForm(data map[string]string) Site {
	return Site{
		RegionID:    parseID(data["region_id"]),
		Name:        data["name"],
		Description: data["description"],
		Latitude:    parseFloat(data["latitude"]),
		Longitude:   parseFloat(data["longitude"]),
	}
}

// Sectors

func (s *Service) ListSectors(ctx context.Context, f SectorFilter, page, perPage int, opts shared.PageOptions) (*shared.Paginator[Sector], error) {
	return listPage(ctx, f.ResultFilter, f.InMemory(), s.store.CountSectors, s.store.ListSectors, page, perPage, opts)
}

func (s *Service) Sector(ctx context.Context, id int64) (Sector, error) {
	return s.store.GetSector(ctx, id)
}

func (s *Service) CreateSector(ctx context.Context, data map[string]string) (Sector, error) {
	if errs := s.sectorRules.Validate(data); errs != nil {
		return Sector{}, errs
	}
	return s.store.CreateSector(ctx, sectorFromForm(data))
}

func (s *Service) UpdateSector(ctx context.Context, id int64, data map[string]string) (Sector, error) {
	if errs := s.sectorRules.Validate(data); errs != nil {
		return Sector{}, errs
	}
	sector := sectorFromForm(data)
	sector.ID = id
	return sector, s.store.UpdateSector(ctx, sector)
}

func (s *Service) DeleteSector(ctx context.Context, id int64) error {
	return s.store.DeleteSector(ctx, id)
}

func sectorFromForm(data map[string]string) Sector {
	return Sector{
		SiteID:          parseID(data["site_id"]),
		Name:            data["name"],
		Orientation:     data["orientation"],
		ApproachMinutes: parseInt(data["approach_minutes"]),
	}
}

// Routes

func (s *Service) ListRoutes(ctx context.Context, f RouteFilter, page, perPage int, opts shared.PageOptions) (*shared.Paginator[Route], error) {
	return listPage(ctx, f.ResultFilter, f.InMemory(), s.store.CountRoutes, s.store.ListRoutes, page, perPage, opts)
}

func (s *Service) Route(ctx context.Context, id int64) (Route, error) {
	return s.store.GetRoute(ctx, id)
}

func (s *Service) CreateRoute(ctx context.Context, data map[string]string) (Route, error) {
	if errs := s.routeRules.Validate(data); errs != nil {
		return Route{}, errs
	}
	return s.store.CreateRoute(ctx, routeFromForm(data))
}

func (s *Service) UpdateRoute(ctx context.Context, id int64, data map[string]string) (Route, error) {
	if errs := s.routeRules.Validate(data); errs != nil {
		return Route{}, errs
	}
	route := routeFromForm(data)
	route.ID = id
	return route, s.store.UpdateRoute(ctx, route)
}

func (s *Service) DeleteRoute(ctx context.Context, id int64) error {
	return s.store.DeleteRoute(ctx, id)
}

func routeFromForm(data map[string]string) Route {
	grade := strings.ToLower(data["grade"])
	value, _ := ParseGrade(grade)
	return Route{
		SectorID:   parseID(data["sector_id"]),
		Name:       data["name"],
		Grade:      grade,
		GradeValue: value,
		Height:     parseInt(data["height_m"]),
		Bolts:      parseInt(data["bolts"]),
		Style:      data["style"],
	}
}

// Ascents

// LogAscent records an ascent of an existing route by userID.
func (s *Service) LogAscent(ctx context.Context, userID int64, data map[string]string) (Ascent, error) {
	if errs := s.ascentRules.Validate(data); errs != nil {
		return Ascent{}, errs
	}
	climbedOn, _ := time.Parse(time.DateOnly, data["climbed_on"])
	if climbedOn.After(s.now()) {
		return Ascent{}, shared.ValidationErrors{"climbed_on": {"climbed_on cannot be in the future"}}
	}
	route, err := s.store.GetRoute(ctx, parseID(data["route_id"]))
	if err != nil {
		return Ascent{}, err
	}
	ascent, err := s.store.CreateAscent(ctx, Ascent{
		RouteID:   route.ID,
		UserID:    userID,
		Style:     data["style"],
		ClimbedOn: climbedOn,
		Rating:    parseInt(data["rating"]),
		Notes:     data["notes"],
	})
	if err != nil {
		return Ascent{}, err
	}
	ascent.RouteName, ascent.Grade = route.Name, route.Grade
	return ascent, nil
}

// UserAscents returns one page of the user's logbook, newest first.
func (s *Service) UserAscents(ctx context.Context, userID int64, page, perPage int, opts shared.PageOptions) (*shared.Paginator[Ascent], error) {
	perPage = shared.NormalizePerPage(perPage)
	page = max(page, 1)
	total, err := s.store.CountAscents(ctx, userID)
	if err != nil {
		return nil, err
	}
	var items []Ascent
	if offset := shared.Offset(page, perPage); offset < total {
		if items, err = s.store.ListAscents(ctx, userID, perPage, offset); err != nil {
			return nil, err
		}
	}
	return shared.NewPaginator(items, total, perPage, page, opts), nil
}

// RefreshStats recomputes the per-sector statistics.
func (s *Service) RefreshStats(ctx context.Context) (int64, error) {
	start := s.now()
	n, err := s.store.RefreshSectorStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: refresh stats: %w", err)
	}
	s.logger.Info("sector stats refreshed", slog.Int64("sectors", n), slog.Duration("took", s.now().Sub(start)))
	return n, nil
}
