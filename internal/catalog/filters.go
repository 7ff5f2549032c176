package catalog

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/topoclimb/topoclimb/internal/shared"
)

// Logical columns understood by the repository.
const (
	colRegionID   = "region_id"
	colSiteID     = "site_id"
	colSectorID   = "sector_id"
	colStyle      = "style"
	colGradeValue = "grade_value"
)

// searchKey is evaluated in memory only; see InMemory.
const searchKey = "search"

var (
	routeFilterSpec = shared.MustFilterSpec(shared.FilterSpec{
		"region_id": shared.Fold(idEquals(colRegionID)),
		"site_id":   shared.Fold(idEquals(colSiteID)),
		"sector_id": shared.Fold(idEquals(colSectorID)),
		"style":     shared.Direct(colStyle),
		"grade_min": shared.Fold(gradeBound(shared.OpGte)),
		"grade_max": shared.Fold(gradeBound(shared.OpLte)),
		searchKey:   shared.Fold(keep),
	})
	sectorFilterSpec = shared.MustFilterSpec(shared.FilterSpec{
		"region_id": shared.Fold(idEquals(colRegionID)),
		"site_id":   shared.Fold(idEquals(colSiteID)),
		searchKey:   shared.Fold(keep),
	})
	siteFilterSpec = shared.MustFilterSpec(shared.FilterSpec{
		"region_id": shared.Fold(idEquals(colRegionID)),
		searchKey:   shared.Fold(keep),
	})
)

// idEquals narrows on a numeric id column. Values that are not positive
// integers are ignored.
func idEquals(column string) shared.FoldFunc {
	return func(conds shared.Conditions, value string) shared.Conditions {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return conds
		}
		return conds.With(column, shared.OpEq, id)
	}
}

func gradeBound(op shared.Operator) shared.FoldFunc {
	return func(conds shared.Conditions, value string) shared.Conditions {
		g, err := ParseGrade(value)
		if err != nil {
			return conds
		}
		return conds.With(colGradeValue, op, g)
	}
}

func keep(conds shared.Conditions, _ string) shared.Conditions {
	return conds
}

// foldContains reports whether needle occurs in any haystack, ignoring case
// with full Unicode folding.
func foldContains(needle string, haystacks ...string) bool {
	n := cases.Fold().String(needle)
	for _, h := range haystacks {
		if strings.Contains(cases.Fold().String(h), n) {
			return true
		}
	}
	return false
}

// RouteFilter is the filter of route listings.
type RouteFilter struct {
	shared.ResultFilter[Route]
}

// NewRouteFilter sanitizes the route listing query.
func NewRouteFilter(query url.Values) RouteFilter {
	return RouteFilter{shared.NewResultFilter(shared.NewQueryFilter(routeFilterSpec, query), map[string]shared.Predicate[Route]{
		searchKey: func(r Route, v string) bool { return foldContains(v, r.Name, r.SectorName) },
	})}
}

// InMemory reports whether the listing needs a full load and in-memory pass.
func (f RouteFilter) InMemory() bool { return f.Has(searchKey) }

// SectorFilter is the filter of sector listings.
type SectorFilter struct {
	shared.ResultFilter[Sector]
}

// NewSectorFilter sanitizes the sector listing query.
func NewSectorFilter(query url.Values) SectorFilter {
	return SectorFilter{shared.NewResultFilter(shared.NewQueryFilter(sectorFilterSpec, query), map[string]shared.Predicate[Sector]{
		searchKey: func(s Sector, v string) bool { return foldContains(v, s.Name, s.SiteName) },
	})}
}

func (f SectorFilter) InMemory() bool { return f.Has(searchKey) }

// SiteFilter is the filter of site listings.
type SiteFilter struct {
	shared.ResultFilter[Site]
}

// NewSiteFilter sanitizes the site listing query.
func NewSiteFilter(query url.Values) SiteFilter {
	return SiteFilter{shared.NewResultFilter(shared.NewQueryFilter(siteFilterSpec, query), map[string]shared.Predicate[Site]{
		searchKey: func(s Site, v string) bool { return foldContains(v, s.Name, s.RegionName) },
	})}
}
