package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/topoclimb/topoclimb/internal/shared"
)

// memStore is an in-memory Store used by the package tests.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	regions map[int64]Region
	sites   map[int64]Site
	sectors map[int64]Sector
	routes  map[int64]Route
	ascents []Ascent
	stats   map[int64]SectorStats

	// calls records store-backed listing calls as "count" / "page" / "all".
	calls []string
}

func newMemStore() *memStore {
	return &memStore{
		regions: map[int64]Region{},
		sites:   map[int64]Site{},
		sectors: map[int64]Sector{},
		routes:  map[int64]Route{},
		stats:   map[int64]SectorStats{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func condMatches(conds shared.Conditions, fields map[string]any) bool {
	for _, c := range conds {
		v, ok := fields[c.Column]
		if !ok {
			return false
		}
		switch c.Op {
		case shared.OpEq:
			if v != c.Value {
				return false
			}
		case shared.OpGte:
			if v.(int) < c.Value.(int) {
				return false
			}
		case shared.OpLte:
			if v.(int) > c.Value.(int) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func window[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		return items
	}
	if offset >= len(items) {
		return nil
	}
	return items[offset:min(offset+limit, len(items))]
}

func (m *memStore) ListRegions(context.Context) ([]Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Region
	for _, r := range m.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetRegion(_ context.Context, id int64) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return Region{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *memStore) CreateRegion(_ context.Context, r Region) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.regions {
		if existing.Name == r.Name {
			return Region{}, shared.ErrDuplicate
		}
	}
	r.ID = m.id()
	m.regions[r.ID] = r
	return r, nil
}

func (m *memStore) UpdateRegion(_ context.Context, r Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[r.ID]; !ok {
		return shared.ErrNotFound
	}
	m.regions[r.ID] = r
	return nil
}

func (m *memStore) DeleteRegion(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sites {
		if s.RegionID == id {
			return shared.ErrInUse
		}
	}
	if _, ok := m.regions[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.regions, id)
	return nil
}

func (m *memStore) ListSites(_ context.Context, conds shared.Conditions) ([]Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Site
	for _, s := range m.sites {
		if condMatches(conds, map[string]any{colRegionID: s.RegionID}) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSite(_ context.Context, id int64) (Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok {
		return Site{}, shared.ErrNotFound
	}
	return s, nil
}

func (m *memStore) CreateSite(_ context.Context, s Site) (Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	m.sites[s.ID] = s
	return s, nil
}

func (m *memStore) UpdateSite(_ context.Context, s Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[s.ID] = s
	return nil
}

func (m *memStore) DeleteSite(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sites, id)
	return nil
}

func (m *memStore) matchingSectors(conds shared.Conditions) []Sector {
	var out []Sector
	for _, s := range m.sectors {
		if condMatches(conds, map[string]any{colRegionID: s.RegionID, colSiteID: s.SiteID}) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) CountSectors(_ context.Context, conds shared.Conditions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "count")
	return len(m.matchingSectors(conds)), nil
}

func (m *memStore) ListSectors(_ context.Context, conds shared.Conditions, limit, offset int) ([]Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 {
		m.calls = append(m.calls, "page")
	} else {
		m.calls = append(m.calls, "all")
	}
	return window(m.matchingSectors(conds), limit, offset), nil
}

func (m *memStore) GetSector(_ context.Context, id int64) (Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sectors[id]
	if !ok {
		return Sector{}, shared.ErrNotFound
	}
	return s, nil
}

func (m *memStore) CreateSector(_ context.Context, s Sector) (Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	m.sectors[s.ID] = s
	return s, nil
}

func (m *memStore) UpdateSector(_ context.Context, s Sector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sectors[s.ID] = s
	return nil
}

func (m *memStore) DeleteSector(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sectors, id)
	return nil
}

func (m *memStore) matchingRoutes(conds shared.Conditions) []Route {
	var out []Route
	for _, r := range m.routes {
		fields := map[string]any{
			colRegionID:   r.RegionID,
			colSiteID:     r.SiteID,
			colSectorID:   r.SectorID,
			colStyle:      r.Style,
			colGradeValue: r.GradeValue,
		}
		if condMatches(conds, fields) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) CountRoutes(_ context.Context, conds shared.Conditions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "count")
	return len(m.matchingRoutes(conds)), nil
}

func (m *memStore) ListRoutes(_ context.Context, conds shared.Conditions, limit, offset int) ([]Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 {
		m.calls = append(m.calls, "page")
	} else {
		m.calls = append(m.calls, "all")
	}
	return window(m.matchingRoutes(conds), limit, offset), nil
}

func (m *memStore) GetRoute(_ context.Context, id int64) (Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return Route{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *memStore) CreateRoute(_ context.Context, r Route) (Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sectors[r.SectorID]; ok {
		r.SiteID, r.RegionID, r.SectorName = s.SiteID, s.RegionID, s.Name
	}
	r.ID = m.id()
	m.routes[r.ID] = r
	return r, nil
}

func (m *memStore) UpdateRoute(_ context.Context, r Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[r.ID]; !ok {
		return shared.ErrNotFound
	}
	m.routes[r.ID] = r
	return nil
}

func (m *memStore) DeleteRoute(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.routes, id)
	return nil
}

func (m *memStore) CreateAscent(_ context.Context, a Ascent) (Ascent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id()
	m.ascents = append(m.ascents, a)
	return a, nil
}

func (m *memStore) userAscents(userID int64) []Ascent {
	var out []Ascent
	for i := len(m.ascents) - 1; i >= 0; i-- {
		if a := m.ascents[i]; a.UserID == userID {
			route := m.routes[a.RouteID]
			a.RouteName, a.Grade = route.Name, route.Grade
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) CountAscents(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userAscents(userID)), nil
}

func (m *memStore) ListAscents(_ context.Context, userID int64, limit, offset int) ([]Ascent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return window(m.userAscents(userID), limit, offset), nil
}

func (m *memStore) SectorStats(_ context.Context, siteID int64) ([]SectorStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SectorStats
	for _, st := range m.stats {
		if m.sectors[st.SectorID].SiteID == siteID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectorID < out[j].SectorID })
	return out, nil
}

func (m *memStore) RefreshSectorStats(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = map[int64]SectorStats{}
	for id := range m.sectors {
		st := SectorStats{SectorID: id, RefreshedAt: time.Now()}
		lowest, top := 0, 0
		for _, r := range m.routes {
			if r.SectorID != id {
				continue
			}
			st.RouteCount++
			if lowest == 0 || r.GradeValue < lowest {
				lowest = r.GradeValue
			}
			top = max(top, r.GradeValue)
		}
		st.MinGrade, st.MaxGrade = FormatGrade(lowest), FormatGrade(top)
		m.stats[id] = st
	}
	return int64(len(m.stats)), nil
}

var _ Store = (*memStore)(nil)
