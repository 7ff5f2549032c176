package catalog

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topoclimb/topoclimb/internal/shared"
)

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	svc, err := NewService(store, shared.NewValidator(), nil)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

// seedListing creates 45 routes in region 3, 33 of which mention "dent",
// and 10 routes in region 4 that all do.
func seedListing(t *testing.T, store *memStore) {
	t.Helper()
	ctx := context.Background()
	for _, regionID := range []int64{3, 4} {
		store.nextID = regionID * 1000
		sector, err := store.CreateSector(ctx, Sector{SiteID: regionID * 10, RegionID: regionID, Name: fmt.Sprintf("Sector %d", regionID)})
		require.NoError(t, err)
		n := 45
		if regionID == 4 {
			n = 10
		}
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("Dent du Midi %02d", i)
			if regionID == 3 && i%4 == 0 {
				name = fmt.Sprintf("Pilier %02d", i)
			}
			_, err := store.CreateRoute(ctx, Route{SectorID: sector.ID, Name: name, Grade: "6a", GradeValue: 600, Style: StyleSport})
			require.NoError(t, err)
		}
	}
}

func TestListRoutesEndToEnd(t *testing.T) {
	svc, store := newTestService(t)
	seedListing(t, store)

	query, err := url.ParseQuery("region_id=3&search=dent&page=2&per_page=30")
	require.NoError(t, err)

	f := NewRouteFilter(query)
	assert.Equal(t, map[string]string{"region_id": "3", "search": "dent"}, f.Params())

	page := shared.ParsePage(query.Get("page"))
	perPage := shared.ParsePerPage(query.Get("per_page"))
	p, err := svc.ListRoutes(context.Background(), f, page, perPage, shared.PageOptions{Path: "/routes", Query: query})
	require.NoError(t, err)

	const narrowed = 33
	assert.Equal(t, narrowed, p.Total)
	assert.Equal(t, 30, p.PerPage)
	assert.Equal(t, 2, p.LastPage)
	assert.Equal(t, 2, p.CurrentPage)
	require.Len(t, p.Items, narrowed-30)
	for _, r := range p.Items {
		assert.Equal(t, int64(3), r.RegionID)
		assert.Contains(t, r.Name, "Dent")
	}
	assert.Equal(t, 31, p.From())
	assert.Equal(t, 33, p.To())
	assert.Equal(t, []string{"all"}, store.calls, "search forces a full load")
	assert.Equal(t, "/routes?page=1&per_page=30&region_id=3&search=dent", p.PageURL(1))
}

func TestListRoutesStoreBacked(t *testing.T) {
	svc, store := newTestService(t)
	seedListing(t, store)

	f := NewRouteFilter(url.Values{"region_id": {"3"}})
	p, err := svc.ListRoutes(context.Background(), f, 2, 30, shared.PageOptions{Path: "/routes"})
	require.NoError(t, err)

	assert.Equal(t, 45, p.Total)
	assert.Len(t, p.Items, 15)
	assert.Equal(t, []string{"count", "page"}, store.calls)

	store.calls = nil
	p, err = svc.ListRoutes(context.Background(), f, 9, 30, shared.PageOptions{})
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.Equal(t, []string{"count"}, store.calls, "no page query past the end")
}

func TestListRoutesGradeRange(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	sector, _ := store.CreateSector(ctx, Sector{SiteID: 1, RegionID: 1, Name: "Grotte"})
	for _, g := range []string{"5c", "6a", "6b+", "7a", "7c"} {
		_, err := svc.CreateRoute(ctx, map[string]string{
			"sector_id": fmt.Sprint(sector.ID), "name": "Route " + g, "grade": g, "style": StyleSport,
		})
		require.NoError(t, err)
	}

	f := NewRouteFilter(url.Values{"grade_min": {"6a"}, "grade_max": {"7a"}})
	p, err := svc.ListRoutes(ctx, f, 1, 15, shared.PageOptions{})
	require.NoError(t, err)
	var grades []string
	for _, r := range p.Items {
		grades = append(grades, r.Grade)
	}
	assert.Equal(t, []string{"6a", "6b+", "7a"}, grades)
}

func TestCreateRouteValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateRoute(context.Background(), map[string]string{
		"sector_id": "1",
		"name":      "Le Toit",
		"grade":     "6d",
		"style":     "ice",
		"bolts":     "many",
	})
	var errs shared.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, "grade must be a French grade such as 6a+", errs.First("grade"))
	assert.NotEmpty(t, errs["style"])
	assert.NotEmpty(t, errs["bolts"])

	route, err := svc.CreateRoute(context.Background(), map[string]string{
		"sector_id": "1", "name": "Le Toit", "grade": "6B+", "style": StyleSport, "height_m": "25",
	})
	require.NoError(t, err)
	assert.Equal(t, "6b+", route.Grade)
	assert.Equal(t, 630, route.GradeValue)
	assert.Equal(t, 25, route.Height)
}

func TestRegionLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	region, err := svc.CreateRegion(ctx, map[string]string{"name": "Valais", "country": "CH"})
	require.NoError(t, err)

	_, err = svc.CreateRegion(ctx, map[string]string{"name": "Valais", "country": "CH"})
	assert.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = svc.CreateRegion(ctx, map[string]string{"name": "V", "country": ""})
	var errs shared.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)

	updated, err := svc.UpdateRegion(ctx, region.ID, map[string]string{"name": "Valais central", "country": "CH"})
	require.NoError(t, err)
	assert.Equal(t, region.ID, updated.ID)

	_, err = svc.CreateSite(ctx, map[string]string{
		"region_id": fmt.Sprint(region.ID), "name": "Saillon", "latitude": "46.17", "longitude": "7.18",
	})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteRegion(ctx, region.ID), shared.ErrInUse)

	_, err = svc.UpdateRegion(ctx, 999, map[string]string{"name": "Nowhere", "country": "CH"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Len(t, store.regions, 1)
}

func TestSiteOverview(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	site, err := store.CreateSite(ctx, Site{RegionID: 1, Name: "Gastlosen"})
	require.NoError(t, err)
	sector, _ := store.CreateSector(ctx, Sector{SiteID: site.ID, RegionID: 1, Name: "Nord"})
	_, _ = store.CreateSector(ctx, Sector{SiteID: site.ID + 100, RegionID: 1, Name: "Other"})
	_, _ = store.CreateRoute(ctx, Route{SectorID: sector.ID, Name: "A", Grade: "6a", GradeValue: 600})
	_, _ = store.CreateRoute(ctx, Route{SectorID: sector.ID, Name: "B", Grade: "7b", GradeValue: 720})

	n, err := svc.RefreshStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	overview, err := svc.SiteOverview(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gastlosen", overview.Site.Name)
	require.Len(t, overview.Sectors, 1)
	require.Len(t, overview.Stats, 1)
	assert.Equal(t, 2, overview.Stats[0].RouteCount)
	assert.Equal(t, "6a", overview.Stats[0].MinGrade)
	assert.Equal(t, "7b", overview.Stats[0].MaxGrade)

	_, err = svc.SiteOverview(ctx, 424242)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLogAscent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	route, _ := store.CreateRoute(ctx, Route{SectorID: 1, Name: "Dalle", Grade: "6a", GradeValue: 600})

	ascent, err := svc.LogAscent(ctx, 7, map[string]string{
		"route_id": fmt.Sprint(route.ID), "style": "onsight", "climbed_on": "2024-05-30", "rating": "4",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dalle", ascent.RouteName)
	assert.Equal(t, int64(7), ascent.UserID)

	_, err = svc.LogAscent(ctx, 7, map[string]string{
		"route_id": fmt.Sprint(route.ID), "style": "onsight", "climbed_on": "2024-06-02",
	})
	var errs shared.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Contains(t, errs.First("climbed_on"), "future")

	_, err = svc.LogAscent(ctx, 7, map[string]string{"route_id": "9999", "style": "flash", "climbed_on": "2024-05-01"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.LogAscent(ctx, 7, map[string]string{"route_id": fmt.Sprint(route.ID), "style": "dogged", "climbed_on": "2024-05-01"})
	require.ErrorAs(t, err, &errs)
	assert.NotEmpty(t, errs["style"])

	for i := 0; i < 20; i++ {
		_, err := svc.LogAscent(ctx, 7, map[string]string{"route_id": fmt.Sprint(route.ID), "style": "repeat", "climbed_on": "2024-05-31"})
		require.NoError(t, err)
	}
	p, err := svc.UserAscents(ctx, 7, 2, 15, shared.PageOptions{Path: "/ascents"})
	require.NoError(t, err)
	assert.Equal(t, 21, p.Total)
	assert.Len(t, p.Items, 6)
	assert.Equal(t, "onsight", p.Items[5].Style, "oldest ascent comes last")
}

func TestNewServiceRegistersGradeRule(t *testing.T) {
	v := shared.NewValidator()
	_, err := NewService(newMemStore(), v, nil)
	require.NoError(t, err)
	ok, err := v.Check("grade", "grade", "7a")
	require.NoError(t, err)
	assert.True(t, ok, "grade rule is registered on the shared validator")
}
