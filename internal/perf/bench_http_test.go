package perf

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/topoclimb/topoclimb/internal/shared"
)

type listedRoute struct {
	ID       int64
	RegionID int64
	Name     string
}

var routeSpec = shared.MustFilterSpec(shared.FilterSpec{
	"region_id": shared.Direct("region_id"),
	"search":    shared.Direct("name"),
})

func catalogFixture(n int) []listedRoute {
	out := make([]listedRoute, n)
	for i := range out {
		out[i] = listedRoute{ID: int64(i + 1), RegionID: int64(i%7 + 1), Name: fmt.Sprintf("Voie %05d", i)}
	}
	return out
}

func listPage(all []listedRoute, query url.Values) *shared.Paginator[listedRoute] {
	f := shared.NewQueryFilter(routeSpec, query)
	rf := shared.NewResultFilter(f, map[string]shared.Predicate[listedRoute]{
		"region_id": func(r listedRoute, v string) bool { return fmt.Sprint(r.RegionID) == v },
		"search":    func(r listedRoute, v string) bool { return strings.Contains(strings.ToLower(r.Name), strings.ToLower(v)) },
	})
	return shared.Paginate(rf.FilterResults(all), shared.ParsePage(query.Get("page")), shared.ParsePerPage(query.Get("per_page")),
		shared.PageOptions{Path: "/routes", Query: query})
}

func TestInMemoryListingLatency(t *testing.T) {
	all := catalogFixture(20000)
	query := url.Values{"region_id": {"3"}, "search": {"voie 1"}, "page": {"4"}, "per_page": {"30"}}

	samples := make([]time.Duration, 0, 25)
	for i := 0; i < 25; i++ {
		start := time.Now()
		p := listPage(all, query)
		_ = p.Links()
		samples = append(samples, time.Since(start))
		if p.CurrentPage != 4 || len(p.Items) != 30 {
			t.Fatalf("unexpected page: current=%d items=%d", p.CurrentPage, len(p.Items))
		}
	}
	if p95 := percentile95(samples); p95 > 250*time.Millisecond {
		t.Fatalf("listing latency regression: p95=%s", p95)
	}
}

func BenchmarkInMemoryListing(b *testing.B) {
	all := catalogFixture(20000)
	query := url.Values{"region_id": {"3"}, "search": {"voie"}, "page": {"2"}, "per_page": {"50"}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = listPage(all, query)
	}
}

func BenchmarkRedirectGuard(b *testing.B) {
	guard := shared.NewRedirectGuard(shared.DefaultRedirectPolicy(), nil, nil)
	candidates := []string{"/routes?page=2", "https://topoclimb.ch/sectors/4", "//evil.example", "/%2e%2e/admin"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = guard.IsValid(candidates[i%len(candidates)])
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
