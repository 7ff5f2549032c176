package shared

import (
	"math"
	"net/url"
	"strconv"

	"github.com/maxbolgarin/lang"
)

// AllowedPerPage lists the accepted page sizes. The first entry is the default.
var AllowedPerPage = []int{15, 30, 50, 100}

// DefaultOnEachSide is the number of numeric links shown around the current page.
const DefaultOnEachSide = 2

// MaxPage bounds page numbers so that page*perPage fits an int for every
// allowed size, including on 32-bit platforms.
const MaxPage = math.MaxInt32 / 100

// NormalizePerPage coerces n onto AllowedPerPage. Non-positive values map to
// the default, other values to the nearest allowed size (ties to the smaller).
func NormalizePerPage(n int) int {
	if n <= 0 {
		return AllowedPerPage[0]
	}
	best := AllowedPerPage[0]
	for _, size := range AllowedPerPage {
		if size == n {
			return size
		}
		if abs(size-n) < abs(best-n) {
			best = size
		}
	}
	return best
}

// ParsePerPage parses and normalizes a per_page query value.
func ParsePerPage(raw string) int {
	n, _ := strconv.Atoi(raw)
	return NormalizePerPage(n)
}

// ParsePage parses a page query value, clamped to [1, MaxPage].
func ParsePage(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return clampPage(n)
}

func clampPage(n int) int {
	return max(1, min(n, MaxPage))
}

// Offset returns the zero based index of the first item of page. It
// saturates at math.MaxInt instead of overflowing.
func Offset(page, perPage int) int {
	if page < 1 || perPage < 1 {
		return 0
	}
	if page-1 > math.MaxInt/perPage {
		return math.MaxInt
	}
	return (page - 1) * perPage
}

// PageOptions controls link generation.
type PageOptions struct {
	// Path is the request path without query.
	Path string
	// Query holds parameters preserved in page links.
	Query      url.Values
	OnEachSide int
}

// PageLink is one navigation entry.
type PageLink struct {
	Page     int    `json:"page"`
	URL      string `json:"url"`
	Label    string `json:"label"`
	Active   bool   `json:"active"`
	Disabled bool   `json:"disabled"`
}

// Paginator describes one page of a result set.
type Paginator[T any] struct {
	Items       []T
	Total       int
	PerPage     int
	CurrentPage int
	LastPage    int
	OnEachSide  int

	path  string
	query url.Values
}

// NewPaginator wraps an already sliced page of items. currentPage is clamped
// to at least 1 but never down to LastPage.
func NewPaginator[T any](items []T, total, perPage, currentPage int, opts PageOptions) *Paginator[T] {
	if total < 0 {
		total = 0
	}
	perPage = NormalizePerPage(perPage)
	currentPage = clampPage(currentPage)
	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}
	query := url.Values{}
	for k, v := range opts.Query {
		query[k] = append([]string(nil), v...)
	}
	return &Paginator[T]{
		Items:       items,
		Total:       total,
		PerPage:     perPage,
		CurrentPage: currentPage,
		LastPage:    lastPage,
		OnEachSide:  lang.Check(opts.OnEachSide, DefaultOnEachSide),
		path:        opts.Path,
		query:       query,
	}
}

// Paginate slices a fully materialized list. Only suitable for small sets.
func Paginate[T any](all []T, page, perPage int, opts PageOptions) *Paginator[T] {
	perPage = NormalizePerPage(perPage)
	page = clampPage(page)
	offset := Offset(page, perPage)
	var items []T
	if offset >= 0 && offset < len(all) {
		end := min(offset+perPage, len(all))
		items = all[offset:end]
	}
	return NewPaginator(items, len(all), perPage, page, opts)
}

// HasPrevious reports whether a previous page exists.
func (p *Paginator[T]) HasPrevious() bool {
	return p.CurrentPage > 1
}

// HasNext reports whether a next page exists.
func (p *Paginator[T]) HasNext() bool {
	return p.CurrentPage < p.LastPage
}

// From is the 1-based index of the first item shown, 0 when the page shows
// nothing (no results, or a page past the last one).
func (p *Paginator[T]) From() int {
	if p.empty() {
		return 0
	}
	return Offset(p.CurrentPage, p.PerPage) + 1
}

// To is the 1-based index of the last item shown, 0 when From is 0.
func (p *Paginator[T]) To() int {
	if p.empty() {
		return 0
	}
	return min(Offset(p.CurrentPage, p.PerPage)+max(len(p.Items), 1), p.Total)
}

func (p *Paginator[T]) empty() bool {
	return p.Total == 0 || p.CurrentPage > p.LastPage
}

// PageURL returns the link to page n, keeping the other query parameters.
func (p *Paginator[T]) PageURL(n int) string {
	query := url.Values{}
	for k, v := range p.query {
		query[k] = v
	}
	query.Set("page", strconv.Itoa(n))
	return p.path + "?" + query.Encode()
}

// Pages returns the numeric window around the current page.
func (p *Paginator[T]) Pages() []int {
	start := max(1, p.CurrentPage-p.OnEachSide)
	end := min(p.LastPage, p.CurrentPage+p.OnEachSide)
	var pages []int
	for n := start; n <= end; n++ {
		pages = append(pages, n)
	}
	return pages
}

// Links returns first, previous, the numeric window, next and last.
func (p *Paginator[T]) Links() []PageLink {
	prev := max(1, min(p.CurrentPage-1, p.LastPage))
	next := min(p.LastPage, p.CurrentPage+1)

	links := []PageLink{
		{Page: 1, URL: p.PageURL(1), Label: "First", Disabled: p.CurrentPage == 1},
		{Page: prev, URL: p.PageURL(prev), Label: "Previous", Disabled: !p.HasPrevious()},
	}
	for _, n := range p.Pages() {
		links = append(links, PageLink{
			Page:   n,
			URL:    p.PageURL(n),
			Label:  strconv.Itoa(n),
			Active: n == p.CurrentPage,
		})
	}
	links = append(links,
		PageLink{Page: next, URL: p.PageURL(next), Label: "Next", Disabled: !p.HasNext()},
		PageLink{Page: p.LastPage, URL: p.PageURL(p.LastPage), Label: "Last", Disabled: p.CurrentPage >= p.LastPage},
	)
	return links
}

// PageMeta is the JSON shape of pagination metadata.
type PageMeta struct {
	Total       int        `json:"total"`
	PerPage     int        `json:"per_page"`
	CurrentPage int        `json:"current_page"`
	LastPage    int        `json:"last_page"`
	From        int        `json:"from"`
	To          int        `json:"to"`
	Links       []PageLink `json:"links"`
}

// Meta returns the pagination metadata.
func (p *Paginator[T]) Meta() PageMeta {
	return PageMeta{
		Total:       p.Total,
		PerPage:     p.PerPage,
		CurrentPage: p.CurrentPage,
		LastPage:    p.LastPage,
		From:        p.From(),
		To:          p.To(),
		Links:       p.Links(),
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
