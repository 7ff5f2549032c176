package catalog

import "time"

// Region groups climbing sites, usually a valley or massif.
type Region struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Country     string `json:"country"`
	Description string `json:"description,omitempty"`
}

// Site is a crag inside a region.
type Site struct {
	ID          int64   `json:"id"`
	RegionID    int64   `json:"region_id"`
	RegionName  string  `json:"region_name,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Sector is a wall or boulder area of a site.
type Sector struct {
	ID              int64  `json:"id"`
	SiteID          int64  `json:"site_id"`
	RegionID        int64  `json:"region_id"`
	SiteName        string `json:"site_name,omitempty"`
	Name            string `json:"name"`
	Orientation     string `json:"orientation,omitempty"`
	ApproachMinutes int    `json:"approach_minutes"`
}

// Route is a single climb.
type Route struct {
	ID         int64  `json:"id"`
	SectorID   int64  `json:"sector_id"`
	SiteID     int64  `json:"site_id"`
	RegionID   int64  `json:"region_id"`
	SectorName string `json:"sector_name,omitempty"`
	Name       string `json:"name"`
	Grade      string `json:"grade"`
	GradeValue int    `json:"grade_value"`
	Height     int    `json:"height_m"`
	Bolts      int    `json:"bolts"`
	Style      string `json:"style"`
}

// Ascent records a user's climb of a route.
type Ascent struct {
	ID        int64     `json:"id"`
	RouteID   int64     `json:"route_id"`
	RouteName string    `json:"route_name,omitempty"`
	Grade     string    `json:"grade,omitempty"`
	UserID    int64     `json:"user_id"`
	Style     string    `json:"style"`
	ClimbedOn time.Time `json:"climbed_on"`
	Rating    int       `json:"rating"`
	Notes     string    `json:"notes,omitempty"`
}

// SectorStats summarises the routes of one sector.
type SectorStats struct {
	SectorID    int64     `json:"sector_id"`
	RouteCount  int       `json:"route_count"`
	MinGrade    string    `json:"min_grade,omitempty"`
	MaxGrade    string    `json:"max_grade,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// SiteOverview is the detail view of a site.
type SiteOverview struct {
	Site    Site          `json:"site"`
	Sectors []Sector      `json:"sectors"`
	Stats   []SectorStats `json:"stats"`
}

// Route styles.
const (
	StyleSport      = "sport"
	StyleTrad       = "trad"
	StyleBoulder    = "boulder"
	StyleMultipitch = "multipitch"
)

// RouteStyles lists the accepted route styles.
var RouteStyles = []string{StyleSport, StyleTrad, StyleBoulder, StyleMultipitch}

// AscentStyles lists the accepted ascent styles.
var AscentStyles = []string{"onsight", "flash", "redpoint", "toprope", "repeat"}
