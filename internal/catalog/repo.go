package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topoclimb/topoclimb/internal/platform/db"
	"github.com/topoclimb/topoclimb/internal/shared"
)

// Store defines persistence operations for the catalog.
type Store interface {
	ListRegions(ctx context.Context) ([]Region, error)
	GetRegion(ctx context.Context, id int64) (Region, error)
	CreateRegion(ctx context.Context, region Region) (Region, error)
	UpdateRegion(ctx context.Context, region Region) error
	DeleteRegion(ctx context.Context, id int64) error

	ListSites(ctx context.Context, conds shared.Conditions) ([]Site, error)
	GetSite(ctx context.Context, id int64) (Site, error)
	CreateSite(ctx context.Context, site Site) (Site, error)
	UpdateSite(ctx context.Context, site Site) error
	DeleteSite(ctx context.Context, id int64) error

	CountSectors(ctx context.Context, conds shared.Conditions) (int, error)
	ListSectors(ctx context.Context, conds shared.Conditions, limit, offset int) ([]Sector, error)
	GetSector(ctx context.Context, id int64) (Sector, error)
	CreateSector(ctx context.Context, sector Sector) (Sector, error)
	UpdateSector(ctx context.Context, sector Sector) error
	DeleteSector(ctx context.Context, id int64) error

	CountRoutes(ctx context.Context, conds shared.Conditions) (int, error)
	ListRoutes(ctx context.Context, conds shared.Conditions, limit, offset int) ([]Route, error)
	GetRoute(ctx context.Context, id int64) (Route, error)
	CreateRoute(ctx context.Context, route Route) (Route, error)
	UpdateRoute(ctx context.Context, route Route) error
	DeleteRoute(ctx context.Context, id int64) error

	CreateAscent(ctx context.Context, ascent Ascent) (Ascent, error)
	CountAscents(ctx context.Context, userID int64) (int, error)
	ListAscents(ctx context.Context, userID int64, limit, offset int) ([]Ascent, error)

	SectorStats(ctx context.Context, siteID int64) ([]SectorStats, error)
	RefreshSectorStats(ctx context.Context) (int64, error)
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var siteColumns = map[string]string{
	colRegionID: "s.region_id",
}

var sectorColumns = map[string]string{
	colRegionID: "si.region_id",
	colSiteID:   "se.site_id",
}

var routeColumns = map[string]string{
	colRegionID:   "si.region_id",
	colSiteID:     "se.site_id",
	colSectorID:   "r.sector_id",
	colStyle:      "r.style",
	colGradeValue: "r.grade_value",
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapErr translates driver errors into shared sentinels.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("catalog: %s: %w", op, shared.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("catalog: %s: %w", op, shared.ErrDuplicate)
		case foreignKeyViolation:
			// On delete a child still points here; otherwise the parent is gone.
			if strings.HasPrefix(op, "delete") {
				return fmt.Errorf("catalog: %s: %w", op, shared.ErrInUse)
			}
			return fmt.Errorf("catalog: %s: parent: %w", op, shared.ErrNotFound)
		}
	}
	return fmt.Errorf("catalog: %s: %w", op, err)
}

func expectOne(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: %s: %w", op, shared.ErrNotFound)
	}
	return nil
}

// limitClause appends LIMIT/OFFSET placeholders when limit is positive.
func limitClause(args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		return "", args
	}
	n := len(args)
	return " LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2), append(args, limit, offset)
}

// Regions

func (s *PGStore) ListRegions(ctx context.Context) ([]Region, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, country, description FROM regions ORDER BY name`)
	if err != nil {
		return nil, mapErr("list regions", err)
	}
	defer rows.Close()
	var out []Region
	for rows.Next() {
		var r Region
		if err := rows.Scan(&r.ID, &r.Name, &r.Country, &r.Description); err != nil {
			return nil, mapErr("scan region", err)
		}
		out = append(out, r)
	}
	return out, mapErr("list regions", rows.Err())
}

func (s *PGStore) GetRegion(ctx context.Context, id int64) (Region, error) {
	var r Region
	err := s.pool.QueryRow(ctx, `SELECT id, name, country, description FROM regions WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Country, &r.Description)
	return r, mapErr("get region", err)
}

func (s *PGStore) CreateRegion(ctx context.Context, region Region) (Region, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO regions (name, country, description) VALUES ($1, $2, $3) RETURNING id`,
		region.Name, region.Country, region.Description).Scan(&region.ID)
	return region, mapErr("create region", err)
}

func (s *PGStore) UpdateRegion(ctx context.Context, region Region) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE regions SET name = $1, country = $2, description = $3, updated_at = NOW() WHERE id = $4`,
		region.Name, region.Country, region.Description, region.ID)
	return expectOne("update region", tag, err)
}

func (s *PGStore) DeleteRegion(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM regions WHERE id = $1`, id)
	return expectOne("delete region", tag, err)
}

// Sites

const siteSelect = `SELECT s.id, s.region_id, rg.name, s.name, s.description, s.latitude, s.longitude
	FROM sites s JOIN regions rg ON rg.id = s.region_id `

func scanSite(row pgx.Row) (Site, error) {
	var s Site
	err := row.Scan(&s.ID, &s.RegionID, &s.RegionName, &s.Name, &s.Description, &s.Latitude, &s.Longitude)
	return s, err
}

func (s *PGStore) ListSites(ctx context.Context, conds shared.Conditions) ([]Site, error) {
	where, args, err := db.BuildWhere(conds, siteColumns)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, siteSelect+where+` ORDER BY s.name`, args...)
	if err != nil {
		return nil, mapErr("list sites", err)
	}
	defer rows.Close()
	var out []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, mapErr("scan site", err)
		}
		out = append(out, site)
	}
	return out, mapErr("list sites", rows.Err())
}

func (s *PGStore) GetSite(ctx context.Context, id int64) (Site, error) {
	site, err := scanSite(s.pool.QueryRow(ctx, siteSelect+`WHERE s.id = $1`, id))
	return site, mapErr("get site", err)
}

func (s *PGStore) CreateSite(ctx context.Context, site Site) (Site, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sites (region_id, name, description, latitude, longitude) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		site.RegionID, site.Name, site.Description, site.Latitude, site.Longitude).Scan(&site.ID)
	return site, mapErr("create site", err)
}

func (s *PGStore) UpdateSite(ctx context.Context, site Site) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sites SET region_id = $1, name = $2, description = $3, latitude = $4, longitude = $5, updated_at = NOW() WHERE id = $6`,
		site.RegionID, site.Name, site.Description, site.Latitude, site.Longitude, site.ID)
	return expectOne("update site", tag, err)
}

func (s *PGStore) DeleteSite(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	return expectOne("delete site", tag, err)
}

// Sectors

const sectorFrom = ` FROM sectors se JOIN sites si ON si.id = se.site_id `

func scanSector(row pgx.Row) (Sector, error) {
	var s Sector
	err := row.Scan(&s.ID, &s.SiteID, &s.RegionID, &s.SiteName, &s.Name, &s.Orientation, &s.ApproachMinutes)
	return s, err
}

const sectorSelect = `SELECT se.id, se.site_id, si.region_id, si.name, se.name, se.orientation, se.approach_minutes` + sectorFrom

func (s *PGStore) CountSectors(ctx context.Context, conds shared.Conditions) (int, error) {
	where, args, err := db.BuildWhere(conds, sectorColumns)
	if err != nil {
		return 0, err
	}
	var total int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*)`+sectorFrom+where, args...).Scan(&total)
	return total, mapErr("count sectors", err)
}

func (s *PGStore) ListSectors(ctx context.Context, conds shared.Conditions, limit, offset int) ([]Sector, error) {
	where, args, err := db.BuildWhere(conds, sectorColumns)
	if err != nil {
		return nil, err
	}
	page, args := limitClause(args, limit, offset)
	rows, err := s.pool.Query(ctx, sectorSelect+where+` ORDER BY si.name, se.name, se.id`+page, args...)
	if err != nil {
		return nil, mapErr("list sectors", err)
	}
	defer rows.Close()
	var out []Sector
	for rows.Next() {
		sector, err := scanSector(rows)
		if err != nil {
			return nil, mapErr("scan sector", err)
		}
		out = append(out, sector)
	}
	return out, mapErr("list sectors", rows.Err())
}

func (s *PGStore) GetSector(ctx context.Context, id int64) (Sector, error) {
	sector, err := scanSector(s.pool.QueryRow(ctx, sectorSelect+`WHERE se.id = $1`, id))
	return sector, mapErr("get sector", err)
}

func (s *PGStore) CreateSector(ctx context.Context, sector Sector) (Sector, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sectors (site_id, name, orientation, approach_minutes) VALUES ($1, $2, $3, $4) RETURNING id`,
		sector.SiteID, sector.Name, sector.Orientation, sector.ApproachMinutes).Scan(&sector.ID)
	return sector, mapErr("create sector", err)
}

func (s *PGStore) UpdateSector(ctx context.Context, sector Sector) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sectors SET site_id = $1, name = $2, orientation = $3, approach_minutes = $4, updated_at = NOW() WHERE id = $5`,
		sector.SiteID, sector.Name, sector.Orientation, sector.ApproachMinutes, sector.ID)
	return expectOne("update sector", tag, err)
}

func (s *PGStore) DeleteSector(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sectors WHERE id = $1`, id)
	return expectOne("delete sector", tag, err)
}

// Routes

const routeFrom = ` FROM routes r JOIN sectors se ON se.id = r.sector_id JOIN sites si ON si.id = se.site_id `

const routeSelect = `SELECT r.id, r.sector_id, se.site_id, si.region_id, se.name, r.name, r.grade, r.grade_value, r.height_m, r.bolts, r.style` + routeFrom

func scanRoute(row pgx.Row) (Route, error) {
	var r Route
	err := row.Scan(&r.ID, &r.SectorID, &r.SiteID, &r.RegionID, &r.SectorName, &r.Name, &r.Grade, &r.GradeValue, &r.Height, &r.Bolts, &r.Style)
	return r, err
}

func (s *PGStore) CountRoutes(ctx context.Context, conds shared.Conditions) (int, error) {
	where, args, err := db.BuildWhere(conds, routeColumns)
	if err != nil {
		return 0, err
	}
	var total int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*)`+routeFrom+where, args...).Scan(&total)
	return total, mapErr("count routes", err)
}

func (s *PGStore) ListRoutes(ctx context.Context, conds shared.Conditions, limit, offset int) ([]Route, error) {
	where, args, err := db.BuildWhere(conds, routeColumns)
	if err != nil {
		return nil, err
	}
	page, args := limitClause(args, limit, offset)
	rows, err := s.pool.Query(ctx, routeSelect+where+` ORDER BY se.name, r.grade_value, r.name, r.id`+page, args...)
	if err != nil {
		return nil, mapErr("list routes", err)
	}
	defer rows.Close()
	var out []Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, mapErr("scan route", err)
		}
		out = append(out, route)
	}
	return out, mapErr("list routes", rows.Err())
}

func (s *PGStore) GetRoute(ctx context.Context, id int64) (Route, error) {
	route, err := scanRoute(s.pool.QueryRow(ctx, routeSelect+`WHERE r.id = $1`, id))
	return route, mapErr("get route", err)
}

func (s *PGStore) CreateRoute(ctx context.Context, route Route) (Route, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO routes (sector_id, name, grade, grade_value, height_m, bolts, style)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		route.SectorID, route.Name, route.Grade, route.GradeValue, route.Height, route.Bolts, route.Style).Scan(&route.ID)
	return route, mapErr("create route", err)
}

func (s *PGStore) UpdateRoute(ctx context.Context, route Route) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE routes SET sector_id = $1, name = $2, grade = $3, grade_value = $4, height_m = $5, bolts = $6, style = $7, updated_at = NOW()
		 WHERE id = $8`,
		route.SectorID, route.Name, route.Grade, route.GradeValue, route.Height, route.Bolts, route.Style, route.ID)
	return expectOne("update route", tag, err)
}

func (s *PGStore) DeleteRoute(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM routes WHERE id = $1`, id)
	return expectOne("delete route", tag, err)
}

// Ascents

func (s *PGStore) CreateAscent(ctx context.Context, ascent Ascent) (Ascent, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ascents (route_id, user_id, style, climbed_on, rating, notes)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		ascent.RouteID, ascent.UserID, ascent.Style, ascent.ClimbedOn, ascent.Rating, ascent.Notes).Scan(&ascent.ID)
	return ascent, mapErr("create ascent", err)
}

func (s *PGStore) CountAscents(ctx context.Context, userID int64) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ascents WHERE user_id = $1`, userID).Scan(&total)
	return total, mapErr("count ascents", err)
}

func (s *PGStore) ListAscents(ctx context.Context, userID int64, limit, offset int) ([]Ascent, error) {
	page, args := limitClause([]any{userID}, limit, offset)
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.route_id, r.name, r.grade, a.user_id, a.style, a.climbed_on, a.rating, a.notes
		 FROM ascents a JOIN routes r ON r.id = a.route_id
		 WHERE a.user_id = $1 ORDER BY a.climbed_on DESC, a.id DESC`+page, args...)
	if err != nil {
		return nil, mapErr("list ascents", err)
	}
	defer rows.Close()
	var out []Ascent
	for rows.Next() {
		var a Ascent
		if err := rows.Scan(&a.ID, &a.RouteID, &a.RouteName, &a.Grade, &a.UserID, &a.Style, &a.ClimbedOn, &a.Rating, &a.Notes); err != nil {
			return nil, mapErr("scan ascent", err)
		}
		out = append(out, a)
	}
	return out, mapErr("list ascents", rows.Err())
}

// Stats

func (s *PGStore) SectorStats(ctx context.Context, siteID int64) ([]SectorStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT st.sector_id, st.route_count, st.min_grade_value, st.max_grade_value, st.refreshed_at
		 FROM sector_stats st JOIN sectors se ON se.id = st.sector_id
		 WHERE se.site_id = $1 ORDER BY se.name`, siteID)
	if err != nil {
		return nil, mapErr("sector stats", err)
	}
	defer rows.Close()
	var out []SectorStats
	for rows.Next() {
		var (
			st          SectorStats
			lowest, top int
		)
		if err := rows.Scan(&st.SectorID, &st.RouteCount, &lowest, &top, &st.RefreshedAt); err != nil {
			return nil, mapErr("scan sector stats", err)
		}
		st.MinGrade, st.MaxGrade = FormatGrade(lowest), FormatGrade(top)
		out = append(out, st)
	}
	return out, mapErr("sector stats", rows.Err())
}

// RefreshSectorStats recomputes sector_stats in one transaction and returns
// the number of sectors written.
func (s *PGStore) RefreshSectorStats(ctx context.Context) (int64, error) {
	var written int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sector_stats`); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO sector_stats (sector_id, route_count, min_grade_value, max_grade_value, refreshed_at)
			 SELECT se.id, COUNT(r.id), COALESCE(MIN(r.grade_value), 0), COALESCE(MAX(r.grade_value), 0), $1
			 FROM sectors se LEFT JOIN routes r ON r.sector_id = se.id
			 GROUP BY se.id`, time.Now().UTC())
		if err != nil {
			return err
		}
		written = tag.RowsAffected()
		return nil
	})
	return written, mapErr("refresh sector stats", err)
}

var _ Store = (*PGStore)(nil)
