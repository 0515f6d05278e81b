// Package postgres implements the datastore on PostgreSQL with PostGIS.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.ngs.io/dsg-ingest/internal/adapter/store"
	"go.ngs.io/dsg-ingest/internal/domain"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store is a Datastore backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Datastore = (*Store)(nil)

// New connects to the database at url.
func New(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// mapError converts driver errors to store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrDuplicateKey)
	}
	return err
}

// GetOrCreate statements update a conflicting row to itself so that
// RETURNING yields rows committed by concurrent loads.

func (s *Store) GetOrCreatePlatformType(ctx context.Context, name, color string) (domain.PlatformType, error) {
	pt := domain.PlatformType{Name: name}
	err := s.pool.QueryRow(ctx, `
INSERT INTO platform_type (name, color) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, color`, name, color).Scan(&pt.ID, &pt.Color)
	return pt, mapError(err)
}

func (s *Store) GetOrCreatePlatform(ctx context.Context, p domain.Platform) (domain.Platform, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO platform (name, color, platform_type_id) VALUES ($1, $2, $3)
ON CONFLICT (name, platform_type_id) DO UPDATE SET name = EXCLUDED.name
RETURNING id, color`, p.Name, p.Color, p.PlatformTypeID).Scan(&p.ID, &p.Color)
	return p, mapError(err)
}

func (s *Store) GetOrCreateCampaign(ctx context.Context, name, description string) (domain.Campaign, error) {
	c := domain.Campaign{Name: name}
	err := s.pool.QueryRow(ctx, `
INSERT INTO campaign (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, description, start_date, end_date`, name, description).Scan(&c.ID, &c.Description, &c.StartDate, &c.EndDate)
	return c, mapError(err)
}

func (s *Store) UpdateCampaignSpan(ctx context.Context, campaignID int64, start, end time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE campaign
SET start_date = LEAST(COALESCE(start_date, $2), $2),
    end_date = GREATEST(COALESCE(end_date, $3), $3)
WHERE id = $1`, campaignID, start, end)
	return mapError(err)
}

func (s *Store) GetOrCreateActivityType(ctx context.Context, name string) (domain.ActivityType, error) {
	at := domain.ActivityType{Name: name}
	err := s.pool.QueryRow(ctx, `
INSERT INTO activity_type (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, name).Scan(&at.ID)
	return at, mapError(err)
}

func (s *Store) GetOrCreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO activity (name, platform_id, campaign_id, activity_type_id, comment)
VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), $5)
ON CONFLICT (name, platform_id) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, a.Name, a.PlatformID, a.CampaignID, a.ActivityTypeID, a.Comment).Scan(&id)
	if err != nil {
		return domain.Activity{}, mapError(err)
	}
	return s.GetActivity(ctx, id)
}

func (s *Store) GetActivity(ctx context.Context, id int64) (domain.Activity, error) {
	a := domain.Activity{ID: id}
	var campaignID, activityTypeID *int64
	var track, point *string
	err := s.pool.QueryRow(ctx, `
SELECT name, platform_id, campaign_id, activity_type_id, start_date, end_date,
       num_measured_parameters, loaded_date, ST_AsText(maptrack), ST_AsText(mappoint),
       min_depth, max_depth, comment
FROM activity WHERE id = $1`, id).Scan(
		&a.Name, &a.PlatformID, &campaignID, &activityTypeID, &a.StartDate, &a.EndDate,
		&a.NumMeasuredParameters, &a.LoadedDate, &track, &point,
		&a.MinDepth, &a.MaxDepth, &a.Comment)
	if err != nil {
		return domain.Activity{}, mapError(err)
	}
	if campaignID != nil {
		a.CampaignID = *campaignID
	}
	if activityTypeID != nil {
		a.ActivityTypeID = *activityTypeID
	}
	if track != nil {
		a.MapTrack = parseWKTPoints(*track)
	}
	if point != nil {
		if pts := parseWKTPoints(*point); len(pts) == 1 {
			a.MapPoint = &pts[0]
		}
	}
	return a, nil
}

func (s *Store) UpdateActivity(ctx context.Context, a domain.Activity) error {
	var track, point *string
	if len(a.MapTrack) > 1 {
		t := lineStringWKT(a.MapTrack)
		track = &t
	}
	if a.MapPoint != nil {
		p := fmt.Sprintf("POINT(%s %s)", formatCoord(a.MapPoint.Lon), formatCoord(a.MapPoint.Lat))
		point = &p
	}
	_, err := s.pool.Exec(ctx, `
UPDATE activity
SET campaign_id = NULLIF($2, 0),
    activity_type_id = NULLIF($3, 0),
    start_date = $4,
    end_date = $5,
    num_measured_parameters = $6,
    loaded_date = $7,
    maptrack = ST_GeomFromText($8, 4326),
    mappoint = ST_GeomFromText($9, 4326),
    min_depth = $10,
    max_depth = $11,
    comment = $12
WHERE id = $1`,
		a.ID, a.CampaignID, a.ActivityTypeID, a.StartDate, a.EndDate, a.NumMeasuredParameters,
		a.LoadedDate, track, point, a.MinDepth, a.MaxDepth, a.Comment)
	return mapError(err)
}

func (s *Store) AddActivityResource(ctx context.Context, activityID int64, r domain.Resource) error {
	_, err := s.pool.Exec(ctx, `
WITH res AS (
    INSERT INTO resource (name, value, type) VALUES ($2, $3, $4)
    ON CONFLICT (name, value, type) DO UPDATE SET name = EXCLUDED.name
    RETURNING id
)
INSERT INTO activity_resource (activity_id, resource_id)
SELECT $1, id FROM res
ON CONFLICT DO NOTHING`, activityID, r.Name, r.Value, r.Type)
	return mapError(err)
}

func (s *Store) AssignParameterGroup(ctx context.Context, parameterID int64, group string) error {
	_, err := s.pool.Exec(ctx, `
WITH g AS (
    INSERT INTO parameter_group (name) VALUES ($2)
    ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
    RETURNING id
)
INSERT INTO parameter_group_parameter (parameter_group_id, parameter_id)
SELECT id, $1 FROM g
ON CONFLICT DO NOTHING`, parameterID, group)
	return mapError(err)
}

const parameterColumns = `id, name, type, description, standard_name, long_name, units, origin`

func scanParameter(row pgx.Row) (domain.Parameter, error) {
	var p domain.Parameter
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Description, &p.StandardName, &p.LongName, &p.Units, &p.Origin)
	return p, mapError(err)
}

func (s *Store) FindParameterByStandardName(ctx context.Context, standardName string) (domain.Parameter, error) {
	if standardName == "" {
		return domain.Parameter{}, store.ErrNotFound
	}
	return scanParameter(s.pool.QueryRow(ctx,
		`SELECT `+parameterColumns+` FROM parameter WHERE standard_name = $1 ORDER BY id LIMIT 1`, standardName))
}

func (s *Store) FindParameterByName(ctx context.Context, name string) (domain.Parameter, error) {
	return scanParameter(s.pool.QueryRow(ctx,
		`SELECT `+parameterColumns+` FROM parameter WHERE name = $1`, name))
}

func (s *Store) CreateParameter(ctx context.Context, p domain.Parameter) (domain.Parameter, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO parameter (name, type, description, standard_name, long_name, units, origin)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, p.Name, p.Type, p.Description, p.StandardName, p.LongName, p.Units, p.Origin).Scan(&p.ID)
	if err != nil {
		return domain.Parameter{}, mapError(err)
	}
	return p, nil
}

func (s *Store) ResetParameterSequence(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
SELECT setval(pg_get_serial_sequence('parameter', 'id'), COALESCE(MAX(id), 1), MAX(id) IS NOT NULL)
FROM parameter`)
	return mapError(err)
}

func (s *Store) GetOrCreateInstantPoint(ctx context.Context, activityID int64, t time.Time) (domain.InstantPoint, error) {
	ip := domain.InstantPoint{ActivityID: activityID, Time: t.UTC()}
	err := s.pool.QueryRow(ctx, `
INSERT INTO instant_point (activity_id, timevalue) VALUES ($1, $2)
ON CONFLICT (activity_id, timevalue) DO UPDATE SET timevalue = EXCLUDED.timevalue
RETURNING id`, activityID, ip.Time).Scan(&ip.ID)
	return ip, mapError(err)
}

func (s *Store) GetOrCreateNominalLocation(ctx context.Context, loc domain.NominalLocation) (domain.NominalLocation, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO nominal_location (activity_id, depth, lon, lat, geom)
VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($3, $4), 4326))
ON CONFLICT (activity_id, depth, lon, lat) DO UPDATE SET depth = EXCLUDED.depth
RETURNING id`, loc.ActivityID, loc.Depth, loc.Lon, loc.Lat).Scan(&loc.ID)
	return loc, mapError(err)
}

func (s *Store) GetOrCreateMeasurement(ctx context.Context, _ int64, m domain.Measurement) (domain.Measurement, bool, error) {
	// xmax is 0 only for a row inserted by this statement.
	var created bool
	err := s.pool.QueryRow(ctx, `
INSERT INTO measurement (instant_point_id, nominal_location_id, depth, lon, lat, geom)
VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($4, $5), 4326))
ON CONFLICT (instant_point_id, nominal_location_id, depth, lon, lat) DO UPDATE SET depth = EXCLUDED.depth
RETURNING id, xmax = 0`, m.InstantPointID, m.NominalLocationID, m.Depth, m.Lon, m.Lat).Scan(&m.ID, &created)
	return m, created, mapError(err)
}

func (s *Store) AddMeasuredParameter(ctx context.Context, _ int64, mp domain.MeasuredParameter) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO measured_parameter (measurement_id, parameter_id, datavalue) VALUES ($1, $2, $3)
ON CONFLICT (measurement_id, parameter_id) DO NOTHING`, mp.MeasurementID, mp.ParameterID, mp.Value)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ActivityMeasurements(ctx context.Context, activityID int64) ([]domain.MeasurementSample, error) {
	rows, err := s.pool.Query(ctx, `
SELECT m.id, m.instant_point_id, m.nominal_location_id, ip.timevalue, m.depth, m.lon, m.lat
FROM measurement m
JOIN instant_point ip ON ip.id = m.instant_point_id
WHERE ip.activity_id = $1
ORDER BY ip.timevalue, m.id`, activityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.MeasurementSample
	for rows.Next() {
		var ms domain.MeasurementSample
		if err := rows.Scan(&ms.MeasurementID, &ms.InstantPointID, &ms.NominalLocationID, &ms.Time, &ms.Depth, &ms.Lon, &ms.Lat); err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

func (s *Store) ActivityParameterValues(ctx context.Context, activityID, parameterID int64) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT mp.datavalue
FROM measured_parameter mp
JOIN measurement m ON m.id = mp.measurement_id
JOIN instant_point ip ON ip.id = m.instant_point_id
WHERE ip.activity_id = $1 AND mp.parameter_id = $2`, activityID, parameterID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) CountMeasuredParameters(ctx context.Context, activityID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM measured_parameter mp
JOIN measurement m ON m.id = mp.measurement_id
JOIN instant_point ip ON ip.id = m.instant_point_id
WHERE ip.activity_id = $1`, activityID).Scan(&n)
	return n, mapError(err)
}

func (s *Store) SaveActivityParameter(ctx context.Context, ap domain.ActivityParameter) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		st := ap.Stats
		var id int64
		err := tx.QueryRow(ctx, `
INSERT INTO activity_parameter (activity_id, parameter_id, number, min, max, mean, median, mode, p025, p975, p010, p990)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (activity_id, parameter_id) DO UPDATE
SET number = EXCLUDED.number, min = EXCLUDED.min, max = EXCLUDED.max, mean = EXCLUDED.mean,
    median = EXCLUDED.median, mode = EXCLUDED.mode, p025 = EXCLUDED.p025, p975 = EXCLUDED.p975,
    p010 = EXCLUDED.p010, p990 = EXCLUDED.p990
RETURNING id`,
			ap.ActivityID, ap.ParameterID, st.Number, st.Min, st.Max, st.Mean, st.Median, st.Mode,
			st.P025, st.P975, st.P010, st.P990).Scan(&id)
		if err != nil {
			return mapError(err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM activity_parameter_histogram WHERE activity_parameter_id = $1`, id); err != nil {
			return err
		}
		if len(ap.Histogram) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, b := range ap.Histogram {
			batch.Queue(`INSERT INTO activity_parameter_histogram (activity_parameter_id, binlo, binhi, bincount) VALUES ($1, $2, $3, $4)`,
				id, b.Low, b.High, b.Count)
		}
		return execBatch(ctx, tx, batch)
	})
}

func (s *Store) ActivityParameters(ctx context.Context, activityID int64) ([]domain.ActivityParameter, error) {
	rows, err := s.pool.Query(ctx, `
SELECT ap.parameter_id, ap.number, ap.min, ap.max, ap.mean, ap.median, ap.mode, ap.p025, ap.p975, ap.p010, ap.p990,
       h.binlo, h.binhi, h.bincount
FROM activity_parameter ap
LEFT JOIN activity_parameter_histogram h ON h.activity_parameter_id = ap.id
WHERE ap.activity_id = $1
ORDER BY ap.parameter_id, h.binlo`, activityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.ActivityParameter
	for rows.Next() {
		var pid int64
		var st domain.Stats
		var lo, hi *float64
		var count *int64
		if err := rows.Scan(&pid, &st.Number, &st.Min, &st.Max, &st.Mean, &st.Median, &st.Mode,
			&st.P025, &st.P975, &st.P010, &st.P990, &lo, &hi, &count); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ParameterID != pid {
			out = append(out, domain.ActivityParameter{ActivityID: activityID, ParameterID: pid, Stats: st})
		}
		if lo != nil && hi != nil && count != nil {
			last := &out[len(out)-1]
			last.Histogram = append(last.Histogram, domain.HistogramBin{Low: *lo, High: *hi, Count: *count})
		}
	}
	return out, rows.Err()
}

func (s *Store) SaveSimpleDepthTimes(ctx context.Context, activityID int64, pts []domain.SimpleDepthTime) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM simple_depth_time WHERE activity_id = $1`, activityID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, p := range pts {
			batch.Queue(`INSERT INTO simple_depth_time (activity_id, nominal_location_id, instant_point_id, epochmilliseconds, depth) VALUES ($1, $2, $3, $4, $5)`,
				activityID, p.NominalLocationID, p.InstantPointID, p.EpochMillis, p.Depth)
		}
		return execBatch(ctx, tx, batch)
	})
}

func (s *Store) SaveSimpleBottomDepthTimes(ctx context.Context, activityID int64, pts []domain.SimpleBottomDepthTime) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM simple_bottom_depth_time WHERE activity_id = $1`, activityID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, p := range pts {
			batch.Queue(`INSERT INTO simple_bottom_depth_time (activity_id, instant_point_id, epochmilliseconds, bottomdepth) VALUES ($1, $2, $3, $4)`,
				activityID, p.InstantPointID, p.EpochMillis, p.BottomDepth)
		}
		return execBatch(ctx, tx, batch)
	})
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	res := tx.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lineStringWKT(pts []domain.Point) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = formatCoord(p.Lon) + " " + formatCoord(p.Lat)
	}
	return "LINESTRING(" + strings.Join(parts, ", ") + ")"
}

// parseWKTPoints reads the coordinates of a POINT or LINESTRING.
func parseWKTPoints(wkt string) []domain.Point {
	open := strings.IndexByte(wkt, '(')
	end := strings.LastIndexByte(wkt, ')')
	if open < 0 || end <= open {
		return nil
	}
	var out []domain.Point
	for _, pair := range strings.Split(wkt[open+1:end], ",") {
		f := strings.Fields(pair)
		if len(f) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(f[0], 64)
		lat, err2 := strconv.ParseFloat(f[1], 64)
		if err1 == nil && err2 == nil {
			out = append(out, domain.Point{Lon: lon, Lat: lat})
		}
	}
	return out
}
