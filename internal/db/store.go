package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/route"
	"bus-tracker/internal/tracking"
	"bus-tracker/internal/transit"
)

const uniqueViolation = "23505"

// Store persists the catalogue, sessions and trackings in PostgreSQL.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Stop(ctx context.Context, id string) (transit.Stop, error) {
	q := `SELECT busstop_id, street1, street2, latitude, longitude FROM bus_stops WHERE busstop_id = $1`
	var st transit.Stop
	err := s.db.QueryRowContext(ctx, q, id).Scan(&st.ID, &st.Street1, &st.Street2, &st.Location.Lat, &st.Location.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return transit.Stop{}, transit.ErrNotFound
	}
	if err != nil {
		return transit.Stop{}, fmt.Errorf("query stop %s: %w", id, err)
	}
	return st, nil
}

func (s *Store) SearchStops(ctx context.Context, query string, limit int) ([]transit.Stop, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT busstop_id, street1, street2, latitude, longitude
FROM bus_stops
WHERE street1 ILIKE '%' || $1 || '%' OR street2 ILIKE '%' || $1 || '%' OR busstop_id LIKE '%' || $1 || '%'
ORDER BY street1, street2, busstop_id
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search stops: %w", err)
	}
	defer rows.Close()
	var out []transit.Stop
	for rows.Next() {
		var st transit.Stop
		if err := rows.Scan(&st.ID, &st.Street1, &st.Street2, &st.Location.Lat, &st.Location.Lon); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) SaveStops(ctx context.Context, stops []transit.Stop) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := `
INSERT INTO bus_stops (busstop_id, street1, street2, latitude, longitude)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (busstop_id) DO UPDATE
SET street1 = EXCLUDED.street1, street2 = EXCLUDED.street2,
    latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, updated_at = now()`
	for _, st := range stops {
		if _, err := tx.ExecContext(ctx, q, st.ID, st.Street1, st.Street2, st.Location.Lat, st.Location.Lon); err != nil {
			return fmt.Errorf("upsert stop %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// SaveLineVariant finds or creates the line by number and the variant by
// external id. Existing variants and their stop sequences are left alone.
func (s *Store) SaveLineVariant(ctx context.Context, line transit.Line, v route.Variant) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO lines (line_number, api_line_id, name) VALUES ($1, NULLIF($2, ''), $3)
ON CONFLICT (line_number) DO UPDATE SET api_line_id = COALESCE(lines.api_line_id, EXCLUDED.api_line_id)`,
		line.Number, line.ExternalID, line.Name)
	if err != nil {
		return false, fmt.Errorf("upsert line %s: %w", line.Number, err)
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO line_variants (api_line_variant_id, line_number, origin, destination, subline, special)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (api_line_variant_id) DO NOTHING`,
		v.ID, line.Number, v.Origin, v.Destination, v.Subline, v.Special)
	if err != nil {
		return false, fmt.Errorf("insert variant %s: %w", v.ID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

const variantQuery = `
SELECT v.api_line_variant_id, v.line_number, v.origin, v.destination, v.subline, v.special,
       vs.ordinal, s.busstop_id, s.street1, s.street2, s.latitude, s.longitude
FROM line_variants v
LEFT JOIN variant_stops vs ON vs.variant_id = v.api_line_variant_id
LEFT JOIN bus_stops s ON s.busstop_id = vs.busstop_id
`

func (s *Store) Variant(ctx context.Context, id string) (*route.Variant, error) {
	vs, err := s.queryVariants(ctx, variantQuery+`WHERE v.api_line_variant_id = $1 ORDER BY vs.ordinal`, id)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, transit.ErrNotFound
	}
	return vs[0], nil
}

func (s *Store) VariantsForStop(ctx context.Context, stopID string) ([]*route.Variant, error) {
	return s.queryVariants(ctx, variantQuery+`
WHERE v.api_line_variant_id IN (SELECT variant_id FROM variant_stops WHERE busstop_id = $1)
ORDER BY v.api_line_variant_id, vs.ordinal`, stopID)
}

func (s *Store) queryVariants(ctx context.Context, q string, arg string) ([]*route.Variant, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var out []*route.Variant
	var cur *route.Variant
	for rows.Next() {
		var v route.Variant
		var ordinal sql.NullInt64
		var stopID, street1, street2 sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&v.ID, &v.LineNumber, &v.Origin, &v.Destination, &v.Subline, &v.Special,
			&ordinal, &stopID, &street1, &street2, &lat, &lon); err != nil {
			return nil, err
		}
		if cur == nil || cur.ID != v.ID {
			cur = &v
			out = append(out, cur)
		}
		if ordinal.Valid && stopID.Valid {
			cur.Stops = append(cur.Stops, route.StopRef{
				Ordinal: int(ordinal.Int64),
				Stop: transit.Stop{
					ID:       stopID.String,
					Street1:  street1.String,
					Street2:  street2.String,
					Location: geo.Point{Lat: lat.Float64, Lon: lon.Float64},
				},
			})
		}
	}
	return out, rows.Err()
}

const sessionColumns = `id, busstop_id, lines, line_variant_ids, active, started_at, last_job_run_at`

func scanSession(row interface{ Scan(...any) error }) (transit.Session, error) {
	var ss transit.Session
	var lines, variants string
	var lastRun sql.NullTime
	if err := row.Scan(&ss.ID, &ss.StopID, &lines, &variants, &ss.Active, &ss.StartedAt, &lastRun); err != nil {
		return transit.Session{}, err
	}
	if err := json.Unmarshal([]byte(lines), &ss.Lines); err != nil {
		return transit.Session{}, fmt.Errorf("session %s lines: %w", ss.ID, err)
	}
	if err := json.Unmarshal([]byte(variants), &ss.VariantIDs); err != nil {
		return transit.Session{}, fmt.Errorf("session %s variants: %w", ss.ID, err)
	}
	if lastRun.Valid {
		ss.LastRunAt = lastRun.Time
	}
	return ss, nil
}

func (s *Store) Session(ctx context.Context, id string) (transit.Session, error) {
	ss, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM stop_trackings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return transit.Session{}, transit.ErrNotFound
	}
	return ss, err
}

func (s *Store) ActiveSession(ctx context.Context, stopID string) (transit.Session, error) {
	ss, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM stop_trackings WHERE busstop_id = $1 AND active`, stopID))
	if errors.Is(err, sql.ErrNoRows) {
		return transit.Session{}, transit.ErrNotFound
	}
	return ss, err
}

func (s *Store) ActiveSessions(ctx context.Context) ([]transit.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM stop_trackings WHERE active ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()
	var out []transit.Session
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// CreateSession relies on the partial unique index over active sessions, so
// two concurrent starts on one stop cannot both succeed.
func (s *Store) CreateSession(ctx context.Context, ss transit.Session) error {
	lines, err := json.Marshal(ss.Lines)
	if err != nil {
		return err
	}
	variants := []byte("[]")
	if len(ss.VariantIDs) > 0 {
		if variants, err = json.Marshal(ss.VariantIDs); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM bus_stops WHERE busstop_id = $1`, ss.StopID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return transit.ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO stop_trackings (id, busstop_id, lines, line_variant_ids, active, started_at)
VALUES ($1, $2, $3, $4, true, $5)`, ss.ID, ss.StopID, string(lines), string(variants), ss.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return transit.ErrSessionActive
		}
		return fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bus_trackings SET tracking_active = true WHERE busstop_id = $1`, ss.StopID); err != nil {
		return fmt.Errorf("reactivate trackings: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeactivateStop(ctx context.Context, stopID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE stop_trackings SET active = false WHERE busstop_id = $1 AND active`, stopID)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `UPDATE bus_trackings SET tracking_active = false WHERE busstop_id = $1 AND tracking_active`, stopID); err != nil {
		return 0, fmt.Errorf("deactivate trackings: %w", err)
	}
	return int(n), tx.Commit()
}

func (s *Store) MarkSessionRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stop_trackings SET last_job_run_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return transit.ErrNotFound
	}
	return nil
}

const trackingColumns = `id, busstop_id, bus_id, line, line_variant_id, latitude, longitude,
       distance_to_stop, speed, api_timestamp, last_seen_at, tracking_active, missing_count`

func (s *Store) FindOrCreateTracking(ctx context.Context, stopID, busID, line, variantID string, now time.Time) (*tracking.Tracking, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bus_trackings (busstop_id, bus_id, line, line_variant_id, last_seen_at, tracking_active)
VALUES ($1, $2, $3, $4, $5, true)
ON CONFLICT (busstop_id, bus_id) DO NOTHING`, stopID, busID, line, variantID, now)
	if err != nil {
		return nil, fmt.Errorf("insert tracking %s/%s: %w", stopID, busID, err)
	}
	ts, err := s.queryTrackings(ctx, `SELECT `+trackingColumns+` FROM bus_trackings WHERE busstop_id = $1 AND bus_id = $2`, stopID, busID)
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, transit.ErrNotFound
	}
	return ts[0], nil
}

// SaveTracking writes derived fields, appends new samples and drops the
// ones that fell out of the retained history.
func (s *Store) SaveTracking(ctx context.Context, t *tracking.Tracking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lat, lon sql.NullFloat64
	if !t.Location.IsZero() {
		lat = sql.NullFloat64{Float64: t.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: t.Location.Lon, Valid: true}
	}
	var sampleTime sql.NullTime
	if !t.SampleTime.IsZero() {
		sampleTime = sql.NullTime{Time: t.SampleTime, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
UPDATE bus_trackings
SET latitude = $2, longitude = $3, distance_to_stop = $4, speed = $5,
    api_timestamp = $6, last_seen_at = $7, missing_count = $8
WHERE id = $1`,
		t.ID, lat, lon, nullFloat(t.DistanceToStop), nullFloat(t.Speed), sampleTime, t.LastSeen, t.MissingCount)
	if err != nil {
		return fmt.Errorf("update tracking %d: %w", t.ID, err)
	}

	positions := t.Positions()
	for _, p := range positions {
		_, err := tx.ExecContext(ctx, `
INSERT INTO bus_positions (bus_tracking_id, latitude, longitude, distance_to_stop, speed, api_timestamp)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (bus_tracking_id, api_timestamp) DO NOTHING`,
			t.ID, p.Location.Lat, p.Location.Lon, p.DistanceToStop, nullFloat(p.Speed), p.Timestamp)
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	}
	if len(positions) == 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM bus_positions WHERE bus_tracking_id = $1`, t.ID)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM bus_positions WHERE bus_tracking_id = $1 AND api_timestamp < $2`, t.ID, positions[0].Timestamp)
	}
	if err != nil {
		return fmt.Errorf("prune positions: %w", err)
	}
	return tx.Commit()
}

func (s *Store) MarkMissing(ctx context.Context, stopID, busID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE bus_trackings SET missing_count = missing_count + 1
WHERE busstop_id = $1 AND bus_id = $2 AND tracking_active`, stopID, busID)
	if err != nil {
		return fmt.Errorf("mark missing %s/%s: %w", stopID, busID, err)
	}
	return nil
}

func (s *Store) ActiveTrackings(ctx context.Context, stopID string) ([]*tracking.Tracking, error) {
	return s.queryTrackings(ctx, `SELECT `+trackingColumns+` FROM bus_trackings WHERE busstop_id = $1 AND tracking_active ORDER BY id`, stopID)
}

func (s *Store) TrackingsSeenSince(ctx context.Context, stopID string, since time.Time) ([]*tracking.Tracking, error) {
	return s.queryTrackings(ctx, `SELECT `+trackingColumns+` FROM bus_trackings WHERE busstop_id = $1 AND last_seen_at > $2 ORDER BY id`, stopID, since)
}

func (s *Store) queryTrackings(ctx context.Context, q string, args ...any) ([]*tracking.Tracking, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trackings: %w", err)
	}
	var out []*tracking.Tracking
	for rows.Next() {
		t := &tracking.Tracking{}
		var lat, lon, dist, speed sql.NullFloat64
		var sampleTime sql.NullTime
		if err := rows.Scan(&t.ID, &t.StopID, &t.BusID, &t.Line, &t.VariantID, &lat, &lon,
			&dist, &speed, &sampleTime, &t.LastSeen, &t.Active, &t.MissingCount); err != nil {
			rows.Close()
			return nil, err
		}
		if lat.Valid && lon.Valid {
			t.Location = geo.Point{Lat: lat.Float64, Lon: lon.Float64}
		}
		t.DistanceToStop = floatPtr(dist)
		t.Speed = floatPtr(speed)
		if sampleTime.Valid {
			t.SampleTime = sampleTime.Time
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range out {
		positions, err := s.positions(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.Restore(positions)
	}
	return out, nil
}

func (s *Store) positions(ctx context.Context, trackingID int64) ([]tracking.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT latitude, longitude, distance_to_stop, speed, api_timestamp
FROM bus_positions WHERE bus_tracking_id = $1 ORDER BY api_timestamp`, trackingID)
	if err != nil {
		return nil, fmt.Errorf("query positions %d: %w", trackingID, err)
	}
	defer rows.Close()
	var out []tracking.Position
	for rows.Next() {
		var p tracking.Position
		var speed sql.NullFloat64
		if err := rows.Scan(&p.Location.Lat, &p.Location.Lon, &p.DistanceToStop, &speed, &p.Timestamp); err != nil {
			return nil, err
		}
		p.Speed = floatPtr(speed)
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
