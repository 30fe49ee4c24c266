// Package store persists pipeline output and the measurement cache in
// SQLite. One database file per corpus; writers batch, readers are rare.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"geohint/internal/geo"
	"geohint/internal/model"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		domain TEXT NOT NULL,
		ipv4 TEXT,
		outcome TEXT NOT NULL,
		code_type TEXT,
		code TEXT,
		location_id INTEGER,
		rtt_ms REAL,
		distance_km REAL,
		probe_id INTEGER,
		data JSON NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS measurements (
		target TEXT NOT NULL,
		probe_id INTEGER NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		rtt_kind INTEGER NOT NULL,
		rtt_ms REAL,
		measured_at DATETIME NOT NULL,
		PRIMARY KEY (target, probe_id)
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_outcome ON outcomes(outcome);
	CREATE INDEX IF NOT EXISTS idx_outcomes_domain ON outcomes(domain);
	CREATE INDEX IF NOT EXISTS idx_measurements_target ON measurements(target, measured_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WriteBatch inserts one batch of classified domains in a single
// transaction.
func (s *Store) WriteBatch(ctx context.Context, outcome model.Outcome, domains []*model.Domain) error {
	if len(domains) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (domain, ipv4, outcome, code_type, code, location_id, rtt_ms, distance_km, probe_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range domains {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal domain %s: %w", d.Name, err)
		}

		var codeType, code sql.NullString
		var locationID, probeID sql.NullInt64
		var rttMs, distKm sql.NullFloat64
		if c := d.Confirmed; c != nil {
			codeType = sql.NullString{String: string(c.Type), Valid: true}
			code = sql.NullString{String: c.Code, Valid: true}
			locationID = sql.NullInt64{Int64: int64(c.LocationID), Valid: true}
			probeID = sql.NullInt64{Int64: c.ProbeID, Valid: true}
			rttMs = sql.NullFloat64{Float64: c.RTTMs, Valid: true}
			distKm = sql.NullFloat64{Float64: c.DistanceKm, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, d.Name, d.IPv4, string(outcome),
			codeType, code, locationID, rttMs, distKm, probeID, data); err != nil {
			return fmt.Errorf("insert domain %s: %w", d.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Record upserts one measurement into the cache.
func (s *Store) Record(ctx context.Context, m model.CachedMeasurement) error {
	var ms sql.NullFloat64
	if m.RTT.IsMeasured() {
		ms = sql.NullFloat64{Float64: m.RTT.Ms, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO measurements (target, probe_id, lat, lon, rtt_kind, rtt_ms, measured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target, probe_id) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			rtt_kind = excluded.rtt_kind,
			rtt_ms = excluded.rtt_ms,
			measured_at = excluded.measured_at
	`, m.Target, m.ProbeID, m.Coord.Lat, m.Coord.Lon, int(m.RTT.Kind), ms, m.At.UTC())
	if err != nil {
		return fmt.Errorf("record measurement: %w", err)
	}
	return nil
}

// Fresh returns the cached sample with the lowest measured RTT between the
// target and any of the given probes, no older than since.
func (s *Store) Fresh(ctx context.Context, target string, probeIDs []int64, since time.Time) (model.CachedMeasurement, bool, error) {
	if len(probeIDs) == 0 {
		return model.CachedMeasurement{}, false, nil
	}

	placeholders := strings.Repeat("?,", len(probeIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(probeIDs)+3)
	args = append(args, target, since.UTC(), int(model.RTTMeasured))
	for _, id := range probeIDs {
		args = append(args, id)
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT probe_id, lat, lon, rtt_ms, measured_at
		FROM measurements
		WHERE target = ? AND measured_at >= ? AND rtt_kind = ? AND probe_id IN (%s)
		ORDER BY rtt_ms ASC
		LIMIT 1
	`, placeholders), args...)

	var (
		probeID    int64
		lat, lon   float64
		rttMs      float64
		measuredAt time.Time
	)
	err := row.Scan(&probeID, &lat, &lon, &rttMs, &measuredAt)
	if err == sql.ErrNoRows {
		return model.CachedMeasurement{}, false, nil
	}
	if err != nil {
		return model.CachedMeasurement{}, false, fmt.Errorf("query measurement cache: %w", err)
	}

	return model.CachedMeasurement{
		Target:  target,
		ProbeID: probeID,
		Coord:   geo.Coordinate{Lat: lat, Lon: lon},
		RTT:     model.Measured(rttMs),
		At:      measuredAt,
	}, true, nil
}

// OutcomeCounts tallies persisted domains per outcome class.
func (s *Store) OutcomeCounts(ctx context.Context) (map[model.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM outcomes GROUP BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[model.Outcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}
