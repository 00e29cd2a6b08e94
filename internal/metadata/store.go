package metadata

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/model"
)

// Store is the node-local authoritative copy of locations and metric info,
// keyed by (db, namespace, metric, bin). Values are deterministic functions of
// their key and membership, so replicas converge through the pub/sub feed;
// conflicting owners resolve to the minimum node id.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenStore opens (or creates) the metadata database.
func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		db       TEXT    NOT NULL,
		ns       TEXT    NOT NULL,
		metric   TEXT    NOT NULL,
		bin      INTEGER NOT NULL,
		node_id  TEXT    NOT NULL,
		lower_ts INTEGER NOT NULL,
		upper_ts INTEGER NOT NULL,
		PRIMARY KEY (db, ns, metric, bin)
	);
	CREATE TABLE IF NOT EXISTS metric_info (
		db             TEXT    NOT NULL,
		ns             TEXT    NOT NULL,
		metric         TEXT    NOT NULL,
		shard_interval INTEGER NOT NULL,
		retention      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (db, ns, metric)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metadata tables: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "metadata-store").Logger(),
	}, nil
}

// PutLocation upserts a location. On key conflict the minimum node id wins,
// which makes concurrent creates from disagreeing views converge.
func (s *Store) PutLocation(db, ns string, loc model.Location) error {
	_, err := s.db.Exec(`
		INSERT INTO locations (db, ns, metric, bin, node_id, lower_ts, upper_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (db, ns, metric, bin) DO UPDATE SET
			node_id = CASE WHEN excluded.node_id < node_id THEN excluded.node_id ELSE node_id END`,
		db, ns, loc.Metric, loc.Bin, loc.NodeID, loc.LowerTS, loc.UpperTS)
	if err != nil {
		return fmt.Errorf("failed to store location: %w", err)
	}
	return nil
}

// GetLocation reads one location by key.
func (s *Store) GetLocation(db, ns, metric string, bin int64) (model.Location, bool, error) {
	row := s.db.QueryRow(`
		SELECT node_id, lower_ts, upper_ts FROM locations
		WHERE db = ? AND ns = ? AND metric = ? AND bin = ?`,
		db, ns, metric, bin)

	loc := model.Location{Metric: metric, Bin: bin}
	err := row.Scan(&loc.NodeID, &loc.LowerTS, &loc.UpperTS)
	if err == sql.ErrNoRows {
		return model.Location{}, false, nil
	}
	if err != nil {
		return model.Location{}, false, fmt.Errorf("failed to read location: %w", err)
	}
	return loc, true, nil
}

// LocationsFor lists every location of a metric, ordered by bin.
func (s *Store) LocationsFor(db, ns, metric string) ([]model.Location, error) {
	rows, err := s.db.Query(`
		SELECT bin, node_id, lower_ts, upper_ts FROM locations
		WHERE db = ? AND ns = ? AND metric = ?
		ORDER BY bin`,
		db, ns, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()
	return scanLocations(rows, metric)
}

// LocationsOverlapping lists the locations of a metric intersecting the
// inclusive range [lo, hi], ordered by bin.
func (s *Store) LocationsOverlapping(db, ns, metric string, lo, hi int64) ([]model.Location, error) {
	rows, err := s.db.Query(`
		SELECT bin, node_id, lower_ts, upper_ts FROM locations
		WHERE db = ? AND ns = ? AND metric = ? AND lower_ts <= ? AND upper_ts > ?
		ORDER BY bin`,
		db, ns, metric, hi, lo)
	if err != nil {
		return nil, fmt.Errorf("failed to list overlapping locations: %w", err)
	}
	defer rows.Close()
	return scanLocations(rows, metric)
}

func scanLocations(rows *sql.Rows, metric string) ([]model.Location, error) {
	var out []model.Location
	for rows.Next() {
		loc := model.Location{Metric: metric}
		if err := rows.Scan(&loc.Bin, &loc.NodeID, &loc.LowerTS, &loc.UpperTS); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// DeleteLocation removes one location.
func (s *Store) DeleteLocation(db, ns, metric string, bin int64) error {
	_, err := s.db.Exec(`DELETE FROM locations WHERE db = ? AND ns = ? AND metric = ? AND bin = ?`,
		db, ns, metric, bin)
	if err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	return nil
}

// DeleteLocations removes every location of a metric.
func (s *Store) DeleteLocations(db, ns, metric string) error {
	_, err := s.db.Exec(`DELETE FROM locations WHERE db = ? AND ns = ? AND metric = ?`, db, ns, metric)
	if err != nil {
		return fmt.Errorf("failed to delete locations: %w", err)
	}
	return nil
}

// PutMetricInfo records shard interval and retention for a metric.
// Append-only per metric: once set, the values are frozen.
func (s *Store) PutMetricInfo(db, ns string, info model.MetricInfo) error {
	_, err := s.db.Exec(`
		INSERT INTO metric_info (db, ns, metric, shard_interval, retention)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (db, ns, metric) DO NOTHING`,
		db, ns, info.Metric, info.ShardInterval, info.Retention)
	if err != nil {
		return fmt.Errorf("failed to store metric info: %w", err)
	}
	return nil
}

// GetMetricInfo reads the metric info, if set.
func (s *Store) GetMetricInfo(db, ns, metric string) (model.MetricInfo, bool, error) {
	row := s.db.QueryRow(`
		SELECT shard_interval, retention FROM metric_info
		WHERE db = ? AND ns = ? AND metric = ?`,
		db, ns, metric)

	info := model.MetricInfo{Metric: metric}
	err := row.Scan(&info.ShardInterval, &info.Retention)
	if err == sql.ErrNoRows {
		return model.MetricInfo{}, false, nil
	}
	if err != nil {
		return model.MetricInfo{}, false, fmt.Errorf("failed to read metric info: %w", err)
	}
	return info, true, nil
}

// DeleteMetricInfo removes the metric info of a dropped metric.
func (s *Store) DeleteMetricInfo(db, ns, metric string) error {
	_, err := s.db.Exec(`DELETE FROM metric_info WHERE db = ? AND ns = ? AND metric = ?`, db, ns, metric)
	if err != nil {
		return fmt.Errorf("failed to delete metric info: %w", err)
	}
	return nil
}

// Expired is one location, with its db and namespace, whose whole bin has
// aged out of its metric's retention window.
type Expired struct {
	Db        string
	Namespace string
	Location  model.Location
}

// ExpiredLocations lists the locations that have aged out at the given instant.
func (s *Store) ExpiredLocations(nowMillis int64) ([]Expired, error) {
	rows, err := s.db.Query(`
		SELECT l.db, l.ns, l.metric, l.bin, l.node_id, l.lower_ts, l.upper_ts
		FROM locations l
		JOIN metric_info i ON i.db = l.db AND i.ns = l.ns AND i.metric = l.metric
		WHERE i.retention > 0 AND l.upper_ts < ? - i.retention`,
		nowMillis)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired locations: %w", err)
	}
	defer rows.Close()

	var out []Expired
	for rows.Next() {
		var e Expired
		if err := rows.Scan(&e.Db, &e.Namespace, &e.Location.Metric, &e.Location.Bin,
			&e.Location.NodeID, &e.Location.LowerTS, &e.Location.UpperTS); err != nil {
			return nil, fmt.Errorf("failed to scan expired location: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
