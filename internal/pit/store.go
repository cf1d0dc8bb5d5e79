// Package pit implements the bitemporal observation store: an append-only
// (upserted) table of (series, observation period, as-of instant) -> value
// rows answering "latest known as of T" and revision-history queries.
//
// Every datetime is normalized to UTC before storage; observation periods are
// keyed by UTC calendar date. The natural key (series_key, obs_date, asof_utc)
// is unique, so re-applying an upsert overwrites values without growing the
// table. A monotone ingest sequence is kept as the deterministic secondary
// order key for snapshot ranking.
package pit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"alphaforge/internal/observability"
	"alphaforge/internal/refperiod"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Driver identifies a concrete storage backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Observation is one bitemporal row. SeriesKey, ObsDate and AsOf form the
// natural key; the remaining fields are payload.
type Observation struct {
	SeriesKey   string
	ObsDate     time.Time // observation period end, UTC date
	AsOf        time.Time // when this value became known
	Value       float64
	ReleaseTime *time.Time
	RevisionID  string
	Source      string
	MetaJSON    string
}

// PeriodValue is one snapshot result row.
type PeriodValue struct {
	ObsDate time.Time
	Value   float64
}

// Revision is one revision-timeline result row.
type Revision struct {
	AsOf  time.Time
	Value float64
}

// SnapshotMethod selects the snapshot ranking rule.
type SnapshotMethod string

// MethodLatestLEQ picks, per period, the value with the maximal as-of instant
// not exceeding the query's as-of. It is the only supported method.
const MethodLatestLEQ SnapshotMethod = "latest_leq"

// SnapshotOptions restricts a snapshot query.
type SnapshotOptions struct {
	Start  time.Time // optional observation-period lower bound
	End    time.Time // optional observation-period upper bound
	Method SnapshotMethod
}

// TimelineOptions restricts a revision-timeline query.
type TimelineOptions struct {
	StartAsOf time.Time
	EndAsOf   time.Time
}

// Store is the PIT accessor over an owned SQL connection. Close releases it;
// the store does not assume any process-wide cached connection.
type Store struct {
	db      *sql.DB
	driver  Driver
	logger  observability.Logger
	metrics observability.MetricsRecorder
	now     func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger injects a structured logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics injects a metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Store) { s.metrics = m }
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS pit_observations (
	ingest_seq INTEGER PRIMARY KEY AUTOINCREMENT,
	series_key TEXT NOT NULL,
	obs_date TEXT NOT NULL,
	asof_utc TEXT NOT NULL,
	value DOUBLE,
	release_time_utc TEXT,
	revision_id TEXT,
	source TEXT,
	meta_json TEXT,
	ingested_utc TEXT NOT NULL,
	UNIQUE(series_key, obs_date, asof_utc)
);
CREATE INDEX IF NOT EXISTS pit_series_obs ON pit_observations(series_key, obs_date);
CREATE INDEX IF NOT EXISTS pit_series_asof ON pit_observations(series_key, asof_utc);`

const postgresDDL = `
CREATE TABLE IF NOT EXISTS pit_observations (
	ingest_seq BIGSERIAL PRIMARY KEY,
	series_key TEXT NOT NULL,
	obs_date TEXT NOT NULL,
	asof_utc TEXT NOT NULL,
	value DOUBLE PRECISION,
	release_time_utc TEXT,
	revision_id TEXT,
	source TEXT,
	meta_json TEXT,
	ingested_utc TEXT NOT NULL,
	UNIQUE(series_key, obs_date, asof_utc)
);
CREATE INDEX IF NOT EXISTS pit_series_obs ON pit_observations(series_key, obs_date);
CREATE INDEX IF NOT EXISTS pit_series_asof ON pit_observations(series_key, asof_utc);`

// NewSQLite opens (creating if needed) a sqlite-backed store at path.
func NewSQLite(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = "alphaforge.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newStore(db, DriverSQLite, sqliteDDL, opts...)
}

// NewPostgres opens a postgres-backed store using the provided DSN.
func NewPostgres(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newStore(db, DriverPostgres, postgresDDL, opts...)
}

// Open selects a backend using environment variables, defaulting to sqlite.
//
//	ALPHAFORGE_PIT_DRIVER: sqlite|postgres (default sqlite)
//	ALPHAFORGE_PIT_SQLITE_PATH: sqlite file path (default ./alphaforge.db)
//	ALPHAFORGE_PIT_POSTGRES_DSN: DSN when driver=postgres
func Open(opts ...Option) (*Store, error) {
	driver := os.Getenv("ALPHAFORGE_PIT_DRIVER")
	if driver == "" {
		driver = string(DriverSQLite)
	}
	switch Driver(driver) {
	case DriverSQLite:
		return NewSQLite(os.Getenv("ALPHAFORGE_PIT_SQLITE_PATH"), opts...)
	case DriverPostgres:
		return NewPostgres(os.Getenv("ALPHAFORGE_PIT_POSTGRES_DSN"), opts...)
	default:
		return nil, fmt.Errorf("unknown pit driver %s", driver)
	}
}

func newStore(db *sql.DB, driver Driver, ddl string, opts ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		driver:  driver,
		logger:  observability.NopLogger{},
		metrics: observability.NopMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply pit schema: %w", err)
		}
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Driver returns the configured backend driver.
func (s *Store) Driver() Driver { return s.driver }

// rebind converts ?-style placeholders to the driver's dialect.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	asofLayout = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

// fmtInstant renders a UTC instant in a fixed-width form whose lexical order
// matches chronological order.
func fmtInstant(t time.Time) string { return t.UTC().Format(asofLayout) }

func fmtObsDate(t time.Time) string {
	u := t.UTC()
	return u.Format(dateLayout)
}

func parseInstant(s string) (time.Time, error) { return time.Parse(asofLayout, s) }

func parseObsDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s *Store) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("pit operation failed", "operation", op, "error", err)
	}
}

// Upsert writes a batch of observations. Each row requires series key,
// observation date and as-of instant; missing fields are input errors. The
// write is idempotent per natural key: a conflicting row overwrites value and
// payload fields without creating a new row. Each row is applied as a single
// insert-or-update statement.
func (s *Store) Upsert(ctx context.Context, rows []Observation) (err error) {
	start := s.now()
	defer func() { s.observe(ctx, "pit_upsert", start, err) }()

	for i, r := range rows {
		if r.SeriesKey == "" {
			return fmt.Errorf("row %d: series_key is required", i)
		}
		if r.ObsDate.IsZero() {
			return fmt.Errorf("row %d: obs_date is required", i)
		}
		if r.AsOf.IsZero() {
			return fmt.Errorf("row %d: asof_utc is required", i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := s.rebind(`INSERT INTO pit_observations
		(series_key, obs_date, asof_utc, value, release_time_utc, revision_id, source, meta_json, ingested_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_key, obs_date, asof_utc) DO UPDATE SET
			value=excluded.value,
			release_time_utc=excluded.release_time_utc,
			revision_id=excluded.revision_id,
			source=excluded.source,
			meta_json=excluded.meta_json,
			ingested_utc=excluded.ingested_utc`)

	ingested := fmtInstant(s.now())
	for _, r := range rows {
		var release any
		if r.ReleaseTime != nil {
			release = fmtInstant(*r.ReleaseTime)
		}
		if _, err = tx.ExecContext(ctx, query,
			r.SeriesKey, fmtObsDate(r.ObsDate), fmtInstant(r.AsOf), r.Value,
			release, nullIfEmpty(r.RevisionID), nullIfEmpty(r.Source), nullIfEmpty(r.MetaJSON), ingested,
		); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", r.SeriesKey, fmtObsDate(r.ObsDate), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	s.logger.Debug("pit upsert applied", "rows", len(rows))
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Count returns the stored row count for one series.
func (s *Store) Count(ctx context.Context, seriesKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM pit_observations WHERE series_key = ?`), seriesKey).Scan(&n)
	return n, err
}

// Snapshot answers "latest known value as of asOf" for every observation
// period of the series, ascending by period. Periods with no qualifying row
// are excluded. Ties on the maximal as-of instant resolve to the most
// recently ingested row.
func (s *Store) Snapshot(ctx context.Context, seriesKey string, asOf time.Time, opts SnapshotOptions) (_ []PeriodValue, err error) {
	start := s.now()
	defer func() { s.observe(ctx, "pit_snapshot", start, err) }()

	if opts.Method == "" {
		opts.Method = MethodLatestLEQ
	}
	if opts.Method != MethodLatestLEQ {
		return nil, fmt.Errorf("unsupported snapshot method: %q", opts.Method)
	}

	filters := []string{"series_key = ?", "asof_utc <= ?"}
	params := []any{seriesKey, fmtInstant(asOf)}
	if !opts.Start.IsZero() {
		filters = append(filters, "obs_date >= ?")
		params = append(params, fmtObsDate(opts.Start))
	}
	if !opts.End.IsZero() {
		filters = append(filters, "obs_date <= ?")
		params = append(params, fmtObsDate(opts.End))
	}

	query := s.rebind(fmt.Sprintf(`SELECT obs_date, value FROM (
			SELECT obs_date, value,
				ROW_NUMBER() OVER (
					PARTITION BY obs_date
					ORDER BY asof_utc DESC, ingest_seq DESC
				) AS rn
			FROM pit_observations
			WHERE %s
		) ranked
		WHERE rn = 1
		ORDER BY obs_date`, strings.Join(filters, " AND ")))

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", seriesKey, err)
	}
	defer func() { _ = rows.Close() }()

	var out []PeriodValue
	for rows.Next() {
		var obs string
		var value float64
		if err = rows.Scan(&obs, &value); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		ts, perr := parseObsDate(obs)
		if perr != nil {
			return nil, fmt.Errorf("decode obs_date %q: %w", obs, perr)
		}
		out = append(out, PeriodValue{ObsDate: ts, Value: value})
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RevisionTimeline returns every recorded revision for one observation
// period, ascending by as-of instant, optionally windowed.
func (s *Store) RevisionTimeline(ctx context.Context, seriesKey string, obsDate time.Time, opts TimelineOptions) (_ []Revision, err error) {
	start := s.now()
	defer func() { s.observe(ctx, "pit_revision_timeline", start, err) }()

	filters := []string{"series_key = ?", "obs_date = ?"}
	params := []any{seriesKey, fmtObsDate(obsDate)}
	if !opts.StartAsOf.IsZero() {
		filters = append(filters, "asof_utc >= ?")
		params = append(params, fmtInstant(opts.StartAsOf))
	}
	if !opts.EndAsOf.IsZero() {
		filters = append(filters, "asof_utc <= ?")
		params = append(params, fmtInstant(opts.EndAsOf))
	}

	query := s.rebind(fmt.Sprintf(`SELECT asof_utc, value FROM pit_observations
		WHERE %s
		ORDER BY asof_utc ASC, ingest_seq ASC`, strings.Join(filters, " AND ")))

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("revision timeline %s: %w", seriesKey, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Revision
	for rows.Next() {
		var asof string
		var value float64
		if err = rows.Scan(&asof, &value); err != nil {
			return nil, fmt.Errorf("scan revision row: %w", err)
		}
		ts, perr := parseInstant(asof)
		if perr != nil {
			return nil, fmt.Errorf("decode asof_utc %q: %w", asof, perr)
		}
		out = append(out, Revision{AsOf: ts, Value: value})
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveRef parses a reference-period key and cross-checks the frequency
// when one is supplied.
func resolveRef(ref string, freq refperiod.Freq) (time.Time, error) {
	period, err := refperiod.Parse(ref)
	if err != nil {
		return time.Time{}, err
	}
	if freq != "" && period.Freq != freq {
		return time.Time{}, fmt.Errorf("reference period %q has frequency %s, want %s", ref, period.Freq, freq)
	}
	return period.EndObsDate()
}

// SnapshotRef is Snapshot with observation-period bounds given as fiscal
// reference-period keys. Empty bounds are ignored; freq, when non-empty, must
// agree with each parsed period.
func (s *Store) SnapshotRef(ctx context.Context, seriesKey string, asOf time.Time, startRef, endRef string, freq refperiod.Freq) ([]PeriodValue, error) {
	opts := SnapshotOptions{}
	if startRef != "" {
		start, err := resolveRef(startRef, freq)
		if err != nil {
			return nil, err
		}
		opts.Start = start
	}
	if endRef != "" {
		end, err := resolveRef(endRef, freq)
		if err != nil {
			return nil, err
		}
		opts.End = end
	}
	return s.Snapshot(ctx, seriesKey, asOf, opts)
}

// RevisionTimelineRef resolves a fiscal reference-period key to its
// observation end date and returns that period's revision timeline.
func (s *Store) RevisionTimelineRef(ctx context.Context, seriesKey, ref string, freq refperiod.Freq, opts TimelineOptions) ([]Revision, error) {
	obsDate, err := resolveRef(ref, freq)
	if err != nil {
		return nil, err
	}
	return s.RevisionTimeline(ctx, seriesKey, obsDate, opts)
}
