// Package framestore persists materialized frames and fit-state payloads: a
// sqlite lookup table keyed by realization id pointing at three blob
// artifacts per frame (values table, feature catalog, metadata document),
// and one opaque blob per fit state.
package framestore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"alphaforge/internal/blob"
	"alphaforge/internal/feature"
	"alphaforge/internal/observability"
	"alphaforge/internal/panel"

	_ "modernc.org/sqlite"
)

// Store implements feature.FrameStore. The index database and the blob store
// are owned resources; Close releases the database.
type Store struct {
	db      *sql.DB
	blobs   blob.Store
	logger  observability.Logger
	metrics observability.MetricsRecorder
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

const indexDDL = `
CREATE TABLE IF NOT EXISTS frames (
	realization_id TEXT PRIMARY KEY,
	values_key TEXT NOT NULL,
	catalog_key TEXT NOT NULL,
	meta_key TEXT NOT NULL,
	created_utc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fit_states (
	state_id TEXT PRIMARY KEY,
	blob_key TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	etag TEXT,
	created_utc TEXT NOT NULL
);`

// Open returns a frame store with a sqlite index at path and payloads in the
// given blob store.
func Open(path string, blobs blob.Store, opts ...Option) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("framestore: blob store required")
	}
	if path == "" {
		path = "frames.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open frame index: %w", err)
	}
	s := &Store{
		db:      db,
		blobs:   blobs,
		logger:  observability.NopLogger{},
		metrics: observability.NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, stmt := range strings.Split(indexDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply frame index schema: %w", err)
		}
	}
	return s, nil
}

// OpenFromEnv opens a frame store fully from environment configuration:
// ALPHAFORGE_FRAMES_SQLITE_PATH for the index (default ./frames.db) and the
// ALPHAFORGE_BLOB_* variables for payloads.
func OpenFromEnv(ctx context.Context, opts ...Option) (*Store, error) {
	blobs, err := blob.Open(ctx)
	if err != nil {
		return nil, err
	}
	return Open(os.Getenv("ALPHAFORGE_FRAMES_SQLITE_PATH"), blobs, opts...)
}

// Close releases the index database. The blob store's lifecycle belongs to
// its creator.
func (s *Store) Close() error { return s.db.Close() }

// Serialized artifact documents. Value cells use null for NaN so the JSON
// stays valid; decoding restores NaN.

type valuesDoc struct {
	Fields []string    `json:"fields"`
	Rows   []valuesRow `json:"rows"`
}

type valuesRow struct {
	TS     string     `json:"ts"`
	Entity string     `json:"entity"`
	Values []*float64 `json:"values"`
}

const tsLayout = "2006-01-02T15:04:05.000000000Z"

func encodeValues(p *panel.Panel) ([]byte, error) {
	doc := valuesDoc{Fields: p.Fields(), Rows: make([]valuesRow, 0, p.Len())}
	for i, key := range p.Keys() {
		src := p.Row(i)
		cells := make([]*float64, len(src))
		for j, v := range src {
			if !math.IsNaN(v) {
				vv := v
				cells[j] = &vv
			}
		}
		doc.Rows = append(doc.Rows, valuesRow{TS: key.TS.UTC().Format(tsLayout), Entity: key.Entity, Values: cells})
	}
	return json.Marshal(doc)
}

func decodeValues(raw []byte) (*panel.Panel, error) {
	var doc valuesDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	records := make([]panel.Record, 0, len(doc.Rows))
	for _, row := range doc.Rows {
		ts, err := time.Parse(tsLayout, row.TS)
		if err != nil {
			return nil, fmt.Errorf("decode values timestamp %q: %w", row.TS, err)
		}
		cells := make([]float64, len(row.Values))
		for j, v := range row.Values {
			if v == nil {
				cells[j] = math.NaN()
				continue
			}
			cells[j] = *v
		}
		records = append(records, panel.Record{TS: ts, Entity: row.Entity, Values: cells})
	}
	return panel.FromRecords(doc.Fields, records)
}

func frameKeys(id string) (values, catalog, meta string) {
	return "frames/" + id + "/values.json",
		"frames/" + id + "/catalog.json",
		"frames/" + id + "/meta.json"
}

// PutFrame serializes the frame into its three artifacts and records the
// index row. Concurrent writers racing on the same id produce identical
// artifacts, so an already-present blob is reused rather than treated as a
// failure.
func (s *Store) PutFrame(ctx context.Context, id string, f *feature.Frame) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "frame_put", err == nil, time.Since(start)) }()

	if id == "" {
		return fmt.Errorf("framestore: realization id required")
	}
	if f == nil || f.Values == nil {
		return fmt.Errorf("framestore: frame with values required")
	}
	valuesRaw, err := encodeValues(f.Values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	catalogRaw, err := json.Marshal(f.Catalog)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	metaRaw, err := json.Marshal(f.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	valuesKey, catalogKey, metaKey := frameKeys(id)
	md := map[string]string{"realization_id": id}
	for key, payload := range map[string][]byte{valuesKey: valuesRaw, catalogKey: catalogRaw, metaKey: metaRaw} {
		_, perr := s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json", Metadata: md})
		if perr != nil && !errors.Is(perr, blob.ErrExists) {
			return fmt.Errorf("store artifact %s: %w", key, perr)
		}
	}

	now := time.Now().UTC().Format(tsLayout)
	_, err = s.db.ExecContext(ctx, `INSERT INTO frames (realization_id, values_key, catalog_key, meta_key, created_utc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(realization_id) DO UPDATE SET
			values_key=excluded.values_key, catalog_key=excluded.catalog_key,
			meta_key=excluded.meta_key, created_utc=excluded.created_utc`,
		id, valuesKey, catalogKey, metaKey, now)
	if err != nil {
		return fmt.Errorf("index frame %s: %w", id, err)
	}
	s.logger.Debug("frame persisted", "realization", id, "rows", f.Values.Len())
	return nil
}

// GetFrame loads a frame by realization id. A missing index row is a cache
// miss, not an error.
func (s *Store) GetFrame(ctx context.Context, id string) (_ *feature.Frame, _ bool, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "frame_get", err == nil, time.Since(start)) }()

	var valuesKey, catalogKey, metaKey string
	err = s.db.QueryRowContext(ctx,
		`SELECT values_key, catalog_key, meta_key FROM frames WHERE realization_id = ?`, id).
		Scan(&valuesKey, &catalogKey, &metaKey)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup frame %s: %w", id, err)
	}

	valuesRaw, err := s.readBlob(ctx, valuesKey)
	if err != nil {
		return nil, false, err
	}
	catalogRaw, err := s.readBlob(ctx, catalogKey)
	if err != nil {
		return nil, false, err
	}
	metaRaw, err := s.readBlob(ctx, metaKey)
	if err != nil {
		return nil, false, err
	}

	values, err := decodeValues(valuesRaw)
	if err != nil {
		return nil, false, err
	}
	var catalog []feature.CatalogEntry
	if err = json.Unmarshal(catalogRaw, &catalog); err != nil {
		return nil, false, fmt.Errorf("decode catalog: %w", err)
	}
	var meta map[string]any
	if err = json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, false, fmt.Errorf("decode meta: %w", err)
	}
	return &feature.Frame{Values: values, Catalog: catalog, Meta: meta}, true, nil
}

// PutState stores a fit-state payload as an opaque blob indexed by state id.
func (s *Store) PutState(ctx context.Context, stateID string, payload []byte, meta map[string]string) (_ feature.StateArtifact, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "state_put", err == nil, time.Since(start)) }()

	if stateID == "" {
		return feature.StateArtifact{}, fmt.Errorf("framestore: state id required")
	}
	key := "states/" + stateID + "/state.bin"
	info, err := s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    meta,
	})
	if err != nil && !errors.Is(err, blob.ErrExists) {
		return feature.StateArtifact{}, fmt.Errorf("store state %s: %w", stateID, err)
	}
	if errors.Is(err, blob.ErrExists) {
		info, err = s.blobs.Head(ctx, key)
		if err != nil {
			return feature.StateArtifact{}, fmt.Errorf("head existing state %s: %w", stateID, err)
		}
	}

	now := time.Now().UTC().Format(tsLayout)
	_, err = s.db.ExecContext(ctx, `INSERT INTO fit_states (state_id, blob_key, size_bytes, etag, created_utc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(state_id) DO UPDATE SET
			blob_key=excluded.blob_key, size_bytes=excluded.size_bytes,
			etag=excluded.etag, created_utc=excluded.created_utc`,
		stateID, key, info.Size, info.ETag, now)
	if err != nil {
		return feature.StateArtifact{}, fmt.Errorf("index state %s: %w", stateID, err)
	}
	return feature.StateArtifact{ID: stateID, Size: info.Size, ETag: info.ETag}, nil
}

// GetState loads a fit-state payload. A missing state is (nil, false, nil).
func (s *Store) GetState(ctx context.Context, stateID string) (_ []byte, _ bool, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "state_get", err == nil, time.Since(start)) }()

	var key string
	err = s.db.QueryRowContext(ctx, `SELECT blob_key FROM fit_states WHERE state_id = ?`, stateID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup state %s: %w", stateID, err)
	}
	payload, err := s.readBlob(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *Store) readBlob(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
