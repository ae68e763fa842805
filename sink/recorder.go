package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
)

const recordTimeout = 5 * time.Second

// pqUndefinedTable is the Postgres error code for a missing relation.
const pqUndefinedTable = "42P01"

const runsSchema = `
	CREATE TABLE IF NOT EXISTS field_runs (
		request_id      TEXT PRIMARY KEY,
		model           TEXT NOT NULL,
		collimator      TEXT NOT NULL,
		x_iliac         INTEGER NOT NULL,
		x_ribs          INTEGER NOT NULL,
		spine           INTEGER NOT NULL,
		aspect_ratio    DOUBLE PRECISION NOT NULL,
		before_geometry JSONB NOT NULL,
		after_geometry  JSONB NOT NULL,
		recorded_at     TIMESTAMPTZ NOT NULL
	)`

// RunRecord is one row of field_runs. Geometries are pixel space.
type RunRecord struct {
	RequestID   string          `db:"request_id" json:"requestId"`
	Model       string          `db:"model" json:"model"`
	Collimator  string          `db:"collimator" json:"collimator"`
	XIliac      int             `db:"x_iliac" json:"xIliac"`
	XRibs       int             `db:"x_ribs" json:"xRibs"`
	Spine       int             `db:"spine" json:"spine"`
	AspectRatio float64         `db:"aspect_ratio" json:"aspectRatio"`
	Before      json.RawMessage `db:"before_geometry" json:"before"`
	After       json.RawMessage `db:"after_geometry" json:"after"`
	RecordedAt  time.Time       `db:"recorded_at" json:"recordedAt"`
}

// Recorder stores every adjusted geometry in Postgres.
type Recorder struct {
	field.NopObserver

	db  *sqlx.DB
	log logger.ILogger
	now func() time.Time
}

func NewRecorder(db *sqlx.DB, log logger.ILogger) *Recorder {
	if log == nil {
		log = logger.NullLogger{}
	}
	return &Recorder{db: db, log: log, now: time.Now}
}

// OpenRecorder connects to Postgres and makes sure the runs table exists.
func OpenRecorder(ctx context.Context, url string, log logger.ILogger) (*Recorder, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	r := NewRecorder(db, log)
	if err := r.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// EnsureSchema creates the runs table if needed.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, runsSchema); err != nil {
		return fmt.Errorf("creating field_runs: %w", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

func (r *Recorder) OnGeometryAdjusted(ev field.AdjustEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	rec, err := r.record(ev)
	if err != nil {
		r.log.Errorf("[%s] building run record: %v", ev.Run.RequestID, err)
		return
	}
	if err := r.Save(ctx, rec); err != nil {
		r.log.Errorf("[%s] recording run: %v", ev.Run.RequestID, err)
	}
}

func (r *Recorder) record(ev field.AdjustEvent) (*RunRecord, error) {
	before, err := json.Marshal(ev.Before)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal geometry: %w", err)
	}
	after, err := json.Marshal(ev.After)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal geometry: %w", err)
	}
	return &RunRecord{
		RequestID:   ev.Run.RequestID,
		Model:       ev.Run.Model,
		Collimator:  string(ev.Run.Convention),
		XIliac:      ev.Landmarks.XIliac,
		XRibs:       ev.Landmarks.XRibs,
		Spine:       ev.Landmarks.Spine,
		AspectRatio: ev.Image.AspectRatio(),
		Before:      before,
		After:       after,
		RecordedAt:  r.now().UTC(),
	}, nil
}

// Save inserts rec. A missing table is created once and the insert retried.
func (r *Recorder) Save(ctx context.Context, rec *RunRecord) error {
	const query = `
		INSERT INTO field_runs (
			request_id, model, collimator,
			x_iliac, x_ribs, spine, aspect_ratio,
			before_geometry, after_geometry, recorded_at
		) VALUES (
			:request_id, :model, :collimator,
			:x_iliac, :x_ribs, :spine, :aspect_ratio,
			:before_geometry, :after_geometry, :recorded_at
		)
		ON CONFLICT (request_id) DO NOTHING`

	_, err := r.db.NamedExecContext(ctx, query, rec)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable {
		r.log.Warnf("field_runs missing, creating it")
		if err := r.EnsureSchema(ctx); err != nil {
			return err
		}
		_, err = r.db.NamedExecContext(ctx, query, rec)
	}
	return err
}

// Recent returns the latest runs, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	const query = `
		SELECT request_id, model, collimator,
			x_iliac, x_ribs, spine, aspect_ratio,
			before_geometry, after_geometry, recorded_at
		FROM field_runs
		ORDER BY recorded_at DESC
		LIMIT $1`

	var runs []RunRecord
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return runs, nil
}
