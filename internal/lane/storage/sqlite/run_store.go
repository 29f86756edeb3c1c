package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
)

// Run is one processing session over an ordered frame sequence.
type Run struct {
	RunID       string          `json:"run_id"`
	SessionID   string          `json:"session_id"`
	Source      string          `json:"source"`
	ParamsJSON  json.RawMessage `json:"params_json,omitempty"`
	Status      string          `json:"status"`
	FrameCount  int             `json:"frame_count"`
	FrozenCount int             `json:"frozen_count"`
	StartedAt   int64           `json:"started_at"`
	CompletedAt int64           `json:"completed_at,omitempty"`
}

// FrameRecord is the persisted result of one frame. Radii follow the
// in-memory convention: +Inf for a straight lane, NaN when unknown.
type FrameRecord struct {
	RunID           string
	FrameIndex      int
	Source          string
	LeftStatus      string
	RightStatus     string
	LeftDetected    bool
	RightDetected   bool
	LeftRadiusM     float64
	RightRadiusM    float64
	SmoothedRadiusM float64
	OffsetM         float64
	OffsetDirection string
	LeftFit         [3]float64
	RightFit        [3]float64
	Frozen          bool
	CreatedAt       int64
}

// RunStore persists runs and their frame records.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore over an opened, migrated database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun inserts a new running run. RunID and StartedAt are filled in
// when empty.
func (s *RunStore) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO lane_runs (run_id, session_id, source, params_json, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.SessionID, run.Source, params, run.Status, run.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// CompleteRun marks a run completed and refreshes its frame counters.
func (s *RunStore) CompleteRun(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE lane_runs SET
				status = ?,
				completed_at = ?,
				frame_count = (SELECT COUNT(*) FROM lane_frames WHERE run_id = ?),
				frozen_count = (SELECT COUNT(*) FROM lane_frames WHERE run_id = ? AND frozen = 1)
			WHERE run_id = ?`,
			RunStatusCompleted, time.Now().UnixNano(), runID, runID, runID,
		)
		if err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// GetRun returns a run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, session_id, source, params_json, status,
		       frame_count, frozen_count, started_at, completed_at
		FROM lane_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns runs newest first, at most limit of them (all when
// limit <= 0).
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT run_id, session_id, source, params_json, status,
		       frame_count, frozen_count, started_at, completed_at
		FROM lane_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its frames.
func (s *RunStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM lane_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// InsertFrame stores one frame record. CreatedAt is filled in when zero.
func (s *RunStore) InsertFrame(rec *FrameRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("insert frame %d: empty run id", rec.FrameIndex)
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixNano()
	}
	leftFit, err := json.Marshal(rec.LeftFit)
	if err != nil {
		return fmt.Errorf("encode left fit: %w", err)
	}
	rightFit, err := json.Marshal(rec.RightFit)
	if err != nil {
		return fmt.Errorf("encode right fit: %w", err)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO lane_frames (
				run_id, frame_index, source, left_status, right_status,
				left_detected, right_detected,
				left_curvature, right_curvature, smoothed_curvature,
				offset_m, offset_direction, left_fit_json, right_fit_json,
				frozen, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.FrameIndex, rec.Source, rec.LeftStatus, rec.RightStatus,
			rec.LeftDetected, rec.RightDetected,
			curvatureOf(rec.LeftRadiusM), curvatureOf(rec.RightRadiusM), curvatureOf(rec.SmoothedRadiusM),
			finiteOrZero(rec.OffsetM), rec.OffsetDirection, string(leftFit), string(rightFit),
			rec.Frozen, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert frame %d: %w", rec.FrameIndex, err)
		}
		return nil
	})
}

// ListFrames returns a run's frames in frame order.
func (s *RunStore) ListFrames(runID string) ([]FrameRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, frame_index, source, left_status, right_status,
		       left_detected, right_detected,
		       left_curvature, right_curvature, smoothed_curvature,
		       offset_m, offset_direction, left_fit_json, right_fit_json,
		       frozen, created_at
		FROM lane_frames
		WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			rec                  FrameRecord
			lk, rk, sk           sql.NullFloat64
			leftFit, rightFit    sql.NullString
			leftDet, rightDet, f bool
		)
		if err := rows.Scan(
			&rec.RunID, &rec.FrameIndex, &rec.Source, &rec.LeftStatus, &rec.RightStatus,
			&leftDet, &rightDet,
			&lk, &rk, &sk,
			&rec.OffsetM, &rec.OffsetDirection, &leftFit, &rightFit,
			&f, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan frame row: %w", err)
		}
		rec.LeftDetected, rec.RightDetected, rec.Frozen = leftDet, rightDet, f
		rec.LeftRadiusM = radiusOf(lk)
		rec.RightRadiusM = radiusOf(rk)
		rec.SmoothedRadiusM = radiusOf(sk)
		if err := decodeFit(leftFit, &rec.LeftFit); err != nil {
			return nil, err
		}
		if err := decodeFit(rightFit, &rec.RightFit); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r         Run
		params    sql.NullString
		completed sql.NullInt64
	)
	err := row.Scan(&r.RunID, &r.SessionID, &r.Source, &params, &r.Status,
		&r.FrameCount, &r.FrozenCount, &r.StartedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	if completed.Valid {
		r.CompletedAt = completed.Int64
	}
	return &r, nil
}

// curvatureOf stores a radius as 1/r: 0 for a straight lane, NULL when
// the radius is unknown.
func curvatureOf(radius float64) interface{} {
	switch {
	case math.IsInf(radius, 0):
		return 0.0
	case math.IsNaN(radius) || radius == 0:
		return nil
	default:
		return 1 / radius
	}
}

func radiusOf(k sql.NullFloat64) float64 {
	switch {
	case !k.Valid:
		return math.NaN()
	case k.Float64 == 0:
		return math.Inf(1)
	default:
		return 1 / k.Float64
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func decodeFit(s sql.NullString, dst *[3]float64) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("decode fit: %w", err)
	}
	return nil
}
