package washlog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// Summary counts logs by outcome.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Canceled  int `json:"canceled"`
	Error     int `json:"error"`
}

// BayAverage is the mean completed-wash duration for one bay.
type BayAverage struct {
	BayID          string `json:"bayId"`
	AvgDurationSec *int64 `json:"avgDurationSec"`
}

// ErrorCount is how many failed logs carried an error code.
type ErrorCount struct {
	ErrorCode string `json:"errorCode"`
	Count     int    `json:"count"`
}

// Stats aggregates the wash log.
type Stats struct {
	Summary        Summary      `json:"summary"`
	AvgDurationSec *int64       `json:"avgDurationSec"`
	PerBayAvg      []BayAverage `json:"perBayAvg"`
	ErrorByCode    []ErrorCount `json:"errorByCode"`
}

// Outcome groups. COMPLETED is kept for rows written by older gateways.
const (
	completedStatuses = `'DONE', 'COMPLETED'`
	failedStatuses    = `'ERROR', 'OFFLINE'`

	durationExpr = `(julianday(end_time) - julianday(start_time)) * 86400.0`
)

// Stats computes outcome counts, average completed durations (overall and
// per bay, rounded to whole seconds) and failure counts by error code.
// Open logs count towards Total only.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats

	var completed, canceled, failed sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN status IN (`+completedStatuses+`) THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'CANCELED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status IN (`+failedStatuses+`) THEN 1 ELSE 0 END)
		FROM wash_logs`).Scan(&s.Summary.Total, &completed, &canceled, &failed)
	if err != nil {
		return nil, fmt.Errorf("summarising wash logs: %w", err)
	}
	s.Summary.Completed = int(completed.Int64)
	s.Summary.Canceled = int(canceled.Int64)
	s.Summary.Error = int(failed.Int64)

	var avg sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `
		SELECT AVG(`+durationExpr+`)
		FROM wash_logs
		WHERE status IN (`+completedStatuses+`) AND end_time IS NOT NULL`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("averaging wash durations: %w", err)
	}
	s.AvgDurationSec = roundSeconds(avg)

	if s.PerBayAvg, err = r.perBayAverages(ctx); err != nil {
		return nil, err
	}
	if s.ErrorByCode, err = r.errorCounts(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) perBayAverages(ctx context.Context) ([]BayAverage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bay_id, AVG(`+durationExpr+`)
		FROM wash_logs
		WHERE status IN (`+completedStatuses+`) AND end_time IS NOT NULL
		GROUP BY bay_id
		ORDER BY bay_id`)
	if err != nil {
		return nil, fmt.Errorf("averaging per-bay durations: %w", err)
	}
	defer rows.Close()

	out := []BayAverage{}
	for rows.Next() {
		var b BayAverage
		var avg sql.NullFloat64
		if err := rows.Scan(&b.BayID, &avg); err != nil {
			return nil, fmt.Errorf("scanning per-bay average: %w", err)
		}
		b.AvgDurationSec = roundSeconds(avg)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating per-bay averages: %w", err)
	}
	return out, nil
}

func (r *Repository) errorCounts(ctx context.Context) ([]ErrorCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(error_code, 'UNKNOWN') AS code, COUNT(*)
		FROM wash_logs
		WHERE status IN (`+failedStatuses+`)
		GROUP BY code
		ORDER BY COUNT(*) DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("counting error codes: %w", err)
	}
	defer rows.Close()

	out := []ErrorCount{}
	for rows.Next() {
		var e ErrorCount
		if err := rows.Scan(&e.ErrorCode, &e.Count); err != nil {
			return nil, fmt.Errorf("scanning error count: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating error counts: %w", err)
	}
	return out, nil
}

func roundSeconds(v sql.NullFloat64) *int64 {
	if !v.Valid {
		return nil
	}
	n := int64(math.Round(v.Float64))
	return &n
}
