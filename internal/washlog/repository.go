// Package washlog stores wash sessions and bay snapshots in SQLite.
//
// It implements washbay.Store for the gateway loop and serves the read
// side of the ops API (recent logs, statistics).
package washlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/washbay"
)

// timeLayout is how times are written to TEXT columns.
const timeLayout = washbay.TimestampFormat

// Status and error code for logs left open by a previous process.
const (
	OrphanStatus    = washbay.StateOffline
	OrphanErrorCode = "GATEWAY_RESTART"
)

// ErrLogNotFound is returned by CloseLog for an id that does not exist.
var ErrLogNotFound = errors.New("washlog: log not found")

// Log is one wash_logs row.
type Log struct {
	ID        int64      `json:"id"`
	BayID     string     `json:"bayId"`
	Course    string     `json:"course,omitempty"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	ErrorCode string     `json:"errorCode,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
}

// Filter controls which logs List returns.
type Filter struct {
	BayID  string // optional
	Limit  int    // default 20, max 200
	Offset int
}

// ListResult contains a page of logs.
type ListResult struct {
	Logs   []Log `json:"logs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Repository reads and writes wash logs and snapshots.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository on an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateLog inserts an open log and returns its id.
func (r *Repository) CreateLog(ctx context.Context, e washbay.LogEntry) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO wash_logs (bay_id, course, status, start_time, session_id, request_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.BayID, nullableString(e.Course), string(e.Status), formatTime(e.StartTime),
		nullableString(e.SessionID), nullableString(e.RequestID),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting wash log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading wash log id: %w", err)
	}
	return id, nil
}

// CloseLog stamps the end of a log with its final state.
func (r *Repository) CloseLog(ctx context.Context, logID int64, final washbay.State, errorCode string, endTime time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wash_logs SET status = ?, end_time = ?, error_code = ? WHERE id = ?`,
		string(final), formatTime(endTime), nullableString(errorCode), logID,
	)
	if err != nil {
		return fmt.Errorf("closing wash log %d: %w", logID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing wash log %d: %w", logID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrLogNotFound, logID)
	}
	return nil
}

// UpsertSnapshot replaces the bay's bay_state row.
func (r *Repository) UpsertSnapshot(ctx context.Context, s washbay.Snapshot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bay_state (bay_id, session_id, request_id, state, progress, course, error_code, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bay_id) DO UPDATE SET
		   session_id = excluded.session_id,
		   request_id = excluded.request_id,
		   state      = excluded.state,
		   progress   = excluded.progress,
		   course     = excluded.course,
		   error_code = excluded.error_code,
		   updated_at = excluded.updated_at`,
		s.BayID, nullableString(s.SessionID), nullableString(s.RequestID), string(s.State),
		s.Progress, nullableString(s.Course), nullableString(s.ErrorCode), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot for %s: %w", s.BayID, err)
	}
	return nil
}

// LoadSnapshots returns every stored snapshot ordered by bay id.
func (r *Repository) LoadSnapshots(ctx context.Context) ([]washbay.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT bay_id, session_id, request_id, state, progress, course, error_code, updated_at
		 FROM bay_state ORDER BY bay_id`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []washbay.Snapshot
	for rows.Next() {
		var s washbay.Snapshot
		var state, updatedAt string
		var sessionID, requestID, course, errorCode sql.NullString

		if err := rows.Scan(&s.BayID, &sessionID, &requestID, &state, &s.Progress,
			&course, &errorCode, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}

		s.State = washbay.State(state)
		s.SessionID = sessionID.String
		s.RequestID = requestID.String
		s.Course = course.String
		s.ErrorCode = errorCode.String
		if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}

	if snaps == nil {
		snaps = []washbay.Snapshot{}
	}
	return snaps, nil
}

// CloseOrphaned closes every log still open, as left by a process that
// died mid-session. It returns the number of logs closed.
func (r *Repository) CloseOrphaned(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wash_logs SET status = ?, end_time = ?, error_code = ? WHERE end_time IS NULL`,
		string(OrphanStatus), formatTime(at), OrphanErrorCode,
	)
	if err != nil {
		return 0, fmt.Errorf("closing orphaned wash logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("closing orphaned wash logs: %w", err)
	}
	return n, nil
}

// List returns logs matching the filter, most recent first.
func (r *Repository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.BayID != "" {
		conditions = append(conditions, "bay_id = ?")
		args = append(args, filter.BayID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM wash_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting wash logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, bay_id, course, status, start_time, end_time, error_code, session_id, request_id
		 FROM wash_logs %s ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying wash logs: %w", err)
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating wash logs: %w", err)
	}

	if logs == nil {
		logs = []Log{}
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanLog(rows *sql.Rows) (Log, error) {
	var l Log
	var startTime string
	var course, endTime, errorCode, sessionID, requestID sql.NullString

	if err := rows.Scan(&l.ID, &l.BayID, &course, &l.Status, &startTime,
		&endTime, &errorCode, &sessionID, &requestID); err != nil {
		return Log{}, fmt.Errorf("scanning wash log: %w", err)
	}

	l.Course = course.String
	l.ErrorCode = errorCode.String
	l.SessionID = sessionID.String
	l.RequestID = requestID.String

	var err error
	if l.StartTime, err = parseTime(startTime); err != nil {
		return Log{}, err
	}
	if endTime.Valid {
		t, err := parseTime(endTime.String)
		if err != nil {
			return Log{}, err
		}
		l.EndTime = &t
	}
	return l, nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the stored layout and plain RFC 3339.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing wash log timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}
