package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/pkg/request"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
	// private to its connection, hence the single-connection pool
	memoryDSN = ":memory:"
)

type sqliteStore struct {
	db  *sql.DB
	cfg *config.StorageConfig
	log logger.Logger
}

func newSQLiteStore(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	db, err := sql.Open(sqliteDriverName, memoryDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	store := &sqliteStore{db: db, cfg: cfg, log: log.With("storage")}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS captures (
    id TEXT PRIMARY KEY,
    timestamp_ns INTEGER NOT NULL,
    source_url TEXT NOT NULL,
    method TEXT NOT NULL,
    headers_json TEXT,
    payload BLOB,
    display_name TEXT,
    resource_kind TEXT,
    original_resource_id TEXT,
    source_property_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_captures_ts ON captures(timestamp_ns DESC);

CREATE TABLE IF NOT EXISTS results (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    timestamp_ns INTEGER NOT NULL,
    action TEXT NOT NULL,
    status_code INTEGER,
    resource_kind TEXT,
    resource_name TEXT,
    property_id TEXT,
    new_resource_id TEXT,
    original_resource_id TEXT,
    url TEXT,
    duration_ms INTEGER,
    failure_kind TEXT,
    error TEXT
);
CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id, sequence);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) RecordCapture(c *request.CapturedRequest) error {
	if c == nil {
		return fmt.Errorf("capture is nil")
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("capture id is required")
	}
	ts := c.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	headersJSON, err := json.Marshal(c.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO captures (
        id, timestamp_ns, source_url, method, headers_json, payload,
        display_name, resource_kind, original_resource_id, source_property_id
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		ts.UnixNano(),
		c.SourceURL,
		c.Method,
		string(headersJSON),
		[]byte(c.Payload),
		c.DisplayName,
		string(c.ResourceKind),
		c.OriginalResourceID,
		c.SourcePropertyID,
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}

	if err = s.prune(ctx, tx, "captures", "id"); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) prune(ctx context.Context, tx *sql.Tx, table, key string) error {
	if s.cfg.Retention > 0 {
		cutoff := time.Now().Add(-s.cfg.Retention).UTC().UnixNano()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE timestamp_ns < ?", table), cutoff); err != nil {
			return fmt.Errorf("prune %s by retention: %w", table, err)
		}
	}
	if s.cfg.MaxRecords > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(1) FROM %s", table)).Scan(&count); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		if excess := count - s.cfg.MaxRecords; excess > 0 {
			stmt := fmt.Sprintf("DELETE FROM %[1]s WHERE %[2]s IN (SELECT %[2]s FROM %[1]s ORDER BY timestamp_ns ASC, rowid ASC LIMIT ?)", table, key)
			if _, err := tx.ExecContext(ctx, stmt, excess); err != nil {
				return fmt.Errorf("prune %s max records: %w", table, err)
			}
		}
	}
	return nil
}

const captureColumns = "id, timestamp_ns, source_url, method, headers_json, payload, display_name, resource_kind, original_resource_id, source_property_id"

func (s *sqliteStore) ListCaptures(opts ListOptions) ([]*request.CapturedRequest, int, error) {
	ctx := context.Background()
	where, args := buildCaptureFilters(opts)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM captures "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := strings.Builder{}
	query.WriteString("SELECT " + captureColumns + " FROM captures ")
	query.WriteString(where)
	query.WriteString(" ORDER BY timestamp_ns DESC, rowid DESC")

	listArgs := append([]interface{}{}, args...)
	if opts.Limit > 0 {
		offset := opts.Offset
		if offset < 0 {
			offset = 0
		}
		query.WriteString(" LIMIT ? OFFSET ?")
		listArgs = append(listArgs, opts.Limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*request.CapturedRequest
	for rows.Next() {
		record, err := scanCapture(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (s *sqliteStore) GetCapture(id string) (*request.CapturedRequest, error) {
	row := s.db.QueryRowContext(context.Background(), "SELECT "+captureColumns+" FROM captures WHERE id = ?", id)
	record, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *sqliteStore) RecordResult(r *request.ReplayResult) error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	ts := r.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO results (
        run_id, sequence, timestamp_ns, action, status_code, resource_kind,
        resource_name, property_id, new_resource_id, original_resource_id,
        url, duration_ms, failure_kind, error
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.Sequence,
		ts.UnixNano(),
		string(r.Action),
		r.StatusCode,
		string(r.ResourceKind),
		r.ResourceName,
		r.DestinationPropertyID,
		r.NewResourceID,
		r.OriginalResourceID,
		r.URL,
		r.DurationMs,
		string(r.FailureKind),
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if err = s.prune(ctx, tx, "results", "seq"); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListResults(filter ResultFilter) ([]request.ReplayResult, error) {
	var clauses []string
	var args []interface{}
	if filter.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.FailedOnly {
		clauses = append(clauses, "(failure_kind <> '' OR status_code < 200 OR status_code > 299)")
	}

	query := strings.Builder{}
	query.WriteString(`SELECT run_id, sequence, timestamp_ns, action, status_code, resource_kind,
        resource_name, property_id, new_resource_id, original_resource_id, url,
        duration_ms, failure_kind, error FROM results`)
	if len(clauses) > 0 {
		query.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	query.WriteString(" ORDER BY seq ASC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(context.Background(), query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []request.ReplayResult
	for rows.Next() {
		var (
			r       request.ReplayResult
			ts      int64
			action  string
			kind    sql.NullString
			failure sql.NullString
		)
		if err := rows.Scan(
			&r.RunID,
			&r.Sequence,
			&ts,
			&action,
			&r.StatusCode,
			&kind,
			&r.ResourceName,
			&r.DestinationPropertyID,
			&r.NewResourceID,
			&r.OriginalResourceID,
			&r.URL,
			&r.DurationMs,
			&failure,
			&r.Error,
		); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Action = request.ActionKind(action)
		r.ResourceKind = request.ResourceKind(kind.String)
		r.FailureKind = request.FailureKind(failure.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClearResults() error {
	_, err := s.db.ExecContext(context.Background(), "DELETE FROM results")
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanCapture(scanner interface {
	Scan(dest ...interface{}) error
}) (*request.CapturedRequest, error) {
	var (
		id          string
		ts          int64
		sourceURL   string
		method      string
		headersJSON sql.NullString
		payload     []byte
		displayName sql.NullString
		kind        sql.NullString
		originalID  sql.NullString
		propertyID  sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&ts,
		&sourceURL,
		&method,
		&headersJSON,
		&payload,
		&displayName,
		&kind,
		&originalID,
		&propertyID,
	); err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &headers); err != nil {
			headers = map[string]string{}
		}
	}

	return &request.CapturedRequest{
		ID:                 id,
		Timestamp:          time.Unix(0, ts).UTC(),
		SourceURL:          sourceURL,
		Method:             method,
		Headers:            headers,
		Payload:            append(json.RawMessage(nil), payload...),
		DisplayName:        displayName.String,
		ResourceKind:       request.ResourceKind(kind.String),
		OriginalResourceID: originalID.String,
		SourcePropertyID:   propertyID.String,
	}, nil
}

func buildCaptureFilters(opts ListOptions) (string, []interface{}) {
	search := strings.TrimSpace(strings.ToLower(opts.Search))
	if search == "" {
		return "", nil
	}
	like := fmt.Sprintf("%%%s%%", search)
	return "WHERE (LOWER(display_name) LIKE ? OR LOWER(source_url) LIKE ? OR LOWER(original_resource_id) LIKE ? OR source_property_id LIKE ?)",
		[]interface{}{like, like, like, like}
}
