// Package storage is the Manager's relational persistence layer: the
// ct_logs, job_ranges, worker_assignments, and certs tables of
// SPEC_FULL.md §6. It is driver-agnostic over database/sql; ctfleet
// ships drivers for SQLite (default, via mattn/go-sqlite3), MySQL (via
// go-sql-driver/mysql) and PostgreSQL (via jackc/pgx/v5's stdlib
// adapter). The SQLite and MySQL drivers are the ones the teacher repo
// already depends on; pgx is added for PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ctfleet/ctfleet/internal/model"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert collides with the unique
// index over a certificate's CertFingerprint columns.
var ErrDuplicate = errors.New("storage: duplicate certificate")

// Dialect identifies the SQL placeholder/upsert syntax in use.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
	DialectPostgres
)

// Store wraps a *sql.DB with the queries the job coordinator, cache,
// and ingestion pipeline need.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens a database/sql connection for the named driver ("sqlite3",
// "mysql", or "pgx") and returns a Store with its schema ensured.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialect Dialect
	switch driver {
	case "sqlite3":
		dialect = DialectSQLite
	case "mysql":
		dialect = DialectMySQL
	case "pgx", "postgres":
		driver = "pgx"
		dialect = DialectPostgres
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", driver, err)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB, e.g. one backed by
// DATA-DOG/go-sqlmock in tests. The caller is responsible for schema.
func NewWithDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close() error { return s.db.Close() }

// rebind converts a query written with '?' placeholders into the
// dialect's native placeholder syntax.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
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

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ct_logs (
			log_name TEXT PRIMARY KEY,
			log_url TEXT NOT NULL,
			category TEXT NOT NULL,
			tree_size BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS job_ranges (
			log_name TEXT NOT NULL,
			start_index BIGINT NOT NULL,
			end_index BIGINT NOT NULL,
			current_index BIGINT NOT NULL,
			last_uploaded_index BIGINT NOT NULL,
			state TEXT NOT NULL,
			chunk_width BIGINT NOT NULL,
			PRIMARY KEY (log_name, start_index, end_index)
		)`,
		`CREATE TABLE IF NOT EXISTS worker_assignments (
			log_name TEXT NOT NULL,
			start_index BIGINT NOT NULL,
			end_index BIGINT NOT NULL,
			worker_name TEXT NOT NULL,
			assigned_at TIMESTAMP NOT NULL,
			last_heartbeat_at TIMESTAMP NOT NULL,
			PRIMARY KEY (log_name, start_index, end_index)
		)`,
		`CREATE TABLE IF NOT EXISTS certs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ct_entry BLOB NOT NULL,
			log_url TEXT NOT NULL,
			log_name TEXT NOT NULL,
			worker_name TEXT NOT NULL,
			ct_index BIGINT NOT NULL,
			ip_address TEXT,
			issuer TEXT NOT NULL,
			serial_number TEXT NOT NULL,
			not_before TIMESTAMP NOT NULL,
			not_after TIMESTAMP NOT NULL,
			common_name TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS certs_fingerprint_uidx
			ON certs (issuer, serial_number, not_before, not_after, common_name)`,
	}
	// MySQL doesn't support AUTOINCREMENT keyword spelling; Postgres needs
	// SERIAL/IDENTITY. Dialect-specific DDL keeps the cross-driver surface
	// honest rather than papering over it with a lowest-common-denominator
	// schema that silently drops the autoincrement behavior on one driver.
	if s.dialect == DialectMySQL {
		stmts[3] = strings.ReplaceAll(stmts[3], "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGINT PRIMARY KEY AUTO_INCREMENT")
	} else if s.dialect == DialectPostgres {
		stmts[3] = strings.ReplaceAll(stmts[3], "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: schema: %w", err)
		}
	}
	return nil
}

// isDuplicateErr recognizes unique-constraint violations across the
// three supported drivers by substring, since each driver surfaces its
// own error type instead of a single cross-driver sentinel.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// --- ct_logs ---------------------------------------------------------

func (s *Store) SeedLog(ctx context.Context, l model.CtLog) error {
	query := `INSERT INTO ct_logs (log_name, log_url, category, tree_size, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(log_name) DO UPDATE SET log_url=excluded.log_url, category=excluded.category`
	if s.dialect == DialectMySQL {
		query = `INSERT INTO ct_logs (log_name, log_url, category, tree_size, active)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE log_url=VALUES(log_url), category=VALUES(category)`
	}
	_, err := s.exec(ctx, query, l.LogName, l.LogURL, l.Category, l.TreeSize, l.Active)
	return err
}

func (s *Store) GetLog(ctx context.Context, name string) (model.CtLog, error) {
	row := s.queryRow(ctx, `SELECT log_name, log_url, category, tree_size, active FROM ct_logs WHERE log_name = ?`, name)
	var l model.CtLog
	if err := row.Scan(&l.LogName, &l.LogURL, &l.Category, &l.TreeSize, &l.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CtLog{}, ErrNotFound
		}
		return model.CtLog{}, err
	}
	return l, nil
}

func (s *Store) ListLogs(ctx context.Context) ([]model.CtLog, error) {
	rows, err := s.query(ctx, `SELECT log_name, log_url, category, tree_size, active FROM ct_logs ORDER BY log_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CtLog
	for rows.Next() {
		var l model.CtLog
		if err := rows.Scan(&l.LogName, &l.LogURL, &l.Category, &l.TreeSize, &l.Active); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ListLogsByCategory(ctx context.Context, category string) ([]model.CtLog, error) {
	rows, err := s.query(ctx, `SELECT log_name, log_url, category, tree_size, active FROM ct_logs WHERE category = ? AND active = ? ORDER BY log_name`, category, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CtLog
	for rows.Next() {
		var l model.CtLog
		if err := rows.Scan(&l.LogName, &l.LogURL, &l.Category, &l.TreeSize, &l.Active); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) SetLogActive(ctx context.Context, name string, active bool) error {
	_, err := s.exec(ctx, `UPDATE ct_logs SET active = ? WHERE log_name = ?`, active, name)
	return err
}

func (s *Store) UpdateTreeSize(ctx context.Context, name string, size int64) error {
	_, err := s.exec(ctx, `UPDATE ct_logs SET tree_size = ? WHERE log_name = ?`, size, name)
	return err
}

// --- job_ranges --------------------------------------------------------

// HighestRangeEnd returns the largest End across all ranges of logName,
// or 0 if none exist yet.
func (s *Store) HighestRangeEnd(ctx context.Context, logName string) (int64, error) {
	row := s.queryRow(ctx, `SELECT COALESCE(MAX(end_index), 0) FROM job_ranges WHERE log_name = ?`, logName)
	var end int64
	if err := row.Scan(&end); err != nil {
		return 0, err
	}
	return end, nil
}

func (s *Store) InsertRange(ctx context.Context, r model.JobRange) error {
	_, err := s.exec(ctx, `INSERT INTO job_ranges
		(log_name, start_index, end_index, current_index, last_uploaded_index, state, chunk_width)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.LogName, r.Start, r.End, r.Current, r.LastUploadedIndex, string(r.State), r.ChunkWidth)
	return err
}

func scanRange(row interface{ Scan(...any) error }) (model.JobRange, error) {
	var r model.JobRange
	var state string
	if err := row.Scan(&r.LogName, &r.Start, &r.End, &r.Current, &r.LastUploadedIndex, &state, &r.ChunkWidth); err != nil {
		return model.JobRange{}, err
	}
	r.State = model.RangeState(state)
	return r, nil
}

func (s *Store) GetRange(ctx context.Context, id model.RangeID) (model.JobRange, error) {
	row := s.queryRow(ctx, `SELECT log_name, start_index, end_index, current_index, last_uploaded_index, state, chunk_width
		FROM job_ranges WHERE log_name = ? AND start_index = ? AND end_index = ?`, id.LogName, id.Start, id.End)
	r, err := scanRange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobRange{}, ErrNotFound
	}
	return r, err
}

// FindRangeByStart looks up a range by (log_name, start_index). Ranges
// for a given log are disjoint (SPEC_FULL.md §3), so start alone
// identifies the range without needing its end.
func (s *Store) FindRangeByStart(ctx context.Context, logName string, start int64) (model.JobRange, error) {
	row := s.queryRow(ctx, `SELECT log_name, start_index, end_index, current_index, last_uploaded_index, state, chunk_width
		FROM job_ranges WHERE log_name = ? AND start_index = ?`, logName, start)
	r, err := scanRange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobRange{}, ErrNotFound
	}
	return r, err
}

func (s *Store) listRangesWhere(ctx context.Context, where string, args ...any) ([]model.JobRange, error) {
	rows, err := s.query(ctx, `SELECT log_name, start_index, end_index, current_index, last_uploaded_index, state, chunk_width
		FROM job_ranges WHERE `+where+` ORDER BY log_name, start_index`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.JobRange
	for rows.Next() {
		r, err := scanRange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListPendingRangesByLog(ctx context.Context, logName string) ([]model.JobRange, error) {
	return s.listRangesWhere(ctx, `log_name = ? AND state = ?`, logName, string(model.RangePending))
}

// ListRangesByLog returns every range for logName regardless of state,
// for admin inspection.
func (s *Store) ListRangesByLog(ctx context.Context, logName string) ([]model.JobRange, error) {
	return s.listRangesWhere(ctx, `log_name = ?`, logName)
}

// ListPendingRanges returns PENDING ranges for every active log in
// category, ordered by log name and then by smallest Start.
func (s *Store) ListPendingRanges(ctx context.Context, category string) ([]model.JobRange, error) {
	rows, err := s.query(ctx, `SELECT jr.log_name, jr.start_index, jr.end_index, jr.current_index, jr.last_uploaded_index, jr.state, jr.chunk_width
		FROM job_ranges jr JOIN ct_logs l ON jr.log_name = l.log_name
		WHERE l.category = ? AND l.active = ? AND jr.state = ?
		ORDER BY jr.log_name, jr.start_index`, category, true, string(model.RangePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.JobRange
	for rows.Next() {
		r, err := scanRange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStalledRanges returns STALLED ranges for category whose assignment
// heartbeat is older than staleBefore.
func (s *Store) ListStalledRanges(ctx context.Context, category string, staleBefore time.Time) ([]model.JobRange, error) {
	rows, err := s.query(ctx, `SELECT jr.log_name, jr.start_index, jr.end_index, jr.current_index, jr.last_uploaded_index, jr.state, jr.chunk_width
		FROM job_ranges jr
		JOIN ct_logs l ON jr.log_name = l.log_name
		LEFT JOIN worker_assignments wa ON wa.log_name = jr.log_name AND wa.start_index = jr.start_index AND wa.end_index = jr.end_index
		WHERE l.category = ? AND l.active = ? AND jr.state = ?
			AND (wa.last_heartbeat_at IS NULL OR wa.last_heartbeat_at < ?)
		ORDER BY COALESCE(wa.last_heartbeat_at, '1970-01-01')`, category, true, string(model.RangeStalled), staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.JobRange
	for rows.Next() {
		r, err := scanRange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SetRangeState(ctx context.Context, id model.RangeID, state model.RangeState) error {
	_, err := s.exec(ctx, `UPDATE job_ranges SET state = ? WHERE log_name = ? AND start_index = ? AND end_index = ?`,
		string(state), id.LogName, id.Start, id.End)
	return err
}

// scalarMax returns the per-dialect name of the two-argument scalar
// maximum function: SQLite overloads max(), MySQL/Postgres use GREATEST.
func (s *Store) scalarMax() string {
	if s.dialect == DialectSQLite {
		return "max"
	}
	return "greatest"
}

// AdvanceCurrent sets Current to max(Current, current); never rewinds.
func (s *Store) AdvanceCurrent(ctx context.Context, id model.RangeID, current int64) error {
	query := fmt.Sprintf(`UPDATE job_ranges SET current_index = %s(current_index, ?) WHERE log_name = ? AND start_index = ? AND end_index = ?`, s.scalarMax())
	_, err := s.exec(ctx, query, current, id.LogName, id.Start, id.End)
	return err
}

func (s *Store) SetLastUploadedIndex(ctx context.Context, id model.RangeID, idx int64) error {
	query := fmt.Sprintf(`UPDATE job_ranges SET last_uploaded_index = %s(last_uploaded_index, ?) WHERE log_name = ? AND start_index = ? AND end_index = ?`, s.scalarMax())
	_, err := s.exec(ctx, query, idx, id.LogName, id.Start, id.End)
	return err
}

func (s *Store) SetRangeCurrentAndState(ctx context.Context, id model.RangeID, current int64, state model.RangeState) error {
	_, err := s.exec(ctx, `UPDATE job_ranges SET current_index = ?, state = ? WHERE log_name = ? AND start_index = ? AND end_index = ?`,
		current, string(state), id.LogName, id.Start, id.End)
	return err
}

// --- worker_assignments -------------------------------------------------

func (s *Store) GetAssignment(ctx context.Context, id model.RangeID) (model.WorkerAssignment, bool, error) {
	row := s.queryRow(ctx, `SELECT worker_name, assigned_at, last_heartbeat_at FROM worker_assignments
		WHERE log_name = ? AND start_index = ? AND end_index = ?`, id.LogName, id.Start, id.End)
	var a model.WorkerAssignment
	a.RangeID = id
	if err := row.Scan(&a.WorkerName, &a.AssignedAt, &a.LastHeartbeatAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WorkerAssignment{}, false, nil
		}
		return model.WorkerAssignment{}, false, err
	}
	return a, true, nil
}

func (s *Store) UpsertAssignment(ctx context.Context, a model.WorkerAssignment) error {
	query := `INSERT INTO worker_assignments (log_name, start_index, end_index, worker_name, assigned_at, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(log_name, start_index, end_index) DO UPDATE SET
			worker_name = excluded.worker_name,
			assigned_at = excluded.assigned_at,
			last_heartbeat_at = excluded.last_heartbeat_at`
	if s.dialect == DialectMySQL {
		query = `INSERT INTO worker_assignments (log_name, start_index, end_index, worker_name, assigned_at, last_heartbeat_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE worker_name=VALUES(worker_name), assigned_at=VALUES(assigned_at), last_heartbeat_at=VALUES(last_heartbeat_at)`
	}
	_, err := s.exec(ctx, query, a.RangeID.LogName, a.RangeID.Start, a.RangeID.End, a.WorkerName, a.AssignedAt, a.LastHeartbeatAt)
	return err
}

func (s *Store) UpdateHeartbeat(ctx context.Context, id model.RangeID, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE worker_assignments SET last_heartbeat_at = ? WHERE log_name = ? AND start_index = ? AND end_index = ?`,
		at, id.LogName, id.Start, id.End)
	return err
}

func (s *Store) ClearAssignment(ctx context.Context, id model.RangeID) error {
	_, err := s.exec(ctx, `DELETE FROM worker_assignments WHERE log_name = ? AND start_index = ? AND end_index = ?`,
		id.LogName, id.Start, id.End)
	return err
}

func (s *Store) CountAssignmentsForWorkerLog(ctx context.Context, worker, logName string) (int, error) {
	row := s.queryRow(ctx, `SELECT COUNT(*) FROM worker_assignments WHERE worker_name = ? AND log_name = ?`, worker, logName)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListRunningAssignmentsOlderThan returns assignments on RUNNING ranges
// whose heartbeat predates cutoff, for the reaper sweep.
func (s *Store) ListRunningAssignmentsOlderThan(ctx context.Context, cutoff time.Time) ([]model.WorkerAssignment, error) {
	rows, err := s.query(ctx, `SELECT wa.log_name, wa.start_index, wa.end_index, wa.worker_name, wa.assigned_at, wa.last_heartbeat_at
		FROM worker_assignments wa
		JOIN job_ranges jr ON jr.log_name = wa.log_name AND jr.start_index = wa.start_index AND jr.end_index = wa.end_index
		WHERE jr.state = ? AND wa.last_heartbeat_at < ?`, string(model.RangeRunning), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WorkerAssignment
	for rows.Next() {
		var a model.WorkerAssignment
		if err := rows.Scan(&a.RangeID.LogName, &a.RangeID.Start, &a.RangeID.End, &a.WorkerName, &a.AssignedAt, &a.LastHeartbeatAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListStalledAssignmentsOlderThan returns assignments on STALLED ranges
// whose heartbeat predates cutoff (the abandonment threshold).
func (s *Store) ListStalledAssignmentsOlderThan(ctx context.Context, cutoff time.Time) ([]model.WorkerAssignment, error) {
	rows, err := s.query(ctx, `SELECT wa.log_name, wa.start_index, wa.end_index, wa.worker_name, wa.assigned_at, wa.last_heartbeat_at
		FROM worker_assignments wa
		JOIN job_ranges jr ON jr.log_name = wa.log_name AND jr.start_index = wa.start_index AND jr.end_index = wa.end_index
		WHERE jr.state = ? AND wa.last_heartbeat_at < ?`, string(model.RangeStalled), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WorkerAssignment
	for rows.Next() {
		var a model.WorkerAssignment
		if err := rows.Scan(&a.RangeID.LogName, &a.RangeID.Start, &a.RangeID.End, &a.WorkerName, &a.AssignedAt, &a.LastHeartbeatAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- certs --------------------------------------------------------------

// InsertCertsBulk attempts a single multi-row insert of all certs. The
// caller falls back to InsertCertOne per-record on failure, per
// SPEC_FULL.md §4.3.
func (s *Store) InsertCertsBulk(ctx context.Context, certs []model.Certificate) error {
	if len(certs) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO certs (ct_entry, log_url, log_name, worker_name, ct_index, ip_address, issuer, serial_number, not_before, not_after, common_name) VALUES `)
	args := make([]any, 0, len(certs)*11)
	for i, c := range certs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, c.CtEntry, c.LogURL, c.LogName, c.WorkerName, c.CtIndex, c.IPAddress,
			c.Fingerprint.Issuer, c.Fingerprint.SerialNumber, c.Fingerprint.NotBefore.UTC(), c.Fingerprint.NotAfter.UTC(), c.Fingerprint.CommonName)
	}
	_, err := s.exec(ctx, b.String(), args...)
	return err
}

// InsertCertOne inserts a single certificate, returning ErrDuplicate if
// it collides with the unique fingerprint index.
func (s *Store) InsertCertOne(ctx context.Context, c model.Certificate) error {
	_, err := s.exec(ctx, `INSERT INTO certs (ct_entry, log_url, log_name, worker_name, ct_index, ip_address, issuer, serial_number, not_before, not_after, common_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CtEntry, c.LogURL, c.LogName, c.WorkerName, c.CtIndex, c.IPAddress,
		c.Fingerprint.Issuer, c.Fingerprint.SerialNumber, c.Fingerprint.NotBefore.UTC(), c.Fingerprint.NotAfter.UTC(), c.Fingerprint.CommonName)
	if isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) CountCerts(ctx context.Context) (int64, error) {
	row := s.queryRow(ctx, `SELECT COUNT(*) FROM certs`)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
