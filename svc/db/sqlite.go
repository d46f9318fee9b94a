package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"zerobin/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed      = 0
	circuitOpen        = 1
	circuitHalfOpen    = 2
	maxFailures        = 5
	cooldownSeconds    = 30
	minResponseTime    = 50 * time.Millisecond
	responseTimeJitter = 20 * time.Millisecond
	cleanupBatch       = 100
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
	responseFloor time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		maxOpenConns, maxIdleConns = 1, 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:            db,
		queryTimeout:  queryTimeout,
		responseFloor: minResponseTime,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// dsn applies connection pragmas to every pooled connection, not just the first.
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"
}

// SetResponseFloor changes the minimum duration of id lookups. Zero disables it.
func (s *SQLite) SetResponseFloor(d time.Duration) {
	s.responseFloor = d
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return errors.Wrapf(err, "exec %q", p)
		}
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		sealed BLOB NOT NULL,
		encrypted_dek BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		burn INTEGER NOT NULL DEFAULT 0,
		discussion INTEGER NOT NULL DEFAULT 0,
		highlight INTEGER NOT NULL DEFAULT 0,
		client_ip_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_expires_at ON pastes(expires_at);
	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		paste_id TEXT NOT NULL,
		parent TEXT NOT NULL DEFAULT '',
		sealed BLOB NOT NULL,
		sealed_author BLOB,
		avatar TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		highlight INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_comments_paste ON comments(paste_id, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}
func (s *SQLite) normalizeResponseTime(start time.Time) {
	if s.responseFloor <= 0 {
		return
	}
	elapsed := time.Since(start)
	var jitterNanos int64
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		jitterNanos = int64(responseTimeJitter)
	} else {
		jitterNanos = int64(binary.BigEndian.Uint64(b[:]) % uint64(responseTimeJitter))
	}
	target := s.responseFloor + time.Duration(jitterNanos)
	if elapsed < target {
		time.Sleep(target - elapsed)
	}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *SQLite) Create(ctx context.Context, p *domain.PasteRecord) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, sealed, encrypted_dek, created_at, expires_at, burn, discussion, highlight, client_ip_hash)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Sealed, p.EncryptedDEK, p.CreatedAt.UTC(), nullTime(p.ExpiresAt), p.Burn, p.Discussion, p.Highlight, p.IPHash,
	)
	s.recordError(err)
	return errors.Wrap(err, "db create")
}

// Get returns the record even when expired; callers decide what expiry means.
func (s *SQLite) Get(ctx context.Context, id string) (*domain.PasteRecord, error) {
	start := time.Now()
	defer s.normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, sealed, encrypted_dek, created_at, expires_at, burn, discussion, highlight, COALESCE(client_ip_hash, '')
	FROM pastes WHERE id = ?
	`
	var p domain.PasteRecord
	var expires sql.NullTime
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&p.ID, &p.Sealed, &p.EncryptedDEK, &p.CreatedAt, &expires, &p.Burn, &p.Discussion, &p.Highlight, &p.IPHash,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	if expires.Valid {
		p.ExpiresAt = expires.Time
	}
	return &p, nil
}

// Delete removes a paste and its discussion. It reports whether this call removed the paste,
// which lets concurrent burn-after-read readers agree on a single winner.
func (s *SQLite) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return false, errors.Wrap(err, "begin delete")
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	if err != nil {
		s.recordError(err)
		return false, errors.Wrap(err, "delete paste")
	}
	if _, err := tx.ExecContext(queryCtx, `DELETE FROM comments WHERE paste_id = ?`, id); err != nil {
		s.recordError(err)
		return false, errors.Wrap(err, "delete comments")
	}
	err = tx.Commit()
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "commit delete")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) CreateComment(ctx context.Context, c *domain.CommentRecord) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO comments (id, paste_id, parent, sealed, sealed_author, avatar, created_at, highlight)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		c.ID, c.PasteID, c.Parent, c.Sealed, c.SealedAuthor, c.Avatar, c.CreatedAt.UTC(), c.Highlight,
	)
	s.recordError(err)
	return errors.Wrap(err, "db create comment")
}

// ListComments returns the discussion of a paste ordered by post date.
func (s *SQLite) ListComments(ctx context.Context, pasteID string) ([]domain.CommentRecord, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, paste_id, parent, sealed, sealed_author, avatar, created_at, highlight
	FROM comments WHERE paste_id = ? ORDER BY created_at, rowid
	`
	rows, err := s.db.QueryContext(queryCtx, q, pasteID)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "list comments")
	}
	defer rows.Close()
	var out []domain.CommentRecord
	for rows.Next() {
		var c domain.CommentRecord
		if err := rows.Scan(&c.ID, &c.PasteID, &c.Parent, &c.Sealed, &c.SealedAuthor, &c.Avatar, &c.CreatedAt, &c.Highlight); err != nil {
			return nil, errors.Wrap(err, "scan comment")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "iterate comments")
}

func (s *SQLite) CommentExists(ctx context.Context, pasteID, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM comments WHERE paste_id = ? AND id = ? LIMIT 1`, pasteID, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "comment exists check failed")
	}
	return exists == 1, nil
}

// CleanupExpired deletes expired pastes with their discussions in batches.
func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		deleted, err := s.cleanupBatch(ctx)
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "cleanup batch failed")
		}
		totalDeleted += deleted
		if deleted < cleanupBatch {
			return totalDeleted, nil
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, errors.New("cleanup hit iteration limit, more records may exist")
}

func (s *SQLite) cleanupBatch(ctx context.Context) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx,
		`SELECT id FROM pastes WHERE expires_at IS NOT NULL AND expires_at <= ? LIMIT ?`,
		time.Now().UTC(), cleanupBatch)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := s.Delete(ctx, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Exists reports whether id is taken by a paste or a comment.
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	defer s.normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM pastes WHERE id = ? UNION ALL SELECT 1 FROM comments WHERE id = ? LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, q, id, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
