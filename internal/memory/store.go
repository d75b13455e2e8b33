package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

var log = slog.Default().With("component", "memory")

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	category TEXT NOT NULL,
	scope TEXT NOT NULL,
	project_path TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS embeddings (
	id TEXT PRIMARY KEY REFERENCES records(id) ON DELETE CASCADE,
	dim INTEGER NOT NULL,
	vector BLOB NOT NULL,
	mime TEXT NOT NULL DEFAULT 'application/octet-stream',
	size INTEGER NOT NULL,
	hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_scope_project ON records(scope, project_path);
`

// Store is a keyed persistent store of memory records and embedding
// blobs over a single SQLite file, matching §4.D. It is a process-wide
// singleton per db path: Open returns the same *Store for the same path
// until Reset is called, in the same shape as the established singleton-with-reset
// discipline for its managers.
type Store struct {
	db   *sql.DB
	path string
	// writeMu serializes write transactions; SQLite already enforces a
	// single writer, but serializing in application code avoids
	// SQLITE_BUSY churn under WAL with many goroutines.
	writeMu sync.Mutex
}

var (
	instancesMu sync.Mutex
	instances   = map[string]*Store{}
)

// Open returns the process-wide Store for path, opening and migrating it
// on first demand.
func Open(path string) (*Store, error) {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if s, ok := instances[path]; ok {
		return s, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, gwerrors.NewDatabaseInitError("open sqlite handle", err).WithContext("memory", "Open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, gwerrors.NewDatabaseInitError("apply pragma "+pragma, err).WithContext("memory", "Open")
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, gwerrors.NewDatabaseInitError("apply schema", err).WithContext("memory", "Open")
	}

	s := &Store{db: db, path: path}
	instances[path] = s
	log.Info("memory store opened", "path", path)
	return s, nil
}

// newStoreWithDB wraps an already-open *sql.DB as a Store, bypassing the
// path-keyed singleton registry. Used by tests that substitute a
// go-sqlmock connection to assert exact SQL without a real file.
func newStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, path: ""}
}

// Reset closes and forgets the singleton for path, for test isolation.
func Reset(path string) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	if s, ok := instances[path]; ok {
		s.db.Close()
		delete(instances, path)
	}
}

func scopeAndProject(r *Record) (string, string) {
	return string(r.Scope), r.ProjectPath
}

// Remember inserts or, for an existing id, updates a record and its
// embedding vector in one transaction, satisfying the crash-atomicity
// invariant between a record and its embedding blob. A nil vector is
// permitted only when the caller has already decided this memory will
// never carry semantic recall (e.g. a lexical-only fallback write); the
// usual path always supplies a vector.
func (s *Store) Remember(ctx context.Context, r *Record, vector []float32) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gwerrors.NewDatabaseBusyError("begin remember tx", err).WithContext("memory", "Remember")
	}
	defer tx.Rollback()

	now := time.Now()
	createdAt := now
	var existingCreated int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM records WHERE id = ?`, r.ID).Scan(&existingCreated)
	switch {
	case err == sql.ErrNoRows:
		// new record, createdAt stays now
	case err != nil:
		return gwerrors.NewMemorySaveFailedError("check existing record", err).WithContext("memory", "Remember")
	default:
		createdAt = time.UnixMilli(existingCreated)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = createdAt
	} else {
		createdAt = r.CreatedAt
	}
	r.UpdatedAt = now

	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return gwerrors.NewMemorySaveFailedError("marshal metadata", err).WithContext("memory", "Remember")
	}

	scope, project := scopeAndProject(r)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, content, category, scope, project_path, importance, created_at, updated_at, last_accessed_at, access_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, category=excluded.category, scope=excluded.scope,
			project_path=excluded.project_path, importance=excluded.importance,
			updated_at=excluded.updated_at, metadata=excluded.metadata
	`, r.ID, r.Content, string(r.Category), scope, project, r.Importance,
		createdAt.UnixMilli(), now.UnixMilli(), r.LastAccessedAt, r.AccessCount, string(metaJSON))
	if err != nil {
		return gwerrors.NewMemorySaveFailedError("upsert record", err).WithContext("memory", "Remember").WithDetail("id", r.ID)
	}

	if vector != nil {
		buf := encodeVector(vector)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO embeddings (id, dim, vector, mime, size, hash)
			VALUES (?, ?, ?, 'application/octet-stream', ?, '')
			ON CONFLICT(id) DO UPDATE SET dim=excluded.dim, vector=excluded.vector, size=excluded.size
		`, r.ID, len(vector), buf, len(buf))
		if err != nil {
			return gwerrors.NewMemorySaveFailedError("upsert embedding", err).WithContext("memory", "Remember").WithDetail("id", r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return gwerrors.NewMemorySaveFailedError("commit remember tx", err).WithContext("memory", "Remember")
	}
	return nil
}

// Get fetches a record by id and scope.
func (s *Store) Get(ctx context.Context, id string, scope Scope) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, category, scope, project_path, importance, created_at, updated_at, last_accessed_at, access_count, metadata
		FROM records WHERE id = ? AND scope = ?`, id, string(scope))
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*Record, error) {
	var r Record
	var scope, metaJSON string
	var createdAt, updatedAt int64
	if err := row.Scan(&r.ID, &r.Content, &r.Category, &scope, &r.ProjectPath, &r.Importance,
		&createdAt, &updatedAt, &r.LastAccessedAt, &r.AccessCount, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, gwerrors.NewMemoryRecallFailedError("scan record", err).WithContext("memory", "Get")
	}
	r.Scope = Scope(scope)
	r.CreatedAt = time.UnixMilli(createdAt)
	r.UpdatedAt = time.UnixMilli(updatedAt)
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
	}
	return &r, nil
}

// Delete removes a record and, via the ON DELETE CASCADE foreign key,
// its embedding blob atomically.
func (s *Store) Delete(ctx context.Context, id string, scope Scope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ? AND scope = ?`, id, string(scope))
	if err != nil {
		return gwerrors.NewMemorySaveFailedError("delete record", err).WithContext("memory", "Delete").WithDetail("id", id)
	}
	return nil
}

// List returns every record in scope, optionally filtered to a project path.
func (s *Store) List(ctx context.Context, scope Scope, projectPath string) ([]*Record, error) {
	var rows *sql.Rows
	var err error
	if scope == ScopeProject {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, content, category, scope, project_path, importance, created_at, updated_at, last_accessed_at, access_count, metadata
			FROM records WHERE scope = ? AND project_path = ? ORDER BY created_at ASC`, string(scope), projectPath)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, content, category, scope, project_path, importance, created_at, updated_at, last_accessed_at, access_count, metadata
			FROM records WHERE scope = ? ORDER BY created_at ASC`, string(scope))
	}
	if err != nil {
		return nil, gwerrors.NewMemoryRecallFailedError("list records", err).WithContext("memory", "List")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var sc, metaJSON string
		var createdAt, updatedAt int64
		if err := rows.Scan(&r.ID, &r.Content, &r.Category, &sc, &r.ProjectPath, &r.Importance,
			&createdAt, &updatedAt, &r.LastAccessedAt, &r.AccessCount, &metaJSON); err != nil {
			return nil, gwerrors.NewMemoryRecallFailedError("scan record row", err).WithContext("memory", "List")
		}
		r.Scope = Scope(sc)
		r.CreatedAt = time.UnixMilli(createdAt)
		r.UpdatedAt = time.UnixMilli(updatedAt)
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Count returns the number of records in scope.
func (s *Store) Count(ctx context.Context, scope Scope) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE scope = ?`, string(scope)).Scan(&n)
	if err != nil {
		return 0, gwerrors.NewMemoryRecallFailedError("count records", err).WithContext("memory", "Count")
	}
	return n, nil
}

// Touch bumps access accounting for a record.
func (s *Store) Touch(ctx context.Context, id string, scope Scope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ? AND scope = ?`, time.Now().UnixMilli(), id, string(scope))
	if err != nil {
		return gwerrors.NewMemorySaveFailedError("touch record", err).WithContext("memory", "Touch").WithDetail("id", id)
	}
	return nil
}

// WriteEmbedding writes (or replaces) the embedding vector for id
// outside of Remember, e.g. for a backfill.
func (s *Store) WriteEmbedding(ctx context.Context, id string, vector []float32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	buf := encodeVector(vector)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, dim, vector, mime, size, hash)
		VALUES (?, ?, ?, 'application/octet-stream', ?, '')
		ON CONFLICT(id) DO UPDATE SET dim=excluded.dim, vector=excluded.vector, size=excluded.size
	`, id, len(vector), buf, len(buf))
	if err != nil {
		return gwerrors.NewMemorySaveFailedError("write embedding", err).WithContext("memory", "WriteEmbedding").WithDetail("id", id)
	}
	return nil
}

// ReadEmbedding reads back the raw vector for id.
func (s *Store) ReadEmbedding(ctx context.Context, id string) ([]float32, error) {
	var buf []byte
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dim, vector FROM embeddings WHERE id = ?`, id).Scan(&dim, &buf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.NewMemoryRecallFailedError("read embedding", err).WithContext("memory", "ReadEmbedding").WithDetail("id", id)
	}
	return decodeVector(buf, dim), nil
}

// ListEmbeddings returns every embedding entry in scope (optionally
// filtered to a project path) joined with the record fields recall needs.
func (s *Store) ListEmbeddings(ctx context.Context, scope Scope, projectPath string) ([]EmbeddingEntry, error) {
	var rows *sql.Rows
	var err error
	const q = `
		SELECT r.id, r.content, r.scope, r.created_at, e.dim, e.vector
		FROM records r JOIN embeddings e ON e.id = r.id
		WHERE r.scope = ?`
	if scope == ScopeProject {
		rows, err = s.db.QueryContext(ctx, q+` AND r.project_path = ?`, string(scope), projectPath)
	} else {
		rows, err = s.db.QueryContext(ctx, q, string(scope))
	}
	if err != nil {
		return nil, gwerrors.NewMemoryRecallFailedError("list embeddings", err).WithContext("memory", "ListEmbeddings")
	}
	defer rows.Close()

	var out []EmbeddingEntry
	for rows.Next() {
		var e EmbeddingEntry
		var sc string
		var createdAt int64
		var dim int
		var buf []byte
		if err := rows.Scan(&e.ID, &e.Content, &sc, &createdAt, &dim, &buf); err != nil {
			return nil, gwerrors.NewMemoryRecallFailedError("scan embedding row", err).WithContext("memory", "ListEmbeddings")
		}
		e.Scope = Scope(sc)
		e.CreatedAt = time.UnixMilli(createdAt)
		e.Vector = decodeVector(buf, dim)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup implements the retention sweep: a record is deleted when
// importance < minImportance AND age > maxAgeDays AND access_count < 3.
// The conjunction is strict and the operation is idempotent for fixed
// inputs: a second call with the same thresholds deletes nothing further.
func (s *Store) Cleanup(ctx context.Context, minImportance float64, maxAgeDays int) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM records
		WHERE importance < ? AND created_at < ? AND access_count < 3`, minImportance, cutoff)
	if err != nil {
		return 0, gwerrors.NewInternalError("cleanup sweep", err).WithContext("memory", "Cleanup")
	}
	n, _ := res.RowsAffected()
	log.Info("retention sweep complete", "deleted", n, "min_importance", minImportance, "max_age_days", maxAgeDays)
	return int(n), nil
}

// Close shuts down the underlying handle. Prefer Reset in tests so the
// singleton map stays consistent.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) []float32 {
	if dim <= 0 || len(buf) < dim*4 {
		return nil
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
