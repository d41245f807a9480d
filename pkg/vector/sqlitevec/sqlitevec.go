// Package sqlitevec provides a SQLite-backed vector.Store that scores chunks
// with sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/quarry/pkg/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	filename   TEXT NOT NULL,
	file_type  TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	metadata   TEXT,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB,
	created_at  TIMESTAMP NOT NULL,
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
`

// Store implements vector.Store using SQLite with sqlite-vec.
type Store struct {
	db         *sql.DB
	dimensions int
	logger     *slog.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions, when non-zero, is enforced on every stored and queried
	// vector.
	Dimensions uint
}

// NewStore opens (and migrates) the SQLite database at c.DBPath.
func NewStore(c Config, logger *slog.Logger) (*Store, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	dsn := c.DBPath
	memory := c.DBPath == ":memory:"
	if !memory {
		dsn = "file:" + c.DBPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	} else {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// each connection to :memory: is its own database
	if memory {
		db.SetMaxOpenConns(1)
	}

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite-vec store initialized",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return &Store{
		db:         db,
		dimensions: int(c.Dimensions),
		logger:     logger,
	}, nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (s *Store) checkDimensions(v []float32) error {
	if s.dimensions > 0 && len(v) != s.dimensions {
		return fmt.Errorf("%w: expected %d dimensions, got %d", vector.ErrInvalidArgument, s.dimensions, len(v))
	}
	return nil
}

func (s *Store) SaveDocument(ctx context.Context, meta vector.DocumentMeta) (int64, error) {
	var metadata sql.NullString
	if len(meta.Metadata) > 0 {
		b, err := json.Marshal(meta.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, file_type, size, status, metadata, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, meta.Filename, meta.FileType, len(meta.Content), vector.StatusPending, metadata, meta.Content, time.Now().UTC())
	if err != nil {
		return 0, vector.StorageError("inserting document", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, vector.StorageError("reading document id", err)
	}
	return id, nil
}

func (s *Store) SetDocumentStatus(ctx context.Context, id int64, status vector.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return vector.StorageError("updating document status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vector.StorageError("updating document status", err)
	}
	if n == 0 {
		return vector.NotFound(id)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id int64) (*vector.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.filename, d.file_type, d.size, d.status, d.metadata, d.content, d.created_at,
			(SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
		FROM documents d
		WHERE d.id = ?
	`, id)

	doc, err := scanDocument(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vector.NotFound(id)
	}
	if err != nil {
		return nil, vector.StorageError("reading document", err)
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]vector.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.filename, d.file_type, d.size, d.status, d.metadata, d.created_at,
			(SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
		FROM documents d
		ORDER BY d.created_at DESC, d.id DESC
	`)
	if err != nil {
		return nil, vector.StorageError("listing documents", err)
	}
	defer rows.Close()

	var docs []vector.Document
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, vector.StorageError("scanning document", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, vector.StorageError("iterating documents", err)
	}
	return docs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, withContent bool) (*vector.Document, error) {
	var (
		doc      vector.Document
		status   string
		metadata sql.NullString
	)

	dest := []any{&doc.ID, &doc.Filename, &doc.FileType, &doc.Size, &status, &metadata}
	if withContent {
		dest = append(dest, &doc.Content)
	}
	dest = append(dest, &doc.CreatedAt, &doc.ChunkCount)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	doc.Status = vector.DocumentStatus(status)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &doc, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return vector.StorageError("deleting document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vector.StorageError("deleting document", err)
	}
	if n == 0 {
		return vector.NotFound(id)
	}

	s.logger.Debug("deleted document from sqlite-vec", "document_id", id)
	return nil
}

func (s *Store) SaveChunk(ctx context.Context, documentID int64, index int, content string, embedding []float32) (int64, error) {
	if err := s.checkDimensions(embedding); err != nil {
		return 0, err
	}

	var blob []byte
	if len(embedding) > 0 {
		blob = serializeFloat32(embedding)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, vector.StorageError("beginning transaction", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, vector.NotFound(documentID)
	}
	if err != nil {
		return 0, vector.StorageError("checking document", err)
	}

	var chunkID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chunks (document_id, chunk_index, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, chunk_index)
		DO UPDATE SET content = excluded.content, embedding = excluded.embedding
		RETURNING id
	`, documentID, index, content, blob, time.Now().UTC()).Scan(&chunkID)
	if err != nil {
		return 0, vector.StorageError(fmt.Sprintf("inserting chunk %d of document %d", index, documentID), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, vector.StorageError("committing chunk", err)
	}
	return chunkID, nil
}

func (s *Store) TruncateChunks(ctx context.Context, documentID int64, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vector.StorageError("beginning transaction", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return vector.NotFound(documentID)
	}
	if err != nil {
		return vector.StorageError("checking document", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ? AND chunk_index >= ?`, documentID, keep)
	if err != nil {
		return vector.StorageError(fmt.Sprintf("truncating chunks of document %d", documentID), err)
	}
	if err := tx.Commit(); err != nil {
		return vector.StorageError("committing truncate", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("truncated stale chunks", "document_id", documentID, "keep", keep, "removed", n)
	}
	return nil
}

func (s *Store) GetChunks(ctx context.Context, documentID int64) ([]vector.Chunk, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vector.NotFound(documentID)
	}
	if err != nil {
		return nil, vector.StorageError("checking document", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, embedding, created_at
		FROM chunks
		WHERE document_id = ?
		ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, vector.StorageError("querying chunks", err)
	}
	defer rows.Close()

	var chunks []vector.Chunk
	for rows.Next() {
		var (
			c    vector.Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &blob, &c.CreatedAt); err != nil {
			return nil, vector.StorageError("scanning chunk", err)
		}
		if len(blob) > 0 {
			c.Embedding, err = deserializeFloat32(blob)
			if err != nil {
				return nil, vector.StorageError(fmt.Sprintf("decoding chunk %d", c.ID), err)
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, vector.StorageError("iterating chunks", err)
	}
	return chunks, nil
}

// Search scores every candidate chunk in SQL with vec_distance_cosine.
func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.SearchResult, error) {
	if err := vector.ValidateQuery(q); err != nil {
		return nil, err
	}
	if err := s.checkDimensions(q.Vector); err != nil {
		return nil, err
	}

	filter := ""
	var filterArgs []any
	if len(q.DocumentIDs) > 0 {
		placeholders := make([]string, len(q.DocumentIDs))
		for i, id := range q.DocumentIDs {
			placeholders[i] = "?"
			filterArgs = append(filterArgs, id)
		}
		filter = fmt.Sprintf("AND c.document_id IN (%s)", strings.Join(placeholders, ","))
	}

	// vec_distance_cosine fails on mismatched lengths; report it as a bad
	// query rather than a storage failure.
	var mismatched int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM chunks c
		WHERE c.embedding IS NOT NULL AND length(c.embedding) != ? %s
	`, filter), append([]any{len(q.Vector) * 4}, filterArgs...)...).Scan(&mismatched)
	if err != nil {
		return nil, vector.StorageError("checking dimensions", err)
	}
	if mismatched > 0 {
		return nil, fmt.Errorf("%w: %d stored chunks do not have %d dimensions", vector.ErrInvalidArgument, mismatched, len(q.Vector))
	}

	args := []any{serializeFloat32(q.Vector)}
	args = append(args, filterArgs...)
	args = append(args, q.Threshold, q.Limit)

	// The score is clamped in SQL, as vector.ClampScore does, before the
	// threshold and ordering see it.
	query := fmt.Sprintf(`
		SELECT id, document_id, filename, content, chunk_index, score
		FROM (
			SELECT id, document_id, filename, content, chunk_index,
				CASE WHEN raw >= %[2]g THEN 1.0 ELSE raw END AS score
			FROM (
				SELECT
					c.id,
					c.document_id,
					d.filename,
					c.content,
					c.chunk_index,
					COALESCE(1 - vec_distance_cosine(c.embedding, ?), 0) AS raw
				FROM chunks c
				INNER JOIN documents d ON d.id = c.document_id
				WHERE c.embedding IS NOT NULL
					%[1]s
			)
		)
		WHERE score >= ?
		ORDER BY score DESC, id ASC
		LIMIT ?
	`, filter, 1-vector.ScoreTolerance)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vector.StorageError("querying vectors", err)
	}
	defer rows.Close()

	var results []vector.SearchResult
	for rows.Next() {
		var r vector.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.DocumentName, &r.Content, &r.ChunkIndex, &r.Score); err != nil {
			return nil, vector.StorageError("scanning query result", err)
		}
		r.Score = vector.ClampScore(r.Score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, vector.StorageError("iterating query results", err)
	}

	s.logger.Debug("queried sqlite-vec",
		"results", len(results),
		"limit", q.Limit,
		"threshold", q.Threshold,
	)

	return vector.Finalize(results, q.Limit), nil
}

func (s *Store) Stats(ctx context.Context) (vector.Stats, error) {
	stats := vector.Stats{FileTypes: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.TotalDocuments); err != nil {
		return stats, vector.StorageError("counting documents", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return stats, vector.StorageError("counting chunks", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT file_type, COUNT(*) FROM documents GROUP BY file_type`)
	if err != nil {
		return stats, vector.StorageError("counting file types", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fileType string
			n        int
		)
		if err := rows.Scan(&fileType, &n); err != nil {
			return stats, vector.StorageError("scanning file type", err)
		}
		stats.FileTypes[fileType] = n
	}
	if err := rows.Err(); err != nil {
		return stats, vector.StorageError("iterating file types", err)
	}
	return stats, nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ vector.Store = (*Store)(nil)
