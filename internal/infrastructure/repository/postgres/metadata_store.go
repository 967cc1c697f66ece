package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

// MetadataStore is the read-mostly view over document and chunk metadata
// written by the ingestion side. It backs result enrichment and the lexical
// keyword fallback.
type MetadataStore struct {
	db *sql.DB
}

func NewMetadataStore(db *sql.DB) *MetadataStore {
	return &MetadataStore{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *MetadataStore) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	folder TEXT,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	filename TEXT NOT NULL,
	text TEXT NOT NULL,
	section TEXT,
	page INTEGER NOT NULL DEFAULT 0,
	chunk_type TEXT,
	domain_tag TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_created_at ON chunks(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *MetadataStore) GetDocuments(ctx context.Context, documentIDs []string) ([]domain.DocumentInfo, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	placeholders, args := expandPlaceholders(documentIDs, 1)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, title, COALESCE(folder, ''), tags
FROM documents
WHERE id IN (%s)
`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentInfo, 0, len(documentIDs))
	for rows.Next() {
		var info domain.DocumentInfo
		var tagsRaw []byte
		if err := rows.Scan(&info.ID, &info.Title, &info.Folder, &tagsRaw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(tagsRaw, &info.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// ListChunks returns chunks for the candidate documents, or the most recent
// chunks across the corpus when no candidates are given.
func (r *MetadataStore) ListChunks(ctx context.Context, documentIDs []string, limit int) ([]domain.RetrievedChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if len(documentIDs) == 0 {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, document_id, filename, text, COALESCE(section, ''), page, COALESCE(chunk_type, ''), COALESCE(domain_tag, '')
FROM chunks
ORDER BY created_at DESC
LIMIT $1
`, limit)
	} else {
		placeholders, args := expandPlaceholders(documentIDs, 1)
		args = append(args, limit)
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, document_id, filename, text, COALESCE(section, ''), page, COALESCE(chunk_type, ''), COALESCE(domain_tag, '')
FROM chunks
WHERE document_id IN (%s)
ORDER BY created_at DESC
LIMIT $%d
`, placeholders, len(documentIDs)+1), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RetrievedChunk, 0, limit)
	for rows.Next() {
		var chunk domain.RetrievedChunk
		if err := rows.Scan(
			&chunk.ChunkID,
			&chunk.DocumentID,
			&chunk.Filename,
			&chunk.Text,
			&chunk.Section,
			&chunk.Page,
			&chunk.ChunkType,
			&chunk.DomainTag,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// expandPlaceholders builds "$1,$2,..." starting at the given ordinal; the
// pgx stdlib driver cannot bind a string slice to ANY directly.
func expandPlaceholders(values []string, start int) (string, []any) {
	parts := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return strings.Join(parts, ","), args
}
