// Package pgvector stores chunk vectors in Postgres using the pgvector
// extension. A document's records are swapped inside one transaction, so
// readers see either the committed old set or the committed new one.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/pgvector/pgvector-go"

	"intellixdoc/internal/pkg/vecmath"
	"intellixdoc/internal/vectorindex"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type Index struct {
	db    *sql.DB
	table string
	dim   int
}

var _ vectorindex.Index = (*Index)(nil)

func New(db *sql.DB, table string, dimension int) (*Index, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid vector table name %q", table)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dimension)
	}
	return &Index{db: db, table: table, dim: dimension}, nil
}

// EnsureSchema creates the extension, table and lookup index if missing.
// No ANN index is created: search is an exact scan so rankings are stable.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(ix.table, ix.dim) {
		if _, err := ix.db.ExecContext(ctx, stmt); err != nil {
			return &vectorindex.UnavailableError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

func schemaStatements(table string, dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq         BIGSERIAL,
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			filename    TEXT NOT NULL,
			page_number INT NOT NULL,
			ordinal     INT NOT NULL,
			chunk_text  TEXT NOT NULL,
			embedding   vector(%d) NOT NULL
		)`, table, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_id_idx ON %s (document_id)`, table, table),
	}
}

func (ix *Index) Dimension() int { return ix.dim }

func (ix *Index) Upsert(ctx context.Context, records []vectorindex.Record) error {
	order, groups, err := vectorindex.Group(records, ix.dim)
	if err != nil {
		return err
	}
	for _, docID := range order {
		if err := ix.replaceDocument(ctx, docID, groups[docID]); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) replaceDocument(ctx context.Context, docID string, recs []vectorindex.Record) error {
	tx, err := ix.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return &vectorindex.UnavailableError{Op: "upsert", Err: err}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, ix.table), docID); err != nil {
		_ = tx.Rollback()
		return &vectorindex.UnavailableError{Op: "upsert", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, document_id, filename, page_number, ordinal, chunk_text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			filename    = EXCLUDED.filename,
			page_number = EXCLUDED.page_number,
			ordinal     = EXCLUDED.ordinal,
			chunk_text  = EXCLUDED.chunk_text,
			embedding   = EXCLUDED.embedding
	`, ix.table))
	if err != nil {
		_ = tx.Rollback()
		return &vectorindex.UnavailableError{Op: "upsert", Err: err}
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.DocumentID, r.Filename, r.PageNumber, r.Ordinal, r.Text, pgvector.NewVector(r.Vector),
		); err != nil {
			_ = tx.Rollback()
			return &vectorindex.UnavailableError{Op: "upsert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &vectorindex.UnavailableError{Op: "upsert commit", Err: err}
	}
	return nil
}

func (ix *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := ix.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, ix.table), documentID); err != nil {
		return &vectorindex.UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

func (ix *Index) Search(ctx context.Context, vector []float32, topK int, filter *vectorindex.Filter) ([]vectorindex.Match, error) {
	if topK <= 0 || (filter != nil && len(filter.DocumentIDs) == 0) {
		return []vectorindex.Match{}, nil
	}
	if err := vecmath.Check("search query", vector, ix.dim); err != nil {
		return nil, err
	}

	query, args := searchQuery(ix.table, pgvector.NewVector(vector), topK, filter)
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &vectorindex.UnavailableError{Op: "search", Err: err}
	}
	defer rows.Close()

	out := make([]vectorindex.Match, 0, topK)
	for rows.Next() {
		var (
			m   vectorindex.Match
			emb pgvector.Vector
		)
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Filename, &m.PageNumber, &m.Ordinal, &m.Text, &emb, &m.Score); err != nil {
			return nil, &vectorindex.UnavailableError{Op: "search scan", Err: err}
		}
		m.Vector = emb.Slice()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorindex.UnavailableError{Op: "search", Err: err}
	}
	return out, nil
}

// searchQuery orders by cosine distance, then by seq so equal scores keep
// insertion order.
func searchQuery(table string, vec pgvector.Vector, topK int, filter *vectorindex.Filter) (string, []any) {
	where := ""
	args := []any{vec, topK}
	if filter != nil {
		where = "WHERE document_id = ANY($3)"
		args = append(args, filter.DocumentIDs)
	}
	q := fmt.Sprintf(`
		SELECT id, document_id, filename, page_number, ordinal, chunk_text, embedding,
		       1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1, seq ASC
		LIMIT $2
	`, table, where)
	return q, args
}

func (ix *Index) Ping(ctx context.Context) error {
	if err := ix.db.PingContext(ctx); err != nil {
		return &vectorindex.UnavailableError{Op: "ping", Err: err}
	}
	return nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}
