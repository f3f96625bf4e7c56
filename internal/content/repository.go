package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orgsite/orgsite/internal/platform/db"
	"github.com/orgsite/orgsite/internal/shared"
)

// Repository persists documents.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	Get(ctx context.Context, id uuid.UUID) (Document, error)
	Create(ctx context.Context, doc Document) (Document, error)
	Update(ctx context.Context, doc Document) (Document, error)
	Delete(ctx context.Context, kind string, id uuid.UUID) error
	// FillBlank writes the given texts only where the stored document is still blank.
	FillBlank(ctx context.Context, id uuid.UUID, fills Fields) (Document, error)
}

// Pool is the subset of *pgxpool.Pool used by PGRepository.
type Pool interface {
	db.TxBeginner
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository stores documents in PostgreSQL with jsonb fields.
type PGRepository struct {
	pool Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const documentColumns = `id, kind, slug, fields, published, created_at, updated_at`

const uniqueViolation = "23505"

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var doc Document
	var raw []byte
	if err := row.Scan(&doc.ID, &doc.Kind, &doc.Slug, &raw, &doc.Published, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.Fields); err != nil {
			return Document{}, fmt.Errorf("content: decode fields of %s: %w", doc.ID, err)
		}
	}
	if doc.Fields == nil {
		doc.Fields = Fields{}
	}
	return doc, nil
}

// List returns documents of a kind, newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+`
FROM documents WHERE kind = $1 AND ($2::boolean = false OR published)
ORDER BY created_at DESC LIMIT $3`, filter.Kind, filter.PublishedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("content: list %s: %w", filter.Kind, err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Get loads one document.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return Document{}, notFound(err)
	}
	return doc, nil
}

// Create inserts doc, assigning an id when it has none.
func (r *PGRepository) Create(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return Document{}, fmt.Errorf("content: encode fields: %w", err)
	}
	created, err := scanDocument(r.pool.QueryRow(ctx, `INSERT INTO documents (id, kind, slug, fields, published, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING `+documentColumns, doc.ID, doc.Kind, doc.Slug, raw, doc.Published))
	if err != nil {
		return Document{}, conflict(err)
	}
	return created, nil
}

// Update replaces slug, fields and published flag of doc.
func (r *PGRepository) Update(ctx context.Context, doc Document) (Document, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return Document{}, fmt.Errorf("content: encode fields: %w", err)
	}
	updated, err := scanDocument(r.pool.QueryRow(ctx, `UPDATE documents SET slug = $3, fields = $4, published = $5, updated_at = NOW()
WHERE id = $1 AND kind = $2
RETURNING `+documentColumns, doc.ID, doc.Kind, doc.Slug, raw, doc.Published))
	if err != nil {
		return Document{}, conflict(notFound(err))
	}
	return updated, nil
}

// Delete removes a document of kind.
func (r *PGRepository) Delete(ctx context.Context, kind string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND kind = $2`, id, kind)
	if err != nil {
		return fmt.Errorf("content: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FillBlank merges fills into the stored fields under a row lock.
func (r *PGRepository) FillBlank(ctx context.Context, id uuid.UUID, fills Fields) (Document, error) {
	var out Document
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		doc, err := scanDocument(tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		merged := doc.Fields.Clone()
		changed := false
		for lang, values := range fills {
			for name, text := range values {
				if text == "" || !merged.Blank(lang, name) {
					continue
				}
				merged.Set(lang, name, text)
				changed = true
			}
		}
		if !changed {
			out = doc
			return nil
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("content: encode fields: %w", err)
		}
		out, err = scanDocument(tx.QueryRow(ctx, `UPDATE documents SET fields = $2, updated_at = NOW() WHERE id = $1 RETURNING `+documentColumns, id, raw))
		return err
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrSlugTaken
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
