package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// ExportLimit caps the rows of a single CSV export.
	ExportLimit = 5000
)

// Repository reads audit_logs windows, newest first.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error)
}

// Service builds paged audit timelines.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries plus paging metadata.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	size := filters.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	rows, err := s.repo.Window(ctx, filters, size+1, (page-1)*size)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > size
	if hasNext {
		rows = rows[:size]
	}
	paging := PagingInfo{Page: page, PageSize: size, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns up to ExportLimit entries matching filters.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.Window(ctx, filters, ExportLimit, 0)
}

// Querier is the slice of pgxpool.Pool the repository needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository reads audit_logs from Postgres.
type PGRepository struct {
	db Querier
}

// NewPGRepository wraps a pool.
func NewPGRepository(db Querier) *PGRepository {
	return &PGRepository{db: db}
}

const windowSQL = `SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE occurred_at >= $1 AND occurred_at < $2
  AND ($3::text = '' OR actor_id = $3)
  AND ($4::text = '' OR entity = $4)
  AND ($5::text = '' OR action LIKE $5 || '%')
ORDER BY occurred_at DESC, id DESC
LIMIT $6 OFFSET $7`

// Window implements Repository.
func (r *PGRepository) Window(ctx context.Context, f TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	from, to := bounds(f)
	rows, err := r.db.Query(ctx, windowSQL, from, to, f.Actor, f.Entity, f.Action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: query window: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var t TimelineRow
		err := row.Scan(&t.At, &t.Actor, &t.Action, &t.Entity, &t.EntityID, &t.Meta)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan window: %w", err)
	}
	return out, nil
}

// bounds turns the inclusive date filters into a half-open range.
func bounds(f TimelineFilters) (time.Time, time.Time) {
	from := f.From
	to := f.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	to = to.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return from, to
}
