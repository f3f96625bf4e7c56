package rolestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orgsite/orgsite/internal/access"
)

// DB is the subset of *pgxpool.Pool used by PGPartition.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	lookupSQL = `SELECT doc FROM role_records WHERE partition = $1 AND principal_id = $2`
	upsertSQL = `INSERT INTO role_records (partition, principal_id, doc, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (partition, principal_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`
	deleteSQL = `DELETE FROM role_records WHERE partition = $1 AND principal_id = $2`
)

// PGPartition keeps role records as jsonb documents in role_records.
type PGPartition struct {
	db   DB
	name string
}

// NewPGPartition constructs a PGPartition.
func NewPGPartition(db DB, name string) *PGPartition {
	return &PGPartition{db: db, name: name}
}

// Name returns the partition name.
func (p *PGPartition) Name() string {
	return p.name
}

// Lookup reads the record of principalID.
func (p *PGPartition) Lookup(ctx context.Context, principalID string) (access.Record, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return access.Record{}, ErrInvalidPrincipal
	}
	var raw []byte
	if err := p.db.QueryRow(ctx, lookupSQL, p.name, principalID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Record{}, access.ErrRecordNotFound
		}
		return access.Record{}, fmt.Errorf("rolestore: query %s: %w", p.name, err)
	}
	return decodeRecord(p.name, raw)
}

// Put upserts the record of principalID.
func (p *PGPartition) Put(ctx context.Context, principalID string, record access.Record) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return ErrInvalidPrincipal
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("rolestore: encode record: %w", err)
	}
	if _, err := p.db.Exec(ctx, upsertSQL, p.name, principalID, raw); err != nil {
		return fmt.Errorf("rolestore: upsert %s: %w", p.name, err)
	}
	return nil
}

// Delete removes the record of principalID.
func (p *PGPartition) Delete(ctx context.Context, principalID string) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return ErrInvalidPrincipal
	}
	tag, err := p.db.Exec(ctx, deleteSQL, p.name, principalID)
	if err != nil {
		return fmt.Errorf("rolestore: delete %s: %w", p.name, err)
	}
	if tag.RowsAffected() == 0 {
		return access.ErrRecordNotFound
	}
	return nil
}

var _ Partition = (*PGPartition)(nil)
