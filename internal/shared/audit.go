package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions.
const (
	AuditSignIn         = "auth.sign_in"
	AuditSignOut        = "auth.sign_out"
	AuditAccessDenied   = "access.denied"
	AuditContentCreated = "content.created"
	AuditContentUpdated = "content.updated"
	AuditContentDeleted = "content.deleted"
	AuditRoleGranted    = "role.granted"
	AuditRoleRevoked    = "role.revoked"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// execer is the slice of pgxpool.Pool the audit logger needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db     execer
	logger *slog.Logger
}

// NewAuditLogger returns a new AuditLogger. db is usually a *pgxpool.Pool.
func NewAuditLogger(db execer, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{db: db, logger: logger}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, entry.At)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// RecordQuietly records the entry and only logs failures.
func (l *AuditLogger) RecordQuietly(ctx context.Context, entry AuditLog) {
	if l == nil {
		return
	}
	if err := l.Record(ctx, entry); err != nil && l.logger != nil {
		l.logger.Warn("audit record", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
