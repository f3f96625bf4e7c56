package content

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/orgsite/orgsite/internal/shared"
)

func TestErrorMapping(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), shared.ErrNotFound)
	assert.ErrorIs(t, notFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)), shared.ErrNotFound)

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "documents_kind_slug_key"}
	assert.ErrorIs(t, conflict(fmt.Errorf("insert: %w", dup)), ErrSlugTaken)
	assert.ErrorIs(t, conflict(dup), shared.ErrConflict)

	other := errors.New("connection reset")
	assert.Equal(t, other, conflict(notFound(other)))
}

func TestFieldsClone(t *testing.T) {
	f := Fields{"en": {"title": "Hello"}}
	c := f.Clone()
	c.Set("en", "title", "Changed")
	c.Set("fr", "title", "Bonjour")
	assert.Equal(t, "Hello", f["en"]["title"])
	assert.NotContains(t, f, "fr")
	assert.True(t, f.Blank("es", "title"))
}
