// Package content manages the documents shown on the public site and edited
// from the admin console.
package content

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/i18n"
	"github.com/orgsite/orgsite/internal/shared"
)

// Field names every document carries per locale.
const (
	FieldTitle = "title"
	FieldBody  = "body"
)

// ErrSlugTaken is returned when a document of the same kind already uses the slug.
var ErrSlugTaken = fmt.Errorf("content: slug already in use: %w", shared.ErrConflict)

// Kinds lists the document kinds, one per admin console page.
func Kinds() []string {
	return access.AdminPages()
}

// IsKind reports whether kind is a known document kind.
func IsKind(kind string) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// Fields maps locale -> field name -> text.
type Fields map[string]map[string]string

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for lang, values := range f {
		inner := make(map[string]string, len(values))
		for k, v := range values {
			inner[k] = v
		}
		out[lang] = inner
	}
	return out
}

// Blank reports whether lang has no text for name.
func (f Fields) Blank(lang, name string) bool {
	return strings.TrimSpace(f[lang][name]) == ""
}

// Set stores text for lang and name.
func (f Fields) Set(lang, name, text string) {
	if f[lang] == nil {
		f[lang] = map[string]string{}
	}
	f[lang][name] = text
}

// Document is one piece of site content.
type Document struct {
	ID        uuid.UUID
	Kind      string
	Slug      string
	Fields    Fields
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field returns the raw text of name in lang.
func (d Document) Field(lang, name string) string {
	return d.Fields[lang][name]
}

// Localized returns name in lang, falling back to English and then any locale with text.
func (d Document) Localized(lang, name string) string {
	if !d.Fields.Blank(lang, name) {
		return d.Fields[lang][name]
	}
	if !d.Fields.Blank(i18n.English, name) {
		return d.Fields[i18n.English][name]
	}
	langs := make([]string, 0, len(d.Fields))
	for l := range d.Fields {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	for _, l := range langs {
		if !d.Fields.Blank(l, name) {
			return d.Fields[l][name]
		}
	}
	return ""
}

// Input carries a create or update request.
type Input struct {
	Kind      string `validate:"required,doc_kind"`
	Slug      string `validate:"required,max=120,slug"`
	Fields    Fields `validate:"required"`
	Published bool
}

// ListFilter narrows List.
type ListFilter struct {
	Kind          string
	PublishedOnly bool
	Limit         int
}

// ValidationErrors maps form field to message.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v[k])
	}
	return "content: invalid input: " + strings.Join(parts, "; ")
}

// Is matches shared.ErrInvalidInput.
func (v ValidationErrors) Is(target error) bool {
	return target == shared.ErrInvalidInput
}
