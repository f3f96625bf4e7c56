package content

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/orgsite/orgsite/internal/i18n"
	"github.com/orgsite/orgsite/internal/shared"
)

// Enqueuer schedules translation assist for a document.
type Enqueuer interface {
	EnqueueTranslate(ctx context.Context, documentID uuid.UUID) error
}

// Auditor records audit entries without failing the request.
type Auditor interface {
	RecordQuietly(ctx context.Context, entry shared.AuditLog)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Service implements content use cases.
type Service struct {
	repo     Repository
	validate *validator.Validate
	audit    Auditor
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewService constructs a Service. audit and enqueuer may be nil.
func NewService(repo Repository, audit Auditor, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	v := validator.New()
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("doc_kind", func(fl validator.FieldLevel) bool {
		return IsKind(fl.Field().String())
	})
	return &Service{repo: repo, validate: v, audit: audit, enqueuer: enqueuer, logger: logger}
}

// List returns every document of kind for the admin console.
func (s *Service) List(ctx context.Context, kind string) ([]Document, error) {
	return s.repo.List(ctx, ListFilter{Kind: kind})
}

// ListPublished returns published documents of kind, at most limit when positive.
func (s *Service) ListPublished(ctx context.Context, kind string, limit int) ([]Document, error) {
	return s.repo.List(ctx, ListFilter{Kind: kind, PublishedOnly: true, Limit: limit})
}

// Create validates and stores a new document.
func (s *Service) Create(ctx context.Context, actorID string, in Input) (Document, error) {
	in = normalize(in)
	if err := s.check(in); err != nil {
		return Document{}, err
	}
	doc, err := s.repo.Create(ctx, Document{Kind: in.Kind, Slug: in.Slug, Fields: in.Fields, Published: in.Published})
	if err != nil {
		return Document{}, s.slugError(err)
	}
	s.record(ctx, actorID, shared.AuditContentCreated, doc)
	s.assist(ctx, doc)
	return doc, nil
}

// Update validates and replaces a document.
func (s *Service) Update(ctx context.Context, actorID string, id uuid.UUID, in Input) (Document, error) {
	in = normalize(in)
	if err := s.check(in); err != nil {
		return Document{}, err
	}
	doc, err := s.repo.Update(ctx, Document{ID: id, Kind: in.Kind, Slug: in.Slug, Fields: in.Fields, Published: in.Published})
	if err != nil {
		return Document{}, s.slugError(err)
	}
	s.record(ctx, actorID, shared.AuditContentUpdated, doc)
	s.assist(ctx, doc)
	return doc, nil
}

// Delete removes a document.
func (s *Service) Delete(ctx context.Context, actorID, kind string, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditContentDeleted, Document{ID: id, Kind: kind})
	return nil
}

func (s *Service) check(in Input) error {
	errs := ValidationErrors{}
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	if in.Fields.Blank(i18n.English, FieldTitle) {
		errs["title_"+i18n.English] = "required"
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (s *Service) slugError(err error) error {
	if errors.Is(err, ErrSlugTaken) {
		return ValidationErrors{"slug": "taken"}
	}
	return err
}

func (s *Service) record(ctx context.Context, actorID, action string, doc Document) {
	if s.audit == nil {
		return
	}
	s.audit.RecordQuietly(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: doc.ID.String(),
		Meta:     map[string]any{"kind": doc.Kind, "slug": doc.Slug},
	})
}

// assist schedules translation of blank locale fields; failures only get logged.
func (s *Service) assist(ctx context.Context, doc Document) {
	if s.enqueuer == nil || !NeedsTranslation(doc) {
		return
	}
	if err := s.enqueuer.EnqueueTranslate(ctx, doc.ID); err != nil {
		s.logger.Warn("enqueue translation", slog.String("document_id", doc.ID.String()), slog.Any("error", err))
	}
}

// NeedsTranslation reports whether some locale lacks a field English has.
func NeedsTranslation(doc Document) bool {
	for _, lang := range i18n.Locales() {
		for _, name := range []string{FieldTitle, FieldBody} {
			if doc.Fields.Blank(lang, name) && !doc.Fields.Blank(i18n.English, name) {
				return true
			}
		}
	}
	return false
}

func normalize(in Input) Input {
	in.Kind = strings.TrimSpace(in.Kind)
	in.Slug = strings.ToLower(strings.TrimSpace(in.Slug))
	fields := Fields{}
	for lang, values := range in.Fields {
		if !i18n.Supported(lang) {
			continue
		}
		for name, text := range values {
			if text = strings.TrimSpace(text); text != "" {
				fields.Set(lang, name, text)
			}
		}
	}
	in.Fields = fields
	return in
}
