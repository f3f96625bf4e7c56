// Package translate fills blank locale fields of site documents from their
// English text in the background.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/orgsite/orgsite/internal/content"
	"github.com/orgsite/orgsite/internal/i18n"
	jobmetrics "github.com/orgsite/orgsite/internal/jobs"
	"github.com/orgsite/orgsite/internal/shared"
)

var translatable = []string{content.FieldTitle, content.FieldBody}

// Job translates documents enqueued after admin writes.
type Job struct {
	repo       content.Repository
	translator Translator
	enqueuer   content.Enqueuer
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
}

// NewJob constructs a translation job. enqueuer is only used by the sweep.
func NewJob(repo content.Repository, translator Translator, enqueuer content.Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *Job {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Job{repo: repo, translator: translator, enqueuer: enqueuer, logger: logger, metrics: metrics}
}

// Handle processes TaskTypeDocument tasks.
func (j *Job) Handle(ctx context.Context, t *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DocumentID == uuid.Nil {
		return fmt.Errorf("translate payload: %w", asynq.SkipRetry)
	}
	tracker := j.metrics.Track(TaskTypeDocument)
	return tracker.End(j.Run(ctx, payload.DocumentID))
}

// Run fills the blank locale fields of one document. A document deleted
// before the job runs is not an error.
func (j *Job) Run(ctx context.Context, id uuid.UUID) error {
	doc, err := j.repo.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		j.logger.Info("translate skipped, document gone", slog.String("document_id", id.String()))
		return nil
	}
	if err != nil {
		return err
	}
	if !content.NeedsTranslation(doc) {
		return nil
	}

	fills := content.Fields{}
	counts := map[string]int{}
	for _, lang := range i18n.Locales() {
		if lang == i18n.English {
			continue
		}
		for _, name := range translatable {
			if !doc.Fields.Blank(lang, name) || doc.Fields.Blank(i18n.English, name) {
				continue
			}
			text, err := j.translator.Translate(ctx, doc.Field(i18n.English, name), i18n.English, lang)
			if err != nil {
				return fmt.Errorf("translate %s %s: %w", lang, name, err)
			}
			fills.Set(lang, name, text)
			counts[lang]++
		}
	}
	if len(fills) == 0 {
		return nil
	}
	// FillBlank never overwrites text an editor saved while we were translating.
	if _, err := j.repo.FillBlank(ctx, id, fills); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	for lang, n := range counts {
		j.metrics.AddTranslatedFields(lang, n)
	}
	j.logger.Info("document translated", slog.String("document_id", id.String()), slog.Any("locales", counts))
	return nil
}

// HandleSweep processes TaskTypeSweep tasks.
func (j *Job) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track(TaskTypeSweep)
	_, err := j.Sweep(ctx)
	return tracker.End(err)
}

// Sweep enqueues every document that still lacks a translation and returns
// how many were enqueued.
func (j *Job) Sweep(ctx context.Context) (int, error) {
	if j.enqueuer == nil {
		return 0, errors.New("translate sweep: enqueuer not configured")
	}
	enqueued := 0
	for _, kind := range content.Kinds() {
		docs, err := j.repo.List(ctx, content.ListFilter{Kind: kind})
		if err != nil {
			return enqueued, fmt.Errorf("list %s: %w", kind, err)
		}
		for _, doc := range docs {
			if !content.NeedsTranslation(doc) {
				continue
			}
			if err := j.enqueuer.EnqueueTranslate(ctx, doc.ID); err != nil {
				return enqueued, err
			}
			enqueued++
		}
	}
	return enqueued, nil
}
