package jobs_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsite/orgsite/internal/translate"
	"github.com/orgsite/orgsite/jobs"
)

func TestNewWorkerRegistersTranslation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	job := translate.NewJob(nil, nil, nil, logger, nil)

	handlers := append(jobs.TranslationHandlers(job), jobs.TaskHandler{Type: "ignored"})
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      jobs.TranslationCron(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{jobs.TaskTranslateDocument, jobs.TaskTranslateSweep}, worker.TaskTypes())
	assert.True(t, worker.Scheduled())

	_, err = jobs.NewWorker(jobs.WorkerConfig{})
	assert.Error(t, err)
}

func TestNilWorkerRefusesToRun(t *testing.T) {
	var w *jobs.Worker
	assert.Error(t, w.Run(context.Background()))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	jobs.NewHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, jobs.QueueDefault, body["queue"])
	assert.EqualValues(t, 0, body["pending"])
}
