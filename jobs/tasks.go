package jobs

import (
	"github.com/hibiken/asynq"

	"github.com/orgsite/orgsite/internal/translate"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTranslateDocument fills blank locale fields of one document.
	TaskTranslateDocument = translate.TaskTypeDocument
	// TaskTranslateSweep enqueues every document that still needs translation.
	TaskTranslateSweep = translate.TaskTypeSweep
)

// TranslationHandlers binds the translation job to its task types.
func TranslationHandlers(job *translate.Job) []TaskHandler {
	return []TaskHandler{
		{Type: TaskTranslateDocument, Handler: job.Handle},
		{Type: TaskTranslateSweep, Handler: job.HandleSweep},
	}
}

// TranslationCron schedules the periodic translation sweep.
func TranslationCron() []CronRegistration {
	return []CronRegistration{
		{Spec: translate.SweepSchedule, Task: translate.NewSweepTask(), Options: []asynq.Option{asynq.Queue(QueueDefault)}},
	}
}
