package translate

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// TaskTypeDocument fills blank locale fields of one document.
	TaskTypeDocument = "content:translate"
	// TaskTypeSweep finds documents that still need translation.
	TaskTypeSweep = "content:translate-sweep"
	// SweepSchedule runs the sweep hourly.
	SweepSchedule = "@every 1h"
)

// Payload identifies the document to translate.
type Payload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

// NewTask constructs an Asynq task for one document. Tasks for the same
// document within the dedupe window collapse into one.
func NewTask(documentID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(Payload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDocument, data,
		asynq.MaxRetry(3),
		asynq.Unique(time.Minute),
	), nil
}

// NewSweepTask constructs the periodic sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSweep, nil, asynq.MaxRetry(1))
}
