package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события оркестратора.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunFinished  EventType = "run.finished"
	EventRunRetried   EventType = "run.retried"
	EventRunCancelled EventType = "run.cancelled"
	EventStepStarted  EventType = "step.started"
	EventStepFinished EventType = "step.finished"
)

// Event — уведомление об изменении состояния run или шага.
//
// Для событий уровня run заполнен Snapshot.
type Event struct {
	Type      EventType    `json:"type"`
	RunID     uuid.UUID    `json:"run_id"`
	RunStatus RunStatus    `json:"run_status"`
	StepID    string       `json:"step_id,omitempty"`
	StepState StepState    `json:"step_state,omitempty"`
	Result    *StepResult  `json:"result,omitempty"`
	Snapshot  *RunSnapshot `json:"snapshot,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
