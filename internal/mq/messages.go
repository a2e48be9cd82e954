package mq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы запросов к оркестратору.
const (
	MessageTypeRunSubmit MessageType = "run.submit"
	MessageTypeRunRetry  MessageType = "run.retry"
	MessageTypeRunCancel MessageType = "run.cancel"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RunSubmitPayload — запрос на запуск плана.
type RunSubmitPayload struct {
	Plan    domain.PlanDraft  `json:"plan"`
	Options domain.RunOptions `json:"options"`
}

// RunRetryPayload — запрос на retry шагов run. Пустой StepIDs — все FAILED/SKIPPED.
type RunRetryPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	StepIDs []string  `json:"step_ids,omitempty"`
}

// RunCancelPayload — запрос на отмену run.
type RunCancelPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload может быть уже распарсен как map или быть raw json
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
