package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/orchestrator"
	"github.com/shaiso/meshflow/internal/repo"
)

// History — хранилище завершённых run'ов (repo.RunRepo).
type History interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RunSnapshot, error)
	List(ctx context.Context, filter repo.RunFilter) ([]*domain.RunSnapshot, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch    *orchestrator.Orchestrator
	history History
	hub     *Hub
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	History      History // nil — без истории
	Hub          *Hub    // nil — поток событий недоступен
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		orch:    cfg.Orchestrator,
		history: cfg.History,
		hub:     cfg.Hub,
		logger:  logger,
	}
}
