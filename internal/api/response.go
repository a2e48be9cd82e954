package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/executor"
	"github.com/shaiso/meshflow/internal/orchestrator"
	"github.com/shaiso/meshflow/internal/repo"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeTooLarge           ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeInvalidPlan        ErrorCode = "INVALID_PLAN"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeInvalidRetryTarget ErrorCode = "INVALID_RETRY_TARGET"
	ErrCodeRunFinished        ErrorCode = "RUN_FINISHED"
	ErrCodeRunActive          ErrorCode = "RUN_ACTIVE"
	ErrCodeNotImplemented     ErrorCode = "PLANNER_UNAVAILABLE"
	ErrCodeUnavailable        ErrorCode = "UNAVAILABLE"
	ErrCodeBadGateway         ErrorCode = "BAD_GATEWAY"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// decodeBody читает JSON тело запроса. При ошибке ответ уже отправлен.
// allowEmpty — пустое тело допустимо, v остаётся нулевым.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	BadRequest(w, "invalid request body")
	return false
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted отправляет ответ 202: операция принята и выполняется асинхронно.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleError преобразует ошибку оркестратора в HTTP ответ.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, domain.ErrInvalidPlan):
		Error(w, http.StatusBadRequest, ErrCodeInvalidPlan, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		NotFound(w, "run not found")
	case errors.Is(err, domain.ErrInvalidRetryTarget):
		Error(w, http.StatusConflict, ErrCodeInvalidRetryTarget, err.Error())
	case errors.Is(err, domain.ErrRunFinished):
		Error(w, http.StatusUnprocessableEntity, ErrCodeRunFinished, err.Error())
	case errors.Is(err, orchestrator.ErrRunActive):
		Error(w, http.StatusConflict, ErrCodeRunActive, err.Error())
	case errors.Is(err, domain.ErrPlannerUnavailable):
		Error(w, http.StatusNotImplemented, ErrCodeNotImplemented, err.Error())
	case errors.Is(err, executor.ErrPlannerRequest):
		Error(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, orchestrator.ErrOrchestratorStopped):
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
