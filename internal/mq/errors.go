package mq

import (
	"errors"
	"fmt"
)

// Ошибки транспорта.
var (
	// ErrNoChannel — канал AMQP недоступен (нет соединения).
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrConnectionClosed — соединение закрыто через Close.
	ErrConnectionClosed = errors.New("amqp connection closed")
)

// RejectError помечает ошибку обработчика как окончательную:
// сообщение не возвращается в очередь, а уходит в DLQ.
type RejectError struct {
	Err error
}

// Error реализует интерфейс error.
func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected: %v", e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *RejectError) Unwrap() error {
	return e.Err
}

// Reject оборачивает err в RejectError.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &RejectError{Err: err}
}

// IsReject сообщает, что err (или её цепочка) — RejectError.
func IsReject(err error) bool {
	var rej *RejectError
	return errors.As(err, &rej)
}
