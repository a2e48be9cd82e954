package repo

import "errors"

// Ошибки репозитория.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrNoSnapshot — событие не несёт снимка run.
	ErrNoSnapshot = errors.New("event has no snapshot")
)
