package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrLockHeld — rebuild lock держит живой holder, CAS не прошёл.
	ErrLockHeld = errors.New("lock held by live holder")
)
