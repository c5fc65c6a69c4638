package models

import "github.com/pkg/errors"

// ErrNotFound возвращают хранилища, когда записи нет.
var ErrNotFound = errors.New("not found")
