package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrCycleRunning       = errors.New("optimization cycle already running")
	ErrCatalogUnavailable = errors.New("schema catalog unavailable")
	ErrTableNotFound      = errors.New("table does not exist")
	ErrColumnNotFound     = errors.New("column does not exist")
	ErrIndexNotFound      = errors.New("index does not exist")
	ErrIndexExists        = errors.New("index already exists")
	ErrPrimaryProtected   = errors.New("PRIMARY index cannot be dropped")
	ErrUnsafeParameter    = errors.New("parameter rejected by injection check")
)
