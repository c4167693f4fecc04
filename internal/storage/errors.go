package storage

import "errors"

var (
	ErrStoreUnreachable  = errors.New("chunk store unreachable")
	ErrStore             = errors.New("chunk store operation failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
