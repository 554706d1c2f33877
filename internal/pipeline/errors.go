package pipeline

import "errors"

var (
	// ErrAllSourcesFailed fails a run in which no source could be fetched.
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrInvalidRecord marks a fetched record that cannot be stored.
	ErrInvalidRecord = errors.New("invalid record")
)
