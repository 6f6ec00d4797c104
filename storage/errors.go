package storage

import "errors"

var (
	ErrNotOpen       = errors.New("storage: not open")
	ErrIndexExists   = errors.New("storage: index already exists with different matcher fingerprint")
	ErrIndexNotFound = errors.New("storage: index not found")
)
