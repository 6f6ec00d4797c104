package consumer

import "errors"

var (
	ErrAlreadyStarted = errors.New("consumer: already started")
	ErrClosed         = errors.New("consumer: closed")
)
