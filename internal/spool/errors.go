package spool

import "errors"

var (
	// ErrEmptyTopic is returned when enqueuing without a topic.
	ErrEmptyTopic = errors.New("spool: topic cannot be empty")

	// ErrNotFound is returned when removing an entry that does not exist.
	ErrNotFound = errors.New("spool: entry not found")
)
