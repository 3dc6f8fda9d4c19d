package entity

import "errors"

var (
	// Session errors
	ErrInvalidSessionID   = errors.New("invalid session id")
	ErrInvalidMessageRole = errors.New("invalid message role")
	ErrSessionNotFound    = errors.New("session not found")

	// Scheduled task errors
	ErrInvalidTaskID        = errors.New("invalid scheduled task id")
	ErrInvalidTaskSchedule  = errors.New("invalid scheduled task schedule")
	ErrTaskNotFound         = errors.New("scheduled task not found")

	// Memory record errors
	ErrInvalidMemoryID      = errors.New("invalid memory record id")
	ErrInvalidMemoryKind    = errors.New("invalid memory record kind")
	ErrMemoryRecordNotFound = errors.New("memory record not found")
)
