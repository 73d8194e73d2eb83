package models

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Domain error taxonomy. Every mutating command either fully succeeds or
// fails with one of these; controllers map them to HTTP statuses.
var (
	// ErrDuplicateVote is the unique-constraint violation on ballot insert.
	ErrDuplicateVote = errors.New("you already voted on this question")

	// ErrQuestionLocked rejects edits on a question that already has ballots.
	ErrQuestionLocked = errors.New("cannot edit once voting has started")

	// ErrAlreadyCompleted rejects mutations on a completed question.
	ErrAlreadyCompleted = errors.New("question is already completed")

	// ErrNotFound covers any absent question/group/option/user reference.
	ErrNotFound = errors.New("not found")

	// ErrValidation covers malformed input, rejected before any store call.
	ErrValidation = errors.New("validation failed")

	// ErrTransport marks store failures as retryable by the caller; this core
	// never retries on its own.
	ErrTransport = errors.New("store unavailable")
)

// IsDuplicateKey reports whether err is a unique-constraint violation. GORM
// translates these to ErrDuplicatedKey when the driver supports it; the
// string checks cover postgres (23505) and sqlite used in tests.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
