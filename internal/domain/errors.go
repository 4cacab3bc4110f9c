package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no active classroom session exists.
	ErrSessionNotFound = errors.New("session not found or inactive")
	// ErrQuestionNotFound indicates a question id does not resolve to any stored question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrQuestionClosed is returned for answers to a question that is no longer active.
	ErrQuestionClosed = errors.New("question is no longer accepting answers")
	// ErrQuestionActive rejects starting a question while another is still running.
	ErrQuestionActive = errors.New("another question is already active")
	// ErrAnswerExists enforces one answer per student per question.
	ErrAnswerExists = errors.New("answer already submitted for this question")
	// ErrStudentNotFound indicates a roster id that is not present.
	ErrStudentNotFound = errors.New("student not found in session")
	// ErrNotTeacher guards teacher-only actions.
	ErrNotTeacher = errors.New("only the teacher can perform this action")
	// ErrInvalidInput covers malformed or out-of-range request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreUnavailable wraps storage collaborator failures.
	ErrStoreUnavailable = errors.New("storage unavailable")
)

// ErrorCode is the machine-readable class attached to error events.
type ErrorCode string

const (
	CodeNotFound     ErrorCode = "not_found"
	CodeConflict     ErrorCode = "conflict"
	CodeUnauthorized ErrorCode = "unauthorized"
	CodeUnavailable  ErrorCode = "unavailable"
	CodeInvalid      ErrorCode = "invalid"
)

// Classify maps an error to its wire code. Unknown errors are reported as
// unavailable since they almost always originate in the storage collaborator.
func Classify(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrQuestionClosed),
		errors.Is(err, ErrStudentNotFound):
		return CodeNotFound
	case errors.Is(err, ErrQuestionActive), errors.Is(err, ErrAnswerExists):
		return CodeConflict
	case errors.Is(err, ErrNotTeacher):
		return CodeUnauthorized
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalid
	default:
		return CodeUnavailable
	}
}
