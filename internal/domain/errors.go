package domain

import "fmt"

// Error is the coded error returned across the control surface.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("aide error %d: %s", e.Code, e.Message)
}

// Is matches errors by code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Wrap returns a copy of e carrying additional detail.
func (e *Error) Wrap(detail string) *Error {
	return &Error{Code: e.Code, Message: e.Message + ": " + detail}
}

var (
	ErrInvalidState         = &Error{Code: 1001, Message: "invalid orchestrator state"}
	ErrIntentNotFound       = &Error{Code: 1002, Message: "intent not found"}
	ErrConfirmationNotFound = &Error{Code: 1003, Message: "no pending confirmation"}
	ErrConfirmationExpired  = &Error{Code: 1004, Message: "confirmation expired"}
	ErrUnknownTool          = &Error{Code: 1005, Message: "unknown tool"}
	ErrInvalidParams        = &Error{Code: 1006, Message: "invalid parameters"}
	ErrIntentDenied         = &Error{Code: 1007, Message: "intent denied"}
	ErrGoalNotFound         = &Error{Code: 1101, Message: "goal not found"}
	ErrGoalInvalid          = &Error{Code: 1102, Message: "invalid goal"}
	ErrMemoryNotFound       = &Error{Code: 1201, Message: "memory not found"}
	ErrMemoryInvalid        = &Error{Code: 1202, Message: "invalid memory"}
)
