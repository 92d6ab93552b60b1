package model

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
)

// Kind classifies a rejected scheduling operation.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindScheduleConflict  Kind = "schedule_conflict"
	KindSlotUnavailable   Kind = "slot_unavailable"
	KindBlockInUse        Kind = "block_in_use"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
)

// Error is returned for every rejected precondition. Conflict carries the range that caused
// a schedule conflict or unavailable slot, when known.
type Error struct {
	Kind     Kind
	Message  string
	Conflict *interval.Range
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSlotUnavailable) works on
// errors carrying their own messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrScheduleConflict  = &Error{Kind: KindScheduleConflict}
	ErrSlotUnavailable   = &Error{Kind: KindSlotUnavailable}
	ErrBlockInUse        = &Error{Kind: KindBlockInUse}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds an error of kind naming the conflicting range.
func Conflictf(kind Kind, conflict interval.Range, format string, args ...any) *Error {
	c := conflict
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Conflict: &c}
}

// KindOf returns the kind of a scheduling error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
