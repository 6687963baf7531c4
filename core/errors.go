package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConflict is returned by repositories when a compare-and-set update lost against a concurrent writer.
var ErrConflict = errors.New("record was modified concurrently")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return fmt.Sprintf("%s: %s", err.Fields[0].Field, err.Fields[0].Error)
		}
		return ""
	}
	return err.Err.Error()
}

// DuplicateError reports a uniqueness violation, e.g. a second metrics record for the same period.
type DuplicateError struct {
	Entity string
	Key    string
}

func NewDuplicateError(entity, key string) error {
	return &DuplicateError{Entity: entity, Key: key}
}

func (err DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists for %s", err.Entity, err.Key)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func (err NotFoundError) Error() string {
	if err.ID == "" {
		return err.Entity + " not found"
	}
	return fmt.Sprintf("%s %q not found", err.Entity, err.ID)
}

// InvalidStateError reports a transition that the lifecycle of an entity does not allow.
type InvalidStateError struct {
	Entity string
	State  string
	Action string
	Reason string
}

func NewInvalidStateError(entity, state, action, reason string) error {
	return &InvalidStateError{Entity: entity, State: state, Action: action, Reason: reason}
}

func (err InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s %s in state %q", err.Action, err.Entity, err.State)
	if err.Reason != "" {
		msg += ": " + err.Reason
	}
	return msg
}

// SettlementTimeoutError means the outcome of a settlement call is unknown.
// The transfer may or may not have happened and must be reconciled.
type SettlementTimeoutError struct {
	Reference string
	Err       error
}

func NewSettlementTimeoutError(ref string, err error) error {
	return &SettlementTimeoutError{Reference: ref, Err: err}
}

func (err SettlementTimeoutError) Error() string {
	msg := fmt.Sprintf("settlement %s timed out", err.Reference)
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	return msg
}

func (err SettlementTimeoutError) Unwrap() error { return err.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsDuplicate(err error) bool {
	var dup *DuplicateError
	return errors.As(err, &dup)
}

func IsInvalidState(err error) bool {
	var is *InvalidStateError
	return errors.As(err, &is)
}

func IsSettlementTimeout(err error) bool {
	var st *SettlementTimeoutError
	return errors.As(err, &st)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
