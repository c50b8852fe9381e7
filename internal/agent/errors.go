package agent

import (
	"errors"
	"fmt"
)

var (
	ErrSignalingError = errors.New("signaling error")
	ErrTimeout        = errors.New("timeout")
	ErrUnexpectedKind = errors.New("unexpected signal kind")
)

// SessionError carries the operation and optional file that failed.
type SessionError struct {
	Op   string
	File string
	Err  error
}

func (e *SessionError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

func newFileError(op, file string, err error) *SessionError {
	return &SessionError{Op: op, File: file, Err: err}
}
