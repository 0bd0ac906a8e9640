package errors

import (
	"errors"
	"fmt"
)

// Code identifies an error kind on the wire.
type Code string

// Wire error codes
const (
	CodeInvalidPath   Code = "InvalidPath"
	CodeNotFound      Code = "NotFound"
	CodeWrongKind     Code = "WrongKind"
	CodeHandlerFailed Code = "HandlerFailed"
	CodeInvalidValue  Code = "InvalidValue"
	CodeInternal      Code = "InternalError"
)

var codeSentinels = map[Code]error{
	CodeInvalidPath:   ErrInvalidPath,
	CodeNotFound:      ErrNotFound,
	CodeWrongKind:     ErrWrongKind,
	CodeHandlerFailed: ErrHandlerFailed,
	CodeInvalidValue:  ErrInvalidValue,
}

// CodeOf maps a local error to the code sent back to a remote caller.
// Errors that match no known sentinel are reported as CodeInternal.
func CodeOf(err error) Code {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	// HandlerFailed first: a handler may wrap any of the other sentinels.
	if errors.Is(err, ErrHandlerFailed) {
		return CodeHandlerFailed
	}
	for _, code := range []Code{CodeInvalidPath, CodeNotFound, CodeWrongKind, CodeInvalidValue} {
		if errors.Is(err, codeSentinels[code]) {
			return code
		}
	}
	return CodeInternal
}

// RemoteError is a structured error returned by the remote side of a request.
// It matches ErrRemote and the sentinel of its code with errors.Is.
type RemoteError struct {
	Code    Code
	Message string
	Path    string
	Detail  any
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("remote error at %s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error: %s: %s", e.Code, e.Message)
}

// Is reports whether target is ErrRemote or the sentinel for the error code.
func (e *RemoteError) Is(target error) bool {
	if target == ErrRemote {
		return true
	}
	sentinel, ok := codeSentinels[e.Code]
	return ok && target == sentinel
}

// NewRemoteError creates a RemoteError for the given path.
func NewRemoteError(code Code, message, path string) *RemoteError {
	return &RemoteError{Code: code, Message: message, Path: path}
}
