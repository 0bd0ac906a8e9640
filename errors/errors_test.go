package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"timeout", ErrTimeout, true},
		{"connection", ErrConnection, true},
		{"not connected", ErrNotConnected, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid path", ErrInvalidPath, false},
		{"not found", ErrNotFound, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"nats no responders", fmt.Errorf("nats: no responders available for request"), true},
		{"remote error mentioning connection", NewRemoteError(CodeHandlerFailed, "connection refused", "a.b"), false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"missing config", ErrMissingConfig, true},
		{"fatal in message", fmt.Errorf("fatal: cannot continue"), true},
		{"timeout", ErrTimeout, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsFatal(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid path", ErrInvalidPath, true},
		{"invalid value", ErrInvalidValue, true},
		{"duplicate segment", ErrDuplicateSegment, true},
		{"wrong kind", ErrWrongKind, true},
		{"wrapped invalid config", Wrap(ErrInvalidConfig, "Config", "Validate", "check domain"), true},
		{"timeout", ErrTimeout, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsInvalid(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"timeout", ErrTimeout, ErrorTransient},
		{"missing config", ErrMissingConfig, ErrorFatal},
		{"invalid path", ErrInvalidPath, ErrorInvalid},
		{"unknown", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := Classify(test.err); result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestClassifiedError(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	ce := newClassified(ErrorTransient, baseErr, "Manager", "AddNode", "custom message")

	if ce.Class != ErrorTransient {
		t.Errorf("expected ErrorTransient, got %v", ce.Class)
	}
	if ce.Component != "Manager" {
		t.Errorf("expected Manager, got %s", ce.Component)
	}
	if ce.Operation != "AddNode" {
		t.Errorf("expected AddNode, got %s", ce.Operation)
	}
	if ce.Error() != "custom message" {
		t.Errorf("expected 'custom message', got %s", ce.Error())
	}
	if !errors.Is(ce, baseErr) {
		t.Error("classified error should unwrap to base error")
	}

	ce = newClassified(ErrorTransient, baseErr, "Manager", "AddNode", "")
	if ce.Error() != "base error" {
		t.Errorf("expected 'base error', got %s", ce.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "component", "method", "action") != nil {
		t.Error("wrapping nil should return nil")
	}

	result := Wrap(ErrNotFound, "Manager", "RemoveNode", "resolve sensors.temp1")
	expected := "Manager.RemoveNode: resolve sensors.temp1 failed: element not found"
	if result.Error() != expected {
		t.Errorf("expected '%s', got '%v'", expected, result)
	}
	if !errors.Is(result, ErrNotFound) {
		t.Error("wrapped error should match its sentinel")
	}
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name     string
		wrapFunc func(error, string, string, string) error
		class    ErrorClass
	}{
		{"WrapTransient", WrapTransient, ErrorTransient},
		{"WrapFatal", WrapFatal, ErrorFatal},
		{"WrapInvalid", WrapInvalid, ErrorInvalid},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := test.wrapFunc(ErrInvalidPath, "component", "method", "action")

			var ce *ClassifiedError
			if !errors.As(result, &ce) {
				t.Fatal("result should be a ClassifiedError")
			}
			if ce.Class != test.class {
				t.Errorf("expected %v, got %v", test.class, ce.Class)
			}
			if !strings.Contains(ce.Error(), "component.method: action failed") {
				t.Errorf("error should contain standard format, got: %s", ce.Error())
			}
			if !errors.Is(result, ErrInvalidPath) {
				t.Error("classified error should keep the sentinel in its chain")
			}
		})
	}

	if WrapTransient(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestRemoteError_Is(t *testing.T) {
	err := NewRemoteError(CodeNotFound, "path not found", "system.app.host.sensors")

	if !errors.Is(err, ErrRemote) {
		t.Error("remote error should match ErrRemote")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("remote error should match the sentinel of its code")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("remote error should not match unrelated sentinels")
	}

	wrapped := Wrap(err, "AttributeProxy", "Get", "read value")
	var re *RemoteError
	if !errors.As(wrapped, &re) {
		t.Fatal("wrapped remote error should be extractable")
	}
	if re.Code != CodeNotFound {
		t.Errorf("expected code NotFound, got %s", re.Code)
	}
	if !strings.Contains(err.Error(), "system.app.host.sensors") {
		t.Errorf("error text should name the path, got %s", err.Error())
	}

	internal := &RemoteError{Code: CodeInternal, Message: "boom"}
	if !errors.Is(internal, ErrRemote) {
		t.Error("internal remote error should match ErrRemote")
	}
	if internal.Error() != "remote error: InternalError: boom" {
		t.Errorf("unexpected message: %s", internal.Error())
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{"not found", Wrap(ErrNotFound, "Manager", "get", "resolve"), CodeNotFound},
		{"wrong kind", ErrWrongKind, CodeWrongKind},
		{"invalid value", ErrInvalidValue, CodeInvalidValue},
		{"invalid path", ErrInvalidPath, CodeInvalidPath},
		{"handler wrapping not found", fmt.Errorf("%w: %w", ErrHandlerFailed, ErrNotFound), CodeHandlerFailed},
		{"remote passthrough", NewRemoteError(CodeWrongKind, "x", ""), CodeWrongKind},
		{"unknown", fmt.Errorf("boom"), CodeInternal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := CodeOf(test.err); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}
