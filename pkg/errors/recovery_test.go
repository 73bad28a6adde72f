package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestRecover_WithPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		panic("test panic message")
	}

	err := testFunc()
	if err == nil {
		t.Fatal("Expected error from recovered panic, got nil")
	}

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
	if panicErr.Operation != "TestOperation" {
		t.Errorf("Expected operation 'TestOperation', got '%s'", panicErr.Operation)
	}
	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}
	if got, want := panicErr.Error(), "panic in TestOperation: test panic message"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRecover_WithoutPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		return nil
	}
	if err := testFunc(); err != nil {
		t.Fatalf("Expected no error when no panic occurs, got: %v", err)
	}
}

func TestRecover_WithExistingError(t *testing.T) {
	original := New("fit failed")
	testFunc := func() (err error) {
		defer Recover(&err, "Pipeline.Fit")
		err = original
		panic("boom")
	}

	err := testFunc()
	if !Is(err, original) {
		t.Errorf("expected the original error to be kept, got %v", err)
	}
}

func TestSafeExecute(t *testing.T) {
	tests := []struct {
		name    string
		fn      func() error
		wantErr bool
		panics  bool
	}{
		{"success", func() error { return nil }, false, false},
		{"function error", func() error { return New("singular matrix") }, true, false},
		{"string panic", func() error { panic("index out of range") }, true, true},
		{"error panic", func() error { panic(errors.New("nil pointer")) }, true, true},
		{"int panic", func() error { panic(42) }, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafeExecute("candidate", tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafeExecute() error = %v, wantErr %v", err, tt.wantErr)
			}
			var panicErr *PanicError
			if got := errors.As(err, &panicErr); got != tt.panics {
				t.Fatalf("errors.As(PanicError) = %v, want %v", got, tt.panics)
			}
			if tt.panics && !strings.HasPrefix(err.Error(), "panic in candidate") {
				t.Errorf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestPanicError_UnwrapsErrorValue(t *testing.T) {
	cause := errors.New("matrix dimension error")
	err := SafeExecute("fold", func() error { panic(cause) })
	if !errors.Is(err, cause) {
		t.Error("expected panic value to be reachable through Unwrap")
	}
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatal("expected PanicError")
	}
	if !strings.Contains(panicErr.String(), "Stack trace:") {
		t.Error("String() should include the stack trace")
	}
}
