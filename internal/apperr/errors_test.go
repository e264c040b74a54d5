package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{fmt.Errorf("%w: bad token", ErrUnauthenticated), CodeUnauthenticated},
		{fmt.Errorf("%w: wrong department", ErrForbidden), CodeForbidden},
		{ErrNotFound, CodeNotFound},
		{fmt.Errorf("%w: remark is required", ErrValidation), CodeValidation},
		{ErrConflict, CodeConflict},
		{fmt.Errorf("log is approved: %w", ErrInvalidState), CodeInvalidState},
		{ErrRateLimited, CodeRateLimited},
		{errors.New("connection reset"), CodeInternal},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Fatalf("CodeOf(%v)=%s, want %s", tc.err, got, tc.want)
		}
	}
	if CodeOf(nil) != "" {
		t.Fatalf("expected empty code for nil error")
	}
}

func TestFieldErrors(t *testing.T) {
	fe := FieldErrors{}
	if fe.Err() != nil {
		t.Fatalf("empty field errors must be nil")
	}
	fe.Add("email", "email is required")
	fe.Add("email", "second message ignored")
	fe.Add("name", "name is required")

	err := fe.Err()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("field errors must match ErrValidation")
	}
	if got := err.Error(); got != "validation failed: email: email is required; name: name is required" {
		t.Fatalf("unexpected message %q", got)
	}

	var target FieldErrors
	if !errors.As(fmt.Errorf("create staff: %w", err), &target) || target["email"] != "email is required" {
		t.Fatalf("errors.As lost field errors: %v", target)
	}
}
