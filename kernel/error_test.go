package kernel

import (
	"testing"

	"github.com/pkg/errors"
)

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "foo",
		Message: "error message",
		Errno:   ENOMEM,
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}
}

func TestErrnoOf(t *testing.T) {
	kerr := &Error{Module: "test", Message: "no such file", Errno: ENOENT}

	specs := []struct {
		descr string
		err   error
		exp   Errno
	}{
		{"nil", nil, 0},
		{"kernel error", kerr, ENOENT},
		{"wrapped kernel error", errors.Wrapf(kerr, "open %q", "/bin/sh"), ENOENT},
		{"foreign error", errors.New("boom"), EINVAL},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			if got := ErrnoOf(spec.err); got != spec.exp {
				t.Fatalf("expected errno %s; got %s", spec.exp, got)
			}
		})
	}
}

func TestErrnoString(t *testing.T) {
	if exp, got := "ESRCH", ESRCH.String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}

	if exp, got := "EUNKNOWN", Errno(999).String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}
}

func TestAsError(t *testing.T) {
	kerr := &Error{Module: "test", Message: "not found", Errno: ENOENT}

	if got := AsError(nil); got != nil {
		t.Fatalf("expected nil; got %v", got)
	}

	if got := AsError(errors.Wrapf(kerr, "open %q", "/bin/sh")); got != kerr {
		t.Fatalf("expected the wrapped kernel error; got %v", got)
	}

	got := AsError(errors.New("plain error"))
	if got.Errno != EINVAL || got.Message != "plain error" {
		t.Fatalf("expected an EINVAL kernel error with the original message; got %+v", got)
	}
}
