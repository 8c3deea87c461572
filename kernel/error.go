package kernel

import (
	"github.com/pkg/errors"
)

// Errno is an error number as seen by user code. The values match the ones
// exported to userland via kern/errno.h.
type Errno int

// Error numbers returned by system calls.
const (
	ENOSYS       Errno = 1
	EUNIMP       Errno = 2
	ENOMEM       Errno = 3
	EAGAIN       Errno = 4
	EINTR        Errno = 5
	EFAULT       Errno = 6
	ENAMETOOLONG Errno = 7
	EINVAL       Errno = 8
	EPERM        Errno = 9
	EACCES       Errno = 10
	EMPROC       Errno = 11
	ENPROC       Errno = 12
	ENOEXEC      Errno = 13
	E2BIG        Errno = 14
	ESRCH        Errno = 15
	ECHILD       Errno = 16
	ENOTDIR      Errno = 17
	EISDIR       Errno = 18
	ENOENT       Errno = 19
)

var errnoNames = map[Errno]string{
	ENOSYS:       "ENOSYS",
	EUNIMP:       "EUNIMP",
	ENOMEM:       "ENOMEM",
	EAGAIN:       "EAGAIN",
	EINTR:        "EINTR",
	EFAULT:       "EFAULT",
	ENAMETOOLONG: "ENAMETOOLONG",
	EINVAL:       "EINVAL",
	EPERM:        "EPERM",
	EACCES:       "EACCES",
	EMPROC:       "EMPROC",
	ENPROC:       "ENPROC",
	ENOEXEC:      "ENOEXEC",
	E2BIG:        "E2BIG",
	ESRCH:        "ESRCH",
	ECHILD:       "ECHILD",
	ENOTDIR:      "ENOTDIR",
	EISDIR:       "EISDIR",
	ENOENT:       "ENOENT",
}

// String returns the symbolic name of the error number.
func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "EUNKNOWN"
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure so callers can compare
// them by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// The error number reported to user code if this error reaches the
	// system call boundary.
	Errno Errno
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ErrnoOf returns the error number that should be reported to user code for
// err. Errors that wrap a *Error (e.g. via errors.Wrapf) report the wrapped
// error's number; any other non-nil error maps to EINVAL.
func ErrnoOf(err error) Errno {
	if err == nil {
		return 0
	}

	if kerr, ok := errors.Cause(err).(*Error); ok && kerr != nil {
		return kerr.Errno
	}

	return EINVAL
}

// AsError returns the *Error that err wraps. Errors that do not wrap a
// kernel error are converted to one that reports EINVAL.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	if kerr, ok := errors.Cause(err).(*Error); ok && kerr != nil {
		return kerr
	}

	return &Error{Module: "kernel", Message: err.Error(), Errno: EINVAL}
}
