// Package wait implements the encoding of the status values reported by
// waitpid. The low two bits hold the reason the process stopped running and
// the remaining bits hold the exit code or signal number.
package wait

const (
	whatMask = 3

	whatExited   = 0
	whatSignaled = 1
	whatCored    = 2
	whatStopped  = 3
)

// NotExited is stored in place of an encoded status until the process exits.
const NotExited = -1

// MkExit encodes a normal exit with the supplied exit code.
func MkExit(code int) int { return code<<2 | whatExited }

// MkSignaled encodes termination by signal sig.
func MkSignaled(sig int) int { return sig<<2 | whatSignaled }

// MkCoreDump encodes termination by signal sig with a core dump.
func MkCoreDump(sig int) int { return sig<<2 | whatCored }

// MkStopped encodes a process stopped by signal sig.
func MkStopped(sig int) int { return sig<<2 | whatStopped }

// IfExited returns true if status describes a normal exit.
func IfExited(status int) bool { return status&whatMask == whatExited }

// IfSignaled returns true if status describes termination by a signal.
func IfSignaled(status int) bool { return status&whatMask == whatSignaled }

// IfCoreDump returns true if status describes termination with a core dump.
func IfCoreDump(status int) bool { return status&whatMask == whatCored }

// IfStopped returns true if status describes a stopped process.
func IfStopped(status int) bool { return status&whatMask == whatStopped }

// ExitStatus returns the exit code of a process that exited normally.
func ExitStatus(status int) int { return status >> 2 }

// TermSig returns the signal that terminated the process.
func TermSig(status int) int { return status >> 2 }

// StopSig returns the signal that stopped the process.
func StopSig(status int) int { return status >> 2 }

// Signal numbers used by the kernel when it terminates a process.
const (
	SIGILL  = 4
	SIGKILL = 9
	SIGBUS  = 10
	SIGSEGV = 11
)
