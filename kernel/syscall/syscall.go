// Package syscall decodes system calls from a trap frame and dispatches them
// to the process manager.
package syscall

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/proc"
)

var (
	// ErrUnknownSyscall is returned for system call numbers that are not
	// implemented.
	ErrUnknownSyscall = &kernel.Error{Module: "syscall", Message: "unknown system call", Errno: kernel.ENOSYS}
)

// Dispatcher routes system calls to the process manager.
type Dispatcher struct {
	mgr *proc.Manager
}

// NewDispatcher returns a dispatcher for mgr.
func NewDispatcher(mgr *proc.Manager) *Dispatcher {
	return &Dispatcher{mgr: mgr}
}

// Dispatch runs the system call whose number is in v0 with arguments taken
// from a0-a3. On return v0 holds the result or the error number and a3 is 0
// on success or 1 on failure. The program counter is advanced past the
// syscall instruction. Dispatch must not be called while holding the core.
func (d *Dispatcher) Dispatch(p *proc.Process, tf *gate.TrapFrame) {
	var (
		num    = tf.Regs[gate.RegV0]
		a0     = tf.Regs[gate.RegA0]
		a1     = tf.Regs[gate.RegA1]
		a2     = tf.Regs[gate.RegA2]
		retval int
		err    *kernel.Error
	)

	switch num {
	case gate.SysFork:
		retval, err = d.mgr.Fork(p, tf)
	case gate.SysExecv:
		err = d.mgr.Execv(p, uintptr(a0), uintptr(a1))
	case gate.SysExit:
		d.mgr.Exit(p, int(int32(a0)))
	case gate.SysWaitpid:
		retval, err = d.mgr.Waitpid(p, int(int32(a0)), uintptr(a1), int(int32(a2)))
	case gate.SysGetpid:
		retval = d.mgr.Getpid(p)
	default:
		err = ErrUnknownSyscall
	}

	if err != nil {
		kfmt.Log("syscall").Debugf("pid %d: syscall %d failed: %s (%s)", p.Pid(), num, err.Message, err.Errno)
		tf.Regs[gate.RegV0] = uint32(err.Errno)
		tf.Regs[gate.RegA3] = 1
	} else {
		tf.Regs[gate.RegV0] = uint32(retval)
		tf.Regs[gate.RegA3] = 0
	}

	tf.EPC += 4
}
