// Package usermode runs user programs. Programs are written in a subset of
// the MIPS I instruction set and execute against the address space of their
// process, so every instruction fetch, load and store goes through the TLB
// and the virtual memory fault handler.
package usermode

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/patrick-huynh/os161/kernel/proc"
	"github.com/patrick-huynh/os161/kernel/syscall"
	"github.com/patrick-huynh/os161/kernel/wait"
)

// DefaultQuantum is the number of instructions a process runs each time it
// gets the core.
const DefaultQuantum = 64

// Machine executes user code. It implements proc.Machine.
type Machine struct {
	mgr *proc.Manager
	vm  *vmm.VM
	sys *syscall.Dispatcher

	quantum int

	// stepLimit is the number of instructions after which a process is
	// killed with SIGKILL, counted across execv. Zero means no limit.
	stepLimit uint64
}

// New returns a machine that runs the processes of mgr and sends their
// system calls to sys.
func New(mgr *proc.Manager, sys *syscall.Dispatcher) *Machine {
	return &Machine{
		mgr:     mgr,
		vm:      mgr.VM(),
		sys:     sys,
		quantum: DefaultQuantum,
	}
}

// SetStepLimit sets the number of instructions a process may execute before
// it is killed. A limit of zero disables the check.
func (m *Machine) SetStepLimit(limit uint64) {
	m.stepLimit = limit
}

// SetQuantum sets the number of instructions executed per core acquisition.
func (m *Machine) SetQuantum(n int) {
	if n < 1 {
		n = 1
	}
	m.quantum = n
}

// Enter runs the user code of p starting from the register state in tf. It
// returns only after p has been terminated.
func (m *Machine) Enter(p *proc.Process, tf *gate.TrapFrame) {
	for {
		var (
			t   trap
			n   int
			err *kernel.Error
		)

		m.mgr.OnCPU(p, func() {
			t, n, err = m.run(tf)
		})
		steps := p.AddSteps(uint64(n))

		switch {
		case err != nil:
			kfmt.Log("usermode").Infof("pid %d: fatal %s at 0x%x (pc 0x%x): %s", p.Pid(), tf.Cause, tf.Vaddr, tf.EPC, err.Message)
			m.mgr.Kill(p, wait.SIGSEGV)
			return
		case t == trapSyscall:
			m.sys.Dispatch(p, tf)
		case t == trapBreak || t == trapIllegal:
			kfmt.Log("usermode").Infof("pid %d: %s at pc 0x%x", p.Pid(), tf.Cause, tf.EPC)
			m.mgr.Kill(p, wait.SIGILL)
			return
		case t == trapUnaligned:
			kfmt.Log("usermode").Infof("pid %d: %s at 0x%x (pc 0x%x)", p.Pid(), tf.Cause, tf.Vaddr, tf.EPC)
			m.mgr.Kill(p, wait.SIGBUS)
			return
		}

		if m.stepLimit != 0 && steps >= m.stepLimit {
			kfmt.Log("usermode").Warnf("pid %d: killed after %d instructions", p.Pid(), steps)
			m.mgr.Kill(p, wait.SIGKILL)
			return
		}
	}
}

// run executes up to one quantum of instructions and returns the trap that
// stopped it, if any, and the number of instructions retired. The caller must
// hold the core.
func (m *Machine) run(tf *gate.TrapFrame) (trap, int, *kernel.Error) {
	s := execState{vm: m.vm, tf: tf}

	for n := 0; n < m.quantum; n++ {
		if t, err := m.step(&s); t != trapNone || err != nil {
			return t, n, err
		}
	}

	return trapNone, m.quantum, nil
}

func (m *Machine) step(s *execState) (trap, *kernel.Error) {
	pc := s.tf.EPC
	if pc%4 != 0 {
		s.tf.Vaddr, s.tf.Cause = pc, gate.ExcAddrL
		return trapUnaligned, nil
	}

	insn, err := m.vm.CopyInWord(uintptr(pc))
	if err != nil {
		s.tf.Vaddr, s.tf.Cause = pc, gate.ExcTLBL
		return trapNone, err
	}

	w := word(insn)
	fn := opTable[w.op()]
	if fn == nil {
		s.tf.Cause = gate.ExcReserved
		return trapIllegal, nil
	}

	s.next = pc + 4
	t, err := fn(s, w)
	switch {
	case err != nil:
		return t, err
	case t == trapSyscall:
		s.tf.Cause = gate.ExcSys
	case t == trapBreak:
		s.tf.Cause = gate.ExcBreak
	case t == trapIllegal:
		s.tf.Cause = gate.ExcReserved
	case t == trapNone:
		s.tf.EPC = s.next
	}

	return t, nil
}
