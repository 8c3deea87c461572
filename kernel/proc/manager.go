package proc

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/loader"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/patrick-huynh/os161/kernel/sync"
	"github.com/patrick-huynh/os161/kernel/thread"
	"github.com/patrick-huynh/os161/kernel/wait"
)

const (
	// KernelPid is the pid of the kernel process that owns every program
	// started with RunProgram.
	KernelPid = 1

	// PidMin is the first pid handed out to user processes.
	PidMin = 2
)

var (
	// threadExitFn terminates the thread of an exiting process. It is
	// mocked by tests.
	threadExitFn = thread.Exit

	// ErrTooManyProcs is returned when the process table is full.
	ErrTooManyProcs = &kernel.Error{Module: "proc", Message: "too many processes", Errno: kernel.ENPROC}

	// ErrInvalidOptions is returned by Wait for unsupported options.
	ErrInvalidOptions = &kernel.Error{Module: "proc", Message: "invalid wait options", Errno: kernel.EINVAL}

	// ErrNoSuchChild is returned by Wait when pid is not a child of the
	// caller.
	ErrNoSuchChild = &kernel.Error{Module: "proc", Message: "no such process", Errno: kernel.ESRCH}

	// ErrArgsTooBig is returned by Execv when the arguments do not fit.
	ErrArgsTooBig = &kernel.Error{Module: "proc", Message: "argument list too long", Errno: kernel.E2BIG}

	// ErrNoAddrSpace is returned when forking a process without an
	// address space.
	ErrNoAddrSpace = &kernel.Error{Module: "proc", Message: "process has no address space", Errno: kernel.EFAULT}
)

// Machine runs user code on behalf of a process.
type Machine interface {
	// Enter starts executing user code in the current address space of
	// p using the register state in tf. It never returns.
	Enter(p *Process, tf *gate.TrapFrame)
}

// Config holds the process manager limits.
type Config struct {
	// MaxProcs is the size of the process table, kernel process included.
	MaxProcs int

	// PathMax is the maximum length of an executable path, terminator
	// included.
	PathMax int

	// ArgMax is the maximum total size of the exec arguments.
	ArgMax int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{MaxProcs: 128, PathMax: 1024, ArgMax: 64 * 1024}
}

// Manager owns the process table.
type Manager struct {
	cfg     Config
	vm      *vmm.VM
	cpu     *cpu.CPU
	fs      loader.FileSystem
	threads *thread.Group
	machine Machine

	tableLock sync.Spinlock
	table     map[int]*Process
	nextPid   int

	kproc *Process

	// cur is the process whose address space is loaded in the TLB. It
	// is only accessed while holding the core.
	cur   *Process
	curAS *vmm.AddressSpace
}

// NewManager returns a manager whose process table holds the kernel process.
func NewManager(cfg Config, vm *vmm.VM, c *cpu.CPU, fs loader.FileSystem, threads *thread.Group) *Manager {
	m := &Manager{
		cfg:     cfg,
		vm:      vm,
		cpu:     c,
		fs:      fs,
		threads: threads,
		table:   make(map[int]*Process),
		nextPid: PidMin,
	}

	m.kproc = newProcess(KernelPid, 0, "[kernel]")
	m.table[KernelPid] = m.kproc
	return m
}

// SetMachine registers the machine that runs user code. It must be called
// before any process is started.
func (m *Manager) SetMachine(machine Machine) {
	m.machine = machine
}

// VM returns the virtual memory subsystem used by processes.
func (m *Manager) VM() *vmm.VM { return m.vm }

// Kernel returns the kernel process.
func (m *Manager) Kernel() *Process { return m.kproc }

// CreateProcess allocates a pid and adds a process without an address space
// to the table. The new process is a child of the process with pid ppid.
func (m *Manager) CreateProcess(name string, ppid int) (*Process, *kernel.Error) {
	m.tableLock.Acquire()
	if len(m.table) >= m.cfg.MaxProcs {
		m.tableLock.Release()
		return nil, ErrTooManyProcs
	}

	p := newProcess(m.nextPid, ppid, name)
	m.nextPid++
	m.table[p.pid] = p
	m.tableLock.Release()

	return p, nil
}

// Lookup returns the process with the supplied pid or nil.
func (m *Manager) Lookup(pid int) *Process {
	m.tableLock.Acquire()
	defer m.tableLock.Release()
	return m.table[pid]
}

// Count returns the number of processes in the table, kernel included.
func (m *Manager) Count() int {
	m.tableLock.Acquire()
	defer m.tableLock.Release()
	return len(m.table)
}

// Destroy releases the address space of p, if any, and removes it from the
// process table.
func (m *Manager) Destroy(p *Process) {
	if as := m.detachAddrSpace(p); as != nil {
		as.Destroy()
	}

	m.tableLock.Acquire()
	delete(m.table, p.pid)
	m.tableLock.Release()
}

// detachAddrSpace clears the address space pointer of p and returns the
// previous value. If p is the current process the TLB owner is cleared too.
func (m *Manager) detachAddrSpace(p *Process) *vmm.AddressSpace {
	m.cpu.Acquire()
	defer m.cpu.Release()

	as := p.as
	p.as = nil
	if m.cur == p {
		m.cur, m.curAS = nil, nil
		m.vm.SetCurrent(nil)
	}
	return as
}

// OnCPU runs fn on the core on behalf of p. If another process (or another
// address space of p) was last active, its address space is deactivated and
// the one of p is activated first.
func (m *Manager) OnCPU(p *Process, fn func()) {
	m.cpu.Acquire()
	defer m.cpu.Release()

	m.switchTo(p)
	fn()
}

// switchTo makes p the current process. The caller must hold the core.
func (m *Manager) switchTo(p *Process) {
	if m.cur == p && m.curAS == p.as {
		return
	}

	if m.curAS != nil {
		m.curAS.Deactivate()
	}

	m.cur, m.curAS = p, p.as
	m.vm.SetCurrent(p)
	if p.as != nil {
		p.as.Activate()
	}
}

// Getpid returns the pid of p.
func (m *Manager) Getpid(p *Process) int {
	return p.pid
}

// Fork creates a child of p whose address space is a copy of the one of p.
// The child resumes from tf with a return value of 0. Fork returns the pid of
// the child.
func (m *Manager) Fork(p *Process, tf *gate.TrapFrame) (int, *kernel.Error) {
	if p.as == nil {
		return 0, ErrNoAddrSpace
	}

	child, err := m.CreateProcess(p.name, p.pid)
	if err != nil {
		return 0, err
	}
	p.addChild(child.pid)

	as, err := p.as.Copy()
	if err != nil {
		p.removeChild(child.pid)
		m.Destroy(child)
		kfmt.Log("proc").Debugf("fork of pid %d failed: %s", p.pid, err.Message)
		return 0, err
	}
	child.as = as

	childTF := tf.Copy()
	m.threads.Fork(child.name, func() {
		m.enterForkedProcess(child, childTF)
	})

	kfmt.Log("proc").Debugf("pid %d forked pid %d", p.pid, child.pid)
	return child.pid, nil
}

// enterForkedProcess makes the fork system call of a new child return 0 and
// starts running its user code.
func (m *Manager) enterForkedProcess(p *Process, tf *gate.TrapFrame) {
	tf.Regs[gate.RegV0] = 0
	tf.Regs[gate.RegA3] = 0
	tf.EPC += 4

	m.machine.Enter(p, tf)
}

// Exit terminates p with the supplied exit code. It never returns.
func (m *Manager) Exit(p *Process, code int) {
	m.exit(p, wait.MkExit(code))
}

// Kill terminates p as if it received signal sig. It never returns.
func (m *Manager) Kill(p *Process, sig int) {
	m.exit(p, wait.MkSignaled(sig))
}

func (m *Manager) exit(p *Process, status int) {
	if parent := m.Lookup(p.ppid); parent != nil {
		parent.childrenLk.Acquire()
		if ci := parent.findChild(p.pid); ci != nil {
			ci.Status = status
		}
		parent.childExited.Broadcast(parent.childrenLk)
		parent.childrenLk.Release()
	}

	kfmt.Log("proc").Debugf("pid %d exited with status 0x%x", p.pid, status)

	m.Destroy(p)
	threadExitFn()
}

// Wait blocks until the child of p with the supplied pid has exited and
// returns its encoded exit status. The child record is kept so a child can
// be waited for at most once by contract only.
func (m *Manager) Wait(p *Process, pid, options int) (int, *kernel.Error) {
	if options != 0 {
		return 0, ErrInvalidOptions
	}

	p.childrenLk.Acquire()
	defer p.childrenLk.Release()

	ci := p.findChild(pid)
	if ci == nil {
		return 0, ErrNoSuchChild
	}

	for !ci.Exited() {
		p.childExited.Wait(p.childrenLk)
	}

	return ci.Status, nil
}

// Waitpid waits for the child of p with the supplied pid and stores the
// encoded exit status at the user address statusPtr unless it is 0. It
// returns pid.
func (m *Manager) Waitpid(p *Process, pid int, statusPtr uintptr, options int) (int, *kernel.Error) {
	status, err := m.Wait(p, pid, options)
	if err != nil {
		return 0, err
	}

	if statusPtr != 0 {
		m.OnCPU(p, func() {
			err = m.vm.CopyOutWord(uint32(int32(status)), statusPtr)
		})
		if err != nil {
			return 0, err
		}
	}

	return pid, nil
}

// WaitAll blocks until every process thread has finished.
func (m *Manager) WaitAll() error {
	return m.threads.Wait()
}
