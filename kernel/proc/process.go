// Package proc implements processes and their lifecycle: creation, fork,
// exec, exit and the exit status handoff between a parent and its children.
package proc

import (
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/patrick-huynh/os161/kernel/sync"
	"github.com/patrick-huynh/os161/kernel/wait"
)

// ChildInfo is the record a parent keeps for each of its children. It
// outlives the child so the exit status can be collected after the child
// has been destroyed.
type ChildInfo struct {
	// Pid identifies the child. The child itself is reached through the
	// process table, never through this record.
	Pid int

	// Status is the encoded wait status or wait.NotExited.
	Status int
}

// Exited returns true once the child has recorded its exit status.
func (ci *ChildInfo) Exited() bool {
	return ci.Status != wait.NotExited
}

// Process is a user process.
type Process struct {
	pid  int
	ppid int
	name string

	// as is only replaced by the thread running the process while it
	// holds the core.
	as *vmm.AddressSpace

	// steps counts the user instructions retired by the process across
	// every image it has run. Only the thread running the process touches it.
	steps uint64

	childrenLk  *sync.Lock
	childExited *sync.CV
	children    []*ChildInfo
}

func newProcess(pid, ppid int, name string) *Process {
	return &Process{
		pid:         pid,
		ppid:        ppid,
		name:        name,
		childrenLk:  sync.NewLock(name),
		childExited: sync.NewCV(name),
	}
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.pid }

// ParentPid returns the pid of the process that created p.
func (p *Process) ParentPid() int { return p.ppid }

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// AddrSpace implements vmm.Owner.
func (p *Process) AddrSpace() *vmm.AddressSpace { return p.as }

// AddSteps adds n to the number of instructions the process has retired and
// returns the new total. The count survives execv.
func (p *Process) AddSteps(n uint64) uint64 {
	p.steps += n
	return p.steps
}

// Children returns a snapshot of the child records.
func (p *Process) Children() []ChildInfo {
	p.childrenLk.Acquire()
	defer p.childrenLk.Release()

	out := make([]ChildInfo, len(p.children))
	for i, ci := range p.children {
		out[i] = *ci
	}
	return out
}

// addChild appends a record for a new child.
func (p *Process) addChild(pid int) {
	p.childrenLk.Acquire()
	p.children = append(p.children, &ChildInfo{Pid: pid, Status: wait.NotExited})
	p.childrenLk.Release()
}

// removeChild drops the record of a child that never ran.
func (p *Process) removeChild(pid int) {
	p.childrenLk.Acquire()
	defer p.childrenLk.Release()

	for i, ci := range p.children {
		if ci.Pid == pid {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// findChild returns the record for pid. The caller must hold childrenLk.
func (p *Process) findChild(pid int) *ChildInfo {
	for _, ci := range p.children {
		if ci.Pid == pid {
			return ci
		}
	}
	return nil
}
