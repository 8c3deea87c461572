package syscall

import (
	"sync/atomic"
	"testing"

	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/loader"
	"github.com/patrick-huynh/os161/kernel/mm"
	"github.com/patrick-huynh/os161/kernel/mm/pmm"
	"github.com/patrick-huynh/os161/kernel/mm/ram"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/patrick-huynh/os161/kernel/proc"
	"github.com/patrick-huynh/os161/kernel/thread"
	"github.com/patrick-huynh/os161/kernel/wait"
)

type enterFunc func(p *proc.Process, tf *gate.TrapFrame)

func (fn enterFunc) Enter(p *proc.Process, tf *gate.TrapFrame) { fn(p, tf) }

func newTestDispatcher(t *testing.T, enter enterFunc) (*Dispatcher, *proc.Process) {
	t.Helper()

	coremap := pmm.NewCoremap(ram.New(64*mm.Size(mm.PageSize), mm.PageSize))
	if err := coremap.Bootstrap(); err != nil {
		t.Fatal(err)
	}

	fs := loader.NewMemFS()
	fs.Install("/testbin/prog", &loader.Image{
		Entry: 0x400000,
		Segments: []loader.Segment{
			{Vaddr: 0x400000, MemSize: 4, Perm: vmm.PermRead | vmm.PermExec},
			{Vaddr: 0x10000000, MemSize: mm.PageSize, Perm: vmm.PermRead | vmm.PermWrite},
		},
	})

	c := cpu.New(1)
	mgr := proc.NewManager(proc.DefaultConfig(), vmm.New(coremap, c, 4), c, fs, &thread.Group{})

	// The first program started parks in the machine so the test can use
	// it as the calling process. Later entries, such as forked children,
	// run enter.
	var (
		parked   = make(chan *proc.Process, 1)
		parkOnce int32
	)
	mgr.SetMachine(enterFunc(func(p *proc.Process, tf *gate.TrapFrame) {
		if atomic.CompareAndSwapInt32(&parkOnce, 0, 1) {
			parked <- p
			return
		}
		enter(p, tf)
	}))

	if _, err := mgr.RunProgram("/testbin/prog", nil); err != nil {
		t.Fatal(err)
	}

	return NewDispatcher(mgr), <-parked
}

func TestDispatchGetpid(t *testing.T) {
	d, p := newTestDispatcher(t, nil)

	tf := &gate.TrapFrame{EPC: 0x400000}
	tf.Regs[gate.RegV0] = gate.SysGetpid
	d.Dispatch(p, tf)

	if got := tf.Regs[gate.RegV0]; int(got) != p.Pid() {
		t.Fatalf("expected v0 to hold pid %d; got %d", p.Pid(), got)
	}
	if tf.Regs[gate.RegA3] != 0 {
		t.Fatal("expected the error flag to be clear")
	}
	if tf.EPC != 0x400004 {
		t.Fatalf("expected epc to advance to 0x400004; got 0x%x", tf.EPC)
	}
}

func TestDispatchErrors(t *testing.T) {
	d, p := newTestDispatcher(t, nil)

	specs := []struct {
		descr    string
		num      uint32
		a0, a2   uint32
		expErrno kernel.Errno
	}{
		{"unknown syscall", 113, 0, 0, kernel.ENOSYS},
		{"waitpid on a non-child", gate.SysWaitpid, 1, 0, kernel.ESRCH},
		{"waitpid with options", gate.SysWaitpid, 1, 1, kernel.EINVAL},
		{"execv with a bad pointer", gate.SysExecv, 0x30000000, 0, kernel.EFAULT},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			tf := &gate.TrapFrame{EPC: 0x400000}
			tf.Regs[gate.RegV0] = spec.num
			tf.Regs[gate.RegA0] = spec.a0
			tf.Regs[gate.RegA2] = spec.a2

			d.Dispatch(p, tf)

			if tf.Regs[gate.RegA3] != 1 {
				t.Fatal("expected the error flag to be set")
			}
			if got := kernel.Errno(tf.Regs[gate.RegV0]); got != spec.expErrno {
				t.Fatalf("expected errno %s; got %s", spec.expErrno, got)
			}
			if tf.EPC != 0x400004 {
				t.Fatalf("expected epc to advance; got 0x%x", tf.EPC)
			}
		})
	}
}

func TestDispatchForkWaitpid(t *testing.T) {
	var d *Dispatcher
	d, p := newTestDispatcher(t, func(child *proc.Process, tf *gate.TrapFrame) {
		if tf.Regs[gate.RegV0] != 0 {
			t.Errorf("expected fork to return 0 in the child; got %d", tf.Regs[gate.RegV0])
		}

		exitTF := tf.Copy()
		exitTF.Regs[gate.RegV0] = gate.SysExit
		exitTF.Regs[gate.RegA0] = 5
		d.Dispatch(child, exitTF)
		t.Error("expected _exit not to return")
	})

	tf := &gate.TrapFrame{EPC: 0x400000}
	tf.Regs[gate.RegV0] = gate.SysFork
	d.Dispatch(p, tf)

	if tf.Regs[gate.RegA3] != 0 {
		t.Fatalf("expected fork to succeed; got errno %d", tf.Regs[gate.RegV0])
	}
	childPid := tf.Regs[gate.RegV0]

	tf = &gate.TrapFrame{EPC: 0x400008}
	tf.Regs[gate.RegV0] = gate.SysWaitpid
	tf.Regs[gate.RegA0] = childPid
	tf.Regs[gate.RegA1] = 0x10000000
	d.Dispatch(p, tf)

	if tf.Regs[gate.RegA3] != 0 || tf.Regs[gate.RegV0] != childPid {
		t.Fatalf("expected waitpid to return %d; got v0 = %d, a3 = %d", childPid, tf.Regs[gate.RegV0], tf.Regs[gate.RegA3])
	}

	buf := make([]byte, 4)
	if err := p.AddrSpace().ReadAt(0x10000000, buf); err != nil {
		t.Fatal(err)
	}
	status := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if !wait.IfExited(status) || wait.ExitStatus(status) != 5 {
		t.Fatalf("expected status to decode to exit code 5; got 0x%x", status)
	}
}
