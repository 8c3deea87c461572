package proc

import (
	"encoding/binary"

	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/loader"
	"github.com/patrick-huynh/os161/kernel/mm"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/pkg/errors"
)

// Execv replaces the program running in p with the executable at the user
// address pathPtr, passing it the NULL-terminated argument vector at argvPtr.
// On success Execv does not return. On failure p keeps running its original
// program with its original address space.
func (m *Manager) Execv(p *Process, pathPtr, argvPtr uintptr) *kernel.Error {
	var (
		path string
		args []string
		kerr *kernel.Error
	)

	m.OnCPU(p, func() {
		if path, kerr = m.vm.CopyInStr(pathPtr, uintptr(m.cfg.PathMax)); kerr != nil {
			return
		}
		args, kerr = m.copyInArgs(argvPtr)
	})
	if kerr != nil {
		return kerr
	}

	as, tf, err := m.load(path, args)
	if err != nil {
		kfmt.Log("proc").Debugf("pid %d: exec failed: %v", p.pid, err)
		return kernel.AsError(err)
	}

	var old *vmm.AddressSpace
	m.OnCPU(p, func() {
		old, p.as = p.as, as
		m.switchTo(p)
	})
	if old != nil {
		old.Destroy()
	}
	p.name = path

	kfmt.Log("proc").Debugf("pid %d: exec %q with %d argument(s)", p.pid, path, len(args))
	m.machine.Enter(p, tf)
	return nil
}

// copyInArgs copies the NULL-terminated argument vector at argvPtr into
// kernel memory. The caller must be running on the core.
func (m *Manager) copyInArgs(argvPtr uintptr) ([]string, *kernel.Error) {
	var (
		args  []string
		total int
	)

	for i := uintptr(0); ; i++ {
		ptr, err := m.vm.CopyInWord(argvPtr + i*mm.PointerSize)
		if err != nil {
			return nil, err
		}

		if ptr == 0 {
			return args, nil
		}

		if total >= m.cfg.ArgMax {
			return nil, ErrArgsTooBig
		}

		arg, err := m.vm.CopyInStr(uintptr(ptr), uintptr(m.cfg.ArgMax-total))
		switch {
		case err == vmm.ErrNameTooLong:
			return nil, ErrArgsTooBig
		case err != nil:
			return nil, err
		}

		total += len(arg) + 1
		args = append(args, arg)
	}
}

// RunProgram starts the executable at path in a new process owned by the
// kernel process and returns its pid. The program receives args as its
// argument vector.
func (m *Manager) RunProgram(path string, args []string) (int, *kernel.Error) {
	p, kerr := m.CreateProcess(path, KernelPid)
	if kerr != nil {
		return 0, kerr
	}

	as, tf, err := m.load(path, args)
	if err != nil {
		m.Destroy(p)
		return 0, kernel.AsError(err)
	}

	p.as = as
	m.kproc.addChild(p.pid)
	m.threads.Fork(path, func() {
		m.machine.Enter(p, tf)
	})

	kfmt.Log("proc").Infof("started %q as pid %d", path, p.pid)
	return p.pid, nil
}

// load creates an address space holding the executable at path and its
// argument vector and returns it together with the initial register state.
// On failure nothing is left allocated.
func (m *Manager) load(path string, args []string) (*vmm.AddressSpace, *gate.TrapFrame, error) {
	img, err := m.fs.Open(path)
	if err != nil {
		return nil, nil, err
	}

	as := m.vm.Create()
	entry, err := loader.Load(img, as)
	if err != nil {
		as.Destroy()
		return nil, nil, errors.Wrapf(err, "load %q", path)
	}

	argv, kerr := m.setupStack(as, args)
	if kerr != nil {
		as.Destroy()
		return nil, nil, errors.Wrapf(kerr, "setup stack for %q", path)
	}

	tf := &gate.TrapFrame{EPC: uint32(entry)}
	tf.Regs[gate.RegA0] = uint32(len(args))
	tf.Regs[gate.RegA1] = uint32(argv)
	tf.Regs[gate.RegSP] = uint32(argv)
	return as, tf, nil
}

// setupStack copies the argument strings to the top of the stack of as,
// followed by the argument vector, and returns the address of the vector.
// Strings are placed from the top down in argument order, each padded to a
// 4 byte boundary. The vector is NULL terminated and argv[0] sits at its
// lowest address.
func (m *Manager) setupStack(as *vmm.AddressSpace, args []string) (uintptr, *kernel.Error) {
	sp, err := as.DefineStack()
	if err != nil {
		return 0, err
	}

	var size uintptr
	for _, arg := range args {
		size += alignArg(uintptr(len(arg)) + 1)
	}
	size += uintptr(len(args)+1) * mm.PointerSize

	if size > m.vm.StackPages()*mm.PageSize {
		return 0, ErrArgsTooBig
	}

	ptrs := make([]byte, (len(args)+1)*int(mm.PointerSize))
	for i, arg := range args {
		sp -= alignArg(uintptr(len(arg)) + 1)
		if err = as.WriteAt(sp, append([]byte(arg), 0)); err != nil {
			return 0, err
		}
		binary.BigEndian.PutUint32(ptrs[i*int(mm.PointerSize):], uint32(sp))
	}

	sp -= uintptr(len(ptrs))
	if err = as.WriteAt(sp, ptrs); err != nil {
		return 0, err
	}

	return sp, nil
}

func alignArg(n uintptr) uintptr {
	return (n + mm.PointerSize - 1) &^ (mm.PointerSize - 1)
}
