// Package kmain boots a kernel instance and starts user programs on it.
package kmain

import (
	"time"

	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/kconfig"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/loader"
	"github.com/patrick-huynh/os161/kernel/mm/pmm"
	"github.com/patrick-huynh/os161/kernel/mm/ram"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/patrick-huynh/os161/kernel/proc"
	"github.com/patrick-huynh/os161/kernel/syscall"
	"github.com/patrick-huynh/os161/kernel/thread"
	"github.com/patrick-huynh/os161/kernel/usermode"
	"github.com/patrick-huynh/os161/kernel/usermode/testbin"
	"github.com/pkg/errors"
)

var (
	// seedFn picks the TLB replacement seed when the configuration does
	// not provide one. It is mocked by tests.
	seedFn = func() int64 { return time.Now().UnixNano() }
)

// Kernel is a booted kernel instance.
type Kernel struct {
	Config  kconfig.Config
	RAM     *ram.RAM
	Coremap *pmm.Coremap
	CPU     *cpu.CPU
	VM      *vmm.VM
	FS      *loader.MemFS
	Procs   *proc.Manager
	Machine *usermode.Machine

	threads *thread.Group
}

// Boot brings up the subsystems in dependency order: physical memory, the
// coremap, the CPU, virtual memory, the executable store and finally the
// process manager together with the machine that runs user code.
func Boot(cfg kconfig.Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	if err := kfmt.SetLevel(cfg.LogLevel); err != nil {
		return nil, errors.Wrap(err, "set log level")
	}

	seed := cfg.TLBSeed
	if seed == 0 {
		seed = seedFn()
	}

	k := &Kernel{
		Config:  cfg,
		RAM:     ram.New(cfg.RAMSize, uintptr(cfg.KernelSize)),
		CPU:     cpu.New(seed),
		FS:      loader.NewMemFS(),
		threads: &thread.Group{},
	}

	k.Coremap = pmm.NewCoremap(k.RAM)
	if err := k.Coremap.Bootstrap(); err != nil {
		return nil, errors.Wrap(err, "bootstrap coremap")
	}

	k.VM = vmm.New(k.Coremap, k.CPU, uintptr(cfg.StackPages))

	if err := testbin.Install(k.FS); err != nil {
		return nil, errors.Wrap(err, "install programs")
	}

	k.Procs = proc.NewManager(cfg.ProcConfig(), k.VM, k.CPU, k.FS, k.threads)
	k.Machine = usermode.New(k.Procs, syscall.NewDispatcher(k.Procs))
	k.Machine.SetStepLimit(cfg.StepLimit)
	k.Procs.SetMachine(k.Machine)

	stats := k.Coremap.Stats()
	kfmt.Log("kmain").Infof("booted with %s of RAM: %d frames available, %d programs installed", cfg.RAMSize, stats.Free, len(k.FS.Paths()))
	return k, nil
}

// Start runs the program at path in a new process owned by the kernel and
// returns its pid. If args is empty the program receives its path as its
// only argument.
func (k *Kernel) Start(path string, args []string) (int, error) {
	if len(args) == 0 {
		args = []string{path}
	}

	pid, err := k.Procs.RunProgram(path, args)
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// Wait blocks until the process with the supplied pid, started with Start,
// exits and returns its encoded wait status.
func (k *Kernel) Wait(pid int) (int, error) {
	status, err := k.Procs.Wait(k.Procs.Kernel(), pid, 0)
	if err != nil {
		return 0, err
	}
	return status, nil
}

// Run starts the program at path and waits for it to exit.
func (k *Kernel) Run(path string, args []string) (int, error) {
	pid, err := k.Start(path, args)
	if err != nil {
		return 0, errors.Wrapf(err, "start %s", path)
	}
	return k.Wait(pid)
}

// Shutdown waits for every kernel thread to finish. It returns
// cpu.ErrHalted if the kernel panicked while running.
func (k *Kernel) Shutdown() error {
	if err := k.Procs.WaitAll(); err != nil {
		return err
	}

	stats := k.Coremap.Stats()
	kfmt.Log("kmain").Infof("shutdown: %d of %d frames in use", stats.Used, stats.Total)
	if stats.Used != 0 {
		kfmt.Log("kmain").Warnf("%d frames leaked", stats.Used)
	}
	return nil
}
