// Package vmm implements per-process address spaces on top of the coremap
// and services TLB misses for the software-managed MMU.
package vmm

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/mm"
	"github.com/patrick-huynh/os161/kernel/mm/pmm"
	"github.com/patrick-huynh/os161/kernel/mm/ram"
)

var (
	// ErrTooManyRegions is returned when a third static region is defined.
	ErrTooManyRegions = &kernel.Error{Module: "vm", Message: "too many regions", Errno: kernel.EUNIMP}

	// ErrInvalidRegion is returned when defining a region that is empty or
	// whose page-aligned size does not fit in the address space.
	ErrInvalidRegion = &kernel.Error{Module: "vm", Message: "invalid region size", Errno: kernel.EINVAL}

	// ErrRegionOverlap is returned when a region overlaps an existing
	// region, the stack or kernel space.
	ErrRegionOverlap = &kernel.Error{Module: "vm", Message: "region overlaps an existing mapping", Errno: kernel.EINVAL}

	// ErrAlreadyPrepared is returned by PrepareLoad when frames have
	// already been allocated for the address space.
	ErrAlreadyPrepared = &kernel.Error{Module: "vm", Message: "address space already prepared", Errno: kernel.EINVAL}

	// ErrStackNotReady is returned by DefineStack when the stack frames
	// have not been allocated yet.
	ErrStackNotReady = &kernel.Error{Module: "vm", Message: "stack frames not allocated", Errno: kernel.EINVAL}

	// ErrReadOnlyFault is returned when writing to a page mapped without
	// FlagDirty.
	ErrReadOnlyFault = &kernel.Error{Module: "vm", Message: "write to read-only page", Errno: kernel.EFAULT}

	// ErrInvalidFaultType is returned for unknown fault types.
	ErrInvalidFaultType = &kernel.Error{Module: "vm", Message: "invalid fault type", Errno: kernel.EINVAL}

	// ErrNoAddrSpace is returned when a fault occurs while no process or
	// no address space is active.
	ErrNoAddrSpace = &kernel.Error{Module: "vm", Message: "no active address space", Errno: kernel.EFAULT}

	// ErrBadAddress is returned when an address does not belong to any
	// region of the active address space.
	ErrBadAddress = &kernel.Error{Module: "vm", Message: "bad address", Errno: kernel.EFAULT}

	// ErrNameTooLong is returned by CopyInStr when no terminator is found
	// within the allowed length.
	ErrNameTooLong = &kernel.Error{Module: "vm", Message: "string too long", Errno: kernel.ENAMETOOLONG}

	errNotPrepared          = &kernel.Error{Module: "vm", Message: "fault on an address space without frames"}
	errShootdownUnsupported = &kernel.Error{Module: "vm", Message: "tlb shootdown is not supported on a single core"}
)

// Owner is implemented by the objects that own an address space, i.e.
// processes.
type Owner interface {
	// AddrSpace returns the owner's address space or nil if it has none.
	AddrSpace() *AddressSpace
}

// VM is the virtual memory subsystem. It ties address spaces to the coremap
// that backs them and to the CPU whose TLB it manages.
type VM struct {
	coremap    *pmm.Coremap
	ram        *ram.RAM
	cpu        *cpu.CPU
	stackPages uintptr

	// cur is the owner whose instructions are executing. It is only
	// accessed by the thread that holds the core.
	cur Owner
}

// New returns a VM that allocates frames from coremap and refills the TLB
// of c. Every address space gets a stack of stackPages pages.
func New(coremap *pmm.Coremap, c *cpu.CPU, stackPages uintptr) *VM {
	return &VM{
		coremap:    coremap,
		ram:        coremap.RAM(),
		cpu:        c,
		stackPages: stackPages,
	}
}

// SetCurrent records the owner whose instructions run on the core. Callers
// must hold the core.
func (vm *VM) SetCurrent(o Owner) {
	vm.cur = o
}

// Current returns the owner whose instructions run on the core or nil.
func (vm *VM) Current() Owner {
	return vm.cur
}

// StackPages returns the number of pages in every user stack.
func (vm *VM) StackPages() uintptr {
	return vm.stackPages
}

// stackBase returns the lowest virtual address of the user stack.
func (vm *VM) stackBase() uintptr {
	return mm.UserStack - vm.stackPages*mm.PageSize
}

// Shootdown invalidates a single TLB entry on every other core. Only a
// single core is supported so any request is fatal.
func (vm *VM) Shootdown(page mm.Page) {
	kfmt.Log("vm").Errorf("shootdown request for page 0x%08x", page.Address())
	kfmt.Panic(errShootdownUnsupported)
}

// ShootdownAll invalidates the TLB of every other core. Only a single core
// is supported so any request is fatal.
func (vm *VM) ShootdownAll() {
	kfmt.Panic(errShootdownUnsupported)
}
