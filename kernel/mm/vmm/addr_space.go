package vmm

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/mm"
)

// Perm describes the access permissions requested for a region. They are
// recorded but the only protection enforced is the read-only code region
// after CompleteLoad.
type Perm uint8

// Region permissions, in the order used by executable segment headers.
const (
	PermExec Perm = 1 << iota
	PermWrite
	PermRead
)

const maxRegions = 2

// RegionKind identifies one of the regions of an address space.
type RegionKind uint8

// The regions of an address space, in the order they are matched against
// faulting addresses.
const (
	RegionCode RegionKind = iota
	RegionData
	RegionStack
)

var regionNames = [...]string{"code", "data", "stack"}

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	if int(k) < len(regionNames) {
		return regionNames[k]
	}
	return "unknown"
}

type region struct {
	vbase, pbase, npages uintptr
	perm                 Perm
}

func (r region) contains(vaddr uintptr) bool {
	return vaddr >= r.vbase && vaddr < r.vbase+r.npages*mm.PageSize
}

// RegionInfo describes the geometry of a region for inspection.
type RegionInfo struct {
	Kind   RegionKind
	VBase  uintptr
	PBase  uintptr
	NPages uintptr
	Perm   Perm
}

// AddressSpace describes the user memory of a process: up to two static
// regions (code and data) plus a fixed size stack that ends at mm.UserStack.
type AddressSpace struct {
	vm *VM

	regions  [maxRegions]region
	nregions int

	stackPBase uintptr

	// loadComplete is set once the program image has been written. From
	// that point on the code region is mapped read-only.
	loadComplete bool
}

// Create returns an empty address space.
func (vm *VM) Create() *AddressSpace {
	return &AddressSpace{vm: vm}
}

// DefineRegion sets up a region of memory starting at vaddr and spanning
// size bytes. The region is extended so it starts and ends on a page
// boundary. The first region defined is treated as the code region.
func (as *AddressSpace) DefineRegion(vaddr, size uintptr, perm Perm) *kernel.Error {
	if size == 0 {
		return ErrInvalidRegion
	}

	if as.nregions == maxRegions {
		return ErrTooManyRegions
	}

	offset := vaddr &^ mm.PageFrame
	if size > ^uintptr(0)-offset-(mm.PageSize-1) {
		return ErrInvalidRegion
	}
	size += offset
	vaddr &= mm.PageFrame
	npages := mm.PageAlignUp(size) >> mm.PageShift
	if npages == 0 {
		return ErrInvalidRegion
	}

	end := vaddr + npages*mm.PageSize
	if end < vaddr || end > as.vm.stackBase() {
		return ErrRegionOverlap
	}

	for i := 0; i < as.nregions; i++ {
		r := as.regions[i]
		if vaddr < r.vbase+r.npages*mm.PageSize && r.vbase < end {
			return ErrRegionOverlap
		}
	}

	as.regions[as.nregions] = region{vbase: vaddr, npages: npages, perm: perm}
	as.nregions++
	return nil
}

// PrepareLoad allocates and clears the frames backing every region and the
// stack. If any allocation fails, the frames obtained so far are released
// and the address space is left without frames.
func (as *AddressSpace) PrepareLoad() *kernel.Error {
	if as.prepared() {
		return ErrAlreadyPrepared
	}

	for i := 0; i < as.nregions; i++ {
		pbase, err := as.allocZeroed(as.regions[i].npages)
		if err != nil {
			as.releaseFrames()
			return err
		}
		as.regions[i].pbase = pbase
	}

	pbase, err := as.allocZeroed(as.vm.stackPages)
	if err != nil {
		as.releaseFrames()
		return err
	}
	as.stackPBase = pbase

	return nil
}

func (as *AddressSpace) allocZeroed(npages uintptr) (uintptr, *kernel.Error) {
	pbase, err := as.vm.coremap.Alloc(npages)
	if err != nil {
		return 0, err
	}

	as.vm.ram.Zero(pbase, npages)
	return pbase, nil
}

// prepared returns true if the frames for every region and the stack have
// been allocated.
func (as *AddressSpace) prepared() bool {
	if as.stackPBase == 0 {
		return false
	}

	for i := 0; i < as.nregions; i++ {
		if as.regions[i].pbase == 0 {
			return false
		}
	}

	return true
}

// CompleteLoad marks the end of program loading. Subsequent writes to the
// code region fail with a read-only fault.
func (as *AddressSpace) CompleteLoad() *kernel.Error {
	as.loadComplete = true
	return nil
}

// LoadComplete returns true once CompleteLoad has been called.
func (as *AddressSpace) LoadComplete() bool {
	return as.loadComplete
}

// DefineStack returns the initial user stack pointer.
func (as *AddressSpace) DefineStack() (uintptr, *kernel.Error) {
	if as.stackPBase == 0 {
		return 0, ErrStackNotReady
	}

	return mm.UserStack, nil
}

// Copy returns a new address space with the same geometry whose memory is a
// byte-for-byte copy of as. The two spaces share no frames.
func (as *AddressSpace) Copy() (*AddressSpace, *kernel.Error) {
	clone := as.vm.Create()
	clone.nregions = as.nregions
	clone.loadComplete = as.loadComplete
	for i := 0; i < as.nregions; i++ {
		clone.regions[i] = as.regions[i]
		clone.regions[i].pbase = 0
	}

	if err := clone.PrepareLoad(); err != nil {
		return nil, err
	}

	for i := 0; i < as.nregions; i++ {
		if as.regions[i].pbase != 0 {
			as.vm.ram.Copy(clone.regions[i].pbase, as.regions[i].pbase, as.regions[i].npages)
		}
	}

	if as.stackPBase != 0 {
		as.vm.ram.Copy(clone.stackPBase, as.stackPBase, as.vm.stackPages)
	}

	return clone, nil
}

// Activate makes as the address space used for translating user addresses
// by invalidating every TLB entry.
func (as *AddressSpace) Activate() {
	as.vm.invalidateTLB()
}

// Deactivate is called when as stops being the active address space. The
// TLB is not tagged so there is nothing to do.
func (as *AddressSpace) Deactivate() {}

// Destroy returns every frame owned by the address space to the coremap.
func (as *AddressSpace) Destroy() {
	as.releaseFrames()
}

func (as *AddressSpace) releaseFrames() {
	for i := 0; i < as.nregions; i++ {
		if as.regions[i].pbase != 0 {
			as.vm.coremap.Free(as.regions[i].pbase)
			as.regions[i].pbase = 0
		}
	}

	if as.stackPBase != 0 {
		as.vm.coremap.Free(as.stackPBase)
		as.stackPBase = 0
	}
}

// classify matches vaddr against the code, data and stack regions in that
// order and returns the physical address it maps to.
func (as *AddressSpace) classify(vaddr uintptr) (uintptr, RegionKind, bool) {
	for i := 0; i < as.nregions; i++ {
		if r := as.regions[i]; r.contains(vaddr) {
			return vaddr - r.vbase + r.pbase, RegionKind(i), true
		}
	}

	if stackBase := as.vm.stackBase(); vaddr >= stackBase && vaddr < mm.UserStack {
		return vaddr - stackBase + as.stackPBase, RegionStack, true
	}

	return 0, 0, false
}

// Translate returns the physical address that vaddr maps to. It does not
// consult or modify the TLB.
func (as *AddressSpace) Translate(vaddr uintptr) (uintptr, bool) {
	if !as.prepared() {
		return 0, false
	}

	paddr, _, ok := as.classify(vaddr)
	return paddr, ok
}

// WriteAt copies data into the address space starting at vaddr bypassing
// the TLB. It is used by the kernel to populate a space that is not active.
func (as *AddressSpace) WriteAt(vaddr uintptr, data []byte) *kernel.Error {
	return as.physCopy(vaddr, uintptr(len(data)), func(phys []byte, off uintptr) {
		copy(phys, data[off:])
	})
}

// ReadAt copies len(buf) bytes starting at vaddr into buf bypassing the TLB.
func (as *AddressSpace) ReadAt(vaddr uintptr, buf []byte) *kernel.Error {
	return as.physCopy(vaddr, uintptr(len(buf)), func(phys []byte, off uintptr) {
		copy(buf[off:], phys)
	})
}

func (as *AddressSpace) physCopy(vaddr, n uintptr, fn func(phys []byte, off uintptr)) *kernel.Error {
	for off := uintptr(0); off < n; {
		paddr, ok := as.Translate(vaddr + off)
		if !ok {
			return ErrBadAddress
		}

		chunk := mm.PageSize - (paddr & (mm.PageSize - 1))
		if chunk > n-off {
			chunk = n - off
		}

		fn(as.vm.ram.Bytes(paddr, chunk), off)
		off += chunk
	}

	return nil
}

// Regions returns the geometry of the static regions followed by the stack.
func (as *AddressSpace) Regions() []RegionInfo {
	infos := make([]RegionInfo, 0, as.nregions+1)
	for i := 0; i < as.nregions; i++ {
		r := as.regions[i]
		infos = append(infos, RegionInfo{
			Kind:   RegionKind(i),
			VBase:  r.vbase,
			PBase:  r.pbase,
			NPages: r.npages,
			Perm:   r.perm,
		})
	}

	return append(infos, RegionInfo{
		Kind:   RegionStack,
		VBase:  as.vm.stackBase(),
		PBase:  as.stackPBase,
		NPages: as.vm.stackPages,
		Perm:   PermRead | PermWrite,
	})
}

// invalidateTLB writes an invalid entry into every TLB slot with interrupts
// disabled.
func (vm *VM) invalidateTLB() {
	vm.cpu.DisableInterrupts()
	for slot := 0; slot < cpu.NumTLB; slot++ {
		hi, lo := InvalidTLBEntry(slot).Encode()
		vm.cpu.TLBWrite(hi, lo, slot)
	}
	vm.cpu.EnableInterrupts()
}
