package vmm

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/mm"
)

// FaultType describes the reason the MMU raised a fault.
type FaultType uint8

// Fault types raised by the MMU.
const (
	// FaultRead is raised when a load misses the TLB.
	FaultRead FaultType = iota

	// FaultWrite is raised when a store misses the TLB.
	FaultWrite

	// FaultReadOnly is raised when a store hits a TLB entry without
	// FlagDirty.
	FaultReadOnly
)

func (f FaultType) String() string {
	switch f {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// HandleFault services a TLB miss at faultAddr by installing a translation
// for the containing page from the current address space. Once it returns
// successfully the faulting access can be retried. Callers must hold the
// core.
func (vm *VM) HandleFault(kind FaultType, faultAddr uintptr) *kernel.Error {
	faultAddr &= mm.PageFrame
	log := kfmt.Log("vm")
	log.Debugf("fault: 0x%08x (%s)", faultAddr, kind)

	switch kind {
	case FaultReadOnly:
		return ErrReadOnlyFault
	case FaultRead, FaultWrite:
	default:
		return ErrInvalidFaultType
	}

	cur := vm.cur
	if cur == nil {
		// Probably a fault during early boot. Report it upwards instead
		// of looping on it.
		return ErrNoAddrSpace
	}

	as := cur.AddrSpace()
	if as == nil {
		return ErrNoAddrSpace
	}

	if !as.prepared() {
		kfmt.Panic(errNotPrepared)
		return errNotPrepared
	}

	paddr, regionKind, ok := as.classify(faultAddr)
	if !ok {
		return ErrBadAddress
	}

	flags := FlagValid | FlagDirty
	if regionKind == RegionCode && as.loadComplete {
		flags = FlagValid
	}

	entry := NewTLBEntry(mm.PageFromAddress(faultAddr), mm.FrameFromAddress(paddr), flags)
	slot := vm.installTLBEntry(entry)
	log.Debugf("tlb[%d]: 0x%08x -> 0x%08x (%s)", slot, faultAddr, paddr, regionKind)
	return nil
}

// installTLBEntry writes entry into the first invalid TLB slot. If every slot
// holds a valid entry, a random victim is replaced.
func (vm *VM) installTLBEntry(entry TLBEntry) int {
	hi, lo := entry.Encode()

	vm.cpu.DisableInterrupts()
	defer vm.cpu.EnableInterrupts()

	for slot := 0; slot < cpu.NumTLB; slot++ {
		if DecodeTLBEntry(vm.cpu.TLBRead(slot)).HasFlags(FlagValid) {
			continue
		}

		vm.cpu.TLBWrite(hi, lo, slot)
		return slot
	}

	return vm.cpu.TLBRandom(hi, lo)
}
