package vmm

import (
	"encoding/binary"

	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/mm"
)

// Access translates a user virtual address the way the MMU does: it probes
// the TLB and raises a fault on a miss or on a write through a clean entry.
// Serviced faults are retried. Callers must hold the core.
func (vm *VM) Access(write bool, vaddr uintptr) (uintptr, *kernel.Error) {
	if vaddr >= mm.UserStack {
		return 0, ErrBadAddress
	}

	probe := uint32(vaddr & mm.PageFrame)
	for {
		vm.cpu.DisableInterrupts()
		slot := vm.cpu.TLBProbe(probe)
		var entry TLBEntry
		if slot >= 0 {
			entry = DecodeTLBEntry(vm.cpu.TLBRead(slot))
		}
		vm.cpu.EnableInterrupts()

		if slot < 0 || !entry.HasFlags(FlagValid) {
			kind := FaultRead
			if write {
				kind = FaultWrite
			}

			if err := vm.HandleFault(kind, vaddr); err != nil {
				return 0, err
			}
			continue
		}

		if write && !entry.HasFlags(FlagDirty) {
			return 0, vm.HandleFault(FaultReadOnly, vaddr)
		}

		return entry.Frame().Address() | vaddr&(mm.PageSize-1), nil
	}
}

// userRange walks [uaddr, uaddr+n) one page at a time and invokes fn with
// the physical memory backing each chunk and its offset in the range.
func (vm *VM) userRange(write bool, uaddr, n uintptr, fn func(phys []byte, off uintptr)) *kernel.Error {
	if uaddr+n < uaddr {
		return ErrBadAddress
	}

	for off := uintptr(0); off < n; {
		paddr, err := vm.Access(write, uaddr+off)
		if err != nil {
			return err
		}

		chunk := mm.PageSize - (paddr & (mm.PageSize - 1))
		if chunk > n-off {
			chunk = n - off
		}

		fn(vm.ram.Bytes(paddr, chunk), off)
		off += chunk
	}

	return nil
}

// CopyIn copies len(dst) bytes from user address uaddr into dst.
func (vm *VM) CopyIn(uaddr uintptr, dst []byte) *kernel.Error {
	return vm.userRange(false, uaddr, uintptr(len(dst)), func(phys []byte, off uintptr) {
		copy(dst[off:], phys)
	})
}

// CopyOut copies src to user address uaddr.
func (vm *VM) CopyOut(src []byte, uaddr uintptr) *kernel.Error {
	return vm.userRange(true, uaddr, uintptr(len(src)), func(phys []byte, off uintptr) {
		copy(phys, src[off:])
	})
}

// CopyInStr copies a NUL-terminated string from user address uaddr. At most
// maxLen bytes, terminator included, are examined.
func (vm *VM) CopyInStr(uaddr, maxLen uintptr) (string, *kernel.Error) {
	var (
		buf  []byte
		done bool
	)

	for off := uintptr(0); off < maxLen && !done; {
		if uaddr+off < uaddr {
			return "", ErrBadAddress
		}

		paddr, err := vm.Access(false, uaddr+off)
		if err != nil {
			return "", err
		}

		chunk := mm.PageSize - (paddr & (mm.PageSize - 1))
		if chunk > maxLen-off {
			chunk = maxLen - off
		}

		for _, b := range vm.ram.Bytes(paddr, chunk) {
			if b == 0 {
				done = true
				break
			}
			buf = append(buf, b)
		}
		off += chunk
	}

	if !done {
		return "", ErrNameTooLong
	}

	return string(buf), nil
}

// CopyInWord reads a big-endian 32-bit word from user address uaddr.
func (vm *VM) CopyInWord(uaddr uintptr) (uint32, *kernel.Error) {
	var buf [4]byte
	if err := vm.CopyIn(uaddr, buf[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(buf[:]), nil
}

// CopyOutWord writes value as a big-endian 32-bit word to user address
// uaddr.
func (vm *VM) CopyOutWord(value uint32, uaddr uintptr) *kernel.Error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return vm.CopyOut(buf[:], uaddr)
}
