package vmm

import (
	"testing"

	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/mm"
)

func TestHandleFaultErrors(t *testing.T) {
	vm := newTestVM(t, 64)

	specs := []struct {
		descr  string
		owner  Owner
		kind   FaultType
		addr   uintptr
		expErr error
	}{
		{"read-only fault", nil, FaultReadOnly, 0x400000, ErrReadOnlyFault},
		{"unknown fault type", nil, FaultType(42), 0x400000, ErrInvalidFaultType},
		{"no current process", nil, FaultRead, 0x400000, ErrNoAddrSpace},
		{"no address space", &testOwner{}, FaultRead, 0x400000, ErrNoAddrSpace},
		{"address outside regions", &testOwner{newLoadedSpace(t, vm)}, FaultWrite, 0x20000000, ErrBadAddress},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			vm.SetCurrent(spec.owner)
			defer vm.SetCurrent(nil)

			if err := vm.HandleFault(spec.kind, spec.addr); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}
}

func TestHandleFaultUnpreparedSpace(t *testing.T) {
	vm := newTestVM(t, 64)
	as := vm.Create()
	_ = as.DefineRegion(0x400000, mm.PageSize, PermRead)
	vm.SetCurrent(&testOwner{as})

	defer func() {
		if err := recover(); err != cpu.ErrHalted {
			t.Fatalf("expected a fault on an unprepared space to halt the cpu; got %v", err)
		}
	}()

	_ = vm.HandleFault(FaultRead, 0x400000)
	t.Fatal("expected HandleFault to halt the cpu")
}

func TestHandleFaultInstallsEntry(t *testing.T) {
	vm := newTestVM(t, 64)
	as := newLoadedSpace(t, vm)
	vm.SetCurrent(&testOwner{as})
	as.Activate()

	specs := []struct {
		addr     uintptr
		expDirty bool
	}{
		{0x400010, true},
		{0x10000004, true},
		{mm.UserStack - 4, true},
	}

	for specIndex, spec := range specs {
		if err := vm.HandleFault(FaultRead, spec.addr); err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		paddr, _ := as.Translate(spec.addr)
		vm.cpu.DisableInterrupts()
		slot := vm.cpu.TLBProbe(uint32(spec.addr & mm.PageFrame))
		hi, lo := vm.cpu.TLBRead(slot)
		vm.cpu.EnableInterrupts()

		if slot != specIndex {
			t.Fatalf("[spec %d] expected entry to be placed in the first invalid slot; got slot %d", specIndex, slot)
		}

		entry := DecodeTLBEntry(hi, lo)
		if exp := mm.FrameFromAddress(paddr); entry.Frame() != exp {
			t.Fatalf("[spec %d] expected frame %v; got %v", specIndex, exp, entry.Frame())
		}
		if !entry.HasFlags(FlagValid) || entry.HasFlags(FlagDirty) != spec.expDirty {
			t.Fatalf("[spec %d] unexpected entry flags: 0x%x", specIndex, lo)
		}
	}

	t.Run("code region after load", func(t *testing.T) {
		_ = as.CompleteLoad()
		as.Activate()

		if err := vm.HandleFault(FaultWrite, 0x401000); err != nil {
			t.Fatal(err)
		}

		vm.cpu.DisableInterrupts()
		hi, lo := vm.cpu.TLBRead(0)
		vm.cpu.EnableInterrupts()

		entry := DecodeTLBEntry(hi, lo)
		if entry.Page() != mm.PageFromAddress(0x401000) || entry.HasFlags(FlagDirty) {
			t.Fatalf("expected a clean entry for the completed code region; got (0x%x, 0x%x)", hi, lo)
		}
	})
}

func TestHandleFaultFullTLB(t *testing.T) {
	vm := newTestVM(t, 64)
	as := newLoadedSpace(t, vm)
	vm.SetCurrent(&testOwner{as})

	vm.cpu.DisableInterrupts()
	for slot := 0; slot < cpu.NumTLB; slot++ {
		hi, lo := NewTLBEntry(mm.Page(0x1000+slot), mm.Frame(slot+1), FlagValid).Encode()
		vm.cpu.TLBWrite(hi, lo, slot)
	}
	vm.cpu.EnableInterrupts()

	if err := vm.HandleFault(FaultRead, 0x10000000); err != nil {
		t.Fatal(err)
	}

	vm.cpu.DisableInterrupts()
	defer vm.cpu.EnableInterrupts()
	if slot := vm.cpu.TLBProbe(0x10000000); slot < 0 {
		t.Fatal("expected the new entry to replace a victim slot")
	}
}

func TestFaultTypeString(t *testing.T) {
	for kind, exp := range map[FaultType]string{
		FaultRead:     "read",
		FaultWrite:    "write",
		FaultReadOnly: "read-only",
		FaultType(9):  "unknown",
	} {
		if got := kind.String(); got != exp {
			t.Errorf("expected %q; got %q", exp, got)
		}
	}
}
