package vmm

import (
	"testing"

	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/mm"
	"github.com/patrick-huynh/os161/kernel/mm/pmm"
	"github.com/patrick-huynh/os161/kernel/mm/ram"
)

const testStackPages = 12

type testOwner struct {
	as *AddressSpace
}

func (o *testOwner) AddrSpace() *AddressSpace { return o.as }

// newTestVM returns a VM whose coremap manages exactly frames frames.
func newTestVM(t *testing.T, frames uintptr) *VM {
	t.Helper()

	r := ram.New(mm.Size((frames+2)*mm.PageSize), mm.PageSize)
	coremap := pmm.NewCoremap(r)
	if err := coremap.Bootstrap(); err != nil {
		t.Fatal(err)
	}

	return New(coremap, cpu.New(1), testStackPages)
}

// newLoadedSpace returns a prepared address space with a two page code
// region at 0x400000 and a one page data region at 0x10000000.
func newLoadedSpace(t *testing.T, vm *VM) *AddressSpace {
	t.Helper()

	as := vm.Create()
	if err := as.DefineRegion(0x400000, 2*mm.PageSize, PermRead|PermExec); err != nil {
		t.Fatal(err)
	}
	if err := as.DefineRegion(0x10000000, 16, PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	if err := as.PrepareLoad(); err != nil {
		t.Fatal(err)
	}

	return as
}

func usedFrames(vm *VM) uintptr {
	return vm.coremap.Stats().Used
}

func TestShootdown(t *testing.T) {
	vm := newTestVM(t, 16)

	for _, fn := range []func(){
		func() { vm.Shootdown(mm.PageFromAddress(0x400000)) },
		vm.ShootdownAll,
	} {
		func() {
			defer func() {
				if err := recover(); err != cpu.ErrHalted {
					t.Fatalf("expected shootdown to halt the cpu; got %v", err)
				}
			}()

			fn()
			t.Fatal("expected shootdown not to return")
		}()
	}
}
