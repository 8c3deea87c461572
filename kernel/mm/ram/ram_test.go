package ram

import (
	"testing"

	"github.com/patrick-huynh/os161/kernel/cpu"
	"github.com/patrick-huynh/os161/kernel/mm"
)

func TestStealMem(t *testing.T) {
	r := New(16*mm.Size(mm.PageSize), 0x1800)

	if exp, got := uintptr(0x2000), r.StealMem(2); got != exp {
		t.Fatalf("expected first stolen page at 0x%x; got 0x%x", exp, got)
	}

	if exp, got := uintptr(0x4000), r.StealMem(1); got != exp {
		t.Fatalf("expected second stolen page at 0x%x; got 0x%x", exp, got)
	}

	if got := r.StealMem(100); got != 0 {
		t.Fatalf("expected StealMem to fail when memory is exhausted; got 0x%x", got)
	}

	if got := r.StealMem(0); got != 0 {
		t.Fatalf("expected StealMem(0) to fail; got 0x%x", got)
	}

	lo, hi := r.GetSize()
	if lo != 0x5000 || hi != 0x10000 {
		t.Fatalf("expected GetSize to return [0x5000, 0x10000); got [0x%x, 0x%x)", lo, hi)
	}

	if got := r.StealMem(1); got != 0 {
		t.Fatalf("expected StealMem to fail after GetSize; got 0x%x", got)
	}

	if lo, hi = r.GetSize(); lo != 0 || hi != 0 {
		t.Fatalf("expected a second GetSize call to report no memory; got [0x%x, 0x%x)", lo, hi)
	}
}

func TestBytes(t *testing.T) {
	r := New(4*mm.Size(mm.PageSize), 0)

	r.Bytes(0x1000, 4)[3] = 0xaa
	if got := r.Bytes(0x1003, 1)[0]; got != 0xaa {
		t.Fatalf("expected write to be visible through a second view; got 0x%x", got)
	}

	r.Copy(0x2000, 0x1000, 1)
	if got := r.Bytes(0x2003, 1)[0]; got != 0xaa {
		t.Fatalf("expected copied byte to be 0xaa; got 0x%x", got)
	}

	r.Zero(0x1000, 1)
	if got := r.Bytes(0x1003, 1)[0]; got != 0 {
		t.Fatalf("expected zeroed byte; got 0x%x", got)
	}

	t.Run("out of range", func(t *testing.T) {
		defer func() {
			if err := recover(); err != cpu.ErrHalted {
				t.Fatalf("expected out of range access to halt the cpu; got %v", err)
			}
		}()

		r.Bytes(0x3ffe, 4)
		t.Fatal("expected Bytes to halt the cpu")
	})
}
