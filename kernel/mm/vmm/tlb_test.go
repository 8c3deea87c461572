package vmm

import (
	"testing"

	"github.com/patrick-huynh/os161/kernel/mm"
)

func TestTLBEntryEncoding(t *testing.T) {
	var (
		page  = mm.PageFromAddress(0x00412345)
		frame = mm.Frame(0x1f3)
		entry = NewTLBEntry(page, frame, FlagValid|FlagDirty)
	)

	hi, lo := entry.Encode()
	if exp := uint32(0x00412000); hi != exp {
		t.Fatalf("expected EntryHi 0x%08x; got 0x%08x", exp, hi)
	}

	if exp := uint32(0x001f3000 | 0x200 | 0x400); lo != exp {
		t.Fatalf("expected EntryLo 0x%08x; got 0x%08x", exp, lo)
	}

	decoded := DecodeTLBEntry(hi, lo)
	if got := decoded.Page(); got != page {
		t.Fatalf("expected page %v; got %v", page, got)
	}

	if got := decoded.Frame(); got != frame {
		t.Fatalf("expected frame %v; got %v", frame, got)
	}
}

func TestTLBEntryFlags(t *testing.T) {
	var entry TLBEntry

	if entry.HasFlags(FlagValid) {
		t.Fatal("expected HasFlags to return false for a zero entry")
	}

	entry.SetFlags(FlagValid | FlagDirty)
	if !entry.HasFlags(FlagValid | FlagDirty) {
		t.Fatal("expected HasFlags to return true")
	}

	entry.ClearFlags(FlagDirty)
	if entry.HasFlags(FlagValid | FlagDirty) {
		t.Fatal("expected HasFlags to return false after clearing FlagDirty")
	}

	if !entry.HasFlags(FlagValid) {
		t.Fatal("expected FlagValid to survive clearing FlagDirty")
	}
}

func TestInvalidTLBEntry(t *testing.T) {
	for _, slot := range []int{0, 1, 63} {
		hi, lo := InvalidTLBEntry(slot).Encode()
		if exp := uint32(0x80000+slot) << 12; hi != exp {
			t.Errorf("[slot %d] expected EntryHi 0x%08x; got 0x%08x", slot, exp, hi)
		}

		if lo != 0 {
			t.Errorf("[slot %d] expected EntryLo to be 0; got 0x%08x", slot, lo)
		}

		if uintptr(hi) < mm.UserStack {
			t.Errorf("[slot %d] expected invalid entry to point into kseg0", slot)
		}
	}
}
