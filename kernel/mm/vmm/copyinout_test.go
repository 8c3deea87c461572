package vmm

import (
	"bytes"
	"testing"

	"github.com/patrick-huynh/os161/kernel/mm"
)

func TestAccessWriteProtection(t *testing.T) {
	vm := newTestVM(t, 64)
	as := newLoadedSpace(t, vm)
	vm.SetCurrent(&testOwner{as})
	as.Activate()

	// Writes to the code region succeed while the image is being loaded.
	if err := vm.CopyOut([]byte{0xde, 0xad}, 0x400100); err != nil {
		t.Fatal(err)
	}

	_ = as.CompleteLoad()
	as.Activate()

	if _, err := vm.Access(false, 0x400100); err != nil {
		t.Fatalf("expected reads from the code region to succeed; got %v", err)
	}

	if err := vm.CopyOut([]byte{0xbe, 0xef}, 0x400100); err != ErrReadOnlyFault {
		t.Fatalf("expected a write to the completed code region to fail with ErrReadOnlyFault; got %v", err)
	}

	assertContents(t, as, 0x400100, []byte{0xde, 0xad})

	if err := vm.CopyOut([]byte{1, 2, 3}, 0x10000000); err != nil {
		t.Fatalf("expected writes to the data region to succeed; got %v", err)
	}
}

func TestCopyInOut(t *testing.T) {
	vm := newTestVM(t, 64)
	as := newLoadedSpace(t, vm)
	vm.SetCurrent(&testOwner{as})
	as.Activate()

	// The payload spans two stack pages.
	var (
		payload = bytes.Repeat([]byte("0123456789"), 600)
		uaddr   = mm.UserStack - 2*mm.PageSize - 100
	)

	if err := vm.CopyOut(payload, uaddr); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(payload))
	if err := vm.CopyIn(uaddr, got); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(payload, got) {
		t.Fatal("expected CopyIn to return the bytes written by CopyOut")
	}

	assertContents(t, as, uaddr, payload)

	t.Run("bad addresses", func(t *testing.T) {
		if err := vm.CopyIn(0x20000000, got[:4]); err != ErrBadAddress {
			t.Fatalf("expected ErrBadAddress for an unmapped address; got %v", err)
		}

		if err := vm.CopyOut(payload[:4], mm.KSeg0+0x1000); err != ErrBadAddress {
			t.Fatalf("expected ErrBadAddress for a kernel address; got %v", err)
		}

		if err := vm.CopyOut(payload[:16], mm.UserStack-8); err != ErrBadAddress {
			t.Fatalf("expected ErrBadAddress for a copy that runs off the stack; got %v", err)
		}
	})
}

func TestCopyInStr(t *testing.T) {
	vm := newTestVM(t, 64)
	as := newLoadedSpace(t, vm)
	vm.SetCurrent(&testOwner{as})
	as.Activate()

	_ = vm.CopyOut([]byte("/bin/true\x00"), 0x10000000)

	str, err := vm.CopyInStr(0x10000000, 128)
	if err != nil {
		t.Fatal(err)
	}
	if str != "/bin/true" {
		t.Fatalf("expected %q; got %q", "/bin/true", str)
	}

	if _, err = vm.CopyInStr(0x10000000, 9); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong when the terminator is past the limit; got %v", err)
	}

	if _, err = vm.CopyInStr(0x30000000, 9); err != ErrBadAddress {
		t.Fatalf("expected ErrBadAddress; got %v", err)
	}
}

func TestCopyWords(t *testing.T) {
	vm := newTestVM(t, 64)
	as := newLoadedSpace(t, vm)
	vm.SetCurrent(&testOwner{as})
	as.Activate()

	if err := vm.CopyOutWord(0x7fffefe0, 0x10000008); err != nil {
		t.Fatal(err)
	}

	assertContents(t, as, 0x10000008, []byte{0x7f, 0xff, 0xef, 0xe0})

	word, err := vm.CopyInWord(0x10000008)
	if err != nil {
		t.Fatal(err)
	}
	if word != 0x7fffefe0 {
		t.Fatalf("expected 0x7fffefe0; got 0x%x", word)
	}
}
