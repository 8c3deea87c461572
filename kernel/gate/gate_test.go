package gate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTrapFrameCopy(t *testing.T) {
	tf := &TrapFrame{EPC: 0x400010, Cause: ExcSys}
	tf.Regs[RegV0] = SysFork
	tf.Regs[RegSP] = 0x7fffffe0

	dup := tf.Copy()
	if diff := cmp.Diff(tf, dup); diff != "" {
		t.Fatalf("expected copy to match the original (-orig +copy):\n%s", diff)
	}

	dup.Regs[RegV0] = 0
	dup.EPC += 4
	if tf.Regs[RegV0] != SysFork || tf.EPC != 0x400010 {
		t.Fatal("expected modifications to the copy not to affect the original")
	}
}

func TestTrapFrameDump(t *testing.T) {
	tf := &TrapFrame{EPC: 0x400010, Cause: ExcTLBS, Vaddr: 0xdeadbeef}
	tf.Regs[RegA0] = 0x1234

	var buf bytes.Buffer
	tf.DumpTo(&buf)

	for _, exp := range []string{
		"a0 = 00001234",
		"epc = 00400010 vaddr = deadbeef cause = tlb miss on store",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected dump to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

func TestExceptionCodeString(t *testing.T) {
	if exp, got := "syscall", ExcSys.String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}

	if exp, got := "exception 31", ExceptionCode(31).String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}
}
