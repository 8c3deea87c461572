// Package gate describes the execution context saved when user code enters
// the kernel through an exception or a system call.
package gate

import (
	"fmt"
	"io"
)

// NumRegs is the number of general purpose registers.
const NumRegs = 32

// Register indices following the MIPS o32 naming conventions.
const (
	RegZero = 0
	RegAT   = 1
	RegV0   = 2
	RegV1   = 3
	RegA0   = 4
	RegA1   = 5
	RegA2   = 6
	RegA3   = 7
	RegT0   = 8
	RegS0   = 16
	RegT8   = 24
	RegK0   = 26
	RegGP   = 28
	RegSP   = 29
	RegS8   = 30
	RegRA   = 31
)

var regNames = [NumRegs]string{
	"z0", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "s8", "ra",
}

// ExceptionCode is the value of the cause register's exception field.
type ExceptionCode uint8

// Exception codes raised by the CPU.
const (
	ExcInterrupt ExceptionCode = 0
	ExcMod       ExceptionCode = 1
	ExcTLBL      ExceptionCode = 2
	ExcTLBS      ExceptionCode = 3
	ExcAddrL     ExceptionCode = 4
	ExcAddrS     ExceptionCode = 5
	ExcSys       ExceptionCode = 8
	ExcBreak     ExceptionCode = 9
	ExcReserved  ExceptionCode = 10
)

var exceptionNames = map[ExceptionCode]string{
	ExcInterrupt: "interrupt",
	ExcMod:       "tlb modify",
	ExcTLBL:      "tlb miss on load",
	ExcTLBS:      "tlb miss on store",
	ExcAddrL:     "address error on load",
	ExcAddrS:     "address error on store",
	ExcSys:       "syscall",
	ExcBreak:     "breakpoint",
	ExcReserved:  "reserved instruction",
}

// String implements fmt.Stringer for ExceptionCode.
func (c ExceptionCode) String() string {
	if name, ok := exceptionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("exception %d", uint8(c))
}

// System call numbers.
const (
	SysFork    = 0
	SysVfork   = 1
	SysExecv   = 2
	SysExit    = 3
	SysWaitpid = 4
	SysGetpid  = 5
)

// TrapFrame contains a snapshot of the user registers when an exception or
// system call occurs.
type TrapFrame struct {
	Regs [NumRegs]uint32

	// Vaddr is the faulting address for memory exceptions.
	Vaddr uint32

	// Cause holds the exception code.
	Cause ExceptionCode

	Lo, Hi uint32

	// EPC is the address of the instruction that trapped.
	EPC uint32
}

// Copy returns a duplicate of the trap frame.
func (tf *TrapFrame) Copy() *TrapFrame {
	dup := *tf
	return &dup
}

// DumpTo outputs the register contents to w.
func (tf *TrapFrame) DumpTo(w io.Writer) {
	for i := 0; i < NumRegs; i += 4 {
		fmt.Fprintf(w, "%s = %08x %s = %08x %s = %08x %s = %08x\n",
			regNames[i], tf.Regs[i],
			regNames[i+1], tf.Regs[i+1],
			regNames[i+2], tf.Regs[i+2],
			regNames[i+3], tf.Regs[i+3],
		)
	}
	fmt.Fprintf(w, "lo = %08x hi = %08x\n", tf.Lo, tf.Hi)
	fmt.Fprintf(w, "epc = %08x vaddr = %08x cause = %s\n", tf.EPC, tf.Vaddr, tf.Cause)
}
