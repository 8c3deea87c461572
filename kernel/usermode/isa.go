package usermode

import (
	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
)

// Primary opcodes (bits 31..26).
const (
	opSpecial = 0x00
	opJ       = 0x02
	opJAL     = 0x03
	opBEQ     = 0x04
	opBNE     = 0x05
	opBLEZ    = 0x06
	opBGTZ    = 0x07
	opADDIU   = 0x09
	opSLTI    = 0x0a
	opSLTIU   = 0x0b
	opANDI    = 0x0c
	opORI     = 0x0d
	opLUI     = 0x0f
	opLB      = 0x20
	opLW      = 0x23
	opLBU     = 0x24
	opSB      = 0x28
	opSW      = 0x2b
)

// Function codes (bits 5..0) for opSpecial.
const (
	fnSLL     = 0x00
	fnSRL     = 0x02
	fnSRA     = 0x03
	fnJR      = 0x08
	fnJALR    = 0x09
	fnSYSCALL = 0x0c
	fnBREAK   = 0x0d
	fnADDU    = 0x21
	fnSUBU    = 0x23
	fnAND     = 0x24
	fnOR      = 0x25
	fnXOR     = 0x26
	fnSLT     = 0x2a
	fnSLTU    = 0x2b
)

// word is an encoded instruction.
type word uint32

func (w word) op() uint32     { return uint32(w) >> 26 }
func (w word) rs() int        { return int(uint32(w)>>21) & 0x1f }
func (w word) rt() int        { return int(uint32(w)>>16) & 0x1f }
func (w word) rd() int        { return int(uint32(w)>>11) & 0x1f }
func (w word) shamt() uint32  { return (uint32(w) >> 6) & 0x1f }
func (w word) funct() uint32  { return uint32(w) & 0x3f }
func (w word) imm() uint32    { return uint32(w) & 0xffff }
func (w word) simm() uint32   { return uint32(int32(int16(uint32(w) & 0xffff))) }
func (w word) target() uint32 { return uint32(w) & 0x3ffffff }

// trap describes why an instruction stopped the execution loop.
type trap uint8

const (
	trapNone trap = iota
	trapSyscall
	trapBreak
	trapIllegal
	trapUnaligned
)

// execState is the state an instruction operates on.
type execState struct {
	vm *vmm.VM
	tf *gate.TrapFrame

	// next is the address of the instruction that runs after the current
	// one. Branches and jumps overwrite it.
	next uint32
}

func (s *execState) reg(r int) uint32 {
	return s.tf.Regs[r]
}

func (s *execState) setReg(r int, v uint32) {
	if r != gate.RegZero {
		s.tf.Regs[r] = v
	}
}

// branch redirects execution relative to the instruction that follows the
// branch.
func (s *execState) branch(w word) {
	s.next = s.tf.EPC + 4 + w.simm()<<2
}

// instruction executes a decoded instruction word.
type instruction func(s *execState, w word) (trap, *kernel.Error)

var (
	opTable      [64]instruction
	specialTable [64]instruction
)

func init() {
	opTable[opSpecial] = func(s *execState, w word) (trap, *kernel.Error) {
		if fn := specialTable[w.funct()]; fn != nil {
			return fn(s, w)
		}
		return trapIllegal, nil
	}

	opTable[opJ] = func(s *execState, w word) (trap, *kernel.Error) {
		s.next = (s.tf.EPC+4)&0xf0000000 | w.target()<<2
		return trapNone, nil
	}
	opTable[opJAL] = func(s *execState, w word) (trap, *kernel.Error) {
		s.setReg(gate.RegRA, s.tf.EPC+4)
		s.next = (s.tf.EPC+4)&0xf0000000 | w.target()<<2
		return trapNone, nil
	}
	opTable[opBEQ] = branchIf(func(a, b uint32) bool { return a == b })
	opTable[opBNE] = branchIf(func(a, b uint32) bool { return a != b })
	opTable[opBLEZ] = branchIf(func(a, _ uint32) bool { return int32(a) <= 0 })
	opTable[opBGTZ] = branchIf(func(a, _ uint32) bool { return int32(a) > 0 })

	opTable[opADDIU] = immOp(func(a uint32, w word) uint32 { return a + w.simm() })
	opTable[opSLTI] = immOp(func(a uint32, w word) uint32 { return boolWord(int32(a) < int32(w.simm())) })
	opTable[opSLTIU] = immOp(func(a uint32, w word) uint32 { return boolWord(a < w.simm()) })
	opTable[opANDI] = immOp(func(a uint32, w word) uint32 { return a & w.imm() })
	opTable[opORI] = immOp(func(a uint32, w word) uint32 { return a | w.imm() })
	opTable[opLUI] = immOp(func(_ uint32, w word) uint32 { return w.imm() << 16 })

	opTable[opLW] = load(4, false)
	opTable[opLB] = load(1, true)
	opTable[opLBU] = load(1, false)
	opTable[opSW] = store(4)
	opTable[opSB] = store(1)

	specialTable[fnSLL] = shiftOp(func(v, sa uint32) uint32 { return v << sa })
	specialTable[fnSRL] = shiftOp(func(v, sa uint32) uint32 { return v >> sa })
	specialTable[fnSRA] = shiftOp(func(v, sa uint32) uint32 { return uint32(int32(v) >> sa) })
	specialTable[fnJR] = func(s *execState, w word) (trap, *kernel.Error) {
		s.next = s.reg(w.rs())
		return trapNone, nil
	}
	specialTable[fnJALR] = func(s *execState, w word) (trap, *kernel.Error) {
		target := s.reg(w.rs())
		s.setReg(w.rd(), s.tf.EPC+4)
		s.next = target
		return trapNone, nil
	}
	specialTable[fnSYSCALL] = func(*execState, word) (trap, *kernel.Error) { return trapSyscall, nil }
	specialTable[fnBREAK] = func(*execState, word) (trap, *kernel.Error) { return trapBreak, nil }
	specialTable[fnADDU] = regOp(func(a, b uint32) uint32 { return a + b })
	specialTable[fnSUBU] = regOp(func(a, b uint32) uint32 { return a - b })
	specialTable[fnAND] = regOp(func(a, b uint32) uint32 { return a & b })
	specialTable[fnOR] = regOp(func(a, b uint32) uint32 { return a | b })
	specialTable[fnXOR] = regOp(func(a, b uint32) uint32 { return a ^ b })
	specialTable[fnSLT] = regOp(func(a, b uint32) uint32 { return boolWord(int32(a) < int32(b)) })
	specialTable[fnSLTU] = regOp(func(a, b uint32) uint32 { return boolWord(a < b) })
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func branchIf(cond func(a, b uint32) bool) instruction {
	return func(s *execState, w word) (trap, *kernel.Error) {
		if cond(s.reg(w.rs()), s.reg(w.rt())) {
			s.branch(w)
		}
		return trapNone, nil
	}
}

func immOp(fn func(a uint32, w word) uint32) instruction {
	return func(s *execState, w word) (trap, *kernel.Error) {
		s.setReg(w.rt(), fn(s.reg(w.rs()), w))
		return trapNone, nil
	}
}

func regOp(fn func(a, b uint32) uint32) instruction {
	return func(s *execState, w word) (trap, *kernel.Error) {
		s.setReg(w.rd(), fn(s.reg(w.rs()), s.reg(w.rt())))
		return trapNone, nil
	}
}

func shiftOp(fn func(v, sa uint32) uint32) instruction {
	return func(s *execState, w word) (trap, *kernel.Error) {
		s.setReg(w.rd(), fn(s.reg(w.rt()), w.shamt()))
		return trapNone, nil
	}
}

func load(size uint32, signed bool) instruction {
	return func(s *execState, w word) (trap, *kernel.Error) {
		vaddr := s.reg(w.rs()) + w.simm()
		if vaddr%size != 0 {
			s.tf.Vaddr, s.tf.Cause = vaddr, gate.ExcAddrL
			return trapUnaligned, nil
		}

		buf := make([]byte, size)
		if err := s.vm.CopyIn(uintptr(vaddr), buf); err != nil {
			s.tf.Vaddr, s.tf.Cause = vaddr, gate.ExcTLBL
			return trapNone, err
		}

		var v uint32
		switch {
		case size == 4:
			v = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		case signed:
			v = uint32(int32(int8(buf[0])))
		default:
			v = uint32(buf[0])
		}

		s.setReg(w.rt(), v)
		return trapNone, nil
	}
}

func store(size uint32) instruction {
	return func(s *execState, w word) (trap, *kernel.Error) {
		vaddr := s.reg(w.rs()) + w.simm()
		if vaddr%size != 0 {
			s.tf.Vaddr, s.tf.Cause = vaddr, gate.ExcAddrS
			return trapUnaligned, nil
		}

		v := s.reg(w.rt())
		buf := []byte{byte(v)}
		if size == 4 {
			buf = []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
		}

		if err := s.vm.CopyOut(buf, uintptr(vaddr)); err != nil {
			s.tf.Vaddr, s.tf.Cause = vaddr, gate.ExcTLBS
			return trapNone, err
		}
		return trapNone, nil
	}
}
