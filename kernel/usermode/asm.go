package usermode

import (
	"encoding/binary"

	"github.com/patrick-huynh/os161/kernel/gate"
	"github.com/patrick-huynh/os161/kernel/loader"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/pkg/errors"
)

// Default load addresses of assembled programs.
const (
	CodeBase = 0x00400000
	DataBase = 0x10000000
)

type fixupKind uint8

const (
	fixBranch fixupKind = iota
	fixJump
	fixAddr
)

type fixup struct {
	kind  fixupKind
	index int
	label string
}

// Asm assembles programs for the user mode machine. Instructions are
// appended to the code section in order; labels may be referenced before
// they are defined. Errors are sticky and reported by Image.
type Asm struct {
	code []uint32
	data []byte

	labels map[string]uint32
	fixups []fixup
	err    error
}

// NewAsm returns an empty assembler.
func NewAsm() *Asm {
	return &Asm{labels: make(map[string]uint32)}
}

func (a *Asm) pc() uint32 {
	return CodeBase + uint32(len(a.code))*4
}

func (a *Asm) define(name string, addr uint32) {
	if _, exists := a.labels[name]; exists {
		a.fail(errors.Errorf("label %q defined twice", name))
		return
	}
	a.labels[name] = addr
}

func (a *Asm) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *Asm) emit(insn uint32) *Asm {
	a.code = append(a.code, insn)
	return a
}

func (a *Asm) emitRef(kind fixupKind, insn uint32, label string) *Asm {
	a.fixups = append(a.fixups, fixup{kind: kind, index: len(a.code), label: label})
	return a.emit(insn)
}

func rType(rs, rt, rd int, shamt, funct uint32) uint32 {
	return uint32(rs&0x1f)<<21 | uint32(rt&0x1f)<<16 | uint32(rd&0x1f)<<11 | (shamt&0x1f)<<6 | funct
}

func iType(op uint32, rs, rt int, imm uint16) uint32 {
	return op<<26 | uint32(rs&0x1f)<<21 | uint32(rt&0x1f)<<16 | uint32(imm)
}

// Label binds name to the address of the next instruction.
func (a *Asm) Label(name string) *Asm {
	a.define(name, a.pc())
	return a
}

// Nop emits sll $zero, $zero, 0.
func (a *Asm) Nop() *Asm { return a.emit(0) }

// Register arithmetic, logic and shifts.
func (a *Asm) Addu(rd, rs, rt int) *Asm { return a.emit(rType(rs, rt, rd, 0, fnADDU)) }
func (a *Asm) Subu(rd, rs, rt int) *Asm { return a.emit(rType(rs, rt, rd, 0, fnSUBU)) }
func (a *Asm) And(rd, rs, rt int) *Asm { return a.emit(rType(rs, rt, rd, 0, fnAND)) }
func (a *Asm) Or(rd, rs, rt int) *Asm { return a.emit(rType(rs, rt, rd, 0, fnOR)) }
func (a *Asm) Xor(rd, rs, rt int) *Asm { return a.emit(rType(rs, rt, rd, 0, fnXOR)) }
func (a *Asm) Slt(rd, rs, rt int) *Asm { return a.emit(rType(rs, rt, rd, 0, fnSLT)) }
func (a *Asm) Sltu(rd, rs, rt int) *Asm { return a.emit(rType(rs, rt, rd, 0, fnSLTU)) }

func (a *Asm) Sll(rd, rt int, sa uint32) *Asm { return a.emit(rType(0, rt, rd, sa, fnSLL)) }
func (a *Asm) Srl(rd, rt int, sa uint32) *Asm { return a.emit(rType(0, rt, rd, sa, fnSRL)) }
func (a *Asm) Sra(rd, rt int, sa uint32) *Asm { return a.emit(rType(0, rt, rd, sa, fnSRA)) }

func (a *Asm) Jr(rs int) *Asm { return a.emit(rType(rs, 0, 0, 0, fnJR)) }
func (a *Asm) Jalr(rd, rs int) *Asm { return a.emit(rType(rs, 0, rd, 0, fnJALR)) }
func (a *Asm) Syscall() *Asm { return a.emit(fnSYSCALL) }
func (a *Asm) Break() *Asm { return a.emit(fnBREAK) }
func (a *Asm) Move(rd, rs int) *Asm { return a.Addu(rd, rs, 0) }
func (a *Asm) Lui(rt int, imm uint16) *Asm { return a.emit(iType(opLUI, 0, rt, imm)) }

// Immediate arithmetic and logic. Addiu, Slti and Sltiu sign-extend imm.
func (a *Asm) Addiu(rt, rs int, imm int16) *Asm { return a.emit(iType(opADDIU, rs, rt, uint16(imm))) }
func (a *Asm) Slti(rt, rs int, imm int16) *Asm { return a.emit(iType(opSLTI, rs, rt, uint16(imm))) }
func (a *Asm) Sltiu(rt, rs int, imm int16) *Asm { return a.emit(iType(opSLTIU, rs, rt, uint16(imm))) }
func (a *Asm) Andi(rt, rs int, imm uint16) *Asm { return a.emit(iType(opANDI, rs, rt, imm)) }
func (a *Asm) Ori(rt, rs int, imm uint16) *Asm { return a.emit(iType(opORI, rs, rt, imm)) }

// Loads and stores address memory as off(base).
func (a *Asm) Lw(rt int, off int16, base int) *Asm { return a.emit(iType(opLW, base, rt, uint16(off))) }
func (a *Asm) Lb(rt int, off int16, base int) *Asm { return a.emit(iType(opLB, base, rt, uint16(off))) }
func (a *Asm) Lbu(rt int, off int16, base int) *Asm { return a.emit(iType(opLBU, base, rt, uint16(off))) }
func (a *Asm) Sw(rt int, off int16, base int) *Asm { return a.emit(iType(opSW, base, rt, uint16(off))) }
func (a *Asm) Sb(rt int, off int16, base int) *Asm { return a.emit(iType(opSB, base, rt, uint16(off))) }

// Conditional branches are pc-relative and resolve label at assembly time.
func (a *Asm) Beq(rs, rt int, label string) *Asm {
	return a.emitRef(fixBranch, iType(opBEQ, rs, rt, 0), label)
}

func (a *Asm) Bne(rs, rt int, label string) *Asm {
	return a.emitRef(fixBranch, iType(opBNE, rs, rt, 0), label)
}

func (a *Asm) Blez(rs int, label string) *Asm {
	return a.emitRef(fixBranch, iType(opBLEZ, rs, 0, 0), label)
}

func (a *Asm) Bgtz(rs int, label string) *Asm {
	return a.emitRef(fixBranch, iType(opBGTZ, rs, 0, 0), label)
}

// B is an unconditional pc-relative branch.
func (a *Asm) B(label string) *Asm { return a.Beq(0, 0, label) }

func (a *Asm) J(label string) *Asm { return a.emitRef(fixJump, opJ<<26, label) }
func (a *Asm) Jal(label string) *Asm { return a.emitRef(fixJump, opJAL<<26, label) }

// Li loads a 32-bit constant. It always expands to lui and ori.
func (a *Asm) Li(rt int, v uint32) *Asm {
	return a.Lui(rt, uint16(v>>16)).Ori(rt, rt, uint16(v))
}

// La loads the address of a code or data label. It always expands to lui and
// ori.
func (a *Asm) La(rt int, label string) *Asm {
	a.emitRef(fixAddr, iType(opLUI, 0, rt, 0), label)
	return a.Ori(rt, rt, 0)
}

// Sys loads the system call number into v0 and traps.
func (a *Asm) Sys(num uint32) *Asm {
	return a.Addiu(gate.RegV0, gate.RegZero, int16(num)).Syscall()
}

func (a *Asm) dataLabel(name string) {
	a.define(name, DataBase+uint32(len(a.data)))
}

func (a *Asm) alignData() {
	for len(a.data)%4 != 0 {
		a.data = append(a.data, 0)
	}
}

// Asciz adds a NUL-terminated string to the data section.
func (a *Asm) Asciz(name, s string) *Asm {
	a.dataLabel(name)
	a.data = append(append(a.data, s...), 0)
	a.alignData()
	return a
}

// Word adds a word to the data section. Each value may be a uint32 or the
// name of a label whose address is stored.
func (a *Asm) Word(name string, values ...interface{}) *Asm {
	a.alignData()
	a.dataLabel(name)
	for _, v := range values {
		var buf [4]byte
		switch v := v.(type) {
		case uint32:
			binary.BigEndian.PutUint32(buf[:], v)
		case int:
			binary.BigEndian.PutUint32(buf[:], uint32(v))
		case string:
			a.fixups = append(a.fixups, fixup{kind: fixAddr, index: -1 - len(a.data), label: v})
		default:
			a.fail(errors.Errorf("word %q: unsupported value type %T", name, v))
		}
		a.data = append(a.data, buf[:]...)
	}
	return a
}

// Space reserves n zeroed bytes in the data section.
func (a *Asm) Space(name string, n int) *Asm {
	a.alignData()
	a.dataLabel(name)
	a.data = append(a.data, make([]byte, n)...)
	return a
}

// resolve patches label references into copies of the code and data
// sections.
func (a *Asm) resolve() ([]uint32, []byte, error) {
	code := append([]uint32(nil), a.code...)
	data := append([]byte(nil), a.data...)

	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, nil, errors.Errorf("undefined label %q", f.label)
		}

		// Fixups with a negative index patch a data word.
		if f.index < 0 {
			binary.BigEndian.PutUint32(data[-1-f.index:], target)
			continue
		}

		pc := CodeBase + uint32(f.index)*4
		switch f.kind {
		case fixBranch:
			off := int64(target) - int64(pc+4)
			if off%4 != 0 || off/4 < -0x8000 || off/4 > 0x7fff {
				return nil, nil, errors.Errorf("branch at 0x%x: label %q out of range", pc, f.label)
			}
			code[f.index] |= uint32(uint16(off / 4))
		case fixJump:
			if (pc+4)&0xf0000000 != target&0xf0000000 {
				return nil, nil, errors.Errorf("jump at 0x%x: label %q outside of the current 256M region", pc, f.label)
			}
			code[f.index] |= (target >> 2) & 0x3ffffff
		case fixAddr:
			code[f.index] |= target >> 16
			code[f.index+1] |= target & 0xffff
		}
	}

	return code, data, nil
}

// Image resolves label references and returns the program as a loadable
// image that starts executing at the entry label.
func (a *Asm) Image(entry string) (*loader.Image, error) {
	if a.err != nil {
		return nil, a.err
	}

	if len(a.code) == 0 {
		return nil, errors.New("program has no instructions")
	}

	code, data, err := a.resolve()
	if err != nil {
		return nil, err
	}

	start, ok := a.labels[entry]
	if !ok {
		return nil, errors.Errorf("undefined entry label %q", entry)
	}

	text := make([]byte, len(code)*4)
	for i, insn := range code {
		binary.BigEndian.PutUint32(text[i*4:], insn)
	}

	img := &loader.Image{
		Entry: uintptr(start),
		Segments: []loader.Segment{
			{Vaddr: CodeBase, Data: text, MemSize: uintptr(len(text)), Perm: vmm.PermRead | vmm.PermExec},
		},
	}

	if len(data) != 0 {
		img.Segments = append(img.Segments, loader.Segment{
			Vaddr:   DataBase,
			Data:    data,
			MemSize: uintptr(len(data)),
			Perm:    vmm.PermRead | vmm.PermWrite,
		})
	}

	return img, nil
}
