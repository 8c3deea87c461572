package vmm

import (
	"github.com/patrick-huynh/os161/kernel/mm"
)

// TLBFlag describes a flag stored in the EntryLo word of a TLB entry.
type TLBFlag uint32

const (
	// FlagGlobal makes the entry match regardless of the address space id.
	// The kernel never sets it but it is part of the hardware layout.
	FlagGlobal TLBFlag = 1 << 8

	// FlagValid is set when the entry holds a usable translation.
	FlagValid TLBFlag = 1 << 9

	// FlagDirty is set when writes through the entry are allowed. Writing
	// through an entry without this flag raises a read-only fault.
	FlagDirty TLBFlag = 1 << 10

	// FlagNoCache disables caching for the mapped frame.
	FlagNoCache TLBFlag = 1 << 11
)

const (
	// entryHiPageMask extracts the virtual page number from EntryHi.
	entryHiPageMask = uint32(0xfffff000)

	// entryLoFrameMask extracts the physical frame number from EntryLo.
	entryLoFrameMask = uint32(0xfffff000)

	// invalidPageBase is the first kseg0 page number used by invalid
	// entries. Every slot gets a distinct page so the hardware never sees
	// duplicate EntryHi values.
	invalidPageBase = uint32(0x80000)
)

// TLBEntry is a decoded hardware TLB entry. EntryHi bits 31..12 hold the
// virtual page number; EntryLo bits 31..12 hold the physical frame number
// and the low bits hold the entry flags.
type TLBEntry struct {
	hi, lo uint32
}

// NewTLBEntry returns an entry that maps page to frame with the supplied
// flags.
func NewTLBEntry(page mm.Page, frame mm.Frame, flags TLBFlag) TLBEntry {
	return TLBEntry{
		hi: uint32(page.Address()) & entryHiPageMask,
		lo: (uint32(frame.Address()) & entryLoFrameMask) | uint32(flags),
	}
}

// InvalidTLBEntry returns the entry written into slot when the TLB is
// flushed. Its EntryHi points into kseg0 so it never matches a user address.
func InvalidTLBEntry(slot int) TLBEntry {
	return TLBEntry{hi: (invalidPageBase + uint32(slot)) << mm.PageShift}
}

// DecodeTLBEntry builds an entry out of the raw EntryHi and EntryLo words.
func DecodeTLBEntry(hi, lo uint32) TLBEntry {
	return TLBEntry{hi: hi, lo: lo}
}

// Encode returns the raw EntryHi and EntryLo words for this entry.
func (e TLBEntry) Encode() (hi, lo uint32) {
	return e.hi, e.lo
}

// Page returns the virtual page mapped by this entry.
func (e TLBEntry) Page() mm.Page {
	return mm.Page((e.hi & entryHiPageMask) >> mm.PageShift)
}

// Frame returns the physical frame mapped by this entry.
func (e TLBEntry) Frame() mm.Frame {
	return mm.Frame((e.lo & entryLoFrameMask) >> mm.PageShift)
}

// HasFlags returns true if this entry has all the input flags set.
func (e TLBEntry) HasFlags(flags TLBFlag) bool {
	return e.lo&uint32(flags) == uint32(flags)
}

// SetFlags sets the input list of flags.
func (e *TLBEntry) SetFlags(flags TLBFlag) {
	e.lo |= uint32(flags)
}

// ClearFlags unsets the input list of flags.
func (e *TLBEntry) ClearFlags(flags TLBFlag) {
	e.lo &^= uint32(flags)
}
