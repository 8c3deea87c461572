// Package cpu models the single MIPS-style core that the kernel runs on: the
// run lock that decides which thread is executing, the local interrupt mask
// and the software-managed TLB.
package cpu

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// NumTLB is the number of entries in the hardware TLB.
const NumTLB = 64

// ErrHalted is the panic value raised by Halt.
var ErrHalted = errors.New("cpu: system halted")

var (
	// randFn selects the victim slot for TLBRandom. It is mocked by tests.
	randFn func(*rand.Rand, int) int = (*rand.Rand).Intn
)

type tlbSlot struct {
	hi, lo uint32
}

// CPU describes a single core.
type CPU struct {
	// core is held by the thread whose instructions are currently
	// executing.
	core sync.Mutex

	// intr is held while local interrupts are disabled.
	intr sync.Mutex

	tlb [NumTLB]tlbSlot
	rnd *rand.Rand
}

// New returns a CPU with an empty TLB. A zero seed selects a time-based seed
// for the TLB replacement generator.
func New(seed int64) *CPU {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &CPU{rnd: rand.New(rand.NewSource(seed))}
}

// Acquire blocks until the calling thread owns the core.
func (c *CPU) Acquire() {
	c.core.Lock()
}

// Release relinquishes the core.
func (c *CPU) Release() {
	c.core.Unlock()
}

// DisableInterrupts masks local interrupts. It must not be called while
// interrupts are already disabled by the caller.
func (c *CPU) DisableInterrupts() {
	c.intr.Lock()
}

// EnableInterrupts unmasks local interrupts.
func (c *CPU) EnableInterrupts() {
	c.intr.Unlock()
}

// TLBRead returns the EntryHi/EntryLo words stored in the requested slot.
// Interrupts must be disabled.
func (c *CPU) TLBRead(slot int) (uint32, uint32) {
	return c.tlb[slot].hi, c.tlb[slot].lo
}

// TLBWrite stores an EntryHi/EntryLo pair into the requested slot. Interrupts
// must be disabled.
func (c *CPU) TLBWrite(hi, lo uint32, slot int) {
	c.tlb[slot] = tlbSlot{hi: hi, lo: lo}
}

// TLBRandom stores an EntryHi/EntryLo pair into a randomly selected slot and
// returns the slot index. Interrupts must be disabled.
func (c *CPU) TLBRandom(hi, lo uint32) int {
	slot := randFn(c.rnd, NumTLB)
	c.TLBWrite(hi, lo, slot)
	return slot
}

// TLBProbe returns the index of the slot whose EntryHi matches hi or -1 if
// no such slot exists. Interrupts must be disabled.
func (c *CPU) TLBProbe(hi uint32) int {
	for slot := 0; slot < NumTLB; slot++ {
		if c.tlb[slot].hi == hi {
			return slot
		}
	}

	return -1
}

// Halt stops instruction execution. It never returns.
func Halt() {
	panic(ErrHalted)
}
