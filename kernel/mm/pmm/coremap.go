// Package pmm implements the physical frame allocator. All memory that is
// not occupied by the kernel image is tracked by a coremap: a table with one
// 32-bit entry per frame that lives inside the memory it manages.
//
// An entry value of 0 marks a free frame. An entry value k > 0 marks the k-th
// frame of an allocated run, so the base of every run has the value 1 and the
// run length can be recovered by following the 1, 2, 3, ... sequence.
package pmm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/mm"
	"github.com/patrick-huynh/os161/kernel/mm/ram"
	"github.com/patrick-huynh/os161/kernel/sync"
)

const entrySize = 4

var (
	// ErrOutOfMemory is returned when no run of free frames is large
	// enough to satisfy a request.
	ErrOutOfMemory = &kernel.Error{Module: "coremap", Message: "out of memory", Errno: kernel.ENOMEM}

	// ErrInvalidAllocSize is returned when a zero-length run is requested.
	ErrInvalidAllocSize = &kernel.Error{Module: "coremap", Message: "invalid allocation size", Errno: kernel.EINVAL}

	// ErrAlreadyBootstrapped is returned by Bootstrap when the coremap has
	// already claimed physical memory.
	ErrAlreadyBootstrapped = &kernel.Error{Module: "coremap", Message: "coremap already bootstrapped", Errno: kernel.EINVAL}

	// ErrNoManagedMemory is returned by Bootstrap when the memory left
	// after the kernel image cannot hold the table plus a single frame.
	ErrNoManagedMemory = &kernel.Error{Module: "coremap", Message: "not enough memory for the frame table", Errno: kernel.ENOMEM}

	errCorruptedTable = &kernel.Error{Module: "coremap", Message: "free of an address that is not the base of an allocated run"}
)

// Stats summarizes coremap usage.
type Stats struct {
	// Total is the number of frames available for allocation.
	Total uintptr

	// Used is the number of frames that belong to an allocated run.
	Used uintptr

	// Free is the number of unowned frames.
	Free uintptr

	// TablePages is the number of frames occupied by the coremap itself.
	TablePages uintptr
}

// Coremap is the kernel's physical frame allocator.
type Coremap struct {
	lock sync.Spinlock
	ram  *ram.RAM

	// table aliases the physical memory that holds the entries.
	table []byte

	// base is the physical address of the first managed frame and
	// nframes is the number of managed frames.
	base    uintptr
	nframes uintptr

	tablePages uintptr
}

// NewCoremap returns a coremap for the supplied memory. Until Bootstrap is
// called, allocations are served by stealing memory from r.
func NewCoremap(r *ram.RAM) *Coremap {
	return &Coremap{ram: r}
}

// Bootstrap claims all memory that has not been stolen so far, places the
// frame table at the bottom of it and marks every remaining frame as free.
func (c *Coremap) Bootstrap() *kernel.Error {
	c.lock.Acquire()
	if c.table != nil {
		c.lock.Release()
		return ErrAlreadyBootstrapped
	}

	lo, hi := c.ram.GetSize()
	lo = mm.PageAlignUp(lo)
	hi = mm.PageAlignDown(hi)

	var total uintptr
	if hi > lo {
		total = (hi - lo) >> mm.PageShift
	}

	tablePages := (total*entrySize + mm.PageSize - 1) >> mm.PageShift
	if total <= tablePages {
		c.lock.Release()
		return ErrNoManagedMemory
	}

	c.nframes = total - tablePages
	c.tablePages = tablePages
	c.base = lo + tablePages*mm.PageSize
	c.table = c.ram.Bytes(lo, c.nframes*entrySize)
	kernel.Memset(c.table, 0)
	c.lock.Release()

	log := kfmt.Log("coremap")
	log.Infof("managing %d frames [0x%08x - 0x%08x]", c.nframes, c.base, hi)
	log.Infof("frame table at 0x%08x, %d page(s)", lo, tablePages)
	return nil
}

func (c *Coremap) entry(index uintptr) uint32 {
	return binary.BigEndian.Uint32(c.table[index*entrySize:])
}

func (c *Coremap) setEntry(index uintptr, value uint32) {
	binary.BigEndian.PutUint32(c.table[index*entrySize:], value)
}

// Alloc reserves the lowest run of n contiguous free frames and returns the
// physical address of its first frame.
func (c *Coremap) Alloc(n uintptr) (uintptr, *kernel.Error) {
	if n == 0 {
		return 0, ErrInvalidAllocSize
	}

	c.lock.Acquire()
	if c.table == nil {
		c.lock.Release()
		if paddr := c.ram.StealMem(n); paddr != 0 {
			return paddr, nil
		}
		return 0, ErrOutOfMemory
	}

	var start, run uintptr
	for index := uintptr(0); index < c.nframes; index++ {
		if c.entry(index) != 0 {
			run = 0
			continue
		}

		if run == 0 {
			start = index
		}

		if run++; run == n {
			for k := uintptr(0); k < n; k++ {
				c.setEntry(start+k, uint32(k+1))
			}
			c.lock.Release()
			return c.base + start<<mm.PageShift, nil
		}
	}

	c.lock.Release()
	return 0, ErrOutOfMemory
}

// Free returns the run whose first frame is at paddr to the free pool. Only
// the frames of that run are touched. Memory stolen before the coremap was
// bootstrapped is not tracked and is silently leaked.
func (c *Coremap) Free(paddr uintptr) {
	c.lock.Acquire()
	if c.table == nil || paddr < c.base || paddr >= c.base+c.nframes<<mm.PageShift {
		c.lock.Release()
		kfmt.Log("coremap").Debugf("leaking untracked memory at 0x%08x", paddr)
		return
	}

	index := (paddr - c.base) >> mm.PageShift
	if paddr&(mm.PageSize-1) != 0 || c.entry(index) != 1 {
		c.lock.Release()
		kfmt.Panic(errCorruptedTable)
		return
	}

	for k := uint32(1); index < c.nframes && c.entry(index) == k; index, k = index+1, k+1 {
		c.setEntry(index, 0)
	}
	c.lock.Release()
}

// AllocKPages allocates npages contiguous pages for kernel use and returns
// their kseg0 address, or 0 if the allocation failed.
func (c *Coremap) AllocKPages(npages uintptr) uintptr {
	paddr, err := c.Alloc(npages)
	if err != nil {
		return 0
	}

	return mm.PAddrToKVAddr(paddr)
}

// FreeKPages releases pages obtained via AllocKPages.
func (c *Coremap) FreeKPages(kvaddr uintptr) {
	c.Free(mm.KVAddrToPAddr(kvaddr))
}

// RAM returns the physical memory managed by this coremap.
func (c *Coremap) RAM() *ram.RAM {
	return c.ram
}

// Stats returns a snapshot of the coremap usage.
func (c *Coremap) Stats() Stats {
	c.lock.Acquire()
	defer c.lock.Release()

	st := Stats{Total: c.nframes, TablePages: c.tablePages}
	for index := uintptr(0); index < c.nframes; index++ {
		if c.entry(index) != 0 {
			st.Used++
		}
	}
	st.Free = st.Total - st.Used
	return st
}

// Dump writes one line per allocated run and per free gap to w.
func (c *Coremap) Dump(w io.Writer) {
	type span struct {
		start, count uintptr
		used         bool
	}

	c.lock.Acquire()
	var spans []span
	for index := uintptr(0); index < c.nframes; index++ {
		value := c.entry(index)
		used := value != 0
		if len(spans) == 0 || value == 1 || spans[len(spans)-1].used != used {
			spans = append(spans, span{start: index, used: used})
		}
		spans[len(spans)-1].count++
	}
	base := c.base
	c.lock.Release()

	pw := &kfmt.PrefixWriter{Sink: w, Prefix: []byte("coremap: ")}
	for _, s := range spans {
		state := "free"
		if s.used {
			state = "used"
		}

		fmt.Fprintf(pw, "[0x%08x - 0x%08x] %4d frame(s) %s\n",
			base+s.start<<mm.PageShift,
			base+(s.start+s.count)<<mm.PageShift,
			s.count, state,
		)
	}
}
