// Package ram models the machine's physical memory. Memory below the end of
// the kernel image is never handed out; everything above it can be taken one
// page-aligned chunk at a time with StealMem until the frame allocator claims
// the remainder with GetSize.
package ram

import (
	"sync"

	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/mm"
)

var (
	errAccessOutOfRange = &kernel.Error{Module: "ram", Message: "physical access outside of installed memory", Errno: kernel.EFAULT}
)

// RAM is the installed physical memory.
type RAM struct {
	mu  sync.Mutex
	mem []byte

	// [firstFree, lastAddr) is the range that has not been claimed yet.
	firstFree, lastAddr uintptr
}

// New returns a RAM instance with size bytes of installed memory. The bytes
// in [0, kernelEnd) are reserved for the kernel image.
func New(size mm.Size, kernelEnd uintptr) *RAM {
	lastAddr := mm.PageAlignDown(uintptr(size))
	firstFree := mm.PageAlignUp(kernelEnd)
	if firstFree > lastAddr {
		firstFree = lastAddr
	}

	return &RAM{
		mem:       make([]byte, lastAddr),
		firstFree: firstFree,
		lastAddr:  lastAddr,
	}
}

// Size returns the amount of installed memory in bytes.
func (r *RAM) Size() uintptr {
	return uintptr(len(r.mem))
}

// StealMem permanently reserves npages contiguous pages and returns the
// physical address of the first one. It returns 0 if not enough memory is
// left or if GetSize has already been called.
func (r *RAM) StealMem(npages uintptr) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := npages * mm.PageSize
	if npages == 0 || r.firstFree+size > r.lastAddr {
		return 0
	}

	paddr := r.firstFree
	r.firstFree += size
	return paddr
}

// GetSize returns the range of physical memory that has not been stolen yet
// and hands ownership of it to the caller. Subsequent calls to StealMem and
// GetSize report no available memory.
func (r *RAM) GetSize() (lo, hi uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lo, hi = r.firstFree, r.lastAddr
	r.firstFree, r.lastAddr = 0, 0
	return lo, hi
}

// Bytes returns a slice that aliases the n bytes of physical memory starting
// at paddr. Accessing memory that is not installed is a fatal error.
func (r *RAM) Bytes(paddr, n uintptr) []byte {
	if paddr+n < paddr || paddr+n > uintptr(len(r.mem)) {
		kfmt.Panic(errAccessOutOfRange)
		return nil
	}

	return r.mem[paddr : paddr+n : paddr+n]
}

// Zero clears npages pages of physical memory starting at paddr.
func (r *RAM) Zero(paddr, npages uintptr) {
	if buf := r.Bytes(paddr, npages*mm.PageSize); buf != nil {
		kernel.Memset(buf, 0)
	}
}

// Copy copies npages pages of physical memory from src to dst.
func (r *RAM) Copy(dst, src, npages uintptr) {
	size := npages * mm.PageSize
	srcBuf, dstBuf := r.Bytes(src, size), r.Bytes(dst, size)
	if srcBuf == nil || dstBuf == nil {
		return
	}

	kernel.Memcopy(srcBuf, dstBuf)
}
