package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)) for the
	// simulated 32-bit machine. User pointers are (1 << PointerShift) bytes.
	PointerShift = uintptr(2)

	// PointerSize is the size of a user pointer in bytes.
	PointerSize = uintptr(1 << PointerShift)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PageFrame masks out the offset bits of an address.
	PageFrame = ^(PageSize - 1) & 0xffffffff

	// UserStack is the top of the user stack. The stack grows downwards
	// from this address.
	UserStack = uintptr(0x80000000)

	// KSeg0 is the base of the direct-mapped kernel segment. Physical
	// address p is visible to the kernel at p + KSeg0.
	KSeg0 = uintptr(0x80000000)
)
