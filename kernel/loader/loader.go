// Package loader stores executable images and loads them into address
// spaces.
package loader

import (
	"sort"
	"sync"

	"github.com/patrick-huynh/os161/kernel"
	"github.com/patrick-huynh/os161/kernel/kfmt"
	"github.com/patrick-huynh/os161/kernel/mm/vmm"
	"github.com/pkg/errors"
)

// MaxSegments is the maximum number of loadable segments in an image.
const MaxSegments = 2

var (
	// ErrNotFound is returned when opening a path that has no image.
	ErrNotFound = &kernel.Error{Module: "loader", Message: "no such file or directory", Errno: kernel.ENOENT}

	// ErrBadImage is returned for images that cannot be loaded.
	ErrBadImage = &kernel.Error{Module: "loader", Message: "exec format error", Errno: kernel.ENOEXEC}
)

// Segment describes a loadable part of an image. MemSize may exceed the
// size of Data; the remainder is zero-filled.
type Segment struct {
	Vaddr   uintptr
	Data    []byte
	MemSize uintptr
	Perm    vmm.Perm
}

// Image is an executable program. The first segment is loaded as the code
// region.
type Image struct {
	Entry    uintptr
	Segments []Segment
}

// validate checks the image headers.
func (img *Image) validate() error {
	if len(img.Segments) == 0 {
		return errors.Wrap(ErrBadImage, "image has no segments")
	}

	if len(img.Segments) > MaxSegments {
		return errors.Wrapf(ErrBadImage, "image has %d segments", len(img.Segments))
	}

	for i, seg := range img.Segments {
		if seg.MemSize < uintptr(len(seg.Data)) {
			return errors.Wrapf(ErrBadImage, "segment %d: memory size %d is smaller than its data (%d bytes)", i, seg.MemSize, len(seg.Data))
		}
	}

	code := img.Segments[0]
	if img.Entry < code.Vaddr || img.Entry >= code.Vaddr+code.MemSize {
		return errors.Wrapf(ErrBadImage, "entry point 0x%x outside of the code segment", img.Entry)
	}

	return nil
}

// FileSystem looks up executables by path.
type FileSystem interface {
	Open(path string) (*Image, error)
}

// MemFS is a FileSystem that keeps images in memory.
type MemFS struct {
	mu     sync.RWMutex
	images map[string]*Image
}

// NewMemFS returns an empty MemFS.
func NewMemFS() *MemFS {
	return &MemFS{images: make(map[string]*Image)}
}

// Install registers img under path, replacing any existing image.
func (fs *MemFS) Install(path string, img *Image) {
	fs.mu.Lock()
	fs.images[path] = img
	fs.mu.Unlock()
}

// Open implements FileSystem.
func (fs *MemFS) Open(path string) (*Image, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	img, ok := fs.images[path]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "open %q", path)
	}

	return img, nil
}

// Paths returns the installed paths in sorted order.
func (fs *MemFS) Paths() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	paths := make([]string, 0, len(fs.images))
	for path := range fs.images {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Load defines a region for every segment of img in as, allocates its
// frames and copies the segment data. It returns the entry point. On
// failure as may hold frames and must be destroyed by the caller.
func Load(img *Image, as *vmm.AddressSpace) (uintptr, error) {
	if err := img.validate(); err != nil {
		return 0, err
	}

	for i, seg := range img.Segments {
		if err := as.DefineRegion(seg.Vaddr, seg.MemSize, seg.Perm); err != nil {
			return 0, errors.Wrapf(err, "segment %d", i)
		}
	}

	if err := as.PrepareLoad(); err != nil {
		return 0, errors.Wrap(err, "prepare load")
	}

	for i, seg := range img.Segments {
		if err := as.WriteAt(seg.Vaddr, seg.Data); err != nil {
			return 0, errors.Wrapf(err, "segment %d", i)
		}
	}

	if err := as.CompleteLoad(); err != nil {
		return 0, errors.Wrap(err, "complete load")
	}

	kfmt.Log("loader").Debugf("loaded %d segment(s), entry 0x%08x", len(img.Segments), img.Entry)
	return img.Entry, nil
}
