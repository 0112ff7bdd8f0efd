package vmm

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrClosed      = errors.New("file already closed")
	ErrWriteDenied = errors.New("file is open for execution")
)

// File is what the VM needs from the filesystem. Every handle has its own
// lifetime; Reopen yields an independent handle on the same contents.
// The VM serializes all calls behind its filesystem lock.
type File interface {
	io.ReaderAt
	io.WriterAt
	Length() int64
	Reopen() (File, error)
	Close() error
}

// Inode holds the contents of an in-memory file shared by all its handles.
type Inode struct {
	mu        sync.Mutex
	name      string
	data      []byte
	denyWrite int
}

func NewInode(name string, data []byte) *Inode {
	return &Inode{name: name, data: append([]byte(nil), data...)}
}

func (in *Inode) Name() string { return in.name }

// Open returns a new handle on the inode.
func (in *Inode) Open() *MemFile {
	return &MemFile{inode: in}
}

// Bytes returns a copy of the current contents.
func (in *Inode) Bytes() []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]byte(nil), in.data...)
}

// MemFile is a handle on an Inode.
type MemFile struct {
	inode  *Inode
	denied bool
	closed bool
}

func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	in := f.inode
	in.mu.Lock()
	defer in.mu.Unlock()
	if off >= int64(len(in.data)) {
		return 0, io.EOF
	}
	n := copy(p, in.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at off, growing the file when needed.
func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	in := f.inode
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.denyWrite > 0 {
		return 0, ErrWriteDenied
	}
	if end := off + int64(len(p)); end > int64(len(in.data)) {
		in.data = append(in.data, make([]byte, end-int64(len(in.data)))...)
	}
	return copy(in.data[off:], p), nil
}

func (f *MemFile) Length() int64 {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	return int64(len(f.inode.data))
}

func (f *MemFile) Reopen() (File, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.inode.Open(), nil
}

// DenyWrite blocks writes through every handle until this handle calls
// AllowWrite or is closed.
func (f *MemFile) DenyWrite() {
	if f.denied {
		return
	}
	f.denied = true
	f.inode.mu.Lock()
	f.inode.denyWrite++
	f.inode.mu.Unlock()
}

func (f *MemFile) AllowWrite() {
	if !f.denied {
		return
	}
	f.denied = false
	f.inode.mu.Lock()
	f.inode.denyWrite--
	f.inode.mu.Unlock()
}

func (f *MemFile) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.AllowWrite()
	f.closed = true
	return nil
}

// OSFile adapts a host file.
type OSFile struct {
	*os.File
}

func OpenOSFile(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	return &OSFile{f}, nil
}

func (f *OSFile) Length() int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (f *OSFile) Reopen() (File, error) {
	nf, err := OpenOSFile(f.Name())
	if err != nil {
		return nil, err
	}
	return nf, nil
}
