package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Dir is the well-known directory for named queues.
const Dir = "/dev/shm"

// Control block layout. The offsets are a wire contract shared with the
// consumer process; changing them breaks every attached reader.
const (
	offCapacity = 0
	offHead     = 8
	offTail     = 16
	controlSize = 24
)

// Errors returned by the ring.
var (
	ErrWouldBlock     = errors.New("ring full")
	ErrFrameTooLarge  = errors.New("frame exceeds ring capacity")
	ErrLayoutMismatch = errors.New("ring layout mismatch")
)

// Ring is one endpoint of the queue. A process may act as the producer
// (Push) or the consumer (Pop), never both sides concurrently from more
// than one goroutine.
type Ring struct {
	mem      []byte
	buf      []byte // payload region, mem[controlSize:]
	capacity uint64
	head     *atomic.Uint64
	tail     *atomic.Uint64
	path     string
}

// Create creates (or resets) the named queue under Dir with the given
// payload capacity in bytes.
func Create(name string, capacity uint64) (*Ring, error) {
	return CreateFile(filepath.Join(Dir, name), capacity)
}

// Attach opens the named queue under Dir, validating its layout.
func Attach(name string) (*Ring, error) {
	return AttachFile(filepath.Join(Dir, name))
}

// Unlink removes the named queue's backing file. The ring is never removed
// implicitly on process exit.
func Unlink(name string) error {
	return os.Remove(filepath.Join(Dir, name))
}

// CreateFile creates or resets a queue at an explicit path.
func CreateFile(path string, capacity uint64) (*Ring, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: zero capacity", ErrLayoutMismatch)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	total := int64(controlSize + capacity)
	if err := f.Truncate(0); err != nil {
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	if err := f.Truncate(total); err != nil {
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}

	r, err := mapRing(f, path, int(total))
	if err != nil {
		return nil, err
	}

	binary.LittleEndian.PutUint64(r.mem[offCapacity:], capacity)
	r.capacity = capacity
	r.head.Store(0)
	r.tail.Store(0)
	return r, nil
}

// AttachFile opens an existing queue at an explicit path. Returns
// ErrLayoutMismatch when the recorded capacity does not match the
// file size.
func AttachFile(path string) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() < controlSize {
		return nil, fmt.Errorf("%w: file %s smaller than control block", ErrLayoutMismatch, path)
	}

	r, err := mapRing(f, path, int(info.Size()))
	if err != nil {
		return nil, err
	}

	capacity := binary.LittleEndian.Uint64(r.mem[offCapacity:])
	if capacity == 0 || int64(controlSize+capacity) != info.Size() {
		r.Close()
		return nil, fmt.Errorf("%w: capacity %d vs file size %d", ErrLayoutMismatch, capacity, info.Size())
	}
	r.capacity = capacity
	return r, nil
}

func mapRing(f *os.File, path string, size int) (*Ring, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &Ring{
		mem:  mem,
		buf:  mem[controlSize:],
		head: (*atomic.Uint64)(unsafe.Pointer(&mem[offHead])),
		tail: (*atomic.Uint64)(unsafe.Pointer(&mem[offTail])),
		path: path,
	}, nil
}

// Capacity returns the payload capacity in bytes.
func (r *Ring) Capacity() uint64 { return r.capacity }

// Path returns the backing file path.
func (r *Ring) Path() string { return r.path }

// Push frames payload with an unsigned varint length prefix and writes it
// into the ring. Returns ErrFrameTooLarge if the framed message can never
// fit, and ErrWouldBlock when there is currently not enough free space.
// The caller decides the policy on a full ring; Push never spins or blocks.
func (r *Ring) Push(payload []byte) error {
	var prefix [binary.MaxVarintLen64]byte
	pn := binary.PutUvarint(prefix[:], uint64(len(payload)))
	frameLen := uint64(pn) + uint64(len(payload))

	if frameLen > r.capacity {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, frameLen, r.capacity)
	}

	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail+frameLen > r.capacity {
		return ErrWouldBlock
	}

	r.copyIn(head, prefix[:pn])
	r.copyIn(head+uint64(pn), payload)

	// Publish: the store of head is what makes the payload bytes visible
	// to the consumer's acquire load.
	r.head.Store(head + frameLen)
	return nil
}

// Pop removes the next frame from the ring and returns its payload.
// Returns (nil, false) when the ring is empty or a frame is still being
// published.
func (r *Ring) Pop() ([]byte, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if head == tail {
		return nil, false
	}

	avail := head - tail
	var prefix [binary.MaxVarintLen64]byte
	pn := uint64(len(prefix))
	if avail < pn {
		pn = avail
	}
	r.copyOut(tail, prefix[:pn])

	size, n := binary.Uvarint(prefix[:pn])
	if n <= 0 || avail < uint64(n)+size {
		// Prefix or payload not fully published yet.
		return nil, false
	}

	payload := make([]byte, size)
	r.copyOut(tail+uint64(n), payload)

	r.tail.Store(tail + uint64(n) + size)
	return payload, true
}

// Close unmaps the ring. It does not remove the backing file.
func (r *Ring) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem, r.buf, r.head, r.tail = nil, nil, nil, nil
	return err
}

// copyIn writes b into the ring starting at logical index idx, wrapping at
// the capacity boundary.
func (r *Ring) copyIn(idx uint64, b []byte) {
	off := idx % r.capacity
	n := copy(r.buf[off:], b)
	if n < len(b) {
		copy(r.buf, b[n:])
	}
}

// copyOut reads len(b) bytes from logical index idx, wrapping at the
// capacity boundary.
func (r *Ring) copyOut(idx uint64, b []byte) {
	off := idx % r.capacity
	n := copy(b, r.buf[off:])
	if n < len(b) {
		copy(b[n:], r.buf)
	}
}
