// Package dma hands out aligned, non-overlapping buffers from a fixed memory
// window that a bus master is allowed to address. On hardware the window is a
// reserved physical region below 4 GiB (the HBA is driven with 32-bit
// addressing only); in tests it is an ordinary allocation whose "bus
// addresses" are offsets the device model resolves back through the pool.
package dma

import (
	"fmt"

	"github.com/baremetal-go/satafs/errors"
)

// Buffer is an owned region inside a Pool. Addr is the bus address of the
// first byte of Bytes. Release returns the region to the pool; the slice must
// not be used afterwards.
type Buffer struct {
	Addr  uint64
	Bytes []byte

	pool *Pool
	off  int
}

// Pool allocates from a single backing window. It is not safe for concurrent
// use; the storage stack is single-threaded by design.
type Pool struct {
	base    uint64
	backing []byte
	next    int
	free    []span
}

type span struct {
	off, size int
}

// NewPool wraps a backing window whose first byte sits at bus address base.
func NewPool(base uint64, backing []byte) *Pool {
	return &Pool{base: base, backing: backing}
}

// Alloc returns a zeroed buffer of the given size whose bus address is a
// multiple of align. align must be a power of two.
func (p *Pool) Alloc(size, align int) (*Buffer, error) {
	if size <= 0 || align <= 0 || align&(align-1) != 0 {
		return nil, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("size %d, align %d", size, align))
	}

	// Reuse a released span when one fits at the required alignment.
	for i, s := range p.free {
		if s.size >= size && p.aligned(s.off, align) {
			p.free = append(p.free[:i], p.free[i+1:]...)
			if s.size > size {
				p.free = append(p.free, span{off: s.off + size, size: s.size - size})
			}
			return p.claim(s.off, size), nil
		}
	}

	off := p.next
	if pad := p.padding(off, align); pad > 0 {
		off += pad
	}
	if off+size > len(p.backing) {
		return nil, errors.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf("DMA pool exhausted: need %d bytes, %d left", size, len(p.backing)-p.next))
	}
	p.next = off + size
	return p.claim(off, size), nil
}

func (p *Pool) claim(off, size int) *Buffer {
	b := p.backing[off : off+size : off+size]
	for i := range b {
		b[i] = 0
	}
	return &Buffer{
		Addr:  p.base + uint64(off),
		Bytes: b,
		pool:  p,
		off:   off,
	}
}

func (p *Pool) aligned(off, align int) bool {
	return p.padding(off, align) == 0
}

func (p *Pool) padding(off, align int) int {
	addr := p.base + uint64(off)
	rem := int(addr & uint64(align-1))
	if rem == 0 {
		return 0
	}
	return align - rem
}

// Slice resolves a bus-address range back to backing memory. Device models
// use this to act on command tables and data buffers the driver described by
// address; it fails for ranges outside the window.
func (p *Pool) Slice(addr uint64, size int) ([]byte, error) {
	if addr < p.base || size < 0 {
		return nil, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("bus address %#x outside pool", addr))
	}
	off := int(addr - p.base)
	if off+size > len(p.backing) {
		return nil, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("range %#x+%d runs past pool end", addr, size))
	}
	return p.backing[off : off+size], nil
}

// Release returns the buffer's region to the pool.
func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	b.pool.free = append(b.pool.free, span{off: b.off, size: len(b.Bytes)})
	b.pool = nil
	b.Bytes = nil
}
