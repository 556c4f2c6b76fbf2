package mmio

import (
	"encoding/binary"
	"fmt"
)

// ByteRegion is a Region backed by an in-memory byte slice, little-endian like
// the register files it stands in for. It is the substrate software device
// models build on.
type ByteRegion struct {
	b []byte
}

func NewByteRegion(size int) *ByteRegion {
	return &ByteRegion{b: make([]byte, size)}
}

func (r *ByteRegion) Read32(off uint32) uint32 {
	r.check(off)
	return binary.LittleEndian.Uint32(r.b[off:])
}

func (r *ByteRegion) Write32(off uint32, v uint32) {
	r.check(off)
	binary.LittleEndian.PutUint32(r.b[off:], v)
}

// Bytes exposes the backing storage. Device models use it to present register
// state wholesale; nothing in the driver path does.
func (r *ByteRegion) Bytes() []byte {
	return r.b
}

func (r *ByteRegion) check(off uint32) {
	if off%4 != 0 || int(off)+4 > len(r.b) {
		panic(fmt.Sprintf("mmio: bad 32-bit access at offset %#x (region size %#x)", off, len(r.b)))
	}
}
