package emu

import (
	"encoding/binary"

	"github.com/baremetal-go/satafs"
)

// identifyBlock composes the 512-byte IDENTIFY DEVICE page for the emulated
// drive: strings byte-swapped within each word, LBA28 capacity clamped to
// 2^28-1, LBA48 advertised with the true capacity.
func (h *HBA) identifyBlock() []byte {
	raw := make([]byte, satafs.SectorSize)
	word := func(i int, v uint16) {
		binary.LittleEndian.PutUint16(raw[i*2:], v)
	}

	putString(raw, 10, 10, h.Serial)
	putString(raw, 23, 4, h.Firmware)
	putString(raw, 27, 20, h.Model)

	lba28 := h.sectors
	if lba28 >= 1<<28 {
		lba28 = 1<<28 - 1
	}
	word(60, uint16(lba28))
	word(61, uint16(lba28>>16))

	word(83, 1<<10|1<<14) // LBA48 supported; shall-be-set marker bit
	word(100, uint16(h.sectors))
	word(101, uint16(h.sectors>>16))
	word(102, uint16(h.sectors>>32))
	word(103, uint16(h.sectors>>48))

	return raw
}

// putString stores an ASCII field over n words, space-padded, bytes swapped
// within each word as the IDENTIFY format requires.
func putString(raw []byte, firstWord, n int, s string) {
	for i := 0; i < n*2; i++ {
		c := byte(' ')
		if i < len(s) {
			c = s[i]
		}
		// Swap: even string positions land in the high byte of the word.
		raw[firstWord*2+(i^1)] = c
	}
}
