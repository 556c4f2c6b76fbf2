// Package emu is a software model of the hardware this stack drives: a PCI
// bus carrying one AHCI function, and an HBA whose single port executes ATA
// DMA commands against an image. The model implements the same register
// semantics the driver programs against, parsing the command list, command
// table, and PRDT out of the DMA pool exactly as a bus master would.
//
// It exists for tests and tooling. Fault injection covers the failure modes
// the driver must surface: task-file errors with SERR payloads, a stuck-busy
// task file, and commands that never retire.
package emu

import (
	"encoding/binary"
	"io"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/dma"
	"github.com/baremetal-go/satafs/mmio"
)

// Register layout mirrored from the driver's map.
const (
	regGHC  = 0x04
	regCAP  = 0x00
	regPI   = 0x0C
	regVS   = 0x10
	portBase = 0x100
	portSize = 0x80

	portCLB  = portBase + 0x00
	portFB   = portBase + 0x08
	portIS   = portBase + 0x10
	portCMD  = portBase + 0x18
	portTFD  = portBase + 0x20
	portSIG  = portBase + 0x24
	portSSTS = portBase + 0x28
	portSERR = portBase + 0x30
	portCI   = portBase + 0x38
)

// Fault programs the next command to fail. TFD is the full task-file byte
// pair (status in bits 0-7, error in 8-15); SERR is latched into PORT_SERR.
type Fault struct {
	TFD  uint32
	SERR uint32
}

// HBA is the device model. It exposes the mmio.Region interface; writes with
// side effects (GHC.HR, PORT_CMD.ST/FRE, PORT_CI) are executed synchronously,
// which matches the driver's polling assumption.
type HBA struct {
	regs *mmio.ByteRegion
	pool *dma.Pool
	disk io.ReadWriteSeeker

	sectors uint64

	// Identity strings reported by IDENTIFY DEVICE.
	Model    string
	Serial   string
	Firmware string

	// NextFault fails the next issued command. StuckBusy holds BSY in the
	// task file so issues refuse to start. HangCommands accepts issues but
	// never retires them.
	NextFault    *Fault
	StuckBusy    bool
	HangCommands bool

	// CommandLog records every value written to PORT_CI, so tests can check
	// the single-slot invariant.
	CommandLog []uint32
}

// NewHBA builds a model over the given image. The DMA pool must be the same
// one the driver allocates from; the model resolves bus addresses through it.
func NewHBA(pool *dma.Pool, disk io.ReadWriteSeeker) (*HBA, error) {
	size, err := disk.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	h := &HBA{
		regs:     mmio.NewByteRegion(portBase + portSize),
		pool:     pool,
		disk:     disk,
		sectors:  uint64(size) / satafs.SectorSize,
		Model:    "SATAFS EMULATED DISK",
		Serial:   "EMU0000042",
		Firmware: "0.9",
	}

	h.set32(regCAP, 31<<8)       // 32 command slots, 32-bit addressing only
	h.set32(regVS, 0x00010301)   // AHCI 1.3.1
	h.set32(regPI, 1<<0)         // one implemented port
	h.set32(portSIG, 0x00000101) // SATA drive
	h.set32(portSSTS, 0x3|1<<8)  // DET established, IPM active
	h.set32(portTFD, 0x50)       // DRDY | DSC
	return h, nil
}

// SectorCount returns the image capacity in sectors.
func (h *HBA) SectorCount() uint64 {
	return h.sectors
}

func (h *HBA) get32(off uint32) uint32 {
	return h.regs.Read32(off)
}

func (h *HBA) set32(off uint32, v uint32) {
	h.regs.Write32(off, v)
}

// Read32 implements mmio.Region.
func (h *HBA) Read32(off uint32) uint32 {
	if off == portTFD && h.StuckBusy {
		return h.get32(portTFD) | 0x80
	}
	return h.get32(off)
}

// Write32 implements mmio.Region, applying register side effects.
func (h *HBA) Write32(off uint32, v uint32) {
	switch off {
	case regGHC:
		// HR self-clears instantly; AE latches.
		v &^= 1 << 0
		h.set32(off, v)

	case portIS, portSERR:
		// Write-one-to-clear.
		h.set32(off, h.get32(off)&^v)

	case portCMD:
		// Run bits follow the control bits on a quiescent model.
		const st, fre, fr, cr = 1 << 0, 1 << 4, 1 << 14, 1 << 15
		v &^= uint32(fr | cr)
		if v&st != 0 {
			v |= cr
		}
		if v&fre != 0 {
			v |= fr
		}
		h.set32(off, v)

	case portCI:
		h.CommandLog = append(h.CommandLog, v)
		h.set32(off, v)
		if v&1 != 0 && !h.HangCommands {
			h.execSlotZero()
		}

	default:
		h.set32(off, v)
	}
}

// execSlotZero walks the command structures the driver laid out and performs
// the transfer, then retires the slot.
func (h *HBA) execSlotZero() {
	if h.NextFault != nil {
		h.set32(portTFD, h.NextFault.TFD)
		h.set32(portSERR, h.NextFault.SERR)
		h.NextFault = nil
		// CI intentionally stays set: the driver must notice TFD first.
		return
	}

	fail := func() {
		h.set32(portTFD, 0x51) // ERR | DRDY, ABRT-style failure
		h.set32(portSERR, 0x00040000)
	}

	header, err := h.pool.Slice(uint64(h.get32(portCLB)), 32)
	if err != nil {
		fail()
		return
	}
	ctba := binary.LittleEndian.Uint32(header[8:12])
	table, err := h.pool.Slice(uint64(ctba), 0x80+16)
	if err != nil {
		fail()
		return
	}

	cfis := table[:20]
	command := cfis[2]
	lba := uint64(cfis[4]) | uint64(cfis[5])<<8 | uint64(cfis[6])<<16 |
		uint64(cfis[8])<<24 | uint64(cfis[9])<<32 | uint64(cfis[10])<<40
	count := uint32(cfis[12]) | uint32(cfis[13])<<8

	prdt := table[0x80 : 0x80+16]
	dba := binary.LittleEndian.Uint32(prdt[0:4])
	dbc := binary.LittleEndian.Uint32(prdt[12:16])&0x3FFFFF + 1

	data, err := h.pool.Slice(uint64(dba), int(dbc))
	if err != nil {
		fail()
		return
	}

	transferred, ok := h.execCommand(command, lba, count, data)
	if !ok {
		fail()
		return
	}

	binary.LittleEndian.PutUint32(header[4:8], transferred) // PRDBC
	h.set32(portTFD, 0x50)
	h.set32(portCI, h.get32(portCI)&^uint32(1))
}

func (h *HBA) execCommand(command byte, lba uint64, count uint32, data []byte) (uint32, bool) {
	switch command {
	case 0xEC: // IDENTIFY DEVICE
		ident := h.identifyBlock()
		copy(data, ident)
		return uint32(len(ident)), true

	case 0x25, 0xC8: // READ DMA (EXT)
		n := int64(count) * satafs.SectorSize
		if lba+uint64(count) > h.sectors {
			return 0, false
		}
		if _, err := h.disk.Seek(int64(lba)*satafs.SectorSize, io.SeekStart); err != nil {
			return 0, false
		}
		if _, err := io.ReadFull(h.disk, data[:n]); err != nil {
			return 0, false
		}
		return uint32(n), true

	case 0x35, 0xCA: // WRITE DMA (EXT)
		n := int64(count) * satafs.SectorSize
		if lba+uint64(count) > h.sectors {
			return 0, false
		}
		if _, err := h.disk.Seek(int64(lba)*satafs.SectorSize, io.SeekStart); err != nil {
			return 0, false
		}
		if _, err := h.disk.Write(data[:n]); err != nil {
			return 0, false
		}
		return uint32(n), true

	default:
		return 0, false
	}
}
