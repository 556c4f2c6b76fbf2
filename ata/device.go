// Package ata composes ATA commands for an AHCI port and exposes the result
// as the stack's block-device contract. The addressing-mode split (LBA28
// versus LBA48) lives entirely here; layers above see only sectors.
package ata

import (
	"fmt"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/ahci"
	"github.com/baremetal-go/satafs/errors"
)

// ATA command opcodes used by this stack.
const (
	CmdIdentify    = 0xEC
	CmdReadDMA     = 0xC8
	CmdWriteDMA    = 0xCA
	CmdReadDMAExt  = 0x25
	CmdWriteDMAExt = 0x35
)

// AddressMode selects how LBAs are carried in the command FIS.
type AddressMode int

const (
	ModeLBA28 AddressMode = iota
	ModeLBA48
)

const lba28Limit = 1 << 28

func (m AddressMode) String() string {
	if m == ModeLBA48 {
		return "LBA48"
	}
	return "LBA28"
}

// Device is one identified SATA device behind an AHCI port. It satisfies
// satafs.BlockDevice; Identify must succeed before the block interface is
// used.
type Device struct {
	port *ahci.Port
	cfg  satafs.Config

	identity Identity
	mode     AddressMode
	sectors  uint64
}

var _ satafs.BlockDevice = (*Device)(nil)

func NewDevice(port *ahci.Port, cfg satafs.Config) *Device {
	return &Device{port: port, cfg: cfg}
}

// Identify sends IDENTIFY DEVICE and records the device's capacity and
// addressing mode.
func (d *Device) Identify() (Identity, error) {
	buf := make([]byte, satafs.SectorSize)
	req := ahci.Request{
		Command:     CmdIdentify,
		SectorCount: 1,
		Buffer:      buf,
		Direction:   ahci.DirRead,
		PollBudget:  d.cfg.IdentifyTimeoutBudget,
	}
	if err := d.port.Issue(&req); err != nil {
		return Identity{}, err
	}

	d.identity = ParseIdentity(buf)
	if d.identity.LBA48 {
		d.mode = ModeLBA48
		d.sectors = d.identity.Sectors48
	} else {
		d.mode = ModeLBA28
		d.sectors = uint64(d.identity.Sectors28)
	}
	return d.identity, nil
}

// Identity returns the most recent IDENTIFY result.
func (d *Device) Identity() Identity {
	return d.identity
}

// Mode returns the addressing mode chosen at identify time.
func (d *Device) Mode() AddressMode {
	return d.mode
}

// SectorCount returns the device capacity in sectors.
func (d *Device) SectorCount() uint64 {
	return d.sectors
}

// ReadSectors fills buf with count sectors starting at lba, chunking the
// transfer to the per-command limit.
func (d *Device) ReadSectors(lba uint64, count uint32, buf []byte) error {
	return d.transfer(lba, count, buf, ahci.DirRead)
}

// WriteSectors writes count sectors from buf starting at lba.
func (d *Device) WriteSectors(lba uint64, count uint32, buf []byte) error {
	return d.transfer(lba, count, buf, ahci.DirWrite)
}

func (d *Device) transfer(lba uint64, count uint32, buf []byte, dir ahci.Direction) error {
	if err := d.checkRange(lba, count, buf); err != nil {
		return err
	}

	command := d.command(dir)
	for count > 0 {
		chunk := count
		if chunk > d.cfg.MaxSectorsPerCommand {
			chunk = d.cfg.MaxSectorsPerCommand
		}
		byteCount := int(chunk) * satafs.SectorSize

		req := ahci.Request{
			Command:     command,
			LBA:         lba,
			SectorCount: uint16(chunk),
			Buffer:      buf[:byteCount],
			Direction:   dir,
			PollBudget:  d.cfg.ReadWriteTimeoutBudget,
		}
		if err := d.port.Issue(&req); err != nil {
			return err
		}

		lba += uint64(chunk)
		count -= chunk
		buf = buf[byteCount:]
	}
	return nil
}

func (d *Device) command(dir ahci.Direction) byte {
	if d.mode == ModeLBA48 {
		if dir == ahci.DirRead {
			return CmdReadDMAExt
		}
		return CmdWriteDMAExt
	}
	if dir == ahci.DirRead {
		return CmdReadDMA
	}
	return CmdWriteDMA
}

func (d *Device) checkRange(lba uint64, count uint32, buf []byte) error {
	if count == 0 {
		return errors.ErrInvalidArgument.WithMessage("sector count is zero")
	}
	if len(buf) < int(count)*satafs.SectorSize {
		return errors.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"buffer holds %d bytes, transfer needs %d",
			len(buf), int(count)*satafs.SectorSize))
	}
	if d.sectors != 0 && lba+uint64(count) > d.sectors {
		return errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"LBA range [%d, %d) beyond device end %d", lba, lba+uint64(count), d.sectors))
	}
	if d.mode == ModeLBA28 && lba+uint64(count) > lba28Limit {
		return errors.ErrArgumentOutOfRange.WithMessage(
			"LBA range needs 48-bit addressing the device does not advertise")
	}
	return nil
}
