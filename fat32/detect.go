package fat32

import (
	"bytes"
	"encoding/binary"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/errors"
)

// BootRecordKind classifies what sector 0 of a device holds.
type BootRecordKind int

const (
	BootRecordUnknown BootRecordKind = iota
	BootRecordMBR
	BootRecordFAT32
)

func (k BootRecordKind) String() string {
	switch k {
	case BootRecordMBR:
		return "MBR partition table"
	case BootRecordFAT32:
		return "FAT32 volume boot record"
	default:
		return "unknown boot sector"
	}
}

// MBR partition table layout.
const (
	mbrPartitionTableOff = 0x1BE
	mbrPartitionSize     = 16
	mbrPartitionCount    = 4
)

// PartitionEntry is one row of an MBR partition table.
type PartitionEntry struct {
	Bootable bool
	Type     uint8
	StartLBA uint32
	Sectors  uint32
}

// DetectBootRecord sniffs sector 0: a valid signature plus the "FAT32"
// type string marks a bare volume boot record; a valid signature with a
// plausible partition table marks an MBR. Read-only.
func DetectBootRecord(dev satafs.BlockDevice) (BootRecordKind, []PartitionEntry, error) {
	sector := make([]byte, SectorSize)
	if err := dev.ReadSectors(0, 1, sector); err != nil {
		return BootRecordUnknown, nil, errors.ErrIOFailed.WrapError(err)
	}

	if binary.LittleEndian.Uint16(sector[510:]) != bootSignature {
		return BootRecordUnknown, nil, nil
	}

	if bytes.Equal(sector[0x52:0x5A], []byte("FAT32   ")) {
		return BootRecordFAT32, nil, nil
	}

	var partitions []PartitionEntry
	for i := 0; i < mbrPartitionCount; i++ {
		raw := sector[mbrPartitionTableOff+i*mbrPartitionSize:]
		status := raw[0]
		ptype := raw[4]
		if ptype == 0 {
			continue
		}
		// Status must be 0x00 (inactive) or 0x80 (bootable) for the table
		// to be believable.
		if status != 0x00 && status != 0x80 {
			return BootRecordUnknown, nil, nil
		}
		partitions = append(partitions, PartitionEntry{
			Bootable: status == 0x80,
			Type:     ptype,
			StartLBA: binary.LittleEndian.Uint32(raw[8:]),
			Sectors:  binary.LittleEndian.Uint32(raw[12:]),
		})
	}

	if len(partitions) > 0 {
		return BootRecordMBR, partitions, nil
	}
	return BootRecordUnknown, nil, nil
}
