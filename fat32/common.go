// Package fat32 implements a FAT32 filesystem directly on the stack's block
// interface: boot-sector and FSInfo parsing, FAT chain traversal and
// mutation, 8.3 directory manipulation, whole-file read/write/create/delete,
// and volume formatting.
//
// The package is deliberately single-volume and non-reentrant: a Volume owns
// one cluster-sized scratch buffer and, logically, every metadata sector on
// disk while a call is in progress.
package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/errors"
)

// SectorSize is fixed at 512. Volumes formatted with any other logical
// sector size are refused at mount.
const SectorSize = satafs.SectorSize

// FAT entry values. Only the low 28 bits of an entry carry meaning; the high
// four are reserved and preserved across updates.
const (
	FreeCluster = 0x00000000
	BadCluster  = 0x0FFFFFF7
	EOCMin      = 0x0FFFFFF8 // any masked value >= this terminates a chain
	EOCMark     = 0x0FFFFFFF // the terminator this driver writes
	entryMask   = 0x0FFFFFFF
)

// Directory entry attributes.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = 0x0F
)

// Directory entry geometry.
const (
	EntrySize      = 32
	entryFree      = 0x00 // never used; terminates a scan
	entryDeleted   = 0xE5
)

const bootSignature = 0xAA55

// rawBootSector is the on-disk layout of the first 90 bytes of sector 0, the
// common BPB followed by the FAT32 extension.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32

	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// Geometry is everything Mount derives from the boot sector, immutable for
// the life of the mount.
type Geometry struct {
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	SectorsPerFAT     uint32
	RootCluster       uint32
	FSInfoSector      uint32
	BackupBootSector  uint32
	TotalSectors      uint64
	DataStartSector   uint64
	TotalClusters     uint32
	BytesPerCluster   uint32
	VolumeLabel       string
}

// parseBootSector validates sector 0 and computes the volume geometry. The
// checks are strict: a missing 0xAA55, a sector size other than 512, or a
// zero sectors-per-cluster all refuse the mount.
func parseBootSector(sector []byte) (Geometry, error) {
	if len(sector) < SectorSize {
		return Geometry{}, errors.ErrInvalidArgument.WithMessage("boot sector shorter than 512 bytes")
	}
	if binary.LittleEndian.Uint16(sector[510:512]) != bootSignature {
		return Geometry{}, errors.ErrFileSystemCorrupted.WithMessage(
			"boot sector signature is not 0xAA55")
	}

	var raw rawBootSector
	if err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &raw); err != nil {
		return Geometry{}, errors.ErrIOFailed.WrapError(err)
	}

	if raw.BytesPerSector != SectorSize {
		return Geometry{}, errors.ErrInvalidFileSystem.WithMessage(fmt.Sprintf(
			"unsupported sector size %d", raw.BytesPerSector))
	}
	if raw.SectorsPerCluster == 0 {
		return Geometry{}, errors.ErrFileSystemCorrupted.WithMessage("sectors per cluster is zero")
	}

	sectorsPerFAT := uint32(raw.SectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = raw.SectorsPerFAT32
	}
	if sectorsPerFAT == 0 {
		return Geometry{}, errors.ErrFileSystemCorrupted.WithMessage("FAT size is zero")
	}

	totalSectors := uint64(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint64(raw.TotalSectors32)
	}
	if totalSectors == 0 {
		return Geometry{}, errors.ErrFileSystemCorrupted.WithMessage("total sector count is zero")
	}

	dataStart := uint64(raw.ReservedSectors) + uint64(raw.NumFATs)*uint64(sectorsPerFAT)
	if dataStart >= totalSectors {
		return Geometry{}, errors.ErrFileSystemCorrupted.WithMessage(
			"data region starts beyond the end of the volume")
	}

	dataSectors := totalSectors - dataStart
	totalClusters := uint32(dataSectors / uint64(raw.SectorsPerCluster))

	return Geometry{
		BytesPerSector:    uint32(raw.BytesPerSector),
		SectorsPerCluster: uint32(raw.SectorsPerCluster),
		ReservedSectors:   uint32(raw.ReservedSectors),
		NumFATs:           uint32(raw.NumFATs),
		SectorsPerFAT:     sectorsPerFAT,
		RootCluster:       raw.RootCluster,
		FSInfoSector:      uint32(raw.FSInfoSector),
		BackupBootSector:  uint32(raw.BackupBootSector),
		TotalSectors:      totalSectors,
		DataStartSector:   dataStart,
		TotalClusters:     totalClusters,
		BytesPerCluster:   uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster),
		VolumeLabel:       string(bytes.TrimRight(raw.VolumeLabel[:], " ")),
	}, nil
}

// ClusterToLBA maps a cluster number to its first sector. Defined only for
// n >= 2; cluster numbering starts there.
func (g Geometry) ClusterToLBA(n uint32) uint64 {
	return g.DataStartSector + uint64(n-2)*uint64(g.SectorsPerCluster)
}

// ValidCluster reports whether n can appear inside a chain.
func (g Geometry) ValidCluster(n uint32) bool {
	return n >= 2 && n < g.TotalClusters+2
}

// EntriesPerCluster gives the number of 32-byte directory entries a cluster
// holds.
func (g Geometry) EntriesPerCluster() int {
	return int(g.BytesPerCluster) / EntrySize
}
