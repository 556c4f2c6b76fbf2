package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/errors"
)

// Fixed format parameters. Root directory lives in cluster 2, FSInfo in
// sector 1, the backup boot sector in sector 6.
const (
	formatReservedSectors = 32
	formatNumFATs         = 2
	formatMediaDescriptor = 0xF8
	formatRootCluster     = 2
	formatFSInfoSector    = 1
	formatBackupBoot      = 6

	// formatVolumeID is fixed so formatting the same device twice produces
	// byte-identical metadata. There is no entropy source on the targets
	// this stack runs on anyway.
	formatVolumeID = 0x12345678
)

// Format lays down a fresh FAT32 filesystem across the whole device:
// boot sector (plus backup), FSInfo, both FATs with their reserved entries,
// and a root directory holding a single volume-label entry.
//
// Everything on the device is destroyed.
func Format(dev satafs.BlockDevice, label string, cfg satafs.Config, log *slog.Logger) error {
	return FormatWithClusterSize(dev, label, 0, cfg, log)
}

// FormatWithClusterSize is Format with an explicit sectors-per-cluster
// override; zero selects from the size ladder. The override must be a power
// of two no larger than 128.
func FormatWithClusterSize(dev satafs.BlockDevice, label string, sectorsPerCluster uint32, cfg satafs.Config, log *slog.Logger) error {
	totalSectors := dev.SectorCount()
	profile := chooseClusterProfile(totalSectors)
	spc := profile.SectorsPerCluster
	if sectorsPerCluster != 0 {
		if sectorsPerCluster > 128 || sectorsPerCluster&(sectorsPerCluster-1) != 0 {
			return errors.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sectors per cluster %d is not a power of two <= 128", sectorsPerCluster))
		}
		spc = sectorsPerCluster
		profile.Name = "override"
	}

	minSectors := uint64(formatReservedSectors) + 2 + uint64(spc)
	if totalSectors < minSectors {
		return errors.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"device of %d sectors is too small to format", totalSectors))
	}

	// The FAT sizing mirrors the layout arithmetic: approximate the cluster
	// count from the space left after the reserved region, then round the
	// entry table up to whole sectors. The approximation ignores the FAT's
	// own footprint and so over-allocates slightly, which is harmless.
	approxClusters := (totalSectors - formatReservedSectors) / uint64(spc)
	fatSize := uint32((approxClusters*4 + SectorSize - 1) / SectorSize)
	if fatSize == 0 {
		fatSize = 1
	}

	sector := make([]byte, SectorSize)
	composeBootSector(sector, totalSectors, spc, fatSize, label)

	if err := dev.WriteSectors(0, 1, sector); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	if err := dev.WriteSectors(formatBackupBoot, 1, sector); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}

	dataStart := uint64(formatReservedSectors) + formatNumFATs*uint64(fatSize)
	totalClusters := uint32((totalSectors - dataStart) / uint64(spc))

	composeFSInfo(sector, totalClusters-1, 3)
	if err := dev.WriteSectors(formatFSInfoSector, 1, sector); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}

	if err := writeInitialFATs(dev, cfg, fatSize); err != nil {
		return err
	}

	if err := writeRootDirectory(dev, dataStart, spc, label); err != nil {
		return err
	}

	if log != nil {
		log.Info("volume formatted",
			slog.Uint64("sectors", totalSectors),
			slog.Uint64("clusters", uint64(totalClusters)),
			slog.String("profile", profile.Name),
			slog.String("label", label))
	}
	return nil
}

// FormatAndMount formats the device and mounts the result.
func FormatAndMount(dev satafs.BlockDevice, label string, cfg satafs.Config, log *slog.Logger) (*Volume, error) {
	if err := Format(dev, label, cfg, log); err != nil {
		return nil, err
	}
	return Mount(dev, cfg, log)
}

// composeBootSector fills a 512-byte image with the BPB, the FAT32
// extension, and the 0xAA55 signature.
func composeBootSector(sector []byte, totalSectors uint64, spc, fatSize uint32, label string) {
	for i := range sector {
		sector[i] = 0
	}

	raw := rawBootSector{
		JmpBoot:           [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:    SectorSize,
		SectorsPerCluster: uint8(spc),
		ReservedSectors:   formatReservedSectors,
		NumFATs:           formatNumFATs,
		Media:             formatMediaDescriptor,
		SectorsPerTrack:   63,
		NumHeads:          255,
		SectorsPerFAT32:   fatSize,
		RootCluster:       formatRootCluster,
		FSInfoSector:      formatFSInfoSector,
		BackupBootSector:  formatBackupBoot,
		DriveNumber:       0x80,
		ExBootSignature:   0x29,
		VolumeID:          formatVolumeID,
	}
	copy(raw.OEMName[:], "SATAFS10")
	copy(raw.FileSystemType[:], "FAT32   ")

	if totalSectors > 0xFFFFFFFF {
		raw.TotalSectors32 = 0xFFFFFFFF
	} else {
		raw.TotalSectors32 = uint32(totalSectors)
	}

	copyLabel(raw.VolumeLabel[:], label)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &raw)
	copy(sector, buf.Bytes())

	binary.LittleEndian.PutUint16(sector[510:], bootSignature)
}

// copyLabel pads an 11-byte label field, dropping dots the way the original
// tooling did.
func copyLabel(field []byte, label string) {
	for i := range field {
		field[i] = ' '
	}
	i := 0
	for _, c := range []byte(label) {
		if i >= len(field) {
			break
		}
		if c == '.' {
			continue
		}
		field[i] = c
		i++
	}
}

// writeInitialFATs seeds sector 0 of each FAT copy with the reserved
// entries and zeroes the rest of the FAT area in chunks.
func writeInitialFATs(dev satafs.BlockDevice, cfg satafs.Config, fatSize uint32) error {
	sector := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(sector[0:], EOCMin|formatMediaDescriptor<<24)
	binary.LittleEndian.PutUint32(sector[4:], EOCMark)
	binary.LittleEndian.PutUint32(sector[formatRootCluster*4:], EOCMark)

	for fat := uint32(0); fat < formatNumFATs; fat++ {
		start := uint64(formatReservedSectors) + uint64(fat)*uint64(fatSize)
		if err := dev.WriteSectors(start, 1, sector); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
	}

	chunkSectors := cfg.FillChunkSize / SectorSize
	if chunkSectors == 0 {
		chunkSectors = 1
	}
	zeroes := make([]byte, int(chunkSectors)*SectorSize)

	for fat := uint32(0); fat < formatNumFATs; fat++ {
		start := uint64(formatReservedSectors) + uint64(fat)*uint64(fatSize)
		for s := uint32(1); s < fatSize; s += chunkSectors {
			n := chunkSectors
			if s+n > fatSize {
				n = fatSize - s
			}
			if err := dev.WriteSectors(start+uint64(s), n, zeroes[:int(n)*SectorSize]); err != nil {
				return errors.ErrIOFailed.WrapError(err)
			}
		}
	}
	return nil
}

// writeRootDirectory zeroes the root cluster and plants the volume-label
// entry at index 0.
func writeRootDirectory(dev satafs.BlockDevice, dataStart uint64, spc uint32, label string) error {
	cluster := make([]byte, int(spc)*SectorSize)

	entry := RawDirent{Attributes: AttrVolumeID}
	copyLabel(entry.Name[:], label) // the label spans the joined name field
	copyLabel(entry.Ext[:], labelTail(label))
	entry.stampNew()
	encodeDirent(cluster, 0, &entry)

	rootLBA := dataStart + uint64(formatRootCluster-2)*uint64(spc)
	if err := dev.WriteSectors(rootLBA, spc, cluster); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

// labelTail returns the part of a volume label that spills past the 8-byte
// name field into the extension field.
func labelTail(label string) string {
	clean := make([]byte, 0, len(label))
	for _, c := range []byte(label) {
		if c != '.' {
			clean = append(clean, c)
		}
	}
	if len(clean) <= 8 {
		return ""
	}
	return string(clean[8:])
}
