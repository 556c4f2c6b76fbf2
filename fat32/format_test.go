package fat32_test

import (
	"testing"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/emu"
	"github.com/baremetal-go/satafs/fat32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotSector(t *testing.T, dev *emu.ImageDevice, lba uint64) []byte {
	t.Helper()
	buf := make([]byte, 512)
	require.NoError(t, dev.ReadSectors(lba, 1, buf))
	return buf
}

// Property 8: formatting twice with the same label and size produces
// byte-identical metadata.
func TestFormatIsIdempotent(t *testing.T) {
	dev := newImage(t, 64)
	cfg := satafs.DefaultConfig()

	require.NoError(t, fat32.Format(dev, "TESTVOL", cfg, nil))
	vol, err := fat32.Mount(dev, cfg, nil)
	require.NoError(t, err)
	fatStart := uint64(vol.Geometry().ReservedSectors)

	boot1 := snapshotSector(t, dev, 0)
	info1 := snapshotSector(t, dev, 1)
	fat1 := snapshotSector(t, dev, fatStart)

	require.NoError(t, fat32.Format(dev, "TESTVOL", cfg, nil))

	assert.Equal(t, boot1, snapshotSector(t, dev, 0), "boot sector differs")
	assert.Equal(t, info1, snapshotSector(t, dev, 1), "FSInfo differs")
	assert.Equal(t, fat1, snapshotSector(t, dev, fatStart), "first FAT sector differs")
}

func TestFormatWritesBackupBootSector(t *testing.T) {
	dev := newImage(t, 64)
	require.NoError(t, fat32.Format(dev, "BACKUP", satafs.DefaultConfig(), nil))

	assert.Equal(t, snapshotSector(t, dev, 0), snapshotSector(t, dev, 6))
}

func TestFormatGeometry(t *testing.T) {
	dev := newImage(t, 64)
	vol, err := fat32.FormatAndMount(dev, "GEO", satafs.DefaultConfig(), nil)
	require.NoError(t, err)

	geo := vol.Geometry()
	assert.Equal(t, uint32(512), geo.BytesPerSector)
	assert.Equal(t, uint32(32), geo.ReservedSectors)
	assert.Equal(t, uint32(2), geo.NumFATs)
	assert.Equal(t, uint32(2), geo.RootCluster)
	assert.Equal(t, uint32(1), geo.FSInfoSector)
	assert.Equal(t, uint32(6), geo.BackupBootSector)
	assert.Equal(t, "GEO", geo.VolumeLabel)
	assert.Positive(t, geo.TotalClusters)

	// Reserved FAT entries: media entry, reserved EOC, root cluster EOC.
	raw, err := vol.FATEntry(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(fat32.EOCMark), raw&0x0FFFFFFF)
}

func TestFormatFreeCountHint(t *testing.T) {
	dev := newImage(t, 64)
	vol, err := fat32.FormatAndMount(dev, "HINT", satafs.DefaultConfig(), nil)
	require.NoError(t, err)

	hint, ok := vol.FreeClusterHint()
	require.True(t, ok)
	counted, err := vol.CountFreeClusters()
	require.NoError(t, err)
	assert.Equal(t, counted, hint, "FSInfo free count should start accurate")
}

func TestClusterSizeLadder(t *testing.T) {
	// A 64 MiB image lands on the smallest rung.
	dev := newImage(t, 64)
	vol, err := fat32.FormatAndMount(dev, "SMALL", satafs.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), vol.Geometry().SectorsPerCluster)

	// 600 MiB crosses the 512 MiB threshold. A sparse device keeps the
	// test's footprint small.
	sparse := newSparseDevice(600 << 11) // sectors
	vol, err = fat32.FormatAndMount(sparse, "MID", satafs.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), vol.Geometry().SectorsPerCluster)
}

// sparseDevice is an in-memory block device that only materializes sectors
// that have been written.
type sparseDevice struct {
	sectors uint64
	data    map[uint64][]byte
}

func newSparseDevice(sectors uint64) *sparseDevice {
	return &sparseDevice{sectors: sectors, data: make(map[uint64][]byte)}
}

func (d *sparseDevice) SectorCount() uint64 { return d.sectors }

func (d *sparseDevice) ReadSectors(lba uint64, count uint32, buf []byte) error {
	for i := uint32(0); i < count; i++ {
		dst := buf[int(i)*512 : int(i+1)*512]
		if sector, ok := d.data[lba+uint64(i)]; ok {
			copy(dst, sector)
		} else {
			for j := range dst {
				dst[j] = 0
			}
		}
	}
	return nil
}

func (d *sparseDevice) WriteSectors(lba uint64, count uint32, buf []byte) error {
	for i := uint32(0); i < count; i++ {
		sector := make([]byte, 512)
		copy(sector, buf[int(i)*512:int(i+1)*512])
		d.data[lba+uint64(i)] = sector
	}
	return nil
}

func TestDetectBootRecord(t *testing.T) {
	dev := newImage(t, 64)

	kind, _, err := fat32.DetectBootRecord(dev)
	require.NoError(t, err)
	assert.Equal(t, fat32.BootRecordUnknown, kind)

	require.NoError(t, fat32.Format(dev, "DETECT", satafs.DefaultConfig(), nil))
	kind, _, err = fat32.DetectBootRecord(dev)
	require.NoError(t, err)
	assert.Equal(t, fat32.BootRecordFAT32, kind)
}

func TestDetectMBR(t *testing.T) {
	dev := newImage(t, 1)

	sector := make([]byte, 512)
	sector[510] = 0x55
	sector[511] = 0xAA
	// One bootable FAT32-LBA partition at LBA 2048.
	entry := sector[0x1BE:]
	entry[0] = 0x80
	entry[4] = 0x0C
	entry[8] = 0x00
	entry[9] = 0x08 // start LBA 2048
	entry[12] = 0x00
	entry[13] = 0x10 // 4096 sectors
	require.NoError(t, dev.WriteSectors(0, 1, sector))

	kind, parts, err := fat32.DetectBootRecord(dev)
	require.NoError(t, err)
	assert.Equal(t, fat32.BootRecordMBR, kind)
	require.Len(t, parts, 1)
	assert.True(t, parts[0].Bootable)
	assert.Equal(t, uint8(0x0C), parts[0].Type)
	assert.Equal(t, uint32(2048), parts[0].StartLBA)
	assert.Equal(t, uint32(4096), parts[0].Sectors)
}
