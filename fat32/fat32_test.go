package fat32_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/emu"
	"github.com/baremetal-go/satafs/errors"
	"github.com/baremetal-go/satafs/fat32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// newImage builds an in-memory device of the given size.
func newImage(t *testing.T, sizeMiB int) *emu.ImageDevice {
	t.Helper()
	dev, err := emu.NewImageDevice(bytesextra.NewReadWriteSeeker(make([]byte, sizeMiB<<20)))
	require.NoError(t, err)
	return dev
}

// newVolume formats and mounts a 64 MiB volume with 4096-byte clusters, the
// geometry most tests assume.
func newVolume(t *testing.T, label string) (*fat32.Volume, *emu.ImageDevice) {
	t.Helper()
	dev := newImage(t, 64)
	require.NoError(t, fat32.FormatWithClusterSize(dev, label, 8, satafs.DefaultConfig(), nil))
	vol, err := fat32.Mount(dev, satafs.DefaultConfig(), nil)
	require.NoError(t, err)
	return vol, dev
}

func TestMountRejectsMissingSignature(t *testing.T) {
	dev := newImage(t, 1)

	_, err := fat32.Mount(dev, satafs.DefaultConfig(), nil)
	assert.ErrorIs(t, err, errors.ErrFileSystemCorrupted)
}

func TestMountRejectsForeignSectorSize(t *testing.T) {
	dev := newImage(t, 1)

	sector := make([]byte, 512)
	binary.LittleEndian.PutUint16(sector[11:], 4096) // bytes per sector
	sector[13] = 8
	binary.LittleEndian.PutUint16(sector[510:], 0xAA55)
	require.NoError(t, dev.WriteSectors(0, 1, sector))

	_, err := fat32.Mount(dev, satafs.DefaultConfig(), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidFileSystem)
}

func TestMountRejectsZeroSectorsPerCluster(t *testing.T) {
	dev := newImage(t, 1)

	sector := make([]byte, 512)
	binary.LittleEndian.PutUint16(sector[11:], 512)
	sector[13] = 0 // sectors per cluster
	binary.LittleEndian.PutUint16(sector[510:], 0xAA55)
	require.NoError(t, dev.WriteSectors(0, 1, sector))

	_, err := fat32.Mount(dev, satafs.DefaultConfig(), nil)
	assert.ErrorIs(t, err, errors.ErrFileSystemCorrupted)
}

// Property 1: every valid cluster maps strictly inside the device.
func TestClusterToLBAStaysInsideDevice(t *testing.T) {
	vol, dev := newVolume(t, "GEOM")
	geo := vol.Geometry()

	check := func(c uint32) {
		lba := geo.ClusterToLBA(c)
		assert.GreaterOrEqual(t, lba, geo.DataStartSector)
		assert.LessOrEqual(t, lba+uint64(geo.SectorsPerCluster), dev.SectorCount(),
			"cluster %d extends past the device", c)
	}
	check(2)
	check(geo.TotalClusters/2 + 2)
	check(geo.TotalClusters + 1)
}

// Property 2: a fresh allocation reads back as end-of-chain.
func TestAllocateMarksEndOfChain(t *testing.T) {
	vol, _ := newVolume(t, "ALLOC")

	n, err := vol.AllocateCluster()
	require.NoError(t, err)
	require.True(t, vol.Geometry().ValidCluster(n))

	raw, err := vol.FATEntry(n)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, raw&0x0FFFFFFF, uint32(fat32.EOCMin))
}

// Property 3: freeing a chain zeroes every link that was in it.
func TestFreeChainClearsEveryLink(t *testing.T) {
	vol, _ := newVolume(t, "FREE")

	var chain []uint32
	for i := 0; i < 3; i++ {
		n, err := vol.AllocateCluster()
		require.NoError(t, err)
		chain = append(chain, n)
		if i > 0 {
			require.NoError(t, vol.UpdateFATEntry(chain[i-1], n))
		}
	}

	freed, err := vol.FreeClusterChain(chain[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(3), freed)

	for _, c := range chain {
		raw, err := vol.FATEntry(c)
		require.NoError(t, err)
		assert.Zero(t, raw&0x0FFFFFFF, "cluster %d still allocated", c)
	}
}

// Property 4: updates preserve the reserved high four bits of the word.
func TestUpdatePreservesReservedBits(t *testing.T) {
	vol, dev := newVolume(t, "RSVD")
	geo := vol.Geometry()

	const cluster = 9
	// Poke reserved bits into the raw word behind the cache's back, before
	// the cache has ever loaded that sector.
	fatLBA := uint64(geo.ReservedSectors) + uint64(cluster*4/512)
	sector := make([]byte, 512)
	require.NoError(t, dev.ReadSectors(fatLBA, 1, sector))
	binary.LittleEndian.PutUint32(sector[cluster*4%512:], 0xA0000000)
	require.NoError(t, dev.WriteSectors(fatLBA, 1, sector))

	require.NoError(t, vol.UpdateFATEntry(cluster, fat32.EOCMark))

	raw, err := vol.FATEntry(cluster)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xA0000000), raw&0xF0000000, "reserved bits clobbered")
	assert.Equal(t, uint32(fat32.EOCMark), raw&0x0FFFFFFF)
}

// Property 5: a scan stops at the 0x00 terminator and never surfaces
// anything placed after it.
func TestScanStopsAtTerminator(t *testing.T) {
	vol, _ := newVolume(t, "TERM")
	root := vol.RootCluster()

	require.NoError(t, vol.WriteFile(root, "VISIBLE.TXT", []byte("here")))

	// Hand-plant a plausible entry two slots past the terminator.
	cluster := make([]byte, vol.Geometry().BytesPerCluster)
	require.NoError(t, vol.ReadCluster(root, cluster))
	end := -1
	for i := 0; i < vol.Geometry().EntriesPerCluster(); i++ {
		if cluster[i*32] == 0x00 {
			end = i
			break
		}
	}
	require.Positive(t, end)
	ghost := end + 2
	copy(cluster[ghost*32:], "GHOST   TXT")
	cluster[ghost*32+11] = 0x20
	require.NoError(t, vol.WriteCluster(root, cluster))

	entries, err := vol.List(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "GHOST.TXT", e.Name)
	}

	_, err = vol.Lookup(root, "GHOST.TXT")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

// Property 9: device errors surface as non-success codes, never panics.
func TestDeviceErrorPropagates(t *testing.T) {
	vol, dev := newVolume(t, "FAULT")
	root := vol.RootCluster()
	require.NoError(t, vol.WriteFile(root, "DATA.BIN", make([]byte, 9000)))

	failing := &failingDevice{ImageDevice: dev, failAfter: 0}
	vol2, err := fat32.Mount(failing, satafs.DefaultConfig(), nil)
	// Mount itself performs one read; allow it, then fail everything after.
	require.NoError(t, err)
	failing.armed = true

	buf := make([]byte, 16384)
	_, err = vol2.ReadFile(root, "DATA.BIN", buf)
	require.Error(t, err)
	assert.Negative(t, fat32.Errno(err))
}

// failingDevice passes reads through until armed, then fails everything.
type failingDevice struct {
	*emu.ImageDevice
	armed     bool
	failAfter int
}

func (d *failingDevice) ReadSectors(lba uint64, count uint32, buf []byte) error {
	if d.armed {
		if d.failAfter > 0 {
			d.failAfter--
		} else {
			return fmt.Errorf("injected read failure at LBA %d", lba)
		}
	}
	return d.ImageDevice.ReadSectors(lba, count, buf)
}

func (d *failingDevice) WriteSectors(lba uint64, count uint32, buf []byte) error {
	if d.armed {
		return fmt.Errorf("injected write failure at LBA %d", lba)
	}
	return d.ImageDevice.WriteSectors(lba, count, buf)
}

func TestErrnoStability(t *testing.T) {
	assert.Equal(t, 0, fat32.Errno(nil))
	assert.Equal(t, -6, fat32.Errno(errors.ErrNotFound))
	assert.Equal(t, -7, fat32.Errno(errors.ErrExists.WithMessage("X")))
	assert.Equal(t, -8, fat32.Errno(errors.ErrNoSpaceOnDevice))
	assert.Equal(t, -127, fat32.Errno(fmt.Errorf("novel failure")))
}
