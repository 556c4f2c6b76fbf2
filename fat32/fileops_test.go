package fat32_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/baremetal-go/satafs/errors"
	"github.com/baremetal-go/satafs/fat32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1: a fresh volume lists exactly its label in the root.
func TestFreshVolumeListsOnlyLabel(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")

	entries, err := vol.List(vol.RootCluster())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "TESTVOL", entries[0].Name)
	assert.True(t, entries[0].IsVolumeLabel())
}

// S2: a small file round-trips byte for byte.
func TestWriteReadSmallFile(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	payload := []byte{0x48, 0x65, 0x6C, 0x6C, 0x6F}
	require.NoError(t, vol.WriteFile(root, "HELLO.TXT", payload))

	buf := make([]byte, 4096)
	n, err := vol.ReadFile(root, "HELLO.TXT", buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, payload, buf[:5])
}

// S3: a 10000-byte file on 4096-byte clusters takes exactly three chained
// clusters, and the tail of the last one is zero on disk.
func TestMultiClusterFile(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()
	require.Equal(t, uint32(4096), vol.Geometry().BytesPerCluster)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i*7 + 3)
	}
	require.NoError(t, vol.WriteFile(root, "BIG.BIN", payload))

	entry, err := vol.Lookup(root, "BIG.BIN")
	require.NoError(t, err)

	var chain []uint32
	current := entry.FirstCluster
	for {
		chain = append(chain, current)
		next, err := vol.NextCluster(current)
		require.NoError(t, err)
		if next >= fat32.EOCMin {
			break
		}
		current = next
	}
	require.Len(t, chain, 3)

	raw, err := vol.FATEntry(chain[2])
	require.NoError(t, err)
	assert.Equal(t, uint32(fat32.EOCMark), raw&0x0FFFFFFF)

	buf := make([]byte, 16384)
	n, err := vol.ReadFile(root, "BIG.BIN", buf)
	require.NoError(t, err)
	assert.Equal(t, 10000, n)
	assert.Equal(t, payload, buf[:10000])

	// On-disk tail of the third cluster is zero padding.
	cluster := make([]byte, 4096)
	require.NoError(t, vol.ReadCluster(chain[2], cluster))
	tailStart := 10000 - 2*4096
	assert.Equal(t, payload[2*4096:], cluster[:tailStart])
	for i := tailStart; i < 4096; i++ {
		require.Zero(t, cluster[i], "byte %d of the final cluster is not zero", i)
	}
}

// S4: overwriting a two-cluster file with a one-byte payload frees exactly
// one cluster net.
func TestOverwriteFreesOldChain(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	require.NoError(t, vol.WriteFile(root, "SWAP.BIN", make([]byte, 8192)))
	before, err := vol.CountFreeClusters()
	require.NoError(t, err)

	require.NoError(t, vol.WriteFile(root, "SWAP.BIN", []byte{0x42}))
	after, err := vol.CountFreeClusters()
	require.NoError(t, err)

	assert.Equal(t, int64(1), int64(after)-int64(before))
}

// Property 7: write, delete, read is NotFound and the free count returns to
// its starting point.
func TestDeleteRestoresFreeCount(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	baseline, err := vol.CountFreeClusters()
	require.NoError(t, err)

	require.NoError(t, vol.WriteFile(root, "TEMP.DAT", make([]byte, 12000)))
	require.NoError(t, vol.DeleteFile(root, "TEMP.DAT"))

	buf := make([]byte, 16384)
	_, err = vol.ReadFile(root, "TEMP.DAT", buf)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	final, err := vol.CountFreeClusters()
	require.NoError(t, err)
	assert.Equal(t, baseline, final)
}

// S5: the 128th entry of a one-cluster root forces a chain extension, and
// the new entry lands at index 0 of the new cluster.
func TestDirectoryChainExtension(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()
	require.Equal(t, 128, vol.Geometry().EntriesPerCluster())

	// The label occupies slot 0, leaving 127 slots in the first cluster.
	var last fat32.DirEntry
	for i := 0; i < 130; i++ {
		entry, err := vol.CreateEntry(root, fmt.Sprintf("FILE%04d.DAT", i), fat32.AttrArchive, false)
		require.NoError(t, err, "creating file %d", i)
		last = entry
		if i == 127 {
			// First entry that does not fit in the root's first cluster.
			next, err := vol.NextCluster(root)
			require.NoError(t, err)
			require.True(t, vol.Geometry().ValidCluster(next),
				"root chain was not extended")
			assert.Equal(t, next, entry.Cluster)
			assert.Equal(t, 0, entry.Index)
		}
	}

	// The chain now has exactly two clusters.
	second, err := vol.NextCluster(root)
	require.NoError(t, err)
	tail, err := vol.NextCluster(second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tail, uint32(fat32.EOCMin))

	assert.Equal(t, second, last.Cluster)

	entries, err := vol.List(root)
	require.NoError(t, err)
	assert.Len(t, entries, 131) // label + 130 files
}

func TestCreateEntryRejectsDuplicates(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	_, err := vol.CreateEntry(root, "UNIQUE.TXT", fat32.AttrArchive, false)
	require.NoError(t, err)
	_, err = vol.CreateEntry(root, "UNIQUE.TXT", fat32.AttrArchive, false)
	assert.ErrorIs(t, err, errors.ErrExists)

	// A name taken by a file collides for directory creation too.
	require.NoError(t, vol.WriteFile(root, "TAKEN.TXT", []byte("x")))
	_, err = vol.Mkdir(root, "TAKEN.TXT")
	assert.ErrorIs(t, err, errors.ErrExists)
}

func TestMkdirSeedsDotEntries(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	sub, err := vol.Mkdir(root, "SUBDIR")
	require.NoError(t, err)
	require.True(t, vol.Geometry().ValidCluster(sub.FirstCluster))

	entries, err := vol.List(sub.FirstCluster)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ".", entries[0].Name)
	assert.Equal(t, sub.FirstCluster, entries[0].FirstCluster)
	assert.Equal(t, "..", entries[1].Name)
	assert.Equal(t, root, entries[1].FirstCluster)

	// The new directory is usable.
	require.NoError(t, vol.WriteFile(sub.FirstCluster, "NESTED.TXT", []byte("deep")))
	buf := make([]byte, 64)
	n, err := vol.ReadFile(sub.FirstCluster, "NESTED.TXT", buf)
	require.NoError(t, err)
	assert.Equal(t, "deep", string(buf[:n]))
}

func TestReadIntoSmallBufferTruncates(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	payload := bytes.Repeat([]byte{0xAB}, 5000)
	require.NoError(t, vol.WriteFile(root, "WIDE.BIN", payload))

	buf := make([]byte, 1000)
	n, err := vol.ReadFile(root, "WIDE.BIN", buf)
	require.NoError(t, err, "a short buffer is a warning, not an error")
	assert.Equal(t, 1000, n)
	assert.Equal(t, payload[:1000], buf)
}

func TestWriteEmptyFile(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	require.NoError(t, vol.WriteFile(root, "EMPTY.TXT", nil))

	entry, err := vol.Lookup(root, "EMPTY.TXT")
	require.NoError(t, err)
	assert.Zero(t, entry.Size)
	assert.Zero(t, entry.FirstCluster)

	buf := make([]byte, 16)
	n, err := vol.ReadFile(root, "EMPTY.TXT", buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteFailureReleasesPartialChain(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	free, err := vol.CountFreeClusters()
	require.NoError(t, err)

	// More data than the volume can hold.
	huge := make([]byte, (int(free)+8)*4096)
	err = vol.WriteFile(root, "HUGE.BIN", huge)
	require.ErrorIs(t, err, errors.ErrNoSpaceOnDevice)

	after, err := vol.CountFreeClusters()
	require.NoError(t, err)
	assert.Equal(t, free, after, "partial chain was not released")

	_, err = vol.Lookup(root, "HUGE.BIN")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestDeleteMarksSlotReusable(t *testing.T) {
	vol, _ := newVolume(t, "TESTVOL")
	root := vol.RootCluster()

	require.NoError(t, vol.WriteFile(root, "FIRST.TXT", []byte("one")))
	first, err := vol.Lookup(root, "FIRST.TXT")
	require.NoError(t, err)

	require.NoError(t, vol.DeleteFile(root, "FIRST.TXT"))
	require.NoError(t, vol.WriteFile(root, "SECOND.TXT", []byte("two")))

	second, err := vol.Lookup(root, "SECOND.TXT")
	require.NoError(t, err)
	assert.Equal(t, first.Cluster, second.Cluster)
	assert.Equal(t, first.Index, second.Index, "deleted slot should be reused")
}
