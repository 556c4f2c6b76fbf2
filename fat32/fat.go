package fat32

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/baremetal-go/satafs/errors"
)

// fatTable performs all FAT reads and mutations for a volume. Entries are
// 32-bit little-endian; only the low 28 bits carry meaning and the high four
// are preserved on every update.
type fatTable struct {
	vol   *Volume
	cache *fatCache
}

func newFATTable(v *Volume) *fatTable {
	return &fatTable{vol: v, cache: newFATCache(v.dev, v.geo)}
}

func (f *fatTable) locate(c uint32) (sectorIdx uint32, offset uint32) {
	byteOffset := c * 4
	return byteOffset / SectorSize, byteOffset % SectorSize
}

// entry returns the raw 32-bit FAT word for cluster c, reserved bits
// included.
func (f *fatTable) entry(c uint32) (uint32, error) {
	if !f.vol.geo.ValidCluster(c) {
		return 0, errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"cluster %d outside [2, %d)", c, f.vol.geo.TotalClusters+2))
	}
	sectorIdx, offset := f.locate(c)
	sector, err := f.cache.sector(sectorIdx)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(sector[offset:]), nil
}

// next follows the chain link out of cluster c. A masked value at or above
// EOCMin terminates the chain and is normalized to EOCMark. A free entry in
// the middle of a chain is corruption; it is logged and treated as
// end-of-chain so a damaged file stays readable up to the break.
func (f *fatTable) next(c uint32) (uint32, error) {
	raw, err := f.entry(c)
	if err != nil {
		return 0, err
	}

	link := raw & entryMask
	switch {
	case link >= EOCMin:
		return EOCMark, nil
	case link == FreeCluster:
		f.vol.warn("free entry in the middle of a cluster chain",
			slog.Uint64("cluster", uint64(c)))
		return EOCMark, nil
	case link == BadCluster:
		f.vol.warn("bad-cluster marker inside a chain",
			slog.Uint64("cluster", uint64(c)))
		return EOCMark, nil
	case !f.vol.geo.ValidCluster(link):
		return 0, errors.ErrFileSystemCorrupted.WithMessage(fmt.Sprintf(
			"cluster %d links to invalid cluster %d", c, link))
	default:
		return link, nil
	}
}

// set stores value in cluster c's FAT entry, preserving the reserved high
// four bits of the existing word, and mirrors the sector to every backup
// FAT. Mirror failures are warnings; the primary write is authoritative.
func (f *fatTable) set(c uint32, value uint32) error {
	if !f.vol.geo.ValidCluster(c) {
		return errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"cluster %d outside [2, %d)", c, f.vol.geo.TotalClusters+2))
	}

	sectorIdx, offset := f.locate(c)
	sector, err := f.cache.sector(sectorIdx)
	if err != nil {
		return err
	}

	old := binary.LittleEndian.Uint32(sector[offset:])
	binary.LittleEndian.PutUint32(sector[offset:], old&^uint32(entryMask)|value&entryMask)

	warn, err := f.cache.flushSector(sectorIdx)
	if err != nil {
		return err
	}
	if warn != nil {
		f.vol.warn("mirror FAT write failed", slog.String("detail", warn.Error()))
	}
	return nil
}

// allocate finds a free cluster, marks it end-of-chain, zeroes it on disk,
// and updates the FSInfo hints best-effort. The scan starts at the FSInfo
// next-free hint when the signatures validate and wraps once through the
// whole cluster space before giving up.
func (f *fatTable) allocate() (uint32, error) {
	info, sector := f.vol.readFSInfo()

	start := info.NextFree
	if !f.vol.geo.ValidCluster(start) {
		start = 2
	}

	found := uint32(0)
	scan := start
	for checked := uint32(0); checked < f.vol.geo.TotalClusters; checked++ {
		raw, err := f.entry(scan)
		if err != nil {
			return 0, err
		}
		if raw&entryMask == FreeCluster {
			found = scan
			break
		}
		scan++
		if scan >= f.vol.geo.TotalClusters+2 {
			scan = 2
		}
		if scan == start {
			break
		}
	}
	if found == 0 {
		return 0, errors.ErrNoSpaceOnDevice.WithMessage("no free cluster in the FAT")
	}

	if err := f.set(found, EOCMark); err != nil {
		return 0, err
	}

	if info.Valid {
		if info.FreeCount != fsinfoUnknown && info.FreeCount > 0 {
			info.FreeCount--
		}
		info.NextFree = found + 1
		if !f.vol.geo.ValidCluster(info.NextFree) {
			info.NextFree = 2
		}
		f.vol.writeFSInfo(info, sector)
	}

	if err := f.vol.zeroClusterOnDisk(found); err != nil {
		f.vol.warn("failed to zero freshly allocated cluster",
			slog.Uint64("cluster", uint64(found)),
			slog.String("detail", err.Error()))
	}
	return found, nil
}

// freeChain walks the chain from head, marking every link free, and returns
// the number of clusters released. Traversal stops at end-of-chain or at a
// corrupt link; whatever was freed so far stays freed.
func (f *fatTable) freeChain(head uint32) (uint32, error) {
	if !f.vol.geo.ValidCluster(head) {
		return 0, errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"chain head %d outside [2, %d)", head, f.vol.geo.TotalClusters+2))
	}

	freed := uint32(0)
	current := head
	for f.vol.geo.ValidCluster(current) {
		next, nextErr := f.next(current)
		if err := f.set(current, FreeCluster); err != nil {
			return freed, err
		}
		freed++
		if nextErr != nil {
			f.vol.warn("cluster chain broken during free",
				slog.Uint64("cluster", uint64(current)),
				slog.String("detail", nextErr.Error()))
			break
		}
		if next >= EOCMin {
			break
		}
		current = next
	}

	if freed > 0 {
		info, sector := f.vol.readFSInfo()
		if info.Valid {
			if info.FreeCount != fsinfoUnknown {
				info.FreeCount += freed
			}
			info.NextFree = head
			f.vol.writeFSInfo(info, sector)
		}
	}
	return freed, nil
}
