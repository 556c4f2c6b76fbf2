package fat32

import (
	"fmt"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/errors"
	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"
)

// fatCache holds a write-through image of the primary FAT. Sectors are
// loaded on first touch, tracked in a bitmap; every mutation goes straight
// to disk (primary first, then each mirror), so the cache never holds state
// the volume does not.
type fatCache struct {
	dev satafs.BlockDevice
	geo Geometry

	loaded bitmap.Bitmap
	data   []byte
}

func newFATCache(dev satafs.BlockDevice, geo Geometry) *fatCache {
	return &fatCache{
		dev:    dev,
		geo:    geo,
		loaded: bitmap.NewSlice(int(geo.SectorsPerFAT)),
		data:   make([]byte, int(geo.SectorsPerFAT)*SectorSize),
	}
}

// sector returns the cached image of FAT sector idx (an offset inside the
// FAT, not an absolute LBA), fetching it from the primary FAT on first use.
func (c *fatCache) sector(idx uint32) ([]byte, error) {
	if idx >= c.geo.SectorsPerFAT {
		return nil, errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"FAT sector %d outside FAT of %d sectors", idx, c.geo.SectorsPerFAT))
	}

	buf := c.data[int(idx)*SectorSize : (int(idx)+1)*SectorSize]
	if !c.loaded.Get(int(idx)) {
		lba := uint64(c.geo.ReservedSectors) + uint64(idx)
		if err := c.dev.ReadSectors(lba, 1, buf); err != nil {
			return nil, errors.ErrIOFailed.WrapError(err)
		}
		c.loaded.Set(int(idx), true)
	}
	return buf, nil
}

// flushSector writes the cached sector back to the primary FAT and mirrors
// it to every backup FAT. A primary failure is fatal; mirror failures are
// collected and returned as the warning value, the update itself having
// succeeded.
func (c *fatCache) flushSector(idx uint32) (warn error, err error) {
	buf := c.data[int(idx)*SectorSize : (int(idx)+1)*SectorSize]

	lba := uint64(c.geo.ReservedSectors) + uint64(idx)
	if err := c.dev.WriteSectors(lba, 1, buf); err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	var mirrors *multierror.Error
	for fat := uint32(1); fat < c.geo.NumFATs; fat++ {
		mirrorLBA := lba + uint64(fat)*uint64(c.geo.SectorsPerFAT)
		if err := c.dev.WriteSectors(mirrorLBA, 1, buf); err != nil {
			mirrors = multierror.Append(mirrors, fmt.Errorf("FAT %d sector %d: %w", fat, idx, err))
		}
	}
	return mirrors.ErrorOrNil(), nil
}
