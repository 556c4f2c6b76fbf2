package fat32

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/errors"
)

// Volume is a mounted FAT32 filesystem. It owns a cluster-sized scratch
// buffer for directory and file staging; public operations are therefore not
// re-entrant, which matches the single-threaded execution model of the rest
// of the stack.
type Volume struct {
	dev satafs.BlockDevice
	cfg satafs.Config
	log *slog.Logger

	geo Geometry
	fat *fatTable

	cluster []byte // directory/file staging, aliased by nothing else
	zeroes  []byte // immutable all-zero cluster for clearing
	sector  []byte // FSInfo and boot-sector staging
}

// Mount reads and validates the boot sector and derives the volume geometry.
// The log handle may be nil; warnings are then dropped.
func Mount(dev satafs.BlockDevice, cfg satafs.Config, log *slog.Logger) (*Volume, error) {
	sector := make([]byte, SectorSize)
	if err := dev.ReadSectors(0, 1, sector); err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	geo, err := parseBootSector(sector)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		dev:     dev,
		cfg:     cfg,
		log:     log,
		geo:     geo,
		cluster: make([]byte, geo.BytesPerCluster),
		zeroes:  make([]byte, geo.BytesPerCluster),
		sector:  sector,
	}
	v.fat = newFATTable(v)

	if geo.TotalClusters < 65525 {
		v.warn("cluster count below the FAT32 minimum; volume may be FAT16",
			slog.Uint64("clusters", uint64(geo.TotalClusters)))
	}
	if devSectors := dev.SectorCount(); devSectors != 0 && geo.TotalSectors > devSectors {
		v.warn("boot sector claims more sectors than the device reports",
			slog.Uint64("volume", geo.TotalSectors),
			slog.Uint64("device", devSectors))
	}
	return v, nil
}

// Geometry returns the mount-time volume parameters.
func (v *Volume) Geometry() Geometry {
	return v.geo
}

// RootCluster returns the first cluster of the root directory.
func (v *Volume) RootCluster() uint32 {
	return v.geo.RootCluster
}

func (v *Volume) warn(msg string, attrs ...slog.Attr) {
	if v.log != nil {
		v.log.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
	}
}

func (v *Volume) info(msg string, attrs ...slog.Attr) {
	if v.log != nil {
		v.log.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
	}
}

// ReadCluster fills buf with the contents of a data cluster.
func (v *Volume) ReadCluster(n uint32, buf []byte) error {
	if !v.geo.ValidCluster(n) {
		return errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"cluster %d outside [2, %d)", n, v.geo.TotalClusters+2))
	}
	if len(buf) < int(v.geo.BytesPerCluster) {
		return errors.ErrInvalidArgument.WithMessage("buffer smaller than a cluster")
	}
	if err := v.dev.ReadSectors(v.geo.ClusterToLBA(n), v.geo.SectorsPerCluster, buf); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

// WriteCluster writes a full cluster of data from buf.
func (v *Volume) WriteCluster(n uint32, buf []byte) error {
	if !v.geo.ValidCluster(n) {
		return errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"cluster %d outside [2, %d)", n, v.geo.TotalClusters+2))
	}
	if len(buf) < int(v.geo.BytesPerCluster) {
		return errors.ErrInvalidArgument.WithMessage("buffer smaller than a cluster")
	}
	if err := v.dev.WriteSectors(v.geo.ClusterToLBA(n), v.geo.SectorsPerCluster, buf); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

func (v *Volume) zeroClusterOnDisk(n uint32) error {
	return v.WriteCluster(n, v.zeroes)
}

// readFSInfo loads and decodes the advisory sector. Read failures and bad
// signatures both degrade to "unknown"; the caller gets the sector image
// back for a later store.
func (v *Volume) readFSInfo() (fsInfo, []byte) {
	if v.geo.FSInfoSector == 0 || v.geo.FSInfoSector >= v.geo.ReservedSectors {
		return fsInfo{FreeCount: fsinfoUnknown, NextFree: 2}, nil
	}
	if err := v.dev.ReadSectors(uint64(v.geo.FSInfoSector), 1, v.sector); err != nil {
		v.warn("failed to read FSInfo", slog.String("detail", err.Error()))
		return fsInfo{FreeCount: fsinfoUnknown, NextFree: 2}, nil
	}
	info := parseFSInfo(v.sector)
	if !info.Valid {
		v.warn("FSInfo signatures invalid; free-cluster count treated as unknown")
	}
	return info, v.sector
}

// writeFSInfo stores updated hints back, best-effort. Only called with a
// sector image whose signatures validated; the signatures themselves are
// never rewritten here.
func (v *Volume) writeFSInfo(info fsInfo, sector []byte) {
	if sector == nil {
		return
	}
	info.store(sector)
	if err := v.dev.WriteSectors(uint64(v.geo.FSInfoSector), 1, sector); err != nil {
		v.warn("failed to write FSInfo", slog.String("detail", err.Error()))
	}
}

// FreeClusterHint returns the advisory free-cluster count. ok is false when
// FSInfo is missing, unreadable, or carries the unknown marker.
func (v *Volume) FreeClusterHint() (uint32, bool) {
	info, _ := v.readFSInfo()
	if !info.Valid || info.FreeCount == fsinfoUnknown {
		return 0, false
	}
	return info.FreeCount, true
}

// CountFreeClusters walks the whole FAT and returns the authoritative free
// count.
func (v *Volume) CountFreeClusters() (uint32, error) {
	free := uint32(0)
	for c := uint32(2); c < v.geo.TotalClusters+2; c++ {
		raw, err := v.fat.entry(c)
		if err != nil {
			return 0, err
		}
		if raw&entryMask == FreeCluster {
			free++
		}
	}
	return free, nil
}

// NextCluster follows the FAT link out of cluster c; values >= EOCMin mean
// end-of-chain.
func (v *Volume) NextCluster(c uint32) (uint32, error) {
	return v.fat.next(c)
}

// FATEntry returns the raw 32-bit FAT word for a cluster, reserved bits
// included.
func (v *Volume) FATEntry(c uint32) (uint32, error) {
	return v.fat.entry(c)
}

// UpdateFATEntry stores a value in a cluster's FAT entry, preserving the
// reserved high four bits and mirroring to every backup FAT.
func (v *Volume) UpdateFATEntry(c, value uint32) error {
	return v.fat.set(c, value)
}

// AllocateCluster claims one free cluster: it is marked end-of-chain,
// zeroed on disk, and the FSInfo hints are advanced best-effort.
func (v *Volume) AllocateCluster() (uint32, error) {
	return v.fat.allocate()
}

// FreeClusterChain releases every cluster in the chain starting at head and
// returns how many were freed.
func (v *Volume) FreeClusterChain(head uint32) (uint32, error) {
	return v.fat.freeChain(head)
}

// ResolveDir walks a slash-separated path of directory names from the root
// and returns the first cluster of the directory it lands on. An empty path
// or "/" resolves to the root.
func (v *Volume) ResolveDir(path string) (uint32, error) {
	current := v.geo.RootCluster
	for _, component := range splitPath(path) {
		entry, err := v.Lookup(current, component)
		if err != nil {
			return 0, err
		}
		if !entry.IsDirectory() {
			return 0, errors.ErrNotADirectory.WithMessage(component)
		}
		if !v.geo.ValidCluster(entry.FirstCluster) {
			return 0, errors.ErrFileSystemCorrupted.WithMessage(fmt.Sprintf(
				"directory %q points at cluster %d", component, entry.FirstCluster))
		}
		current = entry.FirstCluster
	}
	return current, nil
}

func splitPath(path string) []string {
	var parts []string
	start := -1
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if start >= 0 {
				parts = append(parts, path[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return parts
}

// slotRef addresses one 32-byte entry inside a directory.
type slotRef struct {
	cluster uint32
	index   int
}

// scanResult is what a directory walk produces: the matched entry if any,
// the first reusable slot seen, and enough chain state for the caller to
// extend the directory.
type scanResult struct {
	found bool
	entry RawDirent
	at    slotRef

	freeSlot    *slotRef
	lastCluster uint32
}

// scanForName walks the directory chain comparing normalized 8.3 names.
// Long-filename entries are always skipped; when matchSpecial is false,
// volume labels and subdirectories are skipped for matching too (the
// file-operation rule), while create-style scans match them so a name
// collision with a directory is caught.
//
// The scan obeys the 0x00 terminator: nothing past the first never-used
// entry is examined, in this cluster or any later one.
func (v *Volume) scanForName(dir uint32, short [8]byte, ext [3]byte, matchSpecial bool) (scanResult, error) {
	res := scanResult{lastCluster: dir}

	current := dir
	for v.geo.ValidCluster(current) {
		if err := v.ReadCluster(current, v.cluster); err != nil {
			return res, err
		}
		res.lastCluster = current

		for i := 0; i < v.geo.EntriesPerCluster(); i++ {
			first := v.cluster[i*EntrySize]
			if first == entryFree {
				if res.freeSlot == nil {
					res.freeSlot = &slotRef{cluster: current, index: i}
				}
				return res, nil
			}
			if first == entryDeleted {
				if res.freeSlot == nil {
					res.freeSlot = &slotRef{cluster: current, index: i}
				}
				continue
			}

			entry := decodeDirent(v.cluster, i)
			if entry.IsLongName() {
				continue
			}
			if !matchSpecial && (entry.IsVolumeLabel() || entry.IsDirectory()) {
				continue
			}
			if entry.Name == short && entry.Ext == ext {
				res.found = true
				res.entry = entry
				res.at = slotRef{cluster: current, index: i}
				return res, nil
			}
		}

		next, err := v.fat.next(current)
		if err != nil {
			return res, err
		}
		if next >= EOCMin {
			break
		}
		current = next
	}
	return res, nil
}

// updateSlot re-reads the slot's directory cluster, lets mutate edit the raw
// entry, and writes the cluster back. The re-read is deliberate: the scratch
// buffer may have been reused since the scan located the slot.
func (v *Volume) updateSlot(at slotRef, mutate func(*RawDirent)) error {
	if err := v.ReadCluster(at.cluster, v.cluster); err != nil {
		return err
	}
	entry := decodeDirent(v.cluster, at.index)
	mutate(&entry)
	encodeDirent(v.cluster, at.index, &entry)
	return v.WriteCluster(at.cluster, v.cluster)
}

// extendDirectory hangs a fresh zeroed cluster off the end of a directory
// chain and returns its number.
func (v *Volume) extendDirectory(lastCluster uint32) (uint32, error) {
	newCluster, err := v.fat.allocate()
	if err != nil {
		return 0, err
	}
	if err := v.fat.set(lastCluster, newCluster); err != nil {
		return 0, err
	}
	// allocate already zeroed the cluster on disk; every entry in it reads
	// as the 0x00 terminator.
	v.info("extended directory cluster chain",
		slog.Uint64("tail", uint64(lastCluster)),
		slog.Uint64("new", uint64(newCluster)))
	return newCluster, nil
}

// checkDirArg validates a caller-supplied directory cluster.
func (v *Volume) checkDirArg(dir uint32) error {
	if !v.geo.ValidCluster(dir) {
		return errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"directory cluster %d outside [2, %d)", dir, v.geo.TotalClusters+2))
	}
	return nil
}

// List returns every live, non-LFN entry of a directory, volume label and
// subdirectories included.
func (v *Volume) List(dir uint32) ([]DirEntry, error) {
	if err := v.checkDirArg(dir); err != nil {
		return nil, err
	}

	var out []DirEntry
	current := dir
	for v.geo.ValidCluster(current) {
		if err := v.ReadCluster(current, v.cluster); err != nil {
			return nil, err
		}

		for i := 0; i < v.geo.EntriesPerCluster(); i++ {
			first := v.cluster[i*EntrySize]
			if first == entryFree {
				return out, nil
			}
			if first == entryDeleted {
				continue
			}
			entry := decodeDirent(v.cluster, i)
			if entry.IsLongName() {
				continue
			}
			out = append(out, DirEntry{
				Name:         entry.DisplayName(),
				Attributes:   entry.Attributes,
				FirstCluster: entry.FirstCluster(),
				Size:         entry.FileSize,
				Cluster:      current,
				Index:        i,
			})
		}

		next, err := v.fat.next(current)
		if err != nil {
			return nil, err
		}
		if next >= EOCMin {
			break
		}
		current = next
	}
	return out, nil
}

// Lookup finds an entry by name in the given directory. Files,
// subdirectories and the volume label all match.
func (v *Volume) Lookup(dir uint32, name string) (DirEntry, error) {
	if err := v.checkDirArg(dir); err != nil {
		return DirEntry{}, err
	}
	short, ext, err := normalizeName(name)
	if err != nil {
		return DirEntry{}, err
	}

	res, err := v.scanForName(dir, short, ext, true)
	if err != nil {
		return DirEntry{}, err
	}
	if !res.found {
		return DirEntry{}, errors.ErrNotFound.WithMessage(name)
	}
	return DirEntry{
		Name:         res.entry.DisplayName(),
		Attributes:   res.entry.Attributes,
		FirstCluster: res.entry.FirstCluster(),
		Size:         res.entry.FileSize,
		Cluster:      res.at.cluster,
		Index:        res.at.index,
	}, nil
}
