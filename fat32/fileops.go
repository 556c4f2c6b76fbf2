package fat32

import (
	"fmt"
	"log/slog"

	"github.com/baremetal-go/satafs/errors"
)

// ReadFile copies the named file's contents into buf and returns the byte
// count delivered. A buffer smaller than the file is not an error: the read
// is truncated to what fits and a warning is logged.
func (v *Volume) ReadFile(dir uint32, name string, buf []byte) (int, error) {
	if err := v.checkDirArg(dir); err != nil {
		return 0, err
	}
	short, ext, err := normalizeName(name)
	if err != nil {
		return 0, err
	}

	res, err := v.scanForName(dir, short, ext, false)
	if err != nil {
		return 0, err
	}
	if !res.found {
		return 0, errors.ErrNotFound.WithMessage(name)
	}

	fileSize := int(res.entry.FileSize)
	if fileSize == 0 {
		return 0, nil
	}
	if len(buf) < fileSize {
		v.warn("buffer smaller than file; read will be truncated",
			slog.String("name", name),
			slog.Int("fileSize", fileSize),
			slog.Int("buffer", len(buf)))
	}

	read := 0
	current := res.entry.FirstCluster()
	for read < fileSize && v.geo.ValidCluster(current) {
		if err := v.ReadCluster(current, v.cluster); err != nil {
			return read, err
		}

		n := fileSize - read
		if n > int(v.geo.BytesPerCluster) {
			n = int(v.geo.BytesPerCluster)
		}
		if read+n > len(buf) {
			n = len(buf) - read
		}
		if n <= 0 {
			break
		}
		copy(buf[read:read+n], v.cluster[:n])
		read += n

		if read >= fileSize || read >= len(buf) {
			break
		}

		next, err := v.fat.next(current)
		if err != nil {
			return read, err
		}
		if next >= EOCMin {
			v.warn("cluster chain ended before the recorded file size",
				slog.String("name", name),
				slog.Int("read", read),
				slog.Int("fileSize", fileSize))
			break
		}
		current = next
	}
	return read, nil
}

// WriteFile stores data under the given name, replacing any existing file
// with that name. The old chain is freed first; the new chain is built one
// cluster at a time and torn down again if any allocation or write fails
// partway. The directory entry is rewritten last, so a crash in the middle
// leaks clusters but never publishes an entry pointing at a half-written
// chain.
func (v *Volume) WriteFile(dir uint32, name string, data []byte) error {
	if err := v.checkDirArg(dir); err != nil {
		return err
	}
	short, ext, err := normalizeName(name)
	if err != nil {
		return err
	}

	res, err := v.scanForName(dir, short, ext, false)
	if err != nil {
		return err
	}

	var at slotRef
	switch {
	case res.found:
		at = res.at
		if old := res.entry.FirstCluster(); old >= 2 {
			if _, err := v.fat.freeChain(old); err != nil {
				v.warn("failed to free the replaced file's clusters",
					slog.String("name", name),
					slog.String("detail", err.Error()))
			}
		}
	case res.freeSlot != nil:
		at = slotRef{cluster: res.freeSlot.cluster, index: res.freeSlot.index}
	default:
		newCluster, err := v.extendDirectory(res.lastCluster)
		if err != nil {
			return err
		}
		at = slotRef{cluster: newCluster, index: 0}
	}

	firstCluster, err := v.writeChain(data)
	if err != nil {
		return err
	}

	err = v.updateSlot(at, func(entry *RawDirent) {
		if !res.found {
			entry.Name = short
			entry.Ext = ext
			entry.Attributes = AttrArchive
			entry.stampNew()
		}
		entry.FileSize = uint32(len(data))
		entry.SetFirstCluster(firstCluster)
		entry.LastModifiedTime = placeholderTime
		entry.LastModifiedDate = placeholderDate
		entry.LastAccessedDate = placeholderDate
	})
	if err != nil {
		if firstCluster >= 2 {
			v.warn("directory update failed; releasing the orphaned chain",
				slog.String("name", name))
			if _, freeErr := v.fat.freeChain(firstCluster); freeErr != nil {
				v.warn("orphaned chain could not be released",
					slog.String("detail", freeErr.Error()))
			}
		}
		return err
	}

	v.info("wrote file",
		slog.String("name", name),
		slog.Int("bytes", len(data)))
	return nil
}

// writeChain allocates and fills the cluster chain for a payload, returning
// the head cluster (0 for an empty payload). On failure the partial chain is
// freed before the error is returned.
func (v *Volume) writeChain(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}

	head := uint32(0)
	previous := uint32(0)
	clustersNeeded := (len(data) + int(v.geo.BytesPerCluster) - 1) / int(v.geo.BytesPerCluster)

	release := func() {
		if head >= 2 {
			if _, err := v.fat.freeChain(head); err != nil {
				v.warn("failed to release a partially built chain",
					slog.String("detail", err.Error()))
			}
		}
	}

	offset := 0
	for i := 0; i < clustersNeeded; i++ {
		cluster, err := v.fat.allocate()
		if err != nil {
			release()
			return 0, err
		}
		if head == 0 {
			head = cluster
		} else {
			if err := v.fat.set(previous, cluster); err != nil {
				release()
				return 0, err
			}
		}
		previous = cluster

		n := len(data) - offset
		if n > int(v.geo.BytesPerCluster) {
			n = int(v.geo.BytesPerCluster)
		}
		copy(v.cluster[:n], data[offset:offset+n])
		for j := n; j < int(v.geo.BytesPerCluster); j++ {
			v.cluster[j] = 0
		}
		if err := v.WriteCluster(cluster, v.cluster); err != nil {
			release()
			return 0, err
		}
		offset += n
	}
	return head, nil
}

// DeleteFile removes the named file: its chain is freed, then the directory
// slot's first byte is rewritten to the deleted marker.
func (v *Volume) DeleteFile(dir uint32, name string) error {
	if err := v.checkDirArg(dir); err != nil {
		return err
	}
	short, ext, err := normalizeName(name)
	if err != nil {
		return err
	}

	res, err := v.scanForName(dir, short, ext, false)
	if err != nil {
		return err
	}
	if !res.found {
		return errors.ErrNotFound.WithMessage(name)
	}

	if first := res.entry.FirstCluster(); first >= 2 {
		if _, err := v.fat.freeChain(first); err != nil {
			v.warn("failed to free the deleted file's clusters",
				slog.String("name", name),
				slog.String("detail", err.Error()))
		}
	}

	return v.updateSlot(res.at, func(entry *RawDirent) {
		entry.Name[0] = entryDeleted
	})
}

// CreateEntry adds a fresh directory entry with the given attributes,
// failing if the normalized name already exists in any live entry. With
// allocateData a first data cluster is allocated and, for subdirectories,
// seeded with the "." and ".." entries.
func (v *Volume) CreateEntry(dir uint32, name string, attributes uint8, allocateData bool) (DirEntry, error) {
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
	if res.found {
		return DirEntry{}, errors.ErrExists.WithMessage(name)
	}

	var at slotRef
	if res.freeSlot != nil {
		at = *res.freeSlot
	} else {
		newCluster, err := v.extendDirectory(res.lastCluster)
		if err != nil {
			return DirEntry{}, err
		}
		at = slotRef{cluster: newCluster, index: 0}
	}

	dataCluster := uint32(0)
	if allocateData {
		dataCluster, err = v.fat.allocate()
		if err != nil {
			return DirEntry{}, err
		}
		if attributes&AttrDirectory != 0 {
			if err := v.seedDirectoryCluster(dataCluster, dir); err != nil {
				return DirEntry{}, err
			}
		}
	}

	err = v.updateSlot(at, func(entry *RawDirent) {
		*entry = RawDirent{Name: short, Ext: ext, Attributes: attributes}
		entry.stampNew()
		entry.SetFirstCluster(dataCluster)
		entry.FileSize = 0
	})
	if err != nil {
		return DirEntry{}, err
	}

	v.info("created directory entry",
		slog.String("name", name),
		slog.Uint64("slotCluster", uint64(at.cluster)),
		slog.Int("slotIndex", at.index))

	return DirEntry{
		Name:         name,
		Attributes:   attributes,
		FirstCluster: dataCluster,
		Cluster:      at.cluster,
		Index:        at.index,
	}, nil
}

// Mkdir creates a subdirectory with its "." and ".." entries in place.
func (v *Volume) Mkdir(dir uint32, name string) (DirEntry, error) {
	return v.CreateEntry(dir, name, AttrDirectory, true)
}

// seedDirectoryCluster writes the "." and ".." entries into a new
// directory's first cluster. "." points at the directory itself, ".." at
// the parent.
func (v *Volume) seedDirectoryCluster(cluster, parent uint32) error {
	copy(v.cluster, v.zeroes)

	dot := RawDirent{Attributes: AttrDirectory}
	for i := range dot.Name {
		dot.Name[i] = ' '
	}
	for i := range dot.Ext {
		dot.Ext[i] = ' '
	}
	dot.Name[0] = '.'
	dot.stampNew()
	dot.SetFirstCluster(cluster)
	encodeDirent(v.cluster, 0, &dot)

	dotdot := dot
	dotdot.Name[1] = '.'
	dotdot.SetFirstCluster(parent)
	encodeDirent(v.cluster, 1, &dotdot)

	if err := v.WriteCluster(cluster, v.cluster); err != nil {
		return fmt.Errorf("seeding directory cluster %d: %w", cluster, err)
	}
	return nil
}
