package fat32

import (
	"log/slog"

	"github.com/boljen/go-bitmap"
)

// UsageReport is the result of a full cross-check of the directory tree
// against the FAT: how many clusters are allocated, how many the directory
// tree actually references, and how far the advisory FSInfo count has
// drifted from the truth.
type UsageReport struct {
	TotalClusters    uint32
	FreeClusters     uint32
	UsedClusters     uint32
	OrphanedClusters uint32

	FSInfoFreeCount uint32
	FSInfoValid     bool
}

// FreeCountDrift returns how far FSInfo's free count is from the scanned
// truth; ok is false when the hint is unknown.
func (r UsageReport) FreeCountDrift() (int64, bool) {
	if !r.FSInfoValid || r.FSInfoFreeCount == fsinfoUnknown {
		return 0, false
	}
	return int64(r.FSInfoFreeCount) - int64(r.FreeClusters), true
}

// ScanUsage walks every directory reachable from the root, marks every
// cluster their chains reference, then sweeps the FAT. An allocated cluster
// no chain references is orphaned: the residue of a crash between chain
// allocation and directory publication.
func (v *Volume) ScanUsage() (UsageReport, error) {
	report := UsageReport{TotalClusters: v.geo.TotalClusters}

	referenced := bitmap.Bitmap(bitmap.NewSlice(int(v.geo.TotalClusters + 2)))

	// Directory traversal is iterative; the work list carries first
	// clusters of directories still to walk.
	pending := []uint32{v.geo.RootCluster}
	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		// A directory met twice means a cycle in the tree; walking it again
		// would never terminate.
		if referenced.Get(int(dir)) {
			continue
		}
		if err := v.markChain(referenced, dir); err != nil {
			return report, err
		}

		entries, err := v.List(dir)
		if err != nil {
			return report, err
		}
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				continue
			}
			if !v.geo.ValidCluster(entry.FirstCluster) {
				continue
			}
			if entry.IsDirectory() {
				pending = append(pending, entry.FirstCluster)
			} else if !entry.IsVolumeLabel() {
				if err := v.markChain(referenced, entry.FirstCluster); err != nil {
					return report, err
				}
			}
		}
	}

	for c := uint32(2); c < v.geo.TotalClusters+2; c++ {
		raw, err := v.fat.entry(c)
		if err != nil {
			return report, err
		}
		switch raw & entryMask {
		case FreeCluster:
			report.FreeClusters++
		case BadCluster:
			report.UsedClusters++
		default:
			report.UsedClusters++
			if !referenced.Get(int(c)) {
				report.OrphanedClusters++
			}
		}
	}

	info, _ := v.readFSInfo()
	report.FSInfoValid = info.Valid
	report.FSInfoFreeCount = info.FreeCount

	if drift, ok := report.FreeCountDrift(); ok && drift != 0 {
		v.warn("FSInfo free count has drifted",
			slog.Int64("drift", drift),
			slog.Uint64("scanned", uint64(report.FreeClusters)))
	}
	return report, nil
}

// markChain sets the referenced bit for every cluster in a chain, stopping
// if it meets a cluster already marked (a cycle would otherwise never
// terminate).
func (v *Volume) markChain(referenced bitmap.Bitmap, head uint32) error {
	current := head
	for v.geo.ValidCluster(current) {
		if referenced.Get(int(current)) {
			return nil
		}
		referenced.Set(int(current), true)

		next, err := v.fat.next(current)
		if err != nil {
			return err
		}
		if next >= EOCMin {
			return nil
		}
		current = next
	}
	return nil
}
