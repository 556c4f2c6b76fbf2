// A file-like read abstraction over a cluster chain, for callers that want
// io.Reader/io.Seeker semantics instead of a single whole-file copy.

package fat32

import (
	"fmt"
	"io"

	"github.com/baremetal-go/satafs/errors"
)

// FileStream is a read-only stream over one file's cluster chain. The chain
// is resolved once at open; the stream then serves reads cluster by cluster
// with a one-cluster buffer.
//
// A FileStream borrows its Volume and shares its fate: it must not be used
// concurrently with other operations on the same Volume.
type FileStream struct {
	vol   *Volume
	chain []uint32
	size  int64

	position int64
	buf      []byte
	buffered int // index into chain of the buffered cluster, -1 for none
}

// OpenFile resolves the named file's cluster chain and returns a stream
// positioned at byte 0.
func (v *Volume) OpenFile(dir uint32, name string) (*FileStream, error) {
	entry, err := v.Lookup(dir, name)
	if err != nil {
		return nil, err
	}
	if entry.IsDirectory() || entry.IsVolumeLabel() {
		return nil, errors.ErrIsADirectory.WithMessage(name)
	}

	chain, err := v.resolveChain(entry.FirstCluster, entry.Size)
	if err != nil {
		return nil, err
	}

	return &FileStream{
		vol:      v,
		chain:    chain,
		size:     int64(entry.Size),
		buf:      make([]byte, v.geo.BytesPerCluster),
		buffered: -1,
	}, nil
}

// resolveChain walks the FAT once and returns the file's clusters in order,
// bounded by the cluster count the recorded size implies.
func (v *Volume) resolveChain(head uint32, size uint32) ([]uint32, error) {
	if size == 0 || !v.geo.ValidCluster(head) {
		return nil, nil
	}

	maxClusters := (size + v.geo.BytesPerCluster - 1) / v.geo.BytesPerCluster
	chain := make([]uint32, 0, maxClusters)

	current := head
	for v.geo.ValidCluster(current) && uint32(len(chain)) < maxClusters {
		chain = append(chain, current)
		next, err := v.fat.next(current)
		if err != nil {
			return nil, err
		}
		if next >= EOCMin {
			break
		}
		current = next
	}
	return chain, nil
}

// Size returns the file size recorded in the directory entry.
func (s *FileStream) Size() int64 {
	return s.size
}

// Read implements io.Reader.
func (s *FileStream) Read(p []byte) (int, error) {
	if s.position >= s.size {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) && s.position < s.size {
		clusterIdx := int(s.position / int64(s.vol.geo.BytesPerCluster))
		offset := int(s.position % int64(s.vol.geo.BytesPerCluster))

		if clusterIdx >= len(s.chain) {
			// The chain ended before the recorded size; surface what the
			// clusters actually held.
			return total, errors.ErrUnexpectedEOF.WithMessage(
				"cluster chain shorter than the recorded file size")
		}

		if s.buffered != clusterIdx {
			if err := s.vol.ReadCluster(s.chain[clusterIdx], s.buf); err != nil {
				return total, err
			}
			s.buffered = clusterIdx
		}

		n := int(s.vol.geo.BytesPerCluster) - offset
		if remaining := int(s.size - s.position); n > remaining {
			n = remaining
		}
		if n > len(p)-total {
			n = len(p) - total
		}
		copy(p[total:total+n], s.buf[offset:offset+n])
		total += n
		s.position += int64(n)
	}
	return total, nil
}

// Seek implements io.Seeker.
func (s *FileStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.position + offset
	case io.SeekEnd:
		target = s.size + offset
	default:
		return s.position, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unknown whence %d", whence))
	}
	if target < 0 {
		return s.position, errors.ErrArgumentOutOfRange.WithMessage(
			"seek before the start of the file")
	}
	s.position = target
	return target, nil
}
