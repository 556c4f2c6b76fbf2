package fat32

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/baremetal-go/satafs/errors"
)

// RawDirent is the on-disk representation of an 8.3 directory entry, broken
// down into its constituent fields.
type RawDirent struct {
	Name              [8]byte
	Ext               [3]byte
	Attributes        uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// The timestamps this driver writes are deterministic placeholders; there is
// no clock on the targets it runs on, and nothing in the stack reads the
// fields back.
const (
	placeholderTime = 10<<11 | 30<<5 // 10:30:00
	placeholderDate = (2025-1980)<<9 | 4<<5 | 18
)

// FirstCluster joins the split cluster field.
func (d *RawDirent) FirstCluster() uint32 {
	return uint32(d.FirstClusterHigh)<<16 | uint32(d.FirstClusterLow)
}

// SetFirstCluster splits n into the high/low fields.
func (d *RawDirent) SetFirstCluster(n uint32) {
	d.FirstClusterHigh = uint16(n >> 16)
	d.FirstClusterLow = uint16(n)
}

// IsDirectory reports whether the entry names a subdirectory.
func (d *RawDirent) IsDirectory() bool {
	return d.Attributes&AttrDirectory != 0
}

// IsVolumeLabel reports whether the entry is the volume label.
func (d *RawDirent) IsVolumeLabel() bool {
	return d.Attributes&AttrVolumeID != 0
}

// IsLongName reports whether the entry is a long-filename continuation,
// which this driver skips.
func (d *RawDirent) IsLongName() bool {
	return d.Attributes == AttrLongName
}

// DisplayName renders the padded 8.3 fields as NAME.EXT.
func (d *RawDirent) DisplayName() string {
	name := string(bytes.TrimRight(d.Name[:], " "))
	ext := string(bytes.TrimRight(d.Ext[:], " "))
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// decodeDirent reads the entry at index i of a directory cluster image.
func decodeDirent(cluster []byte, i int) RawDirent {
	var d RawDirent
	_ = binary.Read(bytes.NewReader(cluster[i*EntrySize:(i+1)*EntrySize]), binary.LittleEndian, &d)
	return d
}

// encodeDirent writes the entry at index i of a directory cluster image.
func encodeDirent(cluster []byte, i int, d *RawDirent) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, d)
	copy(cluster[i*EntrySize:(i+1)*EntrySize], buf.Bytes())
}

// stampNew fills the creation and modification timestamps of a fresh entry.
func (d *RawDirent) stampNew() {
	d.CreatedTimeMillis = 0
	d.CreatedTime = placeholderTime
	d.CreatedDate = placeholderDate
	d.LastAccessedDate = placeholderDate
	d.LastModifiedTime = placeholderTime
	d.LastModifiedDate = placeholderDate
}

// normalizeName splits an input filename at the last dot and pads both parts
// to the fixed 8.3 fields. No case folding happens here; callers supply
// upper-case short names. Overlong parts are truncated the way the rest of
// the 8.3 world does it.
func normalizeName(name string) (short [8]byte, ext [3]byte, err error) {
	for i := range short {
		short[i] = ' '
	}
	for i := range ext {
		ext[i] = ' '
	}

	if name == "" {
		return short, ext, errors.ErrInvalidArgument.WithMessage("empty filename")
	}

	base := name
	extension := ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base = name[:dot]
		extension = name[dot+1:]
	}
	if base == "" {
		return short, ext, errors.ErrInvalidArgument.WithMessage("filename has no base name")
	}

	copy(short[:], base)
	copy(ext[:], extension)
	return short, ext, nil
}

// DirEntry is a scan result in caller-friendly form, with enough location
// information to address the raw slot again.
type DirEntry struct {
	Name         string
	Attributes   uint8
	FirstCluster uint32
	Size         uint32

	// Cluster and Index locate the raw 32-byte slot.
	Cluster uint32
	Index   int
}

// IsDirectory reports whether the entry names a subdirectory.
func (e DirEntry) IsDirectory() bool {
	return e.Attributes&AttrDirectory != 0
}

// IsVolumeLabel reports whether the entry is the volume label.
func (e DirEntry) IsVolumeLabel() bool {
	return e.Attributes&AttrVolumeID != 0
}
