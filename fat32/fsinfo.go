package fat32

import (
	"encoding/binary"
)

// FSInfo signatures. All three must match for the hint fields to be trusted;
// a mismatch degrades the free count to unknown rather than ever rewriting
// the signatures.
const (
	fsinfoLeadSignature   = 0x41615252
	fsinfoStructSignature = 0x61417272
	fsinfoTrailSignature  = 0xAA550000

	fsinfoUnknown = 0xFFFFFFFF
)

// Field offsets inside the FSInfo sector.
const (
	fsinfoLeadOff   = 0
	fsinfoStructOff = 484
	fsinfoFreeOff   = 488
	fsinfoNextOff   = 492
	fsinfoTrailOff  = 508
)

// fsInfo is the decoded advisory sector. Valid reports whether the
// signatures checked out; when false the counts must be treated as unknown.
type fsInfo struct {
	Valid     bool
	FreeCount uint32
	NextFree  uint32
}

func parseFSInfo(sector []byte) fsInfo {
	info := fsInfo{
		FreeCount: fsinfoUnknown,
		NextFree:  2,
	}
	if binary.LittleEndian.Uint32(sector[fsinfoLeadOff:]) != fsinfoLeadSignature ||
		binary.LittleEndian.Uint32(sector[fsinfoStructOff:]) != fsinfoStructSignature ||
		binary.LittleEndian.Uint32(sector[fsinfoTrailOff:]) != fsinfoTrailSignature {
		return info
	}
	info.Valid = true
	info.FreeCount = binary.LittleEndian.Uint32(sector[fsinfoFreeOff:])
	info.NextFree = binary.LittleEndian.Uint32(sector[fsinfoNextOff:])
	return info
}

// store writes the hint fields back into an FSInfo sector image whose
// signatures are already in place. Only called when the sector validated.
func (info fsInfo) store(sector []byte) {
	binary.LittleEndian.PutUint32(sector[fsinfoFreeOff:], info.FreeCount)
	binary.LittleEndian.PutUint32(sector[fsinfoNextOff:], info.NextFree)
}

// composeFSInfo builds a fresh FSInfo sector for format.
func composeFSInfo(sector []byte, freeCount, nextFree uint32) {
	for i := range sector {
		sector[i] = 0
	}
	binary.LittleEndian.PutUint32(sector[fsinfoLeadOff:], fsinfoLeadSignature)
	binary.LittleEndian.PutUint32(sector[fsinfoStructOff:], fsinfoStructSignature)
	binary.LittleEndian.PutUint32(sector[fsinfoFreeOff:], freeCount)
	binary.LittleEndian.PutUint32(sector[fsinfoNextOff:], nextFree)
	binary.LittleEndian.PutUint32(sector[fsinfoTrailOff:], fsinfoTrailSignature)
}
