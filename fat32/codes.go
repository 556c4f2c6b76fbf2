package fat32

import (
	stderrors "errors"

	"github.com/baremetal-go/satafs/errors"
)

// Stable integer codes for callers that need the classic negative-errno
// convention at the boundary (shell tooling, foreign-function surfaces).
// Zero is success; every kind listed in codeTable maps to its own negative
// value and the meanings do not change between releases. Kinds not in the
// table (ErrIsADirectory, ErrNotADirectory, ErrUnexpectedEOF among them) have
// no code of their own and all map to CodeUnclassified.
const (
	CodeOK               = 0
	CodeIOFailed         = -1
	CodeInvalidArgument  = -2
	CodeOutOfRange       = -3
	CodeCorrupted        = -4
	CodeWrongFilesystem  = -5
	CodeNotFound         = -6
	CodeExists           = -7
	CodeNoSpace          = -8
	CodeDeviceFault      = -9
	CodeTimeout          = -10
	CodeDeviceBusy       = -11
	CodeUnclassified     = -127
)

var codeTable = []struct {
	kind errors.StorageError
	code int
}{
	{errors.ErrIOFailed, CodeIOFailed},
	{errors.ErrInvalidArgument, CodeInvalidArgument},
	{errors.ErrArgumentOutOfRange, CodeOutOfRange},
	{errors.ErrFileSystemCorrupted, CodeCorrupted},
	{errors.ErrInvalidFileSystem, CodeWrongFilesystem},
	{errors.ErrNotFound, CodeNotFound},
	{errors.ErrExists, CodeExists},
	{errors.ErrNoSpaceOnDevice, CodeNoSpace},
	{errors.ErrDeviceFault, CodeDeviceFault},
	{errors.ErrCommandTimeout, CodeTimeout},
	{errors.ErrDeviceBusy, CodeDeviceBusy},
}

// Errno maps an error from any public function of this package to its
// stable code.
func Errno(err error) int {
	if err == nil {
		return CodeOK
	}
	for _, row := range codeTable {
		if stderrors.Is(err, row.kind) {
			return row.code
		}
	}
	return CodeUnclassified
}
