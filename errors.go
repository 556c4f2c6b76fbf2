// Re-exports of the error kinds most callers match on, so that importing the
// errors subpackage is only needed when constructing new ones.

package satafs

import "github.com/baremetal-go/satafs/errors"

type DriverError = errors.DriverError

const (
	ErrNoController    = errors.ErrNoController
	ErrNoDevice        = errors.ErrNoDevice
	ErrCommandTimeout  = errors.ErrCommandTimeout
	ErrDeviceFault     = errors.ErrDeviceFault
	ErrNotFound        = errors.ErrNotFound
	ErrExists          = errors.ErrExists
	ErrNoSpaceOnDevice = errors.ErrNoSpaceOnDevice
	ErrInvalidArgument = errors.ErrInvalidArgument
)
