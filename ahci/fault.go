package ahci

import (
	"fmt"

	"github.com/baremetal-go/satafs/errors"
)

// FaultError carries the diagnostic state captured when a command completed
// with the task file signalling an error. It matches errors.ErrDeviceFault
// under errors.Is.
type FaultError struct {
	Port int
	TFD  uint8
	SERR uint32
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: port %d, TFD=%#02x, SERR=%#08x",
		errors.ErrDeviceFault.Error(), e.Port, e.TFD, e.SERR)
}

func (e *FaultError) Unwrap() error {
	return errors.ErrDeviceFault
}
