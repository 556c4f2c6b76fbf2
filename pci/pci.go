// Package pci walks the legacy configuration space through the CF8/CFC
// address/data port pair, looking for the one function this stack cares
// about: a mass-storage controller speaking AHCI.
package pci

import (
	"fmt"

	"github.com/baremetal-go/satafs/errors"
)

const (
	ConfigAddressPort = 0x0CF8
	ConfigDataPort    = 0x0CFC

	// configEnable is bit 31 of the address register; without it the data
	// port reads as all-ones.
	configEnable = 0x80000000
)

// Config-space register offsets (all DWORD-aligned).
const (
	regVendorDevice = 0x00
	regClassCode    = 0x08
	regHeaderType   = 0x0C
	regBAR5         = 0x24
)

// headerTypeMultiFunction is bit 7 of the header-type byte, which sits in
// bits 16-23 of the dword at offset 0x0C. Clear on function 0 means the
// device implements no other functions.
const headerTypeMultiFunction = 1 << 23

// AHCI class identity: mass storage / SATA / AHCI 1.x programming interface.
const (
	classMassStorage = 0x01
	subclassSATA     = 0x06
	progIfAHCI       = 0x01
)

// PortIO is the x86 I/O-port access the scanner runs on. On bare metal this
// is backed by in/out instructions; tests and the emulated bus provide their
// own.
type PortIO interface {
	Out32(port uint16, v uint32)
	In32(port uint16) uint32
}

// Address identifies a function on the bus. Immutable once discovered.
type Address struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x.%x", a.Bus, a.Device, a.Function)
}

// ReadConfig32 reads one aligned configuration dword from the given function.
func ReadConfig32(io PortIO, addr Address, offset uint8) uint32 {
	address := configEnable |
		uint32(addr.Bus)<<16 |
		uint32(addr.Device)<<11 |
		uint32(addr.Function)<<8 |
		uint32(offset&0xFC)
	io.Out32(ConfigAddressPort, address)
	return io.In32(ConfigDataPort)
}

// Controller is the discovery result: where the function lives and where its
// AHCI register file is mapped.
type Controller struct {
	Address  Address
	VendorID uint16
	DeviceID uint16
	HBABase  uint64
}

// FindAHCIController scans the bus for the first AHCI-class function and
// extracts its ABAR (BAR5). Functions 1-7 of a device are only probed when
// function 0 is absent or advertises the multi-function header-type bit.
// The returned base always has the low flag bits stripped.
func FindAHCIController(io PortIO) (*Controller, error) {
	for bus := 0; bus < 256; bus++ {
		for device := 0; device < 32; device++ {
			for function := 0; function < 8; function++ {
				addr := Address{Bus: uint8(bus), Device: uint8(device), Function: uint8(function)}

				vendorDevice := ReadConfig32(io, addr, regVendorDevice)
				vendor := uint16(vendorDevice)
				if vendor == 0xFFFF {
					continue
				}

				if ctrl := matchAHCIFunction(io, addr, vendorDevice); ctrl != nil {
					return ctrl, nil
				}

				// A present function 0 without the multi-function bit means
				// functions 1-7 do not exist on this device.
				if function == 0 &&
					ReadConfig32(io, addr, regHeaderType)&headerTypeMultiFunction == 0 {
					break
				}
			}
		}
	}
	return nil, errors.ErrNoController
}

// matchAHCIFunction checks one present function's class identity and ABAR,
// returning a Controller when it is a usable AHCI function.
func matchAHCIFunction(io PortIO, addr Address, vendorDevice uint32) *Controller {
	class := ReadConfig32(io, addr, regClassCode)
	if uint8(class>>24) != classMassStorage ||
		uint8(class>>16) != subclassSATA ||
		uint8(class>>8) != progIfAHCI {
		return nil
	}

	bar5 := ReadConfig32(io, addr, regBAR5)
	if bar5&1 != 0 {
		// ABAR must be memory-mapped; an I/O BAR here means the function is
		// not usable by this driver.
		return nil
	}

	return &Controller{
		Address:  addr,
		VendorID: uint16(vendorDevice),
		DeviceID: uint16(vendorDevice >> 16),
		HBABase:  uint64(bar5 &^ 0xF),
	}
}
