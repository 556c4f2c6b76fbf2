// AHCI 1.x register map, generic host control plus the per-port windows.
// Offsets and bit positions follow the AHCI specification; only the registers
// this driver touches are named.

package ahci

// Generic host control registers, relative to the HBA base.
const (
	regCAP = 0x00 // Host Capabilities
	regGHC = 0x04 // Global Host Control
	regIS  = 0x08 // Interrupt Status
	regPI  = 0x0C // Ports Implemented
	regVS  = 0x10 // Version
)

// GHC bits.
const (
	ghcHR = 1 << 0  // HBA Reset, self-clearing
	ghcIE = 1 << 1  // Interrupt Enable
	ghcAE = 1 << 31 // AHCI Enable
)

// CAP fields.
const (
	capNCSShift = 8 // Number of Command Slots, 0-based
	capNCSMask  = 0x1F
	capS64A     = 1 << 31 // 64-bit Addressing supported
)

// Port register windows: 0x80 bytes each, starting at HBA base + 0x100.
const (
	portWindowBase = 0x100
	portWindowSize = 0x80
	maxPorts       = 32
)

// Per-port registers, relative to the port window.
const (
	portCLB  = 0x00 // Command List Base Address
	portCLBU = 0x04 // Command List Base Address Upper 32 bits
	portFB   = 0x08 // FIS Base Address
	portFBU  = 0x0C // FIS Base Address Upper 32 bits
	portIS   = 0x10 // Interrupt Status
	portIE   = 0x14 // Interrupt Enable
	portCMD  = 0x18 // Command and Status
	portTFD  = 0x20 // Task File Data
	portSIG  = 0x24 // Signature
	portSSTS = 0x28 // SATA Status
	portSCTL = 0x2C // SATA Control
	portSERR = 0x30 // SATA Error
	portSACT = 0x34 // SATA Active
	portCI   = 0x38 // Command Issue
)

// PORT_CMD bits.
const (
	cmdST  = 1 << 0  // Start command engine
	cmdSUD = 1 << 1  // Spin-Up Device
	cmdPOD = 1 << 2  // Power On Device
	cmdFRE = 1 << 4  // FIS Receive Enable
	cmdFR  = 1 << 14 // FIS Receive Running
	cmdCR  = 1 << 15 // Command List Running
)

// PORT_TFD bits (mirror of the ATA status byte).
const (
	tfdERR = 1 << 0 // Error
	tfdDRQ = 1 << 3 // Data Request
	tfdDF  = 1 << 5 // Device Fault
	tfdBSY = 1 << 7 // Busy
)

// PORT_SSTS fields.
const (
	sstsDETMask   = 0x00F
	detPresent    = 0x3 // device present, PHY communication established
	sstsIPMMask   = 0xF00
	sstsIPMShift  = 8
	ipmActive     = 0x1
)

// Device signatures reported in PORT_SIG.
const (
	SigSATA   = 0x00000101
	SigSATAPI = 0xEB140101
)

// FIS types.
const (
	fisTypeRegH2D = 0x27
	fisTypeRegD2H = 0x34
)

// DMA structure geometry.
const (
	commandListSize  = 1024 // 32 headers of 32 bytes
	commandListAlign = 1024
	receivedFISSize  = 256
	receivedFISAlign = 256
	commandTableSize = 256 // 64-byte CFIS + ATAPI + reserved + one PRDT entry
	commandTableAlign = 128

	headerSize = 32
	cfisSlot   = 64 // space reserved for the command FIS in a table
	h2dFISLen  = 20 // bytes actually occupied by an H2D register FIS
	prdtOffset   = 0x80
	prdtEntrySize = 16

	// The single PRDT entry's byte count is a 22-bit count-minus-one field.
	prdtMaxBytes = 1 << 22
)
