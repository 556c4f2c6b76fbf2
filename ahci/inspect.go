// Read-only port inspection. This file consumes the same register map as the
// command path but never writes a register; the command path never calls it.

package ahci

import (
	"fmt"
	"strings"
)

// PortStatus is a decoded snapshot of a port's observable state.
type PortStatus struct {
	Index     int
	Phase     Phase
	Signature uint32
	SSTS      uint32
	TFD       uint32
	CMD       uint32
	SERR      uint32
	CI        uint32
}

// Snapshot reads the port's status registers. Safe in any phase.
func (p *Port) Snapshot() PortStatus {
	return PortStatus{
		Index:     p.index,
		Phase:     p.phase,
		Signature: p.read(portSIG),
		SSTS:      p.read(portSSTS),
		TFD:       p.read(portTFD),
		CMD:       p.read(portCMD),
		SERR:      p.read(portSERR),
		CI:        p.read(portCI),
	}
}

// DeviceDetection decodes the DET field of SSTS.
func (s PortStatus) DeviceDetection() string {
	switch s.SSTS & sstsDETMask {
	case 0:
		return "no device detected, PHY offline"
	case 1:
		return "device present but no communication"
	case 3:
		return "device present and communication established"
	case 4:
		return "PHY offline, in BIST or loopback mode"
	default:
		return "unknown state"
	}
}

// PowerManagement decodes the IPM field of SSTS.
func (s PortStatus) PowerManagement() string {
	switch (s.SSTS & sstsIPMMask) >> sstsIPMShift {
	case 0:
		return "not present, disabled"
	case 1:
		return "active"
	case 2:
		return "partial power management"
	case 6:
		return "slumber power management"
	case 8:
		return "DevSleep power management"
	default:
		return "unknown state"
	}
}

// DeviceKind names the attached device from its signature.
func (s PortStatus) DeviceKind() string {
	switch s.Signature {
	case SigSATA:
		return "SATA"
	case SigSATAPI:
		return "SATAPI"
	default:
		return fmt.Sprintf("unknown (%#08x)", s.Signature)
	}
}

var statusBits = []struct {
	mask uint32
	name string
}{
	{0x80, "BSY"}, {0x40, "DRDY"}, {0x20, "DF"}, {0x10, "DSC"},
	{0x08, "DRQ"}, {0x04, "CORR"}, {0x02, "IDX"}, {0x01, "ERR"},
}

var errorBits = []struct {
	mask uint32
	name string
}{
	{0x80, "ICRC"}, {0x40, "UNC"}, {0x20, "MC"}, {0x10, "IDNF"},
	{0x08, "MCR"}, {0x04, "ABRT"}, {0x02, "TK0NF"}, {0x01, "AMNF"},
}

var cmdBits = []struct {
	mask uint32
	name string
}{
	{0x0001, "ST"}, {0x0002, "SUD"}, {0x0004, "POD"}, {0x0008, "CLO"},
	{0x0010, "FRE"}, {0x0020, "MPSS"}, {0x4000, "FR"}, {0x8000, "CR"},
}

// TaskFile renders the ATA status byte, and the error byte when ERR is set.
func (s PortStatus) TaskFile() string {
	status := s.TFD & 0xFF
	if status == 0 && (s.TFD>>8)&0xFF == 0 {
		return "(no error reported)"
	}

	var parts []string
	for _, b := range statusBits {
		if status&b.mask != 0 {
			parts = append(parts, b.name)
		}
	}
	out := strings.Join(parts, " ")

	if status&tfdERR != 0 {
		parts = parts[:0]
		for _, b := range errorBits {
			if (s.TFD>>8)&b.mask != 0 {
				parts = append(parts, b.name)
			}
		}
		out += " [error: " + strings.Join(parts, " ") + "]"
	}
	return out
}

// CommandState renders the PORT_CMD control and run bits.
func (s PortStatus) CommandState() string {
	var parts []string
	for _, b := range cmdBits {
		if s.CMD&b.mask != 0 {
			parts = append(parts, b.name)
		}
	}
	if len(parts) == 0 {
		return "(engine stopped)"
	}
	return strings.Join(parts, " ")
}

func (s PortStatus) String() string {
	return fmt.Sprintf(
		"port %d (%s, %s)\n  detection: %s\n  power: %s\n  task file: %s\n  command: %s\n  SERR: %#08x",
		s.Index, s.Phase, s.DeviceKind(), s.DeviceDetection(), s.PowerManagement(),
		s.TaskFile(), s.CommandState(), s.SERR)
}
