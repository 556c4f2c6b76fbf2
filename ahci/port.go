package ahci

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/dma"
	"github.com/baremetal-go/satafs/errors"
)

// Phase is a port's position in its lifecycle. Faulted is terminal: a port
// that timed out or reported a task-file error takes no further commands
// until a full re-init, which this driver does not attempt on its own.
type Phase int

const (
	PhaseUnimplemented Phase = iota
	PhaseIdle
	PhaseInitializing
	PhaseRunning
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseUnimplemented:
		return "unimplemented"
	case PhaseIdle:
		return "idle"
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	case PhaseFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Direction says which way a DMA request moves data.
type Direction int

const (
	DirRead  Direction = iota // device to host
	DirWrite                  // host to device
)

// Request is one ATA DMA command. Transient: it exists only across a single
// Issue call. Buffer must hold SectorCount * 512 bytes.
type Request struct {
	Command     byte
	LBA         uint64
	SectorCount uint16
	Buffer      []byte
	Direction   Direction

	// PollBudget bounds the completion poll. Zero means the controller's
	// read/write budget.
	PollBudget uint32
}

// Port is one SATA attachment point. It exclusively owns its command list,
// received-FIS buffer, command table, and data staging buffer; no other
// component touches those regions.
type Port struct {
	hba   *Controller
	index int
	phase Phase

	cmdList *dma.Buffer // 32 command headers; only slot 0 is used
	rxFIS   *dma.Buffer // written by the HBA on completion; consumed via TFD only
	table   *dma.Buffer // CFIS + single PRDT entry
	data    *dma.Buffer // bounce buffer the single PRDT entry points at
}

func (p *Port) Index() int   { return p.index }
func (p *Port) Phase() Phase { return p.phase }

func (p *Port) read(off uint32) uint32 {
	return p.hba.mm.Read32(portWindowBase + uint32(p.index)*portWindowSize + off)
}

func (p *Port) write(off uint32, v uint32) {
	p.hba.mm.Write32(portWindowBase+uint32(p.index)*portWindowSize+off, v)
}

// devicePresent reports whether SSTS shows an established PHY to an active
// device: DET = 3 and IPM = 1. Checked only at discovery; hot-plug is out of
// scope.
func (p *Port) devicePresent() bool {
	ssts := p.read(portSSTS)
	det := ssts & sstsDETMask
	ipm := (ssts & sstsIPMMask) >> sstsIPMShift
	return det == detPresent && ipm == ipmActive
}

// Signature returns the raw PORT_SIG register.
func (p *Port) Signature() uint32 {
	return p.read(portSIG)
}

// Init brings the port from Idle to Running: stop the command engine, set up
// the DMA regions, point CLB/FB at them, clear latched status, then enable
// FIS receive and the command engine.
func (p *Port) Init() error {
	switch p.phase {
	case PhaseFaulted:
		return errors.ErrPortBringup.WithMessage(
			fmt.Sprintf("port %d is faulted and needs a reset", p.index))
	case PhaseUnimplemented:
		return errors.ErrNoDevice.WithMessage(
			fmt.Sprintf("port %d has no attached device", p.index))
	}
	p.phase = PhaseInitializing

	if err := p.stopEngine(); err != nil {
		p.phase = PhaseFaulted
		return err
	}

	if err := p.allocRegions(); err != nil {
		p.phase = PhaseFaulted
		return err
	}
	zero(p.cmdList.Bytes)
	zero(p.rxFIS.Bytes)
	zero(p.table.Bytes)

	// Slot 0's header points at the port's one command table from the
	// start; issue refreshes it, but the engine never sees a null CTBA.
	binary.LittleEndian.PutUint32(p.cmdList.Bytes[8:12], uint32(p.table.Addr))

	p.writePointers()

	// Drop anything latched from before we owned the port.
	p.write(portIS, 0xFFFFFFFF)
	p.write(portSERR, 0xFFFFFFFF)

	p.write(portCMD, p.read(portCMD)|cmdFRE)
	p.write(portCMD, p.read(portCMD)|cmdST)

	if got := p.read(portCMD); got&cmdFRE == 0 || got&cmdST == 0 {
		p.phase = PhaseFaulted
		return errors.ErrPortBringup.WithMessage(
			fmt.Sprintf("port %d: FRE/ST did not latch (PORT_CMD=%#08x)", p.index, got))
	}

	p.phase = PhaseRunning
	p.hba.debug("port running", slog.Int("port", p.index))
	return nil
}

// stopEngine clears ST then FRE and drains CR/FR, bounded by the engine-stop
// budget.
func (p *Port) stopEngine() error {
	p.write(portCMD, p.read(portCMD)&^uint32(cmdST))
	p.write(portCMD, p.read(portCMD)&^uint32(cmdFRE))

	for budget := p.hba.cfg.EngineStopBudget; budget > 0; budget-- {
		if p.read(portCMD)&(cmdCR|cmdFR) == 0 {
			return nil
		}
	}
	return errors.ErrPortBringup.WithMessage(
		fmt.Sprintf("port %d: command engine did not stop", p.index))
}

// allocRegions claims the port's DMA regions on first use. Re-init reuses the
// regions already held.
func (p *Port) allocRegions() error {
	if p.cmdList != nil {
		return nil
	}
	var err error
	if p.cmdList, err = p.hba.pool.Alloc(commandListSize, commandListAlign); err != nil {
		return errors.ErrPortBringup.WrapError(err)
	}
	if p.rxFIS, err = p.hba.pool.Alloc(receivedFISSize, receivedFISAlign); err != nil {
		return errors.ErrPortBringup.WrapError(err)
	}
	if p.table, err = p.hba.pool.Alloc(commandTableSize, commandTableAlign); err != nil {
		return errors.ErrPortBringup.WrapError(err)
	}
	dataSize := int(p.hba.cfg.MaxSectorsPerCommand) * satafs.SectorSize
	if p.data, err = p.hba.pool.Alloc(dataSize, 4096); err != nil {
		return errors.ErrPortBringup.WrapError(err)
	}
	return nil
}

// writePointers programs CLB/FB. Called at init and again before every issue:
// rewriting them on a quiescent engine is harmless and defends against any
// external code having scribbled on the registers.
func (p *Port) writePointers() {
	p.write(portCLB, uint32(p.cmdList.Addr))
	p.write(portCLBU, 0)
	p.write(portFB, uint32(p.rxFIS.Addr))
	p.write(portFBU, 0)
}

// Issue runs one ATA DMA command through slot 0 and blocks until completion,
// error, or budget exhaustion. After a timeout the caller's buffer is
// poisoned: the HBA may still complete the transfer asynchronously.
func (p *Port) Issue(req *Request) error {
	if p.phase != PhaseRunning {
		return errors.ErrPortBringup.WithMessage(
			fmt.Sprintf("port %d is %s, not running", p.index, p.phase))
	}
	if err := p.checkRequest(req); err != nil {
		return err
	}

	if err := p.waitTaskFileIdle(); err != nil {
		return err
	}

	byteCount := int(req.SectorCount) * satafs.SectorSize
	if req.Direction == DirWrite {
		copy(p.data.Bytes, req.Buffer[:byteCount])
	}

	p.writePointers()
	p.fillSlotZero(req, byteCount)

	p.write(portIS, 0xFFFFFFFF)
	p.write(portCI, 1<<0)

	if err := p.waitCompletion(req); err != nil {
		return err
	}

	// PRDBC is the HBA's own count of bytes moved. Short counts have been
	// seen on real parts after spin-up; surface them but do not fail.
	if got := binary.LittleEndian.Uint32(p.cmdList.Bytes[4:8]); got != uint32(byteCount) {
		p.hba.warn("transfer byte count mismatch",
			slog.Int("port", p.index),
			slog.Uint64("expected", uint64(byteCount)),
			slog.Uint64("transferred", uint64(got)))
	}

	if req.Direction == DirRead {
		copy(req.Buffer[:byteCount], p.data.Bytes)
	}
	return nil
}

func (p *Port) checkRequest(req *Request) error {
	if req.SectorCount == 0 {
		return errors.ErrInvalidArgument.WithMessage("sector count is zero")
	}
	if uint32(req.SectorCount) > p.hba.cfg.MaxSectorsPerCommand {
		return errors.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"sector count %d exceeds the per-command limit %d",
			req.SectorCount, p.hba.cfg.MaxSectorsPerCommand))
	}
	byteCount := int(req.SectorCount) * satafs.SectorSize
	if len(req.Buffer) < byteCount {
		return errors.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"buffer holds %d bytes, request needs %d", len(req.Buffer), byteCount))
	}
	if byteCount > prdtMaxBytes {
		return errors.ErrInvalidArgument.WithMessage("transfer exceeds a single PRDT entry")
	}
	return nil
}

// waitTaskFileIdle polls TFD until BSY and DRQ drop.
func (p *Port) waitTaskFileIdle() error {
	for budget := p.hba.cfg.EngineStopBudget; budget > 0; budget-- {
		if p.read(portTFD)&(tfdBSY|tfdDRQ) == 0 {
			return nil
		}
	}
	return errors.ErrDeviceBusy.WithMessage(
		fmt.Sprintf("port %d: task file stuck busy before issue", p.index))
}

// fillSlotZero writes the command header, command FIS, and the single PRDT
// entry for slot 0.
func (p *Port) fillSlotZero(req *Request, byteCount int) {
	header := p.cmdList.Bytes[:headerSize]

	// DW0: CFL = 5 dwords of H2D FIS; the direction bit is set when data
	// flows device to host; PRDTL = 1 in the upper half.
	flags := uint32(h2dFISLen / 4)
	if req.Direction == DirRead {
		flags |= 1 << 6
	}
	flags |= 1 << 16
	binary.LittleEndian.PutUint32(header[0:4], flags)
	binary.LittleEndian.PutUint32(header[4:8], 0) // PRDBC, updated by the HBA
	binary.LittleEndian.PutUint32(header[8:12], uint32(p.table.Addr))
	binary.LittleEndian.PutUint32(header[12:16], 0)

	zero(p.table.Bytes)
	p.fillCFIS(req)

	prdt := p.table.Bytes[prdtOffset : prdtOffset+prdtEntrySize]
	binary.LittleEndian.PutUint32(prdt[0:4], uint32(p.data.Addr))
	binary.LittleEndian.PutUint32(prdt[4:8], 0)
	binary.LittleEndian.PutUint32(prdt[12:16], uint32(byteCount-1)|1<<31) // DBC | interrupt on completion
}

// fillCFIS composes the H2D register FIS: C=1, LBA split across six bytes,
// device byte in LBA mode, 16-bit sector count split low/high.
func (p *Port) fillCFIS(req *Request) {
	cfis := p.table.Bytes[:h2dFISLen]
	cfis[0] = fisTypeRegH2D
	cfis[1] = 1 << 7 // C: this FIS carries a command
	cfis[2] = req.Command
	cfis[3] = 0 // features
	cfis[4] = byte(req.LBA)
	cfis[5] = byte(req.LBA >> 8)
	cfis[6] = byte(req.LBA >> 16)
	cfis[7] = 0x40 // LBA mode
	cfis[8] = byte(req.LBA >> 24)
	cfis[9] = byte(req.LBA >> 32)
	cfis[10] = byte(req.LBA >> 40)
	cfis[11] = 0 // features expanded
	cfis[12] = byte(req.SectorCount)
	cfis[13] = byte(req.SectorCount >> 8)
	cfis[14] = 0 // ICC
	cfis[15] = 0 // control
}

// waitCompletion polls CI until slot 0 retires, watching TFD for ERR/DF on
// every iteration.
func (p *Port) waitCompletion(req *Request) error {
	budget := req.PollBudget
	if budget == 0 {
		budget = p.hba.cfg.ReadWriteTimeoutBudget
	}

	for ; budget > 0; budget-- {
		tfd := p.read(portTFD)
		if tfd&(tfdERR|tfdDF) != 0 {
			p.phase = PhaseFaulted
			return &FaultError{
				Port: p.index,
				TFD:  uint8(tfd),
				SERR: p.read(portSERR),
			}
		}
		if p.read(portCI)&1 == 0 {
			return nil
		}
	}

	p.phase = PhaseFaulted
	return errors.ErrCommandTimeout.WithMessage(fmt.Sprintf(
		"port %d: slot 0 did not retire (command %#02x); buffer is poisoned",
		p.index, req.Command))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
