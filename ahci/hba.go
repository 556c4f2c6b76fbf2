// Package ahci drives an AHCI host bus adapter through its memory-mapped
// register file: controller reset and enable, port discovery, and the
// command-slot machinery that turns an ATA DMA request into a filled command
// header, command FIS, and PRDT.
//
// The driver is deliberately narrow. One command slot (slot 0) is ever in
// flight, which totally orders all traffic through a port; DMA addressing is
// 32-bit regardless of what CAP advertises; completion is detected by
// polling, never by interrupt.
package ahci

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/dma"
	"github.com/baremetal-go/satafs/errors"
	"github.com/baremetal-go/satafs/mmio"
)

// Controller owns the HBA register window and the per-port resources hanging
// off it.
type Controller struct {
	mm   mmio.Region
	pool *dma.Pool
	cfg  satafs.Config
	log  *slog.Logger

	cap   uint32
	pi    uint32
	slots int
	s64a  bool

	ports  [maxPorts]*Port
	active *Port
}

// NewController wraps an HBA register window. Init must be called before any
// port is usable.
func NewController(mm mmio.Region, pool *dma.Pool, cfg satafs.Config, log *slog.Logger) *Controller {
	return &Controller{mm: mm, pool: pool, cfg: cfg, log: log}
}

// Init resets and enables the HBA, then probes every implemented port. The
// first port with an established, active PHY becomes the active port; the
// rest stay unimplemented as far as this driver is concerned.
func (c *Controller) Init() error {
	if err := c.reset(); err != nil {
		return err
	}

	c.mm.Write32(regGHC, c.mm.Read32(regGHC)|ghcAE)

	c.cap = c.mm.Read32(regCAP)
	c.slots = int(c.cap>>capNCSShift&capNCSMask) + 1
	c.s64a = c.cap&capS64A != 0
	c.pi = c.mm.Read32(regPI)

	c.debug("HBA enabled",
		slog.Int("commandSlots", c.slots),
		slog.Bool("s64a", c.s64a),
		slog.String("portsImplemented", fmt.Sprintf("%#08x", c.pi)))

	for i := 0; i < maxPorts; i++ {
		if c.pi&(1<<i) == 0 {
			continue
		}
		port := &Port{hba: c, index: i, phase: PhaseUnimplemented}
		c.ports[i] = port

		if c.active != nil || !port.devicePresent() {
			continue
		}
		port.phase = PhaseIdle
		c.active = port
	}

	if c.active == nil {
		return errors.ErrNoDevice.WithMessage("no port has an established, active PHY")
	}
	return nil
}

// reset requests an HBA reset and waits for the bit to self-clear.
func (c *Controller) reset() error {
	c.mm.Write32(regGHC, c.mm.Read32(regGHC)|ghcHR)

	for budget := c.cfg.EngineStopBudget; budget > 0; budget-- {
		if c.mm.Read32(regGHC)&ghcHR == 0 {
			return nil
		}
	}
	return errors.ErrPortBringup.WithMessage("HBA reset did not complete")
}

// ActivePort returns the port selected during Init, or nil before Init.
func (c *Controller) ActivePort() *Port {
	return c.active
}

// Port returns the port at the given index, or nil if it is not implemented.
func (c *Controller) Port(index int) *Port {
	if index < 0 || index >= maxPorts {
		return nil
	}
	return c.ports[index]
}

// Version returns the raw AHCI version register.
func (c *Controller) Version() uint32 {
	return c.mm.Read32(regVS)
}

// CommandSlots returns the slot count the HBA advertises. Informational; the
// driver only ever uses slot 0.
func (c *Controller) CommandSlots() int {
	return c.slots
}

func (c *Controller) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.log != nil {
		c.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (c *Controller) debug(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug, msg, attrs...)
}

func (c *Controller) warn(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelWarn, msg, attrs...)
}
