package ahci_test

import (
	"testing"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/ahci"
	"github.com/baremetal-go/satafs/dma"
	"github.com/baremetal-go/satafs/emu"
	"github.com/baremetal-go/satafs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// testConfig shrinks the poll budgets so timeout paths finish quickly.
func testConfig() satafs.Config {
	cfg := satafs.DefaultConfig()
	cfg.IdentifyTimeoutBudget = 10_000
	cfg.ReadWriteTimeoutBudget = 10_000
	cfg.EngineStopBudget = 10_000
	return cfg
}

// newStack builds a controller over an emulated HBA with the given image
// size and brings the active port up.
func newStack(t *testing.T, sectors int) (*ahci.Controller, *ahci.Port, *emu.HBA) {
	t.Helper()

	pool := dma.NewPool(0x100000, make([]byte, 1<<20))
	image := bytesextra.NewReadWriteSeeker(make([]byte, sectors*satafs.SectorSize))

	hba, err := emu.NewHBA(pool, image)
	require.NoError(t, err)

	ctrl := ahci.NewController(hba, pool, testConfig(), nil)
	require.NoError(t, ctrl.Init())

	port := ctrl.ActivePort()
	require.NotNil(t, port)
	require.NoError(t, port.Init())
	require.Equal(t, ahci.PhaseRunning, port.Phase())

	return ctrl, port, hba
}

func TestControllerInit(t *testing.T) {
	ctrl, port, _ := newStack(t, 128)

	assert.Equal(t, 32, ctrl.CommandSlots())
	assert.Equal(t, 0, port.Index())
	assert.Equal(t, uint32(ahci.SigSATA), port.Signature())
}

func TestReadWriteRoundTrip(t *testing.T) {
	_, port, _ := newStack(t, 128)

	out := make([]byte, 2*satafs.SectorSize)
	for i := range out {
		out[i] = byte(i % 251)
	}
	require.NoError(t, port.Issue(&ahci.Request{
		Command:     0x35, // WRITE DMA EXT
		LBA:         10,
		SectorCount: 2,
		Buffer:      out,
		Direction:   ahci.DirWrite,
	}))

	in := make([]byte, 2*satafs.SectorSize)
	require.NoError(t, port.Issue(&ahci.Request{
		Command:     0x25, // READ DMA EXT
		LBA:         10,
		SectorCount: 2,
		Buffer:      in,
		Direction:   ahci.DirRead,
	}))

	assert.Equal(t, out, in)
}

func TestRequestValidation(t *testing.T) {
	_, port, _ := newStack(t, 128)

	err := port.Issue(&ahci.Request{Command: 0x25, SectorCount: 0, Buffer: nil})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	err = port.Issue(&ahci.Request{
		Command:     0x25,
		SectorCount: 200, // over MaxSectorsPerCommand
		Buffer:      make([]byte, 200*satafs.SectorSize),
		Direction:   ahci.DirRead,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	err = port.Issue(&ahci.Request{
		Command:     0x25,
		SectorCount: 4,
		Buffer:      make([]byte, satafs.SectorSize), // too small
		Direction:   ahci.DirRead,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestDeviceFaultSurfacesTFDAndSERR(t *testing.T) {
	_, port, hba := newStack(t, 128)

	hba.NextFault = &emu.Fault{TFD: 0x51 | 0x04<<8, SERR: 0x00040001}

	buf := make([]byte, satafs.SectorSize)
	err := port.Issue(&ahci.Request{
		Command:     0x25,
		LBA:         0,
		SectorCount: 1,
		Buffer:      buf,
		Direction:   ahci.DirRead,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDeviceFault)

	var fault *ahci.FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, uint8(0x51), fault.TFD)
	assert.Equal(t, uint32(0x00040001), fault.SERR)

	// The port is terminally faulted; later commands are refused without
	// hanging.
	assert.Equal(t, ahci.PhaseFaulted, port.Phase())
	err = port.Issue(&ahci.Request{
		Command: 0xEC, SectorCount: 1, Buffer: buf, Direction: ahci.DirRead,
	})
	assert.ErrorIs(t, err, errors.ErrPortBringup)
}

func TestCommandTimeout(t *testing.T) {
	_, port, hba := newStack(t, 128)

	hba.HangCommands = true
	buf := make([]byte, satafs.SectorSize)
	err := port.Issue(&ahci.Request{
		Command:     0x25,
		SectorCount: 1,
		Buffer:      buf,
		Direction:   ahci.DirRead,
		PollBudget:  500,
	})
	assert.ErrorIs(t, err, errors.ErrCommandTimeout)
	assert.Equal(t, ahci.PhaseFaulted, port.Phase())
}

func TestStuckBusyTaskFile(t *testing.T) {
	_, port, hba := newStack(t, 128)

	hba.StuckBusy = true
	buf := make([]byte, satafs.SectorSize)
	err := port.Issue(&ahci.Request{
		Command:     0x25,
		SectorCount: 1,
		Buffer:      buf,
		Direction:   ahci.DirRead,
	})
	assert.ErrorIs(t, err, errors.ErrDeviceBusy)
}

func TestOnlySlotZeroEverIssued(t *testing.T) {
	_, port, hba := newStack(t, 256)

	buf := make([]byte, 8*satafs.SectorSize)
	for i := 0; i < 10; i++ {
		require.NoError(t, port.Issue(&ahci.Request{
			Command:     0x25,
			LBA:         uint64(i),
			SectorCount: 8,
			Buffer:      buf,
			Direction:   ahci.DirRead,
		}))
	}

	require.NotEmpty(t, hba.CommandLog)
	for _, ci := range hba.CommandLog {
		assert.Equal(t, uint32(1), ci, "PORT_CI must never have more than slot 0 set")
	}
}

func TestSnapshotDecoding(t *testing.T) {
	_, port, _ := newStack(t, 128)

	s := port.Snapshot()
	assert.Equal(t, "SATA", s.DeviceKind())
	assert.Equal(t, "device present and communication established", s.DeviceDetection())
	assert.Equal(t, "active", s.PowerManagement())
	assert.Contains(t, s.CommandState(), "ST")
	assert.Contains(t, s.CommandState(), "FRE")
	assert.Contains(t, s.TaskFile(), "DRDY")
}
