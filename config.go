package satafs

// Config carries the tunables consumed by the lower layers. Zero values are
// not usable; start from DefaultConfig.
type Config struct {
	// MaxSectorsPerCommand bounds a single ATA DMA transfer. 128 sectors is
	// 64 KiB, which fits one PRDT entry with room to spare. Larger requests
	// are chunked by the ATA layer.
	MaxSectorsPerCommand uint32

	// IdentifyTimeoutBudget and ReadWriteTimeoutBudget bound the completion
	// polls for IDENTIFY DEVICE and READ/WRITE DMA EXT respectively. The
	// budgets are iteration counts, not durations: on bare metal there is no
	// clock to consult, so they only guarantee an upper bound on spinning
	// against stuck hardware.
	IdentifyTimeoutBudget  uint32
	ReadWriteTimeoutBudget uint32

	// EngineStopBudget bounds the short control polls, each a wait for a
	// bit to clear on the order of a second: the GHC.HR self-clear after an
	// HBA reset, the CR/FR drain when stopping a port's command engine, and
	// the task-file-idle wait before a command is issued.
	EngineStopBudget uint32

	// FillChunkSize is the staging-buffer size used when zero-filling disk
	// regions (format, cluster clearing).
	FillChunkSize uint32
}

// DefaultConfig returns the settings every shipped build uses. The poll
// budgets approximate 5 s (identify) and 10 s (read/write) on the hardware
// the stack was brought up on.
func DefaultConfig() Config {
	return Config{
		MaxSectorsPerCommand:   128,
		IdentifyTimeoutBudget:  5_000_000,
		ReadWriteTimeoutBudget: 10_000_000,
		EngineStopBudget:       1_000_000,
		FillChunkSize:          1024,
	}
}
