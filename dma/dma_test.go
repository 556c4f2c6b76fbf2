package dma_test

import (
	"testing"

	"github.com/baremetal-go/satafs/dma"
	"github.com/baremetal-go/satafs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAlignment(t *testing.T) {
	pool := dma.NewPool(0x100000, make([]byte, 8192))

	cmdList, err := pool.Alloc(1024, 1024)
	require.NoError(t, err)
	assert.Zero(t, cmdList.Addr%1024, "command list must be 1024-aligned")

	fis, err := pool.Alloc(256, 256)
	require.NoError(t, err)
	assert.Zero(t, fis.Addr%256)

	table, err := pool.Alloc(256, 128)
	require.NoError(t, err)
	assert.Zero(t, table.Addr%128)
}

func TestAllocZeroesMemory(t *testing.T) {
	backing := make([]byte, 1024)
	for i := range backing {
		backing[i] = 0xA5
	}
	pool := dma.NewPool(0, backing)

	buf, err := pool.Alloc(512, 4)
	require.NoError(t, err)
	for _, b := range buf.Bytes {
		require.Zero(t, b)
	}
}

func TestBuffersNeverOverlap(t *testing.T) {
	pool := dma.NewPool(0x2000, make([]byte, 4096))

	a, err := pool.Alloc(100, 4)
	require.NoError(t, err)
	b, err := pool.Alloc(100, 4)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, b.Addr, a.Addr+100)
}

func TestExhaustion(t *testing.T) {
	pool := dma.NewPool(0, make([]byte, 256))

	_, err := pool.Alloc(200, 4)
	require.NoError(t, err)
	_, err = pool.Alloc(200, 4)
	assert.ErrorIs(t, err, errors.ErrNoSpaceOnDevice)
}

func TestReleaseAndReuse(t *testing.T) {
	pool := dma.NewPool(0, make([]byte, 512))

	a, err := pool.Alloc(512, 4)
	require.NoError(t, err)
	addr := a.Addr
	a.Release()

	b, err := pool.Alloc(512, 4)
	require.NoError(t, err)
	assert.Equal(t, addr, b.Addr, "released region should be handed out again")
}

func TestBadArguments(t *testing.T) {
	pool := dma.NewPool(0, make([]byte, 512))

	_, err := pool.Alloc(0, 4)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	_, err = pool.Alloc(16, 3)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestSliceResolution(t *testing.T) {
	pool := dma.NewPool(0x8000, make([]byte, 1024))

	buf, err := pool.Alloc(64, 4)
	require.NoError(t, err)
	buf.Bytes[0] = 0x5A

	view, err := pool.Slice(buf.Addr, 64)
	require.NoError(t, err)
	assert.Equal(t, byte(0x5A), view[0])

	_, err = pool.Slice(0x100, 4)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
	_, err = pool.Slice(0x8000, 2048)
	assert.ErrorIs(t, err, errors.ErrArgumentOutOfRange)
}
