package pca9548a_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"i2cmux-go/drivers/pca9548a"
	"i2cmux-go/errcode"
	"i2cmux-go/x/i2csim"
)

const sensorAddr = 0x38

// newSim returns a bus with one switch at BaseAddress and a register device
// at sensorAddr behind every channel.
func newSim(t *testing.T) (*i2csim.Bus, *i2csim.Mux) {
	t.Helper()
	b := i2csim.New()
	sw := i2csim.NewMux()
	b.Attach(pca9548a.BaseAddress, sw)
	for ch := 0; ch < pca9548a.NumChannels; ch++ {
		b.AttachTo(sw.Channel(ch), sensorAddr, &i2csim.Register{})
	}
	return b, sw
}

// stillLocked reports whether dev cannot be selected within 10ms. dev must
// use an AsyncMutex.
func stillLocked(t *testing.T, dev *pca9548a.Device) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	h, err := dev.SelectNone(ctx)
	if err == nil {
		_ = h.Close()
		return false
	}
	require.ErrorIs(t, err, errcode.Cancelled)
	return true
}

func TestAddress(t *testing.T) {
	assert.Equal(t, uint16(0x70), pca9548a.Address(0))
	assert.Equal(t, uint16(0x75), pca9548a.Address(5))
	assert.Equal(t, uint16(0x77), pca9548a.Address(0x0F))
}

func TestSelectSingle_WritesMaskBeforeTraffic(t *testing.T) {
	ctx := context.Background()
	bus, sw := newSim(t)
	mux := pca9548a.New(bus)

	for ch := 0; ch < pca9548a.NumChannels; ch++ {
		bus.Reset()
		h, err := mux.SelectSingle(ctx, ch)
		require.NoError(t, err)
		assert.Equal(t, uint8(1<<ch), h.Mask())
		require.NoError(t, h.Write(sensorAddr, []byte{0x00, byte(ch)}))
		require.NoError(t, h.Close())

		log := bus.Log()
		require.Len(t, log, 2, "channel %d", ch)
		assert.Equal(t, uint16(pca9548a.BaseAddress), log[0].Addr)
		assert.Equal(t, []byte{1 << ch}, log[0].W)
		assert.Equal(t, uint16(sensorAddr), log[1].Addr)
		assert.Equal(t, uint8(1<<ch), sw.Mask())
	}
}

func TestSelectMask_AllMasks(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus)

	for m := 0; m <= 0xFF; m++ {
		bus.Reset()
		h, err := mux.SelectMask(ctx, uint8(m))
		require.NoError(t, err)
		require.NoError(t, h.Close())
		require.Equal(t, [][]byte{{byte(m)}}, bus.Writes(pca9548a.BaseAddress), "mask %#x", m)
		require.Len(t, bus.Log(), 1)
	}
}

func TestSelectSingle_InvalidChannel(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus)

	for _, ch := range []int{-1, 8, 9, 255} {
		h, err := mux.SelectSingle(ctx, ch)
		assert.Nil(t, h)
		assert.ErrorIs(t, err, errcode.InvalidChannel)

		_, err = mux.Single(ch)
		assert.ErrorIs(t, err, errcode.InvalidChannel)
	}
	assert.Empty(t, bus.Log())

	// The lock was never taken.
	h, err := mux.SelectSingle(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestSelect_SerialisesHandles(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus)

	h1, err := mux.SelectSingle(ctx, 1)
	require.NoError(t, err)

	started := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		close(started)
		h2, err := mux.SelectSingle(ctx, 2)
		if err != nil {
			return err
		}
		defer h2.Close()
		return h2.Write(sensorAddr, []byte{0x02})
	})

	<-started
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, [][]byte{{0x02}}, bus.Writes(pca9548a.BaseAddress), "second select ran while first handle alive")

	require.NoError(t, h1.Write(sensorAddr, []byte{0x01}))
	require.NoError(t, h1.Close())
	require.NoError(t, g.Wait())

	assert.Equal(t, [][]byte{{0x02}, {0x04}}, bus.Writes(pca9548a.BaseAddress))
	assert.Equal(t, [][]byte{{0x01}, {0x02}}, bus.Writes(sensorAddr))
}

func TestSelect_FailedWriteReleasesLock(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus, pca9548a.Config{Mutex: pca9548a.NewAsyncMutex()})

	boom := errors.New("arbitration lost")
	bus.FailNext(pca9548a.BaseAddress, boom)

	h, err := mux.SelectSingle(ctx, 3)
	assert.Nil(t, h)
	require.ErrorIs(t, err, errcode.Transport)
	require.ErrorIs(t, err, boom)
	addr, ok := errcode.AddrOf(err)
	require.True(t, ok)
	assert.Equal(t, uint16(pca9548a.BaseAddress), addr)

	assert.False(t, stillLocked(t, mux))
}

func TestHandle_ClosedIsRejected(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus)

	h, err := mux.SelectSingle(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	n := len(bus.Log())
	assert.ErrorIs(t, h.Write(sensorAddr, []byte{0}), errcode.Closed)
	assert.ErrorIs(t, h.Transaction(sensorAddr, nil), errcode.Closed)
	assert.Len(t, bus.Log(), n)
}

func TestHandle_ForwardErrorIsTagged(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus)

	h, err := mux.SelectSingle(ctx, 0)
	require.NoError(t, err)
	defer h.Close()

	err = h.Write(0x50, []byte{0})
	require.ErrorIs(t, err, errcode.Transport)
	require.ErrorIs(t, err, i2csim.ErrNack)
	addr, _ := errcode.AddrOf(err)
	assert.Equal(t, uint16(0x50), addr)
}

func TestHandle_ReadWriteAndTransaction(t *testing.T) {
	ctx := context.Background()
	bus, sw := newSim(t)
	dev := &i2csim.Register{}
	bus.AttachTo(sw.Channel(6), 0x48, dev)
	dev.Regs[0x02] = 0x5A
	mux := pca9548a.New(bus)

	h, err := mux.SelectSingle(ctx, 6)
	require.NoError(t, err)
	defer h.Close()

	r := []byte{0}
	require.NoError(t, h.WriteRead(0x48, []byte{0x02}, r))
	assert.Equal(t, byte(0x5A), r[0])

	require.NoError(t, h.Write(0x48, []byte{0x10, 0x01, 0x02}))
	r2 := make([]byte, 2)
	require.NoError(t, h.Write(0x48, []byte{0x10}))
	require.NoError(t, h.Read(0x48, r2))
	assert.Equal(t, []byte{0x01, 0x02}, r2)

	r3 := []byte{0}
	require.NoError(t, h.Transaction(0x48, []pca9548a.Operation{
		{Write: []byte{0x11}},
		{Read: r3},
	}))
	assert.Equal(t, byte(0x02), r3[0])
}

// txOnly hides the simulator's Transaction method.
type txOnly struct{ pca9548a.Bus }

func TestTransaction_FallbackWithoutTransactor(t *testing.T) {
	bus, _ := newSim(t)
	dev := &i2csim.Register{}
	dev.Regs[0x20] = 0x99
	bus.Attach(0x48, dev)

	r := []byte{0}
	require.NoError(t, pca9548a.Transaction(txOnly{bus}, 0x48, []pca9548a.Operation{
		{Write: []byte{0x21, 0x07}},
		{Write: []byte{0x20}},
		{Read: r},
	}))
	assert.Equal(t, byte(0x99), r[0])
	assert.Equal(t, byte(0x07), dev.Regs[0x21])

	log := bus.Log()
	require.Len(t, log, 2)
	assert.False(t, log[0].Batch)
	assert.Equal(t, []byte{0x20}, log[1].W)
	assert.Equal(t, 1, log[1].Rn)
}

func TestReadMask(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus)

	h, err := mux.SelectMask(ctx, 0xA5)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	m, err := mux.ReadMask(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xA5), m)

	bus.FailNext(pca9548a.BaseAddress, i2csim.ErrNack)
	_, err = mux.ReadMask(ctx)
	assert.ErrorIs(t, err, errcode.Transport)

	// Neither call leaked the lock.
	h, err = mux.SelectNone(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestDo_ReleasesOnError(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mux := pca9548a.New(bus)

	want := errors.New("sensor said no")
	err := mux.Do(ctx, 1<<4, func(h *pca9548a.Handle) error {
		assert.Equal(t, uint8(1<<4), h.Mask())
		return want
	})
	assert.Equal(t, want, err)

	require.NoError(t, mux.Do(ctx, 0, func(*pca9548a.Handle) error { return nil }))
}

func TestDo_PanicPoisons(t *testing.T) {
	ctx := context.Background()
	bus, _ := newSim(t)
	mu := &pca9548a.BlockingMutex{}
	mux := pca9548a.New(bus, pca9548a.Config{Mutex: mu})

	assert.Panics(t, func() {
		_ = mux.Do(ctx, 1, func(*pca9548a.Handle) error { panic("driver bug") })
	})
	assert.True(t, mu.Poisoned())

	_, err := mux.SelectSingle(ctx, 0)
	assert.ErrorIs(t, err, errcode.LockPoisoned)
}

func TestChannel_TxSelectsPerCall(t *testing.T) {
	bus, _ := newSim(t)
	mux := pca9548a.New(bus, pca9548a.Config{Mutex: pca9548a.NewAsyncMutex()})

	ch, err := mux.Single(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x02), ch.Mask())
	assert.Same(t, mux, ch.Device())

	require.NoError(t, ch.Tx(sensorAddr, []byte{0x01}, nil))
	require.NoError(t, ch.Transaction(sensorAddr, []pca9548a.Operation{{Write: []byte{0x02}}}))

	log := bus.Log()
	require.Len(t, log, 4)
	assert.Equal(t, uint16(pca9548a.BaseAddress), log[0].Addr)
	assert.Equal(t, uint16(sensorAddr), log[1].Addr)
	assert.Equal(t, uint16(pca9548a.BaseAddress), log[2].Addr)
	assert.True(t, log[3].Batch)

	assert.False(t, stillLocked(t, mux))
}
