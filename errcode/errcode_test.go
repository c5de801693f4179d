package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf(t *testing.T) {
	assert.Equal(t, OK, Of(nil))
	assert.Equal(t, InvalidChannel, Of(InvalidChannel))
	assert.Equal(t, Transport, Of(&E{C: Transport}))
	assert.Equal(t, Error, Of(errors.New("boom")))
}

func TestE_WrapAndMatch(t *testing.T) {
	cause := errors.New("nack")
	err := fmt.Errorf("select: %w", &E{C: Transport, Op: "select", Addr: 0x71, Err: cause})

	require.ErrorIs(t, err, Transport)
	require.ErrorIs(t, err, cause)
	assert.False(t, errors.Is(err, LockPoisoned))

	var e *E
	require.ErrorAs(t, err, &e)
	assert.Equal(t, uint16(0x71), e.Addr)
	assert.Equal(t, "select: transport @0x71: nack", e.Error())
}

func TestAddrOf(t *testing.T) {
	addr, ok := AddrOf(&E{C: Transport, Addr: 0x70})
	assert.True(t, ok)
	assert.Equal(t, uint16(0x70), addr)

	_, ok = AddrOf(&E{C: InvalidChannel})
	assert.False(t, ok)
	_, ok = AddrOf(Closed)
	assert.False(t, ok)
}
