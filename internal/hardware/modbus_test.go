package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRegisters struct {
	holding map[uint16]uint16
	inputs  map[uint16]bool
	coils   map[uint16]uint16
	err     error
}

func newFakeRegisters() *fakeRegisters {
	return &fakeRegisters{
		holding: map[uint16]uint16{},
		inputs:  map[uint16]bool{},
		coils:   map[uint16]uint16{},
	}
}

func (f *fakeRegisters) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.holding[address]
	return []byte{byte(v >> 8), byte(v)}, nil
}

func (f *fakeRegisters) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.inputs[address] {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

func (f *fakeRegisters) WriteSingleCoil(address, value uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.coils[address] = value
	return []byte{byte(address >> 8), byte(address), byte(value >> 8), byte(value)}, nil
}

func testModbusConfig() ModbusConfig {
	return ModbusConfig{
		FeedLevelReg:     10,
		WaterLevelReg:    11,
		DistanceScale:    0.1,
		FeedButtonInput:  0,
		WaterButtonInput: 1,
		FeedCoil:         4,
		WaterCoil:        5,
		MaxFailures:      3,
	}
}

func TestModbusBoardReads(t *testing.T) {
	regs := newFakeRegisters()
	regs.holding[10] = 1234 // 123.4 cm
	regs.holding[11] = 100
	regs.inputs[1] = true

	b := newModbusBoard(regs, testModbusConfig())
	require.NoError(t, b.Validate())

	d, err := b.FeedLevel.DistanceCM()
	require.NoError(t, err)
	require.InDelta(t, 123.4, d, 1e-9)

	d, err = b.WaterLevel.DistanceCM()
	require.NoError(t, err)
	require.InDelta(t, 10.0, d, 1e-9)

	pressed, err := b.FeedButton.Pressed()
	require.NoError(t, err)
	require.False(t, pressed)

	pressed, err = b.WaterButton.Pressed()
	require.NoError(t, err)
	require.True(t, pressed)
}

func TestModbusBoardCoils(t *testing.T) {
	regs := newFakeRegisters()
	b := newModbusBoard(regs, testModbusConfig())

	require.NoError(t, b.FeedDispenser.On())
	require.Equal(t, coilOn, regs.coils[4])
	require.NoError(t, b.FeedDispenser.Off())
	require.Equal(t, coilOff, regs.coils[4])
	require.NoError(t, b.WaterPump.On())
	require.Equal(t, coilOn, regs.coils[5])
}

func TestModbusBoardGoneAfterConsecutiveFailures(t *testing.T) {
	regs := newFakeRegisters()
	regs.err = errors.New("i/o timeout")
	b := newModbusBoard(regs, testModbusConfig())

	for i := 0; i < 2; i++ {
		_, err := b.FeedLevel.DistanceCM()
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrGone), "failure %d should be transient", i+1)
	}

	_, err := b.WaterLevel.DistanceCM()
	require.ErrorIs(t, err, ErrGone)
}

func TestModbusBoardSuccessResetsFailures(t *testing.T) {
	regs := newFakeRegisters()
	b := newModbusBoard(regs, testModbusConfig())

	regs.err = errors.New("timeout")
	_, _ = b.FeedLevel.DistanceCM()
	_, _ = b.FeedLevel.DistanceCM()

	regs.err = nil
	_, err := b.FeedLevel.DistanceCM()
	require.NoError(t, err)

	regs.err = errors.New("timeout")
	_, err = b.FeedLevel.DistanceCM()
	require.False(t, errors.Is(err, ErrGone))
}
