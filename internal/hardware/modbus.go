package hardware

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// ModbusConfig maps the coop I/O onto a Modbus TCP remote I/O module
type ModbusConfig struct {
	Address          string
	SlaveID          byte
	Timeout          time.Duration
	FeedLevelReg     uint16
	WaterLevelReg    uint16
	DistanceScale    float64 // register units to centimeters
	FeedButtonInput  uint16
	WaterButtonInput uint16
	FeedCoil         uint16
	WaterCoil        uint16
	MaxFailures      int // consecutive transport failures before ErrGone; 0 disables
}

// registerClient is the subset of modbus.Client the board uses
type registerClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

// modbusBus serializes access to one slave and tracks consecutive failures.
type modbusBus struct {
	mu       sync.Mutex
	client   registerClient
	maxFails int
	fails    int
}

func (b *modbusBus) do(op string, fn func(registerClient) ([]byte, error)) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := fn(b.client)
	if err != nil {
		b.fails++
		if b.maxFails > 0 && b.fails >= b.maxFails {
			return nil, fmt.Errorf("%w: %s failed %d times: %v", ErrGone, op, b.fails, err)
		}
		return nil, fmt.Errorf("modbus %s: %w", op, err)
	}
	b.fails = 0
	return res, nil
}

type modbusSensor struct {
	bus   *modbusBus
	reg   uint16
	scale float64
}

func (s *modbusSensor) DistanceCM() (float64, error) {
	res, err := s.bus.do("read level", func(c registerClient) ([]byte, error) {
		return c.ReadHoldingRegisters(s.reg, 1)
	})
	if err != nil {
		return 0, err
	}
	if len(res) < 2 {
		return 0, fmt.Errorf("modbus read level: short response (%d bytes)", len(res))
	}
	return float64(binary.BigEndian.Uint16(res)) * s.scale, nil
}

type modbusButton struct {
	bus   *modbusBus
	input uint16
}

func (b *modbusButton) Pressed() (bool, error) {
	res, err := b.bus.do("read button", func(c registerClient) ([]byte, error) {
		return c.ReadDiscreteInputs(b.input, 1)
	})
	if err != nil {
		return false, err
	}
	if len(res) < 1 {
		return false, fmt.Errorf("modbus read button: empty response")
	}
	return res[0]&0x01 == 1, nil
}

type modbusCoil struct {
	bus  *modbusBus
	coil uint16
}

func (c *modbusCoil) On() error  { return c.write(coilOn) }
func (c *modbusCoil) Off() error { return c.write(coilOff) }

func (c *modbusCoil) write(v uint16) error {
	_, err := c.bus.do("write coil", func(cl registerClient) ([]byte, error) {
		return cl.WriteSingleCoil(c.coil, v)
	})
	return err
}

// NewModbusBoard connects to the remote I/O module. The connection is
// established eagerly so a wrong address fails at startup.
func NewModbusBoard(cfg ModbusConfig) (*Board, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("modbus board: address required")
	}

	handler := modbus.NewTCPClientHandler(cfg.Address)
	handler.Timeout = cfg.Timeout
	handler.SlaveId = cfg.SlaveID
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus board: connect %s: %w", cfg.Address, err)
	}

	slog.Info("modbus board connected",
		"address", cfg.Address,
		"slave_id", cfg.SlaveID,
		"timeout", cfg.Timeout,
	)

	board := newModbusBoard(modbus.NewClient(handler), cfg)
	board.close = handler.Close
	return board, nil
}

func newModbusBoard(client registerClient, cfg ModbusConfig) *Board {
	if cfg.DistanceScale == 0 {
		cfg.DistanceScale = 1
	}
	bus := &modbusBus{client: client, maxFails: cfg.MaxFailures}

	return &Board{
		FeedLevel:     &modbusSensor{bus: bus, reg: cfg.FeedLevelReg, scale: cfg.DistanceScale},
		WaterLevel:    &modbusSensor{bus: bus, reg: cfg.WaterLevelReg, scale: cfg.DistanceScale},
		FeedButton:    &modbusButton{bus: bus, input: cfg.FeedButtonInput},
		WaterButton:   &modbusButton{bus: bus, input: cfg.WaterButtonInput},
		FeedDispenser: &modbusCoil{bus: bus, coil: cfg.FeedCoil},
		WaterPump:     &modbusCoil{bus: bus, coil: cfg.WaterCoil},
	}
}
