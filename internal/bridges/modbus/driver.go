package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
)

// Driver is the register-level view of the PLC the gateway needs.
//
// Implementations are not required to be safe for concurrent use; the
// gateway calls them from a single goroutine.
type Driver interface {
	// Connect opens the link. Calling it on an open driver reconnects.
	Connect(ctx context.Context) error

	// ReadRegisters reads count holding registers starting at base.
	ReadRegisters(ctx context.Context, base, count uint16) ([]uint16, error)

	// WriteRegister writes one holding register.
	WriteRegister(ctx context.Context, addr, value uint16) error

	// Close releases the link. Closing a closed driver is a no-op.
	Close() error
}

// registerClient is the subset of the goburrow client used by TCPDriver.
type registerClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// dialFunc opens a connection and returns a client plus its closer.
type dialFunc func(cfg TCPConfig) (registerClient, func() error, error)

// TCPConfig holds Modbus TCP connection settings.
type TCPConfig struct {
	// Address is host:port of the PLC.
	Address string

	// UnitID is the Modbus slave id (0-255).
	UnitID byte

	// Timeout bounds each request and the connect attempt.
	Timeout time.Duration
}

// TCPDriver talks Modbus TCP to a single PLC through goburrow/modbus.
//
// The goburrow client is not safe for concurrent use, so every operation
// is serialised by opMu.
type TCPDriver struct {
	cfg  TCPConfig
	dial dialFunc

	opMu    sync.Mutex
	client  registerClient
	closeFn func() error
}

// NewTCPDriver creates a driver. No connection is made until Connect.
func NewTCPDriver(cfg TCPConfig) *TCPDriver {
	return &TCPDriver{cfg: cfg, dial: dialTCP}
}

func dialTCP(cfg TCPConfig) (registerClient, func() error, error) {
	h := gomodbus.NewTCPClientHandler(cfg.Address)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	if err := h.Connect(); err != nil {
		return nil, nil, err
	}
	return gomodbus.NewClient(h), h.Close, nil
}

// Connect dials the PLC. An existing connection is closed first.
// The dial runs in its own goroutine so ctx can abandon it early.
func (d *TCPDriver) Connect(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	_ = d.closeLocked() //nolint:errcheck // Replacing the connection

	type result struct {
		client  registerClient
		closeFn func() error
		err     error
	}
	done := make(chan result, 1)
	go func() {
		c, closeFn, err := d.dial(d.cfg)
		done <- result{c, closeFn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, d.cfg.Address, r.err)
		}
		d.client = r.client
		d.closeFn = r.closeFn
		return nil
	case <-ctx.Done():
		// Close the late connection, if any, once the dial returns.
		go func() {
			if r := <-done; r.err == nil && r.closeFn != nil {
				_ = r.closeFn() //nolint:errcheck // Abandoned connection
			}
		}()
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, d.cfg.Address, ctx.Err())
	}
}

// ReadRegisters reads count holding registers and decodes them big-endian.
func (d *TCPDriver) ReadRegisters(ctx context.Context, base, count uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	if d.client == nil {
		return nil, ErrNotConnected
	}

	raw, err := d.client.ReadHoldingRegisters(base, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %d+%d: %w", ErrReadFailed, base, count, err)
	}
	if len(raw) < int(count)*2 {
		return nil, fmt.Errorf("%w: %d bytes for %d registers", ErrShortRead, len(raw), count)
	}

	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return regs, nil
}

// WriteRegister writes a single holding register.
func (d *TCPDriver) WriteRegister(ctx context.Context, addr, value uint16) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	if d.client == nil {
		return ErrNotConnected
	}

	if _, err := d.client.WriteSingleRegister(addr, value); err != nil {
		return fmt.Errorf("%w: %d=%d: %w", ErrWriteFailed, addr, value, err)
	}
	return nil
}

// Close closes the TCP connection.
func (d *TCPDriver) Close() error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.closeLocked()
}

func (d *TCPDriver) closeLocked() error {
	closeFn := d.closeFn
	d.client = nil
	d.closeFn = nil
	if closeFn == nil {
		return nil
	}
	if err := closeFn(); err != nil {
		return fmt.Errorf("modbus: closing connection: %w", err)
	}
	return nil
}
