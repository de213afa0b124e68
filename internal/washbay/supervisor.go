package washbay

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/metrics"
)

// Default reconnect backoff bounds.
const (
	defaultReconnectInitial = 2 * time.Second
	defaultReconnectMax     = 10 * time.Second
)

// supervisor owns the driver and the connection state.
//
// Reads and writes only reach the driver while connected; any driver
// failure is reported as errLink so the gateway can take the link down.
type supervisor struct {
	driver  modbus.Driver
	initial time.Duration
	ceiling time.Duration

	connected      bool
	degraded       bool // set once a failure has been observed, until the next success
	backoff        time.Duration
	connectedSince time.Time
}

func newSupervisor(driver modbus.Driver, initial, maxBackoff time.Duration) *supervisor {
	if initial <= 0 {
		initial = defaultReconnectInitial
	}
	if maxBackoff < initial {
		maxBackoff = max(initial, defaultReconnectMax)
	}
	return &supervisor{
		driver:  driver,
		initial: initial,
		ceiling: maxBackoff,
		backoff: initial,
	}
}

// connect makes one connection attempt. Success resets the backoff.
func (s *supervisor) connect(ctx context.Context, now time.Time) error {
	if err := s.driver.Connect(ctx); err != nil {
		metrics.IncConnectAttempt(false)
		return err
	}
	metrics.IncConnectAttempt(true)
	metrics.SetModbusConnected(true)

	s.connected = true
	s.degraded = false
	s.backoff = s.initial
	s.connectedSince = now
	return nil
}

// fail marks the link down, closes the driver and returns how long to
// wait before the next attempt. Successive failures double the delay up to
// the cap. The returned bool reports whether this failure entered the
// degraded state.
func (s *supervisor) fail() (time.Duration, bool) {
	_ = s.driver.Close() //nolint:errcheck // Best-effort, the link is already broken
	metrics.SetModbusConnected(false)

	entered := !s.degraded
	s.connected = false
	s.degraded = true

	delay := s.backoff
	s.backoff = min(s.backoff*2, s.ceiling)
	return delay, entered
}

func (s *supervisor) read(ctx context.Context, base, count uint16) ([]uint16, error) {
	if !s.connected {
		return nil, ErrConnectionDown
	}
	regs, err := s.driver.ReadRegisters(ctx, base, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errLink, err)
	}
	return regs, nil
}

func (s *supervisor) write(ctx context.Context, addr, value uint16) error {
	if !s.connected {
		return ErrConnectionDown
	}
	if err := s.driver.WriteRegister(ctx, addr, value); err != nil {
		return fmt.Errorf("%w: %w", errLink, err)
	}
	return nil
}

// close shuts the driver down for good.
func (s *supervisor) close() error {
	s.connected = false
	metrics.SetModbusConnected(false)
	return s.driver.Close()
}
