package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimulatorConfig tunes the simulated PLC.
type SimulatorConfig struct {
	// Bays is the number of bay blocks in the register bank.
	Bays int

	// WashDuration is how long a wash takes from START to COMPLETED.
	WashDuration time.Duration

	// IdleDelay is how long COMPLETED or CANCELED shows before IDLE.
	IdleDelay time.Duration
}

// simBay is the controller-side state of one bay.
type simBay struct {
	startedAt  time.Time
	finishedAt time.Time
}

// Simulator is an in-process PLC implementing Driver.
//
// It reproduces the bench controller: START begins a wash that advances
// progress linearly over WashDuration and ends COMPLETED at 100; STOP
// cancels a running wash; either end state returns to IDLE after
// IdleDelay. The command register reads back as NONE once consumed.
// Time advances lazily on each read or write.
type Simulator struct {
	cfg SimulatorConfig
	now func() time.Time

	mu        sync.Mutex
	regs      []uint16
	bays      []simBay
	connected bool
	fault     error
}

// NewSimulator creates a simulator with every bay IDLE.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.WashDuration <= 0 {
		cfg.WashDuration = 10 * time.Second
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 3 * time.Second
	}
	return &Simulator{
		cfg:  cfg,
		now:  time.Now,
		regs: make([]uint16, cfg.Bays*BlockSize),
		bays: make([]simBay, cfg.Bays),
	}
}

// Fail makes every subsequent operation return err until Fail(nil).
// A non-nil fault also drops the simulated connection.
func (s *Simulator) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = err
	if err != nil {
		s.connected = false
	}
}

// SetError forces bay i into the controller ERROR status with code.
func (s *Simulator) SetError(i int, code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := i * BlockSize
	s.regs[base+int(OffsetStatus)] = StatusError
	s.regs[base+int(OffsetError)] = code
}

func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, s.fault)
	}
	s.connected = true
	return nil
}

func (s *Simulator) ReadRegisters(_ context.Context, base, count uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	end := int(base) + int(count)
	if end > len(s.regs) {
		return nil, fmt.Errorf("%w: illegal data address %d+%d", ErrReadFailed, base, count)
	}

	s.advanceLocked()
	return append([]uint16(nil), s.regs[base:end]...), nil
}

func (s *Simulator) WriteRegister(_ context.Context, addr, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if int(addr) >= len(s.regs) {
		return fmt.Errorf("%w: illegal data address %d", ErrWriteFailed, addr)
	}

	s.advanceLocked()
	s.regs[addr] = value
	if addr%BlockSize == OffsetCommand {
		s.executeLocked(int(addr)/BlockSize, value)
	}
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Simulator) usableLocked() error {
	if s.fault != nil {
		return s.fault
	}
	if !s.connected {
		return ErrNotConnected
	}
	return nil
}

// executeLocked applies a command written to bay i and clears the
// command register.
func (s *Simulator) executeLocked(i int, cmd uint16) {
	base := i * BlockSize
	reg := func(off uint16) *uint16 { return &s.regs[base+int(off)] }
	now := s.now()

	switch cmd {
	case CommandStart:
		if *reg(OffsetStatus) == StatusWashing {
			break
		}
		if *reg(OffsetCourse) == 0 {
			*reg(OffsetCourse) = courseCodes[CourseBasic]
		}
		*reg(OffsetStatus) = StatusWashing
		*reg(OffsetProgress) = 0
		*reg(OffsetError) = 0
		s.bays[i] = simBay{startedAt: now}
	case CommandStop:
		if *reg(OffsetStatus) != StatusWashing {
			break
		}
		*reg(OffsetStatus) = StatusCanceled
		s.bays[i].finishedAt = now
	}

	*reg(OffsetCommand) = CommandNone
}

// advanceLocked moves every bay forward to the current time.
func (s *Simulator) advanceLocked() {
	now := s.now()
	for i := range s.bays {
		base := i * BlockSize
		status := &s.regs[base+int(OffsetStatus)]
		progress := &s.regs[base+int(OffsetProgress)]
		bay := &s.bays[i]

		switch *status {
		case StatusWashing:
			elapsed := now.Sub(bay.startedAt)
			if elapsed >= s.cfg.WashDuration {
				*status = StatusCompleted
				*progress = 100
				bay.finishedAt = bay.startedAt.Add(s.cfg.WashDuration)
				// Fall through to the idle check on the next read.
				continue
			}
			*progress = uint16(elapsed * 100 / s.cfg.WashDuration) //nolint:gosec // < 100
		case StatusCompleted, StatusCanceled:
			if now.Sub(bay.finishedAt) >= s.cfg.IdleDelay {
				*status = StatusIdle
				*progress = 0
				s.regs[base+int(OffsetCourse)] = 0
				s.bays[i] = simBay{}
			}
		}
	}
}
