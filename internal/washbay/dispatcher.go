package washbay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/metrics"
)

// dispatch executes one queued command against the PLC.
//
// Rejections never touch the bay. A returned error wrapping errLink means
// a register write failed and the link must be taken down.
func (g *Gateway) dispatch(ctx context.Context, cmd Command) error {
	err := g.execute(ctx, cmd)
	g.recordCommand(cmd, err)
	return err
}

func (g *Gateway) execute(ctx context.Context, cmd Command) error {
	if !g.regs.Has(cmd.BayID) {
		return fmt.Errorf("%w: %q", modbus.ErrUnknownDevice, cmd.BayID)
	}
	b := g.bays[cmd.BayID]
	if !g.sup.connected {
		return fmt.Errorf("%w: %s for bay %s dropped", ErrConnectionDown, cmd.Action, cmd.BayID)
	}

	// Validation runs before the guard so a rejected command neither
	// remembers its request id nor spends a rate token.
	var course string
	switch cmd.Action {
	case ActionStart:
		var err error
		if course, err = startCourse(b, cmd); err != nil {
			return err
		}
	case ActionStop:
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidCommand, cmd.Action)
	}

	if err := g.guard.check(cmd); err != nil {
		return err
	}

	var err error
	if cmd.Action == ActionStart {
		err = g.start(ctx, b, cmd, course)
	} else {
		err = g.stop(ctx, b)
	}
	if err != nil {
		// Nothing reached the PLC; the caller may retry with the same id.
		g.guard.forget(cmd)
	}
	return err
}

// startCourse checks that b can accept a START and returns the normalised
// course, BASIC when none is given.
func startCourse(b *Bay, cmd Command) (string, error) {
	if b.State.Active() {
		return "", fmt.Errorf("%w: bay %s is %s", ErrAlreadyActive, b.ID, b.State)
	}
	course := strings.ToUpper(strings.TrimSpace(cmd.Course))
	if course == "" {
		course = modbus.CourseBasic
	}
	if _, ok := modbus.CourseCode(course); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCourse, course)
	}
	return course, nil
}

// start writes COURSE then COMMAND=START and moves the bay to STARTING.
func (g *Gateway) start(ctx context.Context, b *Bay, cmd Command, course string) error {
	code, _ := modbus.CourseCode(course)

	courseAddr, err := g.regs.Address(b.ID, modbus.OffsetCourse)
	if err != nil {
		return err
	}
	commandAddr, err := g.regs.Address(b.ID, modbus.OffsetCommand)
	if err != nil {
		return err
	}

	if err := g.sup.write(ctx, courseAddr, code); err != nil {
		return fmt.Errorf("writing course for bay %s: %w", b.ID, err)
	}
	if err := g.sup.write(ctx, commandAddr, modbus.CommandStart); err != nil {
		return fmt.Errorf("writing start for bay %s: %w", b.ID, err)
	}

	// A START out of a finished session begins a new one.
	if b.SessionID == "" || b.State.Terminal() {
		b.SessionID = g.sessions.Next(b.ID)
	}
	b.State = StateStarting
	b.RequestID = cmd.RequestID
	b.Course = course
	b.ErrorCode = ""

	g.publish(ctx, b, reasonCommand)
	return nil
}

// stop writes COMMAND=STOP. The bay changes only once a poll sees it.
func (g *Gateway) stop(ctx context.Context, b *Bay) error {
	addr, err := g.regs.Address(b.ID, modbus.OffsetCommand)
	if err != nil {
		return err
	}
	if err := g.sup.write(ctx, addr, modbus.CommandStop); err != nil {
		return fmt.Errorf("writing stop for bay %s: %w", b.ID, err)
	}
	return nil
}

// recordCommand logs and counts the outcome of a command.
func (g *Gateway) recordCommand(cmd Command, err error) {
	result := commandResult(err)
	metrics.IncCommand(cmd.Action, result)

	if err == nil {
		g.stats.commandsAccepted.Add(1)
		g.logInfo("command accepted", "bay", cmd.BayID, "action", cmd.Action,
			"course", cmd.Course, "request_id", cmd.RequestID)
		return
	}

	g.stats.commandsRejected.Add(1)
	g.logWarn("command rejected", "bay", cmd.BayID, "action", cmd.Action,
		"request_id", cmd.RequestID, "reason", result, "error", err)
}

// commandResult maps an outcome to its metric label.
func commandResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, modbus.ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, ErrConnectionDown):
		return "connection_down"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrUnknownCourse):
		return "unknown_course"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	case errors.Is(err, errLink):
		return "write_failed"
	default:
		return "error"
	}
}
