package washbay

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/metrics"
)

// pollCycle reads every bay block in configured order and reconciles each
// reading. The first failure aborts the cycle; bays already reconciled in
// this cycle keep their new state.
func (g *Gateway) pollCycle(ctx context.Context) error {
	start := time.Now()

	for _, id := range g.order {
		base, err := g.regs.BaseAddress(id)
		if err != nil {
			return err
		}

		block, err := g.sup.read(ctx, base, modbus.BlockSize)
		if err == nil {
			var reading modbus.Reading
			if reading, err = modbus.Decode(block); err == nil {
				g.reconcile(ctx, g.bays[id], reading)
				continue
			}
			err = fmt.Errorf("%w: %w", errLink, err)
		}

		metrics.ObservePollCycle(false, 0)
		g.stats.pollFailures.Add(1)
		return fmt.Errorf("polling bay %s: %w", id, err)
	}

	metrics.ObservePollCycle(true, time.Since(start))
	g.stats.pollCycles.Add(1)
	return nil
}

// reconcile folds a PLC reading into the bay.
//
// Log bookkeeping runs on the transition; the reading is then applied as
// is, so a poll can overwrite a software-only STARTING. A status message
// goes out only when state, progress or course changed.
func (g *Gateway) reconcile(ctx context.Context, b *Bay, r modbus.Reading) {
	next := State(r.State)
	stateChanged := b.State != next
	progressChanged := b.Progress != r.Progress
	courseChanged := b.Course != r.Course
	now := g.now()

	if stateChanged {
		switch {
		case next == StateWashing:
			if b.SessionID == "" {
				b.SessionID = g.sessions.Next(b.ID)
			}
			// Cannot normally happen: logs open only on entering WASHING.
			g.closeLog(ctx, b, b.State, b.ErrorCode, now)
			b.Course = r.Course
			g.openLog(ctx, b, StateWashing, now)

		case b.State.Active() && next.Terminal():
			g.closeLog(ctx, b, next, r.ErrorCode, now)

		case next == StateIdle:
			g.closeLog(ctx, b, StateIdle, r.ErrorCode, now)
			b.clearCorrelation()
		}

		g.logInfo("bay state changed", "bay", b.ID, "from", b.State, "to", next,
			"session", b.SessionID, "progress", r.Progress)
	}

	b.State = next
	b.Progress = r.Progress
	b.Course = r.Course
	b.ErrorCode = r.ErrorCode

	if stateChanged || progressChanged || courseChanged {
		g.publish(ctx, b, reasonPoll)
	}
}

// openLog opens a wash log for the bay's current session.
func (g *Gateway) openLog(ctx context.Context, b *Bay, status State, at time.Time) {
	id, err := g.store.CreateLog(ctx, LogEntry{
		BayID:     b.ID,
		Course:    b.Course,
		Status:    status,
		StartTime: at,
		SessionID: b.SessionID,
		RequestID: b.RequestID,
	})
	if err != nil {
		g.storeFailed("create_log", b.ID, err)
		return
	}
	b.LogID = &id
}

// closeLog closes the bay's open log, if any. The handle is dropped even
// when the store fails so a log is never closed twice.
func (g *Gateway) closeLog(ctx context.Context, b *Bay, final State, errorCode string, at time.Time) {
	if b.LogID == nil {
		return
	}
	id := *b.LogID
	b.LogID = nil

	if err := g.store.CloseLog(ctx, id, final, errorCode, at); err != nil {
		g.storeFailed("close_log", b.ID, err)
	}
}

func (g *Gateway) storeFailed(op, bayID string, err error) {
	metrics.IncStoreFailure(op)
	g.logError("store "+op+" failed", err, "bay", bayID)
}
