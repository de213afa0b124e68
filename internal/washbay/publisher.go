package washbay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/mqtt"
)

// Publish reasons, used as metric labels.
const (
	reasonPoll      = "poll"
	reasonCommand   = "command"
	reasonOffline   = "offline"
	reasonHeartbeat = "heartbeat"
)

// publish sends the bay's status to the bus and then upserts its snapshot.
// The snapshot is written even when the bus publish fails.
func (g *Gateway) publish(ctx context.Context, b *Bay, reason string) {
	ts := g.now()
	if err := g.send(b, ts, reason); err != nil {
		g.logWarn("status publish failed", "bay", b.ID, "state", b.State, "error", err)
	}

	metrics.SetBayState(b.ID, string(b.State), b.Progress)
	if g.telemetry != nil {
		g.telemetry.RecordBay(g.id, b, ts)
	}

	snap := Snapshot{
		BayID:     b.ID,
		SessionID: b.SessionID,
		RequestID: b.RequestID,
		State:     b.State,
		Progress:  b.Progress,
		Course:    b.Course,
		ErrorCode: b.ErrorCode,
		UpdatedAt: ts,
	}
	if err := g.store.UpsertSnapshot(ctx, snap); err != nil {
		g.storeFailed("upsert_snapshot", b.ID, err)
	}
}

// heartbeat re-publishes every bay to the bus regardless of change.
// No snapshot is written.
func (g *Gateway) heartbeat() {
	if !g.bus.IsConnected() {
		return
	}
	ts := g.now()
	for _, id := range g.order {
		if err := g.send(g.bays[id], ts, reasonHeartbeat); err != nil {
			g.logDebug("heartbeat publish failed", "bay", id, "error", err)
		}
	}
}

// send marshals and publishes one status message (retained).
func (g *Gateway) send(b *Bay, ts time.Time, reason string) error {
	payload, err := json.Marshal(NewStatusMessage(b, ts))
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	if err := g.bus.Publish(mqtt.Topics{}.BayStatus(b.ID), payload, g.qos, true); err != nil {
		metrics.IncPublishFailure()
		g.stats.publishFailures.Add(1)
		return err
	}

	metrics.IncPublish(reason)
	g.stats.publishes.Add(1)
	b.UpdatedAt = ts
	return nil
}
