package washbay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/washbay-gateway/internal/infrastructure/mqtt"
)

// Default loop timings.
const (
	DefaultPollInterval             = time.Second
	DefaultOfflineBroadcastInterval = 3 * time.Second
	DefaultHeartbeatInterval        = 5 * time.Second
	DefaultQueueSize                = 64

	// driverCloseTimeout bounds the driver close on shutdown.
	driverCloseTimeout = 2 * time.Second
)

// ErrStopped is returned by Bays and Bay once Run has returned.
var ErrStopped = errors.New("washbay: gateway stopped")

// Timing holds the loop intervals. Zero values take the defaults.
type Timing struct {
	PollInterval             time.Duration
	OfflineBroadcastInterval time.Duration
	HeartbeatInterval        time.Duration
	ReconnectInitial         time.Duration
	ReconnectMax             time.Duration
}

// CommandOptions tunes the inbound command path.
type CommandOptions struct {
	// QueueSize bounds the command FIFO. Default 64.
	QueueSize int

	// DedupeTTL is how long a requestId is remembered. 0 disables.
	DedupeTTL time.Duration

	// RatePerSecond and Burst shape the per-bay token bucket.
	// RatePerSecond <= 0 disables rate limiting.
	RatePerSecond float64
	Burst         int
}

// Options holds configuration for creating a gateway.
type Options struct {
	// GatewayID names this gateway in telemetry and health topics.
	GatewayID string

	// BayIDs is the fixed bay list. Order sets register block order.
	BayIDs []string

	// Driver is the PLC connection, owned by the gateway from now on.
	Driver modbus.Driver

	// Bus receives status messages.
	Bus Publisher

	// Store persists wash logs and snapshots.
	Store Store

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional structured logger.
	Logger Logger

	// QoS for status publishes.
	QoS byte

	Timing   Timing
	Commands CommandOptions

	// Clock overrides time.Now for timestamps. Optional.
	Clock func() time.Time
}

// Stats is a point-in-time view of gateway counters.
type Stats struct {
	Connected        bool
	ConnectedSince   time.Time
	PollCycles       uint64
	PollFailures     uint64
	CommandsAccepted uint64
	CommandsRejected uint64
	Publishes        uint64
	PublishFailures  uint64
}

type gatewayStats struct {
	pollCycles       atomic.Uint64
	pollFailures     atomic.Uint64
	commandsAccepted atomic.Uint64
	commandsRejected atomic.Uint64
	publishes        atomic.Uint64
	publishFailures  atomic.Uint64
}

// Gateway bridges the PLC's bay registers to the bus.
type Gateway struct {
	id        string
	order     []string
	bays      map[string]*Bay
	regs      *modbus.RegisterMap
	sup       *supervisor
	bus       Publisher
	store     Store
	telemetry Telemetry
	guard     *commandGuard
	sessions  *SessionGenerator
	qos       byte
	timing    Timing
	now       func() time.Time
	logger    Logger

	// lastCourse holds snapshot courses from the previous run.
	lastCourse map[string]string

	commands chan Command
	viewReqs chan chan []BayView
	done     chan struct{}
	running  atomic.Bool

	connected      atomic.Bool
	connectedSince atomic.Int64
	stats          gatewayStats
}

// New creates a gateway with every bay IDLE. Call Run to start it.
func New(opts Options) (*Gateway, error) {
	if len(opts.BayIDs) == 0 {
		return nil, fmt.Errorf("at least one bay is required")
	}
	if len(opts.BayIDs) > modbus.MaxBays {
		return nil, fmt.Errorf("%d bays exceed the register space (max %d)", len(opts.BayIDs), modbus.MaxBays)
	}
	if opts.Driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus publisher is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	t := opts.Timing
	if t.PollInterval <= 0 {
		t.PollInterval = DefaultPollInterval
	}
	if t.OfflineBroadcastInterval <= 0 {
		t.OfflineBroadcastInterval = DefaultOfflineBroadcastInterval
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = DefaultHeartbeatInterval
	}

	queueSize := opts.Commands.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	g := &Gateway{
		id:         opts.GatewayID,
		order:      append([]string(nil), opts.BayIDs...),
		bays:       make(map[string]*Bay, len(opts.BayIDs)),
		regs:       modbus.NewRegisterMap(opts.BayIDs),
		sup:        newSupervisor(opts.Driver, t.ReconnectInitial, t.ReconnectMax),
		bus:        opts.Bus,
		store:      opts.Store,
		telemetry:  opts.Telemetry,
		guard:      newCommandGuard(opts.Commands.DedupeTTL, opts.Commands.RatePerSecond, opts.Commands.Burst),
		sessions:   NewSessionGenerator(now),
		qos:        opts.QoS,
		timing:     t,
		now:        now,
		logger:     opts.Logger,
		lastCourse: make(map[string]string),
		commands:   make(chan Command, queueSize),
		viewReqs:   make(chan chan []BayView),
		done:       make(chan struct{}),
	}
	for _, id := range opts.BayIDs {
		if _, dup := g.bays[id]; dup {
			return nil, fmt.Errorf("duplicate bay id %q", id)
		}
		g.bays[id] = newBay(id)
	}
	return g, nil
}

// RestoreSnapshots loads the courses last published by a previous run.
// They are reported in BayView.LastCourse only; bays still start IDLE.
// Must be called before Run.
func (g *Gateway) RestoreSnapshots(ctx context.Context, loader SnapshotLoader) error {
	snaps, err := loader.LoadSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshots: %w", err)
	}
	for _, s := range snaps {
		if _, ok := g.bays[s.BayID]; ok && s.Course != "" {
			g.lastCourse[s.BayID] = s.Course
		}
	}
	return nil
}

// loopTicker is a ticker that can be stopped and restarted. Its channel is
// nil while stopped so a select case on it never fires.
type loopTicker struct {
	t *time.Ticker
	d time.Duration
}

func (l *loopTicker) start() {
	if l.t == nil {
		l.t = time.NewTicker(l.d)
	}
}

func (l *loopTicker) stop() {
	if l.t != nil {
		l.t.Stop()
		l.t = nil
	}
}

func (l *loopTicker) C() <-chan time.Time {
	if l.t == nil {
		return nil
	}
	return l.t.C
}

// Run drives the gateway until ctx is cancelled. It connects at once,
// then polls, broadcasts, heartbeats and executes commands from this one
// goroutine. Run closes the driver before returning.
func (g *Gateway) Run(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return fmt.Errorf("washbay: gateway already running")
	}
	defer close(g.done)

	poll := &loopTicker{d: g.timing.PollInterval}
	offline := &loopTicker{d: g.timing.OfflineBroadcastInterval}
	defer poll.stop()
	defer offline.stop()

	heartbeat := time.NewTicker(g.timing.HeartbeatInterval)
	defer heartbeat.Stop()

	reconnect := time.NewTimer(0)
	defer reconnect.Stop()

	g.logInfo("gateway started", "gateway", g.id, "bays", len(g.order))

	// linkDown switches the loop from polling to broadcasting.
	linkDown := func(err error) {
		poll.stop()
		offline.start()
		reconnect.Reset(g.linkDown(ctx, err))
	}

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			g.logInfo("gateway stopped", "gateway", g.id)
			return nil

		case <-reconnect.C:
			if err := g.tryConnect(ctx); err != nil {
				if ctx.Err() == nil {
					linkDown(err)
				}
				continue
			}
			offline.stop()
			poll.start()

		case <-poll.C():
			if err := g.pollCycle(ctx); err != nil && ctx.Err() == nil {
				if errors.Is(err, errLink) {
					linkDown(err)
				} else {
					g.logError("poll cycle failed", err)
				}
			}

		case <-offline.C():
			g.broadcastOffline(ctx)

		case <-heartbeat.C:
			g.heartbeat()

		case cmd := <-g.commands:
			if err := g.dispatch(ctx, cmd); errors.Is(err, errLink) && ctx.Err() == nil {
				linkDown(err)
			}

		case reply := <-g.viewReqs:
			reply <- g.views()
		}
	}
}

// tryConnect makes one connection attempt. On success PROTOCOL_OFFLINE is
// cleared from every bay; states stay as they are until the next poll.
func (g *Gateway) tryConnect(ctx context.Context) error {
	now := g.now()
	if err := g.sup.connect(ctx, now); err != nil {
		return err
	}

	g.connected.Store(true)
	g.connectedSince.Store(now.UnixNano())
	if g.telemetry != nil {
		g.telemetry.RecordConnection(g.id, true, 0)
	}
	g.logInfo("PLC connected", "gateway", g.id)

	for _, id := range g.order {
		if b := g.bays[id]; b.ErrorCode == ErrorCodeOffline {
			b.ErrorCode = ""
		}
	}
	return nil
}

// linkDown records a connection failure and returns the reconnect delay.
// Entering the degraded state broadcasts OFFLINE at once.
func (g *Gateway) linkDown(ctx context.Context, err error) time.Duration {
	delay, entered := g.sup.fail()
	g.connected.Store(false)
	if g.telemetry != nil {
		g.telemetry.RecordConnection(g.id, false, delay)
	}
	g.logWarn("PLC link down", "gateway", g.id, "error", err, "retry_in", delay)

	if entered {
		g.broadcastOffline(ctx)
	}
	return delay
}

// broadcastOffline forces every bay OFFLINE with PROTOCOL_OFFLINE.
//
// An open log is closed; otherwise a zero-duration log records the outage.
// Bays already OFFLINE with PROTOCOL_OFFLINE are skipped, so one outage
// yields at most one offline log per bay.
func (g *Gateway) broadcastOffline(ctx context.Context) {
	now := g.now()
	for _, id := range g.order {
		b := g.bays[id]
		if b.State == StateOffline && b.ErrorCode == ErrorCodeOffline {
			continue
		}

		if b.LogID == nil {
			g.openLog(ctx, b, StateOffline, now)
		}
		g.closeLog(ctx, b, StateOffline, ErrorCodeOffline, now)

		b.State = StateOffline
		b.Progress = 0
		b.ErrorCode = ErrorCodeOffline
		g.publish(ctx, b, reasonOffline)
	}
}

// shutdown closes the driver, giving up after driverCloseTimeout.
func (g *Gateway) shutdown() {
	g.connected.Store(false)

	done := make(chan error, 1)
	go func() { done <- g.sup.close() }()

	select {
	case err := <-done:
		if err != nil {
			g.logError("closing PLC driver", err)
		}
	case <-time.After(driverCloseTimeout):
		g.logWarn("PLC driver close timed out", "timeout", driverCloseTimeout)
	}
}

// Enqueue queues a command for the loop. It never blocks.
func (g *Gateway) Enqueue(cmd Command) error {
	select {
	case g.commands <- cmd:
		return nil
	default:
		metrics.IncCommand(cmd.Action, "queue_full")
		return fmt.Errorf("%w: %s for bay %s", ErrQueueFull, cmd.Action, cmd.BayID)
	}
}

// HandleMessage is the MQTT handler for wash/+/cmd. It only decodes and
// enqueues; the command runs on the loop.
func (g *Gateway) HandleMessage(topic string, payload []byte) error {
	bayID, ok := mqtt.BayFromCommandTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}

	cmd, err := ParseCommand(bayID, payload)
	if err != nil {
		metrics.IncCommand("unknown", "invalid")
		g.logWarn("invalid command payload", "topic", topic, "error", err)
		return err
	}

	if err := g.Enqueue(cmd); err != nil {
		g.logWarn("command dropped", "bay", cmd.BayID, "action", cmd.Action, "error", err)
		return err
	}
	return nil
}

// Bays returns a copy of every bay in configured order.
func (g *Gateway) Bays(ctx context.Context) ([]BayView, error) {
	reply := make(chan []BayView, 1)

	select {
	case g.viewReqs <- reply:
	case <-g.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case views := <-reply:
		return views, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Bay returns a copy of one bay. ok is false for an unknown id.
func (g *Gateway) Bay(ctx context.Context, id string) (view BayView, ok bool, err error) {
	views, err := g.Bays(ctx)
	if err != nil {
		return BayView{}, false, err
	}
	for _, v := range views {
		if v.ID == id {
			return v, true, nil
		}
	}
	return BayView{}, false, nil
}

func (g *Gateway) views() []BayView {
	out := make([]BayView, 0, len(g.order))
	for _, id := range g.order {
		b := g.bays[id]
		out = append(out, BayView{
			ID:         b.ID,
			State:      b.State,
			Progress:   b.Progress,
			Course:     b.Course,
			ErrorCode:  b.ErrorCode,
			SessionID:  b.SessionID,
			RequestID:  b.RequestID,
			LogOpen:    b.LogID != nil,
			UpdatedAt:  b.UpdatedAt,
			LastCourse: g.lastCourse[b.ID],
		})
	}
	return out
}

// BayIDs returns the configured bay ids in order.
func (g *Gateway) BayIDs() []string {
	return g.regs.Bays()
}

// Connected reports whether the PLC link is up. Safe from any goroutine.
func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

// Stats returns the gateway counters. Safe from any goroutine.
func (g *Gateway) Stats() Stats {
	s := Stats{
		Connected:        g.connected.Load(),
		PollCycles:       g.stats.pollCycles.Load(),
		PollFailures:     g.stats.pollFailures.Load(),
		CommandsAccepted: g.stats.commandsAccepted.Load(),
		CommandsRejected: g.stats.commandsRejected.Load(),
		Publishes:        g.stats.publishes.Load(),
		PublishFailures:  g.stats.publishFailures.Load(),
	}
	if s.Connected {
		s.ConnectedSince = time.Unix(0, g.connectedSince.Load()).UTC()
	}
	return s
}

func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Info(msg, keysAndValues...)
	}
}

func (g *Gateway) logWarn(msg string, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, keysAndValues...)
	}
}

func (g *Gateway) logDebug(msg string, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, keysAndValues...)
	}
}

// logError logs err with optional extra context.
func (g *Gateway) logError(msg string, err error, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
