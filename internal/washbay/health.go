package washbay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/infrastructure/mqtt"
)

// HealthStatus represents the operational status of the gateway.
type HealthStatus string

const (
	// HealthHealthy indicates the PLC and the bus are both reachable.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the gateway is running with a lost link.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the gateway is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the gateway is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on washgw/{gatewayId}/health.
type HealthMessage struct {
	// Gateway is the gateway identifier.
	Gateway string `json:"gateway"`

	// Timestamp is when the health status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	Status  HealthStatus `json:"status"`
	Version string       `json:"version"`

	// UptimeSeconds is how long the gateway has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection describes the PLC link.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational counters.
	Statistics *GatewayStatistics `json:"statistics,omitempty"`

	BaysManaged int `json:"bays_managed"`

	// Reason explains a degraded status.
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the PLC connection.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Address is the PLC endpoint.
	Address string `json:"address"`

	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// GatewayStatistics contains operational counters.
type GatewayStatistics struct {
	PollCycles       uint64 `json:"poll_cycles"`
	PollFailures     uint64 `json:"poll_failures"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsRejected uint64 `json:"commands_rejected"`
	Publishes        uint64 `json:"publishes"`
	PublishFailures  uint64 `json:"publish_failures"`
}

// StatusSource provides the figures reported in health messages.
// *Gateway implements it.
type StatusSource interface {
	Stats() Stats
	BayIDs() []string
}

// HealthReporter manages periodic health status reporting.
type HealthReporter struct {
	gatewayID string
	version   string
	address   string
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	source    StatusSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	GatewayID string
	Version   string

	// PLCAddress is reported in the connection block.
	PLCAddress string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher Publisher

	// Source provides PLC link state and counters.
	Source StatusSource
}

// NewHealthReporter creates a new health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		gatewayID: cfg.GatewayID,
		version:   cfg.Version,
		address:   cfg.PLCAddress,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "gateway starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source == nil || !h.source.Stats().Connected {
		return HealthDegraded, "PLC disconnected"
	}
	return HealthHealthy, ""
}

// buildMessage assembles a health message for status.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	now := time.Now().UTC()
	msg := HealthMessage{
		Gateway:       h.gatewayID,
		Timestamp:     now,
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.source == nil {
		return msg
	}

	stats := h.source.Stats()
	conn := &ConnectionStatus{Status: "disconnected", Address: h.address}
	if stats.Connected {
		conn.Status = "connected"
		since := stats.ConnectedSince
		conn.ConnectedSince = &since
	}
	msg.Connection = conn
	msg.Statistics = &GatewayStatistics{
		PollCycles:       stats.PollCycles,
		PollFailures:     stats.PollFailures,
		CommandsAccepted: stats.CommandsAccepted,
		CommandsRejected: stats.CommandsRejected,
		Publishes:        stats.Publishes,
		PublishFailures:  stats.PublishFailures,
	}
	msg.BaysManaged = len(h.source.BayIDs())
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(mqtt.Topics{}.GatewayHealth(h.gatewayID), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
