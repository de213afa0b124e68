package washbay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// mockSource implements StatusSource for testing.
type mockSource struct {
	mu    sync.Mutex
	stats Stats
}

func (m *mockSource) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockSource) BayIDs() []string { return []string{"bay1", "bay2", "bay3"} }

func decodeHealth(t *testing.T, p mockPublish) HealthMessage {
	t.Helper()
	var msg HealthMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	return msg
}

func TestHealthReporterDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		busUp      bool
		plcUp      bool
		wantStatus HealthStatus
		wantReason string
	}{
		{"all connected", true, true, HealthHealthy, ""},
		{"mqtt down", false, true, HealthDegraded, "MQTT disconnected"},
		{"plc down", true, false, HealthDegraded, "PLC disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewMockPublisher()
			bus.SetConnected(tt.busUp)
			h := NewHealthReporter(HealthReporterConfig{
				GatewayID: "gw1",
				Publisher: bus,
				Source:    &mockSource{stats: Stats{Connected: tt.plcUp}},
			})

			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %q, %q; want %q, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterPublishNow(t *testing.T) {
	bus := NewMockPublisher()
	since := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	h := NewHealthReporter(HealthReporterConfig{
		GatewayID:  "gw1",
		Version:    "1.2.3",
		PLCAddress: "10.0.0.5:502",
		Publisher:  bus,
		Source: &mockSource{stats: Stats{
			Connected:        true,
			ConnectedSince:   since,
			PollCycles:       40,
			CommandsAccepted: 2,
			CommandsRejected: 1,
		}},
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	published := bus.GetPublished()
	if len(published) != 1 {
		t.Fatalf("published %d messages, want 1", len(published))
	}
	p := published[0]
	if p.Topic != "washgw/gw1/health" || !p.Retained || p.QoS != 1 {
		t.Errorf("publish = %s qos=%d retained=%v", p.Topic, p.QoS, p.Retained)
	}

	msg := decodeHealth(t, p)
	if msg.Status != HealthHealthy || msg.Version != "1.2.3" || msg.BaysManaged != 3 {
		t.Errorf("message = %+v", msg)
	}
	if msg.Connection == nil || msg.Connection.Status != "connected" || msg.Connection.Address != "10.0.0.5:502" {
		t.Fatalf("connection = %+v", msg.Connection)
	}
	if !msg.Connection.ConnectedSince.Equal(since) {
		t.Errorf("connected_since = %v", msg.Connection.ConnectedSince)
	}
	if msg.Statistics.PollCycles != 40 || msg.Statistics.CommandsRejected != 1 {
		t.Errorf("statistics = %+v", msg.Statistics)
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	bus := NewMockPublisher()
	h := NewHealthReporter(HealthReporterConfig{
		GatewayID: "gw1",
		Interval:  time.Hour,
		Publisher: bus,
		Source:    &mockSource{},
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}

	h.Start(context.Background())
	waitFor(t, time.Second, func() bool { return len(bus.GetPublished()) >= 2 })

	h.Stop()
	h.Stop() // idempotent

	published := bus.GetPublished()
	if len(published) != 3 {
		t.Fatalf("published %d messages, want starting, initial, stopping", len(published))
	}
	want := []HealthStatus{HealthStarting, HealthDegraded, HealthStopping}
	for i, w := range want {
		if got := decodeHealth(t, published[i]).Status; got != w {
			t.Errorf("message %d status = %q, want %q", i, got, w)
		}
	}
	if c := decodeHealth(t, published[1]).Connection; c == nil || c.Status != "disconnected" || c.ConnectedSince != nil {
		t.Errorf("disconnected connection block = %+v", c)
	}
}

func TestHealthReporterNilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{GatewayID: "gw1"})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}
