package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	t.Cleanup(func() { regOK.Store(false) })

	// Must not panic or record anything.
	IncCommand("START", "accepted")
	SetBayState("bay1", "WASHING", 10)

	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	mfs := gather(t, reg)
	if mf, ok := mfs["washgw_commands_total"]; ok {
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "action" && l.GetValue() == "START" && m.GetCounter().GetValue() > 0 {
					t.Error("command recorded before Register")
				}
			}
		}
	}
}

func TestRegisterIdempotentAndHelpersRecord(t *testing.T) {
	regOK.Store(false)
	t.Cleanup(func() { regOK.Store(false) })

	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObservePollCycle(true, 20*time.Millisecond)
	ObservePollCycle(false, 0)
	SetModbusConnected(true)
	IncConnectAttempt(false)
	IncCommand("STOP", "accepted")
	IncPublish("heartbeat")
	IncPublishFailure()
	IncStoreFailure("create_log")
	SetBayState("bay9", "DONE", 100)

	mfs := gather(t, reg)
	for _, name := range []string{
		"washgw_poll_cycles_total",
		"washgw_poll_cycle_duration_seconds",
		"washgw_modbus_connected",
		"washgw_modbus_connect_attempts_total",
		"washgw_commands_total",
		"washgw_status_publishes_total",
		"washgw_status_publish_failures_total",
		"washgw_store_failures_total",
		"washgw_bay_state",
		"washgw_bay_progress_percent",
	} {
		mf, ok := mfs[name]
		if !ok {
			t.Errorf("missing metric %s", name)
			continue
		}
		if len(mf.GetMetric()) == 0 {
			t.Errorf("metric %s has no samples", name)
		}
	}

	if got := mfs["washgw_modbus_connected"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("modbus_connected = %v, want 1", got)
	}
}

func TestSetBayStateOneHot(t *testing.T) {
	regOK.Store(false)
	t.Cleanup(func() { regOK.Store(false) })

	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	SetBayState("onehot", "WASHING", 30)
	SetBayState("onehot", "DONE", 100)

	var active []string
	for _, m := range gather(t, reg)["washgw_bay_state"].GetMetric() {
		var bay, state string
		for _, l := range m.GetLabel() {
			switch l.GetName() {
			case "bay":
				bay = l.GetValue()
			case "state":
				state = l.GetValue()
			}
		}
		if bay == "onehot" && m.GetGauge().GetValue() == 1 {
			active = append(active, state)
		}
	}
	if len(active) != 1 || active[0] != "DONE" {
		t.Errorf("active states = %v, want [DONE]", active)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	t.Cleanup(func() { regOK.Store(false) })

	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	IncPublish("change")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "washgw_status_publishes_total") {
		t.Error("exposition missing washgw_status_publishes_total")
	}
}
