package washbay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
)

// MockDriver is an in-memory register bank that records every call.
type MockDriver struct {
	mu         sync.Mutex
	regs       map[uint16]uint16
	calls      []string
	connected  bool
	connectErr error
	writeErr   error
	readErrAt  map[uint16]error
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		regs:      make(map[uint16]uint16),
		readErrAt: make(map[uint16]error),
	}
}

func (m *MockDriver) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "connect")
	if m.connectErr != nil {
		return fmt.Errorf("%w: %w", modbus.ErrConnectionFailed, m.connectErr)
	}
	m.connected = true
	return nil
}

func (m *MockDriver) ReadRegisters(_ context.Context, base, count uint16) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("read %d+%d", base, count))
	if err := m.readErrAt[base]; err != nil {
		return nil, fmt.Errorf("%w: %w", modbus.ErrReadFailed, err)
	}
	if !m.connected {
		return nil, modbus.ErrNotConnected
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = m.regs[base+uint16(i)] //nolint:gosec // test
	}
	return out, nil
}

func (m *MockDriver) WriteRegister(_ context.Context, addr, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("write %d=%d", addr, value))
	if m.writeErr != nil {
		return fmt.Errorf("%w: %w", modbus.ErrWriteFailed, m.writeErr)
	}
	m.regs[addr] = value
	return nil
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "close")
	m.connected = false
	return nil
}

// SetBay loads a bay block as the PLC would present it.
func (m *MockDriver) SetBay(base, status, course, progress, errCode uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[base+modbus.OffsetStatus] = status
	m.regs[base+modbus.OffsetCourse] = course
	m.regs[base+modbus.OffsetProgress] = progress
	m.regs[base+modbus.OffsetError] = errCode
}

func (m *MockDriver) FailReadAt(base uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrAt[base] = err
}

func (m *MockDriver) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MockDriver) SetConnectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

func (m *MockDriver) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockDriver) ClearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MockPublisher implements Publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	err       error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{connected: true}
}

func (m *MockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockPublisher) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *MockPublisher) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockPublisher) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockPublisher) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// Statuses decodes every published bay status, in order.
func (m *MockPublisher) Statuses(t *testing.T) []StatusMessage {
	t.Helper()
	var out []StatusMessage
	for _, p := range m.GetPublished() {
		var msg StatusMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", p.Topic, err)
		}
		out = append(out, msg)
	}
	return out
}

// MockStore keeps logs and snapshots in memory.
type MockStore struct {
	mu        sync.Mutex
	nextID    int64
	logs      map[int64]*mockLog
	snapshots map[string]Snapshot
	upserts   int
	createErr error
	closeErr  error
}

type mockLog struct {
	Entry     LogEntry
	Closed    bool
	Closes    int
	Final     State
	ErrorCode string
	End       time.Time
}

func NewMockStore() *MockStore {
	return &MockStore{
		logs:      make(map[int64]*mockLog),
		snapshots: make(map[string]Snapshot),
	}
}

func (m *MockStore) CreateLog(_ context.Context, entry LogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.nextID++
	m.logs[m.nextID] = &mockLog{Entry: entry}
	return m.nextID, nil
}

func (m *MockStore) CloseLog(_ context.Context, logID int64, finalState State, errorCode string, endTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return m.closeErr
	}
	l, ok := m.logs[logID]
	if !ok {
		return errors.New("no such log")
	}
	l.Closed = true
	l.Closes++
	l.Final = finalState
	l.ErrorCode = errorCode
	l.End = endTime
	return nil
}

func (m *MockStore) UpsertSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	m.snapshots[snap.BayID] = snap
	return nil
}

func (m *MockStore) LoadSnapshots(context.Context) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	return out, nil
}

// LogsFor returns the bay's logs in creation order.
func (m *MockStore) LogsFor(bayID string) []mockLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockLog
	for id := int64(1); id <= m.nextID; id++ {
		if l, ok := m.logs[id]; ok && l.Entry.BayID == bayID {
			out = append(out, *l)
		}
	}
	return out
}

func (m *MockStore) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *MockStore) Snapshot(bayID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[bayID]
	return s, ok
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testGateway struct {
	*Gateway
	driver *MockDriver
	bus    *MockPublisher
	store  *MockStore
	clock  *fakeClock
}

func newTestGateway(t *testing.T, bays ...string) *testGateway {
	t.Helper()
	if len(bays) == 0 {
		bays = []string{"bay1", "bay2"}
	}
	tg := &testGateway{
		driver: NewMockDriver(),
		bus:    NewMockPublisher(),
		store:  NewMockStore(),
		clock:  &fakeClock{t: time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)},
	}
	g, err := New(Options{
		GatewayID: "gw-test",
		BayIDs:    bays,
		Driver:    tg.driver,
		Bus:       tg.bus,
		Store:     tg.store,
		QoS:       1,
		Clock:     tg.clock.now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tg.Gateway = g
	return tg
}

// connect brings the link up and clears recorded calls.
func (tg *testGateway) connect(t *testing.T) {
	t.Helper()
	if err := tg.tryConnect(context.Background()); err != nil {
		t.Fatalf("tryConnect() error = %v", err)
	}
	tg.driver.ClearCalls()
}

func (tg *testGateway) poll(t *testing.T) {
	t.Helper()
	if err := tg.pollCycle(context.Background()); err != nil {
		t.Fatalf("pollCycle() error = %v", err)
	}
}
