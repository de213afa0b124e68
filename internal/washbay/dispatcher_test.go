package washbay

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
)

func TestDispatchRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(tg *testGateway)
		cmd     Command
		wantErr error
	}{
		{
			name:    "unknown bay",
			cmd:     Command{BayID: "bay9", Action: ActionStart},
			wantErr: modbus.ErrUnknownDevice,
		},
		{
			name:    "connection down",
			setup:   func(tg *testGateway) { tg.sup.connected = false },
			cmd:     Command{BayID: "bay1", Action: ActionStart},
			wantErr: ErrConnectionDown,
		},
		{
			name:    "unknown device checked before connection",
			setup:   func(tg *testGateway) { tg.sup.connected = false },
			cmd:     Command{BayID: "bay9", Action: ActionStop},
			wantErr: modbus.ErrUnknownDevice,
		},
		{
			name:    "already washing",
			setup:   func(tg *testGateway) { tg.bays["bay1"].State = StateWashing },
			cmd:     Command{BayID: "bay1", Action: ActionStart},
			wantErr: ErrAlreadyActive,
		},
		{
			name:    "already starting",
			setup:   func(tg *testGateway) { tg.bays["bay1"].State = StateStarting },
			cmd:     Command{BayID: "bay1", Action: ActionStart, Course: "DELUXE"},
			wantErr: ErrAlreadyActive,
		},
		{
			name:    "unknown course",
			cmd:     Command{BayID: "bay1", Action: ActionStart, Course: "TURBO"},
			wantErr: ErrUnknownCourse,
		},
		{
			name:    "invalid action",
			cmd:     Command{BayID: "bay1", Action: "PAUSE"},
			wantErr: ErrInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGateway(t)
			tg.connect(t)
			if tt.setup != nil {
				tt.setup(tg)
			}
			before := *tg.bays["bay1"]

			err := tg.dispatch(context.Background(), tt.cmd)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("dispatch() error = %v, want %v", err, tt.wantErr)
			}
			if calls := tg.driver.GetCalls(); len(calls) != 0 {
				t.Errorf("driver calls = %v, want none", calls)
			}
			if n := len(tg.bus.GetPublished()); n != 0 {
				t.Errorf("published = %d, want 0", n)
			}
			if after := *tg.bays["bay1"]; !reflect.DeepEqual(before, after) {
				t.Errorf("bay mutated: %+v -> %+v", before, after)
			}
			if s := tg.Stats(); s.CommandsRejected != 1 || s.CommandsAccepted != 0 {
				t.Errorf("stats = %+v", s)
			}
		})
	}
}

func TestDispatchStartDefaultsToBasic(t *testing.T) {
	tg := newTestGateway(t)
	tg.connect(t)

	if err := tg.dispatch(context.Background(), Command{BayID: "bay1", Action: ActionStart}); err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if got, want := tg.driver.GetCalls(), []string{"write 1=1", "write 0=1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}

	b := tg.bays["bay1"]
	if b.Course != modbus.CourseBasic || b.RequestID != "" {
		t.Errorf("bay = %+v", b)
	}
	if !strings.HasPrefix(b.SessionID, "20260504T103000Z-bay1-") {
		t.Errorf("session = %q", b.SessionID)
	}
}

func TestDispatchStartFromDoneClearsError(t *testing.T) {
	tg := newTestGateway(t)
	tg.connect(t)

	b := tg.bays["bay1"]
	b.State = StateError
	b.ErrorCode = "PLC_ERROR_3"
	b.SessionID = "old-session"

	if err := tg.dispatch(context.Background(), Command{BayID: "bay1", Action: ActionStart, Course: "standard", RequestID: "r2"}); err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if b.State != StateStarting || b.ErrorCode != "" || b.RequestID != "r2" {
		t.Errorf("bay = %+v", b)
	}
	if b.SessionID == "old-session" {
		t.Error("START out of a finished session reused the old session id")
	}
	if snap, _ := tg.store.Snapshot("bay1"); snap.State != StateStarting {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestDispatchStopWritesCommandOnly(t *testing.T) {
	tg := newTestGateway(t)
	tg.connect(t)
	b := tg.bays["bay2"]
	b.State = StateWashing
	before := *b

	if err := tg.dispatch(context.Background(), Command{BayID: "bay2", Action: ActionStop}); err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if got, want := tg.driver.GetCalls(), []string{"write 10=2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(before, *b) {
		t.Errorf("STOP mutated bay: %+v -> %+v", before, *b)
	}
	if n := len(tg.bus.GetPublished()); n != 0 {
		t.Errorf("published = %d, want 0", n)
	}
}

func TestDispatchWriteFailureIsLinkFailure(t *testing.T) {
	tg := newTestGateway(t)
	tg.connect(t)
	tg.driver.SetWriteErr(errors.New("broken pipe"))

	err := tg.dispatch(context.Background(), Command{BayID: "bay1", Action: ActionStart})
	if !errors.Is(err, errLink) || !errors.Is(err, modbus.ErrWriteFailed) {
		t.Fatalf("dispatch() error = %v, want link failure", err)
	}
	if got := tg.driver.GetCalls(); len(got) != 1 {
		t.Errorf("calls = %v, want the course write only", got)
	}
	if b := tg.bays["bay1"]; b.State != StateIdle || b.SessionID != "" {
		t.Errorf("bay mutated after failed write: %+v", b)
	}
	if got := commandResult(err); got != "write_failed" {
		t.Errorf("commandResult() = %q", got)
	}
}

func TestDispatchDuplicateRequest(t *testing.T) {
	tg := newTestGateway(t)
	tg.guard = newCommandGuard(time.Minute, 0, 0)
	tg.connect(t)
	ctx := context.Background()

	cmd := Command{BayID: "bay1", Action: ActionStop, RequestID: "dup-1"}
	if err := tg.dispatch(ctx, cmd); err != nil {
		t.Fatalf("first dispatch() error = %v", err)
	}
	if err := tg.dispatch(ctx, cmd); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("second dispatch() error = %v, want ErrDuplicateRequest", err)
	}
	if n := len(tg.driver.GetCalls()); n != 1 {
		t.Errorf("writes = %d, want 1", n)
	}
}

func TestCommandResult(t *testing.T) {
	tests := map[string]error{
		"accepted":        nil,
		"unknown_device":  modbus.ErrUnknownDevice,
		"connection_down": ErrConnectionDown,
		"already_active":  ErrAlreadyActive,
		"unknown_course":  ErrUnknownCourse,
		"duplicate":       ErrDuplicateRequest,
		"rate_limited":    ErrRateLimited,
		"invalid":         ErrInvalidCommand,
		"error":           errors.New("other"),
	}
	for want, err := range tests {
		if got := commandResult(err); got != want {
			t.Errorf("commandResult(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestDispatchRetryAfterWriteFailureKeepsRequestID(t *testing.T) {
	tg := newTestGateway(t)
	tg.guard = newCommandGuard(time.Minute, 0, 0)
	tg.connect(t)
	ctx := context.Background()

	cmd := Command{BayID: "bay1", Action: ActionStart, Course: "PREMIUM", RequestID: "req-9"}
	tg.driver.SetWriteErr(errors.New("broken pipe"))
	if err := tg.dispatch(ctx, cmd); !errors.Is(err, errLink) {
		t.Fatalf("dispatch() error = %v, want link failure", err)
	}

	// Link restored; the sender retries the dropped command unchanged.
	tg.driver.SetWriteErr(nil)
	tg.connect(t)
	tg.driver.ClearCalls()
	if err := tg.dispatch(ctx, cmd); err != nil {
		t.Fatalf("retry dispatch() error = %v", err)
	}
	if got, want := tg.driver.GetCalls(), []string{"write 1=3", "write 0=1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if b := tg.bays["bay1"]; b.State != StateStarting || b.RequestID != "req-9" {
		t.Errorf("bay = %+v", b)
	}

	// Once executed, a redelivery of the same STOP id is still suppressed.
	stop := Command{BayID: "bay1", Action: ActionStop, RequestID: "req-9s"}
	if err := tg.dispatch(ctx, stop); err != nil {
		t.Fatalf("stop dispatch() error = %v", err)
	}
	if err := tg.dispatch(ctx, stop); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("redelivered stop error = %v, want ErrDuplicateRequest", err)
	}
}

func TestDispatchRejectedStartDoesNotConsumeGuard(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(tg *testGateway)
		first   Command
		wantErr error
		undo    func(tg *testGateway)
	}{
		{
			name:    "corrected course",
			first:   Command{BayID: "bay1", Action: ActionStart, Course: "TURBO", RequestID: "req-10"},
			wantErr: ErrUnknownCourse,
		},
		{
			name:    "bay busy then free",
			setup:   func(tg *testGateway) { tg.bays["bay1"].State = StateWashing },
			first:   Command{BayID: "bay1", Action: ActionStart, Course: "PREMIUM", RequestID: "req-10"},
			wantErr: ErrAlreadyActive,
			undo:    func(tg *testGateway) { tg.bays["bay1"].State = StateDone },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGateway(t)
			// One token per bay and a near-zero refill: a spent token is visible.
			tg.guard = newCommandGuard(time.Minute, 0.001, 1)
			tg.connect(t)
			if tt.setup != nil {
				tt.setup(tg)
			}
			ctx := context.Background()

			if err := tg.dispatch(ctx, tt.first); !errors.Is(err, tt.wantErr) {
				t.Fatalf("first dispatch() error = %v, want %v", err, tt.wantErr)
			}
			if tt.undo != nil {
				tt.undo(tg)
			}

			retry := Command{BayID: "bay1", Action: ActionStart, Course: "PREMIUM", RequestID: "req-10"}
			if err := tg.dispatch(ctx, retry); err != nil {
				t.Fatalf("retry dispatch() error = %v", err)
			}
			if b := tg.bays["bay1"]; b.State != StateStarting || b.Course != modbus.CoursePremium {
				t.Errorf("bay = %+v", b)
			}
		})
	}
}
