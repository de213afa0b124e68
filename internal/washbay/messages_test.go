package washbay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
		wantErr bool
	}{
		{
			name:    "full start",
			payload: `{"bayId":"bay1","action":"START","course":"PREMIUM","requestId":"r-1"}`,
			want:    Command{BayID: "bay1", Action: ActionStart, Course: "PREMIUM", RequestID: "r-1"},
		},
		{
			name:    "lowercase action and course",
			payload: `{"action":"start","course":"deluxe"}`,
			want:    Command{BayID: "bay1", Action: ActionStart, Course: "DELUXE"},
		},
		{
			name:    "stop with null fields",
			payload: `{"action":"Stop","course":null,"requestId":null}`,
			want:    Command{BayID: "bay1", Action: ActionStop},
		},
		{name: "bay mismatch", payload: `{"bayId":"bay2","action":"STOP"}`, wantErr: true},
		{name: "unknown action", payload: `{"action":"PAUSE"}`, wantErr: true},
		{name: "missing action", payload: `{}`, wantErr: true},
		{name: "not json", payload: `START`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand("bay1", []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Fatalf("ParseCommand() error = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStatusMessageNulls(t *testing.T) {
	ts := time.Date(2026, 5, 4, 10, 30, 0, 123_000_000, time.FixedZone("KST", 9*3600))
	b := &Bay{ID: "bay1", State: StateIdle}

	payload, err := json.Marshal(NewStatusMessage(b, ts))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"bayId":"bay1","sessionId":null,"requestId":null,"state":"IDLE","progress":0,` +
		`"course":null,"errorCode":null,"timestampUtc":"2026-05-04T01:30:00.123Z"}`
	if string(payload) != want {
		t.Errorf("payload = %s\nwant      %s", payload, want)
	}
}

func TestStatusMessageFields(t *testing.T) {
	b := &Bay{
		ID:        "bay3",
		State:     StateWashing,
		Progress:  42,
		Course:    "STANDARD",
		SessionID: "s-1",
		RequestID: "r-1",
	}
	msg := NewStatusMessage(b, time.Now())

	if *msg.SessionID != "s-1" || *msg.RequestID != "r-1" || *msg.Course != "STANDARD" || msg.ErrorCode != nil {
		t.Errorf("message = %+v", msg)
	}
}
