package washbay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Command actions.
const (
	ActionStart = "START"
	ActionStop  = "STOP"
)

// TimestampFormat is the UTC layout used for status timestamps and wash log
// times (millisecond precision, trailing Z).
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Command is a validated request from the bus.
type Command struct {
	BayID     string
	Action    string
	Course    string // empty means the default course
	RequestID string
}

// commandPayload is the JSON body of wash/{bayId}/cmd.
type commandPayload struct {
	BayID     string  `json:"bayId"`
	Action    string  `json:"action"`
	Course    *string `json:"course"`
	RequestID *string `json:"requestId"`
}

// ParseCommand decodes a command received on the bay's command topic.
//
// The topic bay is authoritative: a payload naming a different bay is
// rejected. Actions are matched case-insensitively.
func ParseCommand(topicBayID string, payload []byte) (Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	if p.BayID != "" && p.BayID != topicBayID {
		return Command{}, fmt.Errorf("%w: payload bay %q does not match topic bay %q",
			ErrInvalidCommand, p.BayID, topicBayID)
	}

	cmd := Command{
		BayID:  topicBayID,
		Action: strings.ToUpper(strings.TrimSpace(p.Action)),
	}
	switch cmd.Action {
	case ActionStart, ActionStop:
	default:
		return Command{}, fmt.Errorf("%w: action %q", ErrInvalidCommand, p.Action)
	}

	if p.Course != nil {
		cmd.Course = strings.ToUpper(strings.TrimSpace(*p.Course))
	}
	if p.RequestID != nil {
		cmd.RequestID = strings.TrimSpace(*p.RequestID)
	}
	return cmd, nil
}

// StatusMessage is published retained on wash/{bayId}/status.
// Nullable fields marshal as JSON null.
type StatusMessage struct {
	BayID        string  `json:"bayId"`
	SessionID    *string `json:"sessionId"`
	RequestID    *string `json:"requestId"`
	State        State   `json:"state"`
	Progress     int     `json:"progress"`
	Course       *string `json:"course"`
	ErrorCode    *string `json:"errorCode"`
	TimestampUTC string  `json:"timestampUtc"`
}

// NewStatusMessage builds the status message for a bay at time ts.
func NewStatusMessage(b *Bay, ts time.Time) StatusMessage {
	return StatusMessage{
		BayID:        b.ID,
		SessionID:    nullable(b.SessionID),
		RequestID:    nullable(b.RequestID),
		State:        b.State,
		Progress:     b.Progress,
		Course:       nullable(b.Course),
		ErrorCode:    nullable(b.ErrorCode),
		TimestampUTC: ts.UTC().Format(TimestampFormat),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
