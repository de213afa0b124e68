package washbay

import (
	"fmt"
	"time"
)

// sessionSeqModulo bounds the per-process session sequence.
const sessionSeqModulo = 1000

// SessionGenerator issues wash session ids of the form
// {YYYYMMDDTHHMMSSZ}-{bayId}-{seq}, seq being a three-digit counter shared
// by all bays that wraps at 1000.
//
// Ids are unique within a process only. Not safe for concurrent use.
type SessionGenerator struct {
	seq int
	now func() time.Time
}

// NewSessionGenerator creates a generator. A nil now uses time.Now.
func NewSessionGenerator(now func() time.Time) *SessionGenerator {
	if now == nil {
		now = time.Now
	}
	return &SessionGenerator{now: now}
}

// Next returns a new session id for bayID.
func (g *SessionGenerator) Next(bayID string) string {
	g.seq = (g.seq + 1) % sessionSeqModulo
	return fmt.Sprintf("%s-%s-%03d", g.now().UTC().Format("20060102T150405Z"), bayID, g.seq)
}
