package modbus

import (
	"fmt"
	"strings"
)

// BlockSize is the number of holding registers reserved per bay.
// Bay i occupies addresses [i*BlockSize, (i+1)*BlockSize).
const BlockSize = 10

// MaxBays is the largest bay count whose blocks fit the 16-bit address space.
const MaxBays = 65536 / BlockSize

// Register offsets within a bay block.
const (
	OffsetCommand  uint16 = 0
	OffsetCourse   uint16 = 1
	OffsetStatus   uint16 = 2
	OffsetProgress uint16 = 3
	OffsetError    uint16 = 4

	// decodedRegisters is how many leading registers Decode needs.
	decodedRegisters = 5
)

// Command register values.
const (
	CommandNone  uint16 = 0
	CommandStart uint16 = 1
	CommandStop  uint16 = 2
)

// Status register values.
const (
	StatusIdle      uint16 = 0
	StatusWashing   uint16 = 1
	StatusCompleted uint16 = 2
	StatusCanceled  uint16 = 3
	StatusError     uint16 = 4
)

// Course names and their register codes.
const (
	CourseBasic    = "BASIC"
	CourseStandard = "STANDARD"
	CoursePremium  = "PREMIUM"
	CourseDeluxe   = "DELUXE"
)

var courseCodes = map[string]uint16{
	CourseBasic:    1,
	CourseStandard: 2,
	CoursePremium:  3,
	CourseDeluxe:   4,
}

var courseNames = map[uint16]string{
	1: CourseBasic,
	2: CourseStandard,
	3: CoursePremium,
	4: CourseDeluxe,
}

// CourseCode returns the register code for a course name.
// Matching is case-insensitive.
func CourseCode(name string) (uint16, bool) {
	code, ok := courseCodes[strings.ToUpper(strings.TrimSpace(name))]
	return code, ok
}

// CourseName maps a course register value to its name.
// 0 yields "" (no course); unmapped codes yield "COURSE_<n>".
func CourseName(code uint16) string {
	if code == 0 {
		return ""
	}
	if name, ok := courseNames[code]; ok {
		return name
	}
	return fmt.Sprintf("COURSE_%d", code)
}

// Decoded states, matching the bay state names used on the bus.
const (
	StateIdle     = "IDLE"
	StateWashing  = "WASHING"
	StateDone     = "DONE"
	StateCanceled = "CANCELED"
	StateError    = "ERROR"
)

// Reading is the decoded content of one bay block.
// Empty Course and ErrorCode mean "none".
type Reading struct {
	State     string
	Progress  int
	Course    string
	ErrorCode string
}

// Decode interprets a bay block read from the PLC.
//
// Progress is clamped to [0,100]. A status of ERROR carries "PLC_ERROR",
// or "PLC_ERROR_<n>" when the error register is non-zero. An unknown
// status code decodes as ERROR with "UNKNOWN_STATUS_<n>".
//
// Returns ErrShortRead when block holds fewer than five registers.
func Decode(block []uint16) (Reading, error) {
	if len(block) < decodedRegisters {
		return Reading{}, fmt.Errorf("%w: got %d registers, need %d", ErrShortRead, len(block), decodedRegisters)
	}

	progress := int(block[OffsetProgress])
	if progress > 100 {
		progress = 100
	}

	r := Reading{
		Progress: progress,
		Course:   CourseName(block[OffsetCourse]),
	}

	switch status := block[OffsetStatus]; status {
	case StatusIdle:
		r.State = StateIdle
	case StatusWashing:
		r.State = StateWashing
	case StatusCompleted:
		r.State = StateDone
	case StatusCanceled:
		r.State = StateCanceled
	case StatusError:
		r.State = StateError
		r.ErrorCode = "PLC_ERROR"
		if code := block[OffsetError]; code != 0 {
			r.ErrorCode = fmt.Sprintf("PLC_ERROR_%d", code)
		}
	default:
		r.State = StateError
		r.ErrorCode = fmt.Sprintf("UNKNOWN_STATUS_%d", status)
	}

	return r, nil
}

// RegisterMap assigns each configured bay a block of holding registers,
// in configuration order.
type RegisterMap struct {
	bays  []string
	index map[string]int
}

// NewRegisterMap builds a map for the given bay ids. Order matters:
// the first id gets base address 0, the second BlockSize, and so on.
func NewRegisterMap(bayIDs []string) *RegisterMap {
	m := &RegisterMap{
		bays:  append([]string(nil), bayIDs...),
		index: make(map[string]int, len(bayIDs)),
	}
	for i, id := range bayIDs {
		m.index[id] = i
	}
	return m
}

// BaseAddress returns the first register address of a bay's block.
// Maps longer than MaxBays report the overflowing bays as unknown.
func (m *RegisterMap) BaseAddress(bayID string) (uint16, error) {
	i, ok := m.index[bayID]
	if !ok || i >= MaxBays {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDevice, bayID)
	}
	return uint16(i * BlockSize), nil //nolint:gosec // i < MaxBays
}

// Address returns the absolute address of offset within a bay's block.
func (m *RegisterMap) Address(bayID string, offset uint16) (uint16, error) {
	base, err := m.BaseAddress(bayID)
	if err != nil {
		return 0, err
	}
	return base + offset, nil
}

// Has reports whether bayID is mapped.
func (m *RegisterMap) Has(bayID string) bool {
	_, ok := m.index[bayID]
	return ok
}

// Bays returns the mapped ids in configuration order.
func (m *RegisterMap) Bays() []string {
	return append([]string(nil), m.bays...)
}
