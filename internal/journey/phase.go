package journey

import (
	"fmt"
	"strings"
)

// Phase is a position in the funnel. Every switch over Phase handles all
// seven values.
type Phase int

const (
	PhaseVehicleInfo Phase = iota + 1
	PhaseSeriesBody
	PhaseCondition
	PhaseAdditionalQuestions
	PhaseSchedule
	PhaseNoAppointmentPossible
	PhaseConfirmed
)

// EntryPath is the funnel's start page.
const EntryPath = "/"

var phaseSegments = map[Phase]string{
	PhaseVehicleInfo:           "vehicle-info",
	PhaseSeriesBody:            "series-body",
	PhaseCondition:             "condition",
	PhaseAdditionalQuestions:   "additional-questions",
	PhaseSchedule:              "schedule",
	PhaseNoAppointmentPossible: "no-appointment",
	PhaseConfirmed:             "confirmation",
}

// Step is the user-visible step number (1-4).
func (p Phase) Step() int {
	switch p {
	case PhaseVehicleInfo:
		return 1
	case PhaseSeriesBody:
		return 2
	case PhaseCondition, PhaseAdditionalQuestions:
		return 3
	case PhaseSchedule, PhaseNoAppointmentPossible, PhaseConfirmed:
		return 4
	default:
		return 0
	}
}

// Name is the stable name used in paths and analytics.
func (p Phase) Name() string {
	if s, ok := phaseSegments[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) String() string { return p.Name() }

// Terminal reports whether no further transition leaves p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseNoAppointmentPossible, PhaseConfirmed:
		return true
	default:
		return false
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseSegments[p]
	return ok
}

// Path renders the navigable path for the journey.
func (p Phase) Path(journeyID string) string {
	if !p.Valid() || journeyID == "" {
		return EntryPath
	}
	return "/" + phaseSegments[p] + "/" + journeyID
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("journey: invalid phase %d", int(p))
	}
	return []byte(p.Name()), nil
}

// order ranks phases along the funnel. The two terminal step-4 phases share a
// rank with Schedule.
func (p Phase) order() int {
	switch p {
	case PhaseVehicleInfo:
		return 1
	case PhaseSeriesBody:
		return 2
	case PhaseCondition:
		return 3
	case PhaseAdditionalQuestions:
		return 4
	case PhaseSchedule, PhaseNoAppointmentPossible:
		return 5
	case PhaseConfirmed:
		return 6
	default:
		return 0
	}
}

// ParsePath splits "/{segment}/{id}" into phase and id. The id is returned
// even when the segment is unknown.
func ParsePath(path string) (Phase, string, bool) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return 0, "", false
	}
	segment, id, _ := strings.Cut(trimmed, "/")
	id = strings.Trim(id, "/")
	if strings.Contains(id, "/") {
		id = id[:strings.Index(id, "/")]
	}
	for phase, s := range phaseSegments {
		if s == segment {
			return phase, id, true
		}
	}
	return 0, id, false
}

// Derive returns the furthest phase the record's populated fields support.
func Derive(j *Journey) Phase {
	if j == nil {
		return PhaseVehicleInfo
	}
	if j.AppointmentID != nil && *j.AppointmentID != "" {
		return PhaseConfirmed
	}
	v := j.Vehicle
	if v.Year == 0 || v.Make == "" || v.Model == "" {
		return PhaseVehicleInfo
	}
	if v.Series == "" || v.Body == "" {
		return PhaseSeriesBody
	}
	c := j.Condition
	if c == nil {
		return PhaseCondition
	}
	if c.NeedsFollowUp() && !c.FollowUpDone {
		return PhaseAdditionalQuestions
	}
	if !c.Appointable() {
		return PhaseNoAppointmentPossible
	}
	return PhaseSchedule
}

// onRoute reports whether p is a phase this journey passes through given its
// answers so far.
func onRoute(j *Journey, p Phase) bool {
	switch p {
	case PhaseVehicleInfo, PhaseSeriesBody, PhaseCondition:
		return true
	case PhaseAdditionalQuestions:
		return j.Condition.NeedsFollowUp()
	case PhaseSchedule:
		return j.Condition.Appointable()
	case PhaseNoAppointmentPossible:
		return j.Condition != nil && !j.Condition.Appointable()
	case PhaseConfirmed:
		return j.AppointmentID != nil
	default:
		return false
	}
}

// Resolve picks the phase to show for a requested path phase. A terminal
// derived phase always wins; otherwise the request is honoured when it is on
// the journey's route and not past the derived phase.
func Resolve(j *Journey, requested Phase) Phase {
	derived := Derive(j)
	if derived.Terminal() || !requested.Valid() {
		return derived
	}
	if requested.order() <= derived.order() && onRoute(j, requested) {
		return requested
	}
	return derived
}
