package scheduling

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/appraisal-booking/internal/availability"
)

// HomeBranchID is the branch id recorded for at-home appraisals.
const HomeBranchID = "home"

// Mode is where the appraisal happens.
type Mode int

const (
	ModeBranch Mode = iota
	ModeHome
)

func (m Mode) String() string {
	switch m {
	case ModeBranch:
		return "branch"
	case ModeHome:
		return "home"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case ModeBranch, ModeHome:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("scheduling: invalid mode %d", int(m))
	}
}

func (m *Mode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "branch", "":
		*m = ModeBranch
	case "home":
		*m = ModeHome
	default:
		return fmt.Errorf("scheduling: unknown mode %q", string(b))
	}
	return nil
}

// kind is the branch kind a mode books against.
func (m Mode) kind() availability.Kind {
	switch m {
	case ModeHome:
		return availability.KindMobile
	default:
		return availability.KindPhysical
	}
}

// Contact is who the appraisal is booked for.
type Contact struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	ConsentSMS bool   `json:"consent_sms"`
}

// Address is where an at-home appraisal takes place.
type Address struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state,omitempty"`
	Zip   string `json:"zip,omitempty"`
}

// Draft is the not-yet-persisted appointment selection.
type Draft struct {
	Mode       Mode                 `json:"mode"`
	BranchID   string               `json:"branch_id"`
	LocationID string               `json:"location_id"`
	Date       string               `json:"date"`
	DayPart    availability.DayPart `json:"day_part"`
	SlotID     string               `json:"slot_id,omitempty"`
	SlotTime   availability.Clock   `json:"slot_time,omitempty"`
	Label      string               `json:"label"`
	Contact    Contact              `json:"contact"`
	Address    *Address             `json:"address,omitempty"`
}

// HasSlot reports whether a concrete time was chosen.
func (d Draft) HasSlot() bool {
	return d.SlotID != ""
}

// TimeLabel renders the chosen time ("2:00PM"), or the day part when none.
func (d Draft) TimeLabel() string {
	if !d.HasSlot() {
		return d.DayPart.String()
	}
	return d.SlotTime.Kitchen()
}

// Label renders "Wednesday, October 21 · Afternoon".
func Label(date string, part availability.DayPart) string {
	t, err := time.Parse(availability.DateLayout, date)
	if err != nil {
		return date + " · " + part.String()
	}
	return t.Format("Monday, January 2") + " · " + part.String()
}

// ValidationError lists every field that blocks the OTP step.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "scheduling: invalid draft: " + strings.Join(parts, "; ")
}

// ConsentMessage is the remediation shown when SMS consent is declined.
func ConsentMessage(supportPhone string) string {
	return "To book online we need permission to text you a verification code. Prefer not to? Call us at " + supportPhone + " to book."
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
