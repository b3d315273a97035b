package scheduling

import (
	"errors"
	"strings"

	"github.com/wolfman30/appraisal-booking/internal/availability"
)

// WindowDays is the width of the date strip.
const WindowDays = 7

// ModalStep is where the booking modal is.
type ModalStep int

const (
	StepPickSlot ModalStep = iota
	StepPickTime
	StepContactInfo
)

func (s ModalStep) String() string {
	switch s {
	case StepPickSlot:
		return "pick-slot"
	case StepPickTime:
		return "pick-time"
	case StepContactInfo:
		return "contact-info"
	default:
		return "unknown"
	}
}

func (s ModalStep) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrNoSelection is returned when a time is chosen before a bucket.
	ErrNoSelection = errors.New("scheduling: no day part selected")
	// ErrUnknownSlot is returned for a slot id not offered in the selected bucket.
	ErrUnknownSlot = errors.New("scheduling: slot not offered")
)

type selection struct {
	locationID string
	date       string
	part       availability.DayPart
}

// Composer narrows a matrix to a single draft. It is not safe for concurrent
// use; one booking modal owns it.
type Composer struct {
	matrix       *availability.Matrix
	dates        []string
	supportPhone string

	mode        Mode
	windowStart int
	step        ModalStep
	sel         *selection
	slots       []availability.TimeSlot
	slot        *availability.TimeSlot
	contact     Contact
	address     *Address
}

// NewComposer exposes the first visible days of matrix.
func NewComposer(matrix *availability.Matrix, visible int, supportPhone string) (*Composer, error) {
	if matrix == nil {
		return nil, errors.New("scheduling: availability matrix required")
	}
	dates := matrix.Dates()
	if visible > 0 && visible < len(dates) {
		dates = dates[:visible]
	}
	return &Composer{matrix: matrix, dates: dates, supportPhone: supportPhone}, nil
}

// Mode returns the booking mode.
func (c *Composer) Mode() Mode { return c.mode }

// Step returns the modal step.
func (c *Composer) Step() ModalStep { return c.step }

// SetMode switches between branch and home booking, dropping a selection that
// belongs to the other mode.
func (c *Composer) SetMode(mode Mode) {
	if mode == c.mode {
		return
	}
	c.mode = mode
	if c.sel == nil {
		return
	}
	if b, ok := c.matrix.Branch(c.sel.locationID); !ok || b.Kind != mode.kind() {
		c.clearSelection()
	}
}

// Locations lists the locations bookable in the current mode.
func (c *Composer) Locations() []availability.Location {
	var out []availability.Location
	for _, loc := range c.matrix.Locations(len(c.dates)) {
		if loc.Kind == c.mode.kind() {
			out = append(out, loc)
		}
	}
	return out
}

// Window returns the dates currently shown.
func (c *Composer) Window() []string {
	end := c.windowStart + WindowDays
	if end > len(c.dates) {
		end = len(c.dates)
	}
	out := make([]string, end-c.windowStart)
	copy(out, c.dates[c.windowStart:end])
	return out
}

func (c *Composer) maxStart() int {
	if len(c.dates) <= WindowDays {
		return 0
	}
	return len(c.dates) - WindowDays
}

// CanEarlier reports whether Earlier would move the window.
func (c *Composer) CanEarlier() bool { return c.windowStart > 0 }

// CanLater reports whether Later would move the window.
func (c *Composer) CanLater() bool { return c.windowStart < c.maxStart() }

// Earlier shifts the window back by a week, stopping at the first day.
func (c *Composer) Earlier() bool {
	if !c.CanEarlier() {
		return false
	}
	c.windowStart -= WindowDays
	if c.windowStart < 0 {
		c.windowStart = 0
	}
	return true
}

// Later shifts the window forward by a week, stopping at the last visible day.
func (c *Composer) Later() bool {
	if !c.CanLater() {
		return false
	}
	c.windowStart += WindowDays
	if limit := c.maxStart(); c.windowStart > limit {
		c.windowStart = limit
	}
	return true
}

// SelectSlot picks a bucket. It is a no-op returning false when the bucket is
// closed, the location belongs to the other mode, or the date is outside the
// visible horizon. A home booking whose bucket offers exactly one time skips
// straight to contact info.
func (c *Composer) SelectSlot(locationID, date string, part availability.DayPart) bool {
	if !c.visible(date) || !c.matrix.Available(locationID, date, part) {
		return false
	}
	b, ok := c.matrix.Branch(locationID)
	if !ok || b.Kind != c.mode.kind() {
		return false
	}
	c.sel = &selection{locationID: locationID, date: date, part: part}
	c.slots = c.matrix.Slots(locationID, date, part)
	c.slot = nil
	c.step = StepPickTime
	if c.mode == ModeHome && len(c.slots) == 1 {
		only := c.slots[0]
		c.slot = &only
		c.step = StepContactInfo
	}
	return true
}

// Slots lists the concrete times for the selected bucket.
func (c *Composer) Slots() []availability.TimeSlot {
	out := make([]availability.TimeSlot, len(c.slots))
	copy(out, c.slots)
	return out
}

// ChooseTime picks one of the offered times and advances to contact info.
func (c *Composer) ChooseTime(slotID string) error {
	if c.sel == nil {
		return ErrNoSelection
	}
	for _, s := range c.slots {
		if s.ID == slotID {
			chosen := s
			c.slot = &chosen
			c.step = StepContactInfo
			return nil
		}
	}
	return ErrUnknownSlot
}

// SetContact replaces the contact details.
func (c *Composer) SetContact(contact Contact) {
	contact.FirstName = strings.TrimSpace(contact.FirstName)
	contact.LastName = strings.TrimSpace(contact.LastName)
	contact.Phone = strings.TrimSpace(contact.Phone)
	c.contact = contact
}

// Contact returns the current contact details.
func (c *Composer) Contact() Contact { return c.contact }

// SetAddress sets the at-home address.
func (c *Composer) SetAddress(addr Address) {
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.Line2 = strings.TrimSpace(addr.Line2)
	addr.City = strings.TrimSpace(addr.City)
	c.address = &addr
}

// ReturnToContact goes back to contact info keeping the names; the phone is
// cleared so a new number can be entered.
func (c *Composer) ReturnToContact() {
	if c.sel == nil {
		return
	}
	c.contact.Phone = ""
	c.step = StepContactInfo
}

// Draft returns the current selection as a draft. ok is false until a bucket
// is selected.
func (c *Composer) Draft() (Draft, bool) {
	if c.sel == nil {
		return Draft{}, false
	}
	d := Draft{
		Mode:       c.mode,
		BranchID:   c.sel.locationID,
		LocationID: c.sel.locationID,
		Date:       c.sel.date,
		DayPart:    c.sel.part,
		Label:      Label(c.sel.date, c.sel.part),
		Contact:    c.contact,
	}
	if c.mode == ModeHome {
		d.BranchID = HomeBranchID
		if c.address != nil {
			addr := *c.address
			d.Address = &addr
		}
	}
	if c.slot != nil {
		d.SlotID = c.slot.ID
		d.SlotTime = c.slot.Time
	}
	d.Contact.Phone = DigitsOnly(d.Contact.Phone)
	return d, true
}

// Validate checks everything the OTP step needs and returns the draft.
func (c *Composer) Validate() (Draft, error) {
	d, ok := c.Draft()
	fields := map[string]string{}
	if !ok {
		fields["slot"] = "Choose a day and time"
	} else if !d.HasSlot() {
		fields["slot"] = "Choose a time"
	}
	if c.contact.FirstName == "" {
		fields["first_name"] = "First name is required"
	}
	if c.contact.LastName == "" {
		fields["last_name"] = "Last name is required"
	}
	if len(DigitsOnly(c.contact.Phone)) != 10 {
		fields["phone"] = "Enter a 10-digit phone number"
	}
	if !c.contact.ConsentSMS {
		fields["consent_sms"] = ConsentMessage(c.supportPhone)
	}
	if c.mode == ModeHome {
		if c.address == nil || c.address.Line1 == "" {
			fields["address_line1"] = "Street address is required"
		}
		if c.address == nil || c.address.City == "" {
			fields["city"] = "City is required"
		}
	}
	if len(fields) > 0 {
		return Draft{}, &ValidationError{Fields: fields}
	}
	return d, nil
}

// Discard drops the selection and contact without side effects.
func (c *Composer) Discard() {
	c.clearSelection()
	c.contact = Contact{}
	c.address = nil
}

func (c *Composer) clearSelection() {
	c.sel = nil
	c.slots = nil
	c.slot = nil
	c.step = StepPickSlot
}

func (c *Composer) visible(date string) bool {
	for _, d := range c.dates {
		if d == date {
			return true
		}
	}
	return false
}
