package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date key used by the directory feed and the matrix.
const DateLayout = "2006-01-02"

// Kind distinguishes branches customers visit from the mobile service that
// comes to the customer.
type Kind string

const (
	KindPhysical Kind = "physical"
	KindMobile   Kind = "mobile"
)

// DayPart is one of the coarse buckets offered before a concrete time.
type DayPart int

const (
	Morning DayPart = iota
	Afternoon
	Evening
)

// DayParts lists the buckets in classification order.
var DayParts = [...]DayPart{Morning, Afternoon, Evening}

// Canonical bucket ranges in minutes since midnight. Afternoon and Evening
// overlap between 18:00 and 19:00; an hour in the overlap belongs to Afternoon.
var bucketRanges = [...]struct{ from, to Clock }{
	Morning:   {At(5, 0), At(12, 0)},
	Afternoon: {At(12, 0), At(19, 0)},
	Evening:   {At(18, 0), At(24, 0)},
}

// mobileSlotTimes are the fixed times bound to each bucket for mobile service.
var mobileSlotTimes = [...]Clock{
	Morning:   At(9, 0),
	Afternoon: At(14, 0),
	Evening:   At(20, 0),
}

// lunchPlaceholder is added for any window open at 13:00.
var lunchPlaceholder = At(13, 0)

func (p DayPart) String() string {
	switch p {
	case Morning:
		return "Morning"
	case Afternoon:
		return "Afternoon"
	case Evening:
		return "Evening"
	default:
		return "DayPart(" + strconv.Itoa(int(p)) + ")"
	}
}

// Valid reports whether p is one of the three buckets.
func (p DayPart) Valid() bool {
	return p >= Morning && p <= Evening
}

// ParseDayPart accepts the bucket name case-insensitively.
func ParseDayPart(s string) (DayPart, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "morning":
		return Morning, nil
	case "afternoon":
		return Afternoon, nil
	case "evening":
		return Evening, nil
	}
	return 0, fmt.Errorf("availability: unknown day part %q", s)
}

func (p DayPart) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("availability: invalid day part %d", int(p))
	}
	return []byte(strings.ToLower(p.String())), nil
}

func (p *DayPart) UnmarshalText(b []byte) error {
	parsed, err := ParseDayPart(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Contains reports whether a time of day lies in the bucket's canonical range.
func (p DayPart) Contains(c Clock) bool {
	if !p.Valid() {
		return false
	}
	r := bucketRanges[p]
	return c >= r.from && c < r.to
}

// claimed is the part of p's range that Classify assigns to p: the canonical
// range minus any leading overlap owned by an earlier bucket.
func (p DayPart) claimed() (from, to Clock) {
	r := bucketRanges[p]
	from = r.from
	for _, q := range DayParts[:p] {
		if prev := bucketRanges[q]; prev.from <= from && prev.to > from {
			from = prev.to
		}
	}
	return from, r.to
}

// Overlap reports whether [open, close) intersects the minutes Classify
// assigns to p, and the first such minute.
func (p DayPart) Overlap(open, close Clock) (Clock, bool) {
	if !p.Valid() {
		return 0, false
	}
	from, to := p.claimed()
	if open >= to || close <= from {
		return 0, false
	}
	if open > from {
		return open, true
	}
	return from, true
}

// Classify returns the first bucket whose range contains c.
func Classify(c Clock) (DayPart, bool) {
	for _, p := range DayParts {
		if p.Contains(c) {
			return p, true
		}
	}
	return 0, false
}

// Clock is a time of day in minutes since midnight. 24:00 is allowed as a
// closing time.
type Clock int

// At builds a Clock from hours and minutes.
func At(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("availability: invalid clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("availability: invalid clock %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("availability: invalid clock %q", s)
	}
	return At(h, m), nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Kitchen renders the clock the way confirmation copy shows it ("1:00 PM").
func (c Clock) Kitchen() string {
	return time.Date(2000, 1, 1, c.Hour(), c.Minute(), 0, 0, time.UTC).Format(time.Kitchen)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// OperatingWindow is one open interval on a weekday. Physical branches may
// carry two windows per weekday around a lunch break.
type OperatingWindow struct {
	Weekday time.Weekday `json:"weekday"`
	Open    Clock        `json:"open"`
	Close   Clock        `json:"close"`
}

// SlotEntry is one bookable time published by the directory for a date.
type SlotEntry struct {
	ID   string `json:"id"`
	Time Clock  `json:"time"`
}

// Address is a branch street address.
type Address struct {
	Line1 string `json:"line1"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// Branch is a location (or the mobile service) with its operating data.
type Branch struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Kind    Kind                   `json:"kind"`
	Phone   string                 `json:"phone"`
	Address Address                `json:"address"`
	Windows []OperatingWindow      `json:"windows,omitempty"`
	Slots   map[string][]SlotEntry `json:"slots,omitempty"`
}

// TimeSlot is a concrete time offered inside a bucket.
type TimeSlot struct {
	ID        string  `json:"id"`
	BranchID  string  `json:"branch_id"`
	Date      string  `json:"date"`
	Part      DayPart `json:"day_part"`
	Time      Clock   `json:"time"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// DayAvailability is one day of a location's bucket grid.
type DayAvailability struct {
	Date      string `json:"date"`
	Morning   bool   `json:"morning"`
	Afternoon bool   `json:"afternoon"`
	Evening   bool   `json:"evening"`
}

// Location is the flattened per-branch view exposed to the scheduler UI.
type Location struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         Kind              `json:"kind"`
	Phone        string            `json:"phone"`
	Availability []DayAvailability `json:"availability"`
}

// DateKey formats t as a matrix date key.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}
