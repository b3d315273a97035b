package availability

import (
	"fmt"
	"sort"
	"time"
)

type cellKey struct {
	branchID string
	date     string
}

type cell struct {
	open  [3]bool
	slots [3][]TimeSlot
}

// Matrix maps (branch, date) to bucket availability and the concrete slots
// behind each true bucket. It is immutable once built.
type Matrix struct {
	start    time.Time
	dates    []string
	order    []string
	branches map[string]Branch
	cells    map[cellKey]cell
}

// Build computes the availability matrix for horizon days starting at start's
// calendar date. Branch order is preserved in Locations.
func Build(branches []Branch, start time.Time, horizon int) (*Matrix, error) {
	if horizon < 0 {
		horizon = 0
	}
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	m := &Matrix{
		start:    day,
		dates:    make([]string, 0, horizon),
		branches: make(map[string]Branch, len(branches)),
		cells:    make(map[cellKey]cell),
	}
	for i := 0; i < horizon; i++ {
		m.dates = append(m.dates, DateKey(day.AddDate(0, 0, i)))
	}

	for _, b := range branches {
		if err := validateWindows(b); err != nil {
			return nil, err
		}
		if _, dup := m.branches[b.ID]; !dup {
			m.order = append(m.order, b.ID)
		}
		m.branches[b.ID] = b
		for i, key := range m.dates {
			weekday := day.AddDate(0, 0, i).Weekday()
			var c cell
			switch b.Kind {
			case KindMobile:
				c = mobileCell(b, key)
			default:
				c = physicalCell(b, key, weekday)
			}
			m.cells[cellKey{branchID: b.ID, date: key}] = c
		}
	}
	return m, nil
}

func validateWindows(b Branch) error {
	for _, w := range b.Windows {
		if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
			return fmt.Errorf("%w: branch %s weekday %d out of range", ErrInvalidWindow, b.ID, w.Weekday)
		}
		if w.Open < 0 || w.Close > At(24, 0) || w.Close <= w.Open {
			return fmt.Errorf("%w: branch %s %s %s-%s", ErrInvalidWindow, b.ID, w.Weekday, w.Open, w.Close)
		}
	}
	return nil
}

// physicalCell opens every bucket a window of the weekday intersects.
func physicalCell(b Branch, date string, weekday time.Weekday) cell {
	var c cell
	var synthetic [3][]Clock
	for _, w := range b.Windows {
		if w.Weekday != weekday {
			continue
		}
		for _, part := range DayParts {
			first, ok := part.Overlap(w.Open, w.Close)
			if !ok {
				continue
			}
			c.open[part] = true
			synthetic[part] = appendClock(synthetic[part], first)
		}
		if w.Open <= lunchPlaceholder && lunchPlaceholder < w.Close {
			if part, ok := Classify(lunchPlaceholder); ok {
				synthetic[part] = appendClock(synthetic[part], lunchPlaceholder)
			}
		}
	}

	feed := b.Slots[date]
	for _, part := range DayParts {
		if !c.open[part] {
			continue
		}
		var slots []TimeSlot
		for _, entry := range feed {
			if p, ok := Classify(entry.Time); ok && p == part {
				slots = append(slots, TimeSlot{ID: entry.ID, BranchID: b.ID, Date: date, Part: part, Time: entry.Time})
			}
		}
		if len(slots) == 0 {
			for _, t := range synthetic[part] {
				slots = append(slots, syntheticSlot(b.ID, date, part, t))
			}
		}
		sortSlots(slots)
		c.slots[part] = slots
	}
	return c
}

// mobileCell opens every bucket for a date the feed lists, each bound to a
// fixed time.
func mobileCell(b Branch, date string) cell {
	var c cell
	if len(b.Slots[date]) == 0 {
		return c
	}
	for _, part := range DayParts {
		c.open[part] = true
		c.slots[part] = []TimeSlot{syntheticSlot(b.ID, date, part, mobileSlotTimes[part])}
	}
	return c
}

func syntheticSlot(branchID, date string, part DayPart, t Clock) TimeSlot {
	return TimeSlot{
		ID:        fmt.Sprintf("%s:%s:%02d%02d", branchID, date, t.Hour(), t.Minute()),
		BranchID:  branchID,
		Date:      date,
		Part:      part,
		Time:      t,
		Synthetic: true,
	}
}

func containsClock(list []Clock, t Clock) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func appendClock(list []Clock, t Clock) []Clock {
	if containsClock(list, t) {
		return list
	}
	list = append(list, t)
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

func sortSlots(slots []TimeSlot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
}

// Start returns the first date of the horizon.
func (m *Matrix) Start() time.Time {
	return m.start
}

// Dates returns the horizon's date keys in order.
func (m *Matrix) Dates() []string {
	out := make([]string, len(m.dates))
	copy(out, m.dates)
	return out
}

// Horizon is the number of days the matrix covers.
func (m *Matrix) Horizon() int {
	return len(m.dates)
}

// Available reports whether branchID offers the bucket on date. Unknown
// branches, dates and buckets are simply unavailable.
func (m *Matrix) Available(branchID, date string, part DayPart) bool {
	if m == nil || !part.Valid() {
		return false
	}
	c, ok := m.cells[cellKey{branchID: branchID, date: date}]
	return ok && c.open[part]
}

// Slots returns the concrete times behind an available bucket.
func (m *Matrix) Slots(branchID, date string, part DayPart) []TimeSlot {
	if !m.Available(branchID, date, part) {
		return nil
	}
	src := m.cells[cellKey{branchID: branchID, date: date}].slots[part]
	out := make([]TimeSlot, len(src))
	copy(out, src)
	return out
}

// Branch returns the branch record used to build the matrix.
func (m *Matrix) Branch(id string) (Branch, bool) {
	if m == nil {
		return Branch{}, false
	}
	b, ok := m.branches[id]
	return b, ok
}

// Branches returns the branches in input order.
func (m *Matrix) Branches() []Branch {
	if m == nil {
		return nil
	}
	out := make([]Branch, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.branches[id])
	}
	return out
}

// HasAny reports whether any bucket on any date is open.
func (m *Matrix) HasAny() bool {
	if m == nil {
		return false
	}
	for _, c := range m.cells {
		if c.open[Morning] || c.open[Afternoon] || c.open[Evening] {
			return true
		}
	}
	return false
}

// Locations flattens the matrix over the first visible days.
func (m *Matrix) Locations(visible int) []Location {
	if m == nil {
		return nil
	}
	if visible <= 0 || visible > len(m.dates) {
		visible = len(m.dates)
	}
	out := make([]Location, 0, len(m.order))
	for _, id := range m.order {
		b := m.branches[id]
		loc := Location{
			ID:           b.ID,
			Name:         b.Name,
			Kind:         b.Kind,
			Phone:        b.Phone,
			Availability: make([]DayAvailability, 0, visible),
		}
		for _, date := range m.dates[:visible] {
			c := m.cells[cellKey{branchID: id, date: date}]
			loc.Availability = append(loc.Availability, DayAvailability{
				Date:      date,
				Morning:   c.open[Morning],
				Afternoon: c.open[Afternoon],
				Evening:   c.open[Evening],
			})
		}
		out = append(out, loc)
	}
	return out
}
