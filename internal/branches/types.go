package branches

import (
	"fmt"
	"time"

	"github.com/wolfman30/appraisal-booking/internal/availability"
)

type listingResponse struct {
	Physical []branchDTO `json:"physical"`
	Mobile   *branchDTO  `json:"mobile"`
}

type branchDTO struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Phone   string               `json:"phone"`
	Address addressDTO           `json:"address"`
	Hours   []hoursDTO           `json:"hours"`
	Slots   map[string][]slotDTO `json:"slots"`
}

type addressDTO struct {
	Line1 string `json:"line1"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

type hoursDTO struct {
	Weekday int    `json:"weekday"`
	Open    string `json:"open"`
	Close   string `json:"close"`
}

type slotDTO struct {
	ID   string `json:"id"`
	Time string `json:"time"`
}

func (b branchDTO) toBranch(kind availability.Kind) (availability.Branch, error) {
	out := availability.Branch{
		ID:    b.ID,
		Name:  b.Name,
		Kind:  kind,
		Phone: b.Phone,
		Address: availability.Address{
			Line1: b.Address.Line1,
			City:  b.Address.City,
			State: b.Address.State,
			Zip:   b.Address.Zip,
		},
	}
	for _, h := range b.Hours {
		if h.Weekday < 0 || h.Weekday > 6 {
			return availability.Branch{}, fmt.Errorf("branch %s: weekday %d out of range", b.ID, h.Weekday)
		}
		open, err := availability.ParseClock(h.Open)
		if err != nil {
			return availability.Branch{}, fmt.Errorf("branch %s: open: %w", b.ID, err)
		}
		closeAt, err := availability.ParseClock(h.Close)
		if err != nil {
			return availability.Branch{}, fmt.Errorf("branch %s: close: %w", b.ID, err)
		}
		out.Windows = append(out.Windows, availability.OperatingWindow{
			Weekday: time.Weekday(h.Weekday),
			Open:    open,
			Close:   closeAt,
		})
	}
	if len(b.Slots) > 0 {
		out.Slots = make(map[string][]availability.SlotEntry, len(b.Slots))
		for date, slots := range b.Slots {
			if _, err := time.Parse(availability.DateLayout, date); err != nil {
				return availability.Branch{}, fmt.Errorf("branch %s: slot date %q: %w", b.ID, date, err)
			}
			for _, s := range slots {
				at, err := availability.ParseClock(s.Time)
				if err != nil {
					return availability.Branch{}, fmt.Errorf("branch %s: slot %s: %w", b.ID, s.ID, err)
				}
				out.Slots[date] = append(out.Slots[date], availability.SlotEntry{ID: s.ID, Time: at})
			}
		}
	}
	return out, nil
}

func (r listingResponse) toListing() (availability.Listing, error) {
	var listing availability.Listing
	for _, dto := range r.Physical {
		b, err := dto.toBranch(availability.KindPhysical)
		if err != nil {
			return availability.Listing{}, err
		}
		listing.Physical = append(listing.Physical, b)
	}
	if r.Mobile != nil {
		b, err := r.Mobile.toBranch(availability.KindMobile)
		if err != nil {
			return availability.Listing{}, err
		}
		listing.Mobile = &b
	}
	return listing, nil
}
