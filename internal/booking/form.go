package booking

import (
	"errors"

	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/messaging"
	"github.com/wolfman30/appraisal-booking/internal/scheduling"
)

// ErrPhoneMismatch is returned when the verified phone is not the draft's.
var ErrPhoneMismatch = errors.New("booking: verified phone does not match the contact phone")

// Form is a complete booking modal submitted in one request.
type Form struct {
	Mode       scheduling.Mode      `json:"mode"`
	LocationID string               `json:"location_id"`
	Date       string               `json:"date"`
	DayPart    availability.DayPart `json:"day_part"`
	SlotID     string               `json:"slot_id"`
	Contact    scheduling.Contact   `json:"contact"`
	Address    *scheduling.Address  `json:"address,omitempty"`
}

// Apply replays form through the composer so a stale or forged selection is
// rejected exactly as the modal would reject it.
func (s *Session) Apply(form Form) (scheduling.Draft, error) {
	c := s.composer
	c.Discard()
	c.SetMode(form.Mode)
	if !c.SelectSlot(form.LocationID, form.Date, form.DayPart) {
		return scheduling.Draft{}, &scheduling.ValidationError{Fields: map[string]string{
			"slot": "That time is no longer available. Please choose another.",
		}}
	}
	if d, _ := c.Draft(); form.SlotID != "" && d.SlotID != form.SlotID {
		if err := c.ChooseTime(form.SlotID); err != nil {
			return scheduling.Draft{}, &scheduling.ValidationError{Fields: map[string]string{
				"slot_id": "That time is no longer available. Please choose another.",
			}}
		}
	}
	c.SetContact(form.Contact)
	if form.Address != nil {
		c.SetAddress(*form.Address)
	}
	return c.Validate()
}

// Attest marks the session verified by a check made outside the gate, the
// server-side OTP record for this journey. verifiedPhone is E.164.
func (s *Session) Attest(draft scheduling.Draft, verifiedPhone string) error {
	phone, err := messaging.NormalizeUSPhone(draft.Contact.Phone)
	if err != nil || phone != verifiedPhone {
		return ErrPhoneMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.draft = draft
	s.verified = true
	return nil
}
