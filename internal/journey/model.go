package journey

import (
	"strings"
	"time"
	"unicode"
)

// Vehicle is the visitor's description of the car being appraised.
type Vehicle struct {
	Year     int    `json:"year"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Series   string `json:"series,omitempty"`
	Body     string `json:"body,omitempty"`
	Odometer int    `json:"odometer,omitempty"`
	Zip      string `json:"zip,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ConditionReport holds the step-3 answers and any follow-up questions.
type ConditionReport struct {
	Runs         bool              `json:"runs"`
	Drivable     bool              `json:"drivable"`
	Damage       bool              `json:"damage"`
	Accident     bool              `json:"accident"`
	FollowUp     map[string]string `json:"follow_up,omitempty"`
	FollowUpDone bool              `json:"follow_up_done"`
}

// NeedsFollowUp reports whether the answers route through the additional
// questions before scheduling.
func (c *ConditionReport) NeedsFollowUp() bool {
	return c != nil && (!c.Runs || c.Damage || c.Accident)
}

// Appointable reports whether the vehicle can be brought to (or seen at) an
// appraisal.
func (c *ConditionReport) Appointable() bool {
	return c != nil && c.Runs && c.Drivable
}

// Journey is one visitor's progress through the funnel.
type Journey struct {
	ID            string           `json:"id"`
	VisitorID     string           `json:"visitor_id"`
	Vehicle       Vehicle          `json:"vehicle"`
	Condition     *ConditionReport `json:"condition,omitempty"`
	ConsentSMS    bool             `json:"consent_sms"`
	AppointmentID *string          `json:"appointment_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// CreateRequest starts a journey from year/make/model.
type CreateRequest struct {
	VisitorID string `json:"-"`
	Year      int    `json:"year"`
	Make      string `json:"make"`
	Model     string `json:"model"`
}

// Validate checks the create request.
func (r *CreateRequest) Validate() error {
	r.Make = strings.TrimSpace(r.Make)
	r.Model = strings.TrimSpace(r.Model)
	if r.Year < 1900 || r.Year > time.Now().Year()+2 || r.Make == "" || r.Model == "" {
		return ErrInvalidVehicle
	}
	return nil
}

// VehicleDetailsPatch is the step-2 partial update.
type VehicleDetailsPatch struct {
	Series *string `json:"series,omitempty"`
	Body   *string `json:"body,omitempty"`
}

// ConditionPatch is the step-3 partial update (condition and contact) and
// the additional-questions update.
type ConditionPatch struct {
	Runs         *bool             `json:"runs,omitempty"`
	Drivable     *bool             `json:"drivable,omitempty"`
	Damage       *bool             `json:"damage,omitempty"`
	Accident     *bool             `json:"accident,omitempty"`
	FollowUp     map[string]string `json:"follow_up,omitempty"`
	FollowUpDone *bool             `json:"follow_up_done,omitempty"`
	Odometer     *int              `json:"odometer,omitempty"`
	Zip          *string           `json:"zip,omitempty"`
	Email        *string           `json:"email,omitempty"`
	Phone        *string           `json:"phone,omitempty"`
	ConsentSMS   *bool             `json:"consent_sms,omitempty"`
}

// Validate checks the fields that are present.
func (p *ConditionPatch) Validate() error {
	if p.Odometer != nil && *p.Odometer < 0 {
		return &FieldError{Field: "odometer", Message: "must not be negative"}
	}
	if p.Zip != nil {
		zip := strings.TrimSpace(*p.Zip)
		if len(zip) != 5 || strings.IndexFunc(zip, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
			return &FieldError{Field: "zip", Message: "must be 5 digits"}
		}
		p.Zip = &zip
	}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if at := strings.Index(email, "@"); at < 1 || at == len(email)-1 {
			return &FieldError{Field: "email", Message: "must be a valid email address"}
		}
		p.Email = &email
	}
	if p.Phone != nil {
		digits := DigitsOnly(*p.Phone)
		if len(digits) != 10 {
			return &FieldError{Field: "phone", Message: "must be 10 digits"}
		}
		p.Phone = &digits
	}
	return nil
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

func applyVehicleDetails(j *Journey, p VehicleDetailsPatch) {
	if p.Series != nil {
		j.Vehicle.Series = strings.TrimSpace(*p.Series)
	}
	if p.Body != nil {
		j.Vehicle.Body = strings.TrimSpace(*p.Body)
	}
}

func applyCondition(j *Journey, p ConditionPatch) {
	touchesCondition := p.Runs != nil || p.Drivable != nil || p.Damage != nil || p.Accident != nil ||
		len(p.FollowUp) > 0 || p.FollowUpDone != nil
	if touchesCondition && j.Condition == nil {
		j.Condition = &ConditionReport{}
	}
	if c := j.Condition; c != nil {
		if p.Runs != nil {
			c.Runs = *p.Runs
		}
		if p.Drivable != nil {
			c.Drivable = *p.Drivable
		}
		if p.Damage != nil {
			c.Damage = *p.Damage
		}
		if p.Accident != nil {
			c.Accident = *p.Accident
		}
		if len(p.FollowUp) > 0 {
			if c.FollowUp == nil {
				c.FollowUp = make(map[string]string, len(p.FollowUp))
			}
			for k, v := range p.FollowUp {
				c.FollowUp[k] = v
			}
		}
		if p.FollowUpDone != nil {
			c.FollowUpDone = *p.FollowUpDone
		}
	}
	if p.Odometer != nil {
		j.Vehicle.Odometer = *p.Odometer
	}
	if p.Zip != nil {
		j.Vehicle.Zip = *p.Zip
	}
	if p.Email != nil {
		j.Vehicle.Email = *p.Email
	}
	if p.Phone != nil {
		j.Vehicle.Phone = *p.Phone
	}
	if p.ConsentSMS != nil {
		j.ConsentSMS = *p.ConsentSMS
	}
}

func cloneJourney(j *Journey) *Journey {
	out := *j
	if j.Condition != nil {
		c := *j.Condition
		if j.Condition.FollowUp != nil {
			c.FollowUp = make(map[string]string, len(j.Condition.FollowUp))
			for k, v := range j.Condition.FollowUp {
				c.FollowUp[k] = v
			}
		}
		out.Condition = &c
	}
	if j.AppointmentID != nil {
		id := *j.AppointmentID
		out.AppointmentID = &id
	}
	return &out
}
