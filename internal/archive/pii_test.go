package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPhoneIgnoresFormatting(t *testing.T) {
	canonical := HashPhone("+15551234567")

	assert.Len(t, canonical, 64)
	assert.Equal(t, canonical, HashPhone("(555) 123-4567"))
	assert.Equal(t, canonical, HashPhone("1-555-123-4567"))
	assert.NotEqual(t, canonical, HashPhone("+15551234568"))
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "duplicate key for dana.reyes+cars@mail.example.com", "duplicate key for [EMAIL]"},
		{"formatted phone", "phone (330) 333-2654 rejected", "phone [PHONE] rejected"},
		{"e164 phone", "sms to +15005550002 failed", "sms to [PHONE] failed"},
		{"vin", "vehicle 1HGCM82633A004352 already booked", "vehicle [VIN] already booked"},
		{"mixed", "a@b.com / 330.333.2654", "[EMAIL] / [PHONE]"},
		{"column names kept", "duplicate key value violates unique constraint (vehicle_id, token)", "duplicate key value violates unique constraint (vehicle_id, token)"},
		{"zip kept", "no branches near 44114", "no branches near 44114"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}
