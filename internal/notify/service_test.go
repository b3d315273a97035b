package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

type recordedText struct {
	vehicleID, to, body string
}

type fakeTexter struct {
	sent []recordedText
	err  error
}

func (f *fakeTexter) SendMessage(_ context.Context, vehicleID, to, body string) error {
	f.sent = append(f.sent, recordedText{vehicleID, to, body})
	return f.err
}

func branchNotice() AppointmentNotice {
	return AppointmentNotice{
		JourneyID:     "j-1",
		AppointmentID: "appt-1",
		FirstName:     "Dana",
		LastName:      "Reyes",
		Email:         "dana@example.com",
		Phone:         "+15551234567",
		ConsentSMS:    true,
		Vehicle:       "2019 Honda Civic",
		Label:         "Wednesday, October 21 · Afternoon",
		TimeLabel:     "1:00 PM",
		BranchName:    "Edison",
		BranchAddress: "1 Main St, Edison, NJ 07083",
		BranchPhone:   "(732) 555-0100",
	}
}

func TestService_NotifyAppointment_BothChannels(t *testing.T) {
	email := NewStubEmailSender(logging.Discard())
	texts := &fakeTexter{}
	svc := NewService(email, texts, logging.Discard()).WithReplyTo(" appraisals@example.com ")

	require.NoError(t, svc.NotifyAppointment(context.Background(), branchNotice()))

	require.Len(t, email.Sent, 1)
	msg := email.Sent[0]
	assert.Equal(t, "dana@example.com", msg.To)
	assert.Equal(t, "appraisals@example.com", msg.ReplyTo)
	assert.Equal(t, CategoryConfirmation, msg.Category)
	assert.Equal(t, "appt-1", msg.Ref)
	assert.Equal(t, "Dana Reyes", msg.ToName)
	assert.Equal(t, "Your appraisal is booked for Wednesday, October 21 · Afternoon", msg.Subject)
	assert.Contains(t, msg.Body, "When: Wednesday, October 21 · Afternoon at 1:00 PM")
	assert.Contains(t, msg.Body, "Where: Edison, 1 Main St, Edison, NJ 07083")
	assert.Contains(t, msg.Body, "Reference: appt-1")
	assert.Contains(t, msg.HTML, "<strong>Vehicle:</strong> 2019 Honda Civic")

	require.Len(t, texts.sent, 1)
	assert.Equal(t, "j-1", texts.sent[0].vehicleID)
	assert.Equal(t, "+15551234567", texts.sent[0].to)
	assert.Contains(t, texts.sent[0].body, "Questions? Call (732) 555-0100.")
}

func TestService_NotifyAppointment_HomeWithoutConsent(t *testing.T) {
	email := NewStubEmailSender(logging.Discard())
	texts := &fakeTexter{}
	svc := NewService(email, texts, logging.Discard())

	n := branchNotice()
	n.AtHome = true
	n.HomeAddress = "9 Elm St, Edison"
	n.ConsentSMS = false
	n.AppointmentID = ""

	require.NoError(t, svc.NotifyAppointment(context.Background(), n))
	require.Len(t, email.Sent, 1)
	assert.Contains(t, email.Sent[0].Body, "Where: At your home: 9 Elm St, Edison")
	assert.NotContains(t, email.Sent[0].Body, "Reference:")
	assert.NotContains(t, email.Sent[0].Body, "reschedule")
	assert.Empty(t, texts.sent)
}

func TestService_NotifyAppointment_ReportsFailures(t *testing.T) {
	texts := &fakeTexter{err: errors.New("carrier down")}
	svc := NewService(nil, texts, logging.Discard())

	err := svc.NotifyAppointment(context.Background(), branchNotice())
	assert.EqualError(t, err, "carrier down")
}

func TestService_NotifyAppointment_EscapesHTML(t *testing.T) {
	email := NewStubEmailSender(logging.Discard())
	svc := NewService(email, nil, logging.Discard())

	n := branchNotice()
	n.FirstName = "<b>Dana</b>"
	require.NoError(t, svc.NotifyAppointment(context.Background(), n))
	assert.Contains(t, email.Sent[0].HTML, "&lt;b&gt;Dana&lt;/b&gt;")
}
