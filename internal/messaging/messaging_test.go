package messaging

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestNormalizeUSPhone(t *testing.T) {
	cases := map[string]string{
		"(555) 123-4567":  "+15551234567",
		"555.123.4567":    "+15551234567",
		"+1 555 123 4567": "+15551234567",
	}
	for in, want := range cases {
		got, err := NormalizeUSPhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := NormalizeUSPhone("555-1234")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	_, err = NormalizeUSPhone("25551234567")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*******4567", MaskPhone("+15551234567"))
	assert.Equal(t, "12", MaskPhone("12"))
}

func TestTelnyxSender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v2/messages", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"messaging_profile_id":"profile"`)
		_, _ = w.Write([]byte(`{"data":{"id":"msg-1","status":"queued"}}`))
	}))
	defer srv.Close()

	sender := NewTelnyxSender("key", "profile", "+15550000000", logging.Discard()).
		WithBaseURL(srv.URL).
		WithRetryPolicy(retry.New(3, 0).WithSleep(noSleep))

	meta := map[string]string{}
	err := sender.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "hi", Metadata: meta})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "msg-1", meta["provider_message_id"])
	assert.Equal(t, "queued", meta["provider_status"])
}

func TestTwilioSender_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "token", pass)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/Accounts/AC1/Messages.json"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	sender := NewTwilioSender("AC1", "token", "+15550000000", logging.Discard()).
		WithBaseURL(srv.URL).
		WithRetryPolicy(retry.New(3, 0).WithSleep(noSleep))

	err := sender.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 21211")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSenders_ValidateMessage(t *testing.T) {
	sender := NewTelnyxSender("key", "profile", "", logging.Discard())
	err := sender.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "hi"})
	assert.EqualError(t, err, "messaging: from required")

	err = sender.Send(context.Background(), OutboundSMS{To: "+15551234567", From: "+15550000000", Body: "  "})
	assert.EqualError(t, err, "messaging: body required")
}

func TestFailoverMessenger(t *testing.T) {
	var secondaryCalls int
	primary := MessengerFunc(func(context.Context, OutboundSMS) error { return errors.New("primary down") })
	secondary := MessengerFunc(func(context.Context, OutboundSMS) error {
		secondaryCalls++
		return nil
	})

	f := NewFailoverMessenger(primary, SMSProviderTelnyx, secondary, SMSProviderTwilio, logging.Discard())
	require.NoError(t, f.Send(context.Background(), OutboundSMS{To: "+15551234567", Body: "hi"}))
	assert.Equal(t, 1, secondaryCalls)

	only := NewFailoverMessenger(primary, SMSProviderTelnyx, nil, "", logging.Discard())
	assert.EqualError(t, only.Send(context.Background(), OutboundSMS{}), "primary down")

	secondaryErr := errors.New("secondary down")
	both := NewFailoverMessenger(primary, SMSProviderTelnyx,
		MessengerFunc(func(context.Context, OutboundSMS) error { return secondaryErr }), SMSProviderTwilio,
		logging.Discard())
	err := both.Send(context.Background(), OutboundSMS{To: "+15551234567"})
	assert.ErrorIs(t, err, secondaryErr)
	assert.Contains(t, err.Error(), "telnyx: primary down")

	assert.Error(t, NewFailoverMessenger(nil, "", nil, "", logging.Discard()).Send(context.Background(), OutboundSMS{}))
}

func TestBuildMessenger(t *testing.T) {
	m, provider, reason := BuildMessenger(ProviderSelectionConfig{}, logging.Discard())
	assert.Nil(t, m)
	assert.Empty(t, provider)
	assert.Contains(t, reason, "TELNYX_API_KEY missing")
	assert.Contains(t, reason, "TWILIO_AUTH_TOKEN missing")

	m, provider, _ = BuildMessenger(ProviderSelectionConfig{
		TelnyxAPIKey: "k", TelnyxProfileID: "p",
		TwilioAccountSID: "AC", TwilioAuthToken: "t",
	}, logging.Discard())
	assert.IsType(t, &FailoverMessenger{}, m)
	assert.Equal(t, "telnyx+twilio", provider)

	m, provider, _ = BuildMessenger(ProviderSelectionConfig{Preference: " Twilio ", TwilioAccountSID: "AC", TwilioAuthToken: "t"}, logging.Discard())
	assert.IsType(t, &TwilioSender{}, m)
	assert.Equal(t, SMSProviderTwilio, provider)

	_, _, reason = BuildMessenger(ProviderSelectionConfig{Preference: "telnyx", TelnyxAPIKey: "k"}, logging.Discard())
	assert.Equal(t, "TELNYX_MESSAGING_PROFILE_ID missing", reason)

	m, provider, _ = BuildMessenger(ProviderSelectionConfig{Preference: "log"}, logging.Discard())
	assert.IsType(t, &LogMessenger{}, m)
	assert.Equal(t, SMSProviderLog, provider)
}
