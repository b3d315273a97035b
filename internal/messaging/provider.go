package messaging

import (
	"fmt"
	"strings"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// Provider names accepted by SMS_PROVIDER.
const (
	SMSProviderAuto   = "auto"
	SMSProviderTelnyx = "telnyx"
	SMSProviderTwilio = "twilio"
	SMSProviderLog    = "log"
)

// ProviderSelectionConfig carries the credentials for every SMS carrier.
type ProviderSelectionConfig struct {
	Preference       string
	FromNumber       string
	TelnyxAPIKey     string
	TelnyxProfileID  string
	TwilioAccountSID string
	TwilioAuthToken  string
	Metrics          smsMetrics
}

// carrier is one SMS backend with the env vars it needs.
type carrier struct {
	name     string
	required [][2]string // env var, value
	build    func() Messenger
}

func (c carrier) missing() string {
	var names []string
	for _, kv := range c.required {
		if kv[1] == "" {
			names = append(names, kv[0]+" missing")
		}
	}
	return strings.Join(names, ", ")
}

func carriers(cfg ProviderSelectionConfig, logger *logging.Logger) []carrier {
	return []carrier{
		{
			name:     SMSProviderTelnyx,
			required: [][2]string{{"TELNYX_API_KEY", cfg.TelnyxAPIKey}, {"TELNYX_MESSAGING_PROFILE_ID", cfg.TelnyxProfileID}},
			build: func() Messenger {
				return NewTelnyxSender(cfg.TelnyxAPIKey, cfg.TelnyxProfileID, cfg.FromNumber, logger).WithMetrics(cfg.Metrics)
			},
		},
		{
			name:     SMSProviderTwilio,
			required: [][2]string{{"TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID}, {"TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken}},
			build: func() Messenger {
				return NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.FromNumber, logger).WithMetrics(cfg.Metrics)
			},
		},
	}
}

// BuildMessenger returns the messenger for the preferred carrier, the name of
// what was selected, and why nothing could be built when the messenger is nil.
// "auto" chains Telnyx in front of Twilio when both are configured.
func BuildMessenger(cfg ProviderSelectionConfig, logger *logging.Logger) (Messenger, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	pref := strings.ToLower(strings.TrimSpace(cfg.Preference))
	switch pref {
	case "":
		pref = SMSProviderAuto
	case SMSProviderLog:
		return NewLogMessenger(logger), SMSProviderLog, ""
	}

	var (
		ready   []carrier
		reasons []string
	)
	for _, c := range carriers(cfg, logger) {
		if pref != SMSProviderAuto && pref != c.name {
			continue
		}
		if why := c.missing(); why != "" {
			if pref == c.name {
				return nil, "", why
			}
			reasons = append(reasons, fmt.Sprintf("%s: %s", c.name, why))
			continue
		}
		ready = append(ready, c)
	}

	switch len(ready) {
	case 0:
		if len(reasons) == 0 {
			return nil, "", fmt.Sprintf("%s messenger not configured", pref)
		}
		return nil, "", strings.Join(reasons, "; ")
	case 1:
		return ready[0].build(), ready[0].name, ""
	default:
		primary, secondary := ready[0], ready[1]
		return NewFailoverMessenger(primary.build(), primary.name, secondary.build(), secondary.name, logger),
			primary.name + "+" + secondary.name, ""
	}
}
