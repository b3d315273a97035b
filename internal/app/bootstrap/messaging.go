package bootstrap

import (
	appconfig "github.com/wolfman30/appraisal-booking/internal/config"
	"github.com/wolfman30/appraisal-booking/internal/messaging"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

type smsMetrics interface {
	ObserveSMS(provider, status string)
}

// BuildMessenger selects the outbound SMS provider. Outside production a
// missing provider falls back to the log messenger so codes show up in logs.
func BuildMessenger(cfg *appconfig.Config, metrics smsMetrics, logger *logging.Logger) (messaging.Messenger, string, string) {
	if cfg == nil {
		return nil, "", "missing config"
	}
	if logger == nil {
		logger = logging.Default()
	}
	messenger, provider, reason := messaging.BuildMessenger(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		FromNumber:       cfg.SMSFromNumber,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		Metrics:          metrics,
	}, logger)
	if messenger != nil {
		return messenger, provider, ""
	}
	if cfg.Env == "production" {
		return nil, "", reason
	}
	logger.Warn("no sms provider configured; logging messages instead", "reason", reason)
	return messaging.NewLogMessenger(logger), messaging.SMSProviderLog, reason
}
