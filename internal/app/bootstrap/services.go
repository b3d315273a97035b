package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appraisal-booking/internal/analytics"
	"github.com/wolfman30/appraisal-booking/internal/availability"
	"github.com/wolfman30/appraisal-booking/internal/branches"
	appconfig "github.com/wolfman30/appraisal-booking/internal/config"
	"github.com/wolfman30/appraisal-booking/internal/notify"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// BuildEmailSender picks the confirmation email transport. Missing
// credentials degrade to the stub sender rather than failing startup.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "ses":
		if awsCfg != nil && cfg.SendGridFromEmail != "" {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail:        cfg.SendGridFromEmail,
				FromName:         cfg.SendGridFromName,
				ConfigurationSet: cfg.SESConfigSet,
			}, logger)
		}
	case "sendgrid":
		if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
			return notify.NewSendGridSender(notify.SendGridConfig{
				APIKey:    cfg.SendGridAPIKey,
				FromEmail: cfg.SendGridFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger)
		}
	}
	logger.Warn("email provider not configured; using stub sender", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger)
}

// BuildAnalyticsQueue returns the step-view queue. The memory queue only
// works when the recorder runs in the same process.
func BuildAnalyticsQueue(cfg *appconfig.Config, awsCfg *aws.Config) (analytics.Queue, error) {
	if cfg.UseMemoryQueue {
		return analytics.NewMemoryQueue(0), nil
	}
	if strings.TrimSpace(cfg.AnalyticsQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: ANALYTICS_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	if awsCfg == nil {
		return nil, fmt.Errorf("bootstrap: aws config required for sqs queue")
	}
	return analytics.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.AnalyticsQueueURL)
}

// BuildDirectory wires the branch directory client behind the Redis cache
// when a client is available.
func BuildDirectory(cfg *appconfig.Config, rdb redis.Cmdable, logger *logging.Logger) (availability.Directory, error) {
	if strings.TrimSpace(cfg.BranchDirectoryBaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: BRANCH_DIRECTORY_BASE_URL is required")
	}
	var dir availability.Directory = branches.NewClient(cfg.BranchDirectoryBaseURL, cfg.BranchDirectoryAPIKey, logger)
	if rdb != nil && cfg.BranchCacheTTL > 0 {
		dir = branches.NewCachedDirectory(dir, rdb, cfg.BranchCacheTTL, logger)
	}
	return dir, nil
}
