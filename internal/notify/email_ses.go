package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/appraisal-booking/internal/retry"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

// SESAPI is the subset of the SESv2 client used by SESSender.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends confirmations through Amazon SES v2.
type SESSender struct {
	client           SESAPI
	from             string
	configurationSet string
	logger           *logging.Logger
}

type SESConfig struct {
	FromEmail string
	FromName  string
	// ConfigurationSet routes bounce and complaint events; optional.
	ConfigurationSet string
}

// NewSESSender returns nil without a client or from address.
func NewSESSender(client SESAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil || cfg.FromEmail == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	from := fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	return &SESSender{client: client, from: from, configurationSet: cfg.ConfigurationSet, logger: logger}
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8(msg.HTML)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Simple: &types.Message{Subject: utf8(msg.Subject), Body: body}},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	if msg.Category != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String("category"), Value: aws.String(msg.Category)})
	}
	if msg.Ref != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String("ref"), Value: aws.String(msg.Ref)})
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Warn("SES send failed", "error", err, "ref", msg.Ref)
		err = fmt.Errorf("notify: SES send: %w", err)
		if sesThrottled(err) {
			return retry.Transient(err)
		}
		return err
	}
	s.logger.Info("email sent via SES", "ref", msg.Ref, "category", msg.Category, "message_id", aws.ToString(out.MessageId))
	return nil
}

func sesThrottled(err error) bool {
	var tooMany *types.TooManyRequestsException
	var limit *types.LimitExceededException
	return errors.As(err, &tooMany) || errors.As(err, &limit)
}

var _ EmailSender = (*SESSender)(nil)
