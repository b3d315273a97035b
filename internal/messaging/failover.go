package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

type namedMessenger struct {
	name string
	m    Messenger
}

// FailoverMessenger sends through each configured carrier in order until one
// accepts the message. A code that never arrives costs the visitor the
// booking, so a carrier outage must not block OTP delivery.
type FailoverMessenger struct {
	legs   []namedMessenger
	logger *logging.Logger
}

func NewFailoverMessenger(primary Messenger, primaryName string, secondary Messenger, secondaryName string, logger *logging.Logger) *FailoverMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	f := &FailoverMessenger{logger: logger}
	for _, leg := range []namedMessenger{{primaryName, primary}, {secondaryName, secondary}} {
		if leg.m != nil {
			f.legs = append(f.legs, leg)
		}
	}
	return f
}

var _ Messenger = (*FailoverMessenger)(nil)

// Send returns nil on the first carrier that accepts msg. When every carrier
// fails, the last carrier's error is returned with the earlier ones joined.
func (f *FailoverMessenger) Send(ctx context.Context, msg OutboundSMS) error {
	if f == nil || len(f.legs) == 0 {
		return errors.New("messaging: failover primary sender not configured")
	}
	var errs []error
	for i, leg := range f.legs {
		err := leg.m.Send(ctx, msg)
		if err == nil {
			if i > 0 {
				f.logger.Info("sms delivered by fallback carrier", "provider", leg.name, "to", MaskPhone(msg.To))
			}
			return nil
		}
		if len(f.legs) == 1 {
			return err
		}
		errs = append(errs, fmt.Errorf("%s: %w", leg.name, err))
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("sms carrier failed", "provider", leg.name, "error", err, "to", MaskPhone(msg.To), "remaining", len(f.legs)-i-1)
	}
	return errors.Join(errs...)
}
