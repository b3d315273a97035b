package appointments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	tokenPeriod = 30
	tokenDigits = otp.DigitsEight
)

// TokenSource derives the per-vehicle time-based token used as the
// idempotency key on insert. The shared secret never leaves the server.
type TokenSource struct {
	secret []byte
	now    func() time.Time
}

func NewTokenSource(secret string) (*TokenSource, error) {
	if secret == "" {
		return nil, errors.New("appointments: token secret required")
	}
	return &TokenSource{secret: []byte(secret), now: time.Now}, nil
}

func (t *TokenSource) opts(skew uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    tokenPeriod,
		Skew:      skew,
		Digits:    tokenDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// seed binds the TOTP key to the vehicle record.
func (t *TokenSource) seed(vehicleID string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(vehicleID))
	return base32.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Token returns the current token for vehicleID.
func (t *TokenSource) Token(vehicleID string) (string, error) {
	return totp.GenerateCodeCustom(t.seed(vehicleID), t.now(), t.opts(0))
}

// Validate accepts tokens from the current or an adjacent period.
func (t *TokenSource) Validate(vehicleID, token string) bool {
	ok, err := totp.ValidateCustom(token, t.seed(vehicleID), t.now(), t.opts(1))
	return err == nil && ok
}
