package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appraisal-booking/internal/messaging"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

var tracer = otel.Tracer("appraisal.internal.otp")

// CodeLength is the number of digits in a code.
const CodeLength = 6

type otpMetrics interface {
	ObserveOTPSend(status string)
	ObserveOTPVerification(status string)
}

// Config tunes the challenge lifecycle.
type Config struct {
	Secret      string
	CodeTTL     time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	MaxSends    int
	VerifiedTTL time.Duration
	FromNumber  string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CodeTTL:     10 * time.Minute,
		Cooldown:    15 * time.Second,
		MaxAttempts: 5,
		MaxSends:    5,
		VerifiedTTL: 30 * time.Minute,
	}
}

// Challenge describes an issued code, without the code.
type Challenge struct {
	VehicleID string    `json:"vehicle_id"`
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
	Sends     int       `json:"sends"`
	ResendAt  time.Time `json:"resend_at"`
}

// Verification is the outcome of a verify call.
type Verification struct {
	Valid        bool `json:"valid"`
	AttemptsLeft int  `json:"attempts_left"`
}

type storedChallenge struct {
	Digest   string `json:"digest"`
	Phone    string `json:"phone"`
	BranchID string `json:"branch_id"`
}

// Service issues and verifies codes bound to a vehicle record. Redis is the
// only state; the code itself is never stored.
type Service struct {
	redis     redis.Cmdable
	messenger messaging.Messenger
	cfg       Config
	logger    *logging.Logger
	metrics   otpMetrics
	random    io.Reader
	now       func() time.Time
}

// NewService wires a service. A missing secret is replaced by a random one so
// codes never verify across restarts in development.
func NewService(rdb redis.Cmdable, messenger messaging.Messenger, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	def := DefaultConfig()
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxSends <= 0 {
		cfg.MaxSends = def.MaxSends
	}
	if cfg.VerifiedTTL <= 0 {
		cfg.VerifiedTTL = def.VerifiedTTL
	}
	if cfg.Secret == "" {
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		cfg.Secret = hex.EncodeToString(buf)
		logger.Warn("OTP_SECRET not set; using an ephemeral secret")
	}
	return &Service{
		redis:     rdb,
		messenger: messenger,
		cfg:       cfg,
		logger:    logger,
		random:    rand.Reader,
		now:       time.Now,
	}
}

func (s *Service) WithMetrics(m otpMetrics) *Service {
	s.metrics = m
	return s
}

func codeKey(vehicleID string) string     { return "otp:code:" + vehicleID }
func cooldownKey(vehicleID string) string { return "otp:cooldown:" + vehicleID }
func attemptsKey(vehicleID string) string { return "otp:attempts:" + vehicleID }
func sendsKey(vehicleID string) string    { return "otp:sends:" + vehicleID }
func verifiedKey(vehicleID string) string { return "otp:verified:" + vehicleID }

// RequestCode issues a fresh code and texts it to phone. A request inside the
// cooldown returns *CooldownError; a failed send releases the cooldown.
func (s *Service) RequestCode(ctx context.Context, vehicleID, branchID, phone string) (*Challenge, error) {
	ctx, span := tracer.Start(ctx, "otp.request_code")
	defer span.End()
	span.SetAttributes(attribute.String("appraisal.vehicle_id", vehicleID), attribute.String("appraisal.branch_id", branchID))

	if strings.TrimSpace(vehicleID) == "" {
		return nil, errors.New("otp: vehicle id required")
	}
	e164, err := messaging.NormalizeUSPhone(phone)
	if err != nil {
		return nil, ErrInvalidPhone
	}

	ok, err := s.redis.SetNX(ctx, cooldownKey(vehicleID), 1, s.cfg.Cooldown).Result()
	if err != nil {
		span.RecordError(err)
		return nil, &TransportError{Err: fmt.Errorf("cooldown: %w", err)}
	}
	if !ok {
		ttl, _ := s.redis.TTL(ctx, cooldownKey(vehicleID)).Result()
		if ttl <= 0 {
			ttl = s.cfg.Cooldown
		}
		s.observeSend("cooldown")
		return nil, &CooldownError{RetryAfter: ttl}
	}

	sends, err := s.bump(ctx, sendsKey(vehicleID), s.cfg.CodeTTL)
	if err != nil {
		span.RecordError(err)
		return nil, &TransportError{Err: err}
	}
	if sends > int64(s.cfg.MaxSends) {
		s.observeSend("limited")
		return nil, ErrTooManySends
	}

	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("otp: generate code: %w", err)
	}
	stored, err := json.Marshal(storedChallenge{Digest: s.digest(vehicleID, code), Phone: e164, BranchID: branchID})
	if err != nil {
		return nil, fmt.Errorf("otp: marshal challenge: %w", err)
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, codeKey(vehicleID), stored, s.cfg.CodeTTL)
	pipe.Del(ctx, attemptsKey(vehicleID))
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return nil, &TransportError{Err: fmt.Errorf("store challenge: %w", err)}
	}

	body := fmt.Sprintf("Your appraisal verification code is %s. It expires in %d minutes.", code, int(s.cfg.CodeTTL.Minutes()))
	if err := s.SendMessage(ctx, vehicleID, e164, body); err != nil {
		span.RecordError(err)
		s.redis.Del(ctx, cooldownKey(vehicleID))
		s.observeSend("error")
		return nil, err
	}
	s.observeSend("sent")

	now := s.now()
	s.logger.Info("otp code sent", "vehicle_id", vehicleID, "branch_id", branchID, "sends", sends)
	return &Challenge{
		VehicleID: vehicleID,
		Phone:     e164,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
		Sends:     int(sends),
		ResendAt:  now.Add(s.cfg.Cooldown),
	}, nil
}

// Verify checks code against the live challenge. Success records a verified
// marker that Verified reports until it expires or is consumed.
func (s *Service) Verify(ctx context.Context, vehicleID, code string) (Verification, error) {
	ctx, span := tracer.Start(ctx, "otp.verify")
	defer span.End()
	span.SetAttributes(attribute.String("appraisal.vehicle_id", vehicleID))

	code = strings.TrimSpace(code)
	if len(code) != CodeLength || strings.Trim(code, "0123456789") != "" {
		s.observeVerify("malformed")
		return Verification{}, ErrInvalidCode
	}

	attempts, err := s.bump(ctx, attemptsKey(vehicleID), s.cfg.CodeTTL)
	if err != nil {
		span.RecordError(err)
		return Verification{}, &TransportError{Err: err}
	}
	left := s.cfg.MaxAttempts - int(attempts)
	if left < 0 {
		s.observeVerify("locked")
		return Verification{}, ErrTooManyAttempts
	}

	raw, err := s.redis.Get(ctx, codeKey(vehicleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.observeVerify("expired")
		return Verification{AttemptsLeft: left}, ErrExpired
	}
	if err != nil {
		span.RecordError(err)
		return Verification{}, &TransportError{Err: err}
	}
	var stored storedChallenge
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Verification{}, fmt.Errorf("otp: decode challenge: %w", err)
	}

	if !hmac.Equal([]byte(stored.Digest), []byte(s.digest(vehicleID, code))) {
		s.observeVerify("invalid")
		s.logger.Info("otp code rejected", "vehicle_id", vehicleID, "attempts_left", left)
		return Verification{AttemptsLeft: left}, ErrInvalidCode
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, verifiedKey(vehicleID), stored.Phone, s.cfg.VerifiedTTL)
	pipe.Del(ctx, codeKey(vehicleID), attemptsKey(vehicleID), sendsKey(vehicleID))
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return Verification{}, &TransportError{Err: err}
	}
	s.observeVerify("ok")
	return Verification{Valid: true, AttemptsLeft: left}, nil
}

// Verified reports whether the vehicle passed verification recently.
func (s *Service) Verified(ctx context.Context, vehicleID string) (bool, error) {
	n, err := s.redis.Exists(ctx, verifiedKey(vehicleID)).Result()
	if err != nil {
		return false, &TransportError{Err: err}
	}
	return n == 1, nil
}

// VerifiedPhone returns the E.164 number that passed verification.
func (s *Service) VerifiedPhone(ctx context.Context, vehicleID string) (string, bool, error) {
	phone, err := s.redis.Get(ctx, verifiedKey(vehicleID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &TransportError{Err: err}
	}
	return phone, true, nil
}

// Consume clears the verified marker once the appointment is committed.
func (s *Service) Consume(ctx context.Context, vehicleID string) error {
	return s.redis.Del(ctx, verifiedKey(vehicleID)).Err()
}

// SendMessage texts body to the recipient on behalf of the vehicle record.
func (s *Service) SendMessage(ctx context.Context, vehicleID, to, body string) error {
	if s.messenger == nil {
		return &TransportError{Message: "Text messages are unavailable right now.", Err: errors.New("messenger not configured")}
	}
	err := s.messenger.Send(ctx, messaging.OutboundSMS{
		To:       to,
		From:     s.cfg.FromNumber,
		Body:     body,
		Metadata: map[string]string{"vehicle_id": vehicleID},
	})
	if err != nil {
		s.logger.Error("otp send failed", "vehicle_id", vehicleID, "error", err)
		return &TransportError{Message: "We couldn't text your code. Please try again.", Err: err}
	}
	return nil
}

func (s *Service) generate() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(s.random, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Service) digest(vehicleID, code string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write([]byte(vehicleID))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// bump increments a windowed counter. The key is seeded with its TTL in the
// same transaction, so a counter never outlives its window.
func (s *Service) bump(ctx context.Context, key string, window time.Duration) (int64, error) {
	var count *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, window)
		count = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bump %s: %w", key, err)
	}
	return count.Val(), nil
}

func (s *Service) observeSend(status string) {
	if s.metrics != nil {
		s.metrics.ObserveOTPSend(status)
	}
}

func (s *Service) observeVerify(status string) {
	if s.metrics != nil {
		s.metrics.ObserveOTPVerification(status)
	}
}
