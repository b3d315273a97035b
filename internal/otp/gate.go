package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// GateState is the client-side position in the verification flow.
type GateState int

const (
	GateIdle GateState = iota
	GateSending
	GateAwaitingCode
	GateVerifying
	GateSuccess
	GateClosed
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateSending:
		return "sending"
	case GateAwaitingCode:
		return "awaiting_code"
	case GateVerifying:
		return "verifying"
	case GateSuccess:
		return "success"
	case GateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// FailureMessage is shown after a rejected code.
	FailureMessage = "Invalid code. Please try again."
	// ResendNotice is shown briefly after a successful resend.
	ResendNotice = "Another code has been sent"
	// LockedMessage is shown once the verify budget is spent.
	LockedMessage = "Too many attempts. Request a new code to continue."

	DefaultFailureDelay   = 5 * time.Second
	DefaultNoticeDuration = 5 * time.Second
)

var (
	// ErrIncomplete is returned by Submit before all cells hold a digit.
	ErrIncomplete = errors.New("otp: enter all 6 digits")
	// ErrResendBlocked is returned while a send is outstanding or inside the cooldown.
	ErrResendBlocked = errors.New("otp: resend not available yet")
	// ErrGateClosed is returned by operations on a closed or completed gate.
	ErrGateClosed = errors.New("otp: gate closed")
)

// Verifier is the server capability the gate drives. *Service satisfies it.
type Verifier interface {
	RequestCode(ctx context.Context, vehicleID, branchID, phone string) (*Challenge, error)
	Verify(ctx context.Context, vehicleID, code string) (Verification, error)
}

// Scheduler runs f after d. The returned func cancels it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// GateConfig binds a gate to one vehicle record and phone.
type GateConfig struct {
	VehicleID      string
	BranchID       string
	Phone          string
	FailureDelay   time.Duration
	NoticeDuration time.Duration
	Cooldown       time.Duration
}

// GateHooks are invoked outside the gate's lock.
type GateHooks struct {
	OnSuccess     func()
	OnChangePhone func()
}

// GateView is a point-in-time copy of what the UI renders.
type GateView struct {
	State    GateState
	Cells    [CodeLength]string
	Focus    int
	Error    string
	Notice   string
	ResendAt time.Time
}

// Gate is the headless OTP modal. A UI shell forwards keystrokes and renders
// View; every network effect is scoped to the generation that started it so
// nothing lands after Close.
type Gate struct {
	verifier Verifier
	cfg      GateConfig
	hooks    GateHooks
	sched    Scheduler
	now      func() time.Time

	mu         sync.Mutex
	state      GateState
	cells      [CodeLength]string
	focus      int
	errMsg     string
	notice     string
	resendAt   time.Time
	sending    bool
	generation uint64
	timers     []func() bool
}

func NewGate(verifier Verifier, cfg GateConfig, hooks GateHooks) *Gate {
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = DefaultFailureDelay
	}
	if cfg.NoticeDuration <= 0 {
		cfg.NoticeDuration = DefaultNoticeDuration
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Gate{
		verifier: verifier,
		cfg:      cfg,
		hooks:    hooks,
		sched:    realScheduler{},
		now:      time.Now,
	}
}

// WithScheduler swaps the timer source; tests fire timers by hand.
func (g *Gate) WithScheduler(s Scheduler) *Gate {
	if s != nil {
		g.sched = s
	}
	return g
}

func (g *Gate) WithClock(now func() time.Time) *Gate {
	if now != nil {
		g.now = now
	}
	return g
}

// View returns the current render state.
func (g *Gate) View() GateView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateView{
		State:    g.state,
		Cells:    g.cells,
		Focus:    g.focus,
		Error:    g.errMsg,
		Notice:   g.notice,
		ResendAt: g.resendAt,
	}
}

// Open dispatches the first code and moves to AwaitingCode. A failed send
// still lands in AwaitingCode with the error shown so the user can resend.
func (g *Gate) Open(ctx context.Context) error {
	g.mu.Lock()
	if g.state != GateIdle {
		g.mu.Unlock()
		return ErrGateClosed
	}
	g.state = GateSending
	g.mu.Unlock()
	return g.send(ctx, false)
}

// Resend re-issues a code without touching the entered digits.
func (g *Gate) Resend(ctx context.Context) error {
	g.mu.Lock()
	switch g.state {
	case GateClosed, GateSuccess, GateIdle:
		g.mu.Unlock()
		return ErrGateClosed
	}
	if g.sending || g.now().Before(g.resendAt) {
		g.mu.Unlock()
		return ErrResendBlocked
	}
	g.mu.Unlock()
	return g.send(ctx, true)
}

func (g *Gate) send(ctx context.Context, resend bool) error {
	g.mu.Lock()
	g.sending = true
	gen := g.generation
	g.mu.Unlock()

	_, err := g.verifier.RequestCode(ctx, g.cfg.VehicleID, g.cfg.BranchID, g.cfg.Phone)

	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation {
		return ErrGateClosed
	}
	g.sending = false
	if g.state == GateSending {
		g.state = GateAwaitingCode
	}

	var cooldown *CooldownError
	switch {
	case err == nil:
		g.resendAt = g.now().Add(g.cfg.Cooldown)
		g.errMsg = ""
		if resend {
			g.notice = ResendNotice
			g.scheduleLocked(g.cfg.NoticeDuration, gen, func() { g.notice = "" })
		}
		return nil
	case errors.As(err, &cooldown):
		g.resendAt = g.now().Add(cooldown.RetryAfter)
	default:
		g.errMsg = messageFor(err)
	}
	return err
}

// Input places digit into cell index and advances focus. Non-digit input is
// ignored. Returns true when the cell changed.
func (g *Gate) Input(index int, digit string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GateAwaitingCode || index < 0 || index >= CodeLength {
		return false
	}
	digit = strings.TrimSpace(digit)
	if len(digit) != 1 || digit[0] < '0' || digit[0] > '9' {
		return false
	}
	g.cells[index] = digit
	g.focus = index
	if index < CodeLength-1 {
		g.focus = index + 1
	}
	return true
}

// Erase clears a cell and moves focus back to it.
func (g *Gate) Erase(index int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GateAwaitingCode || index < 0 || index >= CodeLength {
		return
	}
	g.cells[index] = ""
	g.focus = index
}

// Paste fills every cell from a 6 digit string; anything else is rejected.
func (g *Gate) Paste(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) != CodeLength || strings.Trim(value, "0123456789") != "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GateAwaitingCode {
		return false
	}
	for i := 0; i < CodeLength; i++ {
		g.cells[i] = value[i : i+1]
	}
	g.focus = CodeLength - 1
	return true
}

// CanSubmit reports whether every cell holds a digit.
func (g *Gate) CanSubmit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == GateAwaitingCode && g.filledLocked()
}

func (g *Gate) filledLocked() bool {
	for _, c := range g.cells {
		if c == "" {
			return false
		}
	}
	return true
}

// Submit verifies the entered code. On success the gate closes and OnSuccess
// runs with no intermediate state change. On failure the cells are cleared
// after the failure delay.
func (g *Gate) Submit(ctx context.Context) (bool, error) {
	g.mu.Lock()
	if state := g.state; state != GateAwaitingCode {
		g.mu.Unlock()
		if state == GateVerifying {
			return false, ErrIncomplete
		}
		return false, ErrGateClosed
	}
	if !g.filledLocked() {
		g.mu.Unlock()
		return false, ErrIncomplete
	}
	code := strings.Join(g.cells[:], "")
	g.state = GateVerifying
	gen := g.generation
	g.mu.Unlock()

	result, err := g.verifier.Verify(ctx, g.cfg.VehicleID, code)

	g.mu.Lock()
	if gen != g.generation {
		g.mu.Unlock()
		return false, ErrGateClosed
	}
	if err == nil && result.Valid {
		g.state = GateSuccess
		g.cancelTimersLocked()
		g.generation++
		onSuccess := g.hooks.OnSuccess
		g.mu.Unlock()
		if onSuccess != nil {
			onSuccess()
		}
		return true, nil
	}

	msg := FailureMessage
	if err != nil {
		msg = messageFor(err)
	}
	g.scheduleLocked(g.cfg.FailureDelay, gen, func() {
		g.cells = [CodeLength]string{}
		g.focus = 0
		g.errMsg = msg
		g.state = GateAwaitingCode
	})
	g.mu.Unlock()
	if err == nil {
		err = ErrInvalidCode
	}
	return false, err
}

// ChangePhone abandons the gate and hands control back to the contact step.
func (g *Gate) ChangePhone() {
	g.Close()
	if g.hooks.OnChangePhone != nil {
		g.hooks.OnChangePhone()
	}
}

// Close cancels timers and any in-flight effect. It is safe to call twice.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GateClosed {
		return
	}
	g.cancelTimersLocked()
	g.generation++
	g.state = GateClosed
	g.sending = false
	g.notice = ""
}

func (g *Gate) scheduleLocked(d time.Duration, gen uint64, fn func()) {
	stop := g.sched.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if gen != g.generation {
			return
		}
		fn()
	})
	g.timers = append(g.timers, stop)
}

func (g *Gate) cancelTimersLocked() {
	for _, stop := range g.timers {
		stop()
	}
	g.timers = nil
}

func messageFor(err error) string {
	var te *TransportError
	switch {
	case errors.As(err, &te) && te.Message != "":
		return te.Message
	case errors.Is(err, ErrTooManyAttempts):
		return LockedMessage
	default:
		return FailureMessage
	}
}
