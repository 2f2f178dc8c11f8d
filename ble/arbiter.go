package ble

import (
	"fmt"
	"sync"
	"time"

	"github.com/brokemediaio-a11y/OffLink/logger"
	"github.com/brokemediaio-a11y/OffLink/metrics"
	"github.com/brokemediaio-a11y/OffLink/radio"
	"github.com/brokemediaio-a11y/OffLink/retry"
)

// State is the arbiter's view of what the shared radio is doing.
type State int

const (
	StateIdle State = iota
	StateServing
	StateScanning
	StateTransitioningDown
	StateTransitioningUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServing:
		return "serving"
	case StateScanning:
		return "scanning"
	case StateTransitioningDown:
		return "transitioning-down"
	case StateTransitioningUp:
		return "transitioning-up"
	default:
		return "unknown"
	}
}

// ArbiterConfig tunes the role state machine.
type ArbiterConfig struct {
	HardwareAddr string
	DeviceName   string
	DataDir      string
	Faults       *radio.FaultPlan

	// AdvertPayload is the encoded identifier block broadcast while serving.
	AdvertPayload []byte

	SettleDelay    time.Duration // quiesce wait before rebuilding the server
	ResumeAttempts int
	ResumeDelay    time.Duration // fixed delay between resume attempts
}

// Arbiter decides whether the shared radio is serving, scanning, or idle,
// and performs the transitions. It is the only component that opens or
// closes the radio handle; everyone else borrows the handle between
// transitions and must not hold it across one.
type Arbiter struct {
	cfg    ArbiterConfig
	server *Server

	mu    sync.Mutex
	state State
	r     *radio.Radio

	// Link callbacks reinstalled on every fresh radio handle
	notifyHandler func(from, service, char string, data []byte)
	disconnectCb  func(addr string)
}

// NewArbiter creates the role arbiter. The server is started and stopped by
// the arbiter as roles change.
func NewArbiter(cfg ArbiterConfig, server *Server) *Arbiter {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ResumeAttempts <= 0 {
		cfg.ResumeAttempts = ServerResumeAttempts
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = DefaultResumeDelay
	}
	return &Arbiter{cfg: cfg, server: server, state: StateIdle}
}

// SetLinkCallbacks installs handlers that survive handle rebuilds: they are
// re-attached to every fresh radio the arbiter opens.
func (a *Arbiter) SetLinkCallbacks(onNotify func(from, service, char string, data []byte), onDisconnect func(addr string)) {
	a.mu.Lock()
	a.notifyHandler = onNotify
	a.disconnectCb = onDisconnect
	r := a.r
	a.mu.Unlock()
	if r != nil {
		r.SetNotifyHandler(onNotify)
		r.SetDisconnectCallback(onDisconnect)
	}
}

// State returns the current role state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CurrentRadio returns the live handle. Borrowed, never kept: a role
// transition invalidates it.
func (a *Arbiter) CurrentRadio() *radio.Radio {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.r
}

// Init opens the radio and brings up the serving role.
func (a *Arbiter) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.r != nil {
		return fmt.Errorf("arbiter already initialized")
	}

	if err := a.openRadioLocked(); err != nil {
		return err
	}
	if err := a.bringUpServerLocked(); err != nil {
		a.server.StopAdvertising()
		a.server.Stop()
		a.r.Close()
		a.r = nil
		return err
	}

	a.setStateLocked(StateServing)
	return nil
}

// Shutdown quiesces whatever role is active and releases the radio.
func (a *Arbiter) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.r == nil {
		return
	}
	a.server.StopAdvertising()
	a.server.ForceDisconnectAll()
	a.server.Stop()
	a.r.StopScan()
	a.r.Close()
	a.r = nil
	a.setStateLocked(StateIdle)
}

// SuspendForScanning quiesces the serving role so the scanner can have the
// radio: stop advertising, force-disconnect connected centrals, tear down
// the server object, and rebuild the radio handle. The shared hardware can
// leave the scanner broken if the server was recently active, so the old
// handle is never reused.
func (a *Arbiter) SuspendForScanning() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateIdle:
		return nil
	case StateServing:
	default:
		return fmt.Errorf("cannot suspend while %s", a.state)
	}

	a.setStateLocked(StateTransitioningDown)
	logger.Info(a.logPrefix(), "suspending server role for scanning")

	a.server.StopAdvertising()
	a.server.ForceDisconnectAll()
	a.server.Stop()

	// Fresh handle: forces the platform to hand back a clean scanner
	a.r.Close()
	a.r = nil
	if err := a.openRadioLocked(); err != nil {
		a.setStateLocked(StateIdle)
		return fmt.Errorf("failed to rebuild radio handle: %w", err)
	}

	a.setStateLocked(StateIdle)
	return nil
}

// BeginScan marks the central role active and hands out the handle the
// scanner session should use. Only legal from idle.
func (a *Arbiter) BeginScan() (*radio.Radio, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return nil, fmt.Errorf("cannot scan while %s", a.state)
	}
	a.setStateLocked(StateScanning)
	return a.r, nil
}

// EndScan marks the central role finished. Idempotent.
func (a *Arbiter) EndScan() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateScanning {
		return
	}
	a.r.StopScan()
	a.setStateLocked(StateIdle)
}

// ResumeAfterScanning stops any in-flight scan, waits the settle interval,
// and rebuilds the serving role, retrying server setup up to the bound with
// a fixed delay. Fails only when every attempt is exhausted.
func (a *Arbiter) ResumeAfterScanning() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateServing:
		return nil
	case StateIdle, StateScanning:
	default:
		return fmt.Errorf("cannot resume while %s", a.state)
	}

	if a.r == nil {
		return fmt.Errorf("arbiter not initialized")
	}

	a.r.StopScan()
	a.setStateLocked(StateTransitioningUp)
	logger.Info(a.logPrefix(), "resuming server role after scanning")

	time.Sleep(a.cfg.SettleDelay)

	policy := retry.Policy{
		MaxAttempts: a.cfg.ResumeAttempts,
		Backoff:     retry.Linear(a.cfg.ResumeDelay),
		OnRetry: func(attempt int, err error) {
			logger.Warn(a.logPrefix(), "server setup failed (%v), retry %d/%d",
				err, attempt, a.cfg.ResumeAttempts-1)
		},
	}

	err := policy.Do(func(int) error {
		if err := a.bringUpServerLocked(); err != nil {
			a.server.StopAdvertising()
			a.server.Stop()
			return err
		}
		return nil
	})
	if err != nil {
		a.setStateLocked(StateIdle)
		return fmt.Errorf("failed to resume server role: %w", err)
	}

	a.setStateLocked(StateServing)
	return nil
}

// openRadioLocked opens a fresh handle and reinstalls the link callbacks.
func (a *Arbiter) openRadioLocked() error {
	r, err := radio.Open(a.cfg.HardwareAddr, a.cfg.DeviceName, a.cfg.DataDir, a.cfg.Faults)
	if err != nil {
		return fmt.Errorf("failed to open radio: %w", err)
	}
	if a.notifyHandler != nil {
		r.SetNotifyHandler(a.notifyHandler)
	}
	if a.disconnectCb != nil {
		r.SetDisconnectCallback(a.disconnectCb)
	}
	a.r = r
	return nil
}

// bringUpServerLocked registers the server and starts advertising.
func (a *Arbiter) bringUpServerLocked() error {
	if err := a.server.Start(a.r); err != nil {
		return err
	}
	if err := a.server.Advertise(a.cfg.AdvertPayload, a.cfg.DeviceName); err != nil {
		return err
	}
	return nil
}

func (a *Arbiter) setStateLocked(s State) {
	if a.state == s {
		return
	}
	logger.Debug(a.logPrefix(), "role transition %s -> %s", a.state, s)
	a.state = s
	metrics.RoleTransitions.WithLabelValues(s.String()).Inc()
}

func (a *Arbiter) logPrefix() string {
	addr := a.cfg.HardwareAddr
	if len(addr) > 8 {
		addr = addr[:8]
	}
	return addr + " Arbiter"
}
