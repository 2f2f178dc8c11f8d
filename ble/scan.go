package ble

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brokemediaio-a11y/OffLink/advert"
	"github.com/brokemediaio-a11y/OffLink/identity"
	"github.com/brokemediaio-a11y/OffLink/logger"
	"github.com/brokemediaio-a11y/OffLink/metrics"
	"github.com/brokemediaio-a11y/OffLink/radio"
	"github.com/brokemediaio-a11y/OffLink/retry"
)

// DiscoveryMode tags how a peer was found.
type DiscoveryMode int

const (
	// ModePrimary is payload-decoding scanning through the OS scanner.
	ModePrimary DiscoveryMode = iota
	// ModeFallback is degraded name-based proximity detection, used when the
	// scanner cannot be registered or retries are exhausted.
	ModeFallback
)

func (m DiscoveryMode) String() string {
	if m == ModeFallback {
		return "fallback"
	}
	return "primary"
}

// ScanResult is one normalized discovery observation. The transient address
// is always present; StableID only when the payload decoded.
type ScanResult struct {
	Addr       identity.PeerID
	StableID   identity.PeerID // "" unless decoded from the payload
	Name       string
	RSSI       int
	Mode       DiscoveryMode
	ObservedAt time.Time
}

// ScanConfig tunes the discovery engine.
type ScanConfig struct {
	RetryUnit     time.Duration // backoff unit: retry n waits n x unit
	SweepInterval time.Duration
	NamePrefix    string
}

// DefaultScanConfig returns the production tuning.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		RetryUnit:     DefaultScanRetryUnit,
		SweepInterval: DefaultSweepInterval,
		NamePrefix:    NamePrefix,
	}
}

var errScanCancelled = errors.New("scan cancelled")

// Scanner drives scanning with retry, profile downshift, and the name-based
// fallback mode. Results go out on a bounded channel (capacity 32,
// drop-oldest) so a slow consumer cannot stall the radio path.
type Scanner struct {
	cfg ScanConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	mode     DiscoveryMode
	seen     map[identity.PeerID]*ScanResult
	results  chan ScanResult
}

// NewScanner creates a discovery engine.
func NewScanner(cfg ScanConfig) *Scanner {
	if cfg.RetryUnit <= 0 {
		cfg.RetryUnit = DefaultScanRetryUnit
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = NamePrefix
	}
	return &Scanner{cfg: cfg}
}

// Start begins a scan session on the given radio handle. The timeout is a
// hard upper bound: the session ends and the scanner handle is released no
// later than that, regardless of retry state. The returned channel closes
// when the session ends.
func (s *Scanner) Start(r *radio.Radio, timeout time.Duration) (<-chan ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, fmt.Errorf("scan already running")
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.seen = make(map[identity.PeerID]*ScanResult)
	s.results = make(chan ScanResult, 32)
	s.mode = ModePrimary

	go s.run(r, timeout)
	return s.results, nil
}

// Stop ends the session. Idempotent: safe to call when nothing is running,
// and safe to call twice. Blocks until the scanner handle is released.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopChan, done := s.stopChan, s.done
	s.mu.Unlock()

	select {
	case <-stopChan:
	default:
		close(stopChan)
	}
	<-done
}

// Mode reports which discovery mode the current (or last) session used.
func (s *Scanner) Mode() DiscoveryMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Results returns a snapshot of everything seen this session, duplicates
// collapsed with their freshest RSSI and timestamp.
func (s *Scanner) Results() []ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScanResult, 0, len(s.seen))
	for _, res := range s.seen {
		out = append(out, *res)
	}
	return out
}

func (s *Scanner) run(r *radio.Radio, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	defer func() {
		r.StopScan()
		close(s.results)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.done)
	}()

	mode := s.acquire(r, deadline)
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	if s.cancelled() {
		return
	}

	metrics.ScansStarted.WithLabelValues(mode.String()).Inc()
	logger.Info(s.logPrefix(r), "discovery active in %s mode", mode)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		s.sweep(r, mode)
		select {
		case <-s.stopChan:
			return
		case <-timer.C:
			logger.Debug(s.logPrefix(r), "scan timeout reached, returning to idle")
			return
		case <-ticker.C:
		}
	}
}

// acquire registers the scanner for primary-mode discovery: up to 3 attempts
// with attempt x unit backoff, downshifting the scan profile each retry. An
// unrecoverable registration fault or exhausted retries switch to fallback.
func (s *Scanner) acquire(r *radio.Radio, deadline time.Time) DiscoveryMode {
	profiles := []radio.ScanProfile{radio.ScanLowLatency, radio.ScanBalanced, radio.ScanLowPower}

	policy := retry.Policy{
		MaxAttempts: ScanStartAttempts,
		Terminal: func(err error) bool {
			return radio.IsScanRegistrationFailure(err) || errors.Is(err, errScanCancelled)
		},
		OnRetry: func(attempt int, err error) {
			metrics.ScanRetries.Inc()
			logger.Debug(s.logPrefix(r), "scan start failed (%v), retry %d in %s profile",
				err, attempt, profiles[attempt])
			s.waitCancellable(time.Duration(attempt)*s.cfg.RetryUnit, deadline)
		},
	}

	err := policy.Do(func(attempt int) error {
		if s.cancelled() || !time.Now().Before(deadline) {
			return errScanCancelled
		}
		return r.StartScan(profiles[attempt])
	})
	if err == nil {
		return ModePrimary
	}
	if errors.Is(err, errScanCancelled) {
		return ModePrimary // session is ending anyway
	}

	if radio.IsScanRegistrationFailure(err) {
		logger.Warn(s.logPrefix(r), "scanner registration failed, switching to fallback discovery")
	} else {
		logger.Warn(s.logPrefix(r), "scan retries exhausted (%v), switching to fallback discovery", err)
	}
	metrics.FallbackActivations.Inc()
	return ModeFallback
}

func (s *Scanner) sweep(r *radio.Radio, mode DiscoveryMode) {
	var observations []radio.Observation
	if mode == ModePrimary {
		obs, err := r.SweepOnce()
		if err != nil {
			return
		}
		observations = obs
	} else {
		observations = r.SweepNames()
	}

	now := time.Now()
	for _, obs := range observations {
		s.observe(obs, mode, now)
	}
}

// observe accepts a sighting only when it belongs to this application: a
// decoded stable ID, or an advertised name with the application prefix.
// Duplicate addresses refresh signal strength and timestamp in place.
func (s *Scanner) observe(obs radio.Observation, mode DiscoveryMode, now time.Time) {
	var stableID identity.PeerID
	if id, ok := advert.Decode(obs.Payload); ok {
		stableID = identity.PeerIDFromStable(id)
	}

	nameMatch := strings.HasPrefix(strings.ToLower(obs.Name), strings.ToLower(s.cfg.NamePrefix))
	if stableID == "" && !nameMatch {
		return
	}

	addr := identity.PeerID(obs.Addr)

	s.mu.Lock()
	existing, dup := s.seen[addr]
	if dup {
		existing.RSSI = obs.RSSI
		existing.ObservedAt = now
		if existing.StableID == "" {
			existing.StableID = stableID
		}
		s.mu.Unlock()
		return
	}

	res := &ScanResult{
		Addr:       addr,
		StableID:   stableID,
		Name:       obs.Name,
		RSSI:       obs.RSSI,
		Mode:       mode,
		ObservedAt: now,
	}
	s.seen[addr] = res
	results := s.results
	s.mu.Unlock()

	metrics.PeersDiscovered.WithLabelValues(mode.String()).Inc()
	push(results, *res)
}

func (s *Scanner) cancelled() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

// waitCancellable sleeps for d but wakes early on Stop or the hard deadline.
func (s *Scanner) waitCancellable(d time.Duration, deadline time.Time) {
	if remaining := time.Until(deadline); remaining < d {
		d = remaining
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.stopChan:
	case <-timer.C:
	}
}

func (s *Scanner) logPrefix(r *radio.Radio) string {
	addr := r.HardwareAddr()
	if len(addr) > 8 {
		addr = addr[:8]
	}
	return addr + " Scan"
}

// push delivers on a bounded channel, dropping the oldest entry on overflow.
func push[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
