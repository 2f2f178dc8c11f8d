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

// ServerConfig tunes the peripheral-role half.
type ServerConfig struct {
	Service           string
	Char              string
	AdvertiseUnit     time.Duration // linear backoff unit between advertise retries
	AdvertiseAttempts int
}

// DefaultServerConfig returns the production tuning.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Service:           MessageServiceUUID,
		Char:              MessageCharUUID,
		AdvertiseUnit:     DefaultAdvertiseUnit,
		AdvertiseAttempts: AdvertiseStartAttempts,
	}
}

// Server is the peripheral-role half: one registered service with one message
// characteristic (write in, notify out) and bookkeeping of connected
// centrals. It holds the radio handle only while started; the arbiter owns
// the handle's lifecycle.
type Server struct {
	cfg ServerConfig

	mu       sync.RWMutex
	r        *radio.Radio
	centrals map[string]bool

	writeHandler      func(addr string, data []byte)
	connectHandler    func(addr string)
	disconnectHandler func(addr string)
}

// NewServer creates the link server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Service == "" {
		cfg.Service = MessageServiceUUID
	}
	if cfg.Char == "" {
		cfg.Char = MessageCharUUID
	}
	if cfg.AdvertiseUnit <= 0 {
		cfg.AdvertiseUnit = DefaultAdvertiseUnit
	}
	if cfg.AdvertiseAttempts <= 0 {
		cfg.AdvertiseAttempts = AdvertiseStartAttempts
	}
	return &Server{
		cfg:      cfg,
		centrals: make(map[string]bool),
	}
}

// SetWriteHandler installs the inbound-write consumer.
func (s *Server) SetWriteHandler(handler func(addr string, data []byte)) {
	s.mu.Lock()
	s.writeHandler = handler
	s.mu.Unlock()
}

// SetConnectionHandlers installs central connect/disconnect consumers.
func (s *Server) SetConnectionHandlers(onConnect, onDisconnect func(addr string)) {
	s.mu.Lock()
	s.connectHandler = onConnect
	s.disconnectHandler = onDisconnect
	s.mu.Unlock()
}

// Start registers the service and characteristic on the radio handle.
// Registration is distinct from advertising; the device is not discoverable
// until Advertise succeeds.
func (s *Server) Start(r *radio.Radio) error {
	s.mu.Lock()
	if s.r != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.r = r
	s.centrals = make(map[string]bool)
	s.mu.Unlock()

	r.RegisterServer(s.cfg.Service, s.cfg.Char, s)
	return nil
}

// Stop unregisters the server and drops the radio reference. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	r := s.r
	s.r = nil
	s.centrals = make(map[string]bool)
	s.mu.Unlock()
	metrics.ConnectedCentrals.Set(0)

	if r != nil {
		r.UnregisterServer()
	}
}

// Advertise makes the server discoverable, retrying transient failures up to
// the bound with linear backoff. An "already running" failure is terminal
// and reported as-is.
func (s *Server) Advertise(payload []byte, name string) error {
	s.mu.RLock()
	r := s.r
	s.mu.RUnlock()
	if r == nil {
		return fmt.Errorf("server not started")
	}

	policy := retry.Policy{
		MaxAttempts: s.cfg.AdvertiseAttempts,
		Backoff:     retry.Linear(s.cfg.AdvertiseUnit),
		Terminal:    radio.IsAdvertiseAlreadyStarted,
		OnRetry: func(attempt int, err error) {
			metrics.AdvertiseRetries.Inc()
			logger.Debug(s.logPrefix(), "advertise failed (%v), retry %d/%d",
				err, attempt, s.cfg.AdvertiseAttempts-1)
		},
	}

	return policy.Do(func(int) error {
		return r.StartAdvertising(radio.Advertisement{
			Name:        name,
			Payload:     payload,
			Connectable: true,
		})
	})
}

// StopAdvertising withdraws the advertisement. Idempotent.
func (s *Server) StopAdvertising() {
	s.mu.RLock()
	r := s.r
	s.mu.RUnlock()
	if r != nil {
		r.StopAdvertising()
	}
}

// Send notifies every connected central. Delivered means at least one
// notification was queued on a link; it never waits for peer-side
// acknowledgment.
func (s *Server) Send(data []byte) bool {
	s.mu.RLock()
	r := s.r
	addrs := make([]string, 0, len(s.centrals))
	for addr := range s.centrals {
		addrs = append(addrs, addr)
	}
	s.mu.RUnlock()

	if r == nil || len(addrs) == 0 {
		return false
	}

	delivered := false
	for _, addr := range addrs {
		if err := r.Notify(addr, s.cfg.Service, s.cfg.Char, data); err != nil {
			logger.Warn(s.logPrefix(), "notify to %s failed: %v", shortAddr(addr), err)
			continue
		}
		delivered = true
	}
	return delivered
}

// ConnectedCentrals lists currently connected centrals.
func (s *Server) ConnectedCentrals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]string, 0, len(s.centrals))
	for addr := range s.centrals {
		addrs = append(addrs, addr)
	}
	return addrs
}

// ForceDisconnectAll drops every connected central, used when the radio must
// switch roles.
func (s *Server) ForceDisconnectAll() {
	s.mu.RLock()
	r := s.r
	addrs := make([]string, 0, len(s.centrals))
	for addr := range s.centrals {
		addrs = append(addrs, addr)
	}
	s.mu.RUnlock()

	if r == nil {
		return
	}
	for _, addr := range addrs {
		logger.Debug(s.logPrefix(), "force-disconnecting central %s", shortAddr(addr))
		r.Disconnect(addr)
	}
}

// ── radio.ServerDelegate ────────────────────────────────────────────────────

// OnCentralConnected records the central and forwards the event.
func (s *Server) OnCentralConnected(addr string) {
	s.mu.Lock()
	s.centrals[addr] = true
	n := len(s.centrals)
	handler := s.connectHandler
	s.mu.Unlock()

	metrics.ConnectedCentrals.Set(float64(n))
	logger.Info(s.logPrefix(), "central %s connected (%d total)", shortAddr(addr), n)
	if handler != nil {
		handler(addr)
	}
}

// OnCentralDisconnected forgets the central and forwards the event.
func (s *Server) OnCentralDisconnected(addr string) {
	s.mu.Lock()
	delete(s.centrals, addr)
	n := len(s.centrals)
	handler := s.disconnectHandler
	s.mu.Unlock()

	metrics.ConnectedCentrals.Set(float64(n))
	logger.Info(s.logPrefix(), "central %s disconnected (%d remain)", shortAddr(addr), n)
	if handler != nil {
		handler(addr)
	}
}

// OnWrite forwards an inbound write. The radio already acknowledged it at
// protocol level; validity is the consumer's problem.
func (s *Server) OnWrite(addr string, service, char string, data []byte) {
	s.mu.RLock()
	handler := s.writeHandler
	s.mu.RUnlock()
	if handler != nil {
		handler(addr, data)
	}
}

func (s *Server) logPrefix() string {
	s.mu.RLock()
	r := s.r
	s.mu.RUnlock()
	if r == nil {
		return "Server"
	}
	addr := r.HardwareAddr()
	if len(addr) > 8 {
		addr = addr[:8]
	}
	return addr + " Server"
}

func shortAddr(addr string) string {
	if len(addr) > 8 {
		return addr[:8]
	}
	return addr
}
