package ble

import (
	"fmt"
	"sync"
	"time"

	"github.com/brokemediaio-a11y/OffLink/logger"
	"github.com/brokemediaio-a11y/OffLink/metrics"
	"github.com/brokemediaio-a11y/OffLink/radio"
)

// ConnState describes where a link session is in its lifecycle.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnError
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnEvent is a state-change notification for the active link session.
type ConnEvent struct {
	State  ConnState
	Peer   string // hardware address of the remote
	Reason string // human-readable cause, empty on clean transitions
	At     time.Time
}

// InboundMessage is one complete message received from the remote peer.
type InboundMessage struct {
	From string // hardware address of the sender
	Data []byte
	At   time.Time
}

// SessionRole says which side dialed.
type SessionRole string

const (
	RoleInitiated SessionRole = "initiated" // we dialed out as central
	RoleServed    SessionRole = "served"    // the remote dialed us
)

// LinkSession is the single active peer link. At most one exists at a time.
type LinkSession struct {
	Peer        string
	Role        SessionRole
	Mode        DiscoveryMode
	ConnectedAt time.Time
}

// Transport abstracts the medium a session rides on, keyed by the discovery
// mode that produced the peer.
type Transport interface {
	Connect(peer string) error
	Disconnect(peer string)
	Send(peer string, data []byte) error
	IsConnected(peer string) bool
}

// bleTransport sends over the arbiter's current radio handle.
type bleTransport struct {
	arbiter *Arbiter
	service string
	char    string
}

func (t *bleTransport) Connect(peer string) error {
	r := t.arbiter.CurrentRadio()
	if r == nil {
		return fmt.Errorf("radio unavailable")
	}
	return r.Connect(peer)
}

func (t *bleTransport) Disconnect(peer string) {
	if r := t.arbiter.CurrentRadio(); r != nil {
		r.Disconnect(peer)
	}
}

func (t *bleTransport) Send(peer string, data []byte) error {
	r := t.arbiter.CurrentRadio()
	if r == nil {
		return fmt.Errorf("radio unavailable")
	}
	return r.WriteCharacteristic(peer, t.service, t.char, data)
}

func (t *bleTransport) IsConnected(peer string) bool {
	r := t.arbiter.CurrentRadio()
	return r != nil && r.IsConnected(peer)
}

// auxTransport is the placeholder for the secondary medium peers found in
// fallback mode would use. It is registered but inert.
type auxTransport struct{}

func (auxTransport) Connect(string) error      { return fmt.Errorf("auxiliary transport disabled") }
func (auxTransport) Disconnect(string)         {}
func (auxTransport) Send(string, []byte) error { return fmt.Errorf("auxiliary transport disabled") }
func (auxTransport) IsConnected(string) bool   { return false }

const (
	connEventBuf = 16
	inboundBuf   = 64
)

// ConnManager owns the single active link session: outbound connection
// setup, message sends, teardown, and the event/inbound streams. Sessions
// opened by remote centrals are adopted through the server's connection
// handlers.
type ConnManager struct {
	arbiter    *Arbiter
	server     *Server
	scanner    *Scanner
	transports map[DiscoveryMode]Transport

	mu      sync.Mutex
	session *LinkSession

	events  chan ConnEvent
	inbound chan InboundMessage
}

// NewConnManager wires the manager into the arbiter and server. The server's
// write and connection handlers are claimed here; install chat-level
// consumers on the returned streams instead.
func NewConnManager(arbiter *Arbiter, server *Server, scanner *Scanner, service, char string) *ConnManager {
	m := &ConnManager{
		arbiter: arbiter,
		server:  server,
		scanner: scanner,
		transports: map[DiscoveryMode]Transport{
			ModePrimary:  &bleTransport{arbiter: arbiter, service: service, char: char},
			ModeFallback: auxTransport{},
		},
		events:  make(chan ConnEvent, connEventBuf),
		inbound: make(chan InboundMessage, inboundBuf),
	}

	server.SetWriteHandler(func(from string, data []byte) {
		metrics.MessagesReceived.Inc()
		push(m.inbound, InboundMessage{From: from, Data: data, At: time.Now()})
	})
	server.SetConnectionHandlers(m.onServedConnect, m.onServedDisconnect)

	arbiter.SetLinkCallbacks(
		func(from, _, _ string, data []byte) {
			metrics.MessagesReceived.Inc()
			push(m.inbound, InboundMessage{From: from, Data: data, At: time.Now()})
		},
		m.onPeerDropped,
	)

	return m
}

// Initialize brings up the radio in the serving role.
func (m *ConnManager) Initialize() error {
	return m.arbiter.Init()
}

// Shutdown tears down the active session, if any, and releases the radio.
func (m *ConnManager) Shutdown() {
	m.Disconnect()
	m.arbiter.Shutdown()
}

// StartScan suspends the serving role and runs discovery until the timeout
// or StopScan. The returned stream closes when the scan ends.
func (m *ConnManager) StartScan(timeout time.Duration) (<-chan ScanResult, error) {
	m.Disconnect()
	if err := m.arbiter.SuspendForScanning(); err != nil {
		return nil, err
	}
	r, err := m.arbiter.BeginScan()
	if err != nil {
		return nil, err
	}
	results, err := m.scanner.Start(r, timeout)
	if err != nil {
		m.arbiter.EndScan()
		return nil, err
	}
	return results, nil
}

// StopScan ends discovery and restores the serving role. Idempotent.
func (m *ConnManager) StopScan() error {
	m.scanner.Stop()
	m.arbiter.EndScan()
	return m.arbiter.ResumeAfterScanning()
}

// Events is the bounded state-change stream. Oldest events are dropped when
// the consumer lags.
func (m *ConnManager) Events() <-chan ConnEvent { return m.events }

// Inbound is the bounded received-message stream.
func (m *ConnManager) Inbound() <-chan InboundMessage { return m.inbound }

// Session returns a copy of the active session, or nil.
func (m *ConnManager) Session() *LinkSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Connect dials the discovered peer and reports whether the link came up.
// Emits Connecting, then Connected or Error. No automatic reconnect: a
// failure leaves the manager disconnected until the next explicit call.
func (m *ConnManager) Connect(res ScanResult) bool {
	peer := string(res.Addr)

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		logger.Warn("ConnMgr", "connect to %s refused: session with %s active", peer, m.session.Peer)
		return false
	}
	m.session = &LinkSession{Peer: peer, Role: RoleInitiated, Mode: res.Mode}
	m.mu.Unlock()

	m.emit(ConnEvent{State: ConnConnecting, Peer: peer, At: time.Now()})

	t := m.transports[res.Mode]
	err := t.Connect(peer)

	m.mu.Lock()
	// Disconnect raced Connect: honor the teardown
	if m.session == nil || m.session.Peer != peer {
		m.mu.Unlock()
		if err == nil {
			t.Disconnect(peer)
		}
		m.emit(ConnEvent{State: ConnDisconnected, Peer: peer, Reason: "cancelled", At: time.Now()})
		return false
	}
	if err != nil {
		m.session = nil
		m.mu.Unlock()
		logger.Warn("ConnMgr", "connect to %s failed: %v", shortAddr(peer), err)
		m.emit(ConnEvent{State: ConnError, Peer: peer, Reason: err.Error(), At: time.Now()})
		m.emit(ConnEvent{State: ConnDisconnected, Peer: peer, Reason: err.Error(), At: time.Now()})
		return false
	}
	m.session.ConnectedAt = time.Now()
	m.mu.Unlock()

	logger.Info("ConnMgr", "connected to %s", shortAddr(peer))
	m.emit(ConnEvent{State: ConnConnected, Peer: peer, At: time.Now()})
	return true
}

// Disconnect tears the active session down. Safe during Connecting: the
// in-flight dial resolves to a Disconnected event. Idempotent.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return
	}

	if s.Role == RoleServed {
		m.server.ForceDisconnectAll()
	} else if s.ConnectedAt.IsZero() {
		// dial still in flight; Connect observes the cleared session
		return
	} else {
		m.transports[s.Mode].Disconnect(s.Peer)
	}
	m.emit(ConnEvent{State: ConnDisconnected, Peer: s.Peer, At: time.Now()})
}

// Send delivers one complete message to the session peer. Oversized payloads
// are rejected up front rather than fragmented.
func (m *ConnManager) Send(data []byte) error {
	if len(data) > radio.MaxWriteLen {
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		return fmt.Errorf("message of %d bytes exceeds %d byte limit", len(data), radio.MaxWriteLen)
	}

	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil || s.ConnectedAt.IsZero() {
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("no active session")
	}

	var err error
	if s.Role == RoleServed {
		if !m.server.Send(data) {
			err = fmt.Errorf("no connected central accepted the message")
		}
	} else {
		err = m.transports[s.Mode].Send(s.Peer, data)
	}
	if err != nil {
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		return err
	}
	metrics.MessagesSent.WithLabelValues("sent").Inc()
	return nil
}

// IsConnected reports whether a fully established session exists.
func (m *ConnManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && !m.session.ConnectedAt.IsZero()
}

// onServedConnect adopts a session initiated by a remote central.
func (m *ConnManager) onServedConnect(addr string) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		logger.Warn("ConnMgr", "central %s connected while session with %s active", shortAddr(addr), m.session.Peer)
		return
	}
	m.session = &LinkSession{Peer: addr, Role: RoleServed, Mode: ModePrimary, ConnectedAt: time.Now()}
	m.mu.Unlock()

	logger.Info("ConnMgr", "serving central %s", shortAddr(addr))
	m.emit(ConnEvent{State: ConnConnected, Peer: addr, At: time.Now()})
}

func (m *ConnManager) onServedDisconnect(addr string) {
	m.dropSession(addr, "remote disconnected")
}

// onPeerDropped handles disconnects observed on initiated links.
func (m *ConnManager) onPeerDropped(addr string) {
	m.dropSession(addr, "link lost")
}

func (m *ConnManager) dropSession(addr, reason string) {
	m.mu.Lock()
	if m.session == nil || m.session.Peer != addr {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	logger.Info("ConnMgr", "session with %s ended: %s", shortAddr(addr), reason)
	m.emit(ConnEvent{State: ConnDisconnected, Peer: addr, Reason: reason, At: time.Now()})
}

func (m *ConnManager) emit(ev ConnEvent) {
	push(m.events, ev)
}
