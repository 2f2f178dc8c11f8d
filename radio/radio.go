// Package radio is the simulated shared radio: one Unix domain socket per
// device for links, advertisement published as a JSON file, scanning by
// walking the socket directory. One Radio handle per device; the role arbiter
// is the only component that opens or closes it.
package radio

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brokemediaio-a11y/OffLink/logger"
	"github.com/brokemediaio-a11y/OffLink/util"
)

const (
	socketPrefix = "offlink-"
	ackTimeout   = 2 * time.Second
)

// Radio owns the process-wide radio resource: scanner, advertiser, and the
// link sockets. Scanning and serving state live here so role exclusivity is
// observable at the hardware boundary.
type Radio struct {
	addr    string
	name    string
	dataDir string
	faults  *FaultPlan

	socketPath string
	listener   net.Listener

	mu    sync.RWMutex
	conns map[string]*peerConn // remote addr -> conn

	serverMu sync.RWMutex
	service  string
	char     string
	delegate ServerDelegate

	notifyHandler func(from, service, char string, data []byte)
	disconnectCb  func(addr string)
	callbackMu    sync.RWMutex

	stateMu     sync.Mutex
	advertising bool
	scanning    bool
	closed      bool

	ackMu   sync.Mutex
	nextSeq uint64
	pending map[uint64]chan struct{}

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// peerConn tracks one established link and which side initiated it.
type peerConn struct {
	conn     net.Conn
	accepted bool // true when the remote is the central (it dialed us)
}

// Open creates the radio handle for a device: socket listener registered,
// nothing advertised, nothing scanning.
func Open(addr, name, dataDir string, faults *FaultPlan) (*Radio, error) {
	socketDir := util.GetSocketDir(dataDir)
	socketPath := filepath.Join(socketDir, socketPrefix+addr+".sock")
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket listener: %w", err)
	}

	r := &Radio{
		addr:       addr,
		name:       name,
		dataDir:    dataDir,
		faults:     faults,
		socketPath: socketPath,
		listener:   listener,
		conns:      make(map[string]*peerConn),
		pending:    make(map[uint64]chan struct{}),
		stopChan:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.acceptLoop()

	logger.Debug(r.logPrefix(), "radio handle opened at %s", socketPath)
	return r, nil
}

func (r *Radio) logPrefix() string {
	if len(r.addr) > 8 {
		return r.addr[:8] + " Radio"
	}
	return r.addr + " Radio"
}

// HardwareAddr returns the transient address of this radio.
func (r *Radio) HardwareAddr() string {
	return r.addr
}

// Close tears down the handle: all links dropped, advertisement withdrawn,
// scanner released, socket removed.
func (r *Radio) Close() {
	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return
	}
	r.closed = true
	r.advertising = false
	r.scanning = false
	r.stateMu.Unlock()

	close(r.stopChan)

	r.mu.Lock()
	for addr, pc := range r.conns {
		pc.conn.Close()
		delete(r.conns, addr)
	}
	r.mu.Unlock()

	if r.listener != nil {
		r.listener.Close()
	}
	r.wg.Wait()

	os.Remove(r.socketPath)
	os.Remove(r.advertisingPath(r.addr))

	logger.Debug(r.logPrefix(), "radio handle closed")
}

// ── Advertising ─────────────────────────────────────────────────────────────

func (r *Radio) advertisingPath(addr string) string {
	return filepath.Join(util.GetDeviceDir(r.dataDir, addr), "advertising.json")
}

// StartAdvertising makes the device discoverable. Fails with
// AdvertiseFailedAlreadyStarted when already advertising, or with the next
// injected fault.
func (r *Radio) StartAdvertising(ad Advertisement) error {
	if len(ad.Payload) > MaxAdvertisingDataLen {
		return &AdvertiseError{Code: AdvertiseFailedDataTooLarge}
	}

	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return fmt.Errorf("radio closed")
	}
	if r.advertising {
		r.stateMu.Unlock()
		return &AdvertiseError{Code: AdvertiseFailedAlreadyStarted}
	}
	r.stateMu.Unlock()

	if code := r.faults.nextAdvertiseFault(); code != 0 {
		return &AdvertiseError{Code: code}
	}

	deviceDir := util.GetDeviceDir(r.dataDir, r.addr)
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		return fmt.Errorf("failed to create device directory: %w", err)
	}

	data, err := json.MarshalIndent(&ad, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal advertisement: %w", err)
	}
	if err := os.WriteFile(r.advertisingPath(r.addr), data, 0644); err != nil {
		return fmt.Errorf("failed to write advertisement: %w", err)
	}

	r.stateMu.Lock()
	r.advertising = true
	r.stateMu.Unlock()

	logger.Debug(r.logPrefix(), "advertising started (%d payload bytes)", len(ad.Payload))
	return nil
}

// StopAdvertising withdraws the advertisement. Idempotent.
func (r *Radio) StopAdvertising() {
	r.stateMu.Lock()
	wasAdvertising := r.advertising
	r.advertising = false
	r.stateMu.Unlock()

	os.Remove(r.advertisingPath(r.addr))
	if wasAdvertising {
		logger.Debug(r.logPrefix(), "advertising stopped")
	}
}

// IsAdvertising reports whether the device is currently discoverable.
func (r *Radio) IsAdvertising() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.advertising
}

// ── Scanning ────────────────────────────────────────────────────────────────

// StartScan acquires the scanner in the given profile. Consumes the next
// injected scan fault, if any.
func (r *Radio) StartScan(profile ScanProfile) error {
	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return fmt.Errorf("radio closed")
	}
	if r.scanning {
		r.stateMu.Unlock()
		return &ScanError{Code: ScanFailedAlreadyStarted}
	}
	r.stateMu.Unlock()

	if code := r.faults.nextScanFault(); code != 0 {
		return &ScanError{Code: code}
	}

	r.stateMu.Lock()
	r.scanning = true
	r.stateMu.Unlock()

	logger.Debug(r.logPrefix(), "scan started (%s)", profile)
	return nil
}

// StopScan releases the scanner. Idempotent, safe when nothing is running.
func (r *Radio) StopScan() {
	r.stateMu.Lock()
	wasScanning := r.scanning
	r.scanning = false
	r.stateMu.Unlock()

	if wasScanning {
		logger.Debug(r.logPrefix(), "scan stopped")
	}
}

// IsScanning reports whether the scanner handle is held.
func (r *Radio) IsScanning() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.scanning
}

// SweepOnce returns every advertising peer currently on the air. Requires an
// acquired scanner.
func (r *Radio) SweepOnce() ([]Observation, error) {
	r.stateMu.Lock()
	scanning := r.scanning
	r.stateMu.Unlock()
	if !scanning {
		return nil, fmt.Errorf("scanner not started")
	}
	return r.sweep(true), nil
}

// SweepNames is the degraded discovery path: advertised names only, no
// payloads, no scanner registration required.
func (r *Radio) SweepNames() []Observation {
	return r.sweep(false)
}

func (r *Radio) sweep(includePayload bool) []Observation {
	var observations []Observation

	socketDir := util.GetSocketDir(r.dataDir)
	pattern := filepath.Join(socketDir, socketPrefix+"*.sock")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return observations
	}

	for _, path := range matches {
		filename := filepath.Base(path)
		addr := strings.TrimSuffix(strings.TrimPrefix(filename, socketPrefix), ".sock")
		if addr == r.addr || addr == "" {
			continue
		}

		// Only advertising devices are on the air
		advData, err := os.ReadFile(r.advertisingPath(addr))
		if err != nil {
			continue
		}
		var ad Advertisement
		if err := json.Unmarshal(advData, &ad); err != nil {
			continue
		}

		obs := Observation{
			Addr: addr,
			Name: ad.Name,
			RSSI: syntheticRSSI(),
		}
		if includePayload {
			obs.Payload = ad.Payload
		}
		observations = append(observations, obs)
	}

	return observations
}

func syntheticRSSI() int {
	return -40 - rand.Intn(40)
}

// ── Server registration ─────────────────────────────────────────────────────

// RegisterServer installs the peripheral-role GATT surface: one service, one
// characteristic, one delegate for writes and central connect/disconnect.
func (r *Radio) RegisterServer(service, char string, delegate ServerDelegate) {
	r.serverMu.Lock()
	r.service = service
	r.char = char
	r.delegate = delegate
	r.serverMu.Unlock()
	logger.Debug(r.logPrefix(), "server registered (service=%s)", shortUUID(service))
}

// UnregisterServer removes the GATT surface.
func (r *Radio) UnregisterServer() {
	r.serverMu.Lock()
	r.service = ""
	r.char = ""
	r.delegate = nil
	r.serverMu.Unlock()
	logger.Debug(r.logPrefix(), "server unregistered")
}

func (r *Radio) currentDelegate() (ServerDelegate, string, string) {
	r.serverMu.RLock()
	defer r.serverMu.RUnlock()
	return r.delegate, r.service, r.char
}

// SetNotifyHandler installs the central-role inbound notification handler.
func (r *Radio) SetNotifyHandler(handler func(from, service, char string, data []byte)) {
	r.callbackMu.Lock()
	r.notifyHandler = handler
	r.callbackMu.Unlock()
}

// SetDisconnectCallback installs the link-drop callback (both roles).
func (r *Radio) SetDisconnectCallback(callback func(addr string)) {
	r.callbackMu.Lock()
	r.disconnectCb = callback
	r.callbackMu.Unlock()
}

// ── Links ───────────────────────────────────────────────────────────────────

// Connect dials a peer's socket and performs the hello handshake. The local
// device acts as central on this link.
func (r *Radio) Connect(addr string) error {
	r.mu.Lock()
	if _, exists := r.conns[addr]; exists {
		r.mu.Unlock()
		return fmt.Errorf("already connected to %s", shortAddr(addr))
	}
	r.mu.Unlock()

	if r.faults.nextConnectFault() {
		return fmt.Errorf("connection to %s failed (interference)", shortAddr(addr))
	}

	socketDir := util.GetSocketDir(r.dataDir)
	conn, err := net.Dial("unix", filepath.Join(socketDir, socketPrefix+addr+".sock"))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", shortAddr(addr), err)
	}

	if err := writeFrame(conn, &frame{Op: "hello", Sender: r.addr}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send hello: %w", err)
	}

	r.mu.Lock()
	r.conns[addr] = &peerConn{conn: conn, accepted: false}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.readLoop(addr, conn)
		r.dropConn(addr, false)
	}()

	logger.Info(r.logPrefix(), "connected to %s (central role)", shortAddr(addr))
	return nil
}

// Disconnect closes the link to a peer. Safe to call when no link exists.
func (r *Radio) Disconnect(addr string) {
	r.mu.Lock()
	pc, exists := r.conns[addr]
	r.mu.Unlock()
	if !exists {
		return
	}

	// Best-effort goodbye so the peer sees an orderly close
	writeFrame(pc.conn, &frame{Op: "bye", Sender: r.addr})
	pc.conn.Close()
}

// ConnectedCentrals lists peers that dialed us (we serve them).
func (r *Radio) ConnectedCentrals() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var addrs []string
	for addr, pc := range r.conns {
		if pc.accepted {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// IsConnected reports whether a link to the peer exists in either role.
func (r *Radio) IsConnected(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.conns[addr]
	return exists
}

// ── Data transfer ───────────────────────────────────────────────────────────

// WriteCharacteristic performs a central-role write and waits for the
// protocol-level acknowledgment. The ack says the write reached the peer's
// radio, nothing about application-level delivery.
func (r *Radio) WriteCharacteristic(addr, service, char string, data []byte) error {
	if len(data) > MaxWriteLen {
		return fmt.Errorf("write exceeds single-write capacity: %d > %d", len(data), MaxWriteLen)
	}

	r.mu.RLock()
	pc, exists := r.conns[addr]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("not connected to %s", shortAddr(addr))
	}

	r.ackMu.Lock()
	r.nextSeq++
	seq := r.nextSeq
	ackCh := make(chan struct{}, 1)
	r.pending[seq] = ackCh
	r.ackMu.Unlock()

	defer func() {
		r.ackMu.Lock()
		delete(r.pending, seq)
		r.ackMu.Unlock()
	}()

	f := &frame{Op: "write", Sender: r.addr, Service: service, Char: char, Data: data, Seq: seq}
	if err := writeFrame(pc.conn, f); err != nil {
		return fmt.Errorf("failed to send write: %w", err)
	}

	select {
	case <-ackCh:
		return nil
	case <-time.After(ackTimeout):
		return fmt.Errorf("write to %s not acknowledged", shortAddr(addr))
	case <-r.stopChan:
		return fmt.Errorf("radio closed")
	}
}

// Notify sends a peripheral-role notification to one connected central.
// Success means the notification was queued on the link, not that the peer
// acknowledged it.
func (r *Radio) Notify(addr, service, char string, data []byte) error {
	if len(data) > MaxWriteLen {
		return fmt.Errorf("notify exceeds single-write capacity: %d > %d", len(data), MaxWriteLen)
	}

	r.mu.RLock()
	pc, exists := r.conns[addr]
	r.mu.RUnlock()
	if !exists || !pc.accepted {
		return fmt.Errorf("no central %s connected", shortAddr(addr))
	}

	f := &frame{Op: "notify", Sender: r.addr, Service: service, Char: char, Data: data}
	if err := writeFrame(pc.conn, f); err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	return nil
}

// ── Internals ───────────────────────────────────────────────────────────────

func (r *Radio) acceptLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
		}

		if ul, ok := r.listener.(*net.UnixListener); ok {
			ul.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := r.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-r.stopChan:
				return
			default:
				logger.Warn(r.logPrefix(), "accept error: %v", err)
				continue
			}
		}

		r.wg.Add(1)
		go r.handleIncoming(conn)
	}
}

func (r *Radio) handleIncoming(conn net.Conn) {
	defer r.wg.Done()

	hello, err := readFrame(conn)
	if err != nil || hello.Op != "hello" || hello.Sender == "" {
		logger.Warn(r.logPrefix(), "rejecting connection without hello: %v", err)
		conn.Close()
		return
	}
	remote := hello.Sender

	r.mu.Lock()
	r.conns[remote] = &peerConn{conn: conn, accepted: true}
	r.mu.Unlock()

	logger.Info(r.logPrefix(), "accepted central %s", shortAddr(remote))

	if delegate, _, _ := r.currentDelegate(); delegate != nil {
		delegate.OnCentralConnected(remote)
	}

	r.readLoop(remote, conn)
	r.dropConn(remote, true)
}

func (r *Radio) readLoop(remote string, conn net.Conn) {
	for {
		f, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				logger.Trace(r.logPrefix(), "read error from %s: %v", shortAddr(remote), err)
			}
			return
		}

		switch f.Op {
		case "write":
			// Protocol-level ack regardless of payload validity
			writeFrame(conn, &frame{Op: "write_ack", Sender: r.addr, Seq: f.Seq})
			delegate, service, char := r.currentDelegate()
			if delegate != nil && f.Service == service && f.Char == char {
				delegate.OnWrite(remote, f.Service, f.Char, f.Data)
			} else {
				logger.Trace(r.logPrefix(), "write to unregistered characteristic from %s dropped", shortAddr(remote))
			}
		case "write_ack":
			r.ackMu.Lock()
			if ch, ok := r.pending[f.Seq]; ok {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
			r.ackMu.Unlock()
		case "notify":
			r.callbackMu.RLock()
			handler := r.notifyHandler
			r.callbackMu.RUnlock()
			if handler != nil {
				handler(remote, f.Service, f.Char, f.Data)
			}
		case "bye":
			return
		default:
			logger.Trace(r.logPrefix(), "unknown frame op %q from %s", f.Op, shortAddr(remote))
		}
	}
}

func (r *Radio) dropConn(remote string, accepted bool) {
	r.mu.Lock()
	pc, exists := r.conns[remote]
	if exists {
		pc.conn.Close()
		delete(r.conns, remote)
	}
	r.mu.Unlock()
	if !exists {
		return
	}

	logger.Debug(r.logPrefix(), "link to %s closed", shortAddr(remote))

	if accepted {
		if delegate, _, _ := r.currentDelegate(); delegate != nil {
			delegate.OnCentralDisconnected(remote)
		}
	}

	r.callbackMu.RLock()
	cb := r.disconnectCb
	r.callbackMu.RUnlock()
	if cb != nil {
		cb(remote)
	}
}

func writeFrame(conn net.Conn, f *frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if err := binary.Write(conn, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

func readFrame(conn net.Conn) (*frame, error) {
	var frameLen uint32
	if err := binary.Read(conn, binary.BigEndian, &frameLen); err != nil {
		return nil, err
	}
	if frameLen > 1<<20 {
		return nil, fmt.Errorf("frame too large: %d", frameLen)
	}
	data := make([]byte, frameLen)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	return &f, nil
}

func shortAddr(addr string) string {
	if len(addr) > 8 {
		return addr[:8]
	}
	return addr
}

func shortUUID(u string) string {
	if len(u) > 4 {
		return u[len(u)-4:]
	}
	return u
}
