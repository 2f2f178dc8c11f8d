package radio

// ScanProfile selects the power/latency tradeoff of a scan.
type ScanProfile int

const (
	ScanLowLatency ScanProfile = iota
	ScanBalanced
	ScanLowPower
)

func (p ScanProfile) String() string {
	switch p {
	case ScanLowLatency:
		return "low-latency"
	case ScanBalanced:
		return "balanced"
	case ScanLowPower:
		return "low-power"
	default:
		return "unknown"
	}
}

// MaxWriteLen is the single-write capacity of the transport. A message equals
// one write/notify payload; the core does not fragment.
const MaxWriteLen = 512

// MaxAdvertisingDataLen is the total payload capacity of one discovery
// packet. Payloads over this are rejected with AdvertiseFailedDataTooLarge.
const MaxAdvertisingDataLen = 31

// Advertisement is what a device broadcasts while discoverable.
// Published as advertising.json in the device dir, the simulated over-the-air
// medium.
type Advertisement struct {
	Name        string `json:"name"`
	Payload     []byte `json:"payload"`
	Connectable bool   `json:"connectable"`
}

// Observation is one raw sighting produced by a scan sweep.
type Observation struct {
	Addr    string // transient hardware address, always present
	Name    string
	Payload []byte // advertising payload; nil in name-only sweeps
	RSSI    int
}

// frame is the on-socket message. Length-prefixed JSON, one frame per
// write/notify, matching the one-message-per-write contract.
type frame struct {
	Op      string `json:"op"` // hello, write, write_ack, notify, bye
	Sender  string `json:"sender"`
	Service string `json:"service,omitempty"`
	Char    string `json:"char,omitempty"`
	Data    []byte `json:"data,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

// ServerDelegate receives peripheral-role callbacks.
type ServerDelegate interface {
	OnCentralConnected(addr string)
	OnCentralDisconnected(addr string)
	OnWrite(addr string, service, char string, data []byte)
}
