package identity

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies how a peer is being addressed.
type Kind int

const (
	// Transient is a hardware radio address; the OS may rotate or reuse it.
	Transient Kind = iota
	// Stable is an application-generated identifier that survives address rotation.
	Stable
)

func (k Kind) String() string {
	if k == Stable {
		return "stable"
	}
	return "transient"
}

// PeerID is a way to address a peer: either a stable UUID or a transient
// hardware address. Transient addresses are colon-separated (AA:BB:CC:DD:EE:FF);
// stable IDs are UUIDs and never contain a colon, so the two are structurally
// distinguishable.
type PeerID string

// KindOf classifies an identifier by shape.
func KindOf(id PeerID) Kind {
	if strings.Contains(string(id), ":") {
		return Transient
	}
	return Stable
}

// IsStable reports whether the identifier is stable-shaped.
func (p PeerID) IsStable() bool {
	return KindOf(p) == Stable
}

// Short returns a truncated form for log prefixes.
func (p PeerID) Short() string {
	s := string(p)
	if len(s) > 8 {
		return s[:8]
	}
	if s == "" {
		return "(empty)"
	}
	return s
}

// StableID is the 128-bit application identifier carried in the advertisement.
type StableID = uuid.UUID

// ParseStable parses a stable-shaped PeerID back into its 128-bit form.
func ParseStable(p PeerID) (StableID, error) {
	return uuid.Parse(string(p))
}

// PeerIDFromStable renders a 128-bit stable ID as a PeerID.
func PeerIDFromStable(id StableID) PeerID {
	return PeerID(id.String())
}

// stableIDCache persists our own stable ID across restarts.
type stableIDCache struct {
	StableID string `json:"stable_id"`
}

// LoadOrGenerateStableID loads the cached stable ID for this device or
// generates and persists a new one. High-entropy by construction, so stable
// IDs never collide across peers.
func LoadOrGenerateStableID(deviceDir string) (StableID, error) {
	cachePath := filepath.Join(deviceDir, "stable_id.json")

	data, err := os.ReadFile(cachePath)
	if err == nil {
		var cache stableIDCache
		if err := json.Unmarshal(data, &cache); err == nil && cache.StableID != "" {
			if id, err := uuid.Parse(cache.StableID); err == nil {
				return id, nil
			}
		}
	}

	id := uuid.New()

	cacheData, err := json.MarshalIndent(stableIDCache{StableID: id.String()}, "", "  ")
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal stable ID cache: %w", err)
	}

	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create device directory: %w", err)
	}
	if err := os.WriteFile(cachePath, cacheData, 0644); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save stable ID cache: %w", err)
	}

	return id, nil
}

// RandomTransientAddress generates a MAC-style hardware address for the
// simulated radio. The OS hands these out; they carry no identity guarantees.
func RandomTransientAddress() PeerID {
	b := make([]byte, 6)
	rand.Read(b)
	// Locally administered, unicast
	b[0] = (b[0] | 0x02) &^ 0x01
	return PeerID(fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5]))
}
