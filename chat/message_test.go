package chat

import (
	"testing"

	"github.com/brokemediaio-a11y/OffLink/identity"
)

func TestNewOutbound(t *testing.T) {
	m := NewOutbound("hi there", "self-id", identity.PeerID("AA:BB:CC:DD:EE:FF"))
	if m.ID == "" {
		t.Error("outbound message has no id")
	}
	if m.Status != StatusSending {
		t.Errorf("new outbound status = %s, expected %s", m.Status, StatusSending)
	}
	if !m.IsOutbound {
		t.Error("outbound message not marked outbound")
	}
	if m.Timestamp.IsZero() {
		t.Error("outbound message has no timestamp")
	}
	if m.PeerID() != identity.PeerID("AA:BB:CC:DD:EE:FF") {
		t.Errorf("peer = %s, expected receiver", m.PeerID())
	}
}

func TestNewInbound(t *testing.T) {
	m := NewInbound("hello", identity.PeerID("AA:BB:CC:DD:EE:FF"), "self-id")
	if m.ID == "" {
		t.Error("inbound message has no id")
	}
	if m.Status != StatusDelivered {
		t.Errorf("inbound status = %s, expected %s", m.Status, StatusDelivered)
	}
	if m.IsOutbound {
		t.Error("inbound message marked outbound")
	}
	if m.PeerID() != identity.PeerID("AA:BB:CC:DD:EE:FF") {
		t.Errorf("peer = %s, expected sender", m.PeerID())
	}
}

// Delivery status only moves forward: Sending to Sent or Failed, Sent to
// Delivered, and nothing else.
func TestStatusTransitions(t *testing.T) {
	all := []DeliveryStatus{StatusSending, StatusSent, StatusFailed, StatusDelivered}
	legal := map[[2]DeliveryStatus]bool{
		{StatusSending, StatusSent}:   true,
		{StatusSending, StatusFailed}: true,
		{StatusSent, StatusDelivered}: true,
	}

	for _, from := range all {
		for _, to := range all {
			m := Message{ID: "m", Status: from}
			got := m.Advance(to)
			want := legal[[2]DeliveryStatus{from, to}]
			if got != want {
				t.Errorf("advance %s -> %s = %v, expected %v", from, to, got, want)
			}
			if want && m.Status != to {
				t.Errorf("advance %s -> %s did not update status", from, to)
			}
			if !want && m.Status != from {
				t.Errorf("illegal advance %s -> %s mutated status to %s", from, to, m.Status)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []DeliveryStatus{StatusSending, StatusSent, StatusFailed, StatusDelivered} {
		if got := ParseStatus(s.String()); got != s {
			t.Errorf("parse %q = %s", s.String(), got)
		}
	}
	if got := ParseStatus("teleported"); got != StatusSending {
		t.Errorf("unknown status parsed to %s, expected the zero state", got)
	}
}
