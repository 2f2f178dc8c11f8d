package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/brokemediaio-a11y/OffLink/identity"
)

// DeliveryStatus tracks how far a message has progressed toward the peer.
type DeliveryStatus int

const (
	StatusSending DeliveryStatus = iota
	StatusSent
	StatusDelivered
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus maps the persisted form back to a status.
func ParseStatus(s string) DeliveryStatus {
	switch s {
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "failed":
		return StatusFailed
	default:
		return StatusSending
	}
}

// Message is one chat message. Immutable once created except Status.
type Message struct {
	ID         string
	Content    string
	SenderID   identity.PeerID
	ReceiverID identity.PeerID
	Timestamp  time.Time
	Status     DeliveryStatus
	IsOutbound bool
}

// NewOutbound creates a message addressed to the peer, in Sending state.
func NewOutbound(content string, self, peer identity.PeerID) Message {
	return Message{
		ID:         uuid.New().String(),
		Content:    content,
		SenderID:   self,
		ReceiverID: peer,
		Timestamp:  time.Now(),
		Status:     StatusSending,
		IsOutbound: true,
	}
}

// NewInbound creates a message received from the peer. Inbound messages are
// delivered by definition.
func NewInbound(content string, peer, self identity.PeerID) Message {
	return Message{
		ID:         uuid.New().String(),
		Content:    content,
		SenderID:   peer,
		ReceiverID: self,
		Timestamp:  time.Now(),
		Status:     StatusDelivered,
	}
}

// PeerID returns the remote-side identifier the message was exchanged with.
func (m Message) PeerID() identity.PeerID {
	if m.IsOutbound {
		return m.ReceiverID
	}
	return m.SenderID
}

// CanAdvance reports whether moving to next respects the forward-only status
// order: Sending -> Sent or Failed, Sent -> Delivered. Nothing regresses and
// Failed and Delivered are terminal.
func (m Message) CanAdvance(next DeliveryStatus) bool {
	switch m.Status {
	case StatusSending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered
	default:
		return false
	}
}

// Advance moves the status forward, reporting whether the transition was
// legal. Illegal transitions leave the message untouched.
func (m *Message) Advance(next DeliveryStatus) bool {
	if !m.CanAdvance(next) {
		return false
	}
	m.Status = next
	return true
}
