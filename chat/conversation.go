package chat

import (
	"time"

	"github.com/brokemediaio-a11y/OffLink/identity"
)

// flowStats records the traffic observed with one identifier inside a
// conversation. The reconciliation heuristics run on these, never on
// remote timestamps.
type flowStats struct {
	sentTo       bool
	receivedFrom bool
	lastOutbound time.Time
	lastInbound  time.Time
}

// Conversation is the reconciled view of all messages with one logical
// peer, whichever identifiers that peer has presented.
type Conversation struct {
	CanonicalID  identity.PeerID
	DisplayName  string
	LastMessage  *Message
	LastActivity time.Time
	UnreadCount  int

	// flows keys every identifier ever attributed to this peer
	flows map[identity.PeerID]*flowStats
}

func newConversation(canonical identity.PeerID) *Conversation {
	return &Conversation{
		CanonicalID: canonical,
		flows:       map[identity.PeerID]*flowStats{canonical: {}},
	}
}

// Aliases returns every identifier attributed to this peer, canonical
// included.
func (c *Conversation) Aliases() []identity.PeerID {
	out := make([]identity.PeerID, 0, len(c.flows))
	for id := range c.flows {
		out = append(out, id)
	}
	return out
}

func (c *Conversation) flow(id identity.PeerID) *flowStats {
	f, ok := c.flows[id]
	if !ok {
		f = &flowStats{}
		c.flows[id] = f
	}
	return f
}

// adopt attributes another identifier to this peer. Canonical id moves only
// Transient -> Stable, never back.
func (c *Conversation) adopt(id identity.PeerID) (upgraded bool) {
	c.flow(id)
	if !c.CanonicalID.IsStable() && id.IsStable() {
		c.CanonicalID = id
		return true
	}
	return false
}

// record folds one message into the conversation's flow history and
// snapshots it as the latest if it is the newest seen.
func (c *Conversation) record(m Message) {
	f := c.flow(m.PeerID())
	if m.IsOutbound {
		f.sentTo = true
		if m.Timestamp.After(f.lastOutbound) {
			f.lastOutbound = m.Timestamp
		}
	} else {
		f.receivedFrom = true
		if m.Timestamp.After(f.lastInbound) {
			f.lastInbound = m.Timestamp
		}
		c.UnreadCount++
	}
	if c.LastMessage == nil || !m.Timestamp.Before(c.LastMessage.Timestamp) {
		snap := m
		c.LastMessage = &snap
	}
	if m.Timestamp.After(c.LastActivity) {
		c.LastActivity = m.Timestamp
	}
}

// lastOutboundAt returns the most recent outbound instant across every
// identifier of this peer.
func (c *Conversation) lastOutboundAt() time.Time {
	var latest time.Time
	for _, f := range c.flows {
		if f.lastOutbound.After(latest) {
			latest = f.lastOutbound
		}
	}
	return latest
}

// absorb merges the other conversation into this one losslessly: unread
// counts sum, the newest last message wins, and a stable-shaped canonical id
// survives if either side has one.
func (c *Conversation) absorb(other *Conversation) {
	for id, f := range other.flows {
		mine := c.flow(id)
		mine.sentTo = mine.sentTo || f.sentTo
		mine.receivedFrom = mine.receivedFrom || f.receivedFrom
		if f.lastOutbound.After(mine.lastOutbound) {
			mine.lastOutbound = f.lastOutbound
		}
		if f.lastInbound.After(mine.lastInbound) {
			mine.lastInbound = f.lastInbound
		}
	}
	c.UnreadCount += other.UnreadCount
	if other.LastMessage != nil &&
		(c.LastMessage == nil || other.LastMessage.Timestamp.After(c.LastMessage.Timestamp)) {
		c.LastMessage = other.LastMessage
	}
	if other.LastActivity.After(c.LastActivity) {
		c.LastActivity = other.LastActivity
	}
	if !c.CanonicalID.IsStable() && other.CanonicalID.IsStable() {
		c.CanonicalID = other.CanonicalID
	}
	if c.DisplayName == "" {
		c.DisplayName = other.DisplayName
	}
}
