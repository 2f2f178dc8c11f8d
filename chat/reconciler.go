package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/brokemediaio-a11y/OffLink/identity"
	"github.com/brokemediaio-a11y/OffLink/logger"
	"github.com/brokemediaio-a11y/OffLink/metrics"
)

const (
	// DirectionalWindow bounds rule matching of an inbound identifier
	// against a recent outbound one.
	DirectionalWindow = 30 * time.Minute
	// RecencyWindow bounds the last-resort continuation heuristic.
	RecencyWindow = time.Hour
)

// ReconcilerConfig tunes the matching heuristics.
type ReconcilerConfig struct {
	DirectionalWindow time.Duration
	RecencyWindow     time.Duration
	// DefaultName is the advertised placeholder name; it is never persisted
	// as a peer's display name.
	DefaultName string
}

// DefaultReconcilerConfig returns the production windows.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		DirectionalWindow: DirectionalWindow,
		RecencyWindow:     RecencyWindow,
	}
}

// Reconciler maintains the peer->conversation mapping across the two
// identifier spaces a peer can present. It is the only writer of
// Conversation records. Reconciliation never fails the caller: a message no
// rule can place starts a new conversation, favoring over-segmentation over
// mis-merging unrelated peers.
type Reconciler struct {
	cfg   ReconcilerConfig
	store Store

	mu            sync.Mutex
	conversations []*Conversation
	index         map[identity.PeerID]*Conversation
	seen          map[string]*Conversation
	statuses      map[string]DeliveryStatus
}

// NewReconciler creates the engine writing through the given store. A nil
// store disables persistence.
func NewReconciler(store Store, cfg ReconcilerConfig) *Reconciler {
	if cfg.DirectionalWindow <= 0 {
		cfg.DirectionalWindow = DirectionalWindow
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = RecencyWindow
	}
	return &Reconciler{
		cfg:      cfg,
		store:    store,
		index:    make(map[identity.PeerID]*Conversation),
		seen:     make(map[string]*Conversation),
		statuses: make(map[string]DeliveryStatus),
	}
}

// Restore replays persisted history through the matching rules, rebuilding
// the conversation set without re-saving anything.
func (r *Reconciler) Restore() error {
	if r.store == nil {
		return nil
	}
	msgs, err := r.store.GetAllMessages()
	if err != nil {
		return err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	for _, m := range msgs {
		r.apply(m, "", false)
	}
	return nil
}

// Apply attributes the message to a conversation, creating or merging
// conversations as the rules dictate. peerName, when non-empty, is the name
// the peer advertised alongside the message. Applying the same message twice
// is a no-op returning the original attribution.
func (r *Reconciler) Apply(m Message, peerName string) *Conversation {
	return r.apply(m, peerName, true)
}

func (r *Reconciler) apply(m Message, peerName string, persist bool) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.seen[m.ID]; ok {
		return conv
	}

	id := m.PeerID()
	conv := r.match(m, id)

	// consistency snapshot before this message mutates the flow record
	priorConsistent := false
	if f, ok := conv.flows[id]; ok {
		if m.IsOutbound {
			priorConsistent = f.sentTo
		} else {
			priorConsistent = f.receivedFrom
		}
	}

	conv.record(m)
	r.index[id] = conv
	r.seen[m.ID] = conv
	r.statuses[m.ID] = m.Status

	if priorConsistent {
		conv = r.mergeBidirectional(conv)
	}

	r.applyDisplayName(conv, id, peerName, persist)

	if persist && r.store != nil {
		if err := r.store.SaveMessage(m); err != nil {
			logger.Warn("Reconcile", "failed to persist message %s: %v", m.ID, err)
		}
	}

	r.resort()
	return conv
}

// match walks the placement rules in order; first match wins.
func (r *Reconciler) match(m Message, id identity.PeerID) *Conversation {
	// 1. exact identifier match
	if conv, ok := r.index[id]; ok {
		metrics.ReconcileRuleHits.WithLabelValues("exact").Inc()
		return conv
	}

	if !m.IsOutbound {
		// 2. directional correlation: a reply under a different identifier
		// shortly after we addressed the peer
		if conv := r.matchDirectional(m.Timestamp); conv != nil {
			metrics.ReconcileRuleHits.WithLabelValues("directional").Inc()
			r.adopt(conv, id)
			return conv
		}

		// 4. recency fallback, intentionally permissive
		if conv := r.matchRecency(m.Timestamp); conv != nil {
			metrics.ReconcileRuleHits.WithLabelValues("recency").Inc()
			r.adopt(conv, id)
			return conv
		}
	}

	// 5. new conversation
	metrics.ReconcileRuleHits.WithLabelValues("new").Inc()
	metrics.ConversationsCreated.Inc()
	conv := newConversation(id)
	r.conversations = append(r.conversations, conv)
	r.index[id] = conv
	if r.store != nil {
		if name, err := r.store.GetDisplayName(id); err == nil && name != "" {
			conv.DisplayName = name
		}
	}
	return conv
}

func (r *Reconciler) matchDirectional(at time.Time) *Conversation {
	var best *Conversation
	var bestOut time.Time
	for _, c := range r.conversations {
		out := c.lastOutboundAt()
		if out.IsZero() {
			continue
		}
		gap := at.Sub(out)
		if gap < 0 || gap > r.cfg.DirectionalWindow {
			continue
		}
		if out.After(bestOut) {
			best, bestOut = c, out
		}
	}
	return best
}

func (r *Reconciler) matchRecency(at time.Time) *Conversation {
	var only *Conversation
	for _, c := range r.conversations {
		out := c.lastOutboundAt()
		if out.IsZero() {
			continue
		}
		gap := at.Sub(out)
		if gap < 0 || gap > r.cfg.RecencyWindow {
			continue
		}
		if only != nil {
			return nil // ambiguous, refuse
		}
		only = c
	}
	return only
}

// mergeBidirectional looks for another conversation whose flow history pairs
// with this one: sent-to A there, received-from B here, plus received-from A
// or sent-to B. Such a pair means A and B denote one physical peer, so the
// two conversations merge retroactively. Returns the surviving conversation.
func (r *Reconciler) mergeBidirectional(conv *Conversation) *Conversation {
	for _, other := range r.conversations {
		if other == conv {
			continue
		}
		if !flowsPair(other, conv) && !flowsPair(conv, other) {
			continue
		}

		metrics.ReconcileRuleHits.WithLabelValues("bidirectional").Inc()
		metrics.ConversationsMerged.Inc()
		logger.Info("Reconcile", "merging conversation %s into %s",
			other.CanonicalID.Short(), conv.CanonicalID.Short())

		conv.absorb(other)
		for id := range other.flows {
			r.index[id] = conv
		}
		for msgID, c := range r.seen {
			if c == other {
				r.seen[msgID] = conv
			}
		}
		for i, c := range r.conversations {
			if c == other {
				r.conversations = append(r.conversations[:i], r.conversations[i+1:]...)
				break
			}
		}
		return conv
	}
	return conv
}

// flowsPair reports whether identifier pair (A in d, B in c) satisfies:
// sent-to A, received-from B, and (received-from A or sent-to B).
func flowsPair(d, c *Conversation) bool {
	for _, fa := range d.flows {
		if !fa.sentTo {
			continue
		}
		for _, fb := range c.flows {
			if !fb.receivedFrom {
				continue
			}
			if fa.receivedFrom || fb.sentTo {
				return true
			}
		}
	}
	return false
}

func (r *Reconciler) adopt(conv *Conversation, id identity.PeerID) {
	if conv.adopt(id) {
		metrics.CanonicalUpgrades.Inc()
		logger.Debug("Reconcile", "canonical id upgraded to %s", id.Short())
	}
	r.index[id] = conv
	if r.store != nil && (conv.DisplayName == "" || conv.DisplayName == r.cfg.DefaultName) {
		if name, err := r.store.GetDisplayName(id); err == nil && name != "" {
			conv.DisplayName = name
		}
	}
}

func (r *Reconciler) applyDisplayName(conv *Conversation, id identity.PeerID, name string, persist bool) {
	if name == "" || name == r.cfg.DefaultName {
		return
	}
	if conv.DisplayName != "" && conv.DisplayName != r.cfg.DefaultName {
		return
	}
	conv.DisplayName = name
	if persist && r.store != nil {
		if err := r.store.SetDisplayName(id, name); err != nil {
			logger.Warn("Reconcile", "failed to persist display name for %s: %v", id.Short(), err)
		}
	}
}

func (r *Reconciler) resort() {
	sort.SliceStable(r.conversations, func(i, j int) bool {
		return r.conversations[i].LastActivity.After(r.conversations[j].LastActivity)
	})
}

// UpdateStatus advances a message's delivery status, reporting whether the
// transition was legal. Status only moves forward.
func (r *Reconciler) UpdateStatus(messageID string, next DeliveryStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.statuses[messageID]
	if !ok {
		return false
	}
	probe := Message{Status: cur}
	if !probe.Advance(next) {
		logger.Debug("Reconcile", "refusing status %s -> %s for %s", cur, next, messageID)
		return false
	}
	r.statuses[messageID] = next

	if conv := r.seen[messageID]; conv != nil &&
		conv.LastMessage != nil && conv.LastMessage.ID == messageID {
		conv.LastMessage.Status = next
	}
	if r.store != nil {
		if err := r.store.UpdateStatus(messageID, next); err != nil {
			logger.Warn("Reconcile", "failed to persist status for %s: %v", messageID, err)
		}
	}
	return true
}

// Conversations returns the current set, most recently active first.
func (r *Reconciler) Conversations() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, len(r.conversations))
	for i, c := range r.conversations {
		out[i] = *c
	}
	return out
}

// ConversationFor resolves an identifier (canonical or alias) to its
// conversation, if any.
func (r *Reconciler) ConversationFor(id identity.PeerID) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.index[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// MarkRead clears the unread count for the peer.
func (r *Reconciler) MarkRead(id identity.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.index[id]; ok {
		c.UnreadCount = 0
	}
}

// Messages returns the full persisted history for a conversation, gathered
// across every identifier the peer has used, oldest first.
func (r *Reconciler) Messages(id identity.PeerID) ([]Message, error) {
	r.mu.Lock()
	conv, ok := r.index[id]
	var aliases []identity.PeerID
	if ok {
		aliases = conv.Aliases()
	}
	r.mu.Unlock()

	if !ok || r.store == nil {
		return nil, nil
	}
	var all []Message
	for _, alias := range aliases {
		msgs, err := r.store.GetMessagesForConversation(alias)
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}
