package chat_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brokemediaio-a11y/OffLink/chat"
	"github.com/brokemediaio-a11y/OffLink/identity"
	"github.com/brokemediaio-a11y/OffLink/store"
)

const (
	selfID     = identity.PeerID("11111111-0000-0000-0000-000000000001")
	transient  = identity.PeerID("AA:BB:CC:DD:EE:FF")
	stablePeer = identity.PeerID("22222222-0000-0000-0000-000000000002")
)

func newTestReconciler(t *testing.T) *chat.Reconciler {
	t.Helper()
	return chat.NewReconciler(store.NewMemory(), chat.DefaultReconcilerConfig())
}

func outboundAt(peer identity.PeerID, content string, at time.Time) chat.Message {
	return chat.Message{
		ID:         uuid.New().String(),
		Content:    content,
		SenderID:   selfID,
		ReceiverID: peer,
		Timestamp:  at,
		Status:     chat.StatusSending,
		IsOutbound: true,
	}
}

func inboundAt(peer identity.PeerID, content string, at time.Time) chat.Message {
	return chat.Message{
		ID:         uuid.New().String(),
		Content:    content,
		SenderID:   peer,
		ReceiverID: selfID,
		Timestamp:  at,
		Status:     chat.StatusDelivered,
	}
}

// An outbound to a transient address followed by an inbound from the stable
// identifier shortly after lands in one conversation with the stable
// identifier as canonical.
func TestReconciler_DirectionalUpgrade(t *testing.T) {
	r := newTestReconciler(t)
	now := time.Now()

	c1 := r.Apply(outboundAt(transient, "anyone out there?", now.Add(-5*time.Minute)), "")
	if c1.CanonicalID != transient {
		t.Fatalf("canonical = %s, expected the transient address", c1.CanonicalID)
	}

	c2 := r.Apply(inboundAt(stablePeer, "right here", now), "Ben")
	if len(r.Conversations()) != 1 {
		t.Fatalf("conversations = %d, expected the reply to join the thread", len(r.Conversations()))
	}
	if c2 != c1 {
		t.Error("reply created a second conversation object")
	}
	if c2.CanonicalID != stablePeer {
		t.Errorf("canonical = %s, expected the stable identifier after upgrade", c2.CanonicalID)
	}
	if c2.DisplayName != "Ben" {
		t.Errorf("display name = %q", c2.DisplayName)
	}
	if c2.UnreadCount != 1 {
		t.Errorf("unread = %d", c2.UnreadCount)
	}

	// both identifiers now resolve to the same conversation
	for _, id := range []identity.PeerID{transient, stablePeer} {
		if _, ok := r.ConversationFor(id); !ok {
			t.Errorf("no conversation indexed under %s", id)
		}
	}
}

// A reply outside the pairing window starts a fresh conversation instead of
// guessing.
func TestReconciler_DirectionalWindowExpires(t *testing.T) {
	r := newTestReconciler(t)
	now := time.Now()

	r.Apply(outboundAt(transient, "old shout", now.Add(-2*time.Hour)), "")
	r.Apply(inboundAt(stablePeer, "who was that?", now), "")

	if got := len(r.Conversations()); got != 2 {
		t.Fatalf("conversations = %d, stale outbound must not pair", got)
	}
}

// The canonical identifier never downgrades back to a transient address.
func TestReconciler_UpgradeIsMonotonic(t *testing.T) {
	r := newTestReconciler(t)
	now := time.Now()

	r.Apply(outboundAt(transient, "hello", now.Add(-10*time.Minute)), "")
	conv := r.Apply(inboundAt(stablePeer, "hi", now.Add(-9*time.Minute)), "")
	if conv.CanonicalID != stablePeer {
		t.Fatalf("canonical = %s after upgrade", conv.CanonicalID)
	}

	// more traffic on the old transient address
	conv = r.Apply(outboundAt(transient, "still there?", now), "")
	if conv.CanonicalID != stablePeer {
		t.Errorf("canonical downgraded to %s", conv.CanonicalID)
	}
}

// Applying the same message twice changes nothing.
func TestReconciler_Idempotent(t *testing.T) {
	r := newTestReconciler(t)
	m := inboundAt(stablePeer, "knock knock", time.Now())

	first := r.Apply(m, "Ben")
	second := r.Apply(m, "Ben")
	if first != second {
		t.Error("replay landed in a different conversation")
	}
	if got := len(r.Conversations()); got != 1 {
		t.Errorf("conversations = %d", got)
	}
	if first.UnreadCount != 1 {
		t.Errorf("unread = %d after replay, expected 1", first.UnreadCount)
	}
	msgs, err := r.Messages(stablePeer)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("stored %d copies of the message", len(msgs))
	}
}

// Two conversations that turn out to be the same peer, established through
// consistent two-way traffic, collapse into one without losing history.
func TestReconciler_BidirectionalMerge(t *testing.T) {
	r := newTestReconciler(t)
	now := time.Now()

	// thread 1: talked to the transient address both ways
	r.Apply(outboundAt(transient, "ping", now.Add(-3*time.Hour)), "")
	r.Apply(inboundAt(transient, "pong", now.Add(-3*time.Hour).Add(time.Minute)), "")

	// thread 2: the stable identifier shows up too late to pair by recency
	r.Apply(inboundAt(stablePeer, "new phone who dis", now.Add(-30*time.Minute)), "Ben")
	if got := len(r.Conversations()); got != 2 {
		t.Fatalf("conversations = %d before the merge evidence", got)
	}

	// consistent follow-up traffic on the stable identifier links the threads
	conv := r.Apply(inboundAt(stablePeer, "it's me from earlier", now), "Ben")

	if got := len(r.Conversations()); got != 1 {
		t.Fatalf("conversations = %d, expected a merge", got)
	}
	if conv.CanonicalID != stablePeer {
		t.Errorf("merged canonical = %s", conv.CanonicalID)
	}
	// nothing lost: all four messages reachable from the survivor
	msgs, err := r.Messages(conv.CanonicalID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("merged history has %d messages, expected 4", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Error("merged history out of order")
		}
	}
	if conv.UnreadCount != 3 {
		t.Errorf("merged unread = %d, expected the sum", conv.UnreadCount)
	}
}

// With exactly one recently active conversation, an unmatched identifier
// joins it; with two candidates the reconciler refuses to guess.
func TestReconciler_RecencyRule(t *testing.T) {
	now := time.Now()

	t.Run("single candidate adopts", func(t *testing.T) {
		r := newTestReconciler(t)
		r.Apply(outboundAt(transient, "ping", now.Add(-40*time.Minute)), "")
		conv := r.Apply(inboundAt(stablePeer, "pong", now), "")
		if got := len(r.Conversations()); got != 1 {
			t.Fatalf("conversations = %d, expected recency pairing", got)
		}
		if conv.CanonicalID != stablePeer {
			t.Errorf("canonical = %s", conv.CanonicalID)
		}
	})

	t.Run("ambiguity refuses", func(t *testing.T) {
		r := newTestReconciler(t)
		other := identity.PeerID("0A:0B:0C:0D:0E:0F")
		r.Apply(outboundAt(transient, "ping a", now.Add(-45*time.Minute)), "")
		r.Apply(outboundAt(other, "ping b", now.Add(-40*time.Minute)), "")
		r.Apply(inboundAt(stablePeer, "pong", now), "")
		if got := len(r.Conversations()); got != 3 {
			t.Errorf("conversations = %d, ambiguous recency must not pair", got)
		}
	})
}

// The first real name wins; later defaults never overwrite it.
func TestReconciler_DisplayNames(t *testing.T) {
	r := newTestReconciler(t)
	cfg := chat.DefaultReconcilerConfig()
	now := time.Now()

	r.Apply(inboundAt(stablePeer, "hi", now.Add(-time.Minute)), cfg.DefaultName)
	conv, _ := r.ConversationFor(stablePeer)
	if conv.DisplayName != "" {
		t.Fatalf("default name %q should not stick", conv.DisplayName)
	}

	r.Apply(inboundAt(stablePeer, "it's ben", now), "Ben")
	conv, _ = r.ConversationFor(stablePeer)
	if conv.DisplayName != "Ben" {
		t.Fatalf("real name did not replace the default, got %q", conv.DisplayName)
	}

	r.Apply(inboundAt(stablePeer, "later", now.Add(time.Minute)), cfg.DefaultName)
	conv, _ = r.ConversationFor(stablePeer)
	if conv.DisplayName != "Ben" {
		t.Errorf("default overwrote a real name, got %q", conv.DisplayName)
	}
}

func TestReconciler_UpdateStatus(t *testing.T) {
	r := newTestReconciler(t)
	m := outboundAt(transient, "hello", time.Now())
	r.Apply(m, "")

	if !r.UpdateStatus(m.ID, chat.StatusSent) {
		t.Fatal("sending -> sent refused")
	}
	if r.UpdateStatus(m.ID, chat.StatusFailed) {
		t.Error("sent -> failed allowed")
	}
	if !r.UpdateStatus(m.ID, chat.StatusDelivered) {
		t.Error("sent -> delivered refused")
	}
	if r.UpdateStatus("no-such-id", chat.StatusSent) {
		t.Error("unknown message id reported success")
	}

	conv, _ := r.ConversationFor(transient)
	if conv.LastMessage == nil || conv.LastMessage.Status != chat.StatusDelivered {
		t.Error("status change not reflected on the conversation")
	}
}

// Restore rebuilds the same conversation set from persisted history.
func TestReconciler_Restore(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now()

	r := chat.NewReconciler(mem, chat.DefaultReconcilerConfig())
	r.Apply(outboundAt(transient, "anyone?", now.Add(-5*time.Minute)), "")
	r.Apply(inboundAt(stablePeer, "here", now), "Ben")

	fresh := chat.NewReconciler(mem, chat.DefaultReconcilerConfig())
	if err := fresh.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	convs := fresh.Conversations()
	if len(convs) != 1 {
		t.Fatalf("restored %d conversations, expected 1", len(convs))
	}
	if convs[0].CanonicalID != stablePeer {
		t.Errorf("restored canonical = %s", convs[0].CanonicalID)
	}
	if convs[0].DisplayName != "Ben" {
		t.Errorf("restored name = %q", convs[0].DisplayName)
	}
	msgs, err := fresh.Messages(stablePeer)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("restored %d messages", len(msgs))
	}
}

func TestReconciler_MarkRead(t *testing.T) {
	r := newTestReconciler(t)
	r.Apply(inboundAt(stablePeer, "one", time.Now().Add(-time.Minute)), "")
	r.Apply(inboundAt(stablePeer, "two", time.Now()), "")

	conv, _ := r.ConversationFor(stablePeer)
	if conv.UnreadCount != 2 {
		t.Fatalf("unread = %d", conv.UnreadCount)
	}
	r.MarkRead(stablePeer)
	conv, _ = r.ConversationFor(stablePeer)
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d after mark read", conv.UnreadCount)
	}
}

func TestReconciler_ConversationOrdering(t *testing.T) {
	r := newTestReconciler(t)
	now := time.Now()
	a := identity.PeerID("0A:00:00:00:00:01")
	b := identity.PeerID("0B:00:00:00:00:02")

	r.Apply(inboundAt(a, "older", now.Add(-2*time.Hour)), "")
	r.Apply(inboundAt(b, "newer", now), "")

	convs := r.Conversations()
	if len(convs) != 2 {
		t.Fatalf("conversations = %d", len(convs))
	}
	if convs[0].CanonicalID != b {
		t.Errorf("most recent conversation not first, got %s", convs[0].CanonicalID)
	}
}
