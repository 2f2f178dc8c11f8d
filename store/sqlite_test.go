package store

import (
	"testing"
	"time"

	"github.com/brokemediaio-a11y/OffLink/chat"
	"github.com/brokemediaio-a11y/OffLink/identity"
)

func openTestDB(t *testing.T, dir string) *DB {
	t.Helper()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testMessage(peer identity.PeerID, content string, at time.Time) chat.Message {
	m := chat.NewOutbound(content, "self", peer)
	m.Timestamp = at
	return m
}

func TestSaveAndGetMessages(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	peer := identity.PeerID("AA:BB:CC:DD:EE:FF")
	now := time.Now()

	m1 := testMessage(peer, "first", now.Add(-time.Minute))
	m2 := testMessage(peer, "second", now)
	for _, m := range []chat.Message{m2, m1} { // insert out of order
		if err := db.SaveMessage(m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	msgs, err := db.GetAllMessages()
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Error("messages not ordered oldest first")
	}

	got := msgs[0]
	if got.Content != "first" || got.SenderID != "self" || got.ReceiverID != peer {
		t.Errorf("round trip mangled the message: %+v", got)
	}
	if !got.IsOutbound {
		t.Error("outbound flag lost")
	}
	if got.Status != chat.StatusSending {
		t.Errorf("status = %s", got.Status)
	}
	if !got.Timestamp.Equal(m1.Timestamp) {
		t.Errorf("timestamp drifted: %v vs %v", got.Timestamp, m1.Timestamp)
	}
}

func TestSaveMessageUpsertsStatus(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	m := testMessage("AA:BB:CC:DD:EE:FF", "hello", time.Now())

	if err := db.SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	m.Status = chat.StatusSent
	if err := db.SaveMessage(m); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	msgs, _ := db.GetAllMessages()
	if len(msgs) != 1 {
		t.Fatalf("duplicate row after re-save, got %d", len(msgs))
	}
	if msgs[0].Status != chat.StatusSent {
		t.Errorf("status = %s", msgs[0].Status)
	}
}

func TestUpdateStatus(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	m := testMessage("AA:BB:CC:DD:EE:FF", "hello", time.Now())
	if err := db.SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := db.UpdateStatus(m.ID, chat.StatusSent); err != nil {
		t.Fatalf("update: %v", err)
	}
	msgs, _ := db.GetAllMessages()
	if msgs[0].Status != chat.StatusSent {
		t.Errorf("status = %s", msgs[0].Status)
	}

	if err := db.UpdateStatus("no-such-id", chat.StatusSent); err == nil {
		t.Error("updating a missing message should fail")
	}
}

func TestGetMessagesForConversation(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	ben := identity.PeerID("AA:BB:CC:DD:EE:FF")
	carol := identity.PeerID("11:22:33:44:55:66")
	now := time.Now()

	db.SaveMessage(testMessage(ben, "to ben", now.Add(-2*time.Minute)))
	db.SaveMessage(testMessage(carol, "to carol", now.Add(-time.Minute)))
	inbound := chat.NewInbound("from ben", ben, "self")
	inbound.Timestamp = now
	db.SaveMessage(inbound)

	msgs, err := db.GetMessagesForConversation(ben)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages for ben", len(msgs))
	}
	for _, m := range msgs {
		if m.PeerID() != ben {
			t.Errorf("message %q attributed to %s", m.Content, m.PeerID())
		}
	}
	if msgs[1].IsOutbound {
		t.Error("inbound reply marked outbound after round trip")
	}
}

func TestDisplayNames(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	peer := identity.PeerID("22222222-0000-0000-0000-000000000002")

	name, err := db.GetDisplayName(peer)
	if err != nil {
		t.Fatalf("get before set: %v", err)
	}
	if name != "" {
		t.Errorf("name = %q before any set", name)
	}

	if err := db.SetDisplayName(peer, "Ben"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetDisplayName(peer, "Benjamin"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	name, _ = db.GetDisplayName(peer)
	if name != "Benjamin" {
		t.Errorf("name = %q", name)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	peer := identity.PeerID("AA:BB:CC:DD:EE:FF")

	db := openTestDB(t, dir)
	m := testMessage(peer, "survives restarts", time.Now())
	if err := db.SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.SetDisplayName(peer, "Ben"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	db.Close()

	db2 := openTestDB(t, dir)
	msgs, err := db2.GetAllMessages()
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Fatalf("history lost across reopen: %d messages", len(msgs))
	}
	name, _ := db2.GetDisplayName(peer)
	if name != "Ben" {
		t.Errorf("display name lost across reopen: %q", name)
	}
}
