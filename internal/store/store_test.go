package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, _, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countMessages(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestUpsertByIDIsIdempotent(t *testing.T) {
	db := testDB(t)

	first, err := db.UpsertMessageByID(1, 10, MessageChange{AgentID: 5, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Incoming {
		t.Error("agent message should be incoming")
	}
	second, err := db.UpsertMessageByID(1, 10, MessageChange{AgentID: 5, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if first.UUID != second.UUID {
		t.Errorf("uuid changed: %s -> %s", first.UUID, second.UUID)
	}
	if n := countMessages(t, db); n != 1 {
		t.Errorf("got %d messages, want 1", n)
	}
}

// TestLocalThenServerCollapses covers the echo of a self-sent message: the
// local row gains the server id instead of a second row appearing.
func TestLocalThenServerCollapses(t *testing.T) {
	db := testDB(t)

	local, err := db.StoreOutgoingMessage(OutgoingMessage{
		LocalID: "l1", ClientID: "me", ChatID: 1, Type: chat.TypeMessage, Text: "original",
	})
	if err != nil {
		t.Fatal(err)
	}
	if local.Delivery != chat.DeliveryPending {
		t.Errorf("delivery = %s, want pending", local.Delivery)
	}

	got, err := db.UpsertMessageByLocalID(1, "l1", MessageChange{ServerID: 42, ClientID: "me", Text: "echo", Delivery: chat.DeliveryDelivered})
	if err != nil {
		t.Fatal(err)
	}
	if got.UUID != local.UUID || got.ID != 42 {
		t.Errorf("got uuid=%s id=%d, want uuid=%s id=42", got.UUID, got.ID, local.UUID)
	}
	if got.Text != "original" {
		t.Errorf("text = %q, want original local content", got.Text)
	}
	if got.Incoming {
		t.Error("echo of own message must stay outgoing")
	}

	// A later by-id event hits the same row.
	again, err := db.UpsertMessageByID(1, 42, MessageChange{Delivery: chat.DeliverySent})
	if err != nil {
		t.Fatal(err)
	}
	if again.UUID != local.UUID || again.Delivery != chat.DeliveryDelivered {
		t.Errorf("got uuid=%s delivery=%s, want same row still delivered", again.UUID, again.Delivery)
	}
	if n := countMessages(t, db); n != 1 {
		t.Errorf("got %d messages, want 1", n)
	}
}

func TestServerThenLocalMerges(t *testing.T) {
	db := testDB(t)

	if _, err := db.StoreOutgoingMessage(OutgoingMessage{
		LocalID: "l1", ClientID: "me", ChatID: 1, Type: chat.TypeMessage, Text: "mine",
	}); err != nil {
		t.Fatal(err)
	}
	// The by-id event lands before the echo names the local id.
	if _, err := db.UpsertMessageByID(1, 7, MessageChange{ClientID: "me", Text: "mine"}); err != nil {
		t.Fatal(err)
	}
	if n := countMessages(t, db); n != 2 {
		t.Fatalf("got %d messages before merge, want 2", n)
	}

	merged, err := db.UpsertMessageByLocalID(1, "l1", MessageChange{ServerID: 7})
	if err != nil {
		t.Fatal(err)
	}
	if merged.ID != 7 || merged.LocalID != "l1" {
		t.Errorf("merged = id %d local %q", merged.ID, merged.LocalID)
	}
	if n := countMessages(t, db); n != 1 {
		t.Errorf("got %d messages after merge, want 1", n)
	}
}

func TestMarkMessagesAsSeen(t *testing.T) {
	db := testDB(t)

	for i, lid := range []string{"a", "b", "c"} {
		if _, err := db.StoreOutgoingMessage(OutgoingMessage{LocalID: lid, ClientID: "me", ChatID: 1, Type: chat.TypeMessage, Text: lid}); err != nil {
			t.Fatal(err)
		}
		if _, err := db.UpsertMessageByLocalID(1, lid, MessageChange{ServerID: int64(10 + i)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.UpsertMessageByID(1, 5, MessageChange{AgentID: 9, Text: "agent"}); err != nil {
		t.Fatal(err)
	}

	seen, err := db.MarkMessagesAsSeen(1, 11)
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Fatalf("got %d seen, want 2 (ids 10, 11; agent message excluded)", len(seen))
	}
	for _, m := range seen {
		if m.Delivery != chat.DeliverySeen || m.Incoming {
			t.Errorf("message %d: delivery=%s incoming=%v", m.ID, m.Delivery, m.Incoming)
		}
	}

	again, err := db.MarkMessagesAsSeen(1, 11)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second pass returned %d rows, want 0", len(again))
	}
}

func TestQueuedAndResend(t *testing.T) {
	db := testDB(t)

	m, err := db.StoreOutgoingMessage(OutgoingMessage{
		LocalID: "q1", ClientID: "me", ChatID: 1, Type: chat.TypeMessage, Text: "wait",
		Status: chat.StatusQueued, Timing: chat.TimingFrozen,
	})
	if err != nil {
		t.Fatal(err)
	}

	queued, err := db.QueuedMessages(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 {
		t.Fatalf("got %d queued, want 1", len(queued))
	}
	pending, err := db.PendingOutgoing(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("queued message leaked into outbox: %d pending", len(pending))
	}

	if got, err := db.ResendMessage(m.UUID); err != nil || got != nil {
		t.Fatalf("ResendMessage(queued) = %v, %v; want nil, nil", got, err)
	}
	if queued, _ := db.QueuedMessages(1); len(queued) != 1 {
		t.Fatalf("resend released a queued message")
	}

	released, err := db.ReleaseQueuedMessage(m.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if released.Status != chat.StatusNone || released.Timing != chat.TimingRegular || released.Delivery != chat.DeliveryPending {
		t.Errorf("released = status %q timing %q delivery %q", released.Status, released.Timing, released.Delivery)
	}
	if again, err := db.ReleaseQueuedMessage(m.UUID); err != nil || again != nil {
		t.Errorf("second release = %v, %v; want nil, nil", again, err)
	}
	pending, err = db.PendingOutgoing(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("got %d pending after resend, want 1", len(pending))
	}
}

func TestSendLifecycle(t *testing.T) {
	db := testDB(t)

	m, err := db.StoreOutgoingMessage(OutgoingMessage{LocalID: "s1", ClientID: "me", ChatID: 1, Type: chat.TypeMessage, Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageFailed(m.UUID, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ := db.MessageByUUID(m.UUID)
	if got.Delivery != chat.DeliveryFailed || got.Failure != "boom" {
		t.Errorf("after failure: %s %q", got.Delivery, got.Failure)
	}

	if _, err := db.ResendMessage(m.UUID); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageSent(m.UUID); err != nil {
		t.Fatal(err)
	}
	got, _ = db.MessageByUUID(m.UUID)
	if got.Delivery != chat.DeliverySent || got.Failure != "" {
		t.Errorf("after resend+sent: %s %q", got.Delivery, got.Failure)
	}

	// A sent message never goes back to the outbox.
	if again, err := db.ResendMessage(m.UUID); err != nil || again != nil {
		t.Errorf("ResendMessage(sent) = %v, %v; want nil, nil", again, err)
	}
	if pending, _ := db.PendingOutgoing(10); len(pending) != 0 {
		t.Errorf("sent message pending again: %d", len(pending))
	}
}

func TestSystemMessagesNeverTransmitted(t *testing.T) {
	db := testDB(t)

	if _, err := db.StoreOutgoingMessage(OutgoingMessage{LocalID: "sys", ClientID: "me", ChatID: 1, Type: chat.TypeSystem, Text: "note", Status: chat.StatusHistoric}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.StoreOutgoingMessage(OutgoingMessage{LocalID: chat.ContactFormLocalID, ClientID: "me", ChatID: 1, Type: chat.TypeContactForm, Form: &chat.ContactForm{Status: chat.FormInactive}}); err != nil {
		t.Fatal(err)
	}
	pending, err := db.PendingOutgoing(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0", len(pending))
	}
}

func TestContactFormReservedIDIsReplaced(t *testing.T) {
	db := testDB(t)

	first, err := db.StoreOutgoingMessage(OutgoingMessage{LocalID: chat.ContactFormLocalID, ClientID: "me", ChatID: 1, Type: chat.TypeContactForm, Form: &chat.ContactForm{Status: chat.FormInactive}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.StoreOutgoingMessage(OutgoingMessage{LocalID: chat.ContactFormLocalID, ClientID: "me", ChatID: 1, Type: chat.TypeContactForm, Form: &chat.ContactForm{Status: chat.FormInactive}})
	if err != nil {
		t.Fatal(err)
	}
	if first.UUID != second.UUID {
		t.Error("reserved contact form id should keep one row")
	}

	info := &chat.ContactInfo{Name: "Ann", Email: "ann@example.com"}
	turned, err := db.TurnContactForm(first.UUID, chat.FormSnapshot, info)
	if err != nil {
		t.Fatal(err)
	}
	if turned.Form == nil || turned.Form.Status != chat.FormSnapshot || turned.Form.Details.Name != "Ann" {
		t.Errorf("form = %+v", turned.Form)
	}

	missing, err := db.TurnContactForm("nope", chat.FormEditable, nil)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("turning a missing form should return nil")
	}
}

func TestHistoryAndLastMessage(t *testing.T) {
	db := testDB(t)

	base := time.UnixMilli(1_000_000)
	for i := int64(1); i <= 3; i++ {
		if _, err := db.UpsertMessageByID(1, i, MessageChange{AgentID: 2, Text: "m", Date: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.UpsertMessageByID(2, 99, MessageChange{AgentID: 2, Text: "other chat"}); err != nil {
		t.Fatal(err)
	}

	all, err := db.History(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != 1 || all[2].ID != 3 {
		t.Fatalf("history = %+v", all)
	}
	after := int64(1)
	tail, err := db.History(1, &after)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 {
		t.Errorf("history after 1 = %d messages, want 2", len(tail))
	}

	last, err := db.LastMessage(1)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != 3 {
		t.Errorf("last = %+v, want id 3", last)
	}
	none, err := db.LastMessage(404)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Error("last message of empty chat should be nil")
	}
}

func TestDeleteMessages(t *testing.T) {
	db := testDB(t)

	m, err := db.StoreOutgoingMessage(OutgoingMessage{LocalID: "d1", ClientID: "me", ChatID: 1, Type: chat.TypeMessage, Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessageByID(1, 3, MessageChange{AgentID: 1, Text: "y"}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage(m.UUID); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.MessageByLocalID("d1"); got != nil {
		t.Error("deleted message still found")
	}
	if err := db.DeleteAllMessages(); err != nil {
		t.Fatal(err)
	}
	if n := countMessages(t, db); n != 0 {
		t.Errorf("got %d messages after erase, want 0", n)
	}
}

func TestChatAndAgents(t *testing.T) {
	db := testDB(t)

	c, err := db.CreateChat(77)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.ID != 77 || len(c.Agents) != 0 {
		t.Fatalf("chat = %+v", c)
	}
	if again, _ := db.CreateChat(77); again == nil || again.ID != 77 {
		t.Error("CreateChat should be idempotent")
	}
	if missing, _ := db.ChatWithID(1); missing != nil {
		t.Error("missing chat should be nil")
	}

	for _, a := range []chat.Agent{{ID: 1, Name: "Ann", State: chat.AgentActive}, {ID: 2, Name: "Bob"}} {
		if _, err := db.UpsertAgent(a); err != nil {
			t.Fatal(err)
		}
	}
	// Partial update keeps the name.
	updated, err := db.UpsertAgent(chat.Agent{ID: 1, State: chat.AgentAway})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Ann" || updated.State != chat.AgentAway {
		t.Errorf("agent = %+v", updated)
	}

	if _, err := db.StoreChatAgents(77, []int64{1}, false); err != nil {
		t.Fatal(err)
	}
	c, err = db.StoreChatAgents(77, []int64{2}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Agents) != 2 {
		t.Errorf("non-exclusive store: %d agents, want 2", len(c.Agents))
	}
	c, err = db.StoreChatAgents(77, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Agents) != 0 {
		t.Errorf("exclusive empty store: %d agents, want 0", len(c.Agents))
	}

	n, err := db.MakeAllAgentsOffline()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("made %d agents offline, want 1", n)
	}
}

func TestKeyValue(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.Value("k"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := db.SetValue("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetValue("k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Value("k")
	if err != nil || !ok || v != "v2" {
		t.Errorf("Value(k) = %q, %v, %v", v, ok, err)
	}
	if err := db.DeleteValue("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Value("k"); ok {
		t.Error("key still present after delete")
	}
}
