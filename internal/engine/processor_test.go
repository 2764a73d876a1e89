package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/contactform"
	"github.com/matheus3301/helpchat/internal/locale"
	"github.com/matheus3301/helpchat/internal/protocol"
	"github.com/matheus3301/helpchat/internal/syncstate"
)

func received(id int64, agentID int64, text string) protocol.Transaction {
	return protocol.Transaction{Messages: []protocol.MessageEvent{
		protocol.Received{ID: id, AgentID: agentID, Text: text, SentAt: time.UnixMilli(id * 1000)},
	}}
}

func TestForceRequestSuppressedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.openSocket()

	if n := h.transport.historyCalls(); n != 1 {
		t.Fatalf("socket open issued %d history requests, want 1", n)
	}
	for range 3 {
		h.c.RequestMessageHistory(nil, syncstate.Force)
	}
	h.flush()
	if n := h.transport.historyCalls(); n != 1 {
		t.Errorf("got %d history requests while one is in flight, want 1", n)
	}

	h.finishHistory()
	h.c.RequestMessageHistory(nil, syncstate.Force)
	h.flush()
	if n := h.transport.historyCalls(); n != 2 {
		t.Errorf("got %d history requests after sync, want 2", n)
	}
}

func TestActualizeBeforeFirstSyncIsNoop(t *testing.T) {
	h := newHarness(t)

	from := int64(10)
	h.c.RequestMessageHistory(&from, syncstate.Actualize)
	h.flush()
	if n := h.transport.historyCalls(); n != 0 {
		t.Errorf("got %d history requests, want 0", n)
	}
}

func TestActualizeFillsGap(t *testing.T) {
	h := newHarness(t)
	h.openSocket()

	// A history page arrives: the request is answered and earliest drops to 20.
	h.c.HandleTransaction(received(20, 3, "page"))
	h.flush()
	if s := h.state(); s.Activity != syncstate.Synced || s.EarliestMessageID != 20 {
		t.Fatalf("state = %+v", s)
	}

	newer := int64(25)
	h.c.RequestMessageHistory(&newer, syncstate.Actualize)
	h.flush()
	if n := h.transport.historyCalls(); n != 1 {
		t.Errorf("boundary above earliest issued a request: %d calls", n)
	}

	older := int64(15)
	h.c.RequestMessageHistory(&older, syncstate.Actualize)
	h.flush()
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	if len(h.transport.history) != 2 {
		t.Fatalf("got %d history requests, want 2", len(h.transport.history))
	}
	if from := h.transport.history[1]; from == nil || *from != 20 {
		t.Errorf("actualize fetched from %v, want 20", from)
	}
}

func TestReceivedIsStoredOnce(t *testing.T) {
	tests := []struct {
		name   string
		events []protocol.MessageEvent
	}{
		{
			name: "numeric id twice",
			events: []protocol.MessageEvent{
				protocol.Received{ID: 10, AgentID: 3, Text: "hi"},
				protocol.Received{ID: 10, AgentID: 3, Text: "hi"},
			},
		},
		{
			name: "numeric id then private id",
			events: []protocol.MessageEvent{
				protocol.Received{ID: 10, ClientID: testHash, Text: "hi"},
				protocol.Received{ID: 10, PrivateID: "p-1", ClientID: testHash, Text: "hi"},
			},
		},
		{
			name: "private id then numeric id",
			events: []protocol.MessageEvent{
				protocol.Received{ID: 10, PrivateID: "p-1", ClientID: testHash, Text: "hi"},
				protocol.Received{ID: 10, ClientID: testHash, Text: "hi"},
				protocol.Delivered{ID: 10},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.c.HandleTransaction(protocol.Transaction{Messages: tt.events})
			events := h.flush()

			msgs := h.history()
			if len(msgs) != 1 || msgs[0].ID != 10 {
				t.Fatalf("history = %+v, want exactly one row for id 10", msgs)
			}
			if s := h.state(); s.EarliestMessageID > 10 {
				t.Errorf("earliest = %d, want <= 10", s.EarliestMessageID)
			}
			if n := count(events, bus.MessagesUpserted); n != 1 {
				t.Errorf("got %d upsert notifications for one transaction, want 1", n)
			}
			evt, _ := find(events, bus.MessagesUpserted)
			if n := len(evt.Payload.(MessagesChanged).Messages); n != 1 {
				t.Errorf("merged notification carries %d rows, want 1", n)
			}
		})
	}
}

func TestEchoCollapsesOntoLocalRow(t *testing.T) {
	h := newHarness(t)
	_ = h.prefs.SetContactInfoWasEverSent(true)

	h.c.SendMessage("  original text ", nil)
	h.flush()
	msgs := h.history()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after send, want 1", len(msgs))
	}
	local := msgs[0]
	if local.Text != "original text" || local.ID != 0 {
		t.Fatalf("local row = %+v", local)
	}

	h.c.HandleTransaction(protocol.Transaction{Messages: []protocol.MessageEvent{
		protocol.Received{ID: 50, PrivateID: local.LocalID, ClientID: testHash, Text: "server copy"},
		protocol.Delivered{ID: 50, PrivateID: local.LocalID},
	}})
	h.flush()

	msgs = h.history()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after echo, want 1", len(msgs))
	}
	got := msgs[0]
	if got.UUID != local.UUID || got.ID != 50 || got.LocalID != local.LocalID {
		t.Errorf("echo row = %+v, want local row with id 50", got)
	}
	if got.Text != "original text" {
		t.Errorf("text = %q, want the local content", got.Text)
	}
	if got.Delivery != chat.DeliveryDelivered {
		t.Errorf("delivery = %s, want delivered", got.Delivery)
	}
}

func TestSeenMarksOutgoingAndPersistsWatermark(t *testing.T) {
	h := newHarness(t)
	_ = h.prefs.SetContactInfoWasEverSent(true)

	h.c.SendMessage("one", nil)
	h.flush()
	local := h.history()[0]
	h.c.HandleTransaction(protocol.Transaction{Messages: []protocol.MessageEvent{
		protocol.Delivered{ID: 30, PrivateID: local.LocalID},
		protocol.Received{ID: 31, AgentID: 2, Text: "reply"},
	}})
	h.flush()

	h.c.HandleTransaction(protocol.Transaction{Messages: []protocol.MessageEvent{protocol.Seen{ID: 31}}})
	events := h.flush()

	evt, ok := find(events, bus.MessagesUpserted)
	if !ok {
		t.Fatal("no upsert notification for seen")
	}
	seen := evt.Payload.(MessagesChanged).Messages
	if len(seen) != 1 || seen[0].UUID != local.UUID || seen[0].Delivery != chat.DeliverySeen {
		t.Errorf("seen = %+v, want only the client message", seen)
	}
	mark, _ := h.prefs.LastSeenMessageID(testToken)
	if mark == nil || *mark != 31 {
		t.Errorf("watermark = %v, want 31", mark)
	}
}

// TestSeenBeforeBody covers a seen watermark persisted before the message
// it points at was confirmed.
func TestSeenBeforeBody(t *testing.T) {
	h := newHarness(t)
	_ = h.prefs.SetContactInfoWasEverSent(true)
	_ = h.prefs.SetLastSeenMessageID(testToken, 60)

	h.c.SendMessage("early", nil)
	h.flush()
	local := h.history()[0]

	h.c.HandleTransaction(protocol.Transaction{Messages: []protocol.MessageEvent{
		protocol.Delivered{ID: 60, PrivateID: local.LocalID},
	}})
	h.flush()

	got, _ := h.db.MessageByUUID(local.UUID)
	if got.Delivery != chat.DeliverySeen {
		t.Errorf("delivery = %s, want seen", got.Delivery)
	}
}

func TestAckInlineWhileActive(t *testing.T) {
	h := newHarness(t)
	h.c.SetActiveChat(true)
	h.flush()
	if acks := h.transport.ackCalls(); len(acks) != 0 {
		t.Fatalf("ack without any received message: %+v", acks)
	}

	h.c.HandleTransaction(received(5, 2, "a"))
	h.c.HandleTransaction(received(3, 2, "older"))
	h.flush()

	acks := h.transport.ackCalls()
	if len(acks) != 1 || acks[0].ID != 5 {
		t.Errorf("acks = %+v, want one for id 5", acks)
	}
}

func TestAckDeferredUntilActive(t *testing.T) {
	h := newHarness(t)

	h.c.HandleTransaction(received(6, 2, "a"))
	h.c.HandleTransaction(received(7, 2, "b"))
	h.flush()
	if acks := h.transport.ackCalls(); len(acks) != 0 {
		t.Fatalf("acked while in background: %+v", acks)
	}

	h.c.SetActiveChat(true)
	h.flush()
	acks := h.transport.ackCalls()
	if len(acks) != 1 || acks[0].ID != 7 || !acks[0].Date.Equal(time.UnixMilli(7000)) {
		t.Errorf("acks = %+v, want one deferred ack for id 7", acks)
	}
}

func TestAgentsRoutedByMode(t *testing.T) {
	h := newHarness(t)
	h.openSocket()

	h.c.HandleTransaction(protocol.Transaction{Users: []protocol.UserEvent{
		protocol.AgentUpsert{Agent: chat.Agent{ID: 1, Name: "Ann", State: chat.AgentAway}},
	}})
	events := h.flush()
	evt, ok := find(events, bus.ChatChannelAgentsUpdated)
	if !ok {
		t.Fatal("no channel agents update")
	}
	if agents := evt.Payload.(AgentsUpdated).Agents; len(agents) != 1 || agents[0].ID != 1 {
		t.Errorf("channel agents = %+v", agents)
	}

	h.c.HandleTransaction(protocol.Transaction{Users: []protocol.UserEvent{
		protocol.SwitchingDataReceivingMode{},
		protocol.AgentUpsert{Agent: chat.Agent{ID: 2, Name: "Bob", State: chat.AgentActive}},
	}})
	events = h.flush()
	evt, ok = find(events, bus.ChatAgentsUpdated)
	if !ok {
		t.Fatal("no chat agents update after switching mode")
	}
	if agents := evt.Payload.(AgentsUpdated).Agents; len(agents) != 1 || agents[0].ID != 2 {
		t.Errorf("chat agents = %+v", agents)
	}
	stored, _ := h.db.ChatWithID(h.chatID())
	if stored == nil || len(stored.Agents) != 1 || stored.Agents[0].ID != 2 {
		t.Errorf("stored chat agents = %+v", stored)
	}
	snap, err := h.c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Mode != chat.ModeChat {
		t.Errorf("mode = %s, want chat", snap.Mode)
	}

	// A fresh socket starts over in channel mode with an empty assignment.
	h.openSocket()
	snap, _ = h.c.Snapshot(context.Background())
	if snap.Mode != chat.ModeChannel {
		t.Errorf("mode after reopen = %s, want channel", snap.Mode)
	}
	stored, _ = h.db.ChatWithID(h.chatID())
	if len(stored.Agents) != 0 {
		t.Errorf("stored chat agents after reopen = %+v, want none", stored.Agents)
	}
}

// TestMeHistoryEvaluatesEveryPass pins that the contact info status and
// queue flush are re-evaluated on every terminating meHistory, not only on
// the first one of a session.
func TestMeHistoryEvaluatesEveryPass(t *testing.T) {
	h := newHarness(t)
	h.openSocket()

	h.c.SendMessage("blocked", nil)
	h.flush()
	if n := len(h.queued()); n != 1 {
		t.Fatalf("queued = %d, want 1", n)
	}

	events := h.finishHistory()
	evt, ok := find(events, bus.ChatContactInfoStatus)
	if !ok || evt.Payload.(ContactInfoStatus).Status != contactform.StatusAskRequired {
		t.Fatalf("first pass status = %+v, want ask_required", evt.Payload)
	}
	if n := len(h.queued()); n != 1 {
		t.Fatalf("ask_required must not flush: queued = %d", n)
	}
	if s := h.state(); s.Activity != syncstate.Synced || s.EarliestMessageID != math.MinInt64 {
		t.Errorf("state after first pass = %+v", s)
	}
	if _, ok := find(events, bus.MessagesAllHistoryLoaded); !ok {
		t.Error("no all-history-loaded event")
	}

	// Contact info is submitted elsewhere; the next pass must notice.
	_ = h.prefs.SetContactInfoWasEverSent(true)
	events = h.finishHistory()
	evt, _ = find(events, bus.ChatContactInfoStatus)
	if st := evt.Payload.(ContactInfoStatus).Status; st != contactform.StatusSent {
		t.Errorf("second pass status = %s, want sent", st)
	}
	if n := len(h.queued()); n != 0 {
		t.Errorf("second pass did not flush: queued = %d", n)
	}
	if _, ok := find(events, bus.ChatReplyingEnabled); !ok {
		t.Error("flush should re-enable replying")
	}

	var confirmations int
	for _, m := range h.history() {
		if m.Type == chat.TypeSystem && m.Text == locale.KeyContactFormSent {
			confirmations++
		}
	}
	if confirmations != 1 {
		t.Errorf("got %d flush confirmations, want 1", confirmations)
	}

	// A third pass with nothing queued flushes nothing.
	events = h.finishHistory()
	if _, ok := find(events, bus.ChatReplyingEnabled); ok {
		t.Error("empty queue should not re-enable replying")
	}
}

func TestMeHistoryWithPayloadIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.openSocket()

	more := int64(40)
	h.c.HandleTransaction(protocol.Transaction{Me: []protocol.MeEvent{protocol.MeHistory{Payload: &more}}})
	events := h.flush()
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
	if s := h.state(); s.Activity != syncstate.Requested {
		t.Errorf("activity = %s, want requested", s.Activity)
	}
}
