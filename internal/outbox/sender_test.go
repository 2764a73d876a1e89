package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/protocol"
	"github.com/matheus3301/helpchat/internal/store"
	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []chat.Message
	err   error
}

func (m *mockSender) SendMessage(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	return m.err
}

func (m *mockSender) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockSender) sent() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Message(nil), m.calls...)
}

// recorder collects listener callbacks.
type recorder struct {
	sentCh   chan chat.Message
	failedCh chan chat.Message
}

func newRecorder() *recorder {
	return &recorder{sentCh: make(chan chat.Message, 10), failedCh: make(chan chat.Message, 10)}
}

func (r *recorder) MessageSent(m chat.Message)          { r.sentCh <- m }
func (r *recorder) MessageSendingFailed(m chat.Message) { r.failedCh <- m }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.CreateChat(1); err != nil {
		t.Fatal(err)
	}
	return db
}

func storeText(t *testing.T, db *store.DB, localID, text string, status chat.Status) *chat.Message {
	t.Helper()
	m, err := db.StoreOutgoingMessage(store.OutgoingMessage{
		LocalID:  localID,
		ClientID: "client",
		ChatID:   1,
		Type:     chat.TypeMessage,
		Text:     text,
		Status:   status,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	rec := newRecorder()
	s := NewSender(db, mock, rec, zap.NewNop())

	first := storeText(t, db, "l1", "hello", chat.StatusNone)
	storeText(t, db, "l2", "world", chat.StatusNone)

	s.Start(context.Background())
	defer s.Stop()
	s.Wake()

	for range 2 {
		select {
		case m := <-rec.sentCh:
			if m.Delivery != chat.DeliverySent {
				t.Errorf("delivery = %s, want sent", m.Delivery)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for sent callback")
		}
	}

	calls := mock.sent()
	if len(calls) != 2 {
		t.Fatalf("got %d send calls, want 2", len(calls))
	}
	if calls[0].UUID != first.UUID || calls[1].Text != "world" {
		t.Errorf("calls out of order: %+v", calls)
	}

	pending, err := db.PendingOutgoing(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}
}

func TestSenderSkipsQueuedAndHistoric(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	s := NewSender(db, mock, nil, zap.NewNop())

	storeText(t, db, "q", "held", chat.StatusQueued)
	storeText(t, db, "h", "notice", chat.StatusHistoric)

	s.Start(context.Background())
	defer s.Stop()
	time.Sleep(time.Second)

	if n := len(mock.sent()); n != 0 {
		t.Errorf("got %d send calls, want 0", n)
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{err: fmt.Errorf("network error")}
	rec := newRecorder()
	s := NewSender(db, mock, rec, zap.NewNop())

	m := storeText(t, db, "l1", "hello", chat.StatusNone)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case failed := <-rec.failedCh:
		if failed.UUID != m.UUID || failed.Delivery != chat.DeliveryFailed || failed.Failure != "network error" {
			t.Errorf("failed message = %+v", failed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for failure callback")
	}

	// Failed rows are not retried until resent.
	time.Sleep(time.Second)
	if n := len(mock.sent()); n != 1 {
		t.Errorf("got %d send calls, want 1", n)
	}

	mock.setErr(nil)
	if _, err := db.ResendMessage(m.UUID); err != nil {
		t.Fatal(err)
	}
	s.Wake()
	select {
	case <-rec.sentCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resent message")
	}
}

func TestSenderDefersWhileDisconnected(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{err: protocol.ErrNotConnected}
	rec := newRecorder()
	s := NewSender(db, mock, rec, zap.NewNop())

	storeText(t, db, "l1", "hello", chat.StatusNone)
	storeText(t, db, "l2", "world", chat.StatusNone)

	s.Start(context.Background())
	defer s.Stop()
	time.Sleep(time.Second)

	select {
	case m := <-rec.failedCh:
		t.Fatalf("message %s marked failed while disconnected", m.UUID)
	default:
	}
	pending, err := db.PendingOutgoing(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("got %d pending, want 2", len(pending))
	}
	// Each tick stops at the first message.
	calls := mock.sent()
	for _, c := range calls {
		if c.LocalID != "l1" {
			t.Errorf("sent %s before the head of the outbox", c.LocalID)
		}
	}

	mock.setErr(nil)
	s.Wake()
	for range 2 {
		select {
		case <-rec.sentCh:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for reconnect flush")
		}
	}
}

func TestWakeDoesNotBlock(t *testing.T) {
	s := NewSender(nil, nil, nil, nil)
	for range 5 {
		s.Wake()
	}
	s.Stop()
}
