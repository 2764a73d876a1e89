package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/helpchat/internal/chat"
)

// OutgoingMessage describes a client-authored message to store.
type OutgoingMessage struct {
	LocalID    string
	ClientID   string
	ChatID     int64
	Type       chat.MessageType
	Text       string
	Attachment *chat.Attachment
	Form       *chat.ContactForm
	Status     chat.Status
	Timing     chat.Timing
}

// StoreOutgoingMessage stores a client-authored message. Rows sharing a
// local id are replaced in place, which keeps the reserved contact form
// id unique.
func (db *DB) StoreOutgoingMessage(o OutgoingMessage) (*chat.Message, error) {
	if o.LocalID == "" {
		return nil, fmt.Errorf("store outgoing message: empty local id")
	}

	delivery := chat.DeliveryLocal
	if o.Type == chat.TypeMessage && o.Status != chat.StatusHistoric {
		delivery = chat.DeliveryPending
	}
	timing := o.Timing
	if timing == "" {
		timing = chat.TimingRegular
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := findMessage(tx, `local_id = ?`, o.LocalID)
	if err != nil {
		return nil, fmt.Errorf("find by local id: %w", err)
	}

	m := &chat.Message{
		UUID:       uuid.NewString(),
		LocalID:    o.LocalID,
		ChatID:     o.ChatID,
		ClientID:   o.ClientID,
		Type:       o.Type,
		Text:       o.Text,
		Attachment: o.Attachment,
		Form:       o.Form,
		Status:     o.Status,
		Timing:     timing,
		Delivery:   delivery,
		Date:       time.Now(),
	}
	if existing != nil {
		m.UUID = existing.UUID
		m.ID = existing.ID
		err = updateMessage(tx, m)
	} else {
		err = insertMessage(tx, m)
	}
	if err != nil {
		return nil, fmt.Errorf("store outgoing message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// QueuedMessages returns the chat's messages withheld from transmission.
func (db *DB) QueuedMessages(chatID int64) ([]chat.Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND status = ? ORDER BY date ASC, rowid ASC`, chatID, chat.StatusQueued)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ReleaseQueuedMessage lets a queued message through to the outbox. Rows
// that are not queued are left alone and (nil, nil) is returned.
func (db *DB) ReleaseQueuedMessage(id string) (*chat.Message, error) {
	res, err := db.Exec(`
		UPDATE messages SET status = '', timing = ?, delivery = ?, failure = ''
		WHERE uuid = ? AND status = ? AND incoming = 0 AND type = ?`,
		chat.TimingRegular, chat.DeliveryPending, id, chat.StatusQueued, chat.TypeMessage)
	if err != nil {
		return nil, fmt.Errorf("release queued message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.MessageByUUID(id)
}

// ResendMessage puts a failed message back in the outbox. Queued rows and
// rows that did not fail are left alone and (nil, nil) is returned.
func (db *DB) ResendMessage(id string) (*chat.Message, error) {
	res, err := db.Exec(`
		UPDATE messages SET delivery = ?, failure = ''
		WHERE uuid = ? AND delivery = ? AND status != ? AND incoming = 0 AND type = ?`,
		chat.DeliveryPending, id, chat.DeliveryFailed, chat.StatusQueued, chat.TypeMessage)
	if err != nil {
		return nil, fmt.Errorf("resend message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.MessageByUUID(id)
}

// PendingOutgoing returns client messages waiting for transmission, oldest
// first. Queued and historic rows are never returned.
func (db *DB) PendingOutgoing(limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+messageColumns+` FROM messages
		WHERE delivery = ? AND status = '' AND incoming = 0 AND type = ?
		ORDER BY date ASC, rowid ASC LIMIT ?`, chat.DeliveryPending, chat.TypeMessage, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MarkMessageSent records a successful transmission.
func (db *DB) MarkMessageSent(id string) error {
	_, err := db.Exec(`UPDATE messages SET delivery = ?, failure = '' WHERE uuid = ? AND delivery = ?`,
		chat.DeliverySent, id, chat.DeliveryPending)
	return err
}

// MarkMessageFailed records a failed transmission.
func (db *DB) MarkMessageFailed(id, reason string) error {
	_, err := db.Exec(`UPDATE messages SET delivery = ?, failure = ? WHERE uuid = ?`,
		chat.DeliveryFailed, reason, id)
	return err
}

// TurnContactForm changes the contact form message's state.
func (db *DB) TurnContactForm(id string, status chat.FormStatus, details *chat.ContactInfo) (*chat.Message, error) {
	form, err := encodeForm(&chat.ContactForm{Status: status, Details: details})
	if err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}
	res, err := db.Exec(`UPDATE messages SET form = ? WHERE uuid = ? AND type = ?`, form, id, chat.TypeContactForm)
	if err != nil {
		return nil, fmt.Errorf("turn contact form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.MessageByUUID(id)
}
