package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/helpchat/internal/chat"
)

const messageColumns = `uuid, server_id, local_id, chat_id, client_id, agent_id, incoming,
	type, text, attachment, form, status, timing, delivery, failure, date`

// MessageChange carries the fields an inbound protocol event knows about.
// Zero values leave the stored field untouched.
type MessageChange struct {
	ServerID   int64
	LocalID    string
	ClientID   string
	AgentID    int64
	Text       string
	Attachment *chat.Attachment
	Delivery   chat.Delivery
	Date       time.Time
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*chat.Message, error) {
	var (
		m                                 chat.Message
		serverID                          sql.NullInt64
		localID, attachment, form         sql.NullString
		msgType, status, timing, delivery string
		date                              int64
	)
	if err := s.Scan(&m.UUID, &serverID, &localID, &m.ChatID, &m.ClientID, &m.AgentID, &m.Incoming,
		&msgType, &m.Text, &attachment, &form, &status, &timing, &delivery, &m.Failure, &date); err != nil {
		return nil, err
	}
	m.ID = serverID.Int64
	m.LocalID = localID.String
	m.Type = chat.MessageType(msgType)
	m.Status = chat.Status(status)
	m.Timing = chat.Timing(timing)
	m.Delivery = chat.Delivery(delivery)
	m.Date = time.UnixMilli(date)
	if attachment.Valid {
		m.Attachment = &chat.Attachment{}
		if err := json.Unmarshal([]byte(attachment.String), m.Attachment); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
	}
	if form.Valid {
		m.Form = &chat.ContactForm{}
		if err := json.Unmarshal([]byte(form.String), m.Form); err != nil {
			return nil, fmt.Errorf("decode form: %w", err)
		}
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func findMessage(q queryer, where string, args ...any) (*chat.Message, error) {
	m, err := scanMessage(q.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeAttachment(a *chat.Attachment) (any, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func encodeForm(f *chat.ContactForm) (any, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func insertMessage(q queryer, m *chat.Message) error {
	attachment, err := encodeAttachment(m.Attachment)
	if err != nil {
		return fmt.Errorf("encode attachment: %w", err)
	}
	form, err := encodeForm(m.Form)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	_, err = q.Exec(`
		INSERT INTO messages (`+messageColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UUID, nullInt(m.ID), nullString(m.LocalID), m.ChatID, m.ClientID, m.AgentID, m.Incoming,
		m.Type, m.Text, attachment, form, m.Status, m.Timing, m.Delivery, m.Failure, m.Date.UnixMilli(),
		time.Now().UnixMilli())
	return err
}

func updateMessage(q queryer, m *chat.Message) error {
	attachment, err := encodeAttachment(m.Attachment)
	if err != nil {
		return fmt.Errorf("encode attachment: %w", err)
	}
	form, err := encodeForm(m.Form)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	_, err = q.Exec(`
		UPDATE messages SET
			server_id = ?, local_id = ?, client_id = ?, agent_id = ?, incoming = ?, type = ?,
			text = ?, attachment = ?, form = ?, status = ?, timing = ?, delivery = ?, failure = ?, date = ?
		WHERE uuid = ?`,
		nullInt(m.ID), nullString(m.LocalID), m.ClientID, m.AgentID, m.Incoming, m.Type,
		m.Text, attachment, form, m.Status, m.Timing, m.Delivery, m.Failure, m.Date.UnixMilli(),
		m.UUID)
	return err
}

var deliveryRank = map[chat.Delivery]int{
	chat.DeliveryLocal:     0,
	chat.DeliveryPending:   1,
	chat.DeliveryFailed:    1,
	chat.DeliverySent:      2,
	chat.DeliveryDelivered: 3,
	chat.DeliverySeen:      4,
}

// advanceDelivery never moves delivery backwards.
func advanceDelivery(current, next chat.Delivery) chat.Delivery {
	if next == "" || deliveryRank[next] <= deliveryRank[current] {
		return current
	}
	return next
}

func applyChange(m *chat.Message, c MessageChange) {
	if c.ServerID != 0 {
		m.ID = c.ServerID
	}
	if m.LocalID == "" {
		m.LocalID = c.LocalID
	}
	if m.ClientID == "" {
		m.ClientID = c.ClientID
	}
	if m.AgentID == 0 {
		m.AgentID = c.AgentID
	}
	if m.Text == "" {
		m.Text = c.Text
	}
	if m.Attachment == nil {
		m.Attachment = c.Attachment
	}
	if !c.Date.IsZero() {
		m.Date = c.Date
	}
	m.Delivery = advanceDelivery(m.Delivery, c.Delivery)
	if m.Delivery != chat.DeliveryFailed {
		m.Failure = ""
	}
}

// UpsertMessageByID applies c to the message with server id id. When the
// change also names a local id that already has a row, the two rows are
// collapsed onto the local one.
func (db *DB) UpsertMessageByID(chatID, id int64, c MessageChange) (*chat.Message, error) {
	c.ServerID = id
	return db.upsertMessage(chatID, c)
}

// UpsertMessageByLocalID applies c to the message with the given
// client-generated id, falling back to the server id if c carries one.
func (db *DB) UpsertMessageByLocalID(chatID int64, localID string, c MessageChange) (*chat.Message, error) {
	c.LocalID = localID
	return db.upsertMessage(chatID, c)
}

func (db *DB) upsertMessage(chatID int64, c MessageChange) (*chat.Message, error) {
	if c.ServerID == 0 && c.LocalID == "" {
		return nil, fmt.Errorf("upsert message: no id")
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var byServer, byLocal *chat.Message
	if c.ServerID != 0 {
		if byServer, err = findMessage(tx, `server_id = ?`, c.ServerID); err != nil {
			return nil, fmt.Errorf("find by id: %w", err)
		}
	}
	if c.LocalID != "" {
		if byLocal, err = findMessage(tx, `local_id = ?`, c.LocalID); err != nil {
			return nil, fmt.Errorf("find by local id: %w", err)
		}
	}

	target := byLocal
	switch {
	case byLocal != nil && byServer != nil && byLocal.UUID != byServer.UUID:
		// The server id arrived first on its own row; fold it into the local row.
		if _, err := tx.Exec(`DELETE FROM messages WHERE uuid = ?`, byServer.UUID); err != nil {
			return nil, fmt.Errorf("merge duplicate: %w", err)
		}
		target.Delivery = advanceDelivery(target.Delivery, byServer.Delivery)
	case target == nil:
		target = byServer
	}

	if target == nil {
		target = &chat.Message{
			UUID:     uuid.NewString(),
			ChatID:   chatID,
			Incoming: c.ClientID == "" || c.AgentID != 0,
			Type:     chat.TypeMessage,
			Timing:   chat.TimingRegular,
			Delivery: chat.DeliverySent,
			Date:     time.Now(),
		}
		applyChange(target, c)
		if err := insertMessage(tx, target); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	} else {
		applyChange(target, c)
		if err := updateMessage(tx, target); err != nil {
			return nil, fmt.Errorf("update message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return target, nil
}

// MarkMessagesAsSeen marks every client-authored message with a server id
// up to uptoID as seen and returns the rows that changed.
func (db *DB) MarkMessagesAsSeen(chatID, uptoID int64) ([]chat.Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND server_id IS NOT NULL AND server_id <= ? AND incoming = 0 AND delivery != ?
		ORDER BY server_id ASC`, chatID, uptoID, chat.DeliverySeen)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].Delivery = chat.DeliverySeen
		if _, err := tx.Exec(`UPDATE messages SET delivery = ? WHERE uuid = ?`, chat.DeliverySeen, msgs[i].UUID); err != nil {
			return nil, fmt.Errorf("mark seen: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msgs, nil
}

// History returns the chat's messages in chronological order. When after
// is set only messages with a larger server id, plus unacknowledged local
// rows, are returned.
func (db *DB) History(chatID int64, after *int64) ([]chat.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = db.Query(`SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ? ORDER BY date ASC, rowid ASC`, chatID)
	} else {
		rows, err = db.Query(`SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ? AND (server_id IS NULL OR server_id > ?)
			ORDER BY date ASC, rowid ASC`, chatID, *after)
	}
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// LastMessage returns the newest message in the chat, or nil.
func (db *DB) LastMessage(chatID int64) (*chat.Message, error) {
	return findMessage(db, `chat_id = ? ORDER BY date DESC, rowid DESC LIMIT 1`, chatID)
}

// MessageByLocalID looks a message up by its client-generated id.
func (db *DB) MessageByLocalID(localID string) (*chat.Message, error) {
	return findMessage(db, `local_id = ?`, localID)
}

// MessageByUUID looks a message up by its row key.
func (db *DB) MessageByUUID(id string) (*chat.Message, error) {
	return findMessage(db, `uuid = ?`, id)
}

// DeleteMessage removes a single message.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE uuid = ?`, id)
	return err
}

// DeleteAllMessages erases the whole message history.
func (db *DB) DeleteAllMessages() error {
	_, err := db.Exec(`DELETE FROM messages`)
	return err
}
