package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
)

// Frame types on the wire.
const (
	FrameSession     = "session"
	FrameTransaction = "transaction"
)

type inboundFrame struct {
	Type    string       `json:"type"`
	Subject string       `json:"subject"`
	Config  *wireConfig  `json:"config,omitempty"`
	Latest  int64        `json:"latest_message_id,omitempty"`
	Bundles []wireBundle `json:"bundles,omitempty"`
}

type wireConfig struct {
	SiteID    int64  `json:"site_id"`
	ChannelID string `json:"channel_id"`
	ClientID  string `json:"client_id"`
}

type wireBundle struct {
	Kind       string           `json:"kind"`
	Subject    string           `json:"subject"`
	ID         json.RawMessage  `json:"id,omitempty"`
	MessageID  int64            `json:"message_id,omitempty"`
	ClientID   string           `json:"client_id,omitempty"`
	AgentID    int64            `json:"agent_id,omitempty"`
	Text       string           `json:"text,omitempty"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
	Date       *time.Time       `json:"date,omitempty"`
	Agent      *wireAgent       `json:"agent,omitempty"`
	History    *int64           `json:"history,omitempty"`
}

type wireAgent struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	AvatarURL string `json:"avatar_url"`
	State     string `json:"state"`
}

// Inbound is a decoded inbound frame: exactly one of Session or
// Transaction is set.
type Inbound struct {
	Session     SessionEvent
	Transaction *Transaction
}

// Decode parses a JSON text frame.
func Decode(data []byte) (Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case FrameSession:
		evt, err := decodeSession(&f)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Session: evt}, nil
	case FrameTransaction:
		tx, err := decodeTransaction(f.Bundles)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Transaction: &tx}, nil
	default:
		return Inbound{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}

func decodeSession(f *inboundFrame) (SessionEvent, error) {
	switch f.Subject {
	case "connection_config":
		if f.Config == nil {
			return nil, fmt.Errorf("connection_config without config")
		}
		return ConnectionConfig{SiteID: f.Config.SiteID, ChannelID: f.Config.ChannelID, ClientID: f.Config.ClientID}, nil
	case "recent_activity":
		return RecentActivity{LatestMessageID: f.Latest}, nil
	default:
		return nil, fmt.Errorf("unknown session subject %q", f.Subject)
	}
}

func decodeTransaction(bundles []wireBundle) (Transaction, error) {
	var tx Transaction
	for i := range bundles {
		b := &bundles[i]
		switch b.Kind {
		case "user":
			evt, ok, err := decodeUser(b)
			if err != nil {
				return Transaction{}, err
			}
			if ok {
				tx.Users = append(tx.Users, evt)
			}
		case "me":
			if b.Subject == "history" {
				tx.Me = append(tx.Me, MeHistory{Payload: b.History})
			}
		case "message":
			evt, ok, err := decodeMessage(b)
			if err != nil {
				return Transaction{}, err
			}
			if ok {
				tx.Messages = append(tx.Messages, evt)
			}
		}
	}
	return tx, nil
}

func decodeUser(b *wireBundle) (UserEvent, bool, error) {
	switch b.Subject {
	case "switching_data_receiving_mode":
		return SwitchingDataReceivingMode{}, true, nil
	case "agent":
		id, _, err := bundleID(b.ID)
		if err != nil {
			return nil, false, err
		}
		if id == 0 || b.Agent == nil {
			return nil, false, nil
		}
		state := chat.AgentState(b.Agent.State)
		if state == "" {
			state = chat.AgentOffline
		}
		return AgentUpsert{Agent: chat.Agent{
			ID:        id,
			Name:      b.Agent.Name,
			Title:     b.Agent.Title,
			AvatarURL: b.Agent.AvatarURL,
			State:     state,
		}}, true, nil
	}
	return nil, false, nil
}

func decodeMessage(b *wireBundle) (MessageEvent, bool, error) {
	numeric, private, err := bundleID(b.ID)
	if err != nil {
		return nil, false, err
	}
	var date time.Time
	if b.Date != nil {
		date = *b.Date
	}
	msgID := b.MessageID
	if msgID == 0 {
		msgID = numeric
	}

	switch b.Subject {
	case "received":
		return Received{
			ID:         msgID,
			PrivateID:  private,
			ClientID:   b.ClientID,
			AgentID:    b.AgentID,
			Text:       b.Text,
			Attachment: b.Attachment,
			SentAt:     date,
		}, true, nil
	case "delivered":
		return Delivered{ID: msgID, PrivateID: private, Date: date}, true, nil
	case "seen":
		return Seen{ID: msgID, Date: date}, true, nil
	}
	return nil, false, nil
}

// bundleID accepts either a numeric id or a string private id.
func bundleID(raw json.RawMessage) (int64, string, error) {
	if len(raw) == 0 {
		return 0, "", nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, "", fmt.Errorf("bundle id: %w", err)
	}
	return 0, s, nil
}

// Outbound frames.

// HistoryRequest asks for history older than FromID (newest when nil).
type HistoryRequest struct {
	Type   string `json:"type"`
	FromID *int64 `json:"from_id,omitempty"`
}

// Ack acknowledges receipt of messages up to ID.
type Ack struct {
	Type string    `json:"type"`
	ID   int64     `json:"id"`
	Date time.Time `json:"date"`
}

// RecentActivityRequest asks for the newest server message id.
type RecentActivityRequest struct {
	Type      string `json:"type"`
	SiteID    int64  `json:"site_id"`
	ChannelID string `json:"channel_id"`
	ClientID  string `json:"client_id"`
}

// Typing carries live-typing text.
type Typing struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutgoingMessage transmits a client message.
type OutgoingMessage struct {
	Type       string           `json:"type"`
	PrivateID  string           `json:"private_id"`
	Text       string           `json:"text,omitempty"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
}

// ContactInfoFrame submits the contact form.
type ContactInfoFrame struct {
	Type string `json:"type"`
	chat.ContactInfo
}
