// Package protocol defines the events exchanged with the support service.
// Each transaction category is a sealed interface; handlers switch over
// the concrete types exhaustively.
package protocol

import (
	"errors"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
)

// SessionEvent is a connection-level event.
type SessionEvent interface {
	isSessionEvent()
}

func (ConnectionConfig) isSessionEvent() {}
func (SocketOpen) isSessionEvent()       {}
func (SocketClose) isSessionEvent()      {}
func (RecentActivity) isSessionEvent()   {}

// ConnectionConfig carries the account configuration negotiated on connect.
type ConnectionConfig struct {
	SiteID    int64
	ChannelID string
	ClientID  string
}

// SocketOpen is synthesized by the transport once the socket is up.
type SocketOpen struct{}

// SocketClose is synthesized by the transport when the socket goes away.
type SocketClose struct {
	Code int
	Err  error
}

// RecentActivity reports the newest message id known to the server.
type RecentActivity struct {
	LatestMessageID int64
}

// UserEvent is an agent-related transaction entry.
type UserEvent interface {
	isUserEvent()
}

func (AgentUpsert) isUserEvent()                {}
func (SwitchingDataReceivingMode) isUserEvent() {}

// AgentUpsert creates or updates an agent.
type AgentUpsert struct {
	Agent chat.Agent
}

// SwitchingDataReceivingMode moves agent routing from channel to chat.
type SwitchingDataReceivingMode struct{}

// MeEvent is a client-session transaction entry.
type MeEvent interface {
	isMeEvent()
}

func (MeHistory) isMeEvent() {}

// MeHistory reports history replay progress. A nil Payload marks the end
// of the initial sync pass.
type MeHistory struct {
	Payload *int64
}

// MessageEvent is a message transaction entry.
type MessageEvent interface {
	isMessageEvent()
}

func (Received) isMessageEvent()  {}
func (Delivered) isMessageEvent() {}
func (Seen) isMessageEvent()      {}

// Received is a message body arriving from the server. PrivateID is set
// for echoes of messages this client sent.
type Received struct {
	ID         int64
	PrivateID  string
	ClientID   string
	AgentID    int64
	Text       string
	Attachment *chat.Attachment
	SentAt     time.Time
}

// Delivered confirms a client message reached the server.
type Delivered struct {
	ID        int64
	PrivateID string
	Date      time.Time
}

// Seen marks client messages up to ID as read by the agent.
type Seen struct {
	ID   int64
	Date time.Time
}

// Transaction is one protocol round, split into its three categories.
type Transaction struct {
	Users    []UserEvent
	Me       []MeEvent
	Messages []MessageEvent
}

// Empty reports whether the transaction carries no entries.
func (t Transaction) Empty() bool {
	return len(t.Users) == 0 && len(t.Me) == 0 && len(t.Messages) == 0
}

// ErrNotConnected is returned by blocking sends while the socket is down.
var ErrNotConnected = errors.New("protocol: not connected")

// Transport is the outbound half of the protocol. Calls are
// fire-and-forget; replies arrive later as events.
type Transport interface {
	RequestMessageHistory(fromID *int64)
	SendMessageAck(id int64, date time.Time)
	RequestRecentActivity(siteID int64, channelID, clientID string)
	SendTyping(text string)
	SendContactInfo(info chat.ContactInfo)
}

// Handler consumes inbound protocol traffic.
type Handler interface {
	HandleSessionEvent(evt SessionEvent)
	HandleTransaction(tx Transaction)
}
