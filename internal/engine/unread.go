package engine

import (
	"time"

	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/syncstate"
	"go.uber.org/zap"
)

// SetActiveChat tells the engine whether the chat is on screen. Turning it
// on acknowledges the newest message received while it was off; while on,
// every newer message is acknowledged as it arrives instead. A message is
// acknowledged once either way.
func (c *Controller) SetActiveChat(active bool) {
	c.submit(func() { c.setActiveChat(active) })
}

func (c *Controller) setActiveChat(active bool) {
	wasActive := c.hasActiveChat
	c.hasActiveChat = active
	if active && !wasActive && c.syncState.HasLatest() {
		c.ack(c.syncState.LatestMessageID, c.syncState.LatestMessageDate)
	}
}

// ack acknowledges id unless it, or a newer message, already was.
func (c *Controller) ack(id int64, date time.Time) {
	if id <= c.ackedID {
		return
	}
	c.ackedID = id
	c.transport.SendMessageAck(id, date)
}

// MarkSeen acknowledges a single message.
func (c *Controller) MarkSeen(messageUUID string) {
	c.submit(func() {
		m, err := c.storage.MessageByUUID(messageUUID)
		if err != nil {
			c.logger.Error("failed to look up message", zap.Error(err), zap.String("uuid", messageUUID))
			return
		}
		if m == nil || m.ID == 0 {
			c.logger.Info("cannot mark seen: no server message", zap.String("uuid", messageUUID))
			return
		}
		c.transport.SendMessageAck(m.ID, m.Date)
	})
}

// RequestMessageHistory asks for history older than fromID (newest when
// nil). Requests are suppressed while one is in flight.
func (c *Controller) RequestMessageHistory(fromID *int64, behavior syncstate.Behavior) {
	c.submit(func() { c.requestMessageHistory(fromID, behavior) })
}

func (c *Controller) requestMessageHistory(fromID *int64, behavior syncstate.Behavior) {
	from, ok := c.syncState.Request(fromID, behavior)
	if !ok {
		c.logger.Debug("history request suppressed",
			zap.String("behavior", string(behavior)),
			zap.String("activity", string(c.syncState.Activity)))
		return
	}
	c.transport.RequestMessageHistory(from)
}

func (c *Controller) notifyUnreadCounter() {
	n := 0
	if chatID := c.identity.ChatID(); chatID != 0 {
		last, err := c.storage.LastMessage(chatID)
		if err != nil {
			c.logger.Error("failed to read last message", zap.Error(err))
		} else {
			n = unreadCount(c.lastKnownID, last)
		}
	}
	c.unread = n
	c.emit(bus.ChatUnreadCounter, UnreadCounter{Number: n})
}

// unreadCount reports 1 when the server knows a message newer than the
// newest stored one and that stored one was not written by the client.
// Only presence of unread messages is tracked, not their number.
func unreadCount(lastKnownID *int64, last *chat.Message) int {
	switch {
	case lastKnownID == nil:
		return 0
	case last != nil && last.ID >= *lastKnownID:
		return 0
	case last != nil && last.AuthoredByClient():
		return 0
	}
	return 1
}
