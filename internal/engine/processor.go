package engine

import (
	"cmp"
	"maps"
	"slices"

	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/contactform"
	"github.com/matheus3301/helpchat/internal/protocol"
	"github.com/matheus3301/helpchat/internal/store"
	"go.uber.org/zap"
)

// HandleTransaction implements protocol.Handler. Categories are applied in
// a fixed order: agents first so the message batch sees the current
// assignment, then session progress, then messages.
func (c *Controller) HandleTransaction(tx protocol.Transaction) {
	c.submit(func() { c.handleTransaction(tx) })
}

func (c *Controller) handleTransaction(tx protocol.Transaction) {
	if c.chat == nil {
		c.logger.Info("dropping transaction: no active chat",
			zap.Int("users", len(tx.Users)),
			zap.Int("me", len(tx.Me)),
			zap.Int("messages", len(tx.Messages)))
		return
	}
	c.handleUserTransaction(tx.Users)
	c.handleMeTransaction(tx.Me)
	c.handleMessageTransaction(tx.Messages)
}

func (c *Controller) handleUserTransaction(events []protocol.UserEvent) {
	if len(events) == 0 {
		return
	}

	for _, evt := range events {
		switch e := evt.(type) {
		case protocol.AgentUpsert:
			agent, err := c.storage.UpsertAgent(e.Agent)
			if err != nil {
				c.logger.Error("failed to upsert agent", zap.Error(err), zap.Int64("agent_id", e.Agent.ID))
				continue
			}
			switch c.mode {
			case chat.ModeChannel:
				c.channelAgents[agent.ID] = *agent
			case chat.ModeChat:
				c.chatAgents[agent.ID] = *agent
			}
		case protocol.SwitchingDataReceivingMode:
			if c.mode == chat.ModeChannel {
				c.logger.Info("switching agent data to chat mode")
				c.mode = chat.ModeChat
			}
		}
	}

	chatAgents := sortedAgents(c.chatAgents)
	c.storeChatAgents(chatAgents, false)

	switch c.mode {
	case chat.ModeChannel:
		channelAgents := sortedAgents(c.channelAgents)
		c.emit(bus.ChatChannelAgentsUpdated, AgentsUpdated{Agents: channelAgents})
		if chat.HasActiveAgent(channelAgents) && c.contactFormWasShown() {
			c.releaseQueue()
		}
	case chat.ModeChat:
		if len(chatAgents) == 0 {
			break
		}
		c.emit(bus.ChatAgentsUpdated, AgentsUpdated{Agents: chatAgents})
		c.releaseQueue()
	}
}

// handleMeTransaction reacts to the end of the initial sync pass. It runs
// on every terminating meHistory, not once per session: contact info status
// may have changed between passes.
func (c *Controller) handleMeTransaction(events []protocol.MeEvent) {
	for _, evt := range events {
		e, ok := evt.(protocol.MeHistory)
		if !ok || e.Payload != nil {
			continue
		}

		st := c.detectContactInfoStatus()
		c.emit(bus.ChatContactInfoStatus, ContactInfoStatus{Status: st})
		if contactform.ShouldFlush(st) {
			c.releaseQueue()
		}

		c.syncState.Complete()
		c.lastKnownID = nil
		c.emit(bus.MessagesAllHistoryLoaded, nil)
		c.notifyUnreadCounter()
		return
	}
}

func (c *Controller) handleMessageTransaction(events []protocol.MessageEvent) {
	if len(events) == 0 {
		return
	}
	chatID := c.chat.ID
	c.syncState.MarkSynced()

	batch := newMessageBatch()
	for _, evt := range events {
		switch e := evt.(type) {
		case protocol.Received:
			c.syncState.ObserveInbound(e.ID)
			batch.add(c.upsertInbound(chatID, e.ID, e.PrivateID, store.MessageChange{
				ServerID:   e.ID,
				ClientID:   e.ClientID,
				AgentID:    e.AgentID,
				Text:       e.Text,
				Attachment: e.Attachment,
				Delivery:   chat.DeliverySent,
				Date:       e.SentAt,
			}))
			batch.addAll(c.catchUpSeen(e.ID))

			if c.syncState.ObserveReceived(e.ID, e.SentAt) && c.hasActiveChat {
				c.ack(e.ID, e.SentAt)
			}
		case protocol.Delivered:
			c.syncState.ObserveInbound(e.ID)
			batch.add(c.upsertInbound(chatID, e.ID, e.PrivateID, store.MessageChange{
				ServerID: e.ID,
				Delivery: chat.DeliveryDelivered,
			}))
			batch.addAll(c.catchUpSeen(e.ID))
		case protocol.Seen:
			batch.addAll(c.markMessagesAsSeen(e.ID))
		}
	}

	if len(batch.order) > 0 {
		c.emit(bus.MessagesUpserted, MessagesChanged{Messages: batch.messages()})
	}
}

// upsertInbound prefers the private id for echoes of our own messages so
// the server id lands on the existing local row.
func (c *Controller) upsertInbound(chatID, id int64, privateID string, change store.MessageChange) *chat.Message {
	var (
		m   *chat.Message
		err error
	)
	switch {
	case privateID != "":
		m, err = c.storage.UpsertMessageByLocalID(chatID, privateID, change)
	case id != 0:
		m, err = c.storage.UpsertMessageByID(chatID, id, change)
	default:
		c.logger.Warn("dropping message event without id")
		return nil
	}
	if err != nil {
		c.logger.Error("failed to upsert message", zap.Error(err), zap.Int64("id", id), zap.String("private_id", privateID))
		return nil
	}
	return m
}

// catchUpSeen handles a seen watermark that arrived before the message
// body it points at.
func (c *Controller) catchUpSeen(id int64) []chat.Message {
	if id == 0 {
		return nil
	}
	lastSeen, err := c.prefs.LastSeenMessageID(c.identity.ClientToken)
	if err != nil {
		c.logger.Error("failed to read seen watermark", zap.Error(err))
		return nil
	}
	if lastSeen == nil || *lastSeen != id {
		return nil
	}
	return c.markMessagesAsSeen(id)
}

func (c *Controller) markMessagesAsSeen(id int64) []chat.Message {
	if err := c.prefs.SetLastSeenMessageID(c.identity.ClientToken, id); err != nil {
		c.logger.Error("failed to persist seen watermark", zap.Error(err))
	}
	if c.chat == nil {
		return nil
	}
	seen, err := c.storage.MarkMessagesAsSeen(c.chat.ID, id)
	if err != nil {
		c.logger.Error("failed to mark messages seen", zap.Error(err), zap.Int64("upto", id))
		return nil
	}
	return seen
}

// messageBatch collects the rows touched by one transaction, keyed by row
// so the merged notification carries each message once, last write wins.
type messageBatch struct {
	order []string
	rows  map[string]chat.Message
}

func newMessageBatch() *messageBatch {
	return &messageBatch{rows: make(map[string]chat.Message)}
}

func (b *messageBatch) add(m *chat.Message) {
	if m == nil {
		return
	}
	if _, ok := b.rows[m.UUID]; !ok {
		b.order = append(b.order, m.UUID)
	}
	b.rows[m.UUID] = *m
}

func (b *messageBatch) addAll(msgs []chat.Message) {
	for i := range msgs {
		b.add(&msgs[i])
	}
}

func (b *messageBatch) messages() []chat.Message {
	out := make([]chat.Message, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.rows[id])
	}
	return out
}

func sortedAgents(set map[int64]chat.Agent) []chat.Agent {
	return slices.SortedFunc(maps.Values(set), func(a, b chat.Agent) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
