package engine

import (
	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/protocol"
	"github.com/matheus3301/helpchat/internal/status"
	"github.com/matheus3301/helpchat/internal/syncstate"
	"go.uber.org/zap"
)

// HandleSessionEvent implements protocol.Handler.
func (c *Controller) HandleSessionEvent(evt protocol.SessionEvent) {
	c.submit(func() { c.handleSessionEvent(evt) })
}

func (c *Controller) handleSessionEvent(evt protocol.SessionEvent) {
	switch e := evt.(type) {
	case protocol.ConnectionConfig:
		c.handleConnectionConfig(e)
	case protocol.SocketOpen:
		c.handleSocketOpened()
	case protocol.SocketClose:
		c.handleSocketClosed(e)
	case protocol.RecentActivity:
		c.handleRecentActivity(e)
	}
}

func (c *Controller) handleConnectionConfig(e protocol.ConnectionConfig) {
	c.account = &e
	if e.SiteID == 0 || e.ClientID == "" || c.identity.ChatID() == 0 {
		return
	}
	c.transport.RequestRecentActivity(e.SiteID, e.ChannelID, e.ClientID)
}

func (c *Controller) handleSocketOpened() {
	if c.resolveChat() == nil {
		c.logger.Info("socket opened without a chat")
	}
	c.mode = chat.ModeChannel
	clear(c.channelAgents)
	clear(c.chatAgents)
	c.storeChatAgents(nil, true)

	c.requestMessageHistory(nil, syncstate.Force)

	isFirst := c.isFirstInit
	c.isFirstInit = false
	c.emit(bus.ChatSessionInitialized, SessionInitialized{IsFirst: isFirst})
	c.emit(bus.ChatChannelAgentsUpdated, AgentsUpdated{})
	c.emit(bus.ChatAgentsUpdated, AgentsUpdated{})

	c.presence.reactToActiveConnection()
	c.wakeSender()
	c.enterStatus(status.Active)
}

func (c *Controller) handleSocketClosed(e protocol.SocketClose) {
	c.logger.Info("socket closed", zap.Int("code", e.Code), zap.Error(e.Err))
	c.mode = chat.ModeChannel
	// The response to an in-flight request cannot arrive on the next socket.
	c.syncState.Abandon()
	c.presence.reactToInactiveConnection()
	c.enterStatus(status.Inactive)
}

func (c *Controller) handleRecentActivity(e protocol.RecentActivity) {
	id := e.LatestMessageID
	c.lastKnownID = &id
	c.notifyUnreadCounter()
}

// TurnActive is called when the host brings the session to the foreground.
func (c *Controller) TurnActive() {
	c.submit(c.handleTurnActive)
}

func (c *Controller) handleTurnActive() {
	c.unread = 0
	c.notifyUnreadCounter()
}

// TurnInactive resets the given subsystems. SubsystemArtifacts wipes every
// piece of per-chat state, stored history included.
func (c *Controller) TurnInactive(subsystems Subsystem) {
	c.submit(func() { c.handleTurnInactive(subsystems) })
}

func (c *Controller) handleTurnInactive(subsystems Subsystem) {
	if subsystems.Has(SubsystemConnection) {
		c.presence.reactToInactiveConnection()
	}
	if !subsystems.Has(SubsystemArtifacts) {
		return
	}

	var chatID int64
	if c.chat != nil {
		chatID = c.chat.ID
	}

	c.isFirstInit = true
	c.mode = chat.ModeChannel
	clear(c.chatAgents)
	clear(c.channelAgents)
	c.syncState = syncstate.New()
	c.ackedID = 0
	c.lastKnownID = nil
	c.emit(bus.MessagesHistoryErased, nil)
	c.emit(bus.ChatAgentsUpdated, AgentsUpdated{})

	if c.typing != nil {
		if err := c.typing.ResetInput(chatID); err != nil {
			c.logger.Error("failed to reset typing draft", zap.Error(err))
		}
	}
	c.chat = nil
	if err := c.storage.DeleteAllMessages(); err != nil {
		c.logger.Error("failed to erase history", zap.Error(err))
	}
	if err := c.prefs.Erase(); err != nil {
		c.logger.Error("failed to erase contact info flags", zap.Error(err))
	}

	c.unread = 0
	c.notifyUnreadCounter()
}

// RestoreChat resolves the chat (creating it if needed) and replays its
// stored history and agents to observers.
func (c *Controller) RestoreChat() {
	c.submit(c.restoreChat)
}

func (c *Controller) restoreChat() {
	ch := c.resolveChat()
	if ch == nil {
		return
	}
	c.logger.Info("found active chat", zap.Int64("chat_id", ch.ID))

	history, err := c.storage.History(ch.ID, nil)
	if err != nil {
		c.logger.Error("failed to load history", zap.Error(err), zap.Int64("chat_id", ch.ID))
	}
	c.emit(bus.MessagesHistoryLoaded, MessagesChanged{Messages: history})
	c.emit(bus.ChatObtained, ChatObtained{Chat: *ch})

	for _, a := range ch.Agents {
		c.chatAgents[a.ID] = a
	}
	c.emit(bus.ChatAgentsUpdated, AgentsUpdated{Agents: ch.Agents})
}

// MakeAllAgentsOffline resets every stored agent's presence.
func (c *Controller) MakeAllAgentsOffline() {
	c.submit(func() {
		if _, err := c.storage.MakeAllAgentsOffline(); err != nil {
			c.logger.Error("failed to mark agents offline", zap.Error(err))
		}
	})
}

// resolveChat returns the session's chat, loading or creating it when the
// session has none. Only restore and socket open resolve: after a teardown
// everything else sees no chat until then, so late traffic for the old
// session is dropped.
func (c *Controller) resolveChat() *chat.Chat {
	if c.chat != nil {
		return c.chat
	}
	chatID := c.identity.ChatID()
	if chatID == 0 {
		c.logger.Info("cannot obtain chat: no client token")
		return nil
	}

	ch, err := c.storage.ChatWithID(chatID)
	if err != nil {
		c.logger.Error("failed to read chat", zap.Error(err), zap.Int64("chat_id", chatID))
		return nil
	}
	if ch == nil {
		ch, err = c.storage.CreateChat(chatID)
		if err != nil {
			c.logger.Error("failed to create chat", zap.Error(err), zap.Int64("chat_id", chatID))
			return nil
		}
	}
	c.chat = ch
	return ch
}

func (c *Controller) storeChatAgents(agents []chat.Agent, exclusive bool) {
	ch := c.chat
	if ch == nil {
		return
	}
	ids := make([]int64, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	updated, err := c.storage.StoreChatAgents(ch.ID, ids, exclusive)
	if err != nil {
		c.logger.Error("failed to store chat agents", zap.Error(err), zap.Int64("chat_id", ch.ID))
		return
	}
	if updated != nil && ch.ID == updated.ID {
		ch.Agents = updated.Agents
	}
}
