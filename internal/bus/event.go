package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix ("chat.", "messages.", "session.").
const (
	SessionStatusChanged = "session.status_changed"

	ChatSessionInitialized   = "chat.session_initialized"
	ChatObtained             = "chat.obtained"
	ChatAgentsUpdated        = "chat.agents_updated"
	ChatChannelAgentsUpdated = "chat.channel_agents_updated"
	ChatAttachmentsStarted   = "chat.attachments_started"
	ChatAttachmentsSucceeded = "chat.attachments_succeeded"
	ChatMediaUploadFailure   = "chat.media_upload_failure"
	ChatReplyingEnabled      = "chat.replying_enabled"
	ChatReplyingDisabled     = "chat.replying_disabled"
	ChatContactInfoStatus    = "chat.contact_info_status"
	ChatUnreadCounter        = "chat.unread_counter"

	MessagesUpserted         = "messages.upserted"
	MessagesRemoved          = "messages.removed"
	MessagesSending          = "messages.sending"
	MessagesResend           = "messages.resend"
	MessagesHistoryLoaded    = "messages.history_loaded"
	MessagesHistoryErased    = "messages.history_erased"
	MessagesAllHistoryLoaded = "messages.all_history_loaded"
)

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
