package engine

import (
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/contactform"
)

// Payloads published on the bus. Kinds live in package bus.

// SessionInitialized fires on every socket open. IsFirst is true once per
// process lifetime, and again after a full teardown.
type SessionInitialized struct {
	IsFirst bool
}

// ChatObtained carries the resolved chat.
type ChatObtained struct {
	Chat chat.Chat
}

// AgentsUpdated carries the full current channel or chat agent set.
type AgentsUpdated struct {
	Agents []chat.Agent
}

// ReplyingDisabled gates UI input with a localized reason.
type ReplyingDisabled struct {
	Reason string
}

// MediaUploadFailure reports one failed attachment upload.
type MediaUploadFailure struct {
	Err *chat.UploadError
}

// MessagesChanged is the merged notification for a batch of message rows.
type MessagesChanged struct {
	Messages []chat.Message
}

// ContactInfoStatus reports the derived contact info status.
type ContactInfoStatus struct {
	Status contactform.Status
}

// UnreadCounter reports whether the chat has unread messages (0 or 1).
type UnreadCounter struct {
	Number int
}
