// Package contactform decides when the in-chat contact form is offered
// and whether it blocks sending.
package contactform

import (
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
)

// Behavior is what the outgoing pipeline does with the contact form when
// the client sends a text message.
type Behavior string

const (
	Omit     Behavior = "omit"
	Blocking Behavior = "blocking"
	Regular  Behavior = "regular"
)

// Status is the contact info status reported to observers.
type Status string

const (
	StatusOmit        Status = "omit"
	StatusAskRequired Status = "ask_required"
	StatusAskDesired  Status = "ask_desired"
	StatusSent        Status = "sent"
)

// Inputs is everything the derivation depends on.
type Inputs struct {
	EverSent      bool
	ShownAt       *time.Time
	Mode          chat.DataReceivingMode
	ChannelAgents []chat.Agent
}

// DecideBehavior returns the form behavior for the next outgoing text.
// The form is offered at most once: once shown or sent it is omitted.
func DecideBehavior(in Inputs) Behavior {
	if in.ShownAt != nil || in.EverSent {
		return Omit
	}
	switch in.Mode {
	case chat.ModeChat:
		return Omit
	default:
		if chat.HasActiveAgent(in.ChannelAgents) {
			return Regular
		}
		return Blocking
	}
}

// DetectStatus derives the contact info status. hasHistory reports whether
// the chat has at least one stored message.
func DetectStatus(in Inputs, hasHistory bool) Status {
	if !hasHistory {
		return StatusOmit
	}
	if in.EverSent {
		return StatusSent
	}
	if in.ShownAt == nil {
		return StatusOmit
	}
	if in.Mode == chat.ModeChannel && !chat.HasActiveAgent(in.ChannelAgents) {
		return StatusAskRequired
	}
	return StatusAskDesired
}

// ShouldFlush reports whether queued messages may be released for status.
func ShouldFlush(s Status) bool {
	return s != StatusAskRequired
}
