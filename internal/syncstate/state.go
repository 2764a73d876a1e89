// Package syncstate tracks history replay progress for the active chat.
package syncstate

import (
	"math"
	"time"
)

// Activity is the history replay progress marker.
type Activity string

const (
	Initial   Activity = "initial"
	Requested Activity = "requested"
	Synced    Activity = "synced"
)

// Behavior selects how a history request treats already-synced ranges.
type Behavior string

const (
	Force     Behavior = "force"
	Actualize Behavior = "actualize"
)

// ParseBehavior maps a wire string to a Behavior.
func ParseBehavior(s string) (Behavior, bool) {
	switch Behavior(s) {
	case Force, Actualize:
		return Behavior(s), true
	}
	return "", false
}

// State is the per-session sync state. The zero value is not ready for
// use; call New.
type State struct {
	Activity          Activity
	EarliestMessageID int64
	LatestMessageID   int64
	LatestMessageDate time.Time

	// settled is the activity an abandoned request falls back to.
	settled Activity
}

// New returns the default state: nothing requested, no watermarks.
func New() State {
	return State{
		Activity:          Initial,
		EarliestMessageID: math.MaxInt64,
		LatestMessageID:   math.MinInt64,
		settled:           Initial,
	}
}

// Request decides whether a history fetch should be issued for the given
// boundary. It returns the id to fetch from (nil = newest) and whether a
// fetch is needed at all. A request in flight suppresses every other.
func (s *State) Request(before *int64, behavior Behavior) (*int64, bool) {
	if s.Activity == Requested {
		return nil, false
	}

	switch behavior {
	case Force:
		s.Activity = Requested
		s.EarliestMessageID = math.MaxInt64
		return before, true
	case Actualize:
		if s.Activity != Synced || before == nil || *before > s.EarliestMessageID {
			return nil, false
		}
		s.Activity = Requested
		from := max(s.EarliestMessageID, *before)
		return &from, true
	}
	return nil, false
}

// ObserveInbound lowers the earliest watermark to id.
func (s *State) ObserveInbound(id int64) {
	s.EarliestMessageID = min(s.EarliestMessageID, id)
}

// ObserveReceived raises the latest watermark. It reports whether id was
// newer than anything seen before.
func (s *State) ObserveReceived(id int64, sentAt time.Time) bool {
	if id <= s.LatestMessageID {
		return false
	}
	s.LatestMessageID = id
	s.LatestMessageDate = sentAt
	return true
}

// HasLatest reports whether any inbound message was observed.
func (s *State) HasLatest() bool {
	return s.LatestMessageID > math.MinInt64
}

// MarkSynced records that a history response arrived.
func (s *State) MarkSynced() {
	s.Activity = Synced
	s.settled = Synced
}

// Abandon gives up on a request whose response will never arrive, so the
// next request is not suppressed by it.
func (s *State) Abandon() {
	if s.Activity == Requested {
		s.Activity = s.settled
	}
}

// Complete finishes a full history round-trip: no lower bound is needed
// any more.
func (s *State) Complete() {
	s.EarliestMessageID = math.MinInt64
	s.Activity = Synced
	s.settled = Synced
}
