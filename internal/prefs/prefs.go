// Package prefs persists the small amount of per-profile state the chat
// engine needs across restarts: contact form flags and the last-seen
// watermark.
package prefs

import (
	"fmt"
	"strconv"
	"time"
)

const (
	keyContactInfoEverSent = "contact_info_was_ever_sent"
	keyContactInfoShownAt  = "contact_info_was_shown_at"
	keyLastSeenPrefix      = "last_seen_message_id:"
)

// KV is the key/value table the preferences live in.
type KV interface {
	SetValue(key, value string) error
	Value(key string) (string, bool, error)
	DeleteValue(key string) error
}

// Prefs reads and writes persisted flags.
type Prefs struct {
	kv KV
}

// New creates preferences backed by kv.
func New(kv KV) *Prefs {
	return &Prefs{kv: kv}
}

// ContactInfoWasEverSent reports whether contact info was submitted.
func (p *Prefs) ContactInfoWasEverSent() (bool, error) {
	v, ok, err := p.kv.Value(keyContactInfoEverSent)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}

// SetContactInfoWasEverSent persists the submission flag.
func (p *Prefs) SetContactInfoWasEverSent(sent bool) error {
	return p.kv.SetValue(keyContactInfoEverSent, strconv.FormatBool(sent))
}

// ContactInfoWasShownAt returns when the form was first shown, or nil.
func (p *Prefs) ContactInfoWasShownAt() (*time.Time, error) {
	v, ok, err := p.kv.Value(keyContactInfoShownAt)
	if err != nil || !ok {
		return nil, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", keyContactInfoShownAt, err)
	}
	t := time.UnixMilli(ms)
	return &t, nil
}

// SetContactInfoWasShownAt persists the time the form was shown.
func (p *Prefs) SetContactInfoWasShownAt(t time.Time) error {
	return p.kv.SetValue(keyContactInfoShownAt, strconv.FormatInt(t.UnixMilli(), 10))
}

// LastSeenMessageID returns the last-seen watermark for a client identity.
func (p *Prefs) LastSeenMessageID(clientID string) (*int64, error) {
	v, ok, err := p.kv.Value(keyLastSeenPrefix + clientID)
	if err != nil || !ok {
		return nil, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last seen id: %w", err)
	}
	return &id, nil
}

// SetLastSeenMessageID persists the watermark for a client identity.
func (p *Prefs) SetLastSeenMessageID(clientID string, id int64) error {
	return p.kv.SetValue(keyLastSeenPrefix+clientID, strconv.FormatInt(id, 10))
}

// Erase drops the contact form flags. Last-seen watermarks belong to the
// client identity and survive.
func (p *Prefs) Erase() error {
	for _, key := range []string{keyContactInfoEverSent, keyContactInfoShownAt} {
		if err := p.kv.DeleteValue(key); err != nil {
			return fmt.Errorf("erase %s: %w", key, err)
		}
	}
	return nil
}
