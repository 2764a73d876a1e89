// Package typing keeps unsent input drafts, persisted to a JSON file.
package typing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Kind is what a draft belongs to.
type Kind string

const (
	KindChat  Kind = "chat"
	KindAgent Kind = "agent"
)

// Context identifies a draft.
type Context struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// ChatContext is the draft context of a chat.
func ChatContext(chatID int64) Context {
	return Context{Kind: KindChat, ID: chatID}
}

// Draft is the saved input of one context.
type Draft struct {
	Context     Context  `json:"context"`
	Text        string   `json:"text,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

func (d Draft) empty() bool {
	return d.Text == "" && len(d.Attachments) == 0
}

// ErrTooManyAttachments is returned when a draft exceeds the attachment limit.
var ErrTooManyAttachments = errors.New("typing: too many attachments")

// Cache is the draft store. It is safe for concurrent use.
type Cache struct {
	path            string
	attachmentLimit int

	mu     sync.Mutex
	drafts []Draft
}

// Open loads the drafts at path. A missing file is an empty cache.
func Open(path string, attachmentLimit int) (*Cache, error) {
	c := &Cache{path: path, attachmentLimit: attachmentLimit}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read drafts: %w", err)
	}
	if err := json.Unmarshal(data, &c.drafts); err != nil {
		return nil, fmt.Errorf("parse drafts: %w", err)
	}
	return c, nil
}

// Save stores the draft for its context. An empty draft removes it.
func (c *Cache) Save(d Draft) error {
	d.Text = strings.TrimSpace(d.Text)
	if c.attachmentLimit > 0 && len(d.Attachments) > c.attachmentLimit {
		return ErrTooManyAttachments
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(d.Context)
	switch {
	case i >= 0 && d.empty():
		c.drafts = slices.Delete(c.drafts, i, i+1)
	case i >= 0:
		if c.drafts[i].Text == d.Text && slices.Equal(c.drafts[i].Attachments, d.Attachments) {
			return nil
		}
		c.drafts[i] = d
	case d.empty():
		return nil
	default:
		c.drafts = append(c.drafts, d)
	}
	return c.flush()
}

// Draft returns the saved draft for ctx.
func (c *Cache) Draft(ctx Context) (Draft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(ctx); i >= 0 {
		return c.drafts[i], true
	}
	return Draft{}, false
}

// ResetInput drops the chat's draft.
func (c *Cache) ResetInput(chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.index(ChatContext(chatID))
	if i < 0 {
		return nil
	}
	c.drafts = slices.Delete(c.drafts, i, i+1)
	return c.flush()
}

func (c *Cache) index(ctx Context) int {
	return slices.IndexFunc(c.drafts, func(d Draft) bool { return d.Context == ctx })
}

// flush writes the drafts atomically. Callers hold mu.
func (c *Cache) flush() error {
	data, err := json.Marshal(c.drafts)
	if err != nil {
		return fmt.Errorf("encode drafts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create drafts dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".drafts-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write drafts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close drafts: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace drafts: %w", err)
	}
	return nil
}
