package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/contactform"
	"github.com/matheus3301/helpchat/internal/locale"
	"github.com/matheus3301/helpchat/internal/store"
	"go.uber.org/zap"
)

// SendMessage stores a text message and uploads attachments. Nothing is
// accepted while queued messages wait for the contact form.
func (c *Controller) SendMessage(text string, attachments []chat.PendingAttachment) {
	c.submit(func() { c.sendMessage(text, attachments) })
}

func (c *Controller) sendMessage(text string, attachments []chat.PendingAttachment) {
	if c.chat == nil {
		c.logger.Info("cannot send message: no active chat")
		return
	}
	queued, err := c.storage.QueuedMessages(c.chat.ID)
	if err != nil {
		c.logger.Error("failed to read queued messages", zap.Error(err))
		return
	}
	if len(queued) > 0 {
		c.logger.Info("message rejected: queued messages pending", zap.Int("queued", len(queued)))
		return
	}

	c.sendText(strings.TrimSpace(text))
	c.sendAttachments(attachments)
}

func (c *Controller) sendText(text string) {
	if text == "" {
		c.logger.Debug("not sending empty text")
		return
	}

	behavior := contactform.DecideBehavior(c.contactInputs())
	out := store.OutgoingMessage{
		LocalID:  uuid.NewString(),
		ClientID: c.identity.ClientHash,
		ChatID:   c.chat.ID,
		Type:     chat.TypeMessage,
		Text:     text,
		Timing:   chat.TimingRegular,
	}
	if behavior == contactform.Blocking {
		out.Status = chat.StatusQueued
		out.Timing = chat.TimingFrozen
	}
	m, err := c.storage.StoreOutgoingMessage(out)
	if err != nil {
		c.logger.Error("failed to store outgoing message", zap.Error(err))
		return
	}
	c.emit(bus.MessagesSending, MessagesChanged{Messages: []chat.Message{*m}})
	c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{*m}})
	if m.Status != chat.StatusQueued {
		c.wakeSender()
	}

	switch behavior {
	case contactform.Omit:
	case contactform.Regular:
		c.appendContactForm(locale.KeyIntroduceInChat)
	case contactform.Blocking:
		if c.appendContactForm(locale.KeyMustFill) {
			c.emit(bus.ChatReplyingDisabled, ReplyingDisabled{Reason: c.localize(locale.KeyContactInfoReason)})
		}
	}
}

// appendContactForm stores the explanatory system message and the inactive
// form on its reserved id. It reports whether the form was stored.
func (c *Controller) appendContactForm(systemKey string) bool {
	system, err := c.storage.StoreOutgoingMessage(store.OutgoingMessage{
		LocalID:  uuid.NewString(),
		ClientID: c.identity.ClientHash,
		ChatID:   c.chat.ID,
		Type:     chat.TypeSystem,
		Text:     c.localize(systemKey),
		Status:   chat.StatusHistoric,
		Timing:   chat.TimingRegular,
	})
	if err != nil {
		c.logger.Error("failed to store contact form notice", zap.Error(err))
	} else {
		c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{*system}})
	}

	form, err := c.storage.StoreOutgoingMessage(store.OutgoingMessage{
		LocalID:  chat.ContactFormLocalID,
		ClientID: c.identity.ClientHash,
		ChatID:   c.chat.ID,
		Type:     chat.TypeContactForm,
		Form:     &chat.ContactForm{Status: chat.FormInactive},
		Timing:   chat.TimingRegular,
	})
	if err != nil {
		c.logger.Error("failed to store contact form", zap.Error(err))
		return false
	}
	if err := c.prefs.SetContactInfoWasShownAt(time.Now()); err != nil {
		c.logger.Error("failed to persist contact form shown time", zap.Error(err))
	}
	c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{*form}})
	return true
}

func (c *Controller) sendAttachments(files []chat.PendingAttachment) {
	if len(files) == 0 {
		return
	}
	if c.uploader == nil {
		c.logger.Warn("dropping attachments: no uploader configured")
		return
	}
	creds, ok := c.uploadCredentials()
	if !ok {
		c.logger.Info("cannot send attachments: no credentials")
		return
	}

	c.emit(bus.ChatAttachmentsStarted, nil)
	c.uploads.Add(1)
	ctx := c.ctx
	go func() {
		defer c.uploads.Done()
		results := c.uploader.Upload(ctx, creds, files)
		c.submit(func() {
			for _, r := range results {
				c.handleUploadResult(r)
			}
			c.emit(bus.ChatAttachmentsSucceeded, nil)
		})
	}()
}

func (c *Controller) uploadCredentials() (chat.UploadCredentials, bool) {
	if c.account == nil || c.account.ClientID == "" || c.account.ChannelID == "" || c.account.SiteID == 0 {
		return chat.UploadCredentials{}, false
	}
	return chat.UploadCredentials{
		ClientID:  c.account.ClientID,
		ChannelID: c.account.ChannelID,
		SiteID:    c.account.SiteID,
	}, true
}

func (c *Controller) handleUploadResult(r chat.UploadResult) {
	if r.Err != nil {
		var uerr *chat.UploadError
		if !errors.As(r.Err, &uerr) {
			uerr = &chat.UploadError{Kind: chat.UploadUnknown, Reason: r.Err.Error()}
		}
		c.logger.Info("attachment upload failed", zap.Error(uerr))
		c.emit(bus.ChatMediaUploadFailure, MediaUploadFailure{Err: uerr})
		return
	}

	if r.Attachment == nil || c.chat == nil {
		c.failUnhandleable()
		return
	}
	m, err := c.storage.StoreOutgoingMessage(store.OutgoingMessage{
		LocalID:    uuid.NewString(),
		ClientID:   c.identity.ClientHash,
		ChatID:     c.chat.ID,
		Type:       chat.TypeMessage,
		Attachment: r.Attachment,
		Timing:     chat.TimingRegular,
	})
	if err != nil {
		c.logger.Error("failed to store media message", zap.Error(err))
		c.failUnhandleable()
		return
	}
	c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{*m}})
	c.wakeSender()
}

func (c *Controller) failUnhandleable() {
	c.emit(bus.ChatMediaUploadFailure, MediaUploadFailure{Err: &chat.UploadError{Kind: chat.UploadUnhandleableResult}})
}

// ResendMessage puts a failed message back in the outbox. Queued messages
// wait for the contact form and are only released by it.
func (c *Controller) ResendMessage(localID string) {
	c.submit(func() { c.resendMessage(localID) })
}

func (c *Controller) resendMessage(localID string) {
	m := c.messageByLocalID(localID)
	if m == nil {
		return
	}
	resent, err := c.storage.ResendMessage(m.UUID)
	if err != nil {
		c.logger.Error("failed to resend message", zap.Error(err), zap.String("local_id", localID))
		return
	}
	if resent == nil {
		c.logger.Info("message not resendable",
			zap.String("local_id", localID),
			zap.String("status", string(m.Status)),
			zap.String("delivery", string(m.Delivery)))
		return
	}
	c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{*resent}})
	c.emit(bus.MessagesResend, MessagesChanged{Messages: []chat.Message{*resent}})
	c.wakeSender()
}

// DeleteMessage removes a message.
func (c *Controller) DeleteMessage(localID string) {
	c.submit(func() { c.deleteMessage(localID) })
}

func (c *Controller) deleteMessage(localID string) {
	m := c.messageByLocalID(localID)
	if m == nil {
		return
	}
	if err := c.storage.DeleteMessage(m.UUID); err != nil {
		c.logger.Error("failed to delete message", zap.Error(err), zap.String("local_id", localID))
		return
	}
	c.emit(bus.MessagesRemoved, MessagesChanged{Messages: []chat.Message{*m}})
}

func (c *Controller) messageByLocalID(localID string) *chat.Message {
	m, err := c.storage.MessageByLocalID(localID)
	if err != nil {
		c.logger.Error("failed to look up message", zap.Error(err), zap.String("local_id", localID))
		return nil
	}
	if m == nil {
		c.logger.Info("cannot find message", zap.String("local_id", localID))
	}
	return m
}

// SendTyping forwards live-typing text.
func (c *Controller) SendTyping(text string) {
	c.submit(func() { c.transport.SendTyping(text) })
}

// ToggleContactForm makes the contact form editable.
func (c *Controller) ToggleContactForm(messageUUID string) {
	c.submit(func() { c.toggleContactForm(messageUUID) })
}

func (c *Controller) toggleContactForm(messageUUID string) {
	m, err := c.storage.TurnContactForm(messageUUID, chat.FormEditable, nil)
	if err != nil {
		c.logger.Error("failed to toggle contact form", zap.Error(err))
		return
	}
	if m == nil {
		c.logger.Info("cannot find contact form", zap.String("uuid", messageUUID))
		return
	}
	c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{*m}})
}

// SubmitContactInfo records the client's contact info, snapshots it onto
// the form and releases queued messages.
func (c *Controller) SubmitContactInfo(info chat.ContactInfo) {
	c.submit(func() { c.submitContactInfo(info) })
}

func (c *Controller) submitContactInfo(info chat.ContactInfo) {
	c.flushContactForm(info)
	if err := c.prefs.SetContactInfoWasEverSent(true); err != nil {
		c.logger.Error("failed to persist contact info flag", zap.Error(err))
	}
	c.transport.SendContactInfo(info)
	c.flushQueuedMessages()
	c.emit(bus.ChatReplyingEnabled, nil)
}

func (c *Controller) flushContactForm(info chat.ContactInfo) {
	if c.chat == nil {
		return
	}
	form, err := c.storage.MessageByLocalID(chat.ContactFormLocalID)
	if err != nil || form == nil {
		c.logger.Info("no contact form to snapshot", zap.Error(err))
		return
	}
	m, err := c.storage.TurnContactForm(form.UUID, chat.FormSnapshot, &info)
	if err != nil || m == nil {
		c.logger.Error("failed to snapshot contact form", zap.Error(err))
		return
	}
	c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{*m}})
}

// flushQueuedMessages releases every queued message and appends one
// confirmation. It reports whether anything was queued.
func (c *Controller) flushQueuedMessages() bool {
	ch := c.chat
	if ch == nil {
		return false
	}
	queued, err := c.storage.QueuedMessages(ch.ID)
	if err != nil {
		c.logger.Error("failed to read queued messages", zap.Error(err))
		return false
	}
	if len(queued) == 0 {
		return false
	}

	batch := newMessageBatch()
	for _, q := range queued {
		m, err := c.storage.ReleaseQueuedMessage(q.UUID)
		if err != nil {
			c.logger.Error("failed to release queued message", zap.Error(err), zap.String("uuid", q.UUID))
			continue
		}
		batch.add(m)
	}

	system, err := c.storage.StoreOutgoingMessage(store.OutgoingMessage{
		LocalID:  uuid.NewString(),
		ClientID: c.identity.ClientHash,
		ChatID:   ch.ID,
		Type:     chat.TypeSystem,
		Text:     c.localize(locale.KeyContactFormSent),
		Timing:   chat.TimingRegular,
	})
	if err != nil {
		c.logger.Error("failed to store contact form confirmation", zap.Error(err))
	} else {
		batch.add(system)
	}

	c.logger.Info("released queued messages", zap.Int("count", len(queued)))
	c.emit(bus.MessagesUpserted, MessagesChanged{Messages: batch.messages()})
	c.wakeSender()
	return true
}

// releaseQueue flushes and lifts the input gate when something was queued.
func (c *Controller) releaseQueue() {
	if c.flushQueuedMessages() {
		c.emit(bus.ChatReplyingEnabled, nil)
	}
}

func (c *Controller) contactInputs() contactform.Inputs {
	in := contactform.Inputs{
		Mode:          c.mode,
		ChannelAgents: sortedAgents(c.channelAgents),
	}
	var err error
	if in.EverSent, err = c.prefs.ContactInfoWasEverSent(); err != nil {
		c.logger.Error("failed to read contact info flag", zap.Error(err))
	}
	if in.ShownAt, err = c.prefs.ContactInfoWasShownAt(); err != nil {
		c.logger.Error("failed to read contact form shown time", zap.Error(err))
	}
	return in
}

func (c *Controller) contactFormWasShown() bool {
	shownAt, err := c.prefs.ContactInfoWasShownAt()
	if err != nil {
		c.logger.Error("failed to read contact form shown time", zap.Error(err))
	}
	return shownAt != nil
}

func (c *Controller) detectContactInfoStatus() contactform.Status {
	chatID := c.identity.ChatID()
	if chatID == 0 {
		return contactform.StatusOmit
	}
	last, err := c.storage.LastMessage(chatID)
	if err != nil {
		c.logger.Error("failed to read last message", zap.Error(err))
	}
	return contactform.DetectStatus(c.contactInputs(), last != nil)
}

// InformContactInfoStatus broadcasts the current contact info status.
func (c *Controller) InformContactInfoStatus() {
	c.submit(func() {
		c.emit(bus.ChatContactInfoStatus, ContactInfoStatus{Status: c.detectContactInfoStatus()})
	})
}

// HasMessagesInQueue reports whether messages wait for the contact form.
func (c *Controller) HasMessagesInQueue(ctx context.Context) (bool, error) {
	var queued bool
	err := c.call(ctx, func() { queued = c.hasMessagesInQueue() })
	return queued, err
}

func (c *Controller) hasMessagesInQueue() bool {
	chatID := c.identity.ChatID()
	if chatID == 0 {
		return false
	}
	queued, err := c.storage.QueuedMessages(chatID)
	if err != nil {
		c.logger.Error("failed to read queued messages", zap.Error(err))
		return false
	}
	return len(queued) > 0
}

// InactivityPlaceholder returns the reason input is gated, or "".
func (c *Controller) InactivityPlaceholder(ctx context.Context) (string, error) {
	var reason string
	err := c.call(ctx, func() {
		everSent, err := c.prefs.ContactInfoWasEverSent()
		if err != nil {
			c.logger.Error("failed to read contact info flag", zap.Error(err))
		}
		if everSent || !c.hasMessagesInQueue() {
			return
		}
		reason = c.localize(locale.KeyContactInfoReason)
	})
	return reason, err
}

// MessageSent re-broadcasts a message the outbox transmitted.
func (c *Controller) MessageSent(m chat.Message) {
	c.submit(func() {
		c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{m}})
	})
}

// MessageSendingFailed re-broadcasts a message whose transmission failed.
func (c *Controller) MessageSendingFailed(m chat.Message) {
	c.submit(func() {
		c.logger.Info("message sending failed", zap.String("uuid", m.UUID), zap.String("reason", m.Failure))
		c.emit(bus.MessagesUpserted, MessagesChanged{Messages: []chat.Message{m}})
	})
}
