// Package outbox transmits stored outgoing messages.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/protocol"
	"go.uber.org/zap"
)

const (
	pollInterval = 500 * time.Millisecond
	batchSize    = 50
)

// Store is the slice of the storage gateway the sender needs.
type Store interface {
	PendingOutgoing(limit int) ([]chat.Message, error)
	MarkMessageSent(id string) error
	MarkMessageFailed(id, reason string) error
	MessageByUUID(id string) (*chat.Message, error)
}

// MessageSender puts a message on the wire. It returns
// protocol.ErrNotConnected while the socket is down.
type MessageSender interface {
	SendMessage(ctx context.Context, m chat.Message) error
}

// Listener is told about transmission outcomes.
type Listener interface {
	MessageSent(m chat.Message)
	MessageSendingFailed(m chat.Message)
}

// Sender drains the outbox: every pending client message is transmitted
// once, in order. Failed rows stay failed until resent.
type Sender struct {
	store    Store
	sender   MessageSender
	listener Listener
	logger   *zap.Logger
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender. listener may be nil.
func NewSender(st Store, sender MessageSender, listener Listener, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		store:    st,
		sender:   sender,
		listener: listener,
		logger:   logger.Named("outbox"),
		wake:     make(chan struct{}, 1),
	}
}

// SetListener replaces the outcome listener. Call it before Start.
func (s *Sender) SetListener(l Listener) {
	s.listener = l
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Wake makes the loop look at the outbox now instead of on its next tick.
func (s *Sender) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.wake:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.store.PendingOutgoing(batchSize)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			return
		}
		err := s.sender.SendMessage(ctx, m)
		if errors.Is(err, protocol.ErrNotConnected) {
			s.logger.Debug("socket down, deferring outbox", zap.Int("pending", len(pending)))
			return
		}
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("uuid", m.UUID))
			if err := s.store.MarkMessageFailed(m.UUID, err.Error()); err != nil {
				s.logger.Error("failed to mark failed", zap.Error(err), zap.String("uuid", m.UUID))
				continue
			}
			s.notify(m.UUID, false)
			continue
		}

		if err := s.store.MarkMessageSent(m.UUID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("uuid", m.UUID))
			continue
		}
		s.logger.Info("message sent", zap.String("uuid", m.UUID), zap.String("local_id", m.LocalID))
		s.notify(m.UUID, true)
	}
}

// notify reloads the row so listeners see the stored state.
func (s *Sender) notify(id string, sent bool) {
	if s.listener == nil {
		return
	}
	m, err := s.store.MessageByUUID(id)
	if err != nil || m == nil {
		s.logger.Warn("cannot reload message", zap.Error(err), zap.String("uuid", id))
		return
	}
	if sent {
		s.listener.MessageSent(*m)
	} else {
		s.listener.MessageSendingFailed(*m)
	}
}
