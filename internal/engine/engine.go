// Package engine keeps the session's single chat in sync with the support
// service. The Controller is the mediator: transport events, host calls and
// upload completions are all marshaled onto one serial worker, and every
// observable change leaves through the bus.
package engine

import (
	"context"
	"errors"
	"hash/crc32"
	"sync"
	"time"

	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/protocol"
	"github.com/matheus3301/helpchat/internal/status"
	"github.com/matheus3301/helpchat/internal/store"
	"github.com/matheus3301/helpchat/internal/syncstate"
	"go.uber.org/zap"
)

// ErrStopped is returned by queries issued after the controller stopped.
var ErrStopped = errors.New("engine: controller stopped")

// Storage is the storage gateway the engine drives.
type Storage interface {
	UpsertMessageByID(chatID, id int64, c store.MessageChange) (*chat.Message, error)
	UpsertMessageByLocalID(chatID int64, localID string, c store.MessageChange) (*chat.Message, error)
	StoreOutgoingMessage(o store.OutgoingMessage) (*chat.Message, error)
	MarkMessagesAsSeen(chatID, uptoID int64) ([]chat.Message, error)
	QueuedMessages(chatID int64) ([]chat.Message, error)
	History(chatID int64, after *int64) ([]chat.Message, error)
	LastMessage(chatID int64) (*chat.Message, error)
	MessageByUUID(id string) (*chat.Message, error)
	MessageByLocalID(localID string) (*chat.Message, error)
	DeleteMessage(id string) error
	DeleteAllMessages() error
	ResendMessage(id string) (*chat.Message, error)
	ReleaseQueuedMessage(id string) (*chat.Message, error)
	TurnContactForm(id string, status chat.FormStatus, details *chat.ContactInfo) (*chat.Message, error)
	CreateChat(id int64) (*chat.Chat, error)
	ChatWithID(id int64) (*chat.Chat, error)
	UpsertAgent(a chat.Agent) (*chat.Agent, error)
	StoreChatAgents(chatID int64, agentIDs []int64, exclusive bool) (*chat.Chat, error)
	MakeAllAgentsOffline() (int64, error)
}

// Prefs holds the persisted contact form flags and seen watermark.
type Prefs interface {
	ContactInfoWasEverSent() (bool, error)
	SetContactInfoWasEverSent(sent bool) error
	ContactInfoWasShownAt() (*time.Time, error)
	SetContactInfoWasShownAt(t time.Time) error
	LastSeenMessageID(clientID string) (*int64, error)
	SetLastSeenMessageID(clientID string, id int64) error
	Erase() error
}

// Uploader executes attachment uploads. Upload blocks until every file is
// done and returns one result per attachment.
type Uploader interface {
	Upload(ctx context.Context, creds chat.UploadCredentials, files []chat.PendingAttachment) []chat.UploadResult
}

// TypingCache holds unsent drafts.
type TypingCache interface {
	ResetInput(chatID int64) error
}

// Localizer resolves user-facing strings.
type Localizer interface {
	Localize(key string) string
}

// Sender transmits stored outgoing messages. Wake asks it to look at the
// outbox now instead of on its next tick.
type Sender interface {
	Wake()
}

// Subsystem is a bitset of parts reset when the session turns inactive.
type Subsystem uint8

const (
	SubsystemConnection Subsystem = 1 << iota
	SubsystemArtifacts
)

// Has reports whether every bit of o is set.
func (s Subsystem) Has(o Subsystem) bool {
	return s&o == o
}

// Identity is who the local client is.
type Identity struct {
	// ClientToken is the encrypted client token. The chat id derives from it
	// and the seen watermark is keyed by it.
	ClientToken string
	// ClientHash is stamped on every client-authored message.
	ClientHash string
}

// ChatID is the CRC32 of the client token, or 0 without a token.
func (id Identity) ChatID() int64 {
	if id.ClientToken == "" {
		return 0
	}
	return int64(crc32.ChecksumIEEE([]byte(id.ClientToken)))
}

// Deps are the controller's collaborators. Uploader, Typing, Sender and
// Status are optional.
type Deps struct {
	Storage   Storage
	Prefs     Prefs
	Transport protocol.Transport
	Uploader  Uploader
	Typing    TypingCache
	Locale    Localizer
	Sender    Sender
	Bus       *bus.Bus
	Status    *status.Machine
	Logger    *zap.Logger
}

// Controller is the session mediator.
type Controller struct {
	storage   Storage
	prefs     Prefs
	transport protocol.Transport
	uploader  Uploader
	typing    TypingCache
	locale    Localizer
	sender    Sender
	bus       *bus.Bus
	status    *status.Machine
	logger    *zap.Logger
	identity  Identity
	presence  *presence

	worker  *worker
	uploads sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// Owned by the worker.
	syncState     syncstate.State
	mode          chat.DataReceivingMode
	channelAgents map[int64]chat.Agent
	chatAgents    map[int64]chat.Agent
	chat          *chat.Chat
	account       *protocol.ConnectionConfig
	isFirstInit   bool
	hasActiveChat bool
	ackedID       int64
	lastKnownID   *int64
	unread        int
}

// NewController wires a controller. It does nothing until Start.
func NewController(deps Deps, identity Identity) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")
	return &Controller{
		storage:       deps.Storage,
		prefs:         deps.Prefs,
		transport:     deps.Transport,
		uploader:      deps.Uploader,
		typing:        deps.Typing,
		locale:        deps.Locale,
		sender:        deps.Sender,
		bus:           deps.Bus,
		status:        deps.Status,
		logger:        logger,
		identity:      identity,
		presence:      newPresence(deps.Storage, deps.Bus, logger),
		worker:        newWorker(256, logger),
		ctx:           context.Background(),
		syncState:     syncstate.New(),
		mode:          chat.ModeChannel,
		channelAgents: make(map[int64]chat.Agent),
		chatAgents:    make(map[int64]chat.Agent),
		isFirstInit:   true,
	}
}

// Start launches the worker and restores the stored chat.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.worker.run(c.ctx)
	c.RestoreChat()
}

// Stop stops the worker and waits for the running task to finish.
// In-flight uploads are cancelled.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.worker.done
}

// Flush blocks until everything submitted so far, including upload
// completions, has been processed. It returns ErrStopped once the
// controller is stopped.
func (c *Controller) Flush() error {
	if err := c.call(context.Background(), func() {}); err != nil {
		return err
	}
	c.uploads.Wait()
	return c.call(context.Background(), func() {})
}

func (c *Controller) submit(fn func()) {
	if !c.worker.submit(fn) {
		c.logger.Warn("dropping task: controller stopped")
	}
}

// call runs fn on the worker and waits for it.
func (c *Controller) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.worker.submit(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.worker.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) emit(kind string, payload any) {
	c.bus.Emit(kind, payload)
}

func (c *Controller) enterStatus(s status.State) {
	if c.status == nil {
		return
	}
	if err := c.status.Enter(s); err != nil {
		c.logger.Warn("status transition rejected", zap.Error(err))
	}
}

func (c *Controller) localize(key string) string {
	if c.locale == nil {
		return key
	}
	return c.locale.Localize(key)
}

func (c *Controller) wakeSender() {
	if c.sender != nil {
		c.sender.Wake()
	}
}

// Snapshot is a point-in-time view of the controller state.
type Snapshot struct {
	ChatID    int64
	Activity  syncstate.Activity
	Mode      chat.DataReceivingMode
	Queued    int
	HasUnread bool
	Active    bool
}

// Snapshot reads the controller state on the worker.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() {
		snap = Snapshot{
			Activity:  c.syncState.Activity,
			Mode:      c.mode,
			HasUnread: c.unread > 0,
			Active:    c.hasActiveChat,
		}
		if c.chat != nil {
			snap.ChatID = c.chat.ID
			queued, err := c.storage.QueuedMessages(c.chat.ID)
			if err != nil {
				c.logger.Error("failed to read queued messages", zap.Error(err))
			}
			snap.Queued = len(queued)
		}
	})
	return snap, err
}
