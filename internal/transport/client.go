// Package transport connects to the support service over a websocket and
// turns JSON frames into protocol events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/protocol"
	"github.com/matheus3301/helpchat/internal/status"
	"go.uber.org/zap"
)

const (
	readLimit    = 1 << 20
	writeTimeout = 10 * time.Second
	outBuffer    = 64
)

// Config configures a Client.
type Config struct {
	Endpoint    string
	ClientToken string
	Backoff     Backoff
	HTTPClient  *http.Client
}

// Client is the websocket transport. Fire-and-forget calls are queued to a
// writer goroutine and dropped while disconnected; SendMessage blocks and
// reports protocol.ErrNotConnected instead.
type Client struct {
	cfg     Config
	handler protocol.Handler
	status  *status.Machine
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	out  chan any
}

// New creates a transport client. status may be nil.
func New(cfg Config, sm *status.Machine, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return &Client{
		cfg:    cfg,
		status: sm,
		logger: logger.Named("transport"),
	}
}

// SetHandler sets the inbound event consumer. Call it before Run.
func (c *Client) SetHandler(h protocol.Handler) {
	c.handler = h
}

// Run dials and redials until ctx is done. Every established connection is
// reported as protocol.SocketOpen and its loss as protocol.SocketClose.
func (c *Client) Run(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("transport: no handler")
	}
	attempt := 0
	for {
		c.enterStatus(status.Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := c.cfg.Backoff.Next(attempt)
			c.logger.Warn("dial failed", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		err = c.serve(ctx, conn)
		code := websocket.CloseStatus(err)
		c.handler.HandleSessionEvent(protocol.SocketClose{Code: int(code), Err: err})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		delay := c.cfg.Backoff.Next(attempt)
		c.logger.Info("connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.ClientToken != "" {
		header.Set("X-Client-Token", c.cfg.ClientToken)
	}
	conn, _, err := websocket.Dial(ctx, c.cfg.Endpoint, &websocket.DialOptions{
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Endpoint, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// serve runs one connection until it fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan any, outBuffer)
	c.mu.Lock()
	c.conn = conn
	c.out = out
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.out = nil
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.logger.Info("connected", zap.String("endpoint", c.cfg.Endpoint))
	c.handler.HandleSessionEvent(protocol.SocketOpen{})

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- c.writeLoop(ctx, conn, out)
		cancel()
	}()

	err := c.readLoop(ctx, conn)
	cancel()
	if werr := <-writeErr; err == nil || (werr != nil && !errors.Is(werr, context.Canceled)) {
		err = werr
	}
	return err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary frame", zap.Int("bytes", len(data)))
			continue
		}
		in, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		switch {
		case in.Session != nil:
			c.handler.HandleSessionEvent(in.Session)
		case in.Transaction != nil && !in.Transaction.Empty():
			c.handler.HandleTransaction(*in.Transaction)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan any) error {
	for {
		select {
		case frame := <-out:
			if err := c.write(ctx, conn, frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, frame any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

// enqueue hands a frame to the writer. Frames are dropped while
// disconnected; the session replays what it needs on the next SocketOpen.
func (c *Client) enqueue(frame any) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		c.logger.Debug("dropping frame: not connected", zap.Any("frame", frame))
		return
	}
	select {
	case out <- frame:
	default:
		c.logger.Warn("dropping frame: write queue full")
	}
}

func (c *Client) enterStatus(to status.State) {
	if c.status == nil {
		return
	}
	if err := c.status.Enter(to); err != nil {
		c.logger.Debug("status not changed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// RequestMessageHistory implements protocol.Transport.
func (c *Client) RequestMessageHistory(fromID *int64) {
	c.enqueue(protocol.HistoryRequest{Type: "history", FromID: fromID})
}

// SendMessageAck implements protocol.Transport.
func (c *Client) SendMessageAck(id int64, date time.Time) {
	c.enqueue(protocol.Ack{Type: "ack", ID: id, Date: date})
}

// RequestRecentActivity implements protocol.Transport.
func (c *Client) RequestRecentActivity(siteID int64, channelID, clientID string) {
	c.enqueue(protocol.RecentActivityRequest{Type: "recent_activity", SiteID: siteID, ChannelID: channelID, ClientID: clientID})
}

// SendTyping implements protocol.Transport.
func (c *Client) SendTyping(text string) {
	c.enqueue(protocol.Typing{Type: "typing", Text: text})
}

// SendContactInfo implements protocol.Transport.
func (c *Client) SendContactInfo(info chat.ContactInfo) {
	c.enqueue(protocol.ContactInfoFrame{Type: "contact_info", ContactInfo: info})
}

// SendMessage writes a client message synchronously. The stored local id
// goes out as the private id so the echo collapses onto the local row.
func (c *Client) SendMessage(ctx context.Context, m chat.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return protocol.ErrNotConnected
	}
	frame := protocol.OutgoingMessage{
		Type:       "message",
		PrivateID:  m.LocalID,
		Text:       m.Text,
		Attachment: m.Attachment,
	}
	if err := c.write(ctx, conn, frame); err != nil {
		return fmt.Errorf("send message %s: %w", m.LocalID, err)
	}
	return nil
}
