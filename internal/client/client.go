package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/whookdev/sharedrelay/internal/models"
)

const writeWait = 10 * time.Second

var ErrClosed = errors.New("relay connection closed")

// Client is a page-side connection to the relay. Requests sent with Do are
// correlated by a generated id; responses to Post carry no id and are
// delivered on Unsolicited.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	pending   map[string]chan *models.ResponseEnvelope
	pendingMu sync.Mutex
	writeMu   sync.Mutex

	unsolicited chan *models.ResponseEnvelope

	done    chan struct{}
	readErr error
}

func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to connect to relay")
	}

	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		conn:        conn,
		logger:      logger.With("component", "client"),
		pending:     make(map[string]chan *models.ResponseEnvelope),
		unsolicited: make(chan *models.ResponseEnvelope, 16),
		done:        make(chan struct{}),
	}

	go c.readPump()

	return c, nil
}

// Do sends one request and waits for its response. The relay imposes no
// timeout, so callers bound the wait with ctx.
func (c *Client) Do(ctx context.Context, opts models.FetchOptions) (*models.ResponseEnvelope, error) {
	id := uuid.NewString()
	responseChan := make(chan *models.ResponseEnvelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = responseChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(&id, opts); err != nil {
		return nil, err
	}

	select {
	case resp := <-responseChan:
		return resp, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "Gave up waiting for relay response")
	case <-c.done:
		return nil, ErrClosed
	}
}

// Post sends a request without an id. Its response, if any, arrives on
// Unsolicited.
func (c *Client) Post(opts models.FetchOptions) error {
	return c.send(nil, opts)
}

func (c *Client) Unsolicited() <-chan *models.ResponseEnvelope {
	return c.unsolicited
}

func (c *Client) send(id *string, opts models.FetchOptions) error {
	env := &models.RequestEnvelope{
		ID: id,
		Request: &models.Request{
			Context: &models.RequestContext{Options: &opts},
		},
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		return errors.Wrap(err, "Failed to send request envelope")
	}
	return nil
}

func (c *Client) readPump() {
	defer close(c.done)

	for {
		var env models.ResponseEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.readErr = err
			return
		}

		if env.ID == nil {
			select {
			case c.unsolicited <- &env:
			default:
				c.logger.Warn("dropped response without id - channel full")
			}
			continue
		}

		c.pendingMu.Lock()
		ch, exists := c.pending[*env.ID]
		c.pendingMu.Unlock()

		if !exists {
			c.logger.Warn("received response for unknown request", "id", *env.ID)
			continue
		}
		select {
		case ch <- &env:
		default:
			c.logger.Warn("dropped duplicate response", "id", *env.ID)
		}
	}
}

// Err reports why the connection stopped reading, once it has.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}
