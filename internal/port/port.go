package port

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/whookdev/sharedrelay/internal/models"
)

const (
	pingInterval   = 20 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 16 << 20
)

// Handler turns one inbound frame into at most one response envelope.
type Handler interface {
	HandleMessage(ctx context.Context, raw []byte) (*models.ResponseEnvelope, bool)
}

// Port is one caller's message channel to the relay. Frames are handled
// concurrently and responses are posted in completion order.
type Port struct {
	id      string
	conn    *websocket.Conn
	handler Handler
	logger  *slog.Logger

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

func NewPort(id string, conn *websocket.Conn, handler Handler, logger *slog.Logger) *Port {
	return &Port{
		id:      id,
		conn:    conn,
		handler: handler,
		logger:  logger.With("component", "port", "port_id", id),
	}
}

func (p *Port) ID() string {
	return p.id
}

// Serve pumps frames until the peer disconnects or ctx is cancelled, then
// waits for in-flight messages to finish.
func (p *Port) Serve(ctx context.Context) error {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	readError := make(chan error, 1)
	go func() {
		readError <- p.readPump(ctx)
	}()

	for {
		select {
		case err := <-readError:
			p.inflight.Wait()
			if err != nil {
				return fmt.Errorf("port closed: %w", err)
			}
			return nil

		case <-pingTicker.C:
			if err := p.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeWait),
			); err != nil {
				p.logger.Warn("ping failed", "error", err)
			}

		case <-ctx.Done():
			p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
				time.Now().Add(writeWait),
			)
			p.conn.Close()
			<-readError
			p.inflight.Wait()
			return nil
		}
	}
}

func (p *Port) readPump(ctx context.Context) error {
	defer func() {
		p.logger.Debug("readPump ending")
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))

	p.conn.SetPongHandler(func(string) error {
		p.logger.Debug("received pong")
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				p.logger.Info("websocket closed normally")
				return nil
			}
			p.logger.Error("websocket read error", "error", err)
			return fmt.Errorf("websocket read error: %w", err)
		}

		p.inflight.Add(1)
		go p.dispatch(ctx, data)
	}
}

func (p *Port) dispatch(ctx context.Context, data []byte) {
	defer p.inflight.Done()

	out, ok := p.handler.HandleMessage(ctx, data)
	if !ok {
		return
	}

	if err := p.post(out); err != nil {
		attrs := []any{"error", err}
		if out.ID != nil {
			attrs = append(attrs, "id", *out.ID)
		}
		p.logger.Warn("failed to post response", attrs...)
	}
}

// post serializes writes; a websocket connection supports one writer at a time.
func (p *Port) post(env *models.ResponseEnvelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}
