package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type wsConnection interface {
	Close() error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
}

type messageHub interface {
	Join(roomID string) *Client
	Leave(roomID string, c *Client)
	Dispatch(roomID string, data []byte) error
}

// Connection pumps frames between one websocket and a room of the hub.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	roomID     string
	client     *Client
	fromClient chan []byte
	errorCh    chan error
}

func NewConnection(hub messageHub, ws wsConnection, roomID string) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		roomID:     roomID,
		client:     hub.Join(roomID),
		fromClient: make(chan []byte),
		errorCh:    make(chan error, 2),
	}
}

// Handle blocks until the client disconnects or ctx is done.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.Leave(c.roomID, c.client)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !isClosed(err) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case c.fromClient <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case data := <-c.fromClient:
			if err := c.hub.Dispatch(c.roomID, data); err != nil {
				log.Debug().Err(err).Str("room", c.roomID).Msg("rejected client frame")
				if err := c.ws.WriteMessage(websocket.TextMessage, encodeError(err)); err != nil {
					return err
				}
			}
		case data, ok := <-c.client.send:
			if !ok {
				return nil
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
