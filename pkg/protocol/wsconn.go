package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// MaxMessage bounds a single frame. A file message is small; the
// missing list for a large mount is the biggest thing sent.
const MaxMessage = 16 << 20

// Conn sends and receives protocol messages on a websocket. Writes are
// serialised; reads belong to a single reader.
type Conn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(MaxMessage)
	return &Conn{ws: ws}
}

func (c *Conn) Send(ctx context.Context, v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsjson.Write(ctx, c.ws, v)
}

func (c *Conn) read(ctx context.Context) ([]byte, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("unexpected binary frame")
	}
	return data, nil
}

func (c *Conn) ReadRequest(ctx context.Context) (*Request, error) {
	data, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return ParseRequest(data)
}

func (c *Conn) ReadResponse(ctx context.Context) (*Response, error) {
	data, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return ParseResponse(data)
}

// SendError reports a problem to the peer.
func (c *Conn) SendError(ctx context.Context, err error, fatal bool) error {
	return c.Send(ctx, Response{
		Type:    TypeError,
		Message: err.Error(),
		Fatal:   fatal,
	})
}

func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	if IsClosed(err) {
		return nil
	}
	return err
}

// IsClosed reports whether err is the peer closing the connection
// normally.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	s := websocket.CloseStatus(err)
	return s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway
}
