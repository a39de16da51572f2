package mountapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/tqbf/automount/pkg/protocol"
)

// BuildSession dials the mount build websocket and waits for the
// server to be ready.
func (c *Client) BuildSession(ctx context.Context) (*protocol.Session, error) {
	opts := &websocket.DialOptions{HTTPClient: c.HTTPClient}
	if c.Token != "" {
		opts.HTTPHeader = http.Header{
			"Authorization": []string{"Bearer " + c.Token},
		}
	}
	ws, resp, err := websocket.Dial(ctx, httpToWS(c.url("/v1/mounts/build")), opts)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, err
	}
	return protocol.Open(ctx, ws)
}

func httpToWS(u string) string {
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "ws://" + rest
	}
	return u
}
