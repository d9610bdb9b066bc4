package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is the minimal surface the session needs from a socket connection.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a fresh connection to the socket server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials a gorilla websocket endpoint, authenticating with a
// bearer token in the Authorization header.
type WebsocketDialer struct {
	URL   string
	Token string
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return conn, nil
}
