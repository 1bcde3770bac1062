// Package wsstream implements the WatchDocument leg of transport.Transport
// over a real loopback WebSocket connection, grounded on
// homveloper-boss-raid-game/eventsync/websocket_client.go's read-loop/
// sendMessage split (gorilla/websocket, one JSON message type tagged by
// a Type field) and on the server-push design in spec §4.4 ("a watch
// stream receives server-initiated notifications"). Every other
// transport.Transport method (ActivateClient, PushPull, ...) is a plain
// request/response and is left to whatever base transport this package
// wraps; wsstream only replaces how the long-lived watch stream is
// carried.
package wsstream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"docengine/change"
	"docengine/logicaltime"
	"docengine/transport"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameBytes  = 1 << 20
	frameQueueSize = 64
)

// frame is the one wire message type carried over the socket in both
// directions: server→client delivers WatchEvents, client→server sends
// nothing today (the socket is watch-only) but a Type field is kept so
// the framing can grow a client→server message without a breaking
// change, the same future-proofing eventsync.WebSocketMessage uses.
type frame struct {
	Type       string                      `json:"type"`
	ChangePack *change.ChangePack          `json:"changePack,omitempty"`
	Broadcast  *transport.BroadcastPayload `json:"broadcast,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

const (
	frameTypeChangePack = "changePack"
	frameTypeBroadcast  = "broadcast"
	frameTypeError      = "error"
)

// Server upgrades HTTP requests to WebSocket connections and relays the
// watch channel of an underlying transport.Transport over them. Mount it
// at a path such as "/watch" and route ActivateClient/PushPull/etc.
// elsewhere (e.g. plain HTTP handlers, or keep using the base transport
// in-process — this package does not require them to travel the same
// wire).
type Server struct {
	base     transport.Transport
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a Server relaying base's Watch stream.
func NewServer(base transport.Transport, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		base:   base,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Loopback reference transport; a production deployment
			// would check r.Header.Get("Origin") here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP expects ?clientID=<hex>&docKey=<key> query parameters,
// upgrades the connection, opens base.Watch for that pair, and forwards
// every transport.WatchEvent as a frame until the stream or the socket
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIDStr := r.URL.Query().Get("clientID")
	docKey := r.URL.Query().Get("docKey")
	clientID, err := logicaltime.ParseActorID(clientIDStr)
	if err != nil {
		http.Error(w, "wsstream: invalid clientID: "+err.Error(), http.StatusBadRequest)
		return
	}
	if docKey == "" {
		http.Error(w, "wsstream: missing docKey", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("wsstream: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	events, err := s.base.Watch(r.Context(), clientID, docKey)
	if err != nil {
		s.writeFrame(conn, frame{Type: frameTypeError, Error: err.Error()})
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// The socket is watch-only: drain (and discard) inbound frames just
	// to keep the pong handler and close detection alive.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			f := frame{}
			switch {
			case evt.Err != nil:
				f.Type, f.Error = frameTypeError, evt.Err.Error()
			case evt.ChangePack != nil:
				f.Type, f.ChangePack = frameTypeChangePack, evt.ChangePack
			case evt.Broadcast != nil:
				f.Type, f.Broadcast = frameTypeBroadcast, evt.Broadcast
			default:
				continue
			}
			if err := s.writeFrame(conn, f); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, f frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// Client implements transport.Transport by delegating every RPC except
// Watch to a base transport, and carrying Watch over a WebSocket dialed
// against a wsstream.Server.
type Client struct {
	transport.Transport
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewClient wraps base, redirecting Watch to dial url (e.g.
// "ws://127.0.0.1:8080/watch") instead of base.Watch.
func NewClient(base transport.Transport, url string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{Transport: base, url: url, dialer: websocket.DefaultDialer, logger: logger}
}

// Watch overrides the embedded base transport's Watch, opening a real
// WebSocket instead.
func (c *Client) Watch(ctx context.Context, clientID logicaltime.ActorID, docKey string) (<-chan transport.WatchEvent, error) {
	header := http.Header{}
	dialURL := c.url + "?clientID=" + clientID.String() + "&docKey=" + docKey
	conn, _, err := c.dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		return nil, errors.Wrap(err, "wsstream: dial")
	}

	out := make(chan transport.WatchEvent, frameQueueSize)
	go func() {
		defer close(out)
		defer conn.Close()
		conn.SetReadLimit(maxFrameBytes)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case out <- transport.WatchEvent{Err: errors.Wrap(err, "wsstream: read")}:
				default:
				}
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				c.logger.Warn("wsstream: malformed frame", zap.Error(err))
				continue
			}
			evt := transport.WatchEvent{ChangePack: f.ChangePack, Broadcast: f.Broadcast}
			if f.Type == frameTypeError {
				evt.Err = errors.New(f.Error)
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ transport.Transport = (*Client)(nil)
