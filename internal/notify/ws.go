package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const (
	// DefaultPingInterval is how often the server writes a keepalive frame.
	DefaultPingInterval = 15 * time.Second

	// DefaultReadTimeout is how long a client waits for any frame before
	// reporting StatusTimedOut.
	DefaultReadTimeout = 2 * DefaultPingInterval
)

const (
	frameSubscribed = "subscribed"
	frameEvent      = "event"
	framePing       = "ping"
	frameClosed     = "closed"
)

type wsFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
	Event  *Event `json:"event,omitempty"`
	Error  string `json:"error,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// WSHandler streams a room's notifications to WebSocket clients.
type WSHandler struct {
	hub          *Hub
	pingInterval time.Duration
}

// NewWSHandler creates a handler serving subscribers of hub.
// A non-positive pingInterval selects DefaultPingInterval.
func NewWSHandler(hub *Hub, pingInterval time.Duration) *WSHandler {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &WSHandler{hub: hub, pingInterval: pingInterval}
}

// ServeRoom upgrades the request and streams events for roomID until the
// client disconnects or the subscriber is closed.
func (h *WSHandler) ServeRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveConn(conn, roomID)
	}).ServeHTTP(w, r)
}

func (h *WSHandler) serveConn(conn *websocket.Conn, roomID string) {
	defer func() {
		_ = conn.Close()
	}()

	peer := newWSPeer(json.NewEncoder(conn))
	sub, err := h.hub.Subscribe(roomID)
	if err != nil {
		_ = peer.writeFrame(wsFrame{Type: frameClosed, RoomID: roomID, Error: err.Error()})
		return
	}
	defer sub.Close()

	if err := peer.writeFrame(wsFrame{Type: frameSubscribed, RoomID: roomID}); err != nil {
		return
	}
	slog.Debug("websocket subscriber joined", "room_id", roomID)

	// Clients never send frames; reading only detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, conn)
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			slog.Debug("websocket subscriber left", "room_id", roomID)
			return
		case <-sub.Done():
			for _, e := range sub.Drain() {
				if err := peer.writeFrame(wsFrame{Type: frameEvent, Event: &e}); err != nil {
					return
				}
			}
			msg := "subscription closed"
			if err := sub.Err(); err != nil {
				msg = err.Error()
			}
			_ = peer.writeFrame(wsFrame{Type: frameClosed, RoomID: roomID, Error: msg})
			return
		case <-sub.Wait():
			for _, e := range sub.Drain() {
				if err := peer.writeFrame(wsFrame{Type: frameEvent, Event: &e}); err != nil {
					slog.Debug("websocket write failed", "room_id", roomID, "error", err)
					return
				}
			}
		case <-ticker.C:
			if err := peer.writeFrame(wsFrame{Type: framePing}); err != nil {
				return
			}
		}
	}
}

// WSChannel is a Channel that dials the WebSocket endpoint of a server.
type WSChannel struct {
	baseURL     string
	readTimeout time.Duration
}

// NewWSChannel creates a channel for the server at baseURL (http or https).
// A non-positive readTimeout selects DefaultReadTimeout.
func NewWSChannel(baseURL string, readTimeout time.Duration) *WSChannel {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &WSChannel{baseURL: strings.TrimRight(baseURL, "/"), readTimeout: readTimeout}
}

// Subscribe dials the room's notification stream.
func (c *WSChannel) Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error) {
	s := &wsSubscription{channel: c, roomID: roomID, handler: h}
	conn, err := c.dial(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	go s.read(conn)
	return s, nil
}

func (c *WSChannel) endpoint(roomID string) (wsURL, origin string, err error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", "", fmt.Errorf("parse base url: %w", err)
	}
	origin = u.String()
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rooms/" + roomID + "/ws"
	return u.String(), origin, nil
}

func (c *WSChannel) dial(ctx context.Context, roomID string) (*websocket.Conn, error) {
	wsURL, origin, err := c.endpoint(roomID)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return conn, nil
}

type wsSubscription struct {
	channel *WSChannel
	roomID  string
	handler Handler

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// current reports whether conn is still the live connection.
func (s *wsSubscription) current(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.conn == conn
}

func (s *wsSubscription) read(conn *websocket.Conn) {
	dec := json.NewDecoder(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.channel.readTimeout))

		var frame wsFrame
		if err := dec.Decode(&frame); err != nil {
			if s.current(conn) {
				s.handler.HandleStatus(classify(err), fmt.Errorf("room %s: %w", s.roomID, err))
			}
			return
		}
		if !s.current(conn) {
			return
		}

		switch frame.Type {
		case frameSubscribed:
			s.handler.HandleStatus(StatusSubscribed, nil)
		case frameEvent:
			if frame.Event != nil {
				s.handler.HandleEvent(*frame.Event)
			}
		case framePing:
		case frameClosed:
			msg := frame.Error
			if msg == "" {
				msg = "subscription closed by server"
			}
			s.handler.HandleStatus(StatusClosed, fmt.Errorf("room %s: %s", s.roomID, msg))
			return
		default:
			slog.Debug("unknown websocket frame", "room_id", s.roomID, "type", frame.Type)
		}
	}
}

func classify(err error) Status {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return StatusTimedOut
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return StatusClosed
	}
	return StatusError
}

func (s *wsSubscription) Resubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSubscriptionClosed
	}
	old := s.conn
	s.conn = nil
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	conn, err := s.channel.dial(ctx, s.roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSubscriptionClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go s.read(conn)
	return nil
}

func (s *wsSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
