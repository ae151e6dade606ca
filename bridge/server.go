// Package bridge exposes the simulated peripheral to centrals over a
// websocket. Every binary message carries exactly one ATT PDU.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/wire"
)

// Path is the websocket endpoint
const Path = "/att"

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// Server attaches one simulated central connection per websocket client
type Server struct {
	stack    *wire.Peripheral
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[*socket]struct{}
}

// NewServer serves stack
func NewServer(stack *wire.Peripheral) *Server {
	return &Server{
		stack: stack,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sockets: make(map[*socket]struct{}),
	}
}

// socket serializes writes; gorilla connections allow one writer at a time
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("BRIDGE", "upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	sock := &socket{conn: conn}
	s.track(sock, true)
	defer s.track(sock, false)
	defer conn.Close()

	handle, err := s.stack.Connect(func(pdu []byte) {
		if err := sock.write(websocket.BinaryMessage, pdu); err != nil {
			logger.Trace("BRIDGE", "write to %s: %v", r.RemoteAddr, err)
		}
	})
	if err != nil {
		logger.Warn("BRIDGE", "rejecting %s: %v", r.RemoteAddr, err)
		return
	}
	defer s.stack.Disconnect(handle)
	logger.Info("BRIDGE", "%s attached as conn %d", r.RemoteAddr, handle)

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.keepAlive(sock, stop)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("BRIDGE", "conn %d: %v", handle, err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := s.stack.HandlePDU(handle, data); err != nil {
			logger.Warn("BRIDGE", "conn %d: %v", handle, err)
			return
		}
	}
}

func (s *Server) track(sock *socket, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.sockets[sock] = struct{}{}
	} else {
		delete(s.sockets, sock)
	}
}

// CloseAll ends every attached websocket. Hijacked connections outlive
// http.Server.Shutdown, so the bridge closes them itself.
func (s *Server) CloseAll() {
	s.mu.Lock()
	sockets := make([]*socket, 0, len(s.sockets))
	for sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	for _, sock := range sockets {
		sock.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "peripheral restarting"))
		sock.conn.Close()
	}
}

func (s *Server) keepAlive(sock *socket, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sock.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListenAndServe serves the bridge on addr until ctx ends
func ListenAndServe(ctx context.Context, addr string, stack *wire.Peripheral) error {
	handler := NewServer(stack)
	mux := http.NewServeMux()
	mux.Handle(Path, handler)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv.RegisterOnShutdown(handler.CloseAll)
	stop := context.AfterFunc(ctx, func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	})
	defer stop()

	logger.Info("BRIDGE", "listening on ws://%s%s", ln.Addr(), Path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}

// Conn is a central attached to a bridge over a websocket
type Conn struct {
	*Central
	sock *socket
	done chan struct{}
}

// Dial connects a central to the bridge at rawURL (ws://host:port/att)
func Dial(ctx context.Context, rawURL string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bridge: invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge: unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", rawURL, err)
	}

	sock := &socket{conn: ws}
	c := &Conn{
		Central: NewCentral(func(pdu []byte) error {
			return sock.write(websocket.BinaryMessage, pdu)
		}),
		sock: sock,
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer c.Central.Close()

	for {
		messageType, data, err := c.sock.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			c.Deliver(data)
		}
	}
}

// Done is closed once the bridge connection is gone
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close detaches from the bridge
func (c *Conn) Close() error {
	c.sock.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.sock.conn.Close()
	<-c.done
	return err
}
