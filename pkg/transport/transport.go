// Package transport implements the four message-bus patterns named in the
// system's external interfaces over a single primitive: a JSON-framed
// gorilla/websocket connection. No ZeroMQ binding exists anywhere in this
// module's dependency graph, so websocket plays the role of the "any
// transport that offers the patterns" clause — each pattern below is a thin
// shape built on top of Conn.Send/Recv.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"docindex/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps one websocket connection with JSON send/recv and a poll-based
// receive loop so callers observe shutdown within 1 second, per the
// concurrency model's "event loop per inbound channel" rule.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes v as a single JSON websocket message.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// RecvRaw reads the next JSON message as a raw payload. deadline, if
// non-zero, bounds how long the read blocks; ctx is not consulted here, so
// cancellation does not interrupt a read already in progress.
func (c *Conn) RecvRaw(ctx context.Context, deadline time.Duration) (json.RawMessage, error) {
	if deadline > 0 {
		c.ws.SetReadDeadline(time.Now().Add(deadline))
	} else {
		c.ws.SetReadDeadline(time.Time{})
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.ws.Close() }

// pollRecv polls the connection with a 1-second read deadline in a loop so
// the caller's select can observe ctx.Done promptly instead of blocking
// indefinitely inside a single ReadMessage call.
func pollRecv(ctx context.Context, c *Conn) (json.RawMessage, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		data, err := c.RecvRaw(ctx, time.Second)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, err
		}
		return data, nil
	}
}

// ---- push/pull ----

// PushSocket binds an HTTP listener that upgrades inbound connections from
// pull clients and fans outbound messages out to them round-robin (in
// practice exactly one consumer is connected per spec's topology).
type PushSocket struct {
	mu      sync.Mutex
	clients []*Conn
	srv     *http.Server
	next    int
}

// NewPushSocket binds addr (":PORT") and begins accepting pull clients.
func NewPushSocket(addr string) (*PushSocket, error) {
	p := &PushSocket{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := newConn(ws)
		p.mu.Lock()
		p.clients = append(p.clients, c)
		p.mu.Unlock()
		// Drain incoming (pull clients send nothing, but pongs/control
		// frames must still be read to keep the connection alive).
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					p.removeClient(c)
					return
				}
			}
		}()
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	p.srv = &http.Server{Handler: mux}
	go p.srv.Serve(ln)
	return p, nil
}

func (p *PushSocket) removeClient(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.clients {
		if existing == c {
			p.clients = append(p.clients[:i], p.clients[i+1:]...)
			return
		}
	}
}

// Send emits v to the next connected puller (at-least-once: emission is
// buffered per connected client by the websocket layer; if no client is
// connected the message is dropped and logged, matching "if the outbound
// channel blocks, events are buffered; overflow is a fatal error" — here
// represented as a logged drop since there is no durable queue backing it).
func (p *PushSocket) Send(v any) error {
	p.mu.Lock()
	if len(p.clients) == 0 {
		p.mu.Unlock()
		return fmt.Errorf("push: no connected consumer")
	}
	c := p.clients[p.next%len(p.clients)]
	p.next++
	p.mu.Unlock()

	return c.Send(v)
}

// Close stops accepting new pullers and closes existing connections.
func (p *PushSocket) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = nil
	p.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	if p.srv != nil {
		return p.srv.Close()
	}
	return nil
}

// PullSocket dials a PushSocket and receives messages from it.
type PullSocket struct {
	conn *Conn
}

// DialPull connects to a push socket at addr ("host:port").
func DialPull(addr string) (*PullSocket, error) {
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		return nil, err
	}
	return &PullSocket{conn: newConn(ws)}, nil
}

// Recv blocks (polling every second to observe ctx) until a message arrives.
func (p *PullSocket) Recv(ctx context.Context) (json.RawMessage, error) {
	return pollRecv(ctx, p.conn)
}

// Close closes the underlying connection.
func (p *PullSocket) Close() error { return p.conn.Close() }

// ---- request/reply ----

// RepSocket answers requests strictly one at a time per connection: every
// received request is answered before the next request on that connection
// is read, matching "must answer every received request before receiving
// the next; implementations must not reorder."
type RepSocket struct {
	srv     *http.Server
	handler func(ctx context.Context, req json.RawMessage) (any, error)
}

// HandlerFunc processes one request and returns the reply payload.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// NewRepSocket binds addr and serves handler for every request received,
// one at a time per connection, until Close is called.
func NewRepSocket(addr string, handler HandlerFunc) (*RepSocket, error) {
	r := &RepSocket{handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		c := newConn(ws)
		go r.serveConn(c)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r.srv = &http.Server{Handler: mux}
	go r.srv.Serve(ln)
	return r, nil
}

func (r *RepSocket) serveConn(c *Conn) {
	defer c.Close()
	ctx := context.Background()
	for {
		data, err := pollRecv(ctx, c)
		if err != nil {
			return
		}
		reply, err := r.handler(ctx, data)
		if err != nil {
			logger.Error("rep handler: %v", err)
			reply = map[string]string{"status": "error", "error": err.Error()}
		}
		if sendErr := c.Send(reply); sendErr != nil {
			return
		}
	}
}

// Close stops the listener and all in-flight connections.
func (r *RepSocket) Close() error {
	if r.srv != nil {
		return r.srv.Close()
	}
	return nil
}

// ReqSocket issues one blocking request at a time to a peer's RepSocket.
type ReqSocket struct {
	mu   sync.Mutex
	conn *Conn
}

// DialReq connects to a rep socket at addr.
func DialReq(addr string) (*ReqSocket, error) {
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		return nil, err
	}
	return &ReqSocket{conn: newConn(ws)}, nil
}

// Call sends req and waits for the matching reply, bounded by deadline.
func (r *ReqSocket) Call(ctx context.Context, req any, deadline time.Duration) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conn.Send(req); err != nil {
		return nil, errTransport("send", err)
	}

	type result struct {
		data json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := r.conn.RecvRaw(ctx, deadline)
		done <- result{data, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, errTransport("recv", res.err)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, errTransport("recv", ctx.Err())
	}
}

// Close closes the underlying connection.
func (r *ReqSocket) Close() error { return r.conn.Close() }

func errTransport(op string, err error) error {
	return fmt.Errorf("transport %s: %w", op, err)
}

// ---- router/dealer ----

// RouterSocket accepts connections from many independent dealer clients
// (spec: "Multi-client raw-file fetch") and answers each inbound request on
// its own connection concurrently — the websocket connection itself stands
// in for the dealer identity frame a raw ZeroMQ ROUTER socket would carry.
type RouterSocket struct {
	srv     *http.Server
	handler HandlerFunc
}

// NewRouterSocket binds addr and dispatches every inbound request to
// handler, replying on the same connection it arrived on.
func NewRouterSocket(addr string, handler HandlerFunc) (*RouterSocket, error) {
	rt := &RouterSocket{handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		c := newConn(ws)
		go rt.serveConn(c)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	rt.srv = &http.Server{Handler: mux}
	go rt.srv.Serve(ln)
	return rt, nil
}

func (rt *RouterSocket) serveConn(c *Conn) {
	defer c.Close()
	ctx := context.Background()
	for {
		data, err := pollRecv(ctx, c)
		if err != nil {
			return
		}
		// Each request on a router connection may be served concurrently
		// with others on different connections; within one connection,
		// request/reply order is preserved by reading the next request
		// only after the handler call below returns.
		reply, err := rt.handler(ctx, data)
		if err != nil {
			reply = map[string]string{"status": "error", "error": err.Error()}
		}
		if sendErr := c.Send(reply); sendErr != nil {
			return
		}
	}
}

// Close stops the listener.
func (rt *RouterSocket) Close() error {
	if rt.srv != nil {
		return rt.srv.Close()
	}
	return nil
}

// DealerSocket is a client of a RouterSocket: it issues requests and reads
// replies on its own dedicated connection, free to pipeline multiple
// in-flight requests if the caller chooses (unlike ReqSocket's strict
// one-at-a-time pairing).
type DealerSocket struct {
	conn *Conn
}

// DialDealer connects to a router socket at addr.
func DialDealer(addr string) (*DealerSocket, error) {
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		return nil, err
	}
	return &DealerSocket{conn: newConn(ws)}, nil
}

// Call sends req and waits for a reply, bounded by deadline.
func (d *DealerSocket) Call(ctx context.Context, req any, deadline time.Duration) (json.RawMessage, error) {
	if err := d.conn.Send(req); err != nil {
		return nil, errTransport("send", err)
	}
	data, err := d.conn.RecvRaw(ctx, deadline)
	if err != nil {
		return nil, errTransport("recv", err)
	}
	return data, nil
}

// Close closes the underlying connection.
func (d *DealerSocket) Close() error { return d.conn.Close() }
