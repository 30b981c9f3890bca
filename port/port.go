// Package port implements spec.md component 4.F, the Port: an outbound
// connection manager used by in-process clients to dial a broker over TCP,
// Unix, or WebSocket, then connect/recv/send/call/add against it.
//
// Grounded on relaydns/client.go's RelayClient shape (a managed connection
// plus background workers, stopCh-driven shutdown) and
// relaydns/e2ee_websocket.go's io.ReadWriteCloser adapter over
// gorilla/websocket for the WebSocket dial path.
package port

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/socketfabric/broker/aead"
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/rpc"
)

// ErrClosed is returned by Send/Recv once the Port has disconnected.
var ErrClosed = errors.New("port: closed")

// Options configures Connect.
type Options struct {
	// AEAD selects the handshake method to request. MethodNone skips
	// crypto entirely.
	AEAD aead.Method
	// AccessKey and Secret drive the HANDSHAKE/ACCESS exchange when AEAD
	// is not MethodNone.
	AccessKey string
	Secret    []byte
	// ReconnectBackoff is carried in Options but is not read by Port or by
	// bridge, whose reconnect loop uses its own backoff capped at
	// bridge.MaxBackoff. DialTCP/DialUnix/DialWS dial once and return an
	// error on failure.
	ReconnectBackoff time.Duration
}

// DefaultOptions matches the teacher's polling/backoff cadence scaled to a
// client reconnect budget.
var DefaultOptions = Options{ReconnectBackoff: time.Second}

// Port is a client connection to a broker: it owns the framed AEAD session
// and dispatches inbound messages to either a pending rpc.Caller's reply
// slot, a registered rpc.Handler, or the caller's own Recv/Wait queue.
type Port struct {
	conn     io.ReadWriteCloser
	readDir  *aead.Direction
	writeDir *aead.Direction

	Caller   *rpc.Caller
	Handlers *rpc.Registry

	inbox    chan *msg.Message
	closeCh  chan struct{}
	closeMu  sync.Mutex
	closed   bool
	writeMu  sync.Mutex
}

// DialTCP connects to a TCP broker address and performs the handshake.
func DialTCP(ctx context.Context, addr string, opts Options) (*Port, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newPort(conn, opts)
}

// DialUnix connects to a Unix-domain broker socket.
func DialUnix(ctx context.Context, path string, opts Options) (*Port, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return newPort(conn, opts)
}

// DialWS connects to a WebSocket broker endpoint (ws:// or wss://).
func DialWS(ctx context.Context, url string, opts Options) (*Port, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newPort(&wsConn{conn: c}, opts)
}

func newPort(conn io.ReadWriteCloser, opts Options) (*Port, error) {
	readDir, writeDir, err := handshake(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}

	p := &Port{
		conn:     conn,
		readDir:  readDir,
		writeDir: writeDir,
		Caller:   rpc.NewCaller(),
		Handlers: rpc.NewRegistry(),
		inbox:    make(chan *msg.Message, 256),
		closeCh:  make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// handshake drives the client half of the plaintext HANDSHAKE/ACCESS
// exchange (the mirror image of node.Node.negotiate).
func handshake(conn io.ReadWriteCloser, opts Options) (*aead.Direction, *aead.Direction, error) {
	plain, err := aead.NewDirection(aead.MethodNone, nil)
	if err != nil {
		return nil, nil, err
	}

	req := msg.New().
		Set(msg.KeyHandshake, string(opts.AEAD)).
		Set(msg.KeyAccess, opts.AccessKey)
	buf, err := msg.Encode(req)
	if err != nil {
		return nil, nil, err
	}
	if err := plain.WriteFrame(conn, buf); err != nil {
		return nil, nil, err
	}

	frame, err := plain.ReadFrame(conn)
	if err != nil {
		return nil, nil, err
	}
	reply, err := msg.Decode(frame)
	if err != nil {
		return nil, nil, err
	}
	if code, has := reply.GetInt32(msg.KeyCode); has && code != 0 {
		return nil, nil, errors.New("port: handshake rejected by broker")
	}

	readDir, err := aead.NewDirection(opts.AEAD, opts.Secret)
	if err != nil {
		return nil, nil, err
	}
	writeDir, err := aead.NewDirection(opts.AEAD, opts.Secret)
	if err != nil {
		return nil, nil, err
	}
	if opts.AEAD != aead.MethodNone {
		serverNonce, ok := reply.Get(msg.KeyNonce)
		if !ok {
			return nil, nil, errors.New("port: handshake reply missing NONCE")
		}
		nonceBytes, ok := serverNonce.([]byte)
		if !ok || len(nonceBytes) != aead.NonceSize {
			return nil, nil, errors.New("port: handshake reply has malformed NONCE")
		}
		if err := readDir.SetNonce(nonceBytes); err != nil {
			return nil, nil, err
		}
	}

	return readDir, writeDir, nil
}

func (p *Port) readLoop() {
	defer p.Close()
	for {
		frame, err := p.readDir.ReadFrame(p.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("port: read failed, disconnecting")
			}
			return
		}
		m, err := msg.Decode(frame)
		if err != nil {
			log.Debug().Err(err).Msg("port: bad frame")
			return
		}

		if p.Caller.Dispatch(m) {
			continue
		}
		if reply, ok := p.Handlers.Dispatch(m); ok {
			if err := p.Send(reply); err != nil {
				return
			}
			continue
		}

		select {
		case p.inbox <- m:
		case <-p.closeCh:
			return
		}
	}
}

// Send writes m to the broker.
func (p *Port) Send(m *msg.Message) error {
	select {
	case <-p.closeCh:
		return ErrClosed
	default:
	}
	buf, err := msg.Encode(m)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.writeDir.WriteFrame(p.conn, buf)
}

// Recv blocks until a message arrives that wasn't claimed by a pending
// call or a registered handler.
func (p *Port) Recv() (*msg.Message, error) {
	select {
	case m := <-p.inbox:
		return m, nil
	case <-p.closeCh:
		return nil, ErrClosed
	}
}

// Wait blocks up to timeout for a message.
func (p *Port) Wait(timeout time.Duration) (*msg.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-p.inbox:
		return m, nil
	case <-p.closeCh:
		return nil, ErrClosed
	case <-t.C:
		return nil, nil
	}
}

// Attach requests that the broker subscribe this port to chanName, with
// optional labels.
func (p *Port) Attach(chanName string, labels ...string) error {
	m := msg.New().Set(msg.KeyChan, "ATTACH").Set(msg.KeyValue, chanName).Set(msg.KeyID, msg.NewID())
	if len(labels) > 0 {
		vs := make([]msg.Value, len(labels))
		for i, l := range labels {
			vs[i] = l
		}
		m.Set(msg.KeyLabel, vs)
	}
	return p.Send(m)
}

// Bind requests that the broker mirror every un-TO message published on
// chanName to this port, regardless of subscriber/label/SHARE matching
// (spec.md §4.D, used by Bridge to unconditionally mirror a whole channel).
func (p *Port) Bind(chanName string) error {
	m := msg.New().Set(msg.KeyChan, msg.ChanBind).Set(msg.KeyValue, chanName).Set(msg.KeyID, msg.NewID())
	return p.Send(m)
}

// Call issues an RPC request over chanName and blocks for the reply,
// delegating to rpc.Caller.
func (p *Port) Call(ctx context.Context, chanName string, value msg.Value) (*msg.Message, error) {
	return p.Caller.Call(ctx, p, chanName, value)
}

// Add registers fn to answer requests on chanName, delegating to
// rpc.Registry.
func (p *Port) Add(chanName string, fn rpc.Handler) {
	p.Handlers.Add(chanName, fn)
}

// Close disconnects the port. Idempotent.
func (p *Port) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeCh)
	return p.conn.Close()
}

// wsConn adapts a gorilla/websocket connection to io.ReadWriteCloser,
// respecting message boundaries by buffering the remainder of a partially
// consumed message — the byte-stream framing in aead.Direction expects a
// plain stream, not discrete WebSocket frames.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	buf  []byte
}

func (w *wsConn) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error { return w.conn.Close() }
