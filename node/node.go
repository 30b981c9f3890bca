// Package node implements spec.md component 4.E, the Net Adapter: accepts
// TCP, Unix-domain, and WebSocket connections, drives the HANDSHAKE/ACCESS
// negotiation, installs AEAD framing, and bridges each connection to a wire
// registered with a fabric.Socket.
//
// Grounded on relaydns/host.go's listener-setup shape and
// relaydns/core/cryptoops/handshaker.go's ServerHandshake (negotiate, then
// wrap the raw io.ReadWriteCloser in a framed secure session) — generalized
// from a single X25519 handshake to spec.md's ACCESS-key/shared-secret
// negotiation across three AEAD methods. The WebSocket accept path follows
// cmd/example_chat/view.go's use of github.com/coder/websocket.
package node

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/socketfabric/broker/aead"
	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/fabric"
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

// handshakeError wraps an errcode.Code as an error so negotiate can return
// it through the normal error path; the caller never needs the code itself,
// only a reason to close the connection, so no Unwrap is provided.
type handshakeError struct{ code errcode.Code }

func (e handshakeError) Error() string { return "node: handshake rejected: " + e.code.String() }

// AccessLookup resolves an ACCESS key to the shared secret used to derive
// the AEAD session keys. Implementations are typically backed by
// accessstore.Store.
type AccessLookup func(accessKey string) (secret []byte, ok bool)

// KeepAlive bounds how long a connection may stay silent before it is
// pinged, and how many consecutive missed pings close it (supplemented
// feature: keep-alive tracks consecutive missed PINGs).
type KeepAlive struct {
	IdleTimeout time.Duration
	MaxMissed   int
}

// DefaultKeepAlive matches the teacher's admin-surface polling cadence
// (cmd/relay-server/bps_manager.go ticks every few seconds) scaled up to a
// connection-idle budget.
var DefaultKeepAlive = KeepAlive{IdleTimeout: 30 * time.Second, MaxMissed: 3}

// Node is the network front-end: it owns zero or more listeners and feeds
// every accepted connection into a shared fabric.Socket.
type Node struct {
	Socket    *fabric.Socket
	Access    AccessLookup
	KeepAlive KeepAlive

	// Methods lists the AEAD methods this node is willing to negotiate, in
	// preference order. The zero value accepts only MethodNone.
	Methods []aead.Method
}

// New returns a Node wired to socket. A nil access lookup refuses every
// HANDSHAKE (AEAD negotiation always fails closed without credentials).
func New(socket *fabric.Socket, access AccessLookup) *Node {
	return &Node{
		Socket:    socket,
		Access:    access,
		KeepAlive: DefaultKeepAlive,
		Methods:   []aead.Method{aead.MethodChaCha20Poly1305, aead.MethodAES256GCM, aead.MethodAES128GCM},
	}
}

// ListenTCP accepts connections on addr until ctx is canceled.
func (n *Node) ListenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return n.serve(ctx, ln)
}

// ListenUnix accepts connections on a Unix-domain socket at path.
func (n *Node) ListenUnix(ctx context.Context, path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	return n.serve(ctx, ln)
}

func (n *Node) serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Warn().Err(err).Msg("node: accept failed")
			return err
		}
		go n.handleConn(ctx, conn)
	}
}

// WSHandler returns an http.HandlerFunc suitable for mounting on a chi
// router (httpadmin does this) that upgrades to a WebSocket and bridges it
// like any other connection.
func (n *Node) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}
		conn := websocket.NetConn(r.Context(), c, websocket.MessageBinary)
		n.handleConn(r.Context(), conn)
	}
}

// handleConn drives the handshake, then bridges the connection's bytes to
// a freshly registered wire until either side closes.
func (n *Node) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	w := n.Socket.Connect()
	if w == nil {
		return
	}

	readDir, writeDir, err := n.negotiate(conn, w)
	if err != nil {
		log.Debug().Err(err).Str("wire", w.ID().String()).Msg("node: handshake failed")
		w.Close()
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go n.pumpOutbound(connCtx, conn, writeDir, w)
	n.pumpInbound(connCtx, conn, readDir, w)
}

// negotiate performs the plaintext HANDSHAKE/ACCESS exchange and returns
// the two independent AEAD directions (spec.md 4.A: each direction keeps
// its own nonce counter).
func (n *Node) negotiate(conn net.Conn, w *wire.Wire) (*aead.Direction, *aead.Direction, error) {
	plain, err := aead.NewDirection(aead.MethodNone, nil)
	if err != nil {
		return nil, nil, err
	}

	frame, err := plain.ReadFrame(conn)
	if err != nil {
		return nil, nil, err
	}
	req, err := msg.Decode(frame)
	if err != nil {
		return nil, nil, err
	}

	accessKey, _ := req.GetString(msg.KeyAccess)
	method := aead.Method("")
	if mName, ok := req.GetString(msg.KeyHandshake); ok {
		method = aead.Method(mName)
	}

	var secret []byte
	if method != aead.MethodNone {
		if n.Access == nil {
			return nil, nil, handshakeError{errcode.Unauthorized}
		}
		s, ok := n.Access(accessKey)
		if !ok {
			return nil, nil, handshakeError{errcode.AuthenticationFailed}
		}
		secret = s
		if !n.supports(method) {
			return nil, nil, handshakeError{errcode.InvalidHandshakeFieldType}
		}
	}

	serverNonce := make([]byte, aead.NonceSize)
	if _, err := rand.Read(serverNonce); err != nil {
		return nil, nil, err
	}

	reply := msg.New().
		Set(msg.KeyOK, int32(errcode.OK)).
		Set(msg.KeyHandshake, string(method)).
		Set(msg.KeyNonce, serverNonce)
	if err := plain.WriteFrame(conn, mustEncode(reply)); err != nil {
		return nil, nil, err
	}

	readDir, err := aead.NewDirection(method, secret)
	if err != nil {
		return nil, nil, err
	}
	writeDir, err := aead.NewDirection(method, secret)
	if err != nil {
		return nil, nil, err
	}
	if method != aead.MethodNone {
		if err := writeDir.SetNonce(serverNonce); err != nil {
			return nil, nil, err
		}
	}

	w.SetAttr("remote_addr", conn.RemoteAddr().String())
	w.SetAttr("aead_method", string(method))
	return readDir, writeDir, nil
}

func (n *Node) supports(method aead.Method) bool {
	for _, m := range n.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// pumpInbound reads frames off conn, decodes them, and hands them to the
// wire's holder-side Send — mirroring what an in-process application would
// do, so fabric never distinguishes a network wire from a local one.
func (n *Node) pumpInbound(ctx context.Context, conn net.Conn, dir *aead.Direction, w *wire.Wire) {
	defer w.Close()
	idle := n.KeepAlive.IdleTimeout
	for {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		frame, err := dir.ReadFrame(conn)
		if err != nil {
			if isTimeout(err) {
				missed := w.BumpMissedPings()
				if int(missed) >= n.KeepAlive.MaxMissed {
					log.Debug().Str("wire", w.ID().String()).Msg("node: missed too many keep-alive pings, closing")
					return
				}
				w.Deliver(msg.New().Set(msg.KeyChan, msg.ChanPing))
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("wire", w.ID().String()).Msg("node: read failed, closing")
			}
			return
		}
		w.ResetMissedPings()
		m, err := msg.Decode(frame)
		if err != nil {
			log.Debug().Err(err).Str("wire", w.ID().String()).Msg("node: bad frame")
			return
		}
		if err := w.Send(m); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// pumpOutbound drains the wire's outbound queue and writes each message as
// an AEAD-framed record back to conn.
func (n *Node) pumpOutbound(ctx context.Context, conn net.Conn, dir *aead.Direction, w *wire.Wire) {
	for {
		m, err := w.Recv()
		if err != nil {
			return
		}
		buf, err := msg.Encode(m)
		if err != nil {
			log.Debug().Err(err).Str("wire", w.ID().String()).Msg("node: encode failed")
			continue
		}
		if err := dir.WriteFrame(conn, buf); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func mustEncode(m *msg.Message) []byte {
	buf, err := msg.Encode(m)
	if err != nil {
		// Handshake replies are small, fixed-shape messages built entirely
		// from this package; an encode failure here means a bug, not a
		// runtime condition callers can recover from.
		panic(err)
	}
	return buf
}
