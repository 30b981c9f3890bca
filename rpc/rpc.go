// Package rpc implements spec.md component 4.G, the RPC Layer, layered on
// top of a port.Port: a oneshot reply-slot cache keyed by freshly minted
// message ids for Call, and a channel-name-keyed handler registry for Add.
//
// Grounded on original src/rpc/mod.rs's RPC::register/RPC::run shape
// (handlers registered by name, dispatched on a worker per incoming
// request) and original src/oneshot.rs's single-use reply slot, expressed
// here as a map of buffered channels guarded by a mutex instead of Rust's
// oneshot crate.
package rpc

import (
	"context"
	"errors"
	"sync"

	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/msg"
)

// Sender is the minimal capability Call needs from its transport —
// satisfied by *port.Port and, in tests, by anything that can accept a
// message for delivery.
type Sender interface {
	Send(m *msg.Message) error
}

// ErrTimeout is returned by Caller.Call when no reply arrives in time.
var ErrTimeout = errors.New("rpc: call timed out")

// Caller correlates outgoing calls with their replies by message id. One
// Caller is normally shared by every goroutine issuing calls over the same
// port.
type Caller struct {
	mu      sync.Mutex
	pending map[msg.ID]chan *msg.Message
}

// NewCaller returns an empty Caller.
func NewCaller() *Caller {
	return &Caller{pending: make(map[msg.ID]chan *msg.Message)}
}

// Call publishes a request on chanName with SHARE=true (spec.md 4.G: a
// call picks exactly one consumer via the channel's SHARE round robin),
// then blocks for a reply correlated by the freshly minted ID, until ctx is
// done.
func (c *Caller) Call(ctx context.Context, s Sender, chanName string, value msg.Value) (*msg.Message, error) {
	id := msg.NewID()
	replyCh := make(chan *msg.Message, 1)

	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := msg.New().
		Set(msg.KeyChan, chanName).
		Set(msg.KeyID, id).
		Set(msg.KeyShare, true).
		Set(msg.KeyValue, value)
	if err := s.Send(req); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		if code, has := reply.GetInt32(msg.KeyCode); has && errcode.Code(code) != errcode.OK {
			return reply, errHandlerCode(errcode.Code(code))
		}
		return reply, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Dispatch hands m to the pending call waiting on m's ID field, if any.
// Returns true if m was consumed. A Port's read loop calls this for every
// inbound message before trying its handler registry.
func (c *Caller) Dispatch(m *msg.Message) bool {
	id, ok := m.GetID(msg.KeyID)
	if !ok {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- m:
	default:
	}
	return true
}

type rpcCodeError struct{ code errcode.Code }

func (e rpcCodeError) Error() string { return "rpc: " + e.code.String() }

func errHandlerCode(c errcode.Code) error { return rpcCodeError{c} }
