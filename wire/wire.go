// Package wire implements spec.md component 4.B: the Wire Endpoint, a pair
// of bounded queues plus a shared close flag. The broker (fabric) owns one
// half of the pair, the in-process or network-adapter holder owns the
// other; messages never cross identity.
//
// Grounded on cmd/relay-server/bps_manager.go's mutex-guarded manager shape
// for the close-flag bookkeeping, and the channel-per-connection idiom used
// throughout relaydns/server.go.
package wire

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/socketfabric/broker/msg"
)

// ErrClosed is returned by send/recv operations once the wire has been
// closed (spec.md §3: "subsequent send/recv ... surface BrokenPipe").
var ErrClosed = errors.New("wire: closed")

// DefaultQueueDepth is the default bound on each direction's queue.
const DefaultQueueDepth = 256

// Wire is one endpoint: identity, auth state, attribute bag, and the two
// bounded queues moving messages between the broker and the holder.
type Wire struct {
	id   msg.ID
	attr sync.Map // arbitrary hook/auth state, keyed by string

	inbound  chan *msg.Message // holder -> broker
	outbound chan *msg.Message // broker -> holder

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}

	authMu sync.RWMutex
	auth   bool

	preAuthErrors int32
	missedPings   int32
}

// New creates a Wire with the given identity and queue depth. depth<=0
// uses DefaultQueueDepth.
func New(id msg.ID, depth int) *Wire {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Wire{
		id:       id,
		inbound:  make(chan *msg.Message, depth),
		outbound: make(chan *msg.Message, depth),
		closedCh: make(chan struct{}),
	}
}

// ID returns the wire's locally-unique identity.
func (w *Wire) ID() msg.ID { return w.id }

// Auth reports whether AUTH has succeeded for this wire.
func (w *Wire) Auth() bool {
	w.authMu.RLock()
	defer w.authMu.RUnlock()
	return w.auth
}

// SetAuth flips the auth flag, normally done once by the AUTH handler.
func (w *Wire) SetAuth(v bool) {
	w.authMu.Lock()
	w.auth = v
	w.authMu.Unlock()
}

// Attr returns an arbitrary attribute previously stored with SetAttr.
func (w *Wire) Attr(key string) (interface{}, bool) {
	return w.attr.Load(key)
}

// SetAttr stores an arbitrary attribute (hook/auth state carried alongside
// the wire, spec.md §3).
func (w *Wire) SetAttr(key string, value interface{}) {
	w.attr.Store(key, value)
}

// BumpPreAuthErrors increments the pre-AUTH protocol-error counter and
// returns the new count. spec.md §7.2: an unauthenticated wire is closed
// after its 3rd protocol error; the counter resets on successful AUTH via
// ResetPreAuthErrors.
func (w *Wire) BumpPreAuthErrors() int32 {
	return atomic.AddInt32(&w.preAuthErrors, 1)
}

// ResetPreAuthErrors clears the pre-AUTH protocol-error counter.
func (w *Wire) ResetPreAuthErrors() {
	atomic.StoreInt32(&w.preAuthErrors, 0)
}

// BumpMissedPings increments the connection's consecutive-missed-keepalive-
// PING counter and returns the new count (SPEC_FULL §13.6: the net adapter
// tracks this per connection and exposes it via QUERY).
func (w *Wire) BumpMissedPings() int32 {
	return atomic.AddInt32(&w.missedPings, 1)
}

// ResetMissedPings clears the missed-PING counter, called whenever the
// connection shows any sign of life.
func (w *Wire) ResetMissedPings() {
	atomic.StoreInt32(&w.missedPings, 0)
}

// MissedPings reports the current consecutive-missed-PING count.
func (w *Wire) MissedPings() int32 {
	return atomic.LoadInt32(&w.missedPings)
}

// Closed reports whether Close has been called.
func (w *Wire) Closed() bool {
	select {
	case <-w.closedCh:
		return true
	default:
		return false
	}
}

// CloseSignal returns a channel closed exactly once, when the wire closes.
func (w *Wire) CloseSignal() <-chan struct{} {
	return w.closedCh
}

// Close is idempotent; subsequent Send/Recv surface ErrClosed.
func (w *Wire) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.closedCh)
}

// --- holder-side API (the side outside the broker: a network adapter, an
// in-process application goroutine, or a Port) ---

// Send enqueues m on the inbound queue for the broker to process. Blocks
// while the queue is full; returns ErrClosed if the wire has closed.
func (w *Wire) Send(m *msg.Message) error {
	select {
	case <-w.closedCh:
		return ErrClosed
	default:
	}
	select {
	case w.inbound <- m:
		return nil
	case <-w.closedCh:
		return ErrClosed
	}
}

// Recv blocks until an outbound message is available or the wire closes.
func (w *Wire) Recv() (*msg.Message, error) {
	select {
	case m := <-w.outbound:
		return m, nil
	case <-w.closedCh:
		return nil, ErrClosed
	}
}

// TryRecv returns immediately: a message, or ok=false if none is queued.
func (w *Wire) TryRecv() (*msg.Message, bool) {
	select {
	case m := <-w.outbound:
		return m, true
	default:
		return nil, false
	}
}

// Wait blocks up to timeout for an outbound message. A nil, nil return
// means the timeout elapsed (spec.md 4.B: "wait returns the special value
// form on timeout").
func (w *Wire) Wait(timeout time.Duration) (*msg.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-w.outbound:
		return m, nil
	case <-w.closedCh:
		return nil, ErrClosed
	case <-t.C:
		return nil, nil
	}
}

// --- broker-side API (fabric reads Inbound, writes Outbound) ---

// Inbound exposes the channel the fabric reactor selects on to receive
// messages the holder sent.
func (w *Wire) Inbound() <-chan *msg.Message { return w.inbound }

// Deliver pushes m onto the outbound queue for the holder to Recv. Returns
// false (instead of blocking the reactor) if the queue is full or closed —
// the fabric never blocks on a slow consumer.
func (w *Wire) Deliver(m *msg.Message) bool {
	select {
	case <-w.closedCh:
		return false
	default:
	}
	select {
	case w.outbound <- m:
		return true
	default:
		return false
	}
}
