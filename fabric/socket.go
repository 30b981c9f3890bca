// Package fabric implements spec.md component 4.C, the Socket Fabric: a
// single-goroutine reactor owning the wire registry, the channel/label
// index, the routing algorithm, and hook dispatch.
//
// Grounded on relaydns/server.go's reactor shape — a dedicated goroutine
// driven by a single inbox channel plus a ticker for periodic bookkeeping,
// mutating its maps only on that goroutine and handing out read-only
// snapshots to callers — and relaydns/director.go's mirrored-state pattern.
package fabric

import (
	"context"
	"sync"

	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

// inboundEnvelope carries one message from a wire's pump goroutine into the
// single reactor inbox, the Go-idiomatic equivalent of spec.md 5's
// "readiness signal per wire's inbound queue (a waker file descriptor)".
type inboundEnvelope struct {
	wireID msg.ID
	m      *msg.Message
}

type controlKind int

const (
	controlRegister controlKind = iota
	controlWireClosed
)

type controlMsg struct {
	kind controlKind
	w    *wire.Wire  // set for controlRegister
	id   msg.ID      // set for controlWireClosed
}

// Socket is the broker: it owns the wire registry, the channel/label
// indices, the bind registry, and the SHARE round-robin cursors. All
// mutation happens on the single reactor goroutine started by Run.
type Socket struct {
	hook Hook

	inbox   chan inboundEnvelope
	control chan controlMsg

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// --- reactor-goroutine-only state below; never touched elsewhere ---
	wires   map[msg.ID]*wire.Wire
	chans   map[string]map[msg.ID]struct{}            // channel -> subscribers
	labels  map[string]map[string]map[msg.ID]struct{} // channel -> label -> subscribers
	binds   map[string]map[msg.ID]struct{}            // channel -> bound wires (BIND verb)
	cursors map[string]int                            // channel -> SHARE round-robin cursor

	attachments map[msg.ID]map[string]map[string]struct{} // wire -> channel -> label set

	// snapshot published for cheap reads from other goroutines, guarded by
	// countersMu (readers take only the read lock, never the reactor).
	countersMu   sync.RWMutex
	wireCount    int
	channelNames []string
	wireSnapshot []*wire.Wire
}

// New creates a Socket. A nil hook installs DefaultHook (allow-everything).
func New(hook Hook) *Socket {
	if hook == nil {
		hook = DefaultHook{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		hook:    hook,
		inbox:   make(chan inboundEnvelope, 1024),
		control: make(chan controlMsg, 16),
		ctx:     ctx,
		cancel:  cancel,
		wires:   make(map[msg.ID]*wire.Wire),
		chans:   make(map[string]map[msg.ID]struct{}),
		labels:  make(map[string]map[string]map[msg.ID]struct{}),
		binds:       make(map[string]map[msg.ID]struct{}),
		cursors:     make(map[string]int),
		attachments: make(map[msg.ID]map[string]map[string]struct{}),
	}
}

// Run starts the reactor goroutine. Call once; Stop shuts it down.
func (s *Socket) Run() {
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the reactor and waits for it, and every wire pump, to drain.
func (s *Socket) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Socket) loop() {
	defer s.wg.Done()
	for {
		select {
		case env := <-s.inbox:
			s.handleInbound(env.wireID, env.m)
		case cm := <-s.control:
			s.handleControl(cm)
		case <-s.ctx.Done():
			return
		}
	}
}

// Connect creates a new Wire, asks the hook whether to accept it, and — if
// accepted — registers it with the reactor and starts the goroutine pumping
// its inbound queue into the reactor's inbox. Returns nil if the hook
// refused the connection.
func (s *Socket) Connect() *wire.Wire {
	w := wire.New(msg.NewID(), wire.DefaultQueueDepth)
	if !s.hook.Accept(w) {
		w.Close()
		return nil
	}

	select {
	case s.control <- controlMsg{kind: controlRegister, w: w}:
	case <-s.ctx.Done():
		w.Close()
		return nil
	}

	s.wg.Add(1)
	go s.pump(w)

	return w
}

// handleControl runs on the reactor goroutine; it is the only place that
// mutates s.wires and the derived indices alongside handleInbound.
func (s *Socket) handleControl(cm controlMsg) {
	switch cm.kind {
	case controlRegister:
		s.wires[cm.w.ID()] = cm.w
		s.publishWireCount()
	case controlWireClosed:
		s.sweepWire(cm.id)
		s.publishWireCount()
	}
}

func (s *Socket) publishWireCount() {
	snap := make([]*wire.Wire, 0, len(s.wires))
	for _, w := range s.wires {
		snap = append(snap, w)
	}
	s.countersMu.Lock()
	s.wireCount = len(s.wires)
	s.wireSnapshot = snap
	s.countersMu.Unlock()
}

// publishChannels refreshes the channel-name snapshot ChannelNames
// reads; called on the reactor goroutine whenever s.chans changes.
func (s *Socket) publishChannels() {
	names := make([]string, 0, len(s.chans))
	for name := range s.chans {
		names = append(names, name)
	}
	s.countersMu.Lock()
	s.channelNames = names
	s.countersMu.Unlock()
}

func (s *Socket) pump(w *wire.Wire) {
	defer s.wg.Done()
	for {
		select {
		case m, ok := <-w.Inbound():
			if !ok {
				s.notifyClosed(w.ID())
				return
			}
			select {
			case s.inbox <- inboundEnvelope{wireID: w.ID(), m: m}:
			case <-s.ctx.Done():
				return
			}
		case <-w.CloseSignal():
			s.notifyClosed(w.ID())
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Socket) notifyClosed(id msg.ID) {
	select {
	case s.control <- controlMsg{kind: controlWireClosed, id: id}:
	case <-s.ctx.Done():
	}
}

// WireCount returns the published snapshot of the registry size, read under
// countersMu's read lock.
func (s *Socket) WireCount() int {
	s.countersMu.RLock()
	defer s.countersMu.RUnlock()
	return s.wireCount
}

// ChannelNames returns a copy of the published snapshot of every channel
// with at least one subscriber, for httpadmin's /channels endpoint.
func (s *Socket) ChannelNames() []string {
	s.countersMu.RLock()
	defer s.countersMu.RUnlock()
	out := make([]string, len(s.channelNames))
	copy(out, s.channelNames)
	return out
}

// WireStat is a read-only snapshot of one connected wire's liveness state.
type WireStat struct {
	ID          msg.ID
	MissedPings int32
}

// WireStats returns every connected wire's id and consecutive
// missed-keepalive-PING count (SPEC_FULL §13.6): the wire list is taken from
// the published snapshot under countersMu's read lock, and each count is read
// directly off the wire's atomic counter — safe from any goroutine since the
// wire pointers themselves never change once published.
func (s *Socket) WireStats() []WireStat {
	s.countersMu.RLock()
	snap := s.wireSnapshot
	s.countersMu.RUnlock()

	out := make([]WireStat, len(snap))
	for i, w := range snap {
		out[i] = WireStat{ID: w.ID(), MissedPings: w.MissedPings()}
	}
	return out
}

// HookFor exposes the installed Hook, e.g. for tests.
func (s *Socket) HookFor() Hook { return s.hook }
