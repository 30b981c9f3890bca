package fabric

import (
	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

// handleVerb dispatches one of the reserved protocol channels (spec.md
// §4.D): these never go through routing, they are answered directly by the
// fabric. Runs on the reactor goroutine.
func (s *Socket) handleVerb(w *wire.Wire, chanName string, m *msg.Message) {
	switch chanName {
	case msg.ChanAuth:
		s.handleAuth(w, m)
	case msg.ChanPing:
		s.handlePing(w, m)
	case msg.ChanAttach:
		s.handleAttach(w, m)
	case msg.ChanDetach:
		s.handleDetach(w, m)
	case msg.ChanBind:
		s.handleBind(w, m, true)
	case msg.ChanUnbind:
		s.handleBind(w, m, false)
	case msg.ChanQuery:
		s.handleQuery(w, m)
	case msg.ChanCustom:
		s.handleCustom(w, m)
	case msg.ChanKill:
		s.handleKill(w, m)
	case msg.ChanMine:
		s.handleMine(w, m)
	default:
		s.replyErr(w, chanName, errcode.InvalidChanFieldType, m)
	}
}

func (s *Socket) handleAuth(w *wire.Wire, m *msg.Message) {
	if !s.hook.Auth(w, m) {
		if w.BumpPreAuthErrors() >= 3 {
			w.Close()
			return
		}
		s.replyErr(w, msg.ChanAuth, errcode.AuthenticationFailed, m)
		return
	}
	w.SetAuth(true)
	w.ResetPreAuthErrors()
	s.replyOK(w, msg.ChanAuth, m)
}

func (s *Socket) handlePing(w *wire.Wire, m *msg.Message) {
	s.hook.Ping(w, m)
	s.replyOK(w, msg.ChanPing, m)
}

// Reserved verbs dispatch on CHAN (CHAN="ATTACH" etc.), so the channel
// they operate on travels in VALUE instead — CHAN cannot name both the
// verb and its target in the same message.
func (s *Socket) handleAttach(w *wire.Wire, m *msg.Message) {
	chanName, ok := m.GetString(msg.KeyValue)
	if !ok {
		s.replyErr(w, msg.ChanAttach, errcode.InvalidChanFieldType, m)
		return
	}
	labels := m.GetLabels()
	if !s.hook.Attach(w, m, chanName, labels) {
		s.replyErr(w, msg.ChanAttach, errcode.PermissionDenied, m)
		return
	}
	s.attach(w, chanName, labels)
	s.replyOK(w, msg.ChanAttach, m)
}

func (s *Socket) handleDetach(w *wire.Wire, m *msg.Message) {
	chanName, ok := m.GetString(msg.KeyValue)
	if !ok {
		s.replyErr(w, msg.ChanDetach, errcode.InvalidChanFieldType, m)
		return
	}
	labels := m.GetLabels()
	if !s.hook.Detach(w, m, chanName, labels) {
		s.replyErr(w, msg.ChanDetach, errcode.PermissionDenied, m)
		return
	}
	s.detach(w, chanName, labels)
	s.replyOK(w, msg.ChanDetach, m)
}

// handleBind implements BIND/UNBIND (spec.md §4.D): a bound wire receives a
// mirror of every un-TO message published on chanName regardless of its own
// channel/label subscriptions or SHARE's round-robin pick — used by Bridge
// to mirror a whole channel unconditionally.
func (s *Socket) handleBind(w *wire.Wire, m *msg.Message, bind bool) {
	chanName, ok := m.GetString(msg.KeyValue)
	if !ok {
		verb := msg.ChanUnbind
		if bind {
			verb = msg.ChanBind
		}
		s.replyErr(w, verb, errcode.InvalidChanFieldType, m)
		return
	}
	verb := msg.ChanUnbind
	if bind {
		verb = msg.ChanBind
		subs, ok := s.binds[chanName]
		if !ok {
			subs = make(map[msg.ID]struct{})
			s.binds[chanName] = subs
		}
		subs[w.ID()] = struct{}{}
	} else {
		delete(s.binds[chanName], w.ID())
		if len(s.binds[chanName]) == 0 {
			delete(s.binds, chanName)
		}
	}
	s.replyOK(w, verb, m)
}

// handleQuery answers introspection requests (supplemented feature: VALUE
// selects "wires", "chans", or — absent — a full snapshot of both).
func (s *Socket) handleQuery(w *wire.Wire, m *msg.Message) {
	reply := msg.New().Set(msg.KeyOK, int32(errcode.OK))
	echoRequest(reply, m)

	value, _ := m.GetString(msg.KeyValue)
	switch value {
	case "wires":
		reply.Set(msg.KeyValue, s.queryWires())
	case "chans":
		reply.Set(msg.KeyValue, s.queryChans())
	default:
		reply.Set(msg.KeyValue, msg.New().
			Set("wires", s.queryWires()).
			Set("chans", s.queryChans()))
	}

	s.hook.Query(s, w, reply)
	s.deliverReply(w, msg.ChanQuery, reply)
}

// queryWires reports every connected wire's id alongside its consecutive
// missed-keepalive-PING count (SPEC_FULL §13.6).
func (s *Socket) queryWires() []msg.Value {
	out := make([]msg.Value, 0, len(s.wires))
	for id, w := range s.wires {
		out = append(out, msg.New().
			Set("wire_id", id).
			Set("missed_pings", w.MissedPings()))
	}
	return out
}

func (s *Socket) queryChans() []msg.Value {
	out := make([]msg.Value, 0, len(s.chans))
	for name := range s.chans {
		out = append(out, name)
	}
	return out
}

func (s *Socket) handleCustom(w *wire.Wire, m *msg.Message) {
	s.hook.Custom(w, m)
	m.Set(msg.KeyOK, int32(errcode.OK))
	s.deliverReply(w, msg.ChanCustom, m)
}

// handleKill implements supplemented feature: a wire may always kill
// itself (no hook check — there is nothing to protect against), but
// killing another wire is hook-gated.
func (s *Socket) handleKill(w *wire.Wire, m *msg.Message) {
	targetID, ok := m.GetID(msg.KeyTo)
	if !ok || targetID == w.ID() {
		s.replyOK(w, msg.ChanKill, m)
		s.notifyClosed(w.ID())
		w.Close()
		return
	}

	target, ok := s.wires[targetID]
	if !ok {
		s.replyErr(w, msg.ChanKill, errcode.WireNotExist, m)
		return
	}
	if !s.hook.Kill(w, m) {
		s.replyErr(w, msg.ChanKill, errcode.PermissionDenied, m)
		return
	}
	s.replyOK(w, msg.ChanKill, m)
	s.sweepWire(target.ID())
}

// handleMine reports w's own identity and current attachment set —
// supplemented feature: the reply includes every {chan, label} pair w is
// attached to, not just its id.
func (s *Socket) handleMine(w *wire.Wire, m *msg.Message) {
	reply := msg.New().Set(msg.KeyOK, int32(errcode.OK))
	echoRequest(reply, m)
	reply.Set("wire_id", w.ID())

	attachments := s.attachmentsFor(w.ID())
	attachValues := make([]msg.Value, 0, len(attachments))
	for chanName, labels := range attachments {
		entry := msg.New().Set(msg.KeyChan, chanName)
		ls := make([]msg.Value, 0, len(labels))
		for _, l := range labels {
			ls = append(ls, l)
		}
		entry.Set(msg.KeyLabel, ls)
		attachValues = append(attachValues, entry)
	}
	reply.Set("attach", attachValues)

	s.deliverReply(w, msg.ChanMine, reply)
}
