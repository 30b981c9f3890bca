package fabric

import (
	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

// preAuthWhitelist holds the only channels an unauthenticated wire may use
// (spec.md §4.C: "before AUTH succeeds, only AUTH and PING are accepted").
var preAuthWhitelist = map[string]bool{
	msg.ChanAuth: true,
	msg.ChanPing: true,
}

// handleInbound is the single entry point for every message the reactor
// receives, from any wire. It stamps FROM, enforces the pre-auth verb
// whitelist, runs hook.Recv, and then either dispatches a reserved verb or
// routes the message per spec.md §4.C.
func (s *Socket) handleInbound(wireID msg.ID, m *msg.Message) {
	w, ok := s.wires[wireID]
	if !ok {
		return
	}

	m.Set(msg.KeyFrom, wireID)

	chanName, hasChan := m.GetString(msg.KeyChan)
	if !hasChan {
		s.bumpOrClose(w, m, errcode.InvalidChanFieldType)
		return
	}

	if !w.Auth() && !preAuthWhitelist[chanName] {
		s.bumpOrClose(w, m, errcode.Unauthorized)
		return
	}

	if !s.hook.Recv(w, m) {
		return
	}

	if msg.IsReserved(chanName) {
		s.handleVerb(w, chanName, m)
		return
	}

	s.route(w, chanName, m)
}

// bumpOrClose answers a protocol error with an ERR reply, then closes the
// wire once it has accumulated 3 such errors while still unauthenticated
// (spec.md §7.2).
func (s *Socket) bumpOrClose(w *wire.Wire, m *msg.Message, code errcode.Code) {
	s.replyErr(w, "", code, m)
	if !w.Auth() && w.BumpPreAuthErrors() >= 3 {
		w.Close()
	}
}

// route implements spec.md §4.C's forwarding algorithm: TO takes priority
// over CHAN; TO fans out to forward_to_ids, otherwise the message goes to
// forward_to_channel. A reply is sent whenever the caller asked for one —
// by supplying ID (to correlate a request) or ACK (scenario S3: "if ACK
// present and non-empty, reply to sender with {OK:0, ACK:<echo>}").
func (s *Socket) route(w *wire.Wire, chanName string, m *msg.Message) {
	_, hasID := m.GetID(msg.KeyID)
	_, hasAck := ackValue(m)
	wantsReply := hasID || hasAck

	if toIDs := m.GetToIDs(); len(toIDs) > 0 {
		s.forwardToIDs(w, m, toIDs)
		if wantsReply {
			s.replyOK(w, chanName, m)
		}
		return
	}

	delivered := s.forwardToChannel(w, chanName, m)
	s.mirrorToBinds(w, chanName, m)
	if !wantsReply {
		return
	}
	if delivered == 0 {
		s.replyErr(w, chanName, errcode.NoConsumers, m)
		return
	}
	s.replyOK(w, chanName, m)
}

// forwardToChannel delivers m to chanName's subscribers, narrowed by LABEL
// if present, always excluding the sender itself (spec.md §3: "a wire never
// sees its own published message unless it also TO-addresses itself", which
// forward_to_channel never does). SHARE=true picks exactly one recipient
// from the filtered set via a deterministic per-channel round-robin cursor
// instead of broadcast (spec.md §4.C, Open Question 2: SHARE and LABEL
// compose by picking one within the label-filtered set). Returns the number
// of wires the message was actually delivered to.
func (s *Socket) forwardToChannel(w *wire.Wire, chanName string, m *msg.Message) int {
	labels := m.GetLabels()
	subs := s.subscribersFor(chanName, labels)
	if len(subs) == 0 {
		return 0
	}

	share, _ := m.GetBool(msg.KeyShare)
	ids := excludeSelf(sortedSubscriberIDs(subs), w.ID())
	if len(ids) == 0 {
		return 0
	}

	if share {
		recipient := s.pickShareRecipient(chanName, ids)
		return s.deliverTo(w, chanName, m, []msg.ID{recipient})
	}
	return s.deliverTo(w, chanName, m, ids)
}

// mirrorToBinds delivers m to every wire bound to chanName via BIND,
// independent of the subscriber/label/SHARE filters above (spec.md §4.D:
// "all un-TO messages published on a given channel also mirror to the bound
// wire, used by Bridge"). Bind delivery never affects the NoConsumers/ACK
// accounting in route — it is a side channel, not a subscription.
func (s *Socket) mirrorToBinds(w *wire.Wire, chanName string, m *msg.Message) {
	bound, ok := s.binds[chanName]
	if !ok || len(bound) == 0 {
		return
	}
	for id := range bound {
		if id == w.ID() {
			continue
		}
		s.deliverOne(w, m, id)
	}
}

// excludeSelf returns ids with self removed, preserving order.
func excludeSelf(ids []msg.ID, self msg.ID) []msg.ID {
	out := ids[:0:0]
	for _, id := range ids {
		if id == self {
			continue
		}
		out = append(out, id)
	}
	return out
}

// pickShareRecipient returns the id at chanName's round-robin cursor
// (wrapped modulo len(ids)) and then advances the cursor by one.
func (s *Socket) pickShareRecipient(chanName string, ids []msg.ID) msg.ID {
	cursor := s.cursors[chanName] % len(ids)
	s.cursors[chanName] = cursor + 1
	return ids[cursor]
}

// forwardToIDs delivers m to each explicit TO recipient, recording any
// that no longer exist (spec.md §4.C: "unreachable recipients are recorded
// under UNREACHABLE rather than failing the whole send").
func (s *Socket) forwardToIDs(w *wire.Wire, m *msg.Message, ids []msg.ID) {
	var unreachable []msg.Value
	for _, id := range ids {
		if !s.deliverOne(w, m, id) {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 {
		m.Set("UNREACHABLE", unreachable)
	}
}

// deliverTo delivers m to every id in ids, running hook.Send per candidate.
func (s *Socket) deliverTo(w *wire.Wire, chanName string, m *msg.Message, ids []msg.ID) int {
	delivered := 0
	for _, id := range ids {
		if s.deliverOne(w, m, id) {
			delivered++
		}
	}
	return delivered
}

func (s *Socket) deliverOne(w *wire.Wire, m *msg.Message, id msg.ID) bool {
	target, ok := s.wires[id]
	if !ok {
		return false
	}
	if !s.hook.Send(target, m) {
		return false
	}
	return target.Deliver(m)
}
