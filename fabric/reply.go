package fabric

import (
	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

// ackValue returns req's ACK field, treating an empty string as absent
// (spec.md §3: "if present, server returns an OK acknowledgement with ACK
// echoed"; a present-but-empty ACK does not request one).
func ackValue(req *msg.Message) (msg.Value, bool) {
	v, ok := req.Get(msg.KeyAck)
	if !ok {
		return nil, false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return nil, false
	}
	return v, true
}

// echoRequest copies ID and ACK from req onto reply, spec.md §4.D's "if the
// originator supplied ID, it is echoed into the reply" plus the ACK
// acknowledgement above.
func echoRequest(reply, req *msg.Message) {
	if id, ok := req.GetID(msg.KeyID); ok && !id.IsZero() {
		reply.Set(msg.KeyID, id)
	}
	if ack, ok := ackValue(req); ok {
		reply.Set(msg.KeyAck, ack)
	}
}

// reply builds the envelope spec.md §4.D mandates: a bare numeric OK field
// on success, or CODE plus an ERROR text field on failure — never both
// (spec.md §3 "OK / CODE: result code (0 = success)"; §4.D "every reply
// carries either OK:0 or CODE:<n>").
func reply(code errcode.Code, req *msg.Message) *msg.Message {
	m := msg.New()
	if code == errcode.OK {
		m.Set(msg.KeyOK, int32(errcode.OK))
	} else {
		m.Set(msg.KeyCode, int32(code)).Set(msg.KeyError, code.String())
	}
	echoRequest(m, req)
	return m
}

// deliverReply stamps the destination channel and FROM (the wire's own id,
// spec.md scenario S1: "{OK:0, FROM:<W.wire_id>}") onto a reply and pushes
// it to w's outbound queue, dropping it (rather than blocking the reactor)
// if w's queue is full or already closed.
func (s *Socket) deliverReply(w *wire.Wire, chanName string, reply *msg.Message) {
	reply.Set(msg.KeyChan, chanName).Set(msg.KeyFrom, w.ID())
	w.Deliver(reply)
}

func (s *Socket) replyOK(w *wire.Wire, chanName string, req *msg.Message) {
	s.deliverReply(w, chanName, reply(errcode.OK, req))
}

func (s *Socket) replyErr(w *wire.Wire, chanName string, code errcode.Code, req *msg.Message) {
	s.deliverReply(w, chanName, reply(code, req))
}
