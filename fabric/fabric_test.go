package fabric

import (
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/require"

	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

func newTestSocket(t *testing.T) *Socket {
	s := New(nil)
	s.Run()
	t.Cleanup(s.Stop)
	return s
}

// mustAuth connects a new wire and drives it through AUTH, returning it
// ready for use.
func mustAuth(t *testing.T, s *Socket) *wire.Wire {
	t.Helper()
	w := s.Connect()
	require.Equal(t, true, w != nil)

	require.NoError(t, w.Send(msg.New().Set(msg.KeyChan, msg.ChanAuth).Set(msg.KeyID, msg.NewID())))
	reply, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, reply != nil)
	requireOK(t, reply)
	return w
}

// requireOK asserts reply is a success envelope: OK:0 present, CODE absent.
func requireOK(t *testing.T, reply *msg.Message) {
	t.Helper()
	_, hasCode := reply.Get(msg.KeyCode)
	require.Equal(t, false, hasCode)
	ok, hasOK := reply.GetInt32(msg.KeyOK)
	require.Equal(t, true, hasOK)
	require.Equal(t, int32(errcode.OK), ok)
}

func TestPingBeforeAuthSucceeds(t *testing.T) {
	s := newTestSocket(t)
	w := s.Connect()
	require.Equal(t, true, w != nil)

	require.NoError(t, w.Send(msg.New().Set(msg.KeyChan, msg.ChanPing).Set(msg.KeyID, msg.NewID())))
	reply, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, reply != nil)
	requireOK(t, reply)
	from, ok := reply.GetID(msg.KeyFrom)
	require.Equal(t, true, ok)
	require.Equal(t, w.ID(), from)
}

func TestAttachBeforeAuthIsUnauthorized(t *testing.T) {
	s := newTestSocket(t)
	w := s.Connect()
	require.Equal(t, true, w != nil)

	id := msg.NewID()
	require.NoError(t, w.Send(msg.New().
		Set(msg.KeyChan, msg.ChanAttach).
		Set(msg.KeyValue, "room1").
		Set(msg.KeyID, id)))
	reply, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, reply != nil)
	code, _ := reply.Get(msg.KeyCode)
	require.Equal(t, int32(errcode.Unauthorized), code)
}

func TestPublishWithNoSubscribersReturnsNoConsumers(t *testing.T) {
	s := newTestSocket(t)
	w := mustAuth(t, s)

	id := msg.NewID()
	require.NoError(t, w.Send(msg.New().Set(msg.KeyChan, "room1").Set(msg.KeyID, id).Set(msg.KeyValue, "hi")))
	reply, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, reply != nil)
	code, _ := reply.Get(msg.KeyCode)
	require.Equal(t, int32(errcode.NoConsumers), code)
}

func TestTwoWiresAttachAndPublish(t *testing.T) {
	s := newTestSocket(t)
	publisher := mustAuth(t, s)
	subscriber := mustAuth(t, s)

	require.NoError(t, subscriber.Send(msg.New().
		Set(msg.KeyChan, msg.ChanAttach).
		Set(msg.KeyValue, "room1").
		Set(msg.KeyID, msg.NewID())))
	_, err := subscriber.Wait(time.Second)
	require.NoError(t, err)

	id := msg.NewID()
	require.NoError(t, publisher.Send(msg.New().Set(msg.KeyChan, "room1").Set(msg.KeyID, id).Set(msg.KeyValue, "hi")))

	got, err := subscriber.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, got != nil)
	v, _ := got.GetString(msg.KeyValue)
	require.Equal(t, "hi", v)
}

func TestRPCCallViaToField(t *testing.T) {
	s := newTestSocket(t)
	a := mustAuth(t, s)
	b := mustAuth(t, s)

	id := msg.NewID()
	require.NoError(t, a.Send(msg.New().
		Set(msg.KeyChan, "rpc").
		Set(msg.KeyTo, b.ID()).
		Set(msg.KeyID, id).
		Set(msg.KeyValue, "ping")))

	got, err := b.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, got != nil)
	from, ok := got.GetID(msg.KeyFrom)
	require.Equal(t, true, ok)
	require.Equal(t, a.ID(), from)
}

func TestShareRoundRobinsAcrossSubscribers(t *testing.T) {
	s := newTestSocket(t)
	pub := mustAuth(t, s)
	subA := mustAuth(t, s)
	subB := mustAuth(t, s)

	for _, sub := range []*wire.Wire{subA, subB} {
		require.NoError(t, sub.Send(msg.New().
			Set(msg.KeyChan, msg.ChanAttach).
			Set(msg.KeyValue, "room1").
			Set(msg.KeyID, msg.NewID())))
		_, err := sub.Wait(time.Second)
		require.NoError(t, err)
	}

	seen := map[msg.ID]int{}
	for i := 0; i < 4; i++ {
		require.NoError(t, pub.Send(msg.New().Set(msg.KeyChan, "room1").Set(msg.KeyShare, true).Set(msg.KeyValue, i)))
	}
	time.Sleep(20 * time.Millisecond)
	for {
		m, ok := subA.TryRecv()
		if !ok {
			break
		}
		seen[subA.ID()]++
		_ = m
	}
	for {
		m, ok := subB.TryRecv()
		if !ok {
			break
		}
		seen[subB.ID()]++
		_ = m
	}
	require.Equal(t, 2, seen[subA.ID()])
	require.Equal(t, 2, seen[subB.ID()])
}

// TestAckWithoutIDStillGetsAReply covers scenario S3: a publish with ACK set
// and no ID gets a reply (NoConsumers here, since nothing is attached),
// with ACK echoed back rather than being silently dropped.
func TestAckWithoutIDStillGetsAReply(t *testing.T) {
	s := newTestSocket(t)
	w := mustAuth(t, s)

	require.NoError(t, w.Send(msg.New().Set(msg.KeyChan, "hello").Set(msg.KeyAck, "x")))
	reply, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, reply != nil)

	code, _ := reply.Get(msg.KeyCode)
	require.Equal(t, int32(errcode.NoConsumers), code)
	ack, ok := reply.GetString(msg.KeyAck)
	require.Equal(t, true, ok)
	require.Equal(t, "x", ack)
}

// TestPublisherNeverReceivesItsOwnMessage covers the §3 invariant: a wire
// attached to a channel does not see its own non-TO publish on it.
func TestPublisherNeverReceivesItsOwnMessage(t *testing.T) {
	s := newTestSocket(t)
	w := mustAuth(t, s)

	require.NoError(t, w.Send(msg.New().
		Set(msg.KeyChan, msg.ChanAttach).
		Set(msg.KeyValue, "room1").
		Set(msg.KeyID, msg.NewID())))
	_, err := w.Wait(time.Second)
	require.NoError(t, err)

	require.NoError(t, w.Send(msg.New().Set(msg.KeyChan, "room1").Set(msg.KeyValue, "hi")))

	time.Sleep(20 * time.Millisecond)
	_, ok := w.TryRecv()
	require.Equal(t, false, ok)
}

// TestBindMirrorsChannelRegardlessOfAttachment covers §4.D: a BIND-ed wire
// receives every un-TO message published on the channel even though it
// never ATTACHed (and so is not a normal subscriber of it).
func TestBindMirrorsChannelRegardlessOfAttachment(t *testing.T) {
	s := newTestSocket(t)
	pub := mustAuth(t, s)
	bound := mustAuth(t, s)

	require.NoError(t, bound.Send(msg.New().
		Set(msg.KeyChan, msg.ChanBind).
		Set(msg.KeyValue, "room1").
		Set(msg.KeyID, msg.NewID())))
	_, err := bound.Wait(time.Second)
	require.NoError(t, err)

	require.NoError(t, pub.Send(msg.New().Set(msg.KeyChan, "room1").Set(msg.KeyValue, "hi")))

	got, err := bound.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, got != nil)
	v, _ := got.GetString(msg.KeyValue)
	require.Equal(t, "hi", v)
}
