package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/require"

	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/msg"
)

type loopbackSender struct {
	caller *Caller
}

func (l *loopbackSender) Send(m *msg.Message) error {
	// Simulate a server replying immediately, looping the reply straight
	// back through Dispatch as a real Port's read loop would.
	reply := msg.New().Set(msg.KeyOK, int32(0))
	if id, ok := m.GetID(msg.KeyID); ok {
		reply.Set(msg.KeyID, id)
	}
	reply.Set(msg.KeyValue, "pong")
	go l.caller.Dispatch(reply)
	return nil
}

func TestCallRoundTrip(t *testing.T) {
	caller := NewCaller()
	sender := &loopbackSender{caller: caller}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := caller.Call(ctx, sender, "echo", "ping")
	require.NoError(t, err)
	v, _ := reply.GetString(msg.KeyValue)
	require.Equal(t, "pong", v)
}

func TestCallTimesOutWithoutReply(t *testing.T) {
	caller := NewCaller()
	sender := &noopSender{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := caller.Call(ctx, sender, "echo", "ping")
	require.Error(t, err)
}

type noopSender struct{}

func (noopSender) Send(*msg.Message) error { return nil }

func TestRegistryDispatchesAndRepliesOK(t *testing.T) {
	reg := NewRegistry()
	reg.Add("echo", func(ctx context.Context, req *msg.Message) (msg.Value, error) {
		v, _ := req.GetString(msg.KeyValue)
		return v + "!", nil
	})

	from := msg.NewID()
	id := msg.NewID()
	req := msg.New().
		Set(msg.KeyChan, "echo").
		Set(msg.KeyID, id).
		Set(msg.KeyFrom, from).
		Set(msg.KeyValue, "hi")

	reply, ok := reg.Dispatch(req)
	require.Equal(t, true, ok)
	okField, hasOK := reply.GetInt32(msg.KeyOK)
	require.Equal(t, true, hasOK)
	require.Equal(t, int32(0), okField)
	to, _ := reply.GetID(msg.KeyTo)
	require.Equal(t, from, to)
}

func TestRegistryDispatchMissReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Dispatch(msg.New().Set(msg.KeyChan, "unregistered"))
	require.Equal(t, false, ok)
}

func TestRegistryRecoversPanickingHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Add("boom", func(ctx context.Context, req *msg.Message) (msg.Value, error) {
		panic("kaboom")
	})

	reply, ok := reg.Dispatch(msg.New().Set(msg.KeyChan, "boom").Set(msg.KeyID, msg.NewID()))
	require.Equal(t, true, ok)
	code, hasCode := reply.GetInt32(msg.KeyCode)
	require.Equal(t, true, hasCode)
	require.Equal(t, int32(errcode.HandlerPanic), code)
}
