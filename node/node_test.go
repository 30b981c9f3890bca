package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/require"

	"github.com/socketfabric/broker/aead"
	"github.com/socketfabric/broker/fabric"
	"github.com/socketfabric/broker/msg"
)

func TestNegotiatePlaintextHandshake(t *testing.T) {
	socket := fabric.New(nil)
	socket.Run()
	t.Cleanup(socket.Stop)

	n := New(socket, nil)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	w := socket.Connect()
	require.Equal(t, true, w != nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.negotiate(serverConn, w)
	}()

	plain, err := aead.NewDirection(aead.MethodNone, nil)
	require.NoError(t, err)

	req := msg.New().Set(msg.KeyHandshake, string(aead.MethodNone))
	buf, err := msg.Encode(req)
	require.NoError(t, err)
	require.NoError(t, plain.WriteFrame(clientConn, buf))

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	frame, err := plain.ReadFrame(clientConn)
	require.NoError(t, err)

	reply, err := msg.Decode(frame)
	require.NoError(t, err)
	ok, hasOK := reply.GetInt32(msg.KeyOK)
	require.Equal(t, true, hasOK)
	require.Equal(t, int32(0), ok)
	_, hasCode := reply.Get(msg.KeyCode)
	require.Equal(t, false, hasCode)

	<-done
}

func TestNegotiateRejectsUnknownAccessKey(t *testing.T) {
	socket := fabric.New(nil)
	socket.Run()
	t.Cleanup(socket.Stop)

	n := New(socket, func(string) ([]byte, bool) { return nil, false })
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	w := socket.Connect()
	require.Equal(t, true, w != nil)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := n.negotiate(serverConn, w)
		errCh <- err
	}()

	plain, err := aead.NewDirection(aead.MethodNone, nil)
	require.NoError(t, err)
	req := msg.New().
		Set(msg.KeyHandshake, string(aead.MethodChaCha20Poly1305)).
		Set(msg.KeyAccess, "bogus")
	buf, err := msg.Encode(req)
	require.NoError(t, err)
	require.NoError(t, plain.WriteFrame(clientConn, buf))

	require.Error(t, <-errCh)
}

// TestPumpInboundSendsPingOnIdleAndClosesAfterMaxMissed covers §4.E: an idle
// connection gets a PING queued to it, and the wire's missed-PING counter
// (surfaced via QUERY/httpadmin's /stats, SPEC_FULL §13.6) closes it once
// it reaches MaxMissed.
func TestPumpInboundSendsPingOnIdleAndClosesAfterMaxMissed(t *testing.T) {
	socket := fabric.New(nil)
	socket.Run()
	t.Cleanup(socket.Stop)

	n := New(socket, nil)
	n.KeepAlive = KeepAlive{IdleTimeout: 20 * time.Millisecond, MaxMissed: 2}

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	w := socket.Connect()
	require.Equal(t, true, w != nil)

	dir, err := aead.NewDirection(aead.MethodNone, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.pumpInbound(ctx, serverConn, dir, w)
	}()

	got, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, got != nil)
	chanName, _ := got.GetString(msg.KeyChan)
	require.Equal(t, msg.ChanPing, chanName)

	<-done
	require.Equal(t, true, w.Closed())
}
