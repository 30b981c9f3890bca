package port

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/require"

	"github.com/socketfabric/broker/aead"
	"github.com/socketfabric/broker/msg"
)

// fakeBroker answers exactly one HANDSHAKE plaintext request with OK:0,
// then echoes every subsequent frame back unchanged — enough to exercise
// Port's handshake, Send, and readLoop without a real fabric.Socket. Runs
// on its own goroutine, so it reports failures by closing the connection
// rather than calling t.Fatal (unsafe off the test's main goroutine).
func fakeBroker(conn net.Conn) {
	plain, err := aead.NewDirection(aead.MethodNone, nil)
	if err != nil {
		conn.Close()
		return
	}

	frame, err := plain.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return
	}
	if _, err := msg.Decode(frame); err != nil {
		conn.Close()
		return
	}

	reply := msg.New().Set(msg.KeyOK, int32(0)).Set(msg.KeyHandshake, "")
	buf, err := msg.Encode(reply)
	if err != nil {
		conn.Close()
		return
	}
	if err := plain.WriteFrame(conn, buf); err != nil {
		conn.Close()
		return
	}

	for {
		frame, err := plain.ReadFrame(conn)
		if err != nil {
			return
		}
		if err := plain.WriteFrame(conn, frame); err != nil {
			return
		}
	}
}

func TestPortHandshakeAndEcho(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	go fakeBroker(serverConn)

	p, err := newPort(clientConn, Options{AEAD: aead.MethodNone})
	require.NoError(t, err)
	defer p.Close()

	id := msg.NewID()
	require.NoError(t, p.Send(msg.New().Set(msg.KeyChan, "room1").Set(msg.KeyID, id).Set(msg.KeyValue, "hi")))

	got, err := p.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, got != nil)
	v, _ := got.GetString(msg.KeyValue)
	require.Equal(t, "hi", v)
}

func TestPortBindSendsBindVerb(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	go fakeBroker(serverConn)

	p, err := newPort(clientConn, Options{AEAD: aead.MethodNone})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Bind("room1"))

	got, err := p.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, true, got != nil)
	chanName, _ := got.GetString(msg.KeyChan)
	require.Equal(t, msg.ChanBind, chanName)
	value, _ := got.GetString(msg.KeyValue)
	require.Equal(t, "room1", value)
}

func TestPortCallDispatchesBeforeInbox(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	go fakeBroker(serverConn)

	p, err := newPort(clientConn, Options{AEAD: aead.MethodNone})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := p.Call(ctx, "rpc", "ping")
	require.NoError(t, err)
	v, _ := reply.GetString(msg.KeyValue)
	require.Equal(t, "ping", v)
}
