package httpadmin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/require"

	"github.com/socketfabric/broker/fabric"
	"github.com/socketfabric/broker/msg"
)

func newTestSocket(t *testing.T) *fabric.Socket {
	s := fabric.New(nil)
	s.Run()
	t.Cleanup(s.Stop)
	return s
}

func TestHealthzReturnsOK(t *testing.T) {
	a := New(newTestSocket(t), nil)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestStatsReflectsWireCount(t *testing.T) {
	socket := newTestSocket(t)
	a := New(socket, nil)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	w := socket.Connect()
	require.Equal(t, true, w != nil)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, float64(1), body["wires"])
}

func TestChannelsListsAttachedChannelNames(t *testing.T) {
	socket := newTestSocket(t)
	a := New(socket, nil)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	w := socket.Connect()
	require.Equal(t, true, w != nil)
	require.NoError(t, w.Send(msg.New().Set(msg.KeyChan, msg.ChanAuth).Set(msg.KeyID, msg.NewID())))
	_, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.NoError(t, w.Send(msg.New().
		Set(msg.KeyChan, msg.ChanAttach).
		Set(msg.KeyValue, "room1").
		Set(msg.KeyID, msg.NewID())))
	_, err = w.Wait(time.Second)
	require.NoError(t, err)

	var body map[string]any
	for i := 0; i < 20; i++ {
		resp, err := http.Get(srv.URL + "/channels")
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		if chans, ok := body["channels"].([]any); ok && len(chans) > 0 {
			require.Equal(t, "room1", chans[0])
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("room1 never appeared in /channels")
}

func TestWSHandlerMountedWhenProvided(t *testing.T) {
	called := false
	ws := func(w http.ResponseWriter, r *http.Request) { called = true }
	a := New(newTestSocket(t), ws)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, true, called)
}
