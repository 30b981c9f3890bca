package aead

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/crlib/testutils/require"
)

func TestRoundTripPlain(t *testing.T) {
	d, err := NewDirection(MethodNone, nil)
	require.NoError(t, err)

	// Plaintext frames are the message bytes themselves, so the payload
	// carries its own 4-byte little-endian length prefix.
	body := []byte("hello world, this is a test message")
	payload := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(payload)))
	copy(payload[4:], body)
	var buf bytes.Buffer
	require.NoError(t, d.WriteFrame(&buf, payload))

	got, err := d.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestRoundTripEachMethod(t *testing.T) {
	methods := []Method{MethodChaCha20Poly1305, MethodAES128GCM, MethodAES256GCM}
	for _, m := range methods {
		secret := []byte("shared-secret-for-" + string(m))

		sender, err := NewDirection(m, secret)
		require.NoError(t, err)
		receiver, err := NewDirection(m, secret)
		require.NoError(t, err)

		payload := []byte("top secret payload bytes")
		var buf bytes.Buffer
		require.NoError(t, sender.WriteFrame(&buf, payload))

		got, err := receiver.ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}

func TestDecryptFailsWithDifferentNonce(t *testing.T) {
	secret := []byte("shared-secret")
	sender, err := NewDirection(MethodChaCha20Poly1305, secret)
	require.NoError(t, err)
	receiver, err := NewDirection(MethodChaCha20Poly1305, secret)
	require.NoError(t, err)

	// Rebind the receiver to a different starting nonce than the sender.
	require.NoError(t, receiver.SetNonce([]byte("123456789012")))

	var buf bytes.Buffer
	require.NoError(t, sender.WriteFrame(&buf, []byte("payload")))

	_, err = receiver.ReadFrame(&buf)
	require.Error(t, err)
}

func TestBitFlipClosesConnection(t *testing.T) {
	secret := []byte("s")
	sender, err := NewDirection(MethodAES128GCM, secret)
	require.NoError(t, err)
	receiver, err := NewDirection(MethodAES128GCM, secret)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sender.WriteFrame(&buf, []byte("payload")))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip a bit in the trailing AEAD tag

	_, err = receiver.ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestInvalidLengthPrefixRejected(t *testing.T) {
	d, err := NewDirection(MethodNone, nil)
	require.NoError(t, err)

	var lenBuf [4]byte
	lenBuf[0] = 2 // length 2, below the minimum of 5
	_, err = d.ReadFrame(bytes.NewReader(lenBuf[:]))
	require.Error(t, err)
}

func TestKeyDerivationLengths(t *testing.T) {
	key, err := DeriveKey(MethodAES128GCM, []byte("s"))
	require.NoError(t, err)
	require.Equal(t, 16, len(key))

	key, err = DeriveKey(MethodAES256GCM, []byte("s"))
	require.NoError(t, err)
	require.Equal(t, 32, len(key))

	key, err = DeriveKey(MethodChaCha20Poly1305, []byte("s"))
	require.NoError(t, err)
	require.Equal(t, 32, len(key))
}
