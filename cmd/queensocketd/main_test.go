package main

import (
	"testing"

	"github.com/cockroachdb/crlib/testutils/require"

	"github.com/socketfabric/broker/aead"
)

func TestParseMethodsAcceptsKnownNames(t *testing.T) {
	methods, err := parseMethods([]string{"chacha20poly1305", "aes128gcm"})
	require.NoError(t, err)
	require.Equal(t, 2, len(methods))
	require.Equal(t, aead.MethodChaCha20Poly1305, methods[0])
	require.Equal(t, aead.MethodAES128GCM, methods[1])
}

func TestParseMethodsRejectsUnknownName(t *testing.T) {
	_, err := parseMethods([]string{"rot13"})
	require.Error(t, err)
}

func TestParseMethodsEmptyReturnsNil(t *testing.T) {
	methods, err := parseMethods(nil)
	require.NoError(t, err)
	require.Equal(t, true, methods == nil)
}
