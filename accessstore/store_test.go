package accessstore

import (
	"testing"

	"github.com/cockroachdb/crlib/testutils/require"
)

func TestPutAndLookupRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("client-1", []byte("s3cr3t")))

	secret, ok := s.Lookup("client-1")
	require.Equal(t, true, ok)
	require.Equal(t, "s3cr3t", string(secret))
}

func TestLookupMissingKeyReturnsFalse(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Lookup("nope")
	require.Equal(t, false, ok)
}

func TestDeleteRemovesKey(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("client-1", []byte("s3cr3t")))
	require.NoError(t, s.Delete("client-1"))

	_, ok := s.Lookup("client-1")
	require.Equal(t, false, ok)
}
