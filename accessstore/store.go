// Package accessstore backs the Net Adapter's ACCESS-key lookup with an
// embedded, at-rest key/value store: this is credential material for the
// HANDSHAKE exchange, not message persistence, so it does not reintroduce
// the restart-survival the fabric itself deliberately lacks (spec.md
// Non-goals).
//
// Grounded on cmd/relay-server/certmanager.go's at-rest-secret-material
// role (cert/key bytes kept alongside the server rather than re-derived
// per connection) and the teacher's go.mod direct dependency on
// github.com/cockroachdb/pebble.
package accessstore

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound names an absent access key. Neither Lookup nor Delete returns
// it: Lookup reports absence with ok=false, and Delete of an absent key
// succeeds.
var ErrNotFound = errors.New("accessstore: access key not found")

// Store maps ACCESS keys to shared secrets in a pebble-backed KV store.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a pebble store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores secret under accessKey, overwriting any existing value.
func (s *Store) Put(accessKey string, secret []byte) error {
	return s.db.Set([]byte(accessKey), secret, pebble.Sync)
}

// Delete removes accessKey, if present.
func (s *Store) Delete(accessKey string) error {
	return s.db.Delete([]byte(accessKey), pebble.Sync)
}

// Lookup returns the shared secret for accessKey. Satisfies
// node.AccessLookup's signature directly.
func (s *Store) Lookup(accessKey string) ([]byte, bool) {
	val, closer, err := s.db.Get([]byte(accessKey))
	if err != nil {
		return nil, false
	}
	defer closer.Close()

	secret := make([]byte, len(val))
	copy(secret, val)
	return secret, true
}
