package msg

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// ID is a 12-byte identifier: 4-byte unix-second timestamp, 5 random bytes
// fixed at process start, 3-byte atomic counter. Locally unique always;
// globally unique with high probability, matching spec.md §3's "Wire"
// identity contract. Generation of *message* ids (the ID field value an
// RPC caller chooses) is assumed external per spec.md §1; this generator
// exists to mint the *wire_id* the broker stamps, which spec.md does not
// delegate to an external library.
type ID [12]byte

// Zero is the all-zero ID, used as a sentinel (e.g. "no FROM yet").
var Zero ID

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == Zero
}

var idGen = newIDGenerator()

type idGenerator struct {
	random  [5]byte
	counter uint32
}

func newIDGenerator() *idGenerator {
	g := &idGenerator{}
	_, _ = rand.Read(g.random[:])
	return g
}

// NewID mints a fresh ID. Safe for concurrent use from any goroutine
// (spec.md §5: "thread-safe (atomic counter + random seed)").
func NewID() ID {
	var id ID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], idGen.random[:])
	ctr := atomic.AddUint32(&idGen.counter, 1)
	id[9] = byte(ctr >> 16)
	id[10] = byte(ctr >> 8)
	id[11] = byte(ctr)
	return id
}

// IDFromBytes validates and wraps a 12-byte slice as an ID.
func IDFromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != 12 {
		return id, false
	}
	copy(id[:], b)
	return id, true
}
