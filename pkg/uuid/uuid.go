// Package uuid generates time-ordered UUIDs for request tracking.
package uuid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// UUID is a 16 byte identifier.
type UUID [16]byte

var (
	mu       sync.Mutex
	lastNano int64
	clockSeq uint16
	nodeID   [6]byte
	seeded   bool
)

// TimeUUID returns a UUID whose leading bytes are derived from the
// current time, so identifiers sort roughly by creation order.
func TimeUUID() UUID {
	mu.Lock()
	defer mu.Unlock()

	if !seeded {
		var b [8]byte
		_, _ = rand.Read(b[:])
		copy(nodeID[:], b[:6])
		clockSeq = binary.BigEndian.Uint16(b[6:])
		seeded = true
	}

	now := time.Now().UnixNano()
	if now <= lastNano {
		clockSeq++
	}
	lastNano = now

	var u UUID
	binary.BigEndian.PutUint64(u[0:], uint64(now))
	binary.BigEndian.PutUint16(u[8:], clockSeq)
	copy(u[10:], nodeID[:])

	// Version 4 variant bits keep parsers happy.
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u
}

func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}
