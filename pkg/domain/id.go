package domain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Entity ids are caller-assigned integers in a fixed range. Fresh ids are
// drawn uniformly and re-drawn on collision with an existing id.
const maxEntityID = 2_000_000_000

// NewID returns a random id in [1, maxEntityID) that is not already taken.
func NewID(taken map[int]bool) int {
	for {
		id := randomID()
		if !taken[id] {
			return id
		}
	}
}

func randomID() int {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return int(binary.BigEndian.Uint64(b[:])%(maxEntityID-1)) + 1
}
