package pvpchess

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// gameLocks serializes read-decide-write sequences per game id.
// Distinct games only contend when they hash to the same stripe.
type gameLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *gameLocks) lock(gameID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(gameID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
