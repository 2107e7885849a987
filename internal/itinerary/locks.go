package itinerary

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const defaultStripes = 64

// stripedLocks serializes work per itinerary id with a fixed set of
// mutexes. Two ids may share a stripe; that only costs concurrency.
type stripedLocks struct {
	stripes []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	if n <= 0 {
		n = defaultStripes
	}
	return &stripedLocks{stripes: make([]sync.Mutex, n)}
}

func (s *stripedLocks) stripe(key string) *sync.Mutex {
	return &s.stripes[murmur3.Sum32([]byte(key))%uint32(len(s.stripes))]
}

// lock acquires the stripe for key and returns its unlock function.
func (s *stripedLocks) lock(key string) func() {
	m := s.stripe(key)
	m.Lock()
	return m.Unlock
}
