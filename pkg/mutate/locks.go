package mutate

import (
	"hash/fnv"
	"sort"
	"sync"
)

const stripeCount = 64

// stripes serializes mutations per composite key with a fixed pool of
// mutexes. Multi-key operations acquire stripes in ascending index order so
// two mutations touching overlapping keys cannot deadlock.
type stripes struct {
	mu [stripeCount]sync.Mutex
}

func stripeFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % stripeCount)
}

// lock acquires the stripes covering the given keys and returns the
// matching unlock.
func (s *stripes) lock(ks ...string) func() {
	idx := make([]int, 0, len(ks))
	seen := map[int]struct{}{}
	for _, k := range ks {
		i := stripeFor(k)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		s.mu[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.mu[idx[j]].Unlock()
		}
	}
}
