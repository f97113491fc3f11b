package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter is a thread-safe set of known QR identifiers.
// A negative answer is definitive; a positive one may be a false positive.
type BloomFilter struct {
	filter   *bloom.BloomFilter
	capacity uint
	fpRate   float64
	mu       sync.RWMutex

	// rebuilding serializes Rebuild; recent holds ids added while one runs
	rebuilding sync.Mutex
	recent     map[string]struct{}
}

// NewBloomFilter creates a new Bloom filter with specified capacity and false positive rate
func NewBloomFilter(capacity uint, fpRate float64) *BloomFilter {
	return &BloomFilter{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Add adds a QR identifier
func (bf *BloomFilter) Add(id string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.AddString(id)
	if bf.recent != nil {
		bf.recent[id] = struct{}{}
	}
}

// Test reports whether the identifier might exist
func (bf *BloomFilter) Test(id string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(id)
}

// Rebuild replaces the contents with the ids returned by load. Ids added
// while load runs are carried over, so a snapshot taken before a concurrent
// Add never drops it. On error the current contents are kept.
func (bf *BloomFilter) Rebuild(load func() ([]string, error)) error {
	bf.rebuilding.Lock()
	defer bf.rebuilding.Unlock()

	bf.mu.Lock()
	bf.recent = make(map[string]struct{})
	bf.mu.Unlock()

	ids, err := load()
	if err != nil {
		bf.mu.Lock()
		bf.recent = nil
		bf.mu.Unlock()
		return err
	}

	next := bloom.NewWithEstimates(bf.capacity, bf.fpRate)
	for _, id := range ids {
		next.AddString(id)
	}

	bf.mu.Lock()
	for id := range bf.recent {
		next.AddString(id)
	}
	bf.filter = next
	bf.recent = nil
	bf.mu.Unlock()

	return nil
}
