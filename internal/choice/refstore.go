package choice

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultRefTTL bounds how long a parked link stays resolvable.
const DefaultRefTTL = 24 * time.Hour

// RefStore keeps links that do not fit into a callback payload. Entries are
// evicted by age or when the store is full.
type RefStore struct {
	cache *expirable.LRU[string, string]
}

func NewRefStore(size int, ttl time.Duration) *RefStore {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultRefTTL
	}
	return &RefStore{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (r *RefStore) Put(url string) string {
	id := newRefID()
	r.cache.Add(id, url)
	return id
}

func (r *RefStore) Get(id string) (string, bool) {
	return r.cache.Get(id)
}
