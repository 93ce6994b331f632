// Package hotkeys tracks how often each key is addressed and reports the
// most frequently used ones.
//
// Counters live in shards selected by murmur3 hash, so recording keys that
// land in different shards never contends on the same lock.
package hotkeys

import (
	"container/heap"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

const (
	// keysPerSlot bounds how many distinct keys are counted per reported
	// slot. Past topN*keysPerSlot keys overall, a shard is decayed early to
	// shed cold keys.
	keysPerSlot = 64

	// numShards must be a power of two.
	numShards = 16
)

// Entry represents a single hot key with its access count.
type Entry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type counterShard struct {
	mu     sync.Mutex
	counts map[string]int64
}

// Tracker tracks key access frequency and reports the top-N hottest keys.
// It is safe for concurrent use.
type Tracker struct {
	shards  [numShards]counterShard
	topN    int
	maxKeys int // per shard

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a hot key tracker reporting up to topN keys. Every window the
// counters are halved so the ranking follows recent traffic; a zero window
// disables decay. Call Close to stop the decay goroutine.
func New(topN int, window time.Duration) *Tracker {
	if topN <= 0 {
		topN = 100
	}
	maxKeys := topN * keysPerSlot / numShards
	if maxKeys < 1 {
		maxKeys = 1
	}
	t := &Tracker{
		topN:    topN,
		maxKeys: maxKeys,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := range t.shards {
		t.shards[i].counts = make(map[string]int64)
	}
	if window > 0 {
		go t.decayLoop(window)
	} else {
		close(t.done)
	}
	return t
}

func (t *Tracker) shardFor(key string) *counterShard {
	return &t.shards[murmur3.Sum64([]byte(key))&(numShards-1)]
}

// Record records one access to the given key.
func (t *Tracker) Record(key string) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	sh.counts[key]++
	if len(sh.counts) > t.maxKeys {
		sh.decayLocked()
	}
	sh.mu.Unlock()
}

// Top returns the n hottest keys sorted by descending count, ties by key.
// n <= 0 selects the tracker's topN. Shards are visited one at a time, so
// the result is not an atomic snapshot under concurrent Record calls.
func (t *Tracker) Top(n int) []Entry {
	if n <= 0 {
		n = t.topN
	}

	h := make(entryHeap, 0, n)
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for key, cnt := range sh.counts {
			e := Entry{Key: key, Count: cnt}
			if h.Len() < n {
				heap.Push(&h, e)
			} else if h.less(h[0], e) {
				h[0] = e
				heap.Fix(&h, 0)
			}
		}
		sh.mu.Unlock()
	}

	result := make([]Entry, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(Entry)
	}
	return result
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		sh.counts = make(map[string]int64)
		sh.mu.Unlock()
	}
}

// Size returns the number of tracked keys.
func (t *Tracker) Size() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.counts)
		sh.mu.Unlock()
	}
	return n
}

// Close stops the decay goroutine. It is safe to call more than once.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) decayLoop(window time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			for i := range t.shards {
				sh := &t.shards[i]
				sh.mu.Lock()
				sh.decayLocked()
				sh.mu.Unlock()
			}
		}
	}
}

// decayLocked halves every counter in the shard and drops those that reach
// zero.
func (sh *counterShard) decayLocked() {
	for key, cnt := range sh.counts {
		cnt /= 2
		if cnt == 0 {
			delete(sh.counts, key)
			continue
		}
		sh.counts[key] = cnt
	}
}

// entryHeap is a min-heap: the root is the weakest of the retained entries.
type entryHeap []Entry

func (h entryHeap) less(a, b Entry) bool {
	if a.Count != b.Count {
		return a.Count < b.Count
	}
	return a.Key > b.Key
}

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h.less(h[i], h[j]) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
