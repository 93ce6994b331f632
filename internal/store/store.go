// Package store provides the in-memory key-value store shared by all connections.
//
// The store holds three disjoint namespaces keyed by text: scalar values, hashes
// and sets. The same key may exist in all three at once. Keys are spread across
// shards by murmur3 hash, so operations on keys in different shards never
// contend on the same lock.
package store

import (
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/emberdb/emberdb/internal/protocol"
)

// DefaultShards is the shard count used when New is given zero or less.
const DefaultShards = 32

// Store is a sharded, concurrent key-value store.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu      sync.RWMutex
	scalars map[string]protocol.Frame
	hashes  map[string]*Hash
	sets    map[string]*Set
}

// Stats is a point-in-time count of keys per namespace, plus the fields and
// members held by all hashes and sets.
type Stats struct {
	Shards     int `json:"shards"`
	Scalars    int `json:"scalars"`
	Hashes     int `json:"hashes"`
	Sets       int `json:"sets"`
	HashFields int `json:"hash_fields"`
	SetMembers int `json:"set_members"`
}

// New creates an empty Store. The shard count is rounded up to a power of two.
func New(shards int) *Store {
	if shards <= 0 {
		shards = DefaultShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}
	s := &Store{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			scalars: make(map[string]protocol.Frame),
			hashes:  make(map[string]*Hash),
			sets:    make(map[string]*Set),
		}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[murmur3.Sum64([]byte(key))&s.mask]
}

// Get returns the scalar value stored under key.
func (s *Store) Get(key string) (protocol.Frame, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	v, ok := sh.scalars[key]
	sh.mu.RUnlock()
	return v, ok
}

// Set stores value under key, replacing any previous scalar.
func (s *Store) Set(key string, value protocol.Frame) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.scalars[key] = value
	sh.mu.Unlock()
}

// lookupHash returns the hash stored under key, or nil.
func (s *Store) lookupHash(key string) *Hash {
	sh := s.shardFor(key)
	sh.mu.RLock()
	h := sh.hashes[key]
	sh.mu.RUnlock()
	return h
}

// hashFor returns the hash stored under key, creating it if absent. Creation
// happens under the shard write lock so concurrent callers share one Hash.
func (s *Store) hashFor(key string) *Hash {
	if h := s.lookupHash(key); h != nil {
		return h
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	h, ok := sh.hashes[key]
	if !ok {
		h = NewHash()
		sh.hashes[key] = h
	}
	return h
}

// HGet returns the value of field in the hash stored under key.
func (s *Store) HGet(key, field string) (protocol.Frame, bool) {
	h := s.lookupHash(key)
	if h == nil {
		return nil, false
	}
	return h.Get(field)
}

// HSet sets field in the hash stored under key, creating the hash if needed.
// It returns true if the field is new.
func (s *Store) HSet(key, field string, value protocol.Frame) bool {
	return s.hashFor(key).Set(field, value)
}

// HGetAll returns every field of the hash stored under key. The boolean is
// false when no hash exists for key.
func (s *Store) HGetAll(key string) ([]HashFieldValue, bool) {
	h := s.lookupHash(key)
	if h == nil {
		return nil, false
	}
	return h.GetAll(), true
}

// HMGet returns one value per requested field, in order. Missing fields, or a
// missing hash, yield nil entries.
func (s *Store) HMGet(key string, fields ...string) []protocol.Frame {
	h := s.lookupHash(key)
	if h == nil {
		return make([]protocol.Frame, len(fields))
	}
	return h.GetMany(fields...)
}

func (s *Store) lookupSet(key string) *Set {
	sh := s.shardFor(key)
	sh.mu.RLock()
	set := sh.sets[key]
	sh.mu.RUnlock()
	return set
}

// setFor is the Set counterpart of hashFor.
func (s *Store) setFor(key string) *Set {
	if set := s.lookupSet(key); set != nil {
		return set
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set, ok := sh.sets[key]
	if !ok {
		set = NewSet()
		sh.sets[key] = set
	}
	return set
}

// SAdd adds members to the set stored under key, creating the set if needed.
// It returns the number of members that were not already present.
func (s *Store) SAdd(key string, members ...string) int {
	return s.setFor(key).Add(members...)
}

// SIsMember reports whether member belongs to the set stored under key.
func (s *Store) SIsMember(key, member string) bool {
	set := s.lookupSet(key)
	if set == nil {
		return false
	}
	return set.IsMember(member)
}

// Stats returns key counts per namespace. Shards are visited one at a time, so
// the result is not a global snapshot under concurrent writes.
func (s *Store) Stats() Stats {
	st := Stats{Shards: len(s.shards)}
	var hashes []*Hash
	var sets []*Set
	for _, sh := range s.shards {
		hashes, sets = hashes[:0], sets[:0]
		sh.mu.RLock()
		st.Scalars += len(sh.scalars)
		st.Hashes += len(sh.hashes)
		st.Sets += len(sh.sets)
		for _, h := range sh.hashes {
			hashes = append(hashes, h)
		}
		for _, set := range sh.sets {
			sets = append(sets, set)
		}
		sh.mu.RUnlock()

		// Containers are counted outside the shard lock; each takes its own.
		for _, h := range hashes {
			st.HashFields += h.Len()
		}
		for _, set := range sets {
			st.SetMembers += set.Card()
		}
	}
	return st
}
