// Package hashtable is a generic, bucket-sharded hash table with a
// lock-free Get, adapted from the teacher's hashtable package
// (hashtable/hashtable.go). The teacher's version predates generics
// and stores interface{} keys/values with a reflect-based hash/equal;
// this version is rewritten with type parameters and a comparable key
// constraint, keeping the same bucket-lock-per-write, atomic-pointer-
// per-read structure and sorted-by-hash insertion order.
package hashtable

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
)

type elem[K comparable, V any] struct {
	key     K
	value   V
	keyHash uint64
	next    atomic.Pointer[elem[K, V]]
}

type bucket[K comparable, V any] struct {
	sync.Mutex
	first atomic.Pointer[elem[K, V]]
}

// Table is a fixed-bucket-count hash table mapping K to V, safe for
// concurrent use: Get never blocks on a writer, Set/Del take only the
// affected bucket's lock.
type Table[K comparable, V any] struct {
	seed    maphash.Seed
	buckets []bucket[K, V]
	hashKey func(maphash.Seed, K) uint64
}

// New builds a Table with the given bucket count and a hashing
// function for K (callers provide this since maphash only hashes
// bytes/strings directly).
func New[K comparable, V any](nbuckets int, hashKey func(maphash.Seed, K) uint64) *Table[K, V] {
	return &Table[K, V]{
		seed:    maphash.MakeSeed(),
		buckets: make([]bucket[K, V], nbuckets),
		hashKey: hashKey,
	}
}

func (t *Table[K, V]) bucketFor(kh uint64) *bucket[K, V] {
	return &t.buckets[kh%uint64(len(t.buckets))]
}

// Get looks up key without taking any lock.
func (t *Table[K, V]) Get(key K) (V, bool) {
	kh := t.hashKey(t.seed, key)
	b := t.bucketFor(kh)
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts key/value, returning false without modification if key
// already exists (callers wanting upsert semantics should Del then Set).
func (t *Table[K, V]) Set(key K, value V) bool {
	kh := t.hashKey(t.seed, key)
	b := t.bucketFor(kh)
	b.Lock()
	defer b.Unlock()

	var last *elem[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return false
		}
		if kh < e.keyHash {
			break
		}
		last = e
	}
	n := &elem[K, V]{key: key, value: value, keyHash: kh}
	if last == nil {
		n.next.Store(b.first.Load())
		b.first.Store(n)
	} else {
		n.next.Store(last.next.Load())
		last.next.Store(n)
	}
	return true
}

// Del removes key if present; it is a no-op if key is absent.
func (t *Table[K, V]) Del(key K) {
	kh := t.hashKey(t.seed, key)
	b := t.bucketFor(kh)
	b.Lock()
	defer b.Unlock()

	var last *elem[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			if last == nil {
				b.first.Store(e.next.Load())
			} else {
				last.next.Store(e.next.Load())
			}
			return
		}
		last = e
	}
}

// Range calls fn for every key/value currently in the table, taking
// each bucket's lock in turn (never all at once), so it observes a
// consistent per-bucket snapshot but not a globally atomic one.
func (t *Table[K, V]) Range(fn func(K, V)) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.Lock()
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			fn(e.key, e.value)
		}
		b.Unlock()
	}
}

// HashUint64 is a ready-made hashKey for integer-like keys, for
// callers that don't need string hashing.
func HashUint64[K ~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64](seed maphash.Seed, k K) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	var buf [8]byte
	v := uint64(k)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}
