// Package xmap implements an open-addressing, linear-probing hash table
// with tombstone-based deletion.
//
// Map[K, V] is parameterized on comparable K and arbitrary V, with a
// default FNV-1a hash computed over a small built-in byte encoding for the
// common fixed-width key kinds, and a pluggable HashFn/EqFn pair for
// everything else.
package xmap

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

type slotState uint8

const (
	empty slotState = iota
	occupied
	tombstone
)

// HashFn computes a hash for a key. EqFn reports key equality. The defaults
// (defaultHash, built from FNV-1a, and ==) hash K's built-in byte encoding;
// supply both when K requires custom encoding (e.g. a struct with pointer
// fields where identity, not byte layout, defines equality).
type (
	HashFn[K comparable] func(K) uint64
	EqFn[K comparable]   func(a, b K) bool
)

type entry[K comparable, V any] struct {
	state slotState
	key   K
	value V
}

// Map is an open-addressing hash table with linear probing.
type Map[K comparable, V any] struct {
	slots      []entry[K, V]
	length     int
	tombstones int
	hash       HashFn[K]
	eq         EqFn[K]
}

const initialCapacity = 16

// New returns an empty Map using the default FNV-1a hash and == equality.
func New[K comparable, V any]() *Map[K, V] {
	return NewCustom[K, V](defaultHash[K], func(a, b K) bool { return a == b })
}

// NewCustom returns an empty Map with caller-supplied hash and equality
// functions.
func NewCustom[K comparable, V any](hash HashFn[K], eq EqFn[K]) *Map[K, V] {
	return &Map[K, V]{
		slots: make([]entry[K, V], initialCapacity),
		hash:  hash,
		eq:    eq,
	}
}

// defaultHash computes FNV-1a over a best-effort byte encoding of k: the
// bytes of a string, the little-endian 8 bytes of an int, int64, uint64 or
// uint32, and fmt.Sprint's output for any other kind. This keeps the default path generic over any comparable K
// without requiring reflection-based struct walking; callers with a
// performance-sensitive key type should supply NewCustom with a direct byte
// encoder.
func defaultHash[K comparable](k K) uint64 {
	h := fnv.New64a()
	switch v := any(k).(type) {
	case string:
		_, _ = h.Write([]byte(v))
	case int:
		writeUint64(h, uint64(v))
	case int64:
		writeUint64(h, uint64(v))
	case uint64:
		writeUint64(h, v)
	case uint32:
		writeUint64(h, uint64(v))
	default:
		_, _ = h.Write([]byte(fmt.Sprint(k)))
	}
	return h.Sum64()
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

// Length returns the number of occupied entries.
func (m *Map[K, V]) Length() int { return m.length }

// IsEmpty reports whether the map holds no entries.
func (m *Map[K, V]) IsEmpty() bool { return m.length == 0 }

func (m *Map[K, V]) loadFactorExceeded() bool {
	// (length + tombstones + 1) / capacity > 3/4
	return 4*(m.length+m.tombstones+1) > 3*len(m.slots)
}

// find returns the index of key if present (found=true), or the index of
// the first empty/tombstone slot suitable for insertion (found=false).
func (m *Map[K, V]) find(key K) (idx int, found bool) {
	n := len(m.slots)
	start := int(m.hash(key) % uint64(n))
	firstTombstone := -1

	for i := 0; i < n; i++ {
		j := (start + i) % n
		switch m.slots[j].state {
		case empty:
			if firstTombstone != -1 {
				return firstTombstone, false
			}
			return j, false
		case tombstone:
			if firstTombstone == -1 {
				firstTombstone = j
			}
		case occupied:
			if m.eq(m.slots[j].key, key) {
				return j, true
			}
		}
	}
	// Table is effectively full: probe exhausted without an empty slot.
	if firstTombstone != -1 {
		return firstTombstone, false
	}
	return -1, false
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, found := m.find(key)
	return found
}

// Get returns a pointer to the stored value for key, or nil if absent.
func (m *Map[K, V]) Get(key K) *V {
	idx, found := m.find(key)
	if !found {
		return nil
	}
	return &m.slots[idx].value
}

// InsertResult distinguishes a fresh insert from an overwrite of an
// existing key. The values {Inserted=0, Updated=1} are stable.
type InsertResult int

const (
	Inserted InsertResult = 0
	Updated  InsertResult = 1
)

// Insert stores value under key, growing the table first if the load
// factor would be exceeded. Returns Updated if key already existed.
func (m *Map[K, V]) Insert(key K, value V) InsertResult {
	if m.loadFactorExceeded() {
		m.grow()
	}

	idx, found := m.find(key)
	if idx == -1 {
		// Defensive: grow and retry once (probe exhaustion before resize
		// ran, e.g. pathological hash collisions).
		m.grow()
		idx, found = m.find(key)
	}

	if found {
		m.slots[idx].value = value
		return Updated
	}

	wasTombstone := m.slots[idx].state == tombstone
	m.slots[idx] = entry[K, V]{state: occupied, key: key, value: value}
	m.length++
	if wasTombstone {
		m.tombstones--
	}
	return Inserted
}

// RemoveResult reports whether Remove found the key.
type RemoveResult int

const (
	Removed RemoveResult = 0
	Missing RemoveResult = -1
)

// Remove deletes key if present, leaving a tombstone behind.
func (m *Map[K, V]) Remove(key K) RemoveResult {
	idx, found := m.find(key)
	if !found {
		return Missing
	}
	var zero entry[K, V]
	zero.state = tombstone
	m.slots[idx] = zero
	m.length--
	m.tombstones++
	return Removed
}

// Clear empties the map back to its initial capacity.
func (m *Map[K, V]) Clear() {
	m.slots = make([]entry[K, V], initialCapacity)
	m.length = 0
	m.tombstones = 0
}

// grow doubles capacity and re-inserts only occupied entries, dropping
// tombstones.
func (m *Map[K, V]) grow() {
	old := m.slots
	newCap := len(old) * 2
	if newCap == 0 {
		newCap = initialCapacity
	}
	m.slots = make([]entry[K, V], newCap)
	m.length = 0
	m.tombstones = 0

	for _, e := range old {
		if e.state == occupied {
			m.Insert(e.key, e.value)
		}
	}
}

// Keys returns all present keys, in table-scan order.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, 0, m.length)
	for _, e := range m.slots {
		if e.state == occupied {
			out = append(out, e.key)
		}
	}
	return out
}

// Values returns all present values, in table-scan order (matching Keys).
func (m *Map[K, V]) Values() []V {
	out := make([]V, 0, m.length)
	for _, e := range m.slots {
		if e.state == occupied {
			out = append(out, e.value)
		}
	}
	return out
}

// Clone returns a deep (slot-wise) copy of m, sharing no backing storage.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := &Map[K, V]{
		slots:      make([]entry[K, V], len(m.slots)),
		length:     m.length,
		tombstones: m.tombstones,
		hash:       m.hash,
		eq:         m.eq,
	}
	copy(out.slots, m.slots)
	return out
}
