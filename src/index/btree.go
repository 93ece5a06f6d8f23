package index

import (
	"github.com/google/btree"
)

// btreeDegree is the branching factor of every key tree. Buckets are small and
// numerous, so a moderate degree keeps nodes cache friendly.
const btreeDegree = 32

// bucket is one slot of a key tree.
type bucket[V any] struct {
	key int64
	val V
}

// keyTree is an ordered map from timestamp keys to bucket values. It gives the
// calendar indexes O(log n + k) range slices and order-independent lookups.
type keyTree[V any] struct {
	tree *btree.BTreeG[*bucket[V]]
}

func newKeyTree[V any]() *keyTree[V] {
	return &keyTree[V]{
		tree: btree.NewG[*bucket[V]](btreeDegree, func(a, b *bucket[V]) bool {
			return a.key < b.key
		}),
	}
}

func (t *keyTree[V]) probe(key int64) *bucket[V] {
	return &bucket[V]{key: key}
}

// get returns the value stored at key.
func (t *keyTree[V]) get(key int64) (V, bool) {
	b, ok := t.tree.Get(t.probe(key))
	if !ok {
		var zero V
		return zero, false
	}
	return b.val, true
}

// getOrCreate returns the value at key, inserting mk() first if absent.
func (t *keyTree[V]) getOrCreate(key int64, mk func() V) V {
	if b, ok := t.tree.Get(t.probe(key)); ok {
		return b.val
	}
	v := mk()
	t.tree.ReplaceOrInsert(&bucket[V]{key: key, val: v})
	return v
}

// remove deletes the bucket at key.
func (t *keyTree[V]) remove(key int64) {
	t.tree.Delete(t.probe(key))
}

// ascendRange visits buckets with lo <= key < hi in key order.
func (t *keyTree[V]) ascendRange(lo, hi int64, fn func(key int64, val V) bool) {
	if lo >= hi {
		return
	}
	t.tree.AscendRange(t.probe(lo), t.probe(hi), func(b *bucket[V]) bool {
		return fn(b.key, b.val)
	})
}

// ascendFrom visits buckets with key >= lo.
func (t *keyTree[V]) ascendFrom(lo int64, fn func(key int64, val V) bool) {
	t.tree.AscendGreaterOrEqual(t.probe(lo), func(b *bucket[V]) bool {
		return fn(b.key, b.val)
	})
}

// ascendBelow visits buckets with key < hi.
func (t *keyTree[V]) ascendBelow(hi int64, fn func(key int64, val V) bool) {
	t.tree.AscendLessThan(t.probe(hi), func(b *bucket[V]) bool {
		return fn(b.key, b.val)
	})
}

// ascend visits every bucket.
func (t *keyTree[V]) ascend(fn func(key int64, val V) bool) {
	t.tree.Ascend(func(b *bucket[V]) bool {
		return fn(b.key, b.val)
	})
}

// maxKey returns the largest key, if any.
func (t *keyTree[V]) maxKey() (int64, bool) {
	b, ok := t.tree.Max()
	if !ok {
		return 0, false
	}
	return b.key, true
}

// minKey returns the smallest key, if any.
func (t *keyTree[V]) minKey() (int64, bool) {
	b, ok := t.tree.Min()
	if !ok {
		return 0, false
	}
	return b.key, true
}

func (t *keyTree[V]) len() int {
	return t.tree.Len()
}

func (t *keyTree[V]) clear() {
	t.tree.Clear(false)
}
