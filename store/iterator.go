package store

import (
	"bytes"

	"github.com/google/btree"
)

// btreeSnapshot is a stable view over the items of a btree within a key
// range. The cache btree is tiny compared to the backing store, so
// copying the matching items out is cheaper and far simpler than
// coordinating with writes happening during iteration.
type btreeSnapshot struct {
	items []btree.Item
	idx   int
}

func ascendBtree(bt *btree.BTree, start, end []byte) *btreeSnapshot {
	snap := &btreeSnapshot{}
	collect := func(item btree.Item) bool {
		snap.items = append(snap.items, item)
		return true
	}

	switch {
	case start == nil && end == nil:
		bt.Ascend(collect)
	case start == nil:
		bt.AscendLessThan(bkey{end}, collect)
	case end == nil:
		bt.AscendGreaterOrEqual(bkey{start}, collect)
	default:
		bt.AscendRange(bkey{start}, bkey{end}, collect)
	}
	return snap
}

func descendBtree(bt *btree.BTree, start, end []byte) *btreeSnapshot {
	snap := &btreeSnapshot{}
	collect := func(item btree.Item) bool {
		snap.items = append(snap.items, item)
		return true
	}

	switch {
	case start == nil && end == nil:
		bt.Descend(collect)
	case start == nil:
		bt.DescendLessOrEqual(bkeyLess{end}, collect)
	case end == nil:
		bt.DescendGreaterThan(bkeyLess{start}, collect)
	default:
		bt.DescendRange(bkeyLess{end}, bkeyLess{start}, collect)
	}
	return snap
}

func (s *btreeSnapshot) wrap(parent Iterator, reverse bool) *itemIter {
	iter := &itemIter{
		wrap:    s,
		parent:  parent,
		reverse: reverse,
	}
	iter.skipAllDeleted()
	return iter
}

func (s *btreeSnapshot) next() {
	s.idx++
}

// get requires this is valid, gets what we are pointing at.
func (s *btreeSnapshot) get() keyer {
	return s.items[s.idx].(keyer)
}

func (s *btreeSnapshot) valid() bool {
	return s.idx < len(s.items)
}

// source marks where the current item comes from.
type source int32

const (
	us source = iota
	parent
	both
	none
)

// itemIter combines the uncommitted cache content with the parent
// iterator, taking into consideration overwrites and deletes.
type itemIter struct {
	wrap *btreeSnapshot
	// if we are iterating in a cache-wrap (and who isn't), we need to
	// combine this iterator with the parent
	parent  Iterator
	reverse bool
}

var _ Iterator = (*itemIter)(nil)

// Valid implements Iterator and returns true iff it can be read.
func (i *itemIter) Valid() bool {
	return i.wrap.valid() || i.parentValid()
}

// Next moves the iterator to the next sequential key in the database, as
// defined by order of iteration.
//
// If Valid returns false, this method will panic.
func (i *itemIter) Next() {
	// advance either us, parent, or both
	switch i.firstKey() {
	case us:
		i.wrap.next()
	case both:
		i.wrap.next()
		fallthrough
	case parent:
		i.parent.Next()
	default:
		panic("advanced past the end")
	}

	// keep advancing over all deleted entries
	i.skipAllDeleted()
}

// Key returns the key of the cursor.
func (i *itemIter) Key() (key []byte) {
	switch i.firstKey() {
	case us, both:
		return i.wrap.get().Key()
	case parent:
		return i.parent.Key()
	default: // none
		panic("advanced past the end")
	}
}

// Value returns the value of the cursor.
func (i *itemIter) Value() (value []byte) {
	switch i.firstKey() {
	case us, both:
		return i.wrap.get().(setItem).value
	case parent:
		return i.parent.Value()
	default: // none
		panic("advanced past the end")
	}
}

// Close releases the Iterator.
func (i *itemIter) Close() {
	if i.parent != nil {
		i.parent.Close()
	}
	i.wrap.idx = len(i.wrap.items)
}

// skipAllDeleted loops and skips any number of deleted items.
func (i *itemIter) skipAllDeleted() {
	for i.skipDeleted() {
	}
}

// skipDeleted jumps over all elements we can safely fast forward.
// Returns true if skipped, so we can skip again.
func (i *itemIter) skipDeleted() bool {
	src := i.firstKey()
	if src == us || src == both {
		// if our next is deleted, advance...
		if _, ok := i.wrap.get().(deletedItem); ok {
			i.wrap.next()
			// if parent had the same key, advance parent as well
			if src == both {
				i.parent.Next()
			}
			return true
		}
	}
	return false
}

// firstKey selects the iterator whose current key comes first in the
// iteration order, if any.
func (i *itemIter) firstKey() source {
	// if only one or none is valid, it is clear which to use
	if !i.parentValid() {
		if !i.wrap.valid() {
			return none
		}
		return us
	} else if !i.wrap.valid() {
		return parent
	}

	// both are valid... compare keys....
	cmp := bytes.Compare(i.parent.Key(), i.wrap.get().Key())
	if i.reverse {
		cmp = -cmp
	}

	switch {
	case cmp < 0:
		return parent
	case cmp > 0:
		return us
	default:
		return both
	}
}

// makes sure the parent is non-nil before checking if it is valid.
func (i *itemIter) parentValid() bool {
	return (i.parent != nil) && i.parent.Valid()
}
