package bptree

import "iter"

// Range bounds a scan over the tree's keys, in ascending order only —
// there is no reverse iteration and no step, matching the slicing
// rules the source enforces in _iter_slice. The zero Range scans every
// key in the tree.
//
// Keys/Items/Values below are supplemental facade ergonomics beyond
// the Get/Insert contract: Go has no subscript/slice operator to
// overload the way the source's __getitem__ does, so a range scan
// needs an explicit method instead.
type Range struct {
	Start, Stop       any
	HasStart, HasStop bool
}

// validate reports ErrInvalidSlice if the range's bounds are reversed
// or empty.
func (r Range) validate(cmp func(a, b any) int) error {
	if r.HasStart && r.HasStop && cmp(r.Start, r.Stop) >= 0 {
		return ErrInvalidSlice
	}
	return nil
}

// Items returns a lazy, ascending iterator over the key/value pairs in
// r. The tree's read lock is held for the lifetime of the iteration;
// breaking out of a range loop early releases it promptly.
func (t *BPlusTree) Items(r Range) (iter.Seq2[any, []byte], error) {
	if err := r.validate(t.p.conf.Serializer.Compare); err != nil {
		return nil, err
	}
	t.p.mu.RLock()
	closed := t.p.closed
	t.p.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return func(yield func(any, []byte) bool) {
		t.p.mu.RLock()
		defer t.p.mu.RUnlock()
		if t.p.closed {
			return
		}

		var n *node
		var err error
		if r.HasStart {
			_, n, err = t.p.searchPath(r.Start)
		} else {
			n, err = t.p.leftmostLeaf()
		}
		if err != nil {
			return
		}

		for {
			for _, e := range n.entries {
				rec := n.asRecord(e)
				if r.HasStart && t.p.conf.Serializer.Compare(rec.Key(), r.Start) < 0 {
					continue
				}
				if r.HasStop && t.p.conf.Serializer.Compare(rec.Key(), r.Stop) >= 0 {
					return
				}
				val, err := t.p.valueFromRecord(rec)
				if err != nil {
					return
				}
				if !yield(rec.Key(), val) {
					return
				}
			}
			if n.next == 0 {
				return
			}
			n, err = t.p.getNode(n.next)
			if err != nil {
				return
			}
		}
	}, nil
}

// Keys returns a lazy, ascending iterator over the keys in r.
func (t *BPlusTree) Keys(r Range) (iter.Seq[any], error) {
	items, err := t.Items(r)
	if err != nil {
		return nil, err
	}
	return func(yield func(any) bool) {
		for k, _ := range items {
			if !yield(k) {
				return
			}
		}
	}, nil
}

// Values returns a lazy, ascending iterator over the values in r.
func (t *BPlusTree) Values(r Range) (iter.Seq[[]byte], error) {
	items, err := t.Items(r)
	if err != nil {
		return nil, err
	}
	return func(yield func([]byte) bool) {
		for _, v := range items {
			if !yield(v) {
				return
			}
		}
	}, nil
}
