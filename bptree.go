package bptree

import (
	"fmt"
	"log"
)

// Options configures a tree at creation time. Fields left at their zero
// value fall back to the package Defaults. Reopening an existing tree
// file ignores Options entirely beyond Serializer, CacheSize and Logger: every
// other field is read back from the tree's metadata page, so the
// on-disk configuration always wins over what the caller passes (spec
// §4.2 "the file is the source of truth").
type Options struct {
	PageSize   uint32
	Order      uint32
	KeySize    uint32
	ValueSize  uint32
	Serializer Serializer

	// CacheSize bounds the decoded-node LRU. Zero (the unset value)
	// falls back to DefaultCacheSize; pass a negative value to disable
	// caching entirely (every getNode call re-reads and re-decodes its
	// page) — a uniform zero-capacity LRU, not a distinct code path.
	CacheSize int

	// Logger receives diagnostic messages about discarded uncommitted
	// writes found during recovery; checkpoints log nothing. A nil Logger
	// uses log.Default().
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Order == 0 {
		o.Order = DefaultOrder
	}
	if o.KeySize == 0 {
		o.KeySize = DefaultKeySize
	}
	if o.ValueSize == 0 {
		o.ValueSize = DefaultValueSize
	}
	if o.Serializer == nil {
		o.Serializer = IntSerializer{}
	}
	if o.CacheSize == 0 {
		o.CacheSize = DefaultCacheSize
	} else if o.CacheSize < 0 {
		o.CacheSize = 0
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// BPlusTree is an embedded, single-file, ordered key/value index backed
// by an on-disk B+Tree with a write-ahead log. It is safe for
// concurrent use by multiple goroutines: reads may run concurrently
// with each other, and with nothing else while a write is in progress
// (spec §5).
//
// Grounded on original_source/uidtree/tree.py's BPlusTree class; the
// public surface below follows it method-for-method, adapted to
// explicit error returns instead of exceptions.
type BPlusTree struct {
	p      *pager
	logger *log.Logger
}

// Open opens the tree file at path, creating it if it does not exist.
func Open(path string, opts Options) (*BPlusTree, error) {
	opts = opts.withDefaults()
	conf := TreeConf{
		PageSize:   opts.PageSize,
		Order:      opts.Order,
		KeySize:    opts.KeySize,
		ValueSize:  opts.ValueSize,
		Serializer: opts.Serializer,
	}

	p, isNew, err := openPager(path, conf, opts.CacheSize)
	if err != nil {
		return nil, err
	}

	t := &BPlusTree{p: p, logger: opts.Logger}

	if isNew {
		if err := p.initializeFresh(); err != nil {
			p.close()
			return nil, err
		}
		return t, nil
	}

	if p.wal.hasDiscardedWrites() {
		t.logger.Printf("bptree: %s: discarding uncommitted writes found during recovery", path)
	}
	return t, nil
}

// Close flushes any remaining committed writes to the tree file,
// removes the write-ahead log, and releases the underlying file
// handles. After Close, every other method returns ErrClosed.
func (t *BPlusTree) Close() error {
	return t.p.close()
}

// Checkpoint transfers every committed write-ahead-log page into the
// tree file and starts a fresh WAL. It is safe to call at any time;
// Close performs an implicit checkpoint, so calling it explicitly is
// only useful to bound WAL growth during a long-running process.
func (t *BPlusTree) Checkpoint() error {
	return t.p.writeTxn(func() error {
		return t.p.checkpoint()
	})
}

// Insert records value under key. If the key already has a value,
// Insert returns ErrKeyExists unless replace is true, in which case the
// existing value (and its overflow chain, if any) is replaced.
func (t *BPlusTree) Insert(key any, value []byte, replace bool) error {
	return t.p.writeTxn(func() error {
		ancestors, leaf, err := t.p.searchPath(key)
		if err != nil {
			return err
		}

		if existing, err := leaf.getEntry(key); err == nil {
			if !replace {
				return fmt.Errorf("%w: %v", ErrKeyExists, key)
			}
			rec := leaf.asRecord(existing)
			if rec.OverflowPage() != 0 {
				if err := t.p.deleteOverflow(rec.OverflowPage()); err != nil {
					return err
				}
			}
			if err := t.installValue(rec, value); err != nil {
				return err
			}
			return t.p.setNode(leaf)
		}

		rec, err := t.newRecordFor(key, value)
		if err != nil {
			return err
		}
		leaf.insertEntry(rec)
		if leaf.canAddEntry() {
			return t.p.setNode(leaf)
		}
		return t.p.splitLeaf(leaf, ancestors)
	})
}

// installValue sets rec's value inline or via a freshly created
// overflow chain, depending on size.
func (t *BPlusTree) installValue(rec *Record, value []byte) error {
	if uint32(len(value)) <= t.p.conf.ValueSize {
		rec.SetValue(value)
		return nil
	}
	page, err := t.p.createOverflow(value)
	if err != nil {
		return err
	}
	rec.SetOverflowPage(page)
	return nil
}

func (t *BPlusTree) newRecordFor(key any, value []byte) (*Record, error) {
	if uint32(len(value)) <= t.p.conf.ValueSize {
		return newRecord(t.p.conf, key, value, 0), nil
	}
	page, err := t.p.createOverflow(value)
	if err != nil {
		return nil, err
	}
	return newRecord(t.p.conf, key, nil, page), nil
}

// KV is one key/value pair supplied to BatchInsert.
type KV struct {
	Key   any
	Value []byte
}

// BatchInsert inserts every pair in pairs in a single write transaction.
// pairs must be in strictly ascending key order, and every key must be
// greater than any key already in the tree; violating this returns
// ErrOrderViolation and the whole batch is rolled back.
//
// BatchInsert is substantially faster than calling Insert in a loop: it
// appends directly to the tail of the rightmost leaf instead of doing a
// full root-to-leaf search for every key.
func (t *BPlusTree) BatchInsert(pairs []KV) error {
	return t.p.writeTxn(func() error {
		var ancestors []*node
		var leaf *node
		haveLeaf := false

		for _, kv := range pairs {
			if !haveLeaf {
				var err error
				ancestors, leaf, err = t.p.searchPath(kv.Key)
				if err != nil {
					return err
				}
				// A leaf with a successor means a bigger key already exists.
				if leaf.next != 0 {
					return fmt.Errorf("%w: key %v", ErrOrderViolation, kv.Key)
				}
				haveLeaf = true
			}

			if len(leaf.entries) > 0 && t.p.conf.Serializer.Compare(kv.Key, leaf.biggestKey()) <= 0 {
				return fmt.Errorf("%w: key %v", ErrOrderViolation, kv.Key)
			}

			rec, err := t.newRecordFor(kv.Key, kv.Value)
			if err != nil {
				return err
			}

			leaf.insertEntryAtTheEnd(rec)
			if leaf.canAddEntry() {
				continue
			}
			if err := t.p.splitLeaf(leaf, ancestors); err != nil {
				return err
			}
			haveLeaf = false
		}

		if haveLeaf {
			return t.p.setNode(leaf)
		}
		return nil
	})
}

// Get returns the value stored under key, or def if there is none.
func (t *BPlusTree) Get(key any, def []byte) ([]byte, error) {
	var value []byte
	err := t.p.readTxn(func() error {
		_, leaf, err := t.p.searchPath(key)
		if err != nil {
			return err
		}
		entry, err := leaf.getEntry(key)
		if err != nil {
			value = def
			return nil
		}
		value, err = t.p.valueFromRecord(leaf.asRecord(entry))
		return err
	})
	return value, err
}

// Item returns the value stored under key, or ErrKeyNotFound if key has
// no Record. It is the subscript-style accessor of spec §6
// ("tree[missing] raises KeyNotFound"), distinct from Get's
// default-returning behavior — mirroring the source's __getitem__.
func (t *BPlusTree) Item(key any) ([]byte, error) {
	var value []byte
	err := t.p.readTxn(func() error {
		_, leaf, err := t.p.searchPath(key)
		if err != nil {
			return err
		}
		entry, err := leaf.getEntry(key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
		}
		value, err = t.p.valueFromRecord(leaf.asRecord(entry))
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Contains reports whether key has a value in the tree.
func (t *BPlusTree) Contains(key any) (bool, error) {
	found := false
	err := t.p.readTxn(func() error {
		_, leaf, err := t.p.searchPath(key)
		if err != nil {
			return err
		}
		_, err = leaf.getEntry(key)
		found = err == nil
		return nil
	})
	return found, err
}

// Len returns the exact number of keys in the tree, by walking every
// leaf. It is O(n) in the number of leaves; LenHint is the O(1)
// approximation.
func (t *BPlusTree) Len() (int, error) {
	count := 0
	err := t.p.readTxn(func() error {
		n, err := t.p.leftmostLeaf()
		if err != nil {
			return err
		}
		for {
			count += len(n.entries)
			if n.next == 0 {
				return nil
			}
			n, err = t.p.getNode(n.next)
			if err != nil {
				return err
			}
		}
	})
	return count, err
}

// LenHint returns an O(1) approximation of the number of keys in the
// tree, for callers that only need an order of magnitude (e.g. to size
// a progress bar). It assumes 70% of the file's pages are leaves, each
// holding the average of the root node's minimum and maximum child
// counts, the same heuristic as the source's __length_hint__. A tree
// whose root is still a LonelyRoot reports half that node's maximum.
func (t *BPlusTree) LenHint() (int, error) {
	var hint int
	err := t.p.readTxn(func() error {
		root, err := t.p.rootNode()
		if err != nil {
			return err
		}
		if root.typ == nodeTypeLonelyRoot {
			hint = root.maxChildren / 2
			return nil
		}
		numLeafNodes := int(float64(t.p.lastPage) * 0.70)
		avgPerLeaf := (root.maxChildren + root.minChildren) / 2
		hint = numLeafNodes * avgPerLeaf
		return nil
	})
	return hint, err
}
