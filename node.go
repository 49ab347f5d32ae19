package bptree

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// keyedEntry is the common surface Record and Reference expose to Node
// logic: an orderable key plus the ability to serialize itself.
type keyedEntry interface {
	Key() any
	dump() ([]byte, error)
}

// node is the decoded representation of a single page (spec §3/§4.3).
// Rather than six separate Go types duplicating header/entry-ordering
// logic, the six node types share this struct and differ only in their
// type tag, min/max children, and whether entries are References
// (num_children = len+1) or Records (num_children = len) — matching the
// design note in spec §9 to model variants as a tagged struct rather
// than a deep class hierarchy.
type node struct {
	conf TreeConf

	typ         uint8
	pageNum     uint32
	next        uint32 // 0 = none; meaning depends on typ
	entries     []keyedEntry
	minChildren int
	maxChildren int

	// overflow holds the single chunk of payload for an Overflow node.
	// Unused for every other node type.
	overflow []byte
}

func newLonelyRootNode(conf TreeConf, page uint32) *node {
	min, max := lonelyRootMinMax(conf.Order)
	return &node{conf: conf, typ: nodeTypeLonelyRoot, pageNum: page, minChildren: min, maxChildren: max}
}

func newLeafNode(conf TreeConf, page, next uint32) *node {
	min, max := leafMinMax(conf.Order)
	return &node{conf: conf, typ: nodeTypeLeaf, pageNum: page, next: next, minChildren: min, maxChildren: max}
}

func newRootNode(conf TreeConf, page uint32) *node {
	min, max := rootMinMax(conf.Order)
	return &node{conf: conf, typ: nodeTypeRoot, pageNum: page, minChildren: min, maxChildren: max}
}

func newInternalNode(conf TreeConf, page uint32) *node {
	min, max := internalMinMax(conf.Order)
	return &node{conf: conf, typ: nodeTypeInternal, pageNum: page, minChildren: min, maxChildren: max}
}

func newOverflowNode(conf TreeConf, page, next uint32) *node {
	return &node{conf: conf, typ: nodeTypeOverflow, pageNum: page, next: next, minChildren: 1, maxChildren: 1}
}

func newFreelistNode(conf TreeConf, page, next uint32) *node {
	return &node{conf: conf, typ: nodeTypeFreelist, pageNum: page, next: next}
}

// isReferenceKind reports whether this node holds References (Root,
// Internal) as opposed to Records (LonelyRoot, Leaf) or something else
// entirely (Overflow, Freelist).
func (n *node) isReferenceKind() bool {
	return n.typ == nodeTypeRoot || n.typ == nodeTypeInternal
}

func (n *node) isRecordKind() bool {
	return n.typ == nodeTypeLonelyRoot || n.typ == nodeTypeLeaf
}

// maxPayload is the number of payload bytes available after the header,
// leaving room at the tail of the page for the trailing CRC that
// setPageCRC writes over whatever is in the last crcBytes bytes of the
// dumped buffer.
func (n *node) maxPayload() int {
	return int(n.conf.PageSize) - nodeHeaderSize - crcBytes
}

// decodeNode dispatches on the header's type tag and decodes the full
// page into a typed node (spec §4.3 from_page_data).
func decodeNode(conf TreeConf, data []byte, page uint32) (*node, error) {
	if len(data) != int(conf.PageSize) {
		return nil, fmt.Errorf("%w: page %d length %d, want %d", ErrCorruptFile, page, len(data), conf.PageSize)
	}
	if err := verifyPageCRC(data); err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	typ := data[0]
	usedLen := int(data[1]) | int(data[2])<<8 | int(data[3])<<16
	next := binary.LittleEndian.Uint32(data[4:8]) // 0 means "none"
	if usedLen < nodeHeaderSize || usedLen > len(data) {
		return nil, fmt.Errorf("%w: page %d used_page_length %d out of range", ErrCorruptFile, page, usedLen)
	}

	n := &node{conf: conf, typ: typ, pageNum: page, next: next}
	switch typ {
	case nodeTypeLonelyRoot:
		n.minChildren, n.maxChildren = lonelyRootMinMax(conf.Order)
	case nodeTypeLeaf:
		n.minChildren, n.maxChildren = leafMinMax(conf.Order)
	case nodeTypeRoot:
		n.minChildren, n.maxChildren = rootMinMax(conf.Order)
	case nodeTypeInternal:
		n.minChildren, n.maxChildren = internalMinMax(conf.Order)
	case nodeTypeOverflow:
		n.minChildren, n.maxChildren = 1, 1
		n.overflow = append([]byte(nil), data[nodeHeaderSize:usedLen]...)
		return n, nil
	case nodeTypeFreelist:
		return n, nil
	default:
		return nil, fmt.Errorf("%w: unknown node type tag %d at page %d", ErrCorruptFile, typ, page)
	}

	var entryLen int
	if n.isRecordKind() {
		entryLen = conf.recordLength()
	} else {
		entryLen = conf.referenceLength()
	}
	for off := nodeHeaderSize; off < usedLen; off += entryLen {
		end := off + entryLen
		if end > usedLen {
			return nil, fmt.Errorf("%w: page %d entry overruns used length", ErrCorruptFile, page)
		}
		var e keyedEntry
		var err error
		if n.isRecordKind() {
			e, err = loadRecord(conf, data[off:end])
		} else {
			e, err = loadReference(conf, data[off:end])
		}
		if err != nil {
			return nil, err
		}
		n.entries = append(n.entries, e)
	}
	return n, nil
}

// dump re-encodes the node as a full page: header + entries + zero
// padding, matching the byte layout of decodeNode exactly.
func (n *node) dump() ([]byte, error) {
	var payload []byte
	if n.typ == nodeTypeOverflow {
		payload = n.overflow
	} else if n.typ != nodeTypeFreelist {
		for _, e := range n.entries {
			b, err := e.dump()
			if err != nil {
				return nil, err
			}
			payload = append(payload, b...)
		}
	}

	usedLen := nodeHeaderSize + len(payload)
	if usedLen > int(n.conf.PageSize) {
		return nil, fmt.Errorf("%w: node page %d used length %d exceeds page size %d", ErrCorruptFile, n.pageNum, usedLen, n.conf.PageSize)
	}
	if len(payload) > n.maxPayload() {
		return nil, fmt.Errorf("%w: node page %d payload %d exceeds max payload %d", ErrInvalidArgument, n.pageNum, len(payload), n.maxPayload())
	}

	buf := make([]byte, n.conf.PageSize)
	buf[0] = n.typ
	buf[1] = byte(usedLen)
	buf[2] = byte(usedLen >> 8)
	buf[3] = byte(usedLen >> 16)
	binary.LittleEndian.PutUint32(buf[4:8], n.next)
	copy(buf[nodeHeaderSize:], payload)
	return buf, nil
}

func (n *node) compare(a, b any) int {
	return n.conf.Serializer.Compare(a, b)
}

// findEntryIndex returns the index of the entry with the given key via
// binary search, and whether it was found.
func (n *node) findEntryIndex(key any) (int, bool) {
	i := sort.Search(len(n.entries), func(i int) bool {
		return n.compare(n.entries[i].Key(), key) >= 0
	})
	if i < len(n.entries) && n.compare(n.entries[i].Key(), key) == 0 {
		return i, true
	}
	return i, false
}

// getEntry returns the entry for key, or errNotFound.
func (n *node) getEntry(key any) (keyedEntry, error) {
	i, ok := n.findEntryIndex(key)
	if !ok {
		return nil, errNotFound
	}
	return n.entries[i], nil
}

// removeEntry deletes the entry for key, or returns errNotFound. It is
// the mirror operation to getEntry/insertEntry kept for symmetry and
// for tests exercising node-level behavior directly; overflow chain
// teardown goes through delNode and the freelist instead, so
// removeEntry is not reachable as a tree-level "delete key" operation
// (spec §9 open question on deletion).
func (n *node) removeEntry(key any) error {
	i, ok := n.findEntryIndex(key)
	if !ok {
		return errNotFound
	}
	n.entries = append(n.entries[:i], n.entries[i+1:]...)
	return nil
}

// insertEntry performs a sorted insertion. For Reference-kind nodes it
// also fixes up the neighboring references' before/after pointers so
// that refs[i].after == refs[i+1].before holds afterward (I3).
func (n *node) insertEntry(e keyedEntry) {
	i, _ := n.findEntryIndex(e.Key())
	n.entries = append(n.entries, nil)
	copy(n.entries[i+1:], n.entries[i:])
	n.entries[i] = e

	if !n.isReferenceKind() {
		return
	}
	ref := e.(*Reference)
	if i > 0 {
		prev := n.entries[i-1].(*Reference)
		prev.SetAfter(ref.Before())
	}
	if i+1 < len(n.entries) {
		next := n.entries[i+1].(*Reference)
		next.SetBefore(ref.After())
	}
}

// insertEntryAtTheEnd is an unchecked append, valid only when the
// caller guarantees the new key exceeds every existing key (used by
// batch insert to skip the sorted-insert cost).
func (n *node) insertEntryAtTheEnd(e keyedEntry) {
	n.entries = append(n.entries, e)
}

func (n *node) smallestEntry() keyedEntry { return n.entries[0] }
func (n *node) biggestEntry() keyedEntry  { return n.entries[len(n.entries)-1] }
func (n *node) smallestKey() any          { return n.smallestEntry().Key() }
func (n *node) biggestKey() any           { return n.biggestEntry().Key() }

// popSmallest removes and returns the smallest entry.
func (n *node) popSmallest() keyedEntry {
	e := n.entries[0]
	n.entries = n.entries[1:]
	return e
}

// numChildren is the number of entries, or len+1 for Reference-kind
// nodes (one extra child beyond the key separators), or 0 when empty.
func (n *node) numChildren() int {
	if n.isReferenceKind() {
		if len(n.entries) == 0 {
			return 0
		}
		return len(n.entries) + 1
	}
	return len(n.entries)
}

func (n *node) canAddEntry() bool    { return n.numChildren() < n.maxChildren }
func (n *node) canDeleteEntry() bool { return n.numChildren() > n.minChildren }

// splitEntries splits the entries in half, keeping the lower part in
// the node and returning the upper part (spec §4.3).
func (n *node) splitEntries() []keyedEntry {
	mid := len(n.entries) / 2
	upper := n.entries[mid:]
	n.entries = n.entries[:mid]
	return upper
}

// convertToLeaf converts a LonelyRoot into a Leaf on the same page,
// carrying its entries over (used when the lonely root first splits).
func (n *node) convertToLeaf() {
	min, max := leafMinMax(n.conf.Order)
	n.typ = nodeTypeLeaf
	n.minChildren, n.maxChildren = min, max
}

// convertToInternal converts a Root into an Internal on the same page
// (used when an internal split propagates past the root).
func (n *node) convertToInternal() {
	min, max := internalMinMax(n.conf.Order)
	n.typ = nodeTypeInternal
	n.minChildren, n.maxChildren = min, max
}

func (n *node) asRecord(e keyedEntry) *Record       { return e.(*Record) }
func (n *node) asReference(e keyedEntry) *Reference { return e.(*Reference) }
