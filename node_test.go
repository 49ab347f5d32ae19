package bptree

import "testing"

// P2: node round-trip for each entry-bearing node type.
func TestNodeRoundTripLeaf(t *testing.T) {
	conf := testConf()
	n := newLeafNode(conf, 3, 7)
	n.entries = append(n.entries,
		newRecord(conf, int64(1), []byte("a"), 0),
		newRecord(conf, int64(2), []byte("bb"), 0),
	)

	buf, err := n.dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if len(buf) != int(conf.PageSize) {
		t.Fatalf("dump length %d, want %d", len(buf), conf.PageSize)
	}
	setPageCRC(buf)

	n2, err := decodeNode(conf, buf, 3)
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}
	if n2.typ != nodeTypeLeaf || n2.next != 7 || len(n2.entries) != 2 {
		t.Fatalf("decoded node mismatch: %+v", n2)
	}
	if n2.smallestKey() != int64(1) || n2.biggestKey() != int64(2) {
		t.Fatalf("decoded keys wrong: %v %v", n2.smallestKey(), n2.biggestKey())
	}
}

func TestNodeRoundTripInternal(t *testing.T) {
	conf := testConf()
	n := newInternalNode(conf, 1)
	n.entries = append(n.entries,
		newReference(conf, int64(5), 10, 11),
		newReference(conf, int64(9), 11, 12),
	)

	buf, err := n.dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	setPageCRC(buf)

	n2, err := decodeNode(conf, buf, 1)
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}
	if !n2.isReferenceKind() || n2.numChildren() != 3 {
		t.Fatalf("decoded internal node mismatch: %+v", n2)
	}
}

func TestDecodeNodeRejectsBadCRC(t *testing.T) {
	conf := testConf()
	n := newLeafNode(conf, 2, 0)
	buf, _ := n.dump()
	setPageCRC(buf)
	buf[20] ^= 0xFF

	if _, err := decodeNode(conf, buf, 2); err == nil {
		t.Fatal("expected corruption error for flipped byte")
	}
}

func TestDecodeNodeRejectsUnknownType(t *testing.T) {
	conf := testConf()
	n := newLeafNode(conf, 2, 0)
	buf, _ := n.dump()
	buf[0] = 200
	setPageCRC(buf)

	if _, err := decodeNode(conf, buf, 2); err == nil {
		t.Fatal("expected error for unknown node type tag")
	}
}

func TestNodeInsertEntryFixesNeighborPointers(t *testing.T) {
	conf := testConf()
	n := newInternalNode(conf, 1)
	n.entries = append(n.entries,
		newReference(conf, int64(1), 10, 20),
		newReference(conf, int64(9), 20, 30),
	)

	mid := newReference(conf, int64(5), 20, 40)
	n.insertEntry(mid)

	refs := make([]*Reference, len(n.entries))
	for i, e := range n.entries {
		refs[i] = e.(*Reference)
	}
	if refs[0].After() != refs[1].Before() {
		t.Fatalf("left neighbor not fixed up: after=%d before=%d", refs[0].After(), refs[1].Before())
	}
	if refs[1].After() != refs[2].Before() {
		t.Fatalf("right neighbor not fixed up: after=%d before=%d", refs[1].After(), refs[2].Before())
	}
}

func TestNodeSplitEntries(t *testing.T) {
	conf := testConf()
	n := newLeafNode(conf, 1, 0)
	for i := int64(0); i < 4; i++ {
		n.entries = append(n.entries, newRecord(conf, i, []byte("x"), 0))
	}
	upper := n.splitEntries()
	if len(n.entries) != 2 || len(upper) != 2 {
		t.Fatalf("split sizes wrong: lower=%d upper=%d", len(n.entries), len(upper))
	}
	if n.biggestKey() != int64(1) || upper[0].Key() != int64(2) {
		t.Fatalf("split boundary wrong: lower biggest=%v upper smallest=%v", n.biggestKey(), upper[0].Key())
	}
}
