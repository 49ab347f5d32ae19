package bptree

import "fmt"

// This file implements the B+Tree walk/split/overflow algorithms,
// grounded line-for-line on original_source/uidtree/tree.py's
// _search_in_tree, _split_leaf, _split_parent, _create_new_root and the
// overflow-chain helpers. The source tracks a transient parent pointer
// set during descent (child_node.parent = node); here descent instead
// returns the explicit path of ancestors visited on the way down, which
// a split walks back up through — an ordinary Go idiom for the same
// information without mutable back-pointers on node.

func (p *pager) rootNode() (*node, error) {
	return p.getNode(p.rootPage)
}

// childPage picks which child of an Internal/Root node n a search for
// key must continue into, branching the same three ways as the source:
// before the smallest key, at/after the biggest, or between two
// adjacent references.
func (p *pager) childPage(n *node, key any) (uint32, error) {
	if len(n.entries) == 0 {
		return 0, fmt.Errorf("%w: internal node %d has no entries", ErrCorruptFile, n.pageNum)
	}
	switch {
	case n.compare(key, n.smallestKey()) < 0:
		return n.asReference(n.smallestEntry()).Before(), nil
	case n.compare(n.biggestKey(), key) <= 0:
		return n.asReference(n.biggestEntry()).After(), nil
	}
	var page uint32
	found := false
	pairwiseReferences(n.entries, func(a, b *Reference) bool {
		if n.compare(a.Key(), key) <= 0 && n.compare(key, b.Key()) < 0 {
			page = a.After()
			found = true
			return true
		}
		return false
	})
	if !found {
		return 0, fmt.Errorf("%w: no child page found for key in node %d", ErrCorruptFile, n.pageNum)
	}
	return page, nil
}

// searchPath descends from the root to the Leaf/LonelyRoot that key
// belongs in, returning every Internal/Root ancestor visited along the
// way (root first) plus the leaf itself.
func (p *pager) searchPath(key any) (ancestors []*node, leaf *node, err error) {
	n, err := p.rootNode()
	if err != nil {
		return nil, nil, err
	}
	for !n.isRecordKind() {
		ancestors = append(ancestors, n)
		page, err := p.childPage(n, key)
		if err != nil {
			return nil, nil, err
		}
		n, err = p.getNode(page)
		if err != nil {
			return nil, nil, err
		}
	}
	return ancestors, n, nil
}

// leftmostLeaf returns the Leaf/LonelyRoot holding the smallest keys in
// the tree, by always following the smallest child pointer down.
func (p *pager) leftmostLeaf() (*node, error) {
	n, err := p.rootNode()
	if err != nil {
		return nil, err
	}
	for !n.isRecordKind() {
		if len(n.entries) == 0 {
			return nil, fmt.Errorf("%w: internal node %d has no entries", ErrCorruptFile, n.pageNum)
		}
		child, err := p.getNode(n.asReference(n.smallestEntry()).Before())
		if err != nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// splitLeaf splits a full Leaf (or LonelyRoot) in two, propagating the
// new separator up the tree via ancestors (the path from root to old,
// as returned by searchPath).
func (p *pager) splitLeaf(old *node, ancestors []*node) error {
	newPage, err := p.allocatePage()
	if err != nil {
		return err
	}
	newNode := newLeafNode(p.conf, newPage, old.next)
	newNode.entries = old.splitEntries()

	ref := newReference(p.conf, newNode.smallestKey(), old.pageNum, newNode.pageNum)

	if old.typ == nodeTypeLonelyRoot {
		old.convertToLeaf()
		if err := p.createNewRoot(ref); err != nil {
			return err
		}
	} else if err := p.propagateReference(ref, ancestors); err != nil {
		return err
	}

	old.next = newNode.pageNum
	if err := p.setNode(old); err != nil {
		return err
	}
	return p.setNode(newNode)
}

// splitParent splits a full Internal (or Root) in two, propagating the
// separator it pops off the new sibling further up the tree.
func (p *pager) splitParent(old *node, ancestors []*node) error {
	newPage, err := p.allocatePage()
	if err != nil {
		return err
	}
	newNode := newInternalNode(p.conf, newPage)
	newNode.entries = old.splitEntries()

	ref := newNode.popSmallest().(*Reference)
	ref.SetBefore(old.pageNum)
	ref.SetAfter(newNode.pageNum)

	if old.typ == nodeTypeRoot {
		old.convertToInternal()
		if err := p.createNewRoot(ref); err != nil {
			return err
		}
	} else if err := p.propagateReference(ref, ancestors); err != nil {
		return err
	}

	if err := p.setNode(old); err != nil {
		return err
	}
	return p.setNode(newNode)
}

// propagateReference inserts ref into the nearest ancestor (the last
// element of ancestors), splitting that ancestor further up the chain
// if it is already full.
func (p *pager) propagateReference(ref *Reference, ancestors []*node) error {
	if len(ancestors) == 0 {
		return fmt.Errorf("%w: no ancestor to receive propagated reference", ErrCorruptFile)
	}
	parent := ancestors[len(ancestors)-1]
	rest := ancestors[:len(ancestors)-1]

	parent.insertEntry(ref)
	if parent.canAddEntry() {
		return p.setNode(parent)
	}
	return p.splitParent(parent, rest)
}

// createNewRoot allocates a fresh Root node holding reference as its
// sole entry and installs it as the tree's new root.
func (p *pager) createNewRoot(ref *Reference) error {
	page, err := p.allocatePage()
	if err != nil {
		return err
	}
	root := newRootNode(p.conf, page)
	root.insertEntry(ref)
	p.rootPage = page
	return p.setNode(root)
}

// createOverflow writes value as a chain of Overflow nodes and returns
// the first page of the chain.
func (p *pager) createOverflow(value []byte) (uint32, error) {
	maxPayload := int(p.conf.PageSize) - nodeHeaderSize - crcBytes
	if uint64(len(value)) > uint64(maxPayload)*uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: value of %d bytes exceeds the largest overflow chain", ErrInvalidArgument, len(value))
	}
	chunks := chunk(value, maxPayload)

	firstPage, err := p.allocatePage()
	if err != nil {
		return 0, err
	}
	currentPage := firstPage

	for i, c := range chunks {
		isLast := i == len(chunks)-1
		var nextPage uint32
		if !isLast {
			nextPage, err = p.allocatePage()
			if err != nil {
				return 0, err
			}
		}
		n := newOverflowNode(p.conf, currentPage, nextPage)
		n.overflow = c
		if err := p.setNode(n); err != nil {
			return 0, err
		}
		currentPage = nextPage
	}
	return firstPage, nil
}

// readOverflow collects the full value stored across an overflow chain
// starting at firstPage.
func (p *pager) readOverflow(firstPage uint32) ([]byte, error) {
	var data []byte
	page := firstPage
	for {
		n, err := p.getNode(page)
		if err != nil {
			return nil, err
		}
		data = append(data, n.overflow...)
		if n.next == 0 {
			return data, nil
		}
		page = n.next
	}
}

// deleteOverflow frees every page in the overflow chain starting at
// firstPage.
func (p *pager) deleteOverflow(firstPage uint32) error {
	page := firstPage
	for {
		n, err := p.getNode(page)
		if err != nil {
			return err
		}
		next := n.next
		if err := p.delNode(n); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		page = next
	}
}

// valueFromRecord resolves a Record's value, following its overflow
// chain if the value was too large to store inline.
func (p *pager) valueFromRecord(r *Record) ([]byte, error) {
	if r.Value() != nil {
		return r.Value(), nil
	}
	if r.OverflowPage() == 0 {
		return []byte{}, nil
	}
	return p.readOverflow(r.OverflowPage())
}
