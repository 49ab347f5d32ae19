package bptree

import "fmt"

// The free list is a singly-linked chain of Freelist pages threaded
// through node.next, with freelistHead pointing at the head. Unlike the
// teacher's FreeManager (an arbitrary-order set of reclaimable pages),
// this follows original_source/bplustree/memory.py's
// _traverse_free_list/_insert_in_freelist/_pop_from_freelist: pages are
// pushed and popped at the same end, so reuse is strict LIFO (spec S4).
// The traversal below is deliberately O(n) per call — the source does
// the same, and spec §9 calls this out as known, not a defect to fix.

// popFromFreelist removes and returns the tail page of the free list,
// making it available as storage for a new node.
func (p *pager) popFromFreelist() (uint32, error) {
	if p.freelistHead == 0 {
		return 0, fmt.Errorf("%w: freelist is empty", ErrInvalidArgument)
	}

	tailPage, predPage, err := p.freelistTail()
	if err != nil {
		return 0, err
	}

	tail, err := p.getNode(tailPage)
	if err != nil {
		return 0, err
	}

	if predPage == 0 {
		// tail is the only node in the list.
		p.freelistHead = tail.next
	} else {
		pred, err := p.getNode(predPage)
		if err != nil {
			return 0, err
		}
		pred.next = tail.next
		if err := p.setNode(pred); err != nil {
			return 0, err
		}
	}

	return tailPage, nil
}

// insertInFreelist appends page to the tail of the free list as a new
// Freelist node.
func (p *pager) insertInFreelist(page uint32) error {
	fn := newFreelistNode(p.conf, page, 0)

	if p.freelistHead == 0 {
		p.freelistHead = page
		return p.setNode(fn)
	}

	tailPage, _, err := p.freelistTail()
	if err != nil {
		return err
	}
	if tailPage == page {
		return fmt.Errorf("%w: page %d is already the freelist tail", ErrInvalidArgument, page)
	}

	tail, err := p.getNode(tailPage)
	if err != nil {
		return err
	}
	tail.next = page
	if err := p.setNode(tail); err != nil {
		return err
	}
	return p.setNode(fn)
}

// freelistTail walks the free list from freelistHead and returns the
// last page in the chain along with its predecessor (0 if the head is
// itself the tail).
func (p *pager) freelistTail() (tailPage, predPage uint32, err error) {
	if p.freelistHead == 0 {
		return 0, 0, fmt.Errorf("%w: freelist is empty", ErrInvalidArgument)
	}

	cur := p.freelistHead
	var pred uint32
	for {
		n, err := p.getNode(cur)
		if err != nil {
			return 0, 0, err
		}
		if n.next == 0 {
			return cur, pred, nil
		}
		pred = cur
		cur = n.next
	}
}
