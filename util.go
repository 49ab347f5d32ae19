package bptree

// pairwiseReferences calls fn(a, b) for every pair of adjacent entries
// in entries, assuming they are all *Reference — mirrors
// utils.pairwise(node.entries) used while walking an Internal/Root
// node's children.
func pairwiseReferences(entries []keyedEntry, fn func(a, b *Reference) bool) {
	for i := 0; i+1 < len(entries); i++ {
		a := entries[i].(*Reference)
		b := entries[i+1].(*Reference)
		if fn(a, b) {
			return
		}
	}
}

// chunk splits data into pieces of at most size bytes, in order. A nil
// or empty data still yields exactly one (possibly empty) chunk, so an
// empty value still gets a single overflow page — mirroring
// utils.iter_slice as used by _create_overflow.
func chunk(data []byte, size int) [][]byte {
	if size <= 0 {
		return [][]byte{data}
	}
	var chunks [][]byte
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	chunks = append(chunks, data)
	return chunks
}
