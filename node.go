package prefixset

// node is one position in the mutable trie a Builder maintains.
//
// matched marks that this node, and every address whose bit-path
// reaches it, belongs to the set - in which case left and right are
// always nil, since any subtree below a matched node is redundant.
// Otherwise the node is a "building" node with up to two optional
// children, created lazily as prefixes are inserted.
type node struct {
	matched bool
	left    *node
	right   *node
}

// bitAt returns the i-th bit of addr, most-significant first, as 0 or 1.
// It works identically for the 4-byte and 16-byte forms since both are
// big-endian byte sequences.
func bitAt(addrBytes []byte, i int) byte {
	return (addrBytes[i/8] >> uint(7-i%8)) & 1
}
