package prefixset

import "github.com/prefixset/prefixset/internal/varint"

// maxPasses bounds the fixed-point offset convergence loop. Sixteen
// passes is generous for any realistically sized trie; failing to
// converge within the bound is an internal invariant violation, not a
// user error.
const maxPasses = 16

// wordSize is the safe upper bound used to seed the fixed-point
// iteration: every delta starts out as if it occupied a full 64-bit
// word, which over-estimates every offset and lets the iteration
// shrink monotonically toward the true varint-encoded layout.
const wordSize = 8

// BuildStats reports how Build converged, for diagnostic logging only;
// it never affects Contains.
type BuildStats struct {
	Nodes     int
	Passes    int
	BufferLen int
}

// Build consumes the Builder and returns the resulting Set. The
// returned Set's Stats method reports how the encoding converged, for
// callers that want to log it; the stats carry no semantic weight and
// Build's correctness does not depend on anyone reading them.
func (b *Builder) Build() *Set {
	if b.inserts == 0 {
		// The root never became Matched and never grew a child: the
		// logical set is empty. Encoding an untouched Building node
		// would emit two zero deltas, indistinguishable on decode
		// from a Matched sentinel, so the empty set is represented
		// out-of-band instead of through the shared buffer encoding.
		return &Set{bits: b.bits, empty: true, stats: BuildStats{Nodes: 1}}
	}

	leftChild, rightChild := flatten(b.root)
	buf, passes := encodeFixedPoint(leftChild, rightChild)

	return &Set{
		buf:  buf,
		bits: b.bits,
		stats: BuildStats{
			Nodes:     len(leftChild),
			Passes:    passes,
			BufferLen: len(buf),
		},
	}
}

// flatten performs a pre-order depth-first traversal of the logical
// trie (parent before children, left before right), assigning each
// visited node an index in visit order. It returns, per index, the
// index of that node's left and right child, or 0 if absent. Index 0
// is always the root, and the root is never a child of anything, so 0
// unambiguously means "no child".
func flatten(root *node) (leftChild, rightChild []int) {
	var nodes []*node

	var visit func(n *node) int
	visit = func(n *node) int {
		idx := len(nodes)
		nodes = append(nodes, n)
		leftChild = append(leftChild, 0)
		rightChild = append(rightChild, 0)
		if !n.matched {
			if n.left != nil {
				leftChild[idx] = visit(n.left)
			}
			if n.right != nil {
				rightChild[idx] = visit(n.right)
			}
		}
		return idx
	}
	visit(root)

	return leftChild, rightChild
}

// encodeFixedPoint runs the iterative offset fixed-point procedure of
// the node buffer format: each node occupies a region of exactly two
// varints, left_delta then right_delta, and each delta's encoded
// width depends on the final byte layout, which itself depends on
// every delta's width. The loop converges because deltas are always
// forward (children are visited after their parent in flatten's
// pre-order numbering), so shrinking a delta can only shrink
// downstream offsets; starting from a safe over-estimate makes every
// pass monotone non-increasing.
//
// Both child indices of a node are tracked as a single flat array of
// "slots", two per node (slot 2*i is node i's left delta, slot 2*i+1
// is its right delta). A child reference is expressed as the slot
// index of the child's own left delta, which is exactly the start of
// the child's encoded region - so left_delta (measured from the start
// of the current node's region, i.e. its own left slot) and
// right_delta (measured from the byte immediately after left_delta,
// i.e. the current node's right slot) fall out of the same formula.
func encodeFixedPoint(leftChild, rightChild []int) ([]byte, int) {
	n := len(leftChild)
	refSlot := make([]int, 2*n)
	for i := 0; i < n; i++ {
		if leftChild[i] != 0 {
			refSlot[2*i] = 2 * leftChild[i]
		}
		if rightChild[i] != 0 {
			refSlot[2*i+1] = 2 * rightChild[i]
		}
	}

	slotOffset := make([]int, 2*n)
	deltaValue := make([]int, 2*n)
	for slot := range slotOffset {
		slotOffset[slot] = slot * wordSize
		if ref := refSlot[slot]; ref != 0 {
			deltaValue[slot] = (ref - slot) * wordSize
		}
	}

	var buf []byte
	changed := true
	passes := 0
	for changed && passes < maxPasses {
		changed = false
		passes++

		buf = buf[:0]
		for slot, v := range deltaValue {
			slotOffset[slot] = len(buf)
			buf = varint.Append(buf, uint64(v))
		}

		for slot := range deltaValue {
			newVal := 0
			if ref := refSlot[slot]; ref != 0 {
				newVal = slotOffset[ref] - slotOffset[slot]
			}
			if newVal != deltaValue[slot] {
				deltaValue[slot] = newVal
				changed = true
			}
		}
	}

	if changed {
		panic("prefixset: build did not converge within the pass bound")
	}

	return buf, passes
}
