package scheduler

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Priority is a lexicographically ordered sequence: a root request gets a
// single-element sequence from a monotonically increasing counter, and a
// child's sequence is its parent's sequence with the child's birth order
// appended. Comparing two priorities element-by-element reproduces the order
// requests were spawned in, with children always ranking immediately after
// their parent and before any of the parent's later children.
//
// Most request trees stay shallow, so the backing array is sized for four
// levels of nesting before it spills to the heap.
type Priority struct {
	small [4]int
	rest  []int
	n     int
}

func (p Priority) len() int { return p.n }

func (p Priority) at(i int) int {
	if i < len(p.small) {
		return p.small[i]
	}
	return p.rest[i-len(p.small)]
}

func (p *Priority) append(v int) {
	if p.n < len(p.small) {
		p.small[p.n] = v
	} else {
		p.rest = append(p.rest, v)
	}
	p.n++
}

func newRootPriority(seq int) Priority {
	var p Priority
	p.append(seq)
	return p
}

// child returns the priority of the index-th child spawned under p.
func (p Priority) child(index int) Priority {
	var c Priority
	for i := 0; i < p.n; i++ {
		c.append(p.at(i))
	}
	c.append(index)
	return c
}

// less implements the lexicographic comparison used to order the worker
// runqueues: shorter-prefix priorities sort before their extensions, and
// differing elements decide the order at the first point of difference.
func (p Priority) less(other Priority) bool {
	n := p.n
	if other.n < n {
		n = other.n
	}
	for i := 0; i < n; i++ {
		a, b := p.at(i), other.at(i)
		if a != b {
			return a < b
		}
	}
	return p.n < other.n
}

func (p Priority) String() string {
	parts := make([]string, p.n)
	for i := 0; i < p.n; i++ {
		parts[i] = fmt.Sprintf("%d", p.at(i))
	}
	return "[" + strings.Join(parts, ".") + "]"
}

// rootPriorityCounter hands out the root-level sequence numbers; it plays
// the role of the original implementation's itertools.count() used to order
// unrelated top-level requests by submission time.
var rootPriorityCounter int64

func nextRootPriority() Priority {
	return newRootPriority(int(atomic.AddInt64(&rootPriorityCounter, 1) - 1))
}
