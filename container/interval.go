package container

import (
	"golang.org/x/exp/constraints"
)

type direction uint8
type color bool

const (
	left  direction = 0
	right direction = 1
)

const (
	black color = false
	red   color = true
)

// Interval is a closed interval [Min, Max]. Intervals are ordered by Min,
// then Max, so duplicates with identical bounds collapse onto one node.
type Interval[T constraints.Ordered] struct {
	Min, Max T
}

func (ival Interval[T]) compare(oval Interval[T]) int {
	switch {
	case ival.Min < oval.Min:
		return -1
	case ival.Min > oval.Min:
		return 1
	case ival.Max < oval.Max:
		return -1
	case ival.Max > oval.Max:
		return 1
	default:
		return 0
	}
}

func (ival Interval[T]) Overlaps(oval Interval[T]) bool {
	return ival.Min <= oval.Max && ival.Max >= oval.Min
}

// IntervalTree is an augmented red-black tree of intervals. Each node
// additionally tracks the maximum interval end in its subtree, which lets
// Find skip subtrees that end before the queried range starts. The tree is
// insert-only; the importer never removes flow events once indexed.
type IntervalTree[T constraints.Ordered, V any] struct {
	root *node[T, V]
	size int
}

type node[T constraints.Ordered, V any] struct {
	parent     *node[T, V]
	children   [2]*node[T, V]
	key        Interval[T]
	maxSubtree T
	values     []V
	color      color
}

func NewIntervalTree[T constraints.Ordered, V any]() *IntervalTree[T, V] {
	return &IntervalTree[T, V]{}
}

func (t *IntervalTree[T, V]) Len() int { return t.size }

// Insert adds value under [min, max]. Values sharing exact bounds share a
// node, in insertion order.
func (t *IntervalTree[T, V]) Insert(min, max T, value V) {
	t.size++
	k := Interval[T]{min, max}
	if t.root == nil {
		n := &node[T, V]{key: k, maxSubtree: max, values: []V{value}}
		t.insert(n, nil, 0)
		return
	}
	p, ok, dir := t.search(k)
	if ok {
		p.values = append(p.values, value)
		return
	}
	n := &node[T, V]{key: k, maxSubtree: max, values: []V{value}}
	t.insert(n, p, dir)
	t.updateAug(n)
}

func (t *IntervalTree[T, V]) search(k Interval[T]) (n *node[T, V], found bool, dir direction) {
	x := t.root
	for {
		switch k.compare(x.key) {
		case -1:
			dir = left
		case 0:
			return x, true, 0
		case 1:
			dir = right
		}
		child := x.children[dir]
		if child == nil {
			return x, false, dir
		}
		x = child
	}
}

func (t *IntervalTree[T, V]) rotate(p *node[T, V], dir direction) *node[T, V] {
	g := p.parent
	s := p.children[1-dir]
	c := s.children[dir]
	p.children[1-dir] = c
	if c != nil {
		c.parent = p
	}
	s.children[dir] = p
	p.parent = s
	s.parent = g
	if g != nil {
		var child direction
		if p == g.children[right] {
			child = right
		} else {
			child = left
		}
		g.children[child] = s
	} else {
		t.root = s
	}
	t.updateAugLocal(p)
	t.updateAugLocal(s)
	return s
}

func (t *IntervalTree[T, V]) insert(n, p *node[T, V], dir direction) {
	n.color = red
	n.parent = p
	if p == nil {
		t.root = n
		return
	}
	p.children[dir] = n

	for {
		if p.color == black {
			return
		}
		g := p.parent
		if g == nil {
			p.color = black
			return
		}
		dir = p.childDir()
		u := g.children[1-dir]
		if u == nil || u.color == black {
			if n == p.children[1-dir] {
				t.rotate(p, dir)
				n = p
				p = g.children[dir]
			}
			t.rotate(g, 1-dir)
			p.color = black
			g.color = red
			t.updateAug(g)
			return
		}
		p.color = black
		u.color = black
		g.color = red
		n = g
		p = n.parent
		if p == nil {
			break
		}
	}
}

func (n *node[T, V]) childDir() direction {
	if n.parent.children[right] == n {
		return right
	}
	return left
}

// updateAugLocal recomputes maxSubtree for a single node.
func (t *IntervalTree[T, V]) updateAugLocal(n *node[T, V]) {
	max := n.key.Max
	if c := n.children[0]; c != nil && c.maxSubtree > max {
		max = c.maxSubtree
	}
	if c := n.children[1]; c != nil && c.maxSubtree > max {
		max = c.maxSubtree
	}
	n.maxSubtree = max
}

// updateAug recomputes maxSubtree along the path from n to the root.
func (t *IntervalTree[T, V]) updateAug(n *node[T, V]) {
	for ; n != nil; n = n.parent {
		t.updateAugLocal(n)
	}
}

// Find appends to out every value whose interval overlaps [min, max],
// ordered by interval.
func (t *IntervalTree[T, V]) Find(min, max T, out []V) []V {
	return t.find(t.root, min, max, out)
}

func (t *IntervalTree[T, V]) find(n *node[T, V], min, max T, out []V) []V {
	if n == nil {
		return out
	}
	if min > n.maxSubtree {
		// The whole subtree ends before our range starts.
		return out
	}
	out = t.find(n.children[left], min, max, out)
	if n.key.Overlaps(Interval[T]{min, max}) {
		out = append(out, n.values...)
	}
	out = t.find(n.children[right], min, max, out)
	return out
}

// Walk visits every value in interval order.
func (t *IntervalTree[T, V]) Walk(visit func(ival Interval[T], value V)) {
	t.walk(t.root, visit)
}

func (t *IntervalTree[T, V]) walk(n *node[T, V], visit func(Interval[T], V)) {
	if n == nil {
		return
	}
	t.walk(n.children[left], visit)
	for _, v := range n.values {
		visit(n.key, v)
	}
	t.walk(n.children[right], visit)
}
