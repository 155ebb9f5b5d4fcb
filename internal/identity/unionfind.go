package identity

// forest is a disjoint-set over detection ordinals. The root of every set is its
// lowest ordinal, so the representative does not depend on union order.
type forest struct {
	parent []int
}

func newForest(n int) *forest {
	f := &forest{parent: make([]int, n)}
	for i := range f.parent {
		f.parent[i] = i
	}
	return f
}

func (f *forest) find(i int) int {
	for f.parent[i] != i {
		f.parent[i] = f.parent[f.parent[i]]
		i = f.parent[i]
	}
	return i
}

func (f *forest) union(a, b int) {
	ra, rb := f.find(a), f.find(b)
	switch {
	case ra == rb:
	case ra < rb:
		f.parent[rb] = ra
	default:
		f.parent[ra] = rb
	}
}
