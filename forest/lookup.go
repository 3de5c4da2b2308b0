package forest

// lookup finds leaves by geometry. It holds a subset of the global leaves, the
// whole forest for balance and ghost construction, local plus ghost leaves for
// the mesh.
type lookup[V any] struct {
	conn   *Connectivity
	dim    int
	leaves map[leafKey]V
}

func newLookup[V any](conn *Connectivity, sizeHint int) *lookup[V] {
	return &lookup[V]{
		conn:   conn,
		dim:    conn.Dim,
		leaves: make(map[leafKey]V, sizeHint),
	}
}

func (l *lookup[V]) put(k leafKey, v V) { l.leaves[k] = v }

func (l *lookup[V]) get(k leafKey) (v V, ok bool) {
	v, ok = l.leaves[k]
	return
}

func (l *lookup[V]) remove(k leafKey) { delete(l.leaves, k) }

// containing returns the leaf holding q, q itself or one of its ancestors
func (l *lookup[V]) containing(tree int, q Quadrant) (k leafKey, v V, ok bool) {
	for level := q.Level; level >= 0; level-- {
		k = leafKey{Tree: int32(tree), Q: q.Ancestor(l.dim, level)}
		if v, ok = l.leaves[k]; ok {
			return
		}
	}
	return leafKey{}, v, false
}

// touching returns, in curve order, the leaves strictly inside box n that touch
// the side of n facing back along off. The search does not go below maxLevel.
// For off[a] == -1 a leaf must sit at the upper end of n along axis a, for +1
// at the lower end, for 0 anywhere.
func (l *lookup[V]) touching(tree int, n Quadrant, off [3]int, maxLevel int8) (keys []leafKey) {
	var walk func(b Quadrant)
	walk = func(b Quadrant) {
		if b.Level >= maxLevel {
			return
		}
		for _, c := range b.Children(l.dim) {
			if !touchesSide(l.dim, n, c, off) {
				continue
			}
			k := leafKey{Tree: int32(tree), Q: c}
			if _, ok := l.leaves[k]; ok {
				keys = append(keys, k)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return
}

func touchesSide(dim int, n, c Quadrant, off [3]int) bool {
	var (
		hn = QuadLen(dim, n.Level)
		hc = QuadLen(dim, c.Level)
	)
	for a := 0; a < dim; a++ {
		switch off[a] {
		case -1:
			if c.Coord(a)+hc != n.Coord(a)+hn {
				return false
			}
		case 1:
			if c.Coord(a) != n.Coord(a) {
				return false
			}
		}
	}
	return true
}

// adjacent returns the leaves across direction off from leaf q, one leaf of
// q's size or larger, or the finer leaves touching q down to maxLevel. ok is
// false outside a non periodic domain.
func (l *lookup[V]) adjacent(tree int, q Quadrant, off [3]int, maxLevel int8) (keys []leafKey, ok bool) {
	nt, n, inside := l.conn.Neighbor(tree, q, off)
	if !inside {
		return nil, false
	}
	if k, _, found := l.containing(nt, n); found {
		return []leafKey{k}, true
	}
	return l.touching(nt, n, off, maxLevel), true
}
