package hnsw

// rankedDist is a distance as seen by the active protocol variant. The
// encrypted scalar is always present; plain is only meaningful under the
// hybrid ranker, after the oracle round trip.
type rankedDist struct {
	ct    Ciphertext
	plain float64
}

// candidate pairs a node id with its ranked distance to the current query.
type candidate struct {
	id   uint32
	dist rankedDist
}

// lessFunc orders two ranked distances. Under the server-blind variant every
// call is a homomorphic comparison, so candidate bookkeeping keeps the number
// of invocations proportional to the beam width rather than using a
// comparison-heavy container.
type lessFunc func(a, b rankedDist) (bool, error)

// candidateList keeps candidates ordered nearest-first. A limit of 0 means
// unbounded; otherwise inserts beyond the limit evict the farthest entry.
type candidateList struct {
	items []candidate
	limit int
	less  lessFunc
}

// insert places c in distance order. Equal distances keep insertion order.
// Returns false if the list is full and c is no nearer than the farthest
// entry.
func (l *candidateList) insert(c candidate) (bool, error) {
	pos := len(l.items)
	for pos > 0 {
		nearer, err := l.less(c.dist, l.items[pos-1].dist)
		if err != nil {
			return false, err
		}
		if !nearer {
			break
		}
		pos--
	}

	if l.limit > 0 && pos >= l.limit {
		return false, nil
	}

	l.items = append(l.items, candidate{})
	copy(l.items[pos+1:], l.items[pos:])
	l.items[pos] = c

	if l.limit > 0 && len(l.items) > l.limit {
		l.items = l.items[:l.limit]
	}
	return true, nil
}

// popNearest removes and returns the nearest candidate.
func (l *candidateList) popNearest() candidate {
	c := l.items[0]
	l.items = l.items[1:]
	return c
}

// farthest returns the current farthest candidate without removing it.
func (l *candidateList) farthest() candidate {
	return l.items[len(l.items)-1]
}

func (l *candidateList) len() int { return len(l.items) }

func (l *candidateList) full() bool {
	return l.limit > 0 && len(l.items) >= l.limit
}
