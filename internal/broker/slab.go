package broker

// Slab is a dense, freelist-backed store keyed by ConnectionId. Every
// router-owned per-connection structure (connections, ibufs, obufs,
// ackslog, scheduler.trackers) is one of these; spec §3's invariant that
// "removal is atomic across all five" is enforced by always inserting into
// and removing from all five together and asserting they hand back the
// same id (spec §4.5, §4.7).
type Slab[T any] struct {
	items []T
	live  []bool
	free  []ConnectionId
}

// Insert allocates the next free id (reusing a released one if available)
// and stores v at it, returning the id.
func (s *Slab[T]) Insert(v T) ConnectionId {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.items[id] = v
		s.live[id] = true
		return id
	}
	id := ConnectionId(len(s.items))
	s.items = append(s.items, v)
	s.live = append(s.live, true)
	return id
}

// Remove releases id for reuse, zeroing its slot.
func (s *Slab[T]) Remove(id ConnectionId) {
	if int(id) >= len(s.items) || !s.live[id] {
		return
	}
	var zero T
	s.items[id] = zero
	s.live[id] = false
	s.free = append(s.free, id)
}

// Get returns the value at id and whether it is currently live.
func (s *Slab[T]) Get(id ConnectionId) (T, bool) {
	if int(id) >= len(s.items) || !s.live[id] {
		var zero T
		return zero, false
	}
	return s.items[id], true
}

// Has reports whether id is currently live.
func (s *Slab[T]) Has(id ConnectionId) bool {
	return int(id) < len(s.items) && s.live[id]
}

// Set overwrites the value at a live id.
func (s *Slab[T]) Set(id ConnectionId, v T) {
	if int(id) < len(s.items) && s.live[id] {
		s.items[id] = v
	}
}

// Len reports the number of currently live entries.
func (s *Slab[T]) Len() int {
	n := 0
	for _, live := range s.live {
		if live {
			n++
		}
	}
	return n
}
