package remote

// seenCapacity bounds how many message ids are remembered.
const seenCapacity = 4096

// seenSet remembers the most recent message ids in FIFO order. Not safe
// for concurrent use.
type seenSet struct {
	ids   map[int64]struct{}
	ring  []int64
	next  int
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{
		ids:   make(map[int64]struct{}, limit),
		ring:  make([]int64, 0, limit),
		limit: limit,
	}
}

// Add records id and reports whether it was new. When full, the oldest id is evicted.
func (s *seenSet) Add(id int64) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ring) < s.limit {
		s.ring = append(s.ring, id)
	} else {
		delete(s.ids, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % s.limit
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *seenSet) Len() int { return len(s.ids) }
