package notify

import (
	"container/list"
	"sync"
)

// DefaultSeenCapacity bounds how many message keys the dispatcher remembers.
const DefaultSeenCapacity = 4096

// seenKeys is a size-bounded set; the oldest key is evicted first.
type seenKeys struct {
	mu      sync.Mutex
	keys    map[string]*list.Element
	order   *list.List
	maxSize int
}

func newSeenKeys(maxSize int) *seenKeys {
	if maxSize <= 0 {
		maxSize = DefaultSeenCapacity
	}
	return &seenKeys{
		keys:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// checkAndMark returns true if key was already present, otherwise records it.
func (s *seenKeys) checkAndMark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.keys[key]; ok {
		s.order.MoveToBack(elem)
		return true
	}
	if len(s.keys) >= s.maxSize {
		if front := s.order.Front(); front != nil {
			old, _ := front.Value.(string)
			s.order.Remove(front)
			delete(s.keys, old)
		}
	}
	s.keys[key] = s.order.PushBack(key)
	return false
}

func (s *seenKeys) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
