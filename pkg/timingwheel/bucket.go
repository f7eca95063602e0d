package timingwheel

// bucket is a doubly linked list of slab entries sharing one slot.
// Linking and unlinking touch only the entry and its neighbours.
type bucket struct {
	level int32
	slot  int32
	head  int32
	tail  int32
	count int

	// expiration is the absolute tick the bucket is armed for, -1 when it
	// is not in the expiration queue.
	expiration int64
	heapIndex  int
}

func newBucket(level, slot int32) bucket {
	return bucket{level: level, slot: slot, head: nilIndex, tail: nilIndex, expiration: -1, heapIndex: -1}
}

func (b *bucket) armed() bool { return b.expiration >= 0 }

func (b *bucket) push(s *slab, idx int32) {
	e := s.at(idx)
	e.level, e.slot = b.level, b.slot
	e.next = nilIndex
	e.prev = b.tail
	if b.tail != nilIndex {
		s.at(b.tail).next = idx
	} else {
		b.head = idx
	}
	b.tail = idx
	b.count++
}

// remove unlinks idx. It is a no-op if idx is not in this bucket.
func (b *bucket) remove(s *slab, idx int32) {
	e := s.at(idx)
	if e.level != b.level || e.slot != b.slot {
		return
	}
	if e.prev != nilIndex {
		s.at(e.prev).next = e.next
	} else {
		b.head = e.next
	}
	if e.next != nilIndex {
		s.at(e.next).prev = e.prev
	} else {
		b.tail = e.prev
	}
	e.prev, e.next = nilIndex, nilIndex
	e.level, e.slot = -1, -1
	b.count--
}

// detach empties the bucket and returns the head of the old chain. The
// chain stays linked through next so the caller can walk it.
func (b *bucket) detach() int32 {
	head := b.head
	b.head, b.tail, b.count = nilIndex, nilIndex, 0
	return head
}
