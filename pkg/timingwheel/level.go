package timingwheel

import "math"

// level is one ring of buckets. Each slot covers unit ticks, so the ring
// spans unit*size ticks. Levels are chained through overflow.
type level struct {
	index    int32
	unit     int64
	size     int64
	buckets  []bucket
	overflow *level

	// top levels never overflow; tasks beyond their span wait out rounds.
	top bool
}

func newLevel(index int32, unit int64, size int64, maxLevels int) *level {
	l := &level{
		index:   index,
		unit:    unit,
		size:    size,
		buckets: make([]bucket, size),
	}
	for i := range l.buckets {
		l.buckets[i] = newBucket(index, int32(i))
	}
	if maxLevels > 0 && int(index) >= maxLevels-1 {
		l.top = true
	}
	if unit > math.MaxInt64/size {
		l.top = true
	}
	return l
}

func (l *level) span() int64 {
	if l.unit > math.MaxInt64/l.size {
		return math.MaxInt64
	}
	return l.unit * l.size
}

// currentIndex is the slot the level's hand points at for tick cur.
func (l *level) currentIndex(cur int64) int64 {
	return mod(floorDiv(cur, l.unit), l.size)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		q++
	}
	return q
}

// mod is a non-negative remainder.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
