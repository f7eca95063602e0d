package timingwheel

import "container/heap"

// expirationQueue orders armed buckets by expiration tick. Ties go to the
// coarser level first so cascaded tasks join the batch of their tick.
type expirationQueue []*bucket

func (q expirationQueue) Len() int { return len(q) }

func (q expirationQueue) Less(i, j int) bool {
	if q[i].expiration != q[j].expiration {
		return q[i].expiration < q[j].expiration
	}
	return q[i].level > q[j].level
}

func (q expirationQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *expirationQueue) Push(x any) {
	b := x.(*bucket)
	b.heapIndex = len(*q)
	*q = append(*q, b)
}

func (q *expirationQueue) Pop() any {
	old := *q
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.heapIndex = -1
	*q = old[:n-1]
	return b
}

// arm enqueues b for expiration. Re-arming an already queued bucket only
// fixes its position.
func (q *expirationQueue) arm(b *bucket, expiration int64) {
	b.expiration = expiration
	if b.heapIndex >= 0 {
		heap.Fix(q, b.heapIndex)
		return
	}
	heap.Push(q, b)
}

// peek returns the earliest armed expiration, or ok=false when empty.
func (q expirationQueue) peek() (int64, bool) {
	if len(q) == 0 {
		return 0, false
	}
	return q[0].expiration, true
}

// popDue removes and returns the earliest bucket if it expires at or before
// tick. The caller owns disarming it.
func (q *expirationQueue) popDue(tick int64) *bucket {
	if len(*q) == 0 || (*q)[0].expiration > tick {
		return nil
	}
	b := heap.Pop(q).(*bucket)
	return b
}
