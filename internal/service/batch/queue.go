package batch

import (
	"context"

	"ai-lecture-transcriber/internal/service/stt"
)

type pendingKey struct {
	sessionID  string
	chunkIndex int
}

type response struct {
	res stt.Result
	err error
}

type item struct {
	key  pendingKey
	req  stt.Request
	ctx  context.Context
	seq  uint64
	done chan response
	// index is the heap position, -1 once removed.
	index int
}

// queue is a max-heap on priority, FIFO within a priority.
type queue []*item

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].req.Priority != q[j].req.Priority {
		return q[i].req.Priority > q[j].req.Priority
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}
