package broker

import "github.com/google/uuid"

// entry is one ready job sitting in the priority heap. seq breaks ties
// between equal priorities in FIFO order, the way spec.md §4.2 requires
// ("FIFO within equal priority").
type entry struct {
	jobID    uuid.UUID
	priority int
	seq      int64
	index    int // maintained by container/heap for O(log n) removal
}

// priorityQueue is a max-heap on (priority DESC, seq ASC), implementing
// heap.Interface. It is not safe for concurrent use; Broker guards it with a
// mutex.
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*pq)
	*pq = append(*pq, e)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*pq = old[:n-1]
	return e
}
