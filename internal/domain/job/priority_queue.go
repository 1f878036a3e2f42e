package job

import (
	"container/heap"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// PriorityQueue orders pending jobs for dispatch by priority desc, createdAt asc.
// Insert, extract, update, and remove are O(log n). It is not safe for
// concurrent use; callers guard it with their own lock.
type PriorityQueue struct {
	h jobHeap
}

// NewPriorityQueue builds a queue from the pending records in recs.
func NewPriorityQueue(recs ...model.JobRecord) *PriorityQueue {
	q := &PriorityQueue{h: jobHeap{index: make(map[model.JobKey]int)}}
	q.Sync(recs)
	return q
}

// Len returns the number of queued jobs.
func (q *PriorityQueue) Len() int {
	return len(q.h.items)
}

// Contains reports whether key is queued.
func (q *PriorityQueue) Contains(key model.JobKey) bool {
	_, ok := q.h.index[key]
	return ok
}

// Push inserts a pending record, replacing any queued record with the same key.
func (q *PriorityQueue) Push(rec model.JobRecord) {
	if rec.State != model.JobStatePending {
		q.Remove(rec.JobKey)
		return
	}
	if i, ok := q.h.index[rec.JobKey]; ok {
		q.h.items[i] = rec.Clone()
		heap.Fix(&q.h, i)
		return
	}
	heap.Push(&q.h, rec.Clone())
}

// Pop removes and returns the next job to dispatch.
func (q *PriorityQueue) Pop() (model.JobRecord, bool) {
	if len(q.h.items) == 0 {
		return model.JobRecord{}, false
	}
	rec, _ := heap.Pop(&q.h).(model.JobRecord)
	return rec, true
}

// Update changes the priority of a queued job in place.
func (q *PriorityQueue) Update(key model.JobKey, priority int) bool {
	i, ok := q.h.index[key]
	if !ok {
		return false
	}
	q.h.items[i].Priority = priority
	heap.Fix(&q.h, i)
	return true
}

// Remove drops a job from the queue.
func (q *PriorityQueue) Remove(key model.JobKey) (model.JobRecord, bool) {
	i, ok := q.h.index[key]
	if !ok {
		return model.JobRecord{}, false
	}
	rec, _ := heap.Remove(&q.h, i).(model.JobRecord)
	return rec, true
}

// Sync makes the queue hold exactly the pending records in recs. Records
// already queued are updated in place; everything else is removed.
func (q *PriorityQueue) Sync(recs []model.JobRecord) {
	keep := make(map[model.JobKey]struct{}, len(recs))
	for _, rec := range recs {
		if rec.State != model.JobStatePending {
			continue
		}
		keep[rec.JobKey] = struct{}{}
		q.Push(rec)
	}
	var drop []model.JobKey
	for _, rec := range q.h.items {
		if _, ok := keep[rec.JobKey]; !ok {
			drop = append(drop, rec.JobKey)
		}
	}
	for _, key := range drop {
		q.Remove(key)
	}
}

// Records returns the queued jobs in dispatch order without draining the queue.
func (q *PriorityQueue) Records() []model.JobRecord {
	tmp := jobHeap{
		items: make([]model.JobRecord, len(q.h.items)),
		index: make(map[model.JobKey]int, len(q.h.items)),
	}
	copy(tmp.items, q.h.items)
	for i, rec := range tmp.items {
		tmp.index[rec.JobKey] = i
	}
	out := make([]model.JobRecord, 0, len(tmp.items))
	for len(tmp.items) > 0 {
		rec, _ := heap.Pop(&tmp).(model.JobRecord)
		out = append(out, rec.Clone())
	}
	return out
}

// jobHeap implements heap.Interface with a key index for in-place updates.
type jobHeap struct {
	items []model.JobRecord
	index map[model.JobKey]int
}

func (h jobHeap) Len() int { return len(h.items) }

func (h jobHeap) Less(i, j int) bool {
	return model.ComparePending(h.items[i], h.items[j]) < 0
}

func (h jobHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i].JobKey] = i
	h.index[h.items[j].JobKey] = j
}

func (h *jobHeap) Push(x any) {
	rec, _ := x.(model.JobRecord)
	h.index[rec.JobKey] = len(h.items)
	h.items = append(h.items, rec)
}

func (h *jobHeap) Pop() any {
	n := len(h.items)
	rec := h.items[n-1]
	h.items[n-1] = model.JobRecord{}
	h.items = h.items[:n-1]
	delete(h.index, rec.JobKey)
	return rec
}
