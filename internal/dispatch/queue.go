package dispatch

import "courier-dispatch/internal/domain"

// Queue is the FIFO of fulfillers waiting for a job. Only the head holds
// negotiation rights.
type Queue struct {
	entries []domain.Fulfiller
}

// Enqueue appends f unless it is already queued. It reports whether f
// became the head.
func (q *Queue) Enqueue(f domain.Fulfiller) (bool, error) {
	if q.Contains(f.Phone) {
		return false, ErrAlreadyQueued
	}
	q.entries = append(q.entries, f)
	return len(q.entries) == 1, nil
}

func (q *Queue) Head() (domain.Fulfiller, bool) {
	if len(q.entries) == 0 {
		return domain.Fulfiller{}, false
	}
	return q.entries[0], true
}

// Pop removes and returns the head.
func (q *Queue) Pop() (domain.Fulfiller, bool) {
	head, ok := q.Head()
	if !ok {
		return head, false
	}
	q.entries = q.entries[1:]
	return head, true
}

func (q *Queue) Contains(phone string) bool {
	for _, f := range q.entries {
		if f.Phone == phone {
			return true
		}
	}
	return false
}

func (q *Queue) Len() int { return len(q.entries) }

// Clear empties the queue and returns what it held.
func (q *Queue) Clear() []domain.Fulfiller {
	out := q.entries
	q.entries = nil
	return out
}

func (q *Queue) Snapshot() []domain.Fulfiller {
	return append([]domain.Fulfiller(nil), q.entries...)
}
