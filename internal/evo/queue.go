package evo

// DispatchQueue holds the policies still waiting for a slot this generation.
type DispatchQueue struct {
	items []Policy
	head  int
}

func NewDispatchQueue(population []Policy) *DispatchQueue {
	items := make([]Policy, len(population))
	copy(items, population)
	return &DispatchQueue{items: items}
}

func (q *DispatchQueue) Len() int {
	return len(q.items) - q.head
}

func (q *DispatchQueue) Pop() (Policy, bool) {
	if q.Len() == 0 {
		return nil, false
	}
	p := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	return p, true
}
