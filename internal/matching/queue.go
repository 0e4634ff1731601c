package matching

// waitQueue is the FIFO sequence of connection ids awaiting a partner. A
// given id appears at most once; an id is removed the instant it is matched
// or disconnects. Like the registry, it is owned and serialized by Service.
type waitQueue struct {
	ids    []string
	member map[string]struct{}
}

func newWaitQueue() *waitQueue {
	return &waitQueue{member: make(map[string]struct{})}
}

// push appends id to the tail. Pushing an id that is already queued is a
// no-op, preserving the at-most-once invariant.
func (q *waitQueue) push(id string) {
	if _, ok := q.member[id]; ok {
		return
	}
	q.ids = append(q.ids, id)
	q.member[id] = struct{}{}
}

// pop removes and returns the head of the queue (the longest-waiting id).
func (q *waitQueue) pop() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	delete(q.member, id)
	return id, true
}

// remove deletes id from the queue wherever it sits. Used when a waiting
// participant disconnects so it can never be handed out as a partner.
func (q *waitQueue) remove(id string) bool {
	if _, ok := q.member[id]; !ok {
		return false
	}
	delete(q.member, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	return true
}

func (q *waitQueue) contains(id string) bool {
	_, ok := q.member[id]
	return ok
}

func (q *waitQueue) size() int {
	return len(q.ids)
}
