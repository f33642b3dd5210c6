package queue

import "fmt"

type savepoint struct {
	name string
	keys map[RefreshKey]struct{}
}

// PushSavepoint records the current pending set under name.
func (q *Queue) PushSavepoint(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.savepoints = append(q.savepoints, savepoint{name: name, keys: cloneSet(q.keys)})
}

// RollbackTo restores the pending set recorded by the most recent
// savepoint named name. Like SQL ROLLBACK TO, the savepoint itself stays on
// the stack and savepoints created after it are discarded.
func (q *Queue) RollbackTo(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(name)
	if i < 0 {
		return fmt.Errorf("queue: savepoint %q does not exist", name)
	}
	q.keys = cloneSet(q.savepoints[i].keys)
	q.savepoints = q.savepoints[:i+1]
	return nil
}

// Release discards the savepoint named name and every savepoint created
// after it, keeping the current pending set.
func (q *Queue) Release(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(name)
	if i < 0 {
		return fmt.Errorf("queue: savepoint %q does not exist", name)
	}
	q.savepoints = q.savepoints[:i]
	return nil
}

// SavepointDepth returns the number of active savepoints.
func (q *Queue) SavepointDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.savepoints)
}

func (q *Queue) find(name string) int {
	for i := len(q.savepoints) - 1; i >= 0; i-- {
		if q.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

func cloneSet(m map[RefreshKey]struct{}) map[RefreshKey]struct{} {
	out := make(map[RefreshKey]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
