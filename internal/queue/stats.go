package queue

// Stats summarizes the pending set for queue_stats.
type Stats struct {
	Size            int            `json:"size"`
	Entities        map[string]int `json:"entities"`
	SavepointDepth  int            `json:"savepoint_depth"`
	HooksRegistered bool           `json:"hooks_registered"`
}

// Stats returns a point-in-time summary of the queue.
func (q *Queue) Stats() Stats {
	keys := q.Keys()
	st := Stats{
		Size:            len(keys),
		Entities:        make(map[string]int),
		SavepointDepth:  q.SavepointDepth(),
		HooksRegistered: q.HooksRegistered(),
	}
	for _, k := range keys {
		st.Entities[k.Entity]++
	}
	return st
}

// Debug returns the pending keys in "entity:pk" form.
func (q *Queue) Debug() []string {
	keys := q.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
