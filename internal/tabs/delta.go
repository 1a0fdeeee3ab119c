// internal/tabs/delta.go
package tabs

// Delta holds the snapshot entries that are new or changed since the baseline.
type Delta map[string]string

// Diff returns the entries of fresh that are absent from or different in
// baseline. A nil baseline makes the whole snapshot the delta.
func Diff(baseline, fresh map[string]string) Delta {
	d := make(Delta)
	for k, v := range fresh {
		if old, ok := baseline[k]; !ok || old != v {
			d[k] = v
		}
	}
	return d
}

// ComputeDelta compares fresh against the last snapshot marked seen for key.
// Keys without a handle or baseline get the full snapshot back.
func (r *Registry) ComputeDelta(key string, fresh map[string]string) Delta {
	h := r.lookup(key)
	if h == nil {
		return Diff(nil, fresh)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Diff(h.baseline, fresh)
}

// MarkSeen makes snapshot the baseline for key. It reports false when no
// handle is registered for key, in which case nothing is stored.
func (r *Registry) MarkSeen(key string, snapshot map[string]string) bool {
	h := r.lookup(key)
	if h == nil {
		return false
	}
	cp := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		cp[k] = v
	}
	h.mu.Lock()
	h.baseline = cp
	h.mu.Unlock()
	return true
}
