package memmgr

// Registry tracks, per reader, how many segment_info_update messages are
// outstanding against each SegmentInfo the reader has been told about. It
// is populated on subscribe and pruned on unsubscribe; membership here is
// the coordinator's only record of which readers exist at all.
type Registry struct {
	readers map[string]map[*SegmentInfo]int
}

// NewRegistry returns an empty reader registry.
func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]map[*SegmentInfo]int)}
}

// HasReader reports whether reader is currently subscribed.
func (r *Registry) HasReader(reader string) bool {
	_, ok := r.readers[reader]
	return ok
}

// EnsureReader registers reader if it is not already known. Calling it
// twice for the same reader is a no-op, matching the original coordinator's
// idempotent handling of a duplicate subscribed notification.
func (r *Registry) EnsureReader(reader string) {
	if _, ok := r.readers[reader]; !ok {
		r.readers[reader] = make(map[*SegmentInfo]int)
	}
}

// RemoveReader drops reader entirely and returns whatever outstanding
// counts it still had, for diagnostics.
func (r *Registry) RemoveReader(reader string) map[*SegmentInfo]int {
	m := r.readers[reader]
	delete(r.readers, reader)
	return m
}

// Readers returns the ids of every currently subscribed reader.
func (r *Registry) Readers() []string {
	ids := make([]string, 0, len(r.readers))
	for id := range r.readers {
		ids = append(ids, id)
	}
	return ids
}

// IncrementOutstanding records that one more segment_info_update was sent
// to reader for seg.
func (r *Registry) IncrementOutstanding(reader string, seg *SegmentInfo) {
	r.EnsureReader(reader)
	r.readers[reader][seg]++
}

// DecrementOutstanding records one segment_info_update ack from reader for
// seg. ok is false, and nothing is changed, when reader is not a known
// reader or has no outstanding count against seg at all: an ack for an
// unknown (reader, segment) pair is dropped rather than driven negative.
func (r *Registry) DecrementOutstanding(reader string, seg *SegmentInfo) (count int, ok bool) {
	segs, ok := r.readers[reader]
	if !ok {
		return 0, false
	}
	n, ok := segs[seg]
	if !ok || n <= 0 {
		return 0, false
	}
	n--
	if n == 0 {
		delete(segs, seg)
	} else {
		segs[seg] = n
	}
	return n, true
}
