package memmgr

// State is one of the five states a SegmentInfo can occupy. The coordinator
// owns every SegmentInfo exclusively from its own goroutine, so none of
// these types take a lock.
type State string

const (
	// StateReady is the only state in which a new event is dispatched to
	// the builder.
	StateReady State = "READY"
	// StateValidating is entered while a validate Event is in flight.
	StateValidating State = "VALIDATING"
	// StateUpdating is entered while a load Event is in flight.
	StateUpdating State = "UPDATING"
	// StateSynchronizing is entered after a successful load while readers
	// still hold the previous segment version and must ack the switch.
	StateSynchronizing State = "SYNCHRONIZING"
	// StateCopying is entered once every old reader has synced, running the
	// builder's follow-up copy phase before the segment returns to Ready.
	StateCopying State = "COPYING"
)

// SegmentParams is the opaque reset parameter blob handed to readers so
// they can attach to the segment's current mapped file.
type SegmentParams struct {
	Path string
	Size int64
}

// SegmentInfo is the state machine for one (generation, class, datasrc)
// segment. See invariants I1-I5: at most one builder command in flight at a
// time, pending events dispatch only from Ready, a reader is in exactly one
// of current/old/queued, the generation-id never changes, and events drain
// strictly in FIFO order.
type SegmentInfo struct {
	Generation  Generation
	Class       string
	DatasrcName string

	state  State
	loaded bool
	params SegmentParams

	pending []Event

	currentReaders map[string]struct{}
	oldReaders     map[string]struct{}
	queuedReaders  map[string]struct{}

	// Diagnostics only; never consulted for control flow.
	validatesSeen int
	loadsSeen     int
	failuresSeen  int
}

// NewSegmentInfo creates a fresh, unloaded segment in state Ready so that
// its first AddEvent+StartUpdate pair dispatches immediately.
func NewSegmentInfo(generation Generation, class, datasrcName string, params SegmentParams) *SegmentInfo {
	return &SegmentInfo{
		Generation:     generation,
		Class:          class,
		DatasrcName:    datasrcName,
		state:          StateReady,
		params:         params,
		currentReaders: make(map[string]struct{}),
		oldReaders:     make(map[string]struct{}),
		queuedReaders:  make(map[string]struct{}),
	}
}

// State returns the segment's current state.
func (s *SegmentInfo) State() State { return s.state }

// Loaded reports whether at least one load has ever completed successfully.
func (s *SegmentInfo) Loaded() bool { return s.loaded }

// CurrentReaders returns the readers attached to the live segment version.
func (s *SegmentInfo) CurrentReaders() map[string]struct{} { return s.currentReaders }

// OldReaders returns the readers still attached to a superseded segment
// version, pending a sync ack.
func (s *SegmentInfo) OldReaders() map[string]struct{} { return s.oldReaders }

// GetResetParam returns the opaque parameter blob sent to readers so they
// can attach to (or re-check) the current mapped segment.
func (s *SegmentInfo) GetResetParam() SegmentParams { return s.params }

// SetResetParam replaces the reset parameter blob, used once the builder
// has actually written a new mapped file at a known path/size.
func (s *SegmentInfo) SetResetParam(p SegmentParams) { s.params = p }

// StartValidateActions returns the two opaque validation handles the
// builder must check before a never-loaded segment's double-buffered slots
// are both known good.
func (s *SegmentInfo) StartValidateActions() (string, string) {
	return "primary", "secondary"
}

// AddEvent appends an event to the FIFO pending queue. It never dispatches
// by itself; callers follow it with StartUpdate.
func (s *SegmentInfo) AddEvent(e Event) {
	s.pending = append(s.pending, e)
}

// StartUpdate dispatches the head of the pending queue if, and only if, the
// segment is currently Ready. It returns nil when there is nothing to
// dispatch or the segment is busy with another event.
func (s *SegmentInfo) StartUpdate() *Event {
	if s.state != StateReady {
		return nil
	}
	return s.dispatchNext()
}

// dispatchNext pops the pending head (if any), transitions state to match
// its kind, and returns it. Caller must already be in (or returning to)
// Ready.
func (s *SegmentInfo) dispatchNext() *Event {
	if len(s.pending) == 0 {
		s.state = StateReady
		return nil
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	switch ev.Kind {
	case EventValidate:
		s.state = StateValidating
		s.validatesSeen++
	case EventLoad:
		s.state = StateUpdating
		s.loadsSeen++
	}
	return &ev
}

// CompleteValidate reports the completion of the in-flight validate event.
// It always returns to Ready and, if another event is already queued,
// dispatches it immediately rather than waiting for an external StartUpdate.
func (s *SegmentInfo) CompleteValidate(success bool) *Event {
	if !success {
		s.failuresSeen++
	}
	s.state = StateReady
	return s.dispatchNext()
}

// CompleteUpdate reports the completion of the in-flight load, or of the
// follow-up copy phase triggered once every old reader has synced. Which
// one it is depends on the segment's own current state, not on a separate
// notification kind: Copying means the copy phase just finished.
func (s *SegmentInfo) CompleteUpdate(success bool) *Event {
	if s.state == StateCopying {
		s.state = StateReady
		return s.dispatchNext()
	}

	if !success {
		s.failuresSeen++
		s.state = StateReady
		return s.dispatchNext()
	}

	if len(s.currentReaders) > 0 {
		for r := range s.currentReaders {
			s.oldReaders[r] = struct{}{}
		}
		s.currentReaders = make(map[string]struct{})
	}
	if len(s.queuedReaders) > 0 {
		for r := range s.queuedReaders {
			s.currentReaders[r] = struct{}{}
		}
		s.queuedReaders = make(map[string]struct{})
	}
	s.loaded = true

	if len(s.oldReaders) == 0 {
		// Nothing needs to sync to the new version, so there is nothing for
		// the copy phase to preserve either: skip straight to Ready.
		s.state = StateReady
		return s.dispatchNext()
	}

	s.state = StateSynchronizing
	return nil
}

// SyncReader acknowledges that reader has switched off the old segment
// version. Once every old reader has synced, the segment moves to Copying
// and the returned Command must be forwarded to the builder.
func (s *SegmentInfo) SyncReader(reader string) *Command {
	delete(s.oldReaders, reader)
	if s.state != StateSynchronizing || len(s.oldReaders) > 0 {
		return nil
	}
	s.state = StateCopying
	return &Command{Kind: CommandCopy, Class: s.Class, DatasrcName: s.DatasrcName}
}

// RemoveReader drops reader from every set it might belong to (idempotent:
// a reader not tracked anywhere is a no-op). If removal empties the old-
// reader set while waiting on a sync, it behaves exactly like the last
// SyncReader ack and returns the copy-phase follow-up command.
func (s *SegmentInfo) RemoveReader(reader string) *Command {
	delete(s.currentReaders, reader)
	delete(s.queuedReaders, reader)
	if _, ok := s.oldReaders[reader]; !ok {
		return nil
	}
	delete(s.oldReaders, reader)
	if s.state != StateSynchronizing || len(s.oldReaders) > 0 {
		return nil
	}
	s.state = StateCopying
	return &Command{Kind: CommandCopy, Class: s.Class, DatasrcName: s.DatasrcName}
}

// AddReader registers reader against this segment, idempotently. A reader
// already tracked in any set is left untouched. If the segment already has
// a loaded, live version, the reader becomes a current reader immediately;
// otherwise it is queued and promoted to current at the next successful
// load.
func (s *SegmentInfo) AddReader(reader string) {
	if _, ok := s.currentReaders[reader]; ok {
		return
	}
	if _, ok := s.oldReaders[reader]; ok {
		return
	}
	if _, ok := s.queuedReaders[reader]; ok {
		return
	}
	if s.state == StateReady && s.loaded {
		s.currentReaders[reader] = struct{}{}
		return
	}
	s.queuedReaders[reader] = struct{}{}
}

// SegmentStats is a read-only diagnostics snapshot of one segment.
type SegmentStats struct {
	Class       string
	DatasrcName string
	State       State
	Loaded      bool
	Readers     int
	OldReaders  int
	Validates   int
	Loads       int
	Failures    int
}

// Stats returns a point-in-time diagnostics snapshot of this segment.
func (s *SegmentInfo) Stats() SegmentStats {
	return SegmentStats{
		Class:       s.Class,
		DatasrcName: s.DatasrcName,
		State:       s.state,
		Loaded:      s.loaded,
		Readers:     len(s.currentReaders),
		OldReaders:  len(s.oldReaders),
		Validates:   s.validatesSeen,
		Loads:       s.loadsSeen,
		Failures:    s.failuresSeen,
	}
}
