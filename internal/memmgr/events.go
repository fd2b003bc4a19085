package memmgr

// EventKind identifies the two kinds of work a SegmentInfo can have queued
// for the builder: checking an existing mapped segment is still usable, or
// loading a fresh one from zone data.
type EventKind string

const (
	EventValidate EventKind = "validate"
	EventLoad     EventKind = "load"
)

// Event is a single pending unit of work queued against a SegmentInfo. It
// replaces the positional tuples the original coordinator passed around
// ('validate', dsrc_info, class, name, action) with one tagged record per
// kind, so callers switch on Kind instead of unpacking fields by position.
type Event struct {
	Kind EventKind

	// Origin is the zone origin name for a Load event. Empty means "reload
	// every zone in this data source", matching a bare loadzone call with
	// no origin argument.
	Origin string

	// Action is the opaque validation handle returned by the segment's
	// two-slot start-validate step (see SegmentInfo.StartValidateActions).
	// Unused for Load events.
	Action string
}

// CommandKind identifies the work sent to the builder worker.
type CommandKind string

const (
	CommandValidate CommandKind = "validate"
	CommandLoad     CommandKind = "load"
	CommandCopy     CommandKind = "copy"
	CommandCancel   CommandKind = "cancel"
	CommandShutdown CommandKind = "shutdown"
)

// Command is one unit of work handed to the builder worker goroutine. At
// most one Command per SegmentInfo is ever outstanding with the builder
// (invariant I1).
type Command struct {
	Kind CommandKind

	DataSrc     *DataSrcInfo
	Class       string
	DatasrcName string

	Origin string // CommandLoad only
	Action string // CommandValidate only
}

// NotificationKind identifies the completion reports the builder posts back
// to the coordinator.
type NotificationKind string

const (
	// NotificationLoadCompleted reports completion of both a CommandLoad and
	// a CommandCopy: SegmentInfo.CompleteUpdate tells the two apart by its
	// own current state (Updating vs Copying) rather than by notification
	// kind, mirroring the original coordinator's single complete_update
	// entry point for both phases.
	NotificationLoadCompleted     NotificationKind = "load-completed"
	NotificationValidateCompleted NotificationKind = "validate-completed"
	NotificationCancelCompleted   NotificationKind = "cancel-completed"
)

// Notification is one completion report posted by the builder worker.
type Notification struct {
	Kind NotificationKind

	DataSrc     *DataSrcInfo
	Class       string
	DatasrcName string
	Success     bool
}
