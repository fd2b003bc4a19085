package memmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bundy-dns/memmgrd/internal/memmgrerrors"
	"github.com/spf13/afero"
)

// Coordinator is the memory-manager's single-threaded event loop. Every
// method below except Stats and Shutdown's outer call is only ever invoked
// from the coordinator's own goroutine (directly as a bus callback, or from
// Run's select loop), so none of the state it owns needs a lock.
type Coordinator struct {
	cfgGetter  ConfigGetter
	bus        Bus
	channel    *BuilderChannel
	datasrcMgr DataSrcClientsManager
	resetParam ResetParamFunc
	fs         afero.Fs
	log        *slog.Logger

	datasrcInfo    *DataSrcInfo
	oldGenerations map[Generation]*DataSrcInfo
	registry       *Registry
	stopped        bool

	// statsMu guards only the fields Stats() reads from another goroutine;
	// every other field above is coordinator-goroutine-only.
	statsMu sync.Mutex
}

// NewCoordinator wires a Coordinator against its external collaborators.
// resetParam may be nil, in which case it defaults to deriving each
// segment's mapped-file path from the configured mapped_file_dir. fs may be
// nil, in which case it defaults to the real OS filesystem.
func NewCoordinator(cfgGetter ConfigGetter, bus Bus, channel *BuilderChannel, datasrcMgr DataSrcClientsManager, resetParam ResetParamFunc, fs afero.Fs, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if resetParam == nil {
		resetParam = func(gen Generation, class, name string) SegmentParams {
			return SegmentParams{Path: SegmentPath(cfgGetter().MappedFileDir, gen, class, name)}
		}
	}
	return &Coordinator{
		cfgGetter:      cfgGetter,
		bus:            bus,
		channel:        channel,
		datasrcMgr:     datasrcMgr,
		resetParam:     resetParam,
		fs:             fs,
		log:            log.With("component", "memmgr-coordinator"),
		oldGenerations: make(map[Generation]*DataSrcInfo),
		registry:       NewRegistry(),
	}
}

// Start runs the startup sequence: validate mapped_file_dir, subscribe to
// data-source configuration, subscribe to zone updates, subscribe to reader
// membership, enumerate already-connected readers, and replay that
// enumeration through the membership handler. It does not spawn the builder
// worker; the caller runs it, and commands queued here wait in the
// BuilderChannel until it does. Any error returned here is fatal; the
// caller should exit the process.
func (c *Coordinator) Start(ctx context.Context) error {
	cfg := c.cfgGetter()

	if err := ValidateMappedFileDir(c.fs, cfg.MappedFileDir); err != nil {
		return memmgrerrors.NewFatalStartupError("mapped_file_dir is not usable", err)
	}

	if err := c.bus.SubscribeRemoteConfig(ctx, "data_sources", c.handleDatasrcConfig); err != nil {
		return memmgrerrors.NewFatalStartupError("subscribing to data_sources configuration", err)
	}

	if c.datasrcInfo == nil {
		return memmgrerrors.NewFatalStartupError("no data source configuration available after subscribing", nil)
	}

	if err := c.bus.SubscribeNotification(ctx, "ZoneUpdateListener", c.handleZoneUpdateNotification); err != nil {
		return memmgrerrors.NewFatalStartupError("subscribing to zone update notifications", err)
	}

	if err := c.bus.SubscribeNotification(ctx, "cc_members", c.handleReaderMembershipNotification); err != nil {
		return memmgrerrors.NewFatalStartupError("subscribing to reader membership notifications", err)
	}

	members, err := c.enumerateSegmentReaders(ctx)
	if err != nil {
		return memmgrerrors.NewFatalStartupError("enumerating already-connected segment readers", err)
	}
	for _, reader := range members {
		c.handleReaderMembershipNotification("subscribed", map[string]any{
			"group": "SegmentReader", "client": reader,
		})
	}

	return nil
}

// Run blocks, dispatching builder notifications as they arrive, until ctx
// is canceled. Bus-delivered callbacks are invoked directly by the Bus
// implementation on this same goroutine and need no entry here.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.channel.NotifyCh():
			for _, n := range c.channel.Drain() {
				c.dispatchNotification(n)
			}
		}
	}
}

// Shutdown enqueues the builder shutdown sentinel, waits for the worker to
// finish draining, unsubscribes from the bus, and drops all state. It is
// idempotent: calling it twice is harmless.
func (c *Coordinator) Shutdown(ctx context.Context, workerDone <-chan struct{}) error {
	if c.stopped {
		return nil
	}
	c.stopped = true
	c.channel.SendCommand(&Command{Kind: CommandShutdown})
	if workerDone != nil {
		<-workerDone
	}
	if err := c.bus.Shutdown(ctx); err != nil {
		c.log.WarnContext(ctx, "bus shutdown reported an error", "error", err)
	}
	c.datasrcInfo = nil
	c.oldGenerations = make(map[Generation]*DataSrcInfo)
	c.registry = NewRegistry()
	return nil
}

// CoordinatorStats is a read-only diagnostics snapshot.
type CoordinatorStats struct {
	CurrentGeneration Generation
	Segments          []SegmentStats
	Readers           int
	OldGenerations    int
}

// Stats returns a point-in-time snapshot. Safe to call concurrently with
// Run, at the cost of briefly stalling Run if called mid-dispatch (the lock
// here only ever guards the snapshot copy itself, never an event handler).
func (c *Coordinator) Stats() CoordinatorStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	stats := CoordinatorStats{OldGenerations: len(c.oldGenerations), Readers: len(c.registry.Readers())}
	if c.datasrcInfo != nil {
		stats.CurrentGeneration = c.datasrcInfo.GenerationID()
		stats.Segments = c.datasrcInfo.Stats()
	}
	return stats
}

// handleDatasrcConfig is the data_sources remote-config handler (startup
// step 3, and every subsequent reconfiguration). A rejected configuration
// is logged and leaves all existing state untouched.
func (c *Coordinator) handleDatasrcConfig(params map[string]any) error {
	generation, classes, err := c.datasrcMgr.Reconfigure(params)
	if err != nil {
		c.log.Error("data source reconfiguration rejected", "error", err)
		return memmgrerrors.NewConfigRejectionError("data source reconfiguration rejected", err)
	}

	c.statsMu.Lock()
	previous := c.datasrcInfo
	dsi := NewDataSrcInfo(generation, classes, c.resetParam)
	c.datasrcInfo = dsi
	c.statsMu.Unlock()

	if previous != nil {
		c.oldGenerations[previous.GenerationID()] = previous
		c.channel.SendCommand(&Command{Kind: CommandCancel, DataSrc: previous})
	}

	c.initSegments(dsi)
	return nil
}

// initSegments registers every currently-known reader against a freshly
// configured generation's segments and kicks off the initial double
// validate-then-load sequence for each one.
func (c *Coordinator) initSegments(dsi *DataSrcInfo) {
	readers := c.registry.Readers()
	for _, seg := range dsi.Segments() {
		for _, reader := range readers {
			seg.AddReader(reader)
		}

		a1, a2 := seg.StartValidateActions()
		seg.AddEvent(Event{Kind: EventValidate, Action: a1})
		seg.AddEvent(Event{Kind: EventValidate, Action: a2})
		seg.AddEvent(Event{Kind: EventLoad})

		if ev := seg.StartUpdate(); ev != nil {
			c.channel.SendCommand(c.toCommand(dsi, seg, *ev))
		}
	}
}

// processZoneUpdate is the helper shared by handleZoneUpdateNotification
// and handleLoadzone: both ultimately queue the same load Event against
// the same segment, differing only in how they validate their arguments
// and report failure back to the caller.
func (c *Coordinator) processZoneUpdate(class, datasrcName, origin string) error {
	dsi := c.datasrcInfo
	if dsi == nil {
		return memmgrerrors.ErrNoDataSrcInfo
	}
	seg, ok := dsi.Segment(class, datasrcName)
	if !ok {
		return memmgrerrors.ErrUnknownSegment
	}
	seg.AddEvent(Event{Kind: EventLoad, Origin: origin})
	if ev := seg.StartUpdate(); ev != nil {
		c.channel.SendCommand(c.toCommand(dsi, seg, *ev))
	}
	return nil
}

// handleZoneUpdateNotification handles a zone_updated broadcast. Unlike
// loadzone below, it checks the generation-id and silently drops the
// notification on any malformed argument or generation mismatch: this
// asymmetry with loadzone is intentional (see the design notes on the
// generation-id check) and is preserved rather than unified.
func (c *Coordinator) handleZoneUpdateNotification(event string, params map[string]any) {
	if event != "zone_updated" {
		return
	}
	class, okC := params["class"].(string)
	datasrcName, okD := params["datasource"].(string)
	origin, _ := params["origin"].(string)
	genRaw, okG := params["generation-id"]
	if !okC || !okD || !okG {
		return
	}
	if c.datasrcInfo == nil || toGeneration(genRaw) != c.datasrcInfo.GenerationID() {
		return
	}
	if err := c.processZoneUpdate(class, datasrcName, origin); err != nil {
		c.log.Warn("dropping zone_updated notification", "error", err)
	}
}

// handleLoadzone handles the loadzone module command. It does not check a
// generation-id at all (the asymmetry with handleZoneUpdateNotification is
// intentional, see above) and reports failure as (1, message) rather than
// dropping silently, since this is a synchronous RPC with a caller waiting
// on the answer.
func (c *Coordinator) handleLoadzone(args map[string]any) (int, string) {
	class, okC := args["class"].(string)
	datasrcName, okD := args["datasource"].(string)
	origin, _ := args["origin"].(string)
	if !okC || !okD {
		return 1, "loadzone requires class and datasource"
	}
	if err := c.processZoneUpdate(class, datasrcName, origin); err != nil {
		return 1, err.Error()
	}
	return 0, ""
}

// handleReaderMembershipNotification handles cc_members events: connected
// and disconnected are bus-session bookkeeping memmgrd does not act on;
// only subscribed/unsubscribed for the SegmentReader group matter here.
func (c *Coordinator) handleReaderMembershipNotification(event string, params map[string]any) {
	if group, _ := params["group"].(string); group != "SegmentReader" {
		return
	}
	client, ok := params["client"].(string)
	if !ok {
		return
	}

	switch event {
	case "subscribed":
		c.handleReaderSubscribed(client)
	case "unsubscribed":
		c.handleReaderUnsubscribed(client)
	}
}

func (c *Coordinator) handleReaderSubscribed(reader string) {
	// Idempotent: a duplicate subscribed notification for an already-known
	// reader must not re-add it to every segment or double its outstanding
	// count.
	if c.registry.HasReader(reader) {
		return
	}
	c.registry.EnsureReader(reader)

	if c.datasrcInfo == nil {
		return
	}
	for _, seg := range c.datasrcInfo.Segments() {
		seg.AddReader(reader)
		if seg.Loaded() {
			c.sendSegmentInfoUpdate(c.datasrcInfo, seg, reader, false)
		}
	}
}

func (c *Coordinator) handleReaderUnsubscribed(reader string) {
	if !c.registry.HasReader(reader) {
		return
	}
	c.registry.RemoveReader(reader)

	if c.datasrcInfo != nil {
		for _, seg := range c.datasrcInfo.Segments() {
			if cmd := seg.RemoveReader(reader); cmd != nil {
				cmd.DataSrc = c.datasrcInfo
				c.channel.SendCommand(cmd)
			}
		}
	}
	for _, dsi := range c.oldGenerations {
		for _, seg := range dsi.Segments() {
			if cmd := seg.RemoveReader(reader); cmd != nil {
				cmd.DataSrc = dsi
				c.channel.SendCommand(cmd)
			}
		}
	}

	c.evictEmptyOldGenerations()
}

func (c *Coordinator) evictEmptyOldGenerations() {
	for gen, dsi := range c.oldGenerations {
		if len(dsi.AllReaders()) == 0 {
			delete(c.oldGenerations, gen)
		}
	}
}

// dispatchNotification routes one builder completion report. An unknown
// kind is a programming error between the coordinator and its builder, so
// it aborts rather than silently dropping the report.
func (c *Coordinator) dispatchNotification(n Notification) {
	switch n.Kind {
	case NotificationCancelCompleted:
		c.handleCancelCompleted(n.DataSrc)
	case NotificationLoadCompleted, NotificationValidateCompleted:
		c.handleBuilderCompletion(n)
	default:
		panic(fmt.Sprintf("%v: %q", memmgrerrors.ErrUnknownBuilderNotification, n.Kind))
	}
}

// handleCancelCompleted reacts to the builder finishing a generation's
// cancel command. A generation with no readers left is evicted right away;
// otherwise every remaining reader is told to release its segments, and the
// generation stays until each one acks.
func (c *Coordinator) handleCancelCompleted(dsi *DataSrcInfo) {
	readers := dsi.AllReaders()
	if len(readers) == 0 {
		delete(c.oldGenerations, dsi.GenerationID())
		return
	}
	for reader := range readers {
		if err := c.bus.Send(context.Background(), "SegmentReader", reader, "release_segments", map[string]any{
			"generation-id": dsi.GenerationID(),
		}); err != nil {
			c.log.Warn("failed to send release_segments", "reader", reader, "generation", dsi.GenerationID(), "error", err)
		}
	}
}

// handleBuilderCompletion reacts to a validate-completed or load-completed
// notification: if the segment has another event already chained, forward
// it; otherwise notify every old reader still waiting to sync off the
// previous version.
func (c *Coordinator) handleBuilderCompletion(n Notification) {
	dsi := n.DataSrc
	if dsi == nil {
		return
	}
	seg, ok := dsi.Segment(n.Class, n.DatasrcName)
	if !ok {
		return
	}

	var next *Event
	switch n.Kind {
	case NotificationLoadCompleted:
		next = seg.CompleteUpdate(n.Success)
	case NotificationValidateCompleted:
		next = seg.CompleteValidate(n.Success)
	}
	if next != nil {
		c.channel.SendCommand(c.toCommand(dsi, seg, *next))
		return
	}

	inuseOnly := n.Kind == NotificationValidateCompleted && n.Success
	for reader := range seg.OldReaders() {
		c.sendSegmentInfoUpdate(dsi, seg, reader, inuseOnly)
	}
}

func (c *Coordinator) sendSegmentInfoUpdate(dsi *DataSrcInfo, seg *SegmentInfo, reader string, inuseOnly bool) {
	payload := map[string]any{
		"data-source-class": seg.Class,
		"data-source-name":  seg.DatasrcName,
		"segment-params":    seg.GetResetParam(),
		"reader":            reader,
		"generation-id":     dsi.GenerationID(),
	}
	if inuseOnly {
		payload["inuse-only"] = true
	}
	if err := c.bus.Send(context.Background(), "SegmentReader", reader, "segment_info_update", payload); err != nil {
		c.log.Warn("failed to send segment_info_update", "reader", reader, "error", err)
		return
	}
	c.registry.IncrementOutstanding(reader, seg)
}

// toCommand turns a SegmentInfo's own Event into the Command the builder
// actually consumes, filling in the context (generation, class, datasrc)
// the Event itself does not carry.
func (c *Coordinator) toCommand(dsi *DataSrcInfo, seg *SegmentInfo, ev Event) *Command {
	switch ev.Kind {
	case EventValidate:
		return &Command{Kind: CommandValidate, DataSrc: dsi, Class: seg.Class, DatasrcName: seg.DatasrcName, Action: ev.Action}
	case EventLoad:
		return &Command{Kind: CommandLoad, DataSrc: dsi, Class: seg.Class, DatasrcName: seg.DatasrcName, Origin: ev.Origin}
	default:
		return nil
	}
}

// HandleModCommand dispatches memmgrd's synchronous module command
// surface: loadzone, segment_info_update_ack, and release_segments_ack.
func (c *Coordinator) HandleModCommand(name string, args map[string]any) (code int, msg string) {
	switch name {
	case "loadzone":
		return c.handleLoadzone(args)
	case "segment_info_update_ack":
		c.handleSegmentInfoUpdateAck(args)
		return 0, ""
	case "release_segments_ack":
		c.handleReleaseSegmentsAck(args)
		return 0, ""
	default:
		return 1, fmt.Sprintf("unknown command: %s", name)
	}
}

// handleSegmentInfoUpdateAck processes a reader's ack of a segment_info_update.
// Any malformed payload, generation mismatch, unknown segment, or ack from a
// reader with no outstanding count against that segment is dropped silently
// (spec.md's documented open question: never decrement below zero).
func (c *Coordinator) handleSegmentInfoUpdateAck(args map[string]any) {
	class, okC := args["data-source-class"].(string)
	datasrcName, okD := args["data-source-name"].(string)
	reader, okR := args["reader"].(string)
	genRaw, okG := args["generation-id"]
	if !okC || !okD || !okR || !okG {
		return
	}
	if c.datasrcInfo == nil || toGeneration(genRaw) != c.datasrcInfo.GenerationID() {
		return
	}
	seg, ok := c.datasrcInfo.Segment(class, datasrcName)
	if !ok {
		return
	}
	c.safeSyncAck(seg, reader)
}

// safeSyncAck isolates the call into SegmentInfo's own state machine behind
// a recover, matching the broad catch-and-drop the original coordinator
// applies around this step: an ack that manages to hit a SegmentInfo in an
// unexpected state must never crash the coordinator.
func (c *Coordinator) safeSyncAck(seg *SegmentInfo, reader string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic handling segment_info_update_ack", "panic", r)
		}
	}()

	count, ok := c.registry.DecrementOutstanding(reader, seg)
	if !ok || count != 0 {
		return
	}
	if cmd := seg.SyncReader(reader); cmd != nil {
		cmd.DataSrc = c.datasrcInfo
		c.channel.SendCommand(cmd)
	}
}

// handleReleaseSegmentsAck processes a reader's ack that it has released
// every segment of a superseded generation. A reader that never held that
// generation, or a generation not found at all, is a no-op rather than an
// error.
func (c *Coordinator) handleReleaseSegmentsAck(args map[string]any) {
	genRaw, okG := args["generation-id"]
	reader, okR := args["reader"].(string)
	if !okG || !okR {
		return
	}
	dsi, ok := c.oldGenerations[toGeneration(genRaw)]
	if !ok {
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("panic handling release_segments_ack", "panic", r)
			}
		}()
		dsi.Cancel(reader)
	}()

	if len(dsi.AllReaders()) == 0 {
		delete(c.oldGenerations, dsi.GenerationID())
	}
}

func toGeneration(v any) Generation {
	switch n := v.(type) {
	case Generation:
		return n
	case int64:
		return Generation(n)
	case int:
		return Generation(n)
	case float64:
		return Generation(n)
	default:
		return -1
	}
}
