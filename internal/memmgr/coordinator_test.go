package memmgr

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDatasrcMgr returns a fixed generation/config regardless of the
// params it's handed, so tests can pick the literal generation ids used
// in the round-trip scenarios.
type fakeDatasrcMgr struct {
	generation Generation
	classes    DatasrcClassConfig
	err        error
}

func (m *fakeDatasrcMgr) Reconfigure(params map[string]any) (Generation, DatasrcClassConfig, error) {
	return m.generation, m.classes, m.err
}

type sentMessage struct {
	Group, Recipient, Command string
	Payload                   map[string]any
}

// fakeBus is a Bus whose SubscribeRemoteConfig delivers whatever config
// was pre-loaded via seed, and whose RPC answers with rpcResult. It
// records every Send call for assertions.
type fakeBus struct {
	mu        sync.Mutex
	seed      map[string]map[string]any
	rpcResult []any
	sent      []sentMessage
	notifyCbs map[string]NotificationHandler
}

func newFakeBus() *fakeBus {
	return &fakeBus{seed: make(map[string]map[string]any), notifyCbs: make(map[string]NotificationHandler)}
}

func (b *fakeBus) SubscribeNotification(ctx context.Context, group string, callback NotificationHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifyCbs[group] = callback
	return nil
}

func (b *fakeBus) SubscribeRemoteConfig(ctx context.Context, module string, handler RemoteConfigHandler) error {
	b.mu.Lock()
	params := b.seed[module]
	b.mu.Unlock()
	return handler(params)
}

func (b *fakeBus) Send(ctx context.Context, group, recipient, command string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{Group: group, Recipient: recipient, Command: command, Payload: payload})
	return nil
}

func (b *fakeBus) RPC(ctx context.Context, command, group string, params map[string]any) ([]any, error) {
	return b.rpcResult, nil
}

func (b *fakeBus) Shutdown(ctx context.Context) error { return nil }

func newTestCoordinator(t *testing.T, bus *fakeBus, datasrcMgr DataSrcClientsManager) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(cfg.MappedFileDir, 0o755))
	cfgGetter := func() *Config { return cfg }
	return NewCoordinator(cfgGetter, bus, NewBuilderChannel(), datasrcMgr, testResetParam, fs, slog.Default())
}

// Scenario 1: fresh configuration, two readers.
func TestCoordinator_Scenario1_FreshConfigTwoReaders(t *testing.T) {
	bus := newFakeBus()
	bus.rpcResult = []any{"reader1", "reader2"}
	datasrcMgr := &fakeDatasrcMgr{generation: 42, classes: DatasrcClassConfig{"IN": {"name": true}}}

	c := newTestCoordinator(t, bus, datasrcMgr)
	require.NoError(t, c.Start(context.Background()))

	require.NotNil(t, c.datasrcInfo)
	assert.Equal(t, Generation(42), c.datasrcInfo.GenerationID())

	// Both readers must have been registered by the startup enumeration.
	assert.True(t, c.registry.HasReader("reader1"))
	assert.True(t, c.registry.HasReader("reader2"))

	// Exactly one command reached the builder: the first validate action.
	cmd := c.channel.WaitCommand()
	assert.Equal(t, CommandValidate, cmd.Kind)
	assert.Equal(t, "primary", cmd.Action)
	assert.Equal(t, 0, c.channel.PendingCommands())

	seg, ok := c.datasrcInfo.Segment("IN", "name")
	require.True(t, ok)
	assert.Equal(t, StateValidating, seg.State())

	// Completing the first validate dispatches the second pending event
	// (validate with the secondary action), preserving FIFO order.
	next := seg.CompleteValidate(true)
	require.NotNil(t, next)
	assert.Equal(t, EventValidate, next.Kind)
	assert.Equal(t, "secondary", next.Action)

	// Completing that dispatches the load event queued after both validates.
	next = seg.CompleteValidate(true)
	require.NotNil(t, next)
	assert.Equal(t, EventLoad, next.Kind)
}

// Scenario 3: stale ack is silently dropped.
func TestCoordinator_Scenario3_StaleAckDropped(t *testing.T) {
	bus := newFakeBus()
	datasrcMgr := &fakeDatasrcMgr{generation: 42, classes: DatasrcClassConfig{"IN": {"name": true}}}
	c := newTestCoordinator(t, bus, datasrcMgr)
	require.NoError(t, c.Start(context.Background()))

	seg, ok := c.datasrcInfo.Segment("IN", "name")
	require.True(t, ok)
	c.registry.IncrementOutstanding("reader0", seg)

	for _, staleGen := range []any{int64(41), int64(43)} {
		c.handleSegmentInfoUpdateAck(map[string]any{
			"data-source-class": "IN",
			"data-source-name":  "name",
			"reader":            "reader0",
			"generation-id":     staleGen,
		})
	}

	// Outstanding count must be untouched by either stale ack.
	count, ok := c.registry.DecrementOutstanding("reader0", seg)
	assert.True(t, ok)
	assert.Equal(t, 0, count)
}

// Scenario 4: reconfigure with live readers cancels the old generation and
// releases it only once every reader that held it has acked.
func TestCoordinator_Scenario4_ReconfigureWithLiveReaders(t *testing.T) {
	bus := newFakeBus()
	bus.rpcResult = []any{"r1", "r2"}
	datasrcMgr := &fakeDatasrcMgr{generation: 42, classes: DatasrcClassConfig{"IN": {"name": true}}}
	c := newTestCoordinator(t, bus, datasrcMgr)
	require.NoError(t, c.Start(context.Background()))

	seg42, ok := c.datasrcInfo.Segment("IN", "name")
	require.True(t, ok)
	// Drive the segment to a loaded state with both readers attached.
	seg42.AddEvent(Event{Kind: EventLoad})
	seg42.StartUpdate()
	seg42.CompleteUpdate(true)
	dsi42 := c.datasrcInfo

	// Reconfigure to generation 43.
	datasrcMgr.generation = 43
	require.NoError(t, c.handleDatasrcConfig(nil))

	// Generation 42 moved to the old-generation table, and a cancel command
	// for it reached the builder.
	assert.NotEqual(t, dsi42.GenerationID(), c.datasrcInfo.GenerationID())
	oldDsi, ok := c.oldGenerations[42]
	require.True(t, ok)
	assert.Same(t, dsi42, oldDsi)

	// Generation 42's startup validate is still queued ahead of the cancel.
	startup := c.channel.WaitCommand()
	require.Equal(t, CommandValidate, startup.Kind)

	cmd := c.channel.WaitCommand()
	assert.Equal(t, CommandCancel, cmd.Kind)
	assert.Same(t, dsi42, cmd.DataSrc)

	// Simulate cancel-completed: release_segments must go out to both readers.
	c.handleCancelCompleted(dsi42)
	assert.Len(t, bus.sent, 2)
	for _, msg := range bus.sent {
		assert.Equal(t, "release_segments", msg.Command)
		assert.Equal(t, Generation(42), msg.Payload["generation-id"])
	}
	// dsi42 remains until both readers ack.
	_, ok = c.oldGenerations[42]
	assert.True(t, ok)

	c.handleReleaseSegmentsAck(map[string]any{"generation-id": int64(42), "reader": "r1"})
	_, ok = c.oldGenerations[42]
	assert.True(t, ok, "generation must remain until every reader acks")

	c.handleReleaseSegmentsAck(map[string]any{"generation-id": int64(42), "reader": "r2"})
	_, ok = c.oldGenerations[42]
	assert.False(t, ok, "generation must be evicted once every reader has acked")
}

// Scenario 5: a new subscriber mid-life is added exactly once and gets a
// segment_info_update; a duplicate subscribe is a no-op.
func TestCoordinator_Scenario5_NewSubscriberMidLife(t *testing.T) {
	bus := newFakeBus()
	datasrcMgr := &fakeDatasrcMgr{generation: 42, classes: DatasrcClassConfig{"IN": {"name": true}}}
	c := newTestCoordinator(t, bus, datasrcMgr)
	require.NoError(t, c.Start(context.Background()))

	seg, ok := c.datasrcInfo.Segment("IN", "name")
	require.True(t, ok)
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)
	require.True(t, seg.Loaded())

	c.handleReaderSubscribed("foo")
	require.Len(t, bus.sent, 1)
	assert.Equal(t, "segment_info_update", bus.sent[0].Command)
	assert.Equal(t, "foo", bus.sent[0].Payload["reader"])

	count, ok := c.registry.DecrementOutstanding("foo", seg)
	assert.True(t, ok)
	assert.Equal(t, 0, count)

	// Duplicate subscribe must not send a second update or re-add the reader.
	c.handleReaderSubscribed("foo")
	assert.Len(t, bus.sent, 1)
}

// Scenario 6: unsubscribing a reader that held none of the stale
// generations still sweeps every old generation for emptiness.
func TestCoordinator_Scenario6_UnsubscribeCollapsesOldGenerations(t *testing.T) {
	bus := newFakeBus()
	datasrcMgr := &fakeDatasrcMgr{generation: 3, classes: DatasrcClassConfig{"IN": {"name": true}}}
	c := newTestCoordinator(t, bus, datasrcMgr)
	require.NoError(t, c.Start(context.Background()))

	gen0 := NewDataSrcInfo(0, DatasrcClassConfig{"IN": {"name": true}}, testResetParam)
	gen1 := NewDataSrcInfo(1, DatasrcClassConfig{"IN": {"name": true}}, testResetParam)
	gen2 := NewDataSrcInfo(2, DatasrcClassConfig{"IN": {"name": true}}, testResetParam)
	seg2, _ := gen2.Segment("IN", "name")
	seg2.AddEvent(Event{Kind: EventLoad})
	seg2.StartUpdate()
	seg2.CompleteUpdate(true)
	seg2.AddReader("reader")

	c.oldGenerations[0] = gen0
	c.oldGenerations[1] = gen1
	c.oldGenerations[2] = gen2

	c.registry.EnsureReader("reader0")
	c.handleReaderUnsubscribed("reader0")

	_, ok0 := c.oldGenerations[0]
	_, ok1 := c.oldGenerations[1]
	_, ok2 := c.oldGenerations[2]
	assert.False(t, ok0)
	assert.False(t, ok1)
	assert.True(t, ok2)
}
