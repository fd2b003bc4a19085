package memmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentInfo_StartUpdate_OnlyDispatchesFromReady(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})

	seg.AddEvent(Event{Kind: EventValidate, Action: "primary"})
	seg.AddEvent(Event{Kind: EventLoad})

	ev := seg.StartUpdate()
	require.NotNil(t, ev)
	assert.Equal(t, EventValidate, ev.Kind)
	assert.Equal(t, StateValidating, seg.State())

	// Segment is busy: a second StartUpdate call must not dispatch again.
	assert.Nil(t, seg.StartUpdate())
}

func TestSegmentInfo_CompleteValidate_DispatchesNextPending(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})
	seg.AddEvent(Event{Kind: EventValidate, Action: "primary"})
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()

	next := seg.CompleteValidate(true)
	require.NotNil(t, next)
	assert.Equal(t, EventLoad, next.Kind)
	assert.Equal(t, StateUpdating, seg.State())
}

func TestSegmentInfo_CompleteUpdate_NoOldReaders_GoesStraightToReady(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()

	next := seg.CompleteUpdate(true)
	assert.Nil(t, next)
	assert.Equal(t, StateReady, seg.State())
	assert.True(t, seg.Loaded())
}

func TestSegmentInfo_CompleteUpdate_WithOldReaders_GoesToSynchronizing(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true) // first load: no old readers yet

	seg.AddReader("r1")
	seg.AddReader("r2")

	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	next := seg.CompleteUpdate(true)

	assert.Nil(t, next)
	assert.Equal(t, StateSynchronizing, seg.State())
	assert.Len(t, seg.OldReaders(), 2)
	assert.Len(t, seg.CurrentReaders(), 0)
}

func TestSegmentInfo_SyncReader_LastAckMovesToCopying(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)
	seg.AddReader("r1")
	seg.AddReader("r2")
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)

	assert.Nil(t, seg.SyncReader("r1"))
	assert.Equal(t, StateSynchronizing, seg.State())

	cmd := seg.SyncReader("r2")
	require.NotNil(t, cmd)
	assert.Equal(t, CommandCopy, cmd.Kind)
	assert.Equal(t, StateCopying, seg.State())
}

func TestSegmentInfo_CompleteUpdate_CopyPhaseReturnsToReady(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)
	seg.AddReader("r1")
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)
	seg.SyncReader("r1")
	require.Equal(t, StateCopying, seg.State())

	next := seg.CompleteUpdate(true)
	assert.Nil(t, next)
	assert.Equal(t, StateReady, seg.State())
}

func TestSegmentInfo_RemoveReader_LastOldReaderTriggersCopy(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)
	seg.AddReader("r1")
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)

	cmd := seg.RemoveReader("r1")
	require.NotNil(t, cmd)
	assert.Equal(t, CommandCopy, cmd.Kind)
}

func TestSegmentInfo_AddReader_IdempotentAndQueuedUntilLoad(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})

	seg.AddReader("r1")
	seg.AddReader("r1") // duplicate, must not double-track
	assert.Len(t, seg.CurrentReaders(), 0)

	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()
	seg.CompleteUpdate(true)

	assert.Len(t, seg.CurrentReaders(), 1)
}

func TestSegmentInfo_CompleteUpdate_FailureDoesNotPromoteReaders(t *testing.T) {
	seg := NewSegmentInfo(1, "IN", "example", SegmentParams{})
	seg.AddReader("r1")
	seg.AddEvent(Event{Kind: EventLoad})
	seg.StartUpdate()

	next := seg.CompleteUpdate(false)
	assert.Nil(t, next)
	assert.Equal(t, StateReady, seg.State())
	assert.False(t, seg.Loaded())
	assert.Len(t, seg.CurrentReaders(), 0)
}
