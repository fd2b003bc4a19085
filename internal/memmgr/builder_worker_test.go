package memmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuilder struct {
	validateErr error
	loadErr     error
	copyErr     error
	cancelErr   error
	panicOnLoad bool
}

func (f *fakeBuilder) Validate(ctx context.Context, dsi *DataSrcInfo, class, datasrcName, action string) error {
	return f.validateErr
}

func (f *fakeBuilder) Load(ctx context.Context, dsi *DataSrcInfo, class, datasrcName, origin string) error {
	if f.panicOnLoad {
		panic("boom")
	}
	return f.loadErr
}

func (f *fakeBuilder) Copy(ctx context.Context, dsi *DataSrcInfo, class, datasrcName string) error {
	return f.copyErr
}

func (f *fakeBuilder) Cancel(ctx context.Context, dsi *DataSrcInfo) error {
	return f.cancelErr
}

func runWorker(t *testing.T, builder SegmentBuilder) (*BuilderChannel, func()) {
	t.Helper()
	channel := NewBuilderChannel()
	worker := NewBuilderWorker(channel, builder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	return channel, func() {
		channel.SendCommand(&Command{Kind: CommandShutdown})
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("builder worker did not stop")
		}
		cancel()
	}
}

func drainOne(t *testing.T, channel *BuilderChannel) Notification {
	t.Helper()
	select {
	case <-channel.NotifyCh():
	case <-time.After(time.Second):
		t.Fatal("no notification posted")
	}
	notes := channel.Drain()
	require.Len(t, notes, 1)
	return notes[0]
}

func TestBuilderWorker_Load_PostsLoadCompleted(t *testing.T) {
	channel, stop := runWorker(t, &fakeBuilder{})
	defer stop()

	channel.SendCommand(&Command{Kind: CommandLoad, Class: "IN", DatasrcName: "example"})

	note := drainOne(t, channel)
	assert.Equal(t, NotificationLoadCompleted, note.Kind)
	assert.True(t, note.Success)
}

func TestBuilderWorker_Copy_AlsoPostsLoadCompleted(t *testing.T) {
	channel, stop := runWorker(t, &fakeBuilder{})
	defer stop()

	channel.SendCommand(&Command{Kind: CommandCopy, Class: "IN", DatasrcName: "example"})

	note := drainOne(t, channel)
	assert.Equal(t, NotificationLoadCompleted, note.Kind)
}

func TestBuilderWorker_RecoversFromPanic(t *testing.T) {
	channel, stop := runWorker(t, &fakeBuilder{panicOnLoad: true})
	defer stop()

	channel.SendCommand(&Command{Kind: CommandLoad, Class: "IN", DatasrcName: "example"})

	note := drainOne(t, channel)
	assert.Equal(t, NotificationLoadCompleted, note.Kind)
	assert.False(t, note.Success)
}
