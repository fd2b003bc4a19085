package memmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderChannel_SendCommand_NilIsIgnored(t *testing.T) {
	bc := NewBuilderChannel()
	bc.SendCommand(nil)
	assert.Equal(t, 0, bc.PendingCommands())
}

func TestBuilderChannel_WaitCommand_FIFO(t *testing.T) {
	bc := NewBuilderChannel()
	bc.SendCommand(&Command{Kind: CommandValidate, DatasrcName: "first"})
	bc.SendCommand(&Command{Kind: CommandLoad, DatasrcName: "second"})

	first := bc.WaitCommand()
	second := bc.WaitCommand()

	assert.Equal(t, "first", first.DatasrcName)
	assert.Equal(t, "second", second.DatasrcName)
	assert.Equal(t, 0, bc.PendingCommands())
}

func TestBuilderChannel_WaitCommand_BlocksUntilSend(t *testing.T) {
	bc := NewBuilderChannel()
	done := make(chan Command, 1)

	go func() {
		done <- bc.WaitCommand()
	}()

	select {
	case <-done:
		t.Fatal("WaitCommand returned before any command was sent")
	case <-time.After(20 * time.Millisecond):
	}

	bc.SendCommand(&Command{Kind: CommandShutdown})

	select {
	case cmd := <-done:
		assert.Equal(t, CommandShutdown, cmd.Kind)
	case <-time.After(time.Second):
		t.Fatal("WaitCommand never returned after send")
	}
}

func TestBuilderChannel_Drain_SwapsAtomically(t *testing.T) {
	bc := NewBuilderChannel()
	bc.PostNotification(Notification{Kind: NotificationValidateCompleted, DatasrcName: "a"})
	bc.PostNotification(Notification{Kind: NotificationLoadCompleted, DatasrcName: "b"})

	select {
	case <-bc.NotifyCh():
	default:
		t.Fatal("notifyCh should have been signaled")
	}

	notes := bc.Drain()
	require.Len(t, notes, 2)
	assert.Equal(t, "a", notes[0].DatasrcName)
	assert.Equal(t, "b", notes[1].DatasrcName)

	assert.Empty(t, bc.Drain())
}
