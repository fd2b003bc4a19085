package memmgr

import "sync"

// BuilderChannel is the bidirectional queue between the coordinator
// goroutine and the builder worker goroutine. Commands flow coordinator ->
// builder behind a mutex and condition variable (the builder blocks in
// WaitCommand until one arrives). Notifications flow builder -> coordinator
// behind a second mutex, with a buffered channel standing in for the
// self-pipe trick: the builder's push is a non-blocking send, and the
// coordinator's event loop select()s on the channel before draining the
// slice atomically.
type BuilderChannel struct {
	cmdMu   sync.Mutex
	cmdCond *sync.Cond
	cmds    []Command

	notifyMu      sync.Mutex
	notifications []Notification
	notifyCh      chan struct{}
}

// NewBuilderChannel returns an empty channel pair.
func NewBuilderChannel() *BuilderChannel {
	bc := &BuilderChannel{notifyCh: make(chan struct{}, 1)}
	bc.cmdCond = sync.NewCond(&bc.cmdMu)
	return bc
}

// SendCommand enqueues cmd for the builder worker and wakes it. A nil cmd
// is ignored, so callers can pass through the possibly-nil result of a
// SegmentInfo transition without an extra check.
func (b *BuilderChannel) SendCommand(cmd *Command) {
	if cmd == nil {
		return
	}
	b.cmdMu.Lock()
	b.cmds = append(b.cmds, *cmd)
	b.cmdMu.Unlock()
	b.cmdCond.Signal()
}

// WaitCommand blocks until a command is available and returns it, FIFO.
// The builder worker's loop exits on a Command{Kind: CommandShutdown}.
func (b *BuilderChannel) WaitCommand() Command {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	for len(b.cmds) == 0 {
		b.cmdCond.Wait()
	}
	cmd := b.cmds[0]
	b.cmds = b.cmds[1:]
	return cmd
}

// PendingCommands reports how many commands are queued but not yet claimed
// by the builder worker. Tests use it to confirm the queue drained.
func (b *BuilderChannel) PendingCommands() int {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	return len(b.cmds)
}

// PostNotification enqueues a completion report from the builder and wakes
// the coordinator's event loop. The send on notifyCh is non-blocking: the
// channel only needs to carry a "there is something to drain" signal, not
// one token per notification.
func (b *BuilderChannel) PostNotification(n Notification) {
	b.notifyMu.Lock()
	b.notifications = append(b.notifications, n)
	b.notifyMu.Unlock()
	select {
	case b.notifyCh <- struct{}{}:
	default:
	}
}

// NotifyCh is the self-pipe the coordinator selects on to learn that at
// least one notification is waiting to be drained.
func (b *BuilderChannel) NotifyCh() <-chan struct{} { return b.notifyCh }

// Drain atomically swaps out the notification slice and returns whatever
// had accumulated, so a notification posted mid-drain lands in the next
// batch rather than being lost or duplicated.
func (b *BuilderChannel) Drain() []Notification {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	n := b.notifications
	b.notifications = nil
	return n
}
