package memmgr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bundy-dns/memmgrd/internal/slogutil"
	"github.com/sourcegraph/conc"
)

// BuilderWorker is the single goroutine that consumes BuilderChannel's
// command queue and drives an injected SegmentBuilder. It generalizes the
// teacher's worker-pool loop (one pool, many concurrent items) down to one
// worker processing one command at a time, per invariant I1: at most one
// command per segment may be outstanding with the builder.
type BuilderWorker struct {
	channel *BuilderChannel
	builder SegmentBuilder
	log     *slog.Logger
}

// NewBuilderWorker wires a channel to a SegmentBuilder implementation.
func NewBuilderWorker(channel *BuilderChannel, builder SegmentBuilder, log *slog.Logger) *BuilderWorker {
	if log == nil {
		log = slog.Default()
	}
	return &BuilderWorker{channel: channel, builder: builder, log: log.With("component", "builder-worker")}
}

// Run blocks, processing commands until a CommandShutdown sentinel is
// received. It is meant to run in its own goroutine for the coordinator's
// lifetime.
func (w *BuilderWorker) Run(ctx context.Context) {
	for {
		cmd := w.channel.WaitCommand()
		if cmd.Kind == CommandShutdown {
			return
		}
		w.process(ctx, cmd)
	}
}

// process executes one command under a panic-safe goroutine so a faulty
// SegmentBuilder implementation cannot take the coordinator down with it;
// a recovered panic is reported back as a failed completion. The command's
// class/datasource/generation are attached to ctx once here so every log
// line emitted while handling it, including inside the injected builder,
// carries them without each call site repeating the same key-value pairs.
func (w *BuilderWorker) process(ctx context.Context, cmd Command) {
	ctx = slogutil.With(ctx,
		"command", string(cmd.Kind),
		"class", cmd.Class,
		"datasource", cmd.DatasrcName,
	)
	if cmd.DataSrc != nil {
		ctx = slogutil.With(ctx, "generation-id", cmd.DataSrc.GenerationID())
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		err := w.runCommand(ctx, cmd)
		w.postCompletion(ctx, cmd, err)
	})
	wg.Wait()
}

func (w *BuilderWorker) runCommand(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "segment builder panicked", "panic", r)
			err = fmt.Errorf("segment builder panicked: %v", r)
		}
	}()

	switch cmd.Kind {
	case CommandValidate:
		return w.builder.Validate(ctx, cmd.DataSrc, cmd.Class, cmd.DatasrcName, cmd.Action)
	case CommandLoad:
		return w.builder.Load(ctx, cmd.DataSrc, cmd.Class, cmd.DatasrcName, cmd.Origin)
	case CommandCopy:
		return w.builder.Copy(ctx, cmd.DataSrc, cmd.Class, cmd.DatasrcName)
	case CommandCancel:
		return w.builder.Cancel(ctx, cmd.DataSrc)
	default:
		return fmt.Errorf("builder worker: unknown command kind %q", cmd.Kind)
	}
}

func (w *BuilderWorker) postCompletion(ctx context.Context, cmd Command, err error) {
	if err != nil {
		w.log.ErrorContext(ctx, "builder command failed", "error", err)
	}
	success := err == nil

	switch cmd.Kind {
	case CommandValidate:
		w.channel.PostNotification(Notification{
			Kind: NotificationValidateCompleted, DataSrc: cmd.DataSrc,
			Class: cmd.Class, DatasrcName: cmd.DatasrcName, Success: success,
		})
	case CommandLoad, CommandCopy:
		w.channel.PostNotification(Notification{
			Kind: NotificationLoadCompleted, DataSrc: cmd.DataSrc,
			Class: cmd.Class, DatasrcName: cmd.DatasrcName, Success: success,
		})
	case CommandCancel:
		w.channel.PostNotification(Notification{
			Kind: NotificationCancelCompleted, DataSrc: cmd.DataSrc, Success: success,
		})
	}
}
