package memmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LocalBus is a single-process Bus backed by Go maps and mutexes instead
// of a real cluster transport. The actual inter-process bus is out of
// scope; LocalBus lets memmgrd run standalone (one coordinator, no
// separate bus process) and gives tests something closer to the real
// contract than a hand-rolled mock.
type LocalBus struct {
	mu                 sync.RWMutex
	notificationGroups map[string][]NotificationHandler
	remoteConfig       map[string]RemoteConfigHandler
	remoteConfigState  map[string]map[string]any
	rpcHandlers        map[string]func(group string, params map[string]any) ([]any, error)
	commandHandlers    map[string]func(args map[string]any) (int, string)
	log                *slog.Logger
}

// NewLocalBus returns an empty LocalBus ready to accept subscriptions.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		notificationGroups: make(map[string][]NotificationHandler),
		remoteConfig:       make(map[string]RemoteConfigHandler),
		remoteConfigState:  make(map[string]map[string]any),
		rpcHandlers:        make(map[string]func(group string, params map[string]any) ([]any, error)),
		commandHandlers:    make(map[string]func(args map[string]any) (int, string)),
		log:                slog.Default().With("component", "local-bus"),
	}
}

func (b *LocalBus) SubscribeNotification(ctx context.Context, group string, callback NotificationHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notificationGroups[group] = append(b.notificationGroups[group], callback)
	return nil
}

func (b *LocalBus) SubscribeRemoteConfig(ctx context.Context, module string, handler RemoteConfigHandler) error {
	b.mu.Lock()
	current := b.remoteConfigState[module]
	b.remoteConfig[module] = handler
	b.mu.Unlock()

	return handler(current)
}

// Publish delivers event to every handler subscribed to group. It is the
// producer-side counterpart to SubscribeNotification: a reader-membership
// source or a zone-update source calls this to feed the coordinator.
func (b *LocalBus) Publish(group, event string, params map[string]any) {
	b.mu.RLock()
	handlers := append([]NotificationHandler(nil), b.notificationGroups[group]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event, params)
	}
}

// PublishRemoteConfig delivers a new value for module to its subscriber,
// if one has registered, and remembers it for any later subscriber.
func (b *LocalBus) PublishRemoteConfig(module string, params map[string]any) error {
	b.mu.Lock()
	b.remoteConfigState[module] = params
	handler := b.remoteConfig[module]
	b.mu.Unlock()

	if handler == nil {
		return nil
	}
	return handler(params)
}

func (b *LocalBus) Send(ctx context.Context, group, recipient, command string, payload map[string]any) error {
	return nil
}

// RegisterRPC installs fn as the handler for command, used by RPC.
func (b *LocalBus) RegisterRPC(command string, fn func(group string, params map[string]any) ([]any, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rpcHandlers[command] = fn
}

func (b *LocalBus) RPC(ctx context.Context, command, group string, params map[string]any) ([]any, error) {
	requestID := uuid.New().String()
	b.log.DebugContext(ctx, "rpc issued", "request_id", requestID, "command", command, "group", group)

	b.mu.RLock()
	fn := b.rpcHandlers[command]
	b.mu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no RPC handler registered for %q (request %s)", command, requestID)
	}
	return fn(group, params)
}

func (b *LocalBus) Shutdown(ctx context.Context) error {
	return nil
}

// RegisterCommand installs fn as the handler for the named module command
// (mirroring RegisterRPC), so whatever delivers loadzone and the ack
// commands from elsewhere in the cluster has something to call. The real
// bus would route these in off the wire; LocalBus exposes Command as the
// equivalent entry point for a standalone process or a test.
func (b *LocalBus) RegisterCommand(name string, fn func(args map[string]any) (int, string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commandHandlers[name] = fn
}

// Command dispatches a module command to its registered handler, returning
// (1, "unknown command: <name>") if nothing is registered for it.
func (b *LocalBus) Command(ctx context.Context, name string, args map[string]any) (int, string) {
	b.mu.RLock()
	fn := b.commandHandlers[name]
	b.mu.RUnlock()

	if fn == nil {
		return 1, fmt.Sprintf("unknown command: %s", name)
	}
	return fn(args)
}
