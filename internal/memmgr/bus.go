package memmgr

import "context"

// NotificationHandler receives a named notification with its parameters,
// e.g. a "subscribed" reader-membership event or a zone_updated broadcast.
type NotificationHandler func(event string, params map[string]any)

// RemoteConfigHandler receives the current value of a remote configuration
// module. The bus adapter is expected to invoke it once synchronously
// during SubscribeRemoteConfig with whatever configuration is already
// in effect, and again on every subsequent change.
type RemoteConfigHandler func(params map[string]any) error

// Bus is the narrow surface memmgrd needs from the cluster message bus.
// The transport itself, session handling and wire encoding are out of
// scope; a real adapter wraps whatever bus client library the rest of the
// fleet uses.
type Bus interface {
	// SubscribeNotification registers callback for every notification
	// posted to group. The adapter must invoke callback on the coordinator
	// goroutine, marshaling onto it if delivery otherwise happens elsewhere.
	SubscribeNotification(ctx context.Context, group string, callback NotificationHandler) error

	// SubscribeRemoteConfig registers handler for a remote configuration
	// module, synchronously delivering the current configuration before
	// returning.
	SubscribeRemoteConfig(ctx context.Context, module string, handler RemoteConfigHandler) error

	// Send posts a fire-and-forget command to recipient within group.
	Send(ctx context.Context, group, recipient, command string, payload map[string]any) error

	// RPC issues a command to every member of group and waits for the
	// bounded-latency aggregate response.
	RPC(ctx context.Context, command, group string, params map[string]any) ([]any, error)

	// Shutdown releases the bus session. Safe to call once during
	// coordinator shutdown.
	Shutdown(ctx context.Context) error
}
