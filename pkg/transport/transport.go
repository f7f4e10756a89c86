// Package transport carries the agent API a daemon serves to its peers:
// instance probes, the follow-notification mailbox and, on the node that
// hosts it, the shared registry.
package transport

import (
    "context"

    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// StatusFunc returns a JSON-encoded daemon status payload for /status.
// Using []byte avoids import cycles on monitor types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// Agent is what an RPCServer exposes. Registry may be nil when this node
// does not host the registry.
type Agent struct {
    Local    *node.Local
    Registry registry.Registry
    Status   StatusFunc
}

// RPCServer serves an Agent until ctx is done or Stop is called.
type RPCServer interface {
    Start(ctx context.Context, agent *Agent) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs agent calls against the node listening at addr using
// the chosen protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    Ping(ctx context.Context, addr string) error
    Replication(ctx context.Context, addr string) (node.ReplicationInfo, error)
    Notify(ctx context.Context, addr string, primaryID int) error
    Notification(ctx context.Context, addr string) (NotificationResponse, error)
    ResetNotification(ctx context.Context, addr string) error
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    CallRegistry(ctx context.Context, addr string, req RegistryRequest) (RegistryResponse, error)
}
