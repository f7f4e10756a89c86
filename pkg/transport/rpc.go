package transport

import (
    "context"
    "errors"
    "fmt"

    "github.com/amirimatin/go-failover/pkg/node"
)

// NotifyRequest asks a node to follow PrimaryID.
type NotifyRequest struct {
    PrimaryID int `json:"primaryId"`
}

// NotificationResponse is the content of a node's notification slot.
type NotificationResponse struct {
    PrimaryID int  `json:"primaryId"`
    Set       bool `json:"set"`
}

// ErrorResponse is the body of every failed agent call.
type ErrorResponse struct {
    Error string `json:"error"`
    Code  string `json:"code,omitempty"`
}

const codeUnreachable = "unreachable"

// NewErrorResponse maps err to a wire error keeping the sentinel identity.
func NewErrorResponse(err error) ErrorResponse {
    out := ErrorResponse{Error: err.Error()}
    switch {
    case errors.Is(err, node.ErrUnreachable):
        out.Code = codeUnreachable
    default:
        out.Code = registryCode(err)
    }
    return out
}

// AsError turns a wire error back into an error that matches the original
// sentinel with errors.Is.
func (e ErrorResponse) AsError() error {
    if e.Error == "" && e.Code == "" { return nil }
    if e.Code == codeUnreachable { return fmt.Errorf("%w: %s", node.ErrUnreachable, e.Error) }
    if s := registrySentinel(e.Code); s != nil { return fmt.Errorf("%w: %s", s, e.Error) }
    return errors.New(e.Error)
}

// Dialer adapts an RPCClient to node.Dialer. Conninfo is the peer's agent
// address; Dial fails unless the peer's instance answers a ping.
func Dialer(c RPCClient) node.Dialer {
    return node.DialerFunc(func(ctx context.Context, addr string) (node.Conn, error) {
        if err := c.Ping(ctx, addr); err != nil { return nil, err }
        return &remoteConn{c: c, addr: addr}, nil
    })
}

type remoteConn struct {
    c      RPCClient
    addr   string
    closed bool
}

func (r *remoteConn) Ping(ctx context.Context) error {
    if r.closed { return node.ErrUnreachable }
    return r.c.Ping(ctx, r.addr)
}

func (r *remoteConn) ReplicationInfo(ctx context.Context) (node.ReplicationInfo, error) {
    if r.closed { return node.ReplicationInfo{RecoveryType: node.RecoveryUnknown}, node.ErrUnreachable }
    return r.c.Replication(ctx, r.addr)
}

func (r *remoteConn) RecoveryType(ctx context.Context) (node.RecoveryType, error) {
    ri, err := r.ReplicationInfo(ctx)
    if err != nil { return node.RecoveryUnknown, err }
    return ri.RecoveryType, nil
}

func (r *remoteConn) LastWALReceiveLSN(ctx context.Context) (node.LSN, error) {
    ri, err := r.ReplicationInfo(ctx)
    if err != nil { return node.InvalidLSN, err }
    return ri.LastWALReceiveLSN, nil
}

func (r *remoteConn) NotifyFollowPrimary(ctx context.Context, primaryID int) error {
    if r.closed { return node.ErrUnreachable }
    return r.c.Notify(ctx, r.addr, primaryID)
}

func (r *remoteConn) NewPrimary(ctx context.Context) (int, bool, error) {
    if r.closed { return 0, false, node.ErrUnreachable }
    n, err := r.c.Notification(ctx, r.addr)
    return n.PrimaryID, n.Set, err
}

func (r *remoteConn) ResetNotification(ctx context.Context) error {
    if r.closed { return node.ErrUnreachable }
    return r.c.ResetNotification(ctx, r.addr)
}

func (r *remoteConn) Close() error { r.closed = true; return nil }

// Agent handlers shared by the HTTP and gRPC servers.

func (a *Agent) Ping(ctx context.Context) error {
    if a.Local == nil { return node.ErrUnreachable }
    return a.Local.Instance.Ping(ctx)
}

func (a *Agent) Replication(ctx context.Context) (node.ReplicationInfo, error) {
    if a.Local == nil { return node.ReplicationInfo{RecoveryType: node.RecoveryUnknown}, node.ErrUnreachable }
    return a.Local.Instance.ReplicationInfo(ctx)
}

// The mailbox is only served while the instance is up, matching a
// notification stored in the database itself.
func (a *Agent) Notify(ctx context.Context, primaryID int) error {
    if err := a.Ping(ctx); err != nil { return err }
    a.Local.Mailbox.Set(primaryID)
    return nil
}

func (a *Agent) Notification(ctx context.Context) (NotificationResponse, error) {
    if err := a.Ping(ctx); err != nil { return NotificationResponse{}, err }
    id, ok := a.Local.Mailbox.Get()
    return NotificationResponse{PrimaryID: id, Set: ok}, nil
}

func (a *Agent) ResetNotification(ctx context.Context) error {
    if err := a.Ping(ctx); err != nil { return err }
    a.Local.Mailbox.Reset()
    return nil
}
