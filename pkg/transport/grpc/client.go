package grpc

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/transport"
)

type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    pool    *peerPool
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout}
    c.pool = newPeerPool(peerIdleTTL, c.dialCtx)
    return c
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    // Use JSON codec and set content subtype accordingly.
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    //nolint:staticcheck // blocking dial reports an unreachable peer at Dial time
    return grpc.DialContext(ctx, target, opts...)
}

// invoke runs one unary call. Transport failures surface as
// node.ErrUnreachable and drop the cached connection.
func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.pool.acquire(cctx, addr)
    if err != nil { return fmt.Errorf("%w: %v", node.ErrUnreachable, err) }
    defer rel()
    err = cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out)
    if err == nil { return nil }
    st, _ := status.FromError(err)
    switch st.Code() {
    case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
        c.pool.retire(addr)
        return fmt.Errorf("%w: %s", node.ErrUnreachable, st.Message())
    }
    return fmt.Errorf("grpc %s: %s", method, st.Message())
}

func (c *Client) Ping(ctx context.Context, addr string) error {
    return c.invoke(ctx, addr, "Ping", &empty{}, &empty{})
}

func (c *Client) Replication(ctx context.Context, addr string) (node.ReplicationInfo, error) {
    var ri node.ReplicationInfo
    if err := c.invoke(ctx, addr, "Replication", &empty{}, &ri); err != nil {
        return node.ReplicationInfo{RecoveryType: node.RecoveryUnknown}, err
    }
    return ri, nil
}

func (c *Client) Notify(ctx context.Context, addr string, primaryID int) error {
    return c.invoke(ctx, addr, "Notify", &transport.NotifyRequest{PrimaryID: primaryID}, &empty{})
}

func (c *Client) Notification(ctx context.Context, addr string) (transport.NotificationResponse, error) {
    var out transport.NotificationResponse
    err := c.invoke(ctx, addr, "GetNotification", &empty{}, &out)
    return out, err
}

func (c *Client) ResetNotification(ctx context.Context, addr string) error {
    return c.invoke(ctx, addr, "ResetNotification", &empty{}, &empty{})
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "GetStatus", &empty{}, out); err != nil { return nil, err }
    if !json.Valid(out.Data) { return nil, fmt.Errorf("grpc GetStatus: invalid payload") }
    return out.Data, nil
}

func (c *Client) CallRegistry(ctx context.Context, addr string, req transport.RegistryRequest) (transport.RegistryResponse, error) {
    var out transport.RegistryResponse
    err := c.invoke(ctx, addr, "Registry", &req, &out)
    return out, err
}

// Close releases cached connections.
func (c *Client) Close() {
    c.pool.close()
}

var _ transport.RPCClient = (*Client)(nil)
