package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/transport"
)

// Client is a thin HTTP client for the agent API. It supports optional TLS
// configuration and retries idempotent reads with backoff.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    attempts  int
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, attempts: 3}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// do sends in (if any) and decodes a 200 response into out. Only GET is
// retried.
func (c *Client) do(ctx context.Context, method, addr, path string, in, out any) error {
    var body []byte
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return err }
        body = b
    }
    attempts := 1
    if method == http.MethodGet { attempts = c.attempts }
    var lastErr error
    for attempt := 0; attempt < attempts; attempt++ {
        req, err := http.NewRequestWithContext(ctx, method, c.url(addr, path), bytes.NewReader(body))
        if err != nil { return err }
        if in != nil { req.Header.Set("Content-Type", "application/json") }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = fmt.Errorf("%w: %v", node.ErrUnreachable, err)
        } else {
            b, _ := io.ReadAll(resp.Body)
            resp.Body.Close()
            if resp.StatusCode == http.StatusOK {
                if out == nil { return nil }
                return json.Unmarshal(b, out)
            }
            var er transport.ErrorResponse
            if json.Unmarshal(b, &er) == nil && er.Error != "" {
                // The peer answered; its error is final.
                return er.AsError()
            }
            lastErr = fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(b))
        }
        if attempt == attempts-1 { break }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) Ping(ctx context.Context, addr string) error {
    return c.do(ctx, http.MethodGet, addr, "/node/ping", nil, nil)
}

func (c *Client) Replication(ctx context.Context, addr string) (node.ReplicationInfo, error) {
    var ri node.ReplicationInfo
    if err := c.do(ctx, http.MethodGet, addr, "/node/replication", nil, &ri); err != nil {
        return node.ReplicationInfo{RecoveryType: node.RecoveryUnknown}, err
    }
    return ri, nil
}

func (c *Client) Notify(ctx context.Context, addr string, primaryID int) error {
    return c.do(ctx, http.MethodPost, addr, "/node/notify", transport.NotifyRequest{PrimaryID: primaryID}, nil)
}

func (c *Client) Notification(ctx context.Context, addr string) (transport.NotificationResponse, error) {
    var out transport.NotificationResponse
    err := c.do(ctx, http.MethodGet, addr, "/node/notification", nil, &out)
    return out, err
}

func (c *Client) ResetNotification(ctx context.Context, addr string) error {
    return c.do(ctx, http.MethodDelete, addr, "/node/notification", nil, nil)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    var raw json.RawMessage
    if err := c.do(ctx, http.MethodGet, addr, "/status", nil, &raw); err != nil { return nil, err }
    return raw, nil
}

func (c *Client) CallRegistry(ctx context.Context, addr string, req transport.RegistryRequest) (transport.RegistryResponse, error) {
    var out transport.RegistryResponse
    err := c.do(ctx, http.MethodPost, addr, "/registry", req, &out)
    return out, err
}

var _ transport.RPCClient = (*Client)(nil)
