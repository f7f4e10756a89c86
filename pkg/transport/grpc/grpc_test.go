package grpc

import (
    "context"
    "errors"
    "net"
    "testing"
    "time"

    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/node/memnet"
    "github.com/amirimatin/go-failover/pkg/registry"
    "github.com/amirimatin/go-failover/pkg/registry/memory"
    "github.com/amirimatin/go-failover/pkg/transport"
)

func freeAddr(t *testing.T) string {
    t.Helper()
    l, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    defer l.Close()
    return l.Addr().String()
}

func start(t *testing.T, a *transport.Agent) (string, *Client) {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    s := NewServer(freeAddr(t))
    if err := s.Start(ctx, a); err != nil { t.Fatalf("start: %v", err) }
    c := NewClient(2 * time.Second)
    t.Cleanup(c.Close)
    return s.Addr(), c
}

func TestAgentOverGRPC(t *testing.T) {
    inst := memnet.NewStandby(0x500)
    local := node.NewLocal(inst)
    store := memory.New()
    addr, c := start(t, &transport.Agent{Local: local, Registry: store, Status: func(context.Context) ([]byte, error) { return []byte(`{"ok":true}`), nil }})
    ctx := context.Background()

    conn, err := transport.Dialer(c).Dial(ctx, addr)
    if err != nil { t.Fatalf("dial: %v", err) }
    rt, err := conn.RecoveryType(ctx)
    if err != nil || rt != node.RecoveryStandby { t.Fatalf("recovery = %s %v", rt, err) }
    if err := conn.NotifyFollowPrimary(ctx, 7); err != nil { t.Fatal(err) }
    if id, ok, _ := conn.NewPrimary(ctx); !ok || id != 7 { t.Fatalf("notification = %d %v", id, ok) }

    b, err := c.GetStatus(ctx, addr)
    if err != nil || string(b) != `{"ok":true}` { t.Fatalf("status = %s %v", b, err) }

    rr := transport.NewRemoteRegistry(c, addr)
    if err := rr.RegisterNode(ctx, registry.NodeRecord{ID: 1, Type: registry.TypePrimary, Active: true}); err != nil { t.Fatal(err) }
    if _, err := rr.PrimaryID(ctx); err != nil { t.Fatal(err) }
    if err := rr.SetActive(ctx, 1, false); err != nil { t.Fatal(err) }
    if _, err := rr.PrimaryID(ctx); !errors.Is(err, registry.ErrNoPrimary) { t.Fatalf("got %v", err) }

    inst.SetDown(true)
    if err := conn.Ping(ctx); !errors.Is(err, node.ErrUnreachable) { t.Fatalf("down instance: %v", err) }
}

func TestUnreachablePeer(t *testing.T) {
    c := NewClient(300 * time.Millisecond)
    defer c.Close()
    _, err := transport.Dialer(c).Dial(context.Background(), freeAddr(t))
    if !errors.Is(err, node.ErrUnreachable) { t.Fatalf("got %v", err) }
}
