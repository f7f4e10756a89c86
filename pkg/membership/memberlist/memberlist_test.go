package memberlist

import (
    "context"
    "errors"
    "log"
    "testing"
    "time"

    base "github.com/amirimatin/go-failover/pkg/membership"
    "github.com/amirimatin/go-failover/pkg/node"
)

func startNode(t *testing.T, ctx context.Context, id int) (*Gossip, *node.Mailbox) {
    t.Helper()
    mb := &node.Mailbox{}
    m, err := New(Options{NodeID: id, Bind: "127.0.0.1:0", Mailbox: mb, AgentAddr: "127.0.0.1:17946", Logger: log.Default(), ProbeInterval: 100 * time.Millisecond, SuspicionMult: 2})
    if err != nil { t.Fatalf("new %d: %v", id, err) }
    if err := m.Start(ctx); err != nil { t.Fatalf("start %d: %v", id, err) }
    if m.Local().Addr == "" { t.Fatalf("local addr empty for %d", id) }
    return m, mb
}

func awaitMembers(t *testing.T, m base.Membership, want int, timeout time.Duration) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for {
        got := m.Members()
        if len(got) == want { return }
        if time.Now().After(deadline) {
            t.Fatalf("members timeout: got=%d want=%d list=%v", len(got), want, got)
        }
        time.Sleep(100 * time.Millisecond)
    }
}

func TestStartLocal(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    m, _ := startNode(t, ctx, 1)
    defer m.Stop()
    if got := m.Local().ID; got != "1" { t.Fatalf("local id = %q, want 1", got) }
    if got := m.Local().Meta["agent"]; got != "127.0.0.1:17946" { t.Fatalf("agent meta = %q", got) }
    if s := m.HealthScore(); s < 0 { t.Fatalf("unexpected health score: %d", s) }
}

func TestFollowNoticeDelivered(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    n1, _ := startNode(t, ctx, 1)
    defer n1.Stop()
    n2, mb2 := startNode(t, ctx, 2)
    defer n2.Stop()
    if err := n2.Join([]string{n1.Local().Addr}); err != nil { t.Fatalf("join: %v", err) }
    awaitMembers(t, n1, 2, 5*time.Second)

    if err := n1.SendFollow(ctx, 2, 1); err != nil { t.Fatalf("send: %v", err) }
    deadline := time.Now().Add(5 * time.Second)
    for {
        if id, ok := mb2.Get(); ok {
            if id != 1 { t.Fatalf("mailbox = %d, want 1", id) }
            break
        }
        if time.Now().After(deadline) { t.Fatal("notice not delivered") }
        time.Sleep(50 * time.Millisecond)
    }

    if err := n1.SendFollow(ctx, 9, 1); !errors.Is(err, base.ErrUnknownMember) { t.Fatalf("unknown member: %v", err) }
}

func TestLeave(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    n1, _ := startNode(t, ctx, 1)
    defer n1.Stop()
    n2, _ := startNode(t, ctx, 2)
    if err := n2.Join([]string{n1.Local().Addr}); err != nil { t.Fatalf("join: %v", err) }
    awaitMembers(t, n1, 2, 5*time.Second)
    _ = n2.Leave()
    _ = n2.Stop()
    awaitMembers(t, n1, 1, 5*time.Second)
}
