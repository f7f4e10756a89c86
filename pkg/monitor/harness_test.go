package monitor

import (
    "context"
    "fmt"
    "io"
    "log"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/execx"
    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/node/memnet"
    "github.com/amirimatin/go-failover/pkg/registry"
    "github.com/amirimatin/go-failover/pkg/registry/memory"
)

type fakeClock struct {
    mu      sync.Mutex
    now     time.Time
    onSleep func(d time.Duration)
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.mu.Lock(); c.now = c.now.Add(d); c.mu.Unlock() }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
    if err := ctx.Err(); err != nil { return err }
    c.Advance(d)
    c.mu.Lock()
    h := c.onSleep
    c.mu.Unlock()
    if h != nil { h(d) }
    return ctx.Err()
}

func (c *fakeClock) OnSleep(h func(d time.Duration)) { c.mu.Lock(); c.onSleep = h; c.mu.Unlock() }

type testNode struct {
    rec  registry.NodeRecord
    inst *memnet.Instance
    cfg  *config.Config
    cmd  *execx.Fake
}

type harness struct {
    t     *testing.T
    ctx   context.Context
    net   *memnet.Network
    reg   *memory.Store
    clock *fakeClock
    nodes map[int]*testNode
}

func newHarness(t *testing.T) *harness {
    return &harness{t: t, ctx: context.Background(), net: memnet.New(), reg: memory.New(), clock: newFakeClock(), nodes: map[int]*testNode{}}
}

func addr(id int) string { return fmt.Sprintf("node%d", id) }

func (h *harness) add(rec registry.NodeRecord, inst *memnet.Instance) *testNode {
    rec.Conninfo, rec.Active, rec.Name = addr(rec.ID), true, addr(rec.ID)
    if rec.Location == "" { rec.Location = "dc1" }
    require.NoError(h.t, h.reg.RegisterNode(h.ctx, rec))
    h.net.Add(rec.Conninfo, inst)

    cfg := config.Defaults()
    cfg.NodeID, cfg.NodeName, cfg.Conninfo = rec.ID, rec.Name, rec.Conninfo
    cfg.Location, cfg.Priority = rec.Location, rec.Priority
    cfg.PromoteCommand, cfg.FollowCommand = "promote", "follow %n"
    cfg.PrimaryNotificationTimeout, cfg.MonitorIntervalSecs = 5, 1
    cfg.Instance.StatusCommand = "status"

    n := &testNode{rec: rec, inst: inst, cfg: &cfg, cmd: &execx.Fake{}}
    n.cmd.Handler = func(command string) execx.Result {
        switch {
        case command == "promote":
            inst.Promote()
            return execx.Result{Output: "promoted"}
        case strings.HasPrefix(command, "follow "):
            return execx.Result{Output: "following"}
        }
        return execx.Result{ExitCode: 127}
    }
    h.nodes[rec.ID] = n
    return n
}

func (h *harness) primary(id int, loc string) *testNode {
    return h.add(registry.NodeRecord{ID: id, Type: registry.TypePrimary, Priority: 100, Location: loc}, memnet.NewPrimary(1000))
}

func (h *harness) standby(id, upstream int, lsn node.LSN, prio int, loc string) *testNode {
    return h.add(registry.NodeRecord{ID: id, Type: registry.TypeStandby, UpstreamID: upstream, Priority: prio, Location: loc}, memnet.NewStandby(lsn))
}

func (h *harness) witness(id, upstream int, loc string) *testNode {
    return h.add(registry.NodeRecord{ID: id, Type: registry.TypeWitness, UpstreamID: upstream, Location: loc}, memnet.NewStandby(0))
}

func (h *harness) monitor(n *testNode) *Monitor {
    m, err := New(Options{
        Config:    n.cfg,
        Registry:  h.reg,
        Dialer:    h.net.Dialer(n.rec.Conninfo),
        Commander: n.cmd,
        Clock:     h.clock,
        Logger:    log.New(io.Discard, "", 0),
    })
    require.NoError(h.t, err)
    return m
}

// start prepares m the way Run does, without entering the loop.
func (h *harness) start(n *testNode) *Monitor {
    m := h.monitor(n)
    role, err := m.init(h.ctx)
    require.NoError(h.t, err)
    m.startMonitoring(h.ctx, role)
    return m
}

func (h *harness) node(id int) registry.NodeRecord {
    rec, err := h.reg.GetNode(h.ctx, id)
    require.NoError(h.t, err)
    return rec
}

func (h *harness) term() int {
    t, err := h.reg.CurrentTerm(h.ctx)
    require.NoError(h.t, err)
    return t
}

func (h *harness) hasEvent(nodeID int, typ EventType, success bool) bool {
    evs, err := h.reg.Events(h.ctx, 0)
    require.NoError(h.t, err)
    for _, ev := range evs {
        if ev.NodeID == nodeID && ev.Type == string(typ) && ev.Success == success { return true }
    }
    return false
}

func (h *harness) down(id int) { h.net.Instance(addr(id)).SetDown(true) }

func (h *harness) up(id int) { h.net.Instance(addr(id)).SetDown(false) }

func (h *harness) mailbox(id int) *node.Mailbox { return h.net.Local(addr(id)).Mailbox }
