package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    base "github.com/amirimatin/go-failover/pkg/membership"
    "github.com/amirimatin/go-failover/pkg/node"
)

// Options configures the memberlist-based gossip layer.
type Options struct {
    // NodeID is the registry id of the local node.
    NodeID int

    // Bind is the bind address in host:port form (e.g. ":7946" or "0.0.0.0:7946").
    Bind string

    // Advertise is the advertised address (host:port) that peers will use to reach this node.
    // If empty, memberlist derives it from Bind.
    Advertise string

    // AgentAddr is gossiped as member metadata so operators can map members
    // to agent endpoints.
    AgentAddr string

    // Mailbox receives follow notices addressed to this node.
    Mailbox *node.Mailbox

    // Logger is optional. If nil, log.Default() is used.
    Logger *log.Logger

    // Tuning parameters (optional). Zero means use defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// Gossip implements base.Membership and base.Messenger using HashiCorp memberlist.
type Gossip struct {
    mu     sync.RWMutex
    opts   Options
    ml     *memberlist.Memberlist
    evts   chan base.Event
    closed bool
}

// New constructs a memberlist-backed gossip layer.
func New(opts Options) (*Gossip, error) {
    if opts.NodeID <= 0 {
        return nil, fmt.Errorf("memberlist: invalid NodeID %d", opts.NodeID)
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("memberlist: empty Bind address")
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    if opts.Mailbox == nil {
        opts.Mailbox = &node.Mailbox{}
    }
    return &Gossip{
        opts: opts,
        evts: make(chan base.Event, 64),
    }, nil
}

func splitHostPort(addr string) (string, int, error) {
    host, portStr, err := net.SplitHostPort(addr)
    if err != nil { return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", addr, err) }
    port, err := strconv.Atoi(portStr)
    if err != nil || port < 0 || port > 65535 { return "", 0, fmt.Errorf("memberlist: invalid port %q", portStr) }
    return host, port, nil
}

// Start creates and launches the underlying memberlist instance.
func (m *Gossip) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil {
        return nil
    }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = base.MemberName(m.opts.NodeID)
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if m.opts.ProbeInterval > 0 { cfg.ProbeInterval = m.opts.ProbeInterval }
    if m.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = m.opts.ProbeTimeout }
    if m.opts.SuspicionMult > 0 { cfg.SuspicionMult = m.opts.SuspicionMult }
    cfg.Logger = m.opts.Logger

    cfg.Events = &eventDelegate{emit: m.emit}
    meta, _ := json.Marshal(map[string]string{"agent": m.opts.AgentAddr, "node_id": cfg.Name})
    cfg.Delegate = &nodeDelegate{meta: meta, mailbox: m.opts.Mailbox, logger: m.opts.Logger}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    m.ml = ml

    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *Gossip) Join(seeds []string) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return fmt.Errorf("memberlist: not started")
    }
    if len(seeds) == 0 {
        return nil
    }
    _, err := ml.Join(seeds)
    return err
}

func toMember(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

func (m *Gossip) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return base.MemberInfo{}
    }
    return toMember(m.ml.LocalNode())
}

func (m *Gossip) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return nil
    }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, toMember(n))
    }
    return out
}

// SendFollow delivers a follow notice over gossip's reliable (TCP) channel.
func (m *Gossip) SendFollow(ctx context.Context, nodeID, primaryID int) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return fmt.Errorf("memberlist: not started")
    }
    if err := ctx.Err(); err != nil { return err }
    name := base.MemberName(nodeID)
    for _, n := range ml.Members() {
        if n.Name != name { continue }
        msg, _ := json.Marshal(base.FollowNotice{From: m.opts.NodeID, PrimaryID: primaryID})
        return ml.SendReliable(n, msg)
    }
    return fmt.Errorf("%w: %s", base.ErrUnknownMember, name)
}

func (m *Gossip) Events() <-chan base.Event { return m.evts }

func (m *Gossip) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return nil
    }
    // best-effort: leave and give some time to broadcast
    _ = ml.Leave(time.Second)
    return nil
}

func (m *Gossip) Stop() error {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil
    }
    m.closed = true
    ml := m.ml
    m.ml = nil
    m.mu.Unlock()
    if ml != nil {
        _ = ml.Shutdown()
    }
    m.mu.Lock()
    close(m.evts)
    m.mu.Unlock()
    return nil
}

// HealthScore exposes memberlist's awareness score if available.
// Implements membership.HealthReporter.
func (m *Gossip) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return -1
    }
    return m.ml.GetHealthScore()
}

// eventDelegate adapts memberlist events to base.Event.
type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
    if n != nil { d.emit(base.Event{Type: base.EventJoin, Member: toMember(n), At: time.Now()}) }
}

// memberlist conflates explicit leave and failure
func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
    if n != nil { d.emit(base.Event{Type: base.EventLeave, Member: toMember(n), At: time.Now()}) }
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) {
    if n != nil { d.emit(base.Event{Type: base.EventJoin, Member: toMember(n), At: time.Now()}) }
}

func (m *Gossip) emit(e base.Event) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.closed { return }
    select {
    case m.evts <- e:
    default:
        logutil.Debugf(m.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

// nodeDelegate gossips the agent address and receives follow notices.
type nodeDelegate struct {
    meta    []byte
    mailbox *node.Mailbox
    logger  *log.Logger
}

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    return nil
}

func (d *nodeDelegate) NotifyMsg(b []byte) {
    var n base.FollowNotice
    if err := json.Unmarshal(b, &n); err != nil || n.PrimaryID <= 0 {
        logutil.Warnf(d.logger, "memberlist: ignoring malformed notice (%d bytes)", len(b))
        return
    }
    logutil.Infof(d.logger, "received gossip notice from node %d: follow node %d", n.From, n.PrimaryID)
    d.mailbox.Set(n.PrimaryID)
}

func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(bool) []byte                 { return nil }
func (d *nodeDelegate) MergeRemoteState([]byte, bool)          {}

var (
    _ base.Membership     = (*Gossip)(nil)
    _ base.Messenger      = (*Gossip)(nil)
    _ base.HealthReporter = (*Gossip)(nil)
)
