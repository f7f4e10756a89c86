// Package memnet simulates a set of database nodes and the network between
// them inside one process. Each daemon under test gets a Dialer bound to its
// own address so asymmetric partitions can be modelled.
package memnet

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-failover/pkg/node"
)

// Instance is a simulated database instance.
type Instance struct {
    mu   sync.Mutex
    info node.ReplicationInfo
    down bool
}

// NewPrimary returns a running primary at the given position.
func NewPrimary(lsn node.LSN) *Instance {
    return &Instance{info: node.ReplicationInfo{RecoveryType: node.RecoveryPrimary, CurrentLSN: lsn}}
}

// NewStandby returns a running standby that has received up to lsn.
func NewStandby(lsn node.LSN) *Instance {
    return &Instance{info: node.ReplicationInfo{
        RecoveryType:       node.RecoveryStandby,
        LastWALReceiveLSN:  lsn,
        LastWALReplayLSN:   lsn,
        LastXactReplayTime: time.Unix(0, 0).UTC(),
    }}
}

func (i *Instance) Ping(context.Context) error {
    i.mu.Lock(); defer i.mu.Unlock()
    if i.down { return node.ErrUnreachable }
    return nil
}

func (i *Instance) ReplicationInfo(context.Context) (node.ReplicationInfo, error) {
    i.mu.Lock(); defer i.mu.Unlock()
    if i.down { return node.ReplicationInfo{RecoveryType: node.RecoveryUnknown}, node.ErrUnreachable }
    return i.info, nil
}

// SetDown stops or restarts the instance.
func (i *Instance) SetDown(down bool) { i.mu.Lock(); i.down = down; i.mu.Unlock() }

// Promote turns the instance into a primary at its received position.
func (i *Instance) Promote() {
    i.mu.Lock(); defer i.mu.Unlock()
    i.info.CurrentLSN = i.info.LastWALReceiveLSN
    i.info.RecoveryType = node.RecoveryPrimary
}

// Demote turns the instance into a standby.
func (i *Instance) Demote() {
    i.mu.Lock(); defer i.mu.Unlock()
    i.info.LastWALReceiveLSN = i.info.CurrentLSN
    i.info.RecoveryType = node.RecoveryStandby
}

// SetLSN moves the received (standby) or current (primary) position.
func (i *Instance) SetLSN(lsn node.LSN) {
    i.mu.Lock(); defer i.mu.Unlock()
    if i.info.RecoveryType == node.RecoveryPrimary {
        i.info.CurrentLSN = lsn
        return
    }
    i.info.LastWALReceiveLSN = lsn
    i.info.LastWALReplayLSN = lsn
}

type link struct{ from, to string }

// Network is a registry of simulated nodes keyed by conninfo.
type Network struct {
    mu    sync.Mutex
    nodes map[string]*node.Local
    inst  map[string]*Instance
    cut   map[link]bool
    dials int
}

func New() *Network {
    return &Network{nodes: make(map[string]*node.Local), inst: make(map[string]*Instance), cut: make(map[link]bool)}
}

// Add registers inst under conninfo and returns its Local.
func (n *Network) Add(conninfo string, inst *Instance) *node.Local {
    n.mu.Lock(); defer n.mu.Unlock()
    l := node.NewLocal(inst)
    n.nodes[conninfo] = l
    n.inst[conninfo] = inst
    return l
}

func (n *Network) Instance(conninfo string) *Instance {
    n.mu.Lock(); defer n.mu.Unlock()
    return n.inst[conninfo]
}

func (n *Network) Local(conninfo string) *node.Local {
    n.mu.Lock(); defer n.mu.Unlock()
    return n.nodes[conninfo]
}

// Cut makes "to" unreachable from "from". Only that direction is affected.
func (n *Network) Cut(from, to string) { n.mu.Lock(); n.cut[link{from, to}] = true; n.mu.Unlock() }

// Heal undoes Cut.
func (n *Network) Heal(from, to string) { n.mu.Lock(); delete(n.cut, link{from, to}); n.mu.Unlock() }

// Dials reports how many successful dials were made across the network.
func (n *Network) Dials() int { n.mu.Lock(); defer n.mu.Unlock(); return n.dials }

func (n *Network) reachable(from, to string) (*node.Local, bool) {
    n.mu.Lock(); defer n.mu.Unlock()
    l, ok := n.nodes[to]
    if !ok || n.cut[link{from, to}] { return nil, false }
    return l, true
}

// Dialer returns the view of the network from the node at "from".
func (n *Network) Dialer(from string) node.Dialer {
    return node.DialerFunc(func(ctx context.Context, to string) (node.Conn, error) {
        l, ok := n.reachable(from, to)
        if !ok { return nil, node.ErrUnreachable }
        if err := l.Instance.Ping(ctx); err != nil { return nil, err }
        n.mu.Lock(); n.dials++; n.mu.Unlock()
        return &conn{net: n, from: from, to: to, inner: l.Conn()}, nil
    })
}

// conn re-checks reachability on every call so a cut or a stopped instance
// breaks handles that were opened earlier.
type conn struct {
    net      *Network
    from, to string
    inner    node.Conn
}

func (c *conn) check(ctx context.Context) error {
    l, ok := c.net.reachable(c.from, c.to)
    if !ok { return node.ErrUnreachable }
    return l.Instance.Ping(ctx)
}

func (c *conn) Ping(ctx context.Context) error {
    if err := c.check(ctx); err != nil { return err }
    return c.inner.Ping(ctx)
}

func (c *conn) RecoveryType(ctx context.Context) (node.RecoveryType, error) {
    if err := c.check(ctx); err != nil { return node.RecoveryUnknown, err }
    return c.inner.RecoveryType(ctx)
}

func (c *conn) LastWALReceiveLSN(ctx context.Context) (node.LSN, error) {
    if err := c.check(ctx); err != nil { return node.InvalidLSN, err }
    return c.inner.LastWALReceiveLSN(ctx)
}

func (c *conn) ReplicationInfo(ctx context.Context) (node.ReplicationInfo, error) {
    if err := c.check(ctx); err != nil { return node.ReplicationInfo{}, err }
    return c.inner.ReplicationInfo(ctx)
}

func (c *conn) NotifyFollowPrimary(ctx context.Context, id int) error {
    if err := c.check(ctx); err != nil { return err }
    return c.inner.NotifyFollowPrimary(ctx, id)
}

func (c *conn) NewPrimary(ctx context.Context) (int, bool, error) {
    if err := c.check(ctx); err != nil { return 0, false, err }
    return c.inner.NewPrimary(ctx)
}

func (c *conn) ResetNotification(ctx context.Context) error {
    if err := c.check(ctx); err != nil { return err }
    return c.inner.ResetNotification(ctx)
}

func (c *conn) Close() error { return c.inner.Close() }
