package node

import (
    "context"
    "sync"
)

// Mailbox holds the single "follow this node" notification a daemon can
// receive from a sibling that won an election. Last writer wins.
type Mailbox struct {
    mu        sync.Mutex
    primaryID int
    set       bool
}

func (m *Mailbox) Set(primaryID int) {
    m.mu.Lock(); defer m.mu.Unlock()
    m.primaryID, m.set = primaryID, true
}

func (m *Mailbox) Get() (int, bool) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.primaryID, m.set
}

func (m *Mailbox) Reset() {
    m.mu.Lock(); defer m.mu.Unlock()
    m.primaryID, m.set = 0, false
}

// Local pairs the local instance with the local mailbox. It is what the
// agent server exposes to peers and what the daemon itself talks to.
type Local struct {
    Instance Instance
    Mailbox  *Mailbox
}

// NewLocal returns a Local with a fresh mailbox.
func NewLocal(inst Instance) *Local { return &Local{Instance: inst, Mailbox: &Mailbox{}} }

// Conn returns a handle onto the local node. Closing it does not affect the
// instance.
func (l *Local) Conn() Conn { return &localConn{l: l} }

type localConn struct {
    l      *Local
    closed bool
}

func (c *localConn) Ping(ctx context.Context) error {
    if c.closed { return ErrUnreachable }
    return c.l.Instance.Ping(ctx)
}

func (c *localConn) RecoveryType(ctx context.Context) (RecoveryType, error) {
    ri, err := c.ReplicationInfo(ctx)
    if err != nil { return RecoveryUnknown, err }
    return ri.RecoveryType, nil
}

func (c *localConn) LastWALReceiveLSN(ctx context.Context) (LSN, error) {
    ri, err := c.ReplicationInfo(ctx)
    if err != nil { return InvalidLSN, err }
    return ri.LastWALReceiveLSN, nil
}

func (c *localConn) ReplicationInfo(ctx context.Context) (ReplicationInfo, error) {
    if c.closed { return ReplicationInfo{RecoveryType: RecoveryUnknown}, ErrUnreachable }
    return c.l.Instance.ReplicationInfo(ctx)
}

func (c *localConn) NotifyFollowPrimary(_ context.Context, primaryID int) error {
    if c.closed { return ErrUnreachable }
    c.l.Mailbox.Set(primaryID)
    return nil
}

func (c *localConn) NewPrimary(context.Context) (int, bool, error) {
    if c.closed { return 0, false, ErrUnreachable }
    id, ok := c.l.Mailbox.Get()
    return id, ok, nil
}

func (c *localConn) ResetNotification(context.Context) error {
    if c.closed { return ErrUnreachable }
    c.l.Mailbox.Reset()
    return nil
}

func (c *localConn) Close() error { c.closed = true; return nil }

// Loopback routes the local conninfo to the in-process Local and every other
// conninfo to remote.
func Loopback(conninfo string, local *Local, remote Dialer) Dialer {
    return DialerFunc(func(ctx context.Context, ci string) (Conn, error) {
        if ci == conninfo {
            c := local.Conn()
            if err := c.Ping(ctx); err != nil { return nil, err }
            return c, nil
        }
        if remote == nil { return nil, ErrUnreachable }
        return remote.Dial(ctx, ci)
    })
}
