package monitor

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// checkConnection pings p over its held connection and redials once when
// that fails. It records the observation in p.rec.Status and never fails
// the caller.
func (m *Monitor) checkConnection(ctx context.Context, p *peer) bool {
    if p == nil { return false }
    if p.conn != nil {
        if err := p.conn.Ping(ctx); err == nil {
            p.rec.Status = registry.StatusUp
            return true
        }
        p.close()
    }
    c, err := m.dialer.Dial(ctx, p.rec.Conninfo)
    if err != nil {
        logutil.Debugf(m.logger, "node %d (%s) unreachable: %v", p.rec.ID, p.rec.Conninfo, err)
        p.rec.Status = registry.StatusDown
        return false
    }
    if err := c.Ping(ctx); err != nil {
        _ = c.Close()
        p.rec.Status = registry.StatusDown
        return false
    }
    p.conn = c
    p.rec.Status = registry.StatusUp
    return true
}

// recoveryType reports the role of the instance behind p, or
// RecoveryUnknown when it cannot be reached.
func (m *Monitor) recoveryType(ctx context.Context, p *peer) node.RecoveryType {
    if p == nil || p.conn == nil { return node.RecoveryUnknown }
    rt, err := p.conn.RecoveryType(ctx)
    if err != nil { return node.RecoveryUnknown }
    return rt
}

// isAvailablePrimary reports whether p can be reached and is running as a
// primary.
func (m *Monitor) isAvailablePrimary(ctx context.Context, p *peer) bool {
    return m.checkConnection(ctx, p) && m.recoveryType(ctx, p) == node.RecoveryPrimary
}

// loadPeer fetches id from the registry and connects to it. The returned
// peer is usable even when the connection attempt failed.
func (m *Monitor) loadPeer(ctx context.Context, id int) (*peer, error) {
    rec, err := m.reg.GetNode(ctx, id)
    if err != nil { return nil, fmt.Errorf("load node %d: %w", id, err) }
    p := &peer{rec: rec}
    m.checkConnection(ctx, p)
    return p, nil
}

// refreshLocal re-reads the local record, keeping the held connection.
func (m *Monitor) refreshLocal(ctx context.Context) {
    rec, err := m.reg.GetNode(ctx, m.cfg.NodeID)
    if err != nil {
        logutil.Warnf(m.logger, "unable to refresh record of local node %d: %v", m.cfg.NodeID, err)
        return
    }
    rec.Status = m.local.rec.Status
    m.local.rec = rec
}

// loadUpstream points the loop at the local node's upstream, or at the
// registry's primary when the record names none.
func (m *Monitor) loadUpstream(ctx context.Context) error {
    id := m.local.rec.UpstreamID
    if id == registry.NoNode {
        pid, err := m.reg.PrimaryID(ctx)
        if err != nil { return fmt.Errorf("node %d has no upstream: %w", m.local.rec.ID, err) }
        id = pid
    }
    if id == m.local.rec.ID { return fmt.Errorf("node %d names itself as upstream", id) }
    if m.upstream != nil && m.upstream.rec.ID == id {
        rec, err := m.reg.GetNode(ctx, id)
        if err == nil { m.upstream.rec = rec }
        return nil
    }
    p, err := m.loadPeer(ctx, id)
    if err != nil { return err }
    m.upstream.close()
    m.upstream = p
    return nil
}

// syncLocalRecord copies config-owned attributes of the local node into its
// registry record.
func (m *Monitor) syncLocalRecord(ctx context.Context) {
    rec := m.local.rec
    changed := false
    if rec.Priority != m.cfg.Priority { rec.Priority, changed = m.cfg.Priority, true }
    if m.cfg.Location != "" && rec.Location != m.cfg.Location { rec.Location, changed = m.cfg.Location, true }
    if m.cfg.NodeName != "" && rec.Name != m.cfg.NodeName { rec.Name, changed = m.cfg.NodeName, true }
    if !changed { return }
    if err := m.reg.RegisterNode(ctx, rec); err != nil {
        logutil.Warnf(m.logger, "unable to update record of local node %d: %v", rec.ID, err)
    }
    m.local.rec = rec
}
