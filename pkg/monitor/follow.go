package monitor

import (
    "context"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/observability/tracing"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// followNewPrimary re-points the local standby at targetID.
func (m *Monitor) followNewPrimary(ctx context.Context, targetID int) FailoverState {
    ctx, end := tracing.StartSpan(ctx, "monitor.follow", "node_id", m.local.rec.ID, "target_id", targetID)
    defer end()

    target, err := m.loadPeer(ctx, targetID)
    if err != nil {
        logutil.Warnf(m.logger, "unable to follow node %d: %v", targetID, err)
        return FailoverFollowFail
    }
    if target.conn == nil || m.recoveryType(ctx, target) != node.RecoveryPrimary {
        target.close()
        logutil.Warnf(m.logger, "node %d is not an available primary; not following it", targetID)
        return FailoverFollowFail
    }

    cmd := m.cfg.FollowCommandFor(targetID)
    logutil.Infof(m.logger, "following new primary %d: %s", targetID, cmd)
    res, err := m.cmd.Run(ctx, cmd)
    if err != nil || !res.OK() {
        target.close()
        if m.upstream != nil && m.upstream.rec.ID != targetID && m.isAvailablePrimary(ctx, m.upstream) {
            m.emit(ctx, EventFailoverAbort, true,
                "follow of node %d failed but original primary %d reappeared", targetID, m.upstream.rec.ID)
            return FailoverPrimaryReappeared
        }
        m.emit(ctx, EventFailoverFollow, false,
            "follow command for node %d failed (exit %d, err %v): %s", targetID, res.ExitCode, err, res.Output)
        return FailoverFollowFail
    }

    old := registry.NoNode
    if m.upstream != nil { old = m.upstream.rec.ID }
    if err := m.reg.SetUpstream(ctx, m.local.rec.ID, targetID); err != nil {
        logutil.Warnf(m.logger, "unable to record upstream %d for node %d: %v", targetID, m.local.rec.ID, err)
    }
    m.refreshLocal(ctx)
    m.local.rec.UpstreamID = targetID
    if rec, err := m.reg.GetNode(ctx, targetID); err == nil { target.rec = rec }
    m.upstream.close()
    m.upstream = target
    m.emit(ctx, EventFailoverFollow, true, "node %d now following new upstream %d (was %d)", m.local.rec.ID, targetID, old)
    return FailoverFollowedNewPrimary
}

// followClusterPrimary handles the loss of a non-primary upstream by
// following whichever node the registry names as primary.
func (m *Monitor) followClusterPrimary(ctx context.Context) (FailoverState, int) {
    pid, err := m.reg.PrimaryID(ctx)
    if err != nil {
        logutil.Warnf(m.logger, "unable to find the cluster primary: %v", err)
        return FailoverFollowFail, registry.NoNode
    }
    if pid == m.local.rec.ID {
        logutil.Warnf(m.logger, "registry names the local node %d as primary", pid)
        return FailoverFollowFail, registry.NoNode
    }
    if m.cfg.Failover == config.FailoverManual {
        m.emit(ctx, EventStandbyDisconnectManual, true,
            "upstream %d lost; node %d is not following primary %d because failover=manual", m.upstream.rec.ID, m.local.rec.ID, pid)
        return FailoverRequiresManualFailover, pid
    }
    return m.followNewPrimary(ctx, pid), pid
}
