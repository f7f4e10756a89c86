package monitor

import (
    "context"
    "time"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    "github.com/amirimatin/go-failover/pkg/node"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// standbyStep is one iteration of the standby loop.
func (m *Monitor) standbyStep(ctx context.Context) Action {
    if m.state == StateDegraded { return m.degradedStandbyStep(ctx) }

    if m.checkConnection(ctx, m.upstream) {
        if m.checkConnection(ctx, m.local) && m.recoveryType(ctx, m.local) == node.RecoveryPrimary {
            m.emit(ctx, EventRoleChange, true, "standby node %d was promoted outside the daemon", m.local.rec.ID)
            return resumeAs(RolePrimary)
        }
        m.sampleReplication(ctx)
        return continueNormal
    }

    upstreamID := registry.NoNode
    if m.upstream != nil { upstreamID = m.upstream.rec.ID }
    m.emit(ctx, EventUpstreamDisconnect, false, "unable to connect to upstream node %d", upstreamID)
    m.enterDegraded(true)
    if !m.checkConnection(ctx, m.local) {
        m.emit(ctx, EventLocalDisconnect, false, "local node %d is also unreachable; failover not attempted", m.local.rec.ID)
        return continueDegraded
    }
    if m.upstream == nil { return continueDegraded }
    return m.resolve(ctx, m.runFailoverEpisode(ctx))
}

func (m *Monitor) degradedStandbyStep(ctx context.Context) Action {
    if m.superviseDegraded(ctx) { return terminate(ExitMonitoringTimeout) }
    if !m.checkConnection(ctx, m.local) {
        logutil.Debugf(m.logger, "local node %d still unreachable", m.local.rec.ID)
        return continueDegraded
    }
    if m.recoveryType(ctx, m.local) == node.RecoveryPrimary {
        m.emit(ctx, EventRoleChange, true, "standby node %d was promoted outside the daemon", m.local.rec.ID)
        return resumeAs(RolePrimary)
    }
    if m.upstream == nil {
        if err := m.loadUpstream(ctx); err != nil {
            logutil.Debugf(m.logger, "no upstream yet: %v", err)
            return continueDegraded
        }
    }
    if m.checkConnection(ctx, m.upstream) {
        m.emit(ctx, EventUpstreamReconnect, true, "reconnected to upstream node %d after %s",
            m.upstream.rec.ID, m.degradedElapsed().Truncate(time.Second))
        m.refreshLocal(ctx)
        if err := m.loadUpstream(ctx); err != nil { logutil.Warnf(m.logger, "%v", err) }
        m.exitDegraded()
        m.resetVoting(ctx)
        return continueNormal
    }
    if m.cfg.Failover != config.FailoverAutomatic || m.manualRequired { return continueDegraded }

    pid, err := m.reg.PrimaryID(ctx)
    if err == nil && pid != m.local.rec.ID && pid != m.upstream.rec.ID {
        logutil.Infof(m.logger, "registry names node %d as primary; attempting to follow it", pid)
        if st := m.followNewPrimary(ctx, pid); st == FailoverFollowedNewPrimary {
            return m.resolve(ctx, Outcome{State: st, NewPrimaryID: pid})
        }
        return continueDegraded
    }
    if m.retryEpisode() { return m.resolve(ctx, m.runFailoverEpisode(ctx)) }
    return continueDegraded
}

// retryEpisode reports whether the last episode should be run again on this
// tick. Failed promotions and follows are retried; a node that requires
// manual failover is held back by manualRequired before this is asked.
func (m *Monitor) retryEpisode() bool {
    switch m.lastOutcome {
    case FailoverNone, FailoverNoNewPrimary, FailoverWaitingNewPrimary,
        FailoverPromotionFailed, FailoverFollowFail:
        return true
    }
    return false
}

// sampleReplication updates the lag gauges and, with monitoring_history on,
// records a history row.
func (m *Monitor) sampleReplication(ctx context.Context) {
    if m.upstream == nil || m.upstream.conn == nil || m.local.conn == nil { return }
    up, err := m.upstream.conn.ReplicationInfo(ctx)
    if err != nil { return }
    loc, err := m.local.conn.ReplicationInfo(ctx)
    if err != nil { return }
    upLSN := up.CurrentLSN
    if up.RecoveryType != node.RecoveryPrimary { upLSN = up.LastWALReceiveLSN }
    lag := lsnDiff(upLSN, loc.LastWALReceiveLSN)
    apply := lsnDiff(loc.LastWALReceiveLSN, loc.LastWALReplayLSN)
    obsmetrics.ReplicationLagBytes.Set(float64(lag))
    obsmetrics.ApplyLagBytes.Set(float64(apply))
    if !m.cfg.MonitoringHistory { return }
    s := registry.MonitoringSample{
        PrimaryID:           m.upstream.rec.ID,
        StandbyID:           m.local.rec.ID,
        Timestamp:           m.clock.Now(),
        PrimaryLSN:          upLSN,
        ReceiveLSN:          loc.LastWALReceiveLSN,
        LastReplayTime:      loc.LastXactReplayTime,
        ReplicationLagBytes: lag,
        ApplyLagBytes:       apply,
    }
    if err := m.reg.AddMonitoringSample(ctx, s); err != nil {
        logutil.Warnf(m.logger, "unable to record monitoring sample: %v", err)
    }
}

func lsnDiff(a, b node.LSN) int64 {
    if a <= b { return 0 }
    return int64(a - b)
}
