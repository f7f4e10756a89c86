package monitor

import (
    "context"
    "time"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/observability/tracing"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// notificationPoll is how often the local mailbox is checked while waiting
// for a sibling to announce the new primary.
const notificationPoll = time.Second

// runFailoverEpisode handles one loss of the upstream. The caller has
// already confirmed the local node is reachable.
func (m *Monitor) runFailoverEpisode(ctx context.Context) Outcome {
    ctx, end := tracing.StartSpan(ctx, "monitor.failover", "node_id", m.local.rec.ID, "upstream_id", m.upstream.rec.ID)
    defer end()

    var out Outcome
    if m.upstream.rec.Type != registry.TypePrimary {
        logutil.Infof(m.logger, "upstream %d is not a primary; following the cluster primary", m.upstream.rec.ID)
        out.State, out.NewPrimaryID = m.followClusterPrimary(ctx)
    } else {
        out.Election = m.runElection(ctx)
        switch out.Election {
        case ElectionCancelled:
            out.State = FailoverNone
        case ElectionWon:
            logutil.Infof(m.logger, "node %d won the election; promoting", m.local.rec.ID)
            out.State = m.promoteSelf(ctx)
            out.NewPrimaryID = m.local.rec.ID
        case ElectionLost, ElectionNotCandidate:
            out.State, out.NewPrimaryID = m.awaitNewPrimary(ctx)
        default:
            out.State = FailoverUnknown
        }
    }
    m.lastOutcome = out.State
    obsmetrics.FailoverOutcomes.WithLabelValues(out.State.String()).Inc()
    logutil.Infof(m.logger, "failover episode finished: election=%s state=%s", out.Election, out.State)
    return out
}

// awaitNewPrimary waits for a sibling to announce the new primary and acts
// on the announcement.
func (m *Monitor) awaitNewPrimary(ctx context.Context) (FailoverState, int) {
    id, ok := m.waitForNotification(ctx)
    if !ok {
        logutil.Warnf(m.logger, "no notification of a new primary within %ds", m.cfg.PrimaryNotificationTimeout)
        return FailoverNoNewPrimary, registry.NoNode
    }
    logutil.Infof(m.logger, "notified that node %d is the new primary", id)
    switch {
    case id == m.upstream.rec.ID:
        return FailoverFollowingOriginalPrimary, id
    case id == m.local.rec.ID:
        return m.promoteSelf(ctx), id
    case m.cfg.Failover == config.FailoverManual:
        m.emit(ctx, EventStandbyDisconnectManual, true,
            "node %d is not following new primary %d because failover=manual", m.local.rec.ID, id)
        return FailoverRequiresManualFailover, id
    }
    return m.followNewPrimary(ctx, id), id
}

// waitForNotification polls the local mailbox once per notificationPoll for
// up to primary_notification_timeout seconds. A read notification is
// cleared.
func (m *Monitor) waitForNotification(ctx context.Context) (int, bool) {
    deadline := time.Duration(m.cfg.PrimaryNotificationTimeout) * time.Second
    logutil.Infof(m.logger, "waiting up to %s for notification of the new primary", deadline)
    for waited := time.Duration(0); waited < deadline; waited += notificationPoll {
        if id, ok := m.pollNotification(ctx); ok { return id, true }
        if err := m.clock.Sleep(ctx, notificationPoll); err != nil { return registry.NoNode, false }
    }
    // the last interval is slept through; look once more at the deadline
    return m.pollNotification(ctx)
}

func (m *Monitor) pollNotification(ctx context.Context) (int, bool) {
    if !m.checkConnection(ctx, m.local) { return registry.NoNode, false }
    id, ok, err := m.local.conn.NewPrimary(ctx)
    if err != nil {
        logutil.Debugf(m.logger, "unable to read notification: %v", err)
        return registry.NoNode, false
    }
    if !ok { return registry.NoNode, false }
    if err := m.local.conn.ResetNotification(ctx); err != nil {
        logutil.Warnf(m.logger, "unable to clear notification: %v", err)
    }
    return id, true
}

// resolve turns an episode outcome into the loop's next action. Every
// FailoverState is handled.
func (m *Monitor) resolve(ctx context.Context, o Outcome) Action {
    if o.Election == ElectionCancelled {
        logutil.Infof(m.logger, "election cancelled; continuing in degraded monitoring")
        m.enterDegraded(false)
        return continueDegraded
    }
    switch o.State {
    case FailoverPromoted:
        m.notifyFollowers(ctx, m.siblings, m.local.rec.ID)
        m.clearSiblings()
        m.upstream.close()
        m.upstream = nil
        m.exitDegraded()
        return resumeAs(RolePrimary)
    case FailoverPrimaryReappeared, FailoverFollowingOriginalPrimary:
        m.notifyFollowers(ctx, m.siblings, m.upstream.rec.ID)
        m.clearSiblings()
        m.exitDegraded()
        m.resetVoting(ctx)
        return continueNormal
    case FailoverFollowedNewPrimary:
        m.clearSiblings()
        m.exitDegraded()
        m.resetVoting(ctx)
        return continueNormal
    case FailoverPromotionFailed, FailoverFollowFail:
        m.enterDegraded(true)
        return continueDegraded
    case FailoverRequiresManualFailover:
        m.enterDegraded(false)
        m.manualRequired = true
        return continueDegraded
    case FailoverNoNewPrimary, FailoverWaitingNewPrimary:
        m.enterDegraded(false)
        return continueDegraded
    case FailoverLocalNodeFailure, FailoverNodeNotificationError, FailoverUnknown, FailoverNone:
        return m.currentAction()
    }
    logutil.Errorf(m.logger, "unhandled failover state %d", int(o.State))
    return m.currentAction()
}

func (m *Monitor) currentAction() Action {
    if m.state == StateDegraded { return continueDegraded }
    return continueNormal
}

func (m *Monitor) resetVoting(ctx context.Context) {
    if err := m.reg.ResetVotingStatus(ctx, m.local.rec.ID); err != nil {
        logutil.Warnf(m.logger, "unable to reset voting status: %v", err)
    }
}
