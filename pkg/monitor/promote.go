package monitor

import (
    "context"
    "time"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/observability/tracing"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// promoteSelf runs the promote command and records the result. The term is
// incremented once, only after a successful promotion.
func (m *Monitor) promoteSelf(ctx context.Context) FailoverState {
    ctx, end := tracing.StartSpan(ctx, "monitor.promote", "node_id", m.local.rec.ID)
    defer end()

    if d := m.cfg.PromoteDelay; d > 0 {
        logutil.Infof(m.logger, "sleeping %ds before promotion", d)
        if err := m.clock.Sleep(ctx, time.Duration(d)*time.Second); err != nil { return FailoverLocalNodeFailure }
    }
    if m.electionTerm > 0 {
        if cur, err := m.reg.CurrentTerm(ctx); err != nil {
            logutil.Warnf(m.logger, "unable to re-read electoral term: %v", err)
        } else if cur != m.electionTerm {
            m.emit(ctx, EventFailoverAbort, false,
                "electoral term moved from %d to %d since the election; node %d not promoted", m.electionTerm, cur, m.local.rec.ID)
            return FailoverPromotionFailed
        }
    }
    logutil.Infof(m.logger, "promoting node %d: %s", m.local.rec.ID, m.cfg.PromoteCommand)
    res, err := m.cmd.Run(ctx, m.cfg.PromoteCommand)
    if err != nil { res.ExitCode = -1 }

    if !m.checkConnection(ctx, m.local) {
        logutil.Errorf(m.logger, "lost connection to local node %d during promotion", m.local.rec.ID)
        return FailoverLocalNodeFailure
    }

    oldPrimary := registry.NoNode
    if m.upstream != nil { oldPrimary = m.upstream.rec.ID }
    if !res.OK() {
        if m.upstream != nil && m.isAvailablePrimary(ctx, m.upstream) {
            m.emit(ctx, EventFailoverAbort, true,
                "promotion of node %d failed but original primary %d reappeared", m.local.rec.ID, oldPrimary)
            return FailoverPrimaryReappeared
        }
        m.emit(ctx, EventFailoverPromote, false,
            "promote command failed on node %d (exit %d, err %v): %s", m.local.rec.ID, res.ExitCode, err, res.Output)
        return FailoverPromotionFailed
    }

    term, terr := m.reg.IncrementTerm(ctx)
    if terr != nil { logutil.Warnf(m.logger, "unable to increment electoral term: %v", terr) }
    if err := m.reg.SetPrimary(ctx, m.local.rec.ID, oldPrimary); err != nil {
        logutil.Warnf(m.logger, "unable to record node %d as primary: %v", m.local.rec.ID, err)
    }
    m.refreshLocal(ctx)
    m.local.rec.Type, m.local.rec.UpstreamID = registry.TypePrimary, registry.NoNode
    obsmetrics.Promotions.Inc()
    m.emit(ctx, EventFailoverPromote, true,
        "node %d promoted to primary, old primary %d marked inactive (term %d)", m.local.rec.ID, oldPrimary, term)
    return FailoverPromoted
}
