package monitor

import (
    "context"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/observability/tracing"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// better reports whether a should win over b: highest received LSN, then
// highest priority, then lowest node id.
func better(a, b registry.NodeRecord) bool {
    if a.LastWALReceiveLSN != b.LastWALReceiveLSN { return a.LastWALReceiveLSN > b.LastWALReceiveLSN }
    if a.Priority != b.Priority { return a.Priority > b.Priority }
    return a.ID < b.ID
}

// runElection decides whether the local standby should promote itself after
// its upstream primary vanished. Siblings are cached on the monitor for the
// notifier.
func (m *Monitor) runElection(ctx context.Context) ElectionResult {
    ctx, end := tracing.StartSpan(ctx, "monitor.election", "node_id", m.local.rec.ID, "upstream_id", m.upstream.rec.ID)
    defer end()
    res := m.elect(ctx)
    m.lastElection = res
    obsmetrics.Elections.WithLabelValues(res.String()).Inc()
    logutil.Infof(m.logger, "election result: %s (candidate %d)", res, m.candidateID)
    return res
}

// checkConcurrentCandidacy records a sibling that started its own election in
// the current term. The result of the election is unaffected.
func (m *Monitor) checkConcurrentCandidacy(ctx context.Context, id int) {
    if m.electionTerm == 0 { return }
    term, status, err := m.reg.VotingStatus(ctx, id)
    if err != nil {
        logutil.Debugf(m.logger, "unable to read voting status of sibling %d: %v", id, err)
        return
    }
    if status == registry.VotingInitiated && term == m.electionTerm {
        m.emit(ctx, EventConcurrentCandidacy, true,
            "sibling %d is also a candidate in term %d", id, term)
    }
}

func (m *Monitor) elect(ctx context.Context) ElectionResult {
    self := m.local.rec
    m.candidateID = registry.NoNode
    if m.cfg.Failover == config.FailoverManual {
        logutil.Infof(m.logger, "failover=manual; node %d will not promote itself", self.ID)
        return ElectionLost
    }
    if self.Priority <= 0 {
        logutil.Infof(m.logger, "node %d has priority %d and is not a promotion candidate", self.ID, self.Priority)
        return ElectionNotCandidate
    }

    m.electionTerm = 0
    term, err := m.reg.CurrentTerm(ctx)
    if err != nil {
        logutil.Warnf(m.logger, "unable to read electoral term: %v", err)
    } else {
        m.electionTerm = term
    }
    if err := m.reg.SetVotingStatus(ctx, self.ID, term, registry.VotingInitiated); err != nil {
        logutil.Warnf(m.logger, "unable to record voting status: %v", err)
    }

    recs, err := m.reg.ActiveSiblings(ctx, m.upstream.rec.ID, self.ID)
    if err != nil {
        logutil.Warnf(m.logger, "unable to list siblings of node %d: %v", self.ID, err)
        return ElectionCancelled
    }
    sibs := make([]*peer, 0, len(recs))
    for _, r := range recs { sibs = append(sibs, &peer{rec: r}) }
    m.setSiblings(sibs)

    if len(sibs) == 0 {
        if self.Location == m.upstream.rec.Location {
            logutil.Infof(m.logger, "no other nodes share upstream %d; node %d is the only candidate", m.upstream.rec.ID, self.ID)
            m.candidateID = self.ID
            return ElectionWon
        }
        logutil.Infof(m.logger, "upstream %d is in location %q, node %d in %q; not promoting",
            m.upstream.rec.ID, m.upstream.rec.Location, self.ID, self.Location)
        return ElectionCancelled
    }

    lsn, err := m.local.conn.LastWALReceiveLSN(ctx)
    if err != nil {
        logutil.Warnf(m.logger, "unable to read local receive position: %v", err)
        return ElectionCancelled
    }
    self.LastWALReceiveLSN = lsn
    logutil.Infof(m.logger, "local node %d received up to %s", self.ID, lsn)

    best := self
    visible, locationSeen := 0, false
    if self.Location == m.upstream.rec.Location { locationSeen = true }
    for _, s := range sibs {
        if !m.checkConnection(ctx, s) {
            logutil.Infof(m.logger, "sibling %d unreachable; skipping", s.rec.ID)
            continue
        }
        visible++
        if s.rec.Location == m.upstream.rec.Location { locationSeen = true }
        if s.rec.Type == registry.TypeWitness || s.rec.Priority <= 0 { continue }
        m.checkConcurrentCandidacy(ctx, s.rec.ID)
        l, err := s.conn.LastWALReceiveLSN(ctx)
        if err != nil {
            logutil.Infof(m.logger, "unable to read receive position of sibling %d: %v", s.rec.ID, err)
            continue
        }
        s.rec.LastWALReceiveLSN = l
        logutil.Debugf(m.logger, "sibling %d received up to %s, priority %d", s.rec.ID, l, s.rec.Priority)
        if better(s.rec, best) { best = s.rec }
    }
    logutil.Infof(m.logger, "%d of %d siblings visible", visible, len(sibs))

    if !locationSeen {
        logutil.Infof(m.logger, "no visible node shares location %q with upstream %d; possible network split",
            m.upstream.rec.Location, m.upstream.rec.ID)
        return ElectionCancelled
    }
    m.candidateID = best.ID
    if best.ID == self.ID { return ElectionWon }
    logutil.Infof(m.logger, "node %d (lsn %s) is the promotion candidate", best.ID, best.LastWALReceiveLSN)
    return ElectionLost
}
