package monitor

import (
    "context"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
)

// notifyFollowers tells each sibling to follow targetID. Siblings that
// cannot be reached over the agent API are tried over gossip when it is
// configured, and skipped otherwise. It returns the number notified.
func (m *Monitor) notifyFollowers(ctx context.Context, siblings []*peer, targetID int) int {
    if len(siblings) == 0 {
        logutil.Debugf(m.logger, "no siblings to notify")
        return 0
    }
    sent := 0
    for _, s := range siblings {
        if s.rec.ID == targetID || s.rec.ID == m.local.rec.ID { continue }
        if m.checkConnection(ctx, s) {
            err := s.conn.NotifyFollowPrimary(ctx, targetID)
            if err == nil {
                logutil.Infof(m.logger, "notified node %d to follow node %d", s.rec.ID, targetID)
                obsmetrics.Notifications.WithLabelValues("agent").Inc()
                sent++
                continue
            }
            logutil.Warnf(m.logger, "unable to notify node %d: %v", s.rec.ID, err)
        }
        if m.gossip != nil {
            err := m.gossip.SendFollow(ctx, s.rec.ID, targetID)
            if err == nil {
                logutil.Infof(m.logger, "notified node %d over gossip to follow node %d", s.rec.ID, targetID)
                obsmetrics.Notifications.WithLabelValues("gossip").Inc()
                sent++
                continue
            }
            logutil.Debugf(m.logger, "gossip notice to node %d failed: %v", s.rec.ID, err)
        }
        logutil.Infof(m.logger, "node %d unreachable; not notified", s.rec.ID)
    }
    return sent
}
