package monitor

import (
    "context"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
)

// witnessStep keeps the witness's connections alive. A witness takes no
// failover action; it only lends its location to its siblings' elections.
func (m *Monitor) witnessStep(ctx context.Context) Action {
    if !m.checkConnection(ctx, m.local) {
        logutil.Warnf(m.logger, "witness node %d unreachable", m.local.rec.ID)
    }
    if m.upstream == nil {
        if err := m.loadUpstream(ctx); err != nil { logutil.Debugf(m.logger, "witness has no primary: %v", err) }
        return continueNormal
    }
    if !m.checkConnection(ctx, m.upstream) {
        logutil.Debugf(m.logger, "primary %d unreachable from witness", m.upstream.rec.ID)
        m.upstream.close()
        m.upstream = nil
    }
    return continueNormal
}
