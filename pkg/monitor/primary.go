package monitor

import (
    "context"
    "time"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    "github.com/amirimatin/go-failover/pkg/node"
)

// primaryStep is one iteration of the primary loop. The primary only
// watches itself; failover is driven by its standbys.
func (m *Monitor) primaryStep(ctx context.Context) Action {
    if m.state == StateNormal {
        if m.checkConnection(ctx, m.local) {
            if m.recoveryType(ctx, m.local) == node.RecoveryStandby {
                m.emit(ctx, EventRoleChange, true, "primary node %d is now running as a standby", m.local.rec.ID)
                return resumeAs(RoleStandby)
            }
            return continueNormal
        }
        m.emit(ctx, EventLocalDisconnect, false, "unable to connect to local primary node %d", m.local.rec.ID)
        m.enterDegraded(true)
        return continueDegraded
    }

    if m.superviseDegraded(ctx) { return terminate(ExitMonitoringTimeout) }
    if m.checkConnection(ctx, m.local) {
        m.emit(ctx, EventLocalReconnect, true, "reconnected to local primary node %d after %s",
            m.local.rec.ID, m.degradedElapsed().Truncate(time.Second))
        m.refreshLocal(ctx)
        m.exitDegraded()
        if m.recoveryType(ctx, m.local) == node.RecoveryStandby {
            m.emit(ctx, EventRoleChange, true, "primary node %d is now running as a standby", m.local.rec.ID)
            return resumeAs(RoleStandby)
        }
        return continueNormal
    }
    if pid, err := m.reg.PrimaryID(ctx); err == nil && pid != m.local.rec.ID {
        logutil.Warnf(m.logger, "registry now names node %d as primary", pid)
    }
    return continueDegraded
}
