package monitor

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    "github.com/amirimatin/go-failover/pkg/node"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// Run monitors the local node until ctx is done, returning nil, or until the
// daemon must exit, returning an *ExitError.
func (m *Monitor) Run(ctx context.Context) error {
    role, err := m.init(ctx)
    if err != nil { return err }
    m.emit(ctx, EventDaemonStart, true, "monitoring %s node %d (failover=%s)", role, m.local.rec.ID, m.cfg.Failover)
    m.startMonitoring(ctx, role)
    for {
        if ctx.Err() != nil { return m.shutdown(ctx) }
        act := m.step(ctx)
        if ctx.Err() != nil { return m.shutdown(ctx) }
        switch act.Kind {
        case ActionTerminate:
            m.closeAll()
            m.publishStatus()
            return &ExitError{Code: act.Code, Err: fmt.Errorf("degraded monitoring timeout exceeded")}
        case ActionResumeAs:
            m.startMonitoring(ctx, act.Role)
        }
        m.afterStep(ctx)
        if err := m.clock.Sleep(ctx, m.cfg.MonitorInterval()); err != nil { return m.shutdown(ctx) }
    }
}

// init connects to the local node and decides which loop to start in.
func (m *Monitor) init(ctx context.Context) (Role, error) {
    c, err := m.dialer.Dial(ctx, m.cfg.Conninfo)
    if err != nil {
        return "", &ExitError{Code: ExitDBConn, Err: fmt.Errorf("connect to local node at %s: %w", m.cfg.Conninfo, err)}
    }
    rec, err := m.reg.GetNode(ctx, m.cfg.NodeID)
    if err != nil {
        _ = c.Close()
        code := ExitInternal
        if errors.Is(err, registry.ErrNotFound) { code = ExitBadConfig }
        return "", &ExitError{Code: code, Err: fmt.Errorf("node %d is not registered: %w", m.cfg.NodeID, err)}
    }
    rec.Status = registry.StatusUp
    m.local = &peer{rec: rec, conn: c}
    m.syncLocalRecord(ctx)
    if rec.Type == registry.TypeWitness { return RoleWitness, nil }
    switch rt := m.recoveryType(ctx, m.local); rt {
    case node.RecoveryPrimary:
        if rec.Type != registry.TypePrimary {
            logutil.Warnf(m.logger, "node %d is registered as %s but is running as a primary", rec.ID, rec.Type)
        }
        return RolePrimary, nil
    case node.RecoveryStandby:
        return RoleStandby, nil
    default:
        m.local.close()
        return "", &ExitError{Code: ExitDBConn, Err: fmt.Errorf("unable to determine role of local node %d", rec.ID)}
    }
}

// startMonitoring (re)starts the loop for role in normal state.
func (m *Monitor) startMonitoring(ctx context.Context, role Role) {
    m.role = role
    m.exitDegraded()
    m.clearSiblings()
    m.refreshLocal(ctx)
    m.resetVoting(ctx)
    if m.checkConnection(ctx, m.local) {
        if err := m.local.conn.ResetNotification(ctx); err != nil {
            logutil.Warnf(m.logger, "unable to clear notification: %v", err)
        }
    }
    switch role {
    case RolePrimary:
        m.upstream.close()
        m.upstream = nil
        obsmetrics.IsPrimary.Set(1)
    default:
        obsmetrics.IsPrimary.Set(0)
        if err := m.loadUpstream(ctx); err != nil {
            logutil.Warnf(m.logger, "unable to load upstream: %v", err)
            if role == RoleStandby { m.enterDegraded(true) }
        }
    }
    if m.upstream != nil {
        logutil.Infof(m.logger, "monitoring %s node %d (upstream %d)", role, m.local.rec.ID, m.upstream.rec.ID)
    } else {
        logutil.Infof(m.logger, "monitoring %s node %d", role, m.local.rec.ID)
    }
    m.publishStatus()
}

func (m *Monitor) step(ctx context.Context) Action {
    switch m.role {
    case RolePrimary:
        return m.primaryStep(ctx)
    case RoleStandby:
        return m.standbyStep(ctx)
    default:
        return m.witnessStep(ctx)
    }
}

func (m *Monitor) afterStep(ctx context.Context) {
    if m.state == StateDegraded {
        obsmetrics.MonitoringState.Set(1)
    } else {
        obsmetrics.MonitoringState.Set(0)
        obsmetrics.DegradedSeconds.Set(0)
    }
    m.logStatus()
    if m.reload.CompareAndSwap(true, false) { m.applyReload(ctx) }
    m.publishStatus()
}

// logStatus writes a summary line every log_status_interval seconds.
func (m *Monitor) logStatus() {
    every := time.Duration(m.cfg.LogStatusInterval) * time.Second
    now := m.clock.Now()
    if every <= 0 || now.Sub(m.lastStatusLog) < every { return }
    m.lastStatusLog = now
    id := m.local.rec.ID
    switch {
    case m.role == RolePrimary && m.state == StateNormal:
        logutil.Infof(m.logger, "monitoring primary node %d in normal state", id)
    case m.role == RolePrimary:
        logutil.Infof(m.logger, "local primary node %d unreachable for %s; waiting for it to reappear", id, m.degradedElapsed().Truncate(time.Second))
    case m.upstream == nil:
        logutil.Infof(m.logger, "%s node %d has no upstream (%s state)", m.role, id, m.state)
    case m.state == StateNormal:
        logutil.Infof(m.logger, "%s node %d monitoring upstream node %d in normal state", m.role, id, m.upstream.rec.ID)
    default:
        logutil.Infof(m.logger, "%s node %d waiting for upstream %d to reappear (degraded for %s)", m.role, id, m.upstream.rec.ID, m.degradedElapsed().Truncate(time.Second))
        if m.manualRequired { logutil.Infof(m.logger, "manual failover required for node %d", id) }
    }
}

// applyReload swaps in a new configuration, keeping the current one when the
// new one cannot be read or changes restart-only settings.
func (m *Monitor) applyReload(ctx context.Context) {
    if m.reloadFn == nil { return }
    next, err := m.reloadFn()
    if err == nil { err = m.cfg.CheckReload(next) }
    if err != nil {
        m.emit(ctx, EventDaemonReload, false, "configuration not reloaded: %v", err)
        return
    }
    m.cfg = next
    logutil.Apply(next.LogFormat)
    logutil.SetDebug(next.LogDebug)
    m.syncLocalRecord(ctx)
    m.emit(ctx, EventDaemonReload, true, "configuration reloaded (failover=%s, priority=%d)", next.Failover, next.Priority)
}

func (m *Monitor) shutdown(ctx context.Context) error {
    ctx = context.WithoutCancel(ctx)
    m.emit(ctx, EventDaemonShutdown, true, "monitoring of node %d stopped", m.local.rec.ID)
    m.closeAll()
    m.publishStatus()
    return nil
}
