package monitor

import (
    "context"
    "time"

    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
)

func (m *Monitor) degradedElapsed() time.Duration {
    if m.state != StateDegraded || m.degradedSince.IsZero() { return 0 }
    return m.clock.Now().Sub(m.degradedSince)
}

// superviseDegraded reports whether the daemon has been degraded for longer
// than degraded_monitoring_timeout. A timeout <= 0 never expires.
func (m *Monitor) superviseDegraded(ctx context.Context) bool {
    elapsed := m.degradedElapsed()
    obsmetrics.DegradedSeconds.Set(elapsed.Seconds())
    limit := m.cfg.DegradedMonitoringTimeout
    if limit <= 0 || elapsed <= time.Duration(limit)*time.Second { return false }
    m.emit(ctx, EventDaemonTerminate, false,
        "degraded monitoring timeout (%ds) exceeded after %s; terminating", limit, elapsed.Truncate(time.Second))
    return true
}
