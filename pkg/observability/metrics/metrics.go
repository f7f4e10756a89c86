package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    MonitoringState = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "failover",
        Name:      "monitoring_degraded",
        Help:      "1 while the daemon is in degraded monitoring, else 0",
    })

    IsPrimary = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "failover",
        Name:      "is_primary",
        Help:      "1 if the local node is monitored as a primary, else 0",
    })

    DegradedSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "failover",
        Name:      "degraded_seconds",
        Help:      "Seconds spent in the current degraded monitoring episode",
    })

    Elections = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "failover",
        Name:      "elections_total",
        Help:      "Elections run by this node, by result",
    }, []string{"result"})

    FailoverOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "failover",
        Name:      "outcomes_total",
        Help:      "Failover episodes by terminal state",
    }, []string{"state"})

    Promotions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "failover",
        Name:      "promotions_total",
        Help:      "Successful promotions of the local node",
    })

    Events = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "failover",
        Name:      "events_total",
        Help:      "Events emitted by this node, by type and success",
    }, []string{"type", "success"})

    Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "failover",
        Name:      "notifications_sent_total",
        Help:      "Follow notifications delivered to siblings, by channel",
    }, []string{"channel"})

    AgentRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "failover",
        Subsystem: "agent",
        Name:      "requests_total",
        Help:      "Agent requests served, by protocol and method",
    }, []string{"proto", "method"})

    GossipHealth = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "failover",
        Subsystem: "gossip",
        Name:      "health_score",
        Help:      "memberlist awareness score (0 is healthy, -1 when gossip is off)",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "failover",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "failover",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "failover",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "failover",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })

    // Replication progress as seen by a standby
    ReplicationLagBytes = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "failover",
        Subsystem: "repl",
        Name:      "lag_bytes",
        Help:      "Primary current LSN minus local receive LSN",
    })
    ApplyLagBytes = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "failover",
        Subsystem: "repl",
        Name:      "apply_lag_bytes",
        Help:      "Local receive LSN minus local replay LSN",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(MonitoringState)
        prometheus.MustRegister(IsPrimary)
        prometheus.MustRegister(DegradedSeconds)
        prometheus.MustRegister(Elections)
        prometheus.MustRegister(FailoverOutcomes)
        prometheus.MustRegister(Promotions)
        prometheus.MustRegister(Events)
        prometheus.MustRegister(Notifications)
        prometheus.MustRegister(AgentRequests)
        prometheus.MustRegister(GossipHealth)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
        prometheus.MustRegister(ReplicationLagBytes)
        prometheus.MustRegister(ApplyLagBytes)
    })
}
