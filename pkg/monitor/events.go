package monitor

import (
    "context"
    "fmt"
    "strconv"
    "sync"
    "time"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/registry"
)

type EventType string

const (
    EventDaemonStart             EventType = "daemon_start"
    EventDaemonReload            EventType = "daemon_reload"
    EventDaemonShutdown          EventType = "daemon_shutdown"
    EventDaemonTerminate         EventType = "daemon_terminate"
    EventUpstreamDisconnect      EventType = "upstream_disconnect"
    EventUpstreamReconnect       EventType = "upstream_reconnect"
    EventLocalDisconnect         EventType = "local_disconnect"
    EventLocalReconnect          EventType = "local_reconnect"
    EventRoleChange              EventType = "role_change"
    EventFailoverPromote         EventType = "failover_promote"
    EventFailoverAbort           EventType = "failover_abort"
    EventFailoverFollow          EventType = "failover_follow"
    EventStandbyDisconnectManual EventType = "standby_disconnect_manual"
    EventConcurrentCandidacy     EventType = "election_concurrent_candidacy"
)

// Event mirrors what is written to the registry event log. Subscribers get
// it even when the registry write failed.
type Event struct {
    Type    EventType
    NodeID  int
    Success bool
    Details string
    At      time.Time
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed when ctx is done. Events are dropped if the consumer is too slow.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    m.eb.add(ch)
    go func() {
        <-ctx.Done()
        m.eb.remove(ch)
        close(ch)
    }()
    return ch
}

// emit logs, records and publishes one event. A registry failure is logged
// and otherwise ignored.
func (m *Monitor) emit(ctx context.Context, typ EventType, success bool, format string, args ...any) {
    ev := Event{Type: typ, NodeID: m.cfg.NodeID, Success: success, Details: fmt.Sprintf(format, args...), At: m.clock.Now()}
    if success {
        logutil.Infof(m.logger, "[%s] %s", typ, ev.Details)
    } else {
        logutil.Warnf(m.logger, "[%s] %s", typ, ev.Details)
    }
    rec := registry.Event{NodeID: ev.NodeID, Type: string(typ), Success: success, Details: ev.Details, Timestamp: ev.At}
    if err := m.reg.AddEvent(ctx, rec); err != nil {
        logutil.Warnf(m.logger, "unable to record %s event: %v", typ, err)
    }
    obsmetrics.Events.WithLabelValues(string(typ), strconv.FormatBool(success)).Inc()
    m.eb.publish(ev)
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}
