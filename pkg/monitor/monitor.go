// Package monitor is the daemon's control loop. It watches the local node
// and its upstream, runs elections when the upstream primary disappears and
// drives promotion or re-pointing of the local standby.
package monitor

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "sync/atomic"
    "time"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/execx"
    "github.com/amirimatin/go-failover/pkg/membership"
    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/registry"
)

// Clock abstracts time so tests can run failure episodes instantly.
type Clock interface {
    Now() time.Time
    // Sleep waits for d or until ctx is done, returning ctx.Err() then.
    Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

// Options carries the dependencies of a Monitor. Config, Registry and Dialer
// are required.
type Options struct {
    Config   *config.Config
    Registry registry.Registry
    // Dialer opens connections to the local node and to peers by conninfo.
    Dialer node.Dialer
    // Commander runs promote and follow commands. Defaults to execx.Shell.
    Commander execx.Commander
    Clock     Clock
    Logger    *log.Logger
    // Gossip is an optional second channel for follow notifications.
    Gossip membership.Messenger
    // Reload re-reads the configuration after RequestReload.
    Reload func() (*config.Config, error)
}

// Validate checks that required dependencies are present.
func (o Options) Validate() error {
    if o.Config == nil { return errors.New("monitor: nil Config") }
    if o.Registry == nil { return errors.New("monitor: nil Registry") }
    if o.Dialer == nil { return errors.New("monitor: nil Dialer") }
    return o.Config.Validate()
}

// peer is a node record plus the connection currently held to it. conn is
// nil while the node is unreachable.
type peer struct {
    rec  registry.NodeRecord
    conn node.Conn
}

func (p *peer) close() {
    if p == nil || p.conn == nil { return }
    _ = p.conn.Close()
    p.conn = nil
}

// Monitor runs the monitoring loop of one node. All fields except status,
// reload and eb are owned by the Run goroutine.
type Monitor struct {
    cfg    *config.Config
    reg    registry.Registry
    dialer node.Dialer
    cmd    execx.Commander
    clock  Clock
    logger *log.Logger
    gossip membership.Messenger
    reloadFn func() (*config.Config, error)

    role           Role
    state          MonitoringState
    degradedSince  time.Time
    manualRequired bool
    lastElection   ElectionResult
    lastOutcome    FailoverState
    candidateID    int
    electionTerm   int
    lastStatusLog  time.Time

    local    *peer
    upstream *peer
    siblings []*peer

    reload atomic.Bool
    status atomic.Pointer[Status]
    eb     eventBus
}

// New constructs a Monitor. It performs no I/O; call Run to start it.
func New(opts Options) (*Monitor, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    m := &Monitor{
        cfg:      opts.Config,
        reg:      opts.Registry,
        dialer:   opts.Dialer,
        cmd:      opts.Commander,
        clock:    opts.Clock,
        logger:   opts.Logger,
        gossip:   opts.Gossip,
        reloadFn: opts.Reload,
    }
    if m.cmd == nil { m.cmd = execx.Shell{} }
    if m.clock == nil { m.clock = realClock{} }
    if m.logger == nil { m.logger = log.Default() }
    m.status.Store(&Status{NodeID: m.cfg.NodeID, State: StateNormal.String()})
    return m, nil
}

// RequestReload asks the loop to re-read its configuration at the end of the
// current iteration. Safe to call from a signal handler goroutine.
func (m *Monitor) RequestReload() { m.reload.Store(true) }

// Status is a point-in-time view of the loop, refreshed once per iteration.
type Status struct {
    NodeID                 int        `json:"nodeId"`
    Role                   Role       `json:"role"`
    State                  string     `json:"state"`
    UpstreamID             int        `json:"upstreamId,omitempty"`
    Failover               string     `json:"failover"`
    DegradedSince          *time.Time `json:"degradedSince,omitempty"`
    LastElection           string     `json:"lastElection,omitempty"`
    LastFailover           string     `json:"lastFailover,omitempty"`
    ManualFailoverRequired bool       `json:"manualFailoverRequired,omitempty"`
    UpdatedAt              time.Time  `json:"updatedAt"`
}

// Status returns the latest snapshot.
func (m *Monitor) Status() Status { return *m.status.Load() }

// StatusJSON is the agent's /status payload.
func (m *Monitor) StatusJSON(context.Context) ([]byte, error) { return json.Marshal(m.Status()) }

func (m *Monitor) publishStatus() {
    s := &Status{
        NodeID:                 m.cfg.NodeID,
        Role:                   m.role,
        State:                  m.state.String(),
        Failover:               string(m.cfg.Failover),
        ManualFailoverRequired: m.manualRequired,
        UpdatedAt:              m.clock.Now(),
    }
    if m.upstream != nil { s.UpstreamID = m.upstream.rec.ID }
    if m.state == StateDegraded {
        t := m.degradedSince
        s.DegradedSince = &t
    }
    if m.lastElection != ElectionNone { s.LastElection = m.lastElection.String() }
    if m.lastOutcome != FailoverNone { s.LastFailover = m.lastOutcome.String() }
    m.status.Store(s)
}

// enterDegraded switches to degraded monitoring. The timer starts on entry
// and is restarted only when reset is true.
func (m *Monitor) enterDegraded(reset bool) {
    if m.state != StateDegraded || reset || m.degradedSince.IsZero() {
        m.degradedSince = m.clock.Now()
    }
    m.state = StateDegraded
}

func (m *Monitor) exitDegraded() {
    m.state = StateNormal
    m.degradedSince = time.Time{}
    m.manualRequired = false
}

func (m *Monitor) setSiblings(ps []*peer) {
    m.clearSiblings()
    m.siblings = ps
}

func (m *Monitor) clearSiblings() {
    for _, p := range m.siblings { p.close() }
    m.siblings = nil
}

func (m *Monitor) closeAll() {
    m.clearSiblings()
    m.upstream.close()
    m.local.close()
}
