// Package bootstrap assembles a failoverd daemon from its configuration:
// registry backend, local instance probe, agent endpoint, optional gossip
// and the monitor.
package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "io"
    "log"
    "time"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/discovery"
    "github.com/amirimatin/go-failover/pkg/execx"
    "github.com/amirimatin/go-failover/pkg/instance"
    "github.com/amirimatin/go-failover/pkg/instance/postgres"
    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    "github.com/amirimatin/go-failover/pkg/membership"
    ml "github.com/amirimatin/go-failover/pkg/membership/memberlist"
    "github.com/amirimatin/go-failover/pkg/monitor"
    "github.com/amirimatin/go-failover/pkg/node"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/registry"
    "github.com/amirimatin/go-failover/pkg/registry/boltstore"
    "github.com/amirimatin/go-failover/pkg/registry/memory"
    "github.com/amirimatin/go-failover/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-failover/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-failover/pkg/transport/httpjson"
)

// Options are the inputs of Build. Config is required.
type Options struct {
    Config *config.Config
    // ConfigPath is re-read on reload. Empty disables reload.
    ConfigPath string
    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
    // Instance overrides the probe selected by Config.Instance.
    Instance node.Instance
    // Commander overrides the shell used for promote and follow commands.
    Commander execx.Commander
    // Clock overrides the monitor's clock.
    Clock monitor.Clock
}

// Daemon is an assembled node. Build wires it; Start opens its endpoints;
// Run blocks in the monitoring loop.
type Daemon struct {
    Config   *config.Config
    Monitor  *monitor.Monitor
    Registry registry.Registry
    Local    *node.Local
    Server   transport.RPCServer
    Client   transport.RPCClient
    Gossip   *ml.Gossip

    agent   *transport.Agent
    seeds   discovery.Source
    logger  *log.Logger
    closers []io.Closer
}

// NewClient returns the agent client for proto with optional TLS.
func NewClient(proto string, timeout time.Duration, tlsCfg *tls.Config) transport.RPCClient {
    if proto == "grpc" {
        c := mgmtgrpc.NewClient(timeout)
        if tlsCfg != nil { c.UseTLS(tlsCfg) }
        return c
    }
    c := httpjson.NewClient(timeout)
    if tlsCfg != nil { c.UseTLS(tlsCfg) }
    return c
}

// OpenRegistry opens the backend named by cfg.Registry. served reports
// whether this node hosts the registry for its peers.
func OpenRegistry(cfg *config.Config, client transport.RPCClient) (reg registry.Registry, served bool, err error) {
    switch cfg.Registry.Kind {
    case "bolt":
        s, err := boltstore.Open(cfg.Registry.Path)
        if err != nil { return nil, false, fmt.Errorf("bootstrap: open registry: %w", err) }
        return s, true, nil
    case "remote":
        return transport.NewRemoteRegistry(client, cfg.Registry.Addr), false, nil
    default:
        return memory.New(), true, nil
    }
}

func openInstance(cfg *config.Config) (node.Instance, io.Closer) {
    if cfg.Instance.Kind == "postgres" {
        pg := postgres.New(cfg.Instance.DSN)
        return pg, pg
    }
    return instance.NewCommand(cfg.Instance.StatusCommand), nil
}

// Build assembles a Daemon without starting it.
func Build(opts Options) (*Daemon, error) {
    cfg := opts.Config
    if cfg == nil { return nil, fmt.Errorf("bootstrap: nil Config") }
    if err := cfg.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    logutil.Apply(cfg.LogFormat)
    logutil.SetDebug(cfg.LogDebug)

    srvTLS, err := cfg.Agent.TLS.Server()
    if err != nil { return nil, fmt.Errorf("bootstrap: tls server config: %w", err) }
    cliTLS, err := cfg.Agent.TLS.Client()
    if err != nil { return nil, fmt.Errorf("bootstrap: tls client config: %w", err) }

    d := &Daemon{Config: cfg, logger: opts.Logger}
    d.Client = NewClient(cfg.Agent.Proto, cfg.Agent.Timeout, cliTLS)
    if c, ok := d.Client.(*mgmtgrpc.Client); ok { d.closers = append(d.closers, closerFunc(func() error { c.Close(); return nil })) }

    reg, served, err := OpenRegistry(cfg, d.Client)
    if err != nil { return nil, err }
    d.Registry = reg
    d.closers = append(d.closers, reg)

    inst := opts.Instance
    if inst == nil {
        var closer io.Closer
        inst, closer = openInstance(cfg)
        if closer != nil { d.closers = append(d.closers, closer) }
    }
    d.Local = node.NewLocal(inst)

    switch cfg.Agent.Proto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.Agent.Addr)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        d.Server = s
    default:
        s := httpjson.NewServer(cfg.Agent.Addr, opts.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        d.Server = s
    }

    var messenger membership.Messenger
    if cfg.Gossip.Enabled {
        g, err := ml.New(ml.Options{
            NodeID:    cfg.NodeID,
            Bind:      cfg.Gossip.Bind,
            Advertise: cfg.Gossip.Advertise,
            AgentAddr: cfg.Conninfo,
            Mailbox:   d.Local.Mailbox,
            Logger:    opts.Logger,
        })
        if err != nil { d.Close(); return nil, err }
        d.Gossip, messenger = g, g
        d.seeds = discovery.FromConfig(cfg.Gossip, opts.Logger)
    }

    var reload func() (*config.Config, error)
    if opts.ConfigPath != "" {
        path := opts.ConfigPath
        reload = func() (*config.Config, error) { return config.Load(path) }
    }
    mon, err := monitor.New(monitor.Options{
        Config:    cfg,
        Registry:  reg,
        Dialer:    node.Loopback(cfg.Conninfo, d.Local, transport.Dialer(d.Client)),
        Commander: opts.Commander,
        Clock:     opts.Clock,
        Logger:    opts.Logger,
        Gossip:    messenger,
        Reload:    reload,
    })
    if err != nil { d.Close(); return nil, err }
    d.Monitor = mon

    d.agent = &transport.Agent{Local: d.Local, Status: mon.StatusJSON}
    if served { d.agent.Registry = reg }
    return d, nil
}

// Start opens the agent endpoint and joins gossip. Both stop when ctx is
// done.
func (d *Daemon) Start(ctx context.Context) error {
    obsmetrics.Register()
    if err := d.Server.Start(ctx, d.agent); err != nil { return fmt.Errorf("bootstrap: start agent: %w", err) }
    logutil.Infof(d.logger, "agent listening on %s (%s)", d.Server.Addr(), d.Config.Agent.Proto)
    if d.Gossip == nil {
        obsmetrics.GossipHealth.Set(-1)
        return nil
    }
    if err := d.Gossip.Start(ctx); err != nil { return fmt.Errorf("bootstrap: start gossip: %w", err) }
    d.join()
    go d.watchGossip(ctx)
    return nil
}

func (d *Daemon) join() {
    seeds := d.seeds.Seeds()
    if len(seeds) == 0 { return }
    if err := d.Gossip.Join(seeds); err != nil {
        logutil.Warnf(d.logger, "gossip join %v failed: %v", seeds, err)
    }
}

func (d *Daemon) watchGossip(ctx context.Context) {
    t := time.NewTicker(5 * time.Second)
    defer t.Stop()
    evts := d.Gossip.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case ev, ok := <-evts:
            if !ok { return }
            logutil.Infof(d.logger, "gossip: member %s %s (%s)", ev.Member.ID, ev.Type, ev.Member.Addr)
        case <-t.C:
            obsmetrics.GossipHealth.Set(float64(d.Gossip.HealthScore()))
            // alone: seeds may have changed or been unreachable at start
            if len(d.Gossip.Members()) <= 1 { d.join() }
        }
    }
}

// Run blocks in the monitoring loop. See monitor.Monitor.Run.
func (d *Daemon) Run(ctx context.Context) error { return d.Monitor.Run(ctx) }

// Close stops the endpoints and releases the registry and instance.
func (d *Daemon) Close() error {
    if d.Gossip != nil { _ = d.Gossip.Leave(); _ = d.Gossip.Stop() }
    if d.Server != nil { _ = d.Server.Stop(context.Background()) }
    var first error
    for i := len(d.closers) - 1; i >= 0; i-- {
        if err := d.closers[i].Close(); err != nil && first == nil { first = err }
    }
    d.closers = nil
    return first
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Run builds and starts a daemon and blocks until ctx is done or the
// monitor exits.
func Run(ctx context.Context, opts Options) error {
    d, err := Build(opts)
    if err != nil { return err }
    defer d.Close()
    if err := d.Start(ctx); err != nil { return err }
    return d.Run(ctx)
}
