// Package cli provides the failoverd cobra commands so they can be attached
// to other binaries.
package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-failover/pkg/bootstrap"
    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/internal/logutil"
    tracing "github.com/amirimatin/go-failover/pkg/observability/tracing"
    "github.com/amirimatin/go-failover/pkg/registry"
    "github.com/amirimatin/go-failover/pkg/transport"
)

// AddAll attaches run, status, nodes, events and register to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewNodesCmd())
    root.AddCommand(NewEventsCmd())
    root.AddCommand(NewRegisterCmd())
}

// NewRunCmd returns the "run" command that starts the daemon. SIGHUP
// reloads the configuration; SIGINT and SIGTERM stop it.
func NewRunCmd() *cobra.Command {
    var (
        cfgPath     string
        traceEnable bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run the failover daemon",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := config.Load(cfgPath)
            if err != nil { return err }
            if traceEnable || cfg.Trace {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            d, err := bootstrap.Build(bootstrap.Options{Config: cfg, ConfigPath: cfgPath, Logger: log.Default()})
            if err != nil { return err }
            defer d.Close()

            ctx, cancel := signalContext(d.Monitor.RequestReload)
            defer cancel()
            if err := d.Start(ctx); err != nil { return err }
            logutil.Infof(log.Default(), "failoverd node %d started (failover=%s)", cfg.NodeID, cfg.Failover)
            return d.Run(ctx)
        },
    }
    cmd.Flags().StringVar(&cfgPath, "config", "/etc/failoverd.yaml", "path to the YAML configuration file")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// clientFlags are shared by the commands that talk to a running agent.
type clientFlags struct {
    addr, proto string
    timeout     time.Duration
    tls         config.TLS
}

func (f *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:17946", "agent address of a node (host:port)")
    cmd.Flags().StringVar(&f.proto, "proto", "http", "agent protocol: http|grpc")
    cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Second, "request timeout")
    cmd.Flags().BoolVar(&f.tls.Enable, "tls-enable", false, "enable mTLS for the agent connection")
    cmd.Flags().StringVar(&f.tls.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&f.tls.CertFile, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&f.tls.KeyFile, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&f.tls.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&f.tls.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (f *clientFlags) client() (transport.RPCClient, error) {
    tlsCfg, err := f.tls.Client()
    if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    return bootstrap.NewClient(f.proto, f.timeout, tlsCfg), nil
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch a daemon's monitoring status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, f.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            out := cmd.OutOrStdout()
            out.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { out.Write([]byte("\n")) }
            return nil
        },
    }
    f.register(cmd)
    return cmd
}

// NewNodesCmd returns the "nodes" command listing registry records.
func NewNodesCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "nodes",
        Short: "List registered nodes from the registry a node serves",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            nodes, err := transport.NewRemoteRegistry(client, f.addr).ListNodes(ctx)
            if err != nil { return fmt.Errorf("nodes error: %w", err) }
            return writeJSON(cmd, nodes)
        },
    }
    f.register(cmd)
    return cmd
}

// NewEventsCmd returns the "events" command.
func NewEventsCmd() *cobra.Command {
    var (
        f     clientFlags
        limit int
    )
    cmd := &cobra.Command{
        Use:   "events",
        Short: "Show recent events, newest first",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            evs, err := transport.NewRemoteRegistry(client, f.addr).Events(ctx, limit)
            if err != nil { return fmt.Errorf("events error: %w", err) }
            return writeJSON(cmd, evs)
        },
    }
    f.register(cmd)
    cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events (0 = all)")
    return cmd
}

// NewRegisterCmd returns the "register" command that writes the record of
// the node described by a configuration file.
func NewRegisterCmd() *cobra.Command {
    var (
        f        clientFlags
        cfgPath  string
        nodeType string
        upstream int
        viaAgent bool
    )
    cmd := &cobra.Command{
        Use:   "register",
        Short: "Register the local node in the registry",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := config.Load(cfgPath)
            if err != nil { return err }
            rec := registry.NodeRecord{
                ID:         cfg.NodeID,
                Name:       cfg.NodeName,
                Conninfo:   cfg.Conninfo,
                Type:       registry.NodeType(nodeType),
                UpstreamID: upstream,
                Priority:   cfg.Priority,
                Location:   cfg.Location,
                Active:     true,
            }
            switch rec.Type {
            case registry.TypePrimary:
                rec.UpstreamID = registry.NoNode
            case registry.TypeStandby, registry.TypeWitness:
                if upstream == registry.NoNode { return fmt.Errorf("--upstream is required for type %s", nodeType) }
            default:
                return fmt.Errorf("--type must be primary, standby or witness")
            }

            var reg registry.Registry
            if viaAgent {
                client, err := f.client()
                if err != nil { return err }
                reg = transport.NewRemoteRegistry(client, f.addr)
            } else {
                tlsCfg, err := cfg.Agent.TLS.Client()
                if err != nil { return err }
                reg, _, err = bootstrap.OpenRegistry(cfg, bootstrap.NewClient(cfg.Agent.Proto, cfg.Agent.Timeout, tlsCfg))
                if err != nil { return err }
            }
            defer reg.Close()
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            if err := reg.RegisterNode(ctx, rec); err != nil { return fmt.Errorf("register error: %w", err) }
            return writeJSON(cmd, rec)
        },
    }
    f.register(cmd)
    cmd.Flags().StringVar(&cfgPath, "config", "/etc/failoverd.yaml", "path to the YAML configuration file")
    cmd.Flags().StringVar(&nodeType, "type", "standby", "node type: primary|standby|witness")
    cmd.Flags().IntVar(&upstream, "upstream", 0, "upstream node id (standby and witness)")
    cmd.Flags().BoolVar(&viaAgent, "via-agent", false, "write through the agent at --addr instead of the configured registry")
    return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
    enc := json.NewEncoder(cmd.OutOrStdout())
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

// signalContext cancels on SIGINT or SIGTERM and calls reload on SIGHUP.
func signalContext(reload func()) (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
        defer signal.Stop(ch)
        for {
            select {
            case <-ctx.Done():
                return
            case sig := <-ch:
                if sig == syscall.SIGHUP {
                    if reload != nil { reload() }
                    continue
                }
                cancel()
                return
            }
        }
    }()
    return ctx, cancel
}
