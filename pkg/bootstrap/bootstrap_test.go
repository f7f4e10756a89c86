package bootstrap

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-failover/pkg/config"
    "github.com/amirimatin/go-failover/pkg/monitor"
    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/node/memnet"
    "github.com/amirimatin/go-failover/pkg/registry"
    "github.com/amirimatin/go-failover/pkg/transport"
)

func testConfig(proto string) *config.Config {
    cfg := config.Defaults()
    cfg.NodeID = 1
    cfg.Conninfo = "local"
    cfg.MonitorIntervalSecs = 1
    cfg.PromoteCommand, cfg.FollowCommand = "true", "true %n"
    cfg.Instance.StatusCommand = "unused"
    cfg.Agent.Addr = "127.0.0.1:0"
    cfg.Agent.Proto = proto
    cfg.Agent.Timeout = time.Second
    return &cfg
}

func build(t *testing.T, cfg *config.Config) *Daemon {
    d, err := Build(Options{Config: cfg, Instance: memnet.NewPrimary(100), Logger: log.New(io.Discard, "", 0)})
    require.NoError(t, err)
    t.Cleanup(func() { _ = d.Close() })
    return d
}

func TestDaemonServesAgentAndRegistry(t *testing.T) {
    for _, proto := range []string{"http", "grpc"} {
        t.Run(proto, func(t *testing.T) {
            ctx, cancel := context.WithCancel(context.Background())
            defer cancel()
            d := build(t, testConfig(proto))
            require.NoError(t, d.Start(ctx))
            addr := d.Server.Addr()

            remote := transport.NewRemoteRegistry(d.Client, addr)
            rec := registry.NodeRecord{ID: 1, Name: "n1", Conninfo: addr, Type: registry.TypePrimary, Priority: 100, Location: "default", Active: true}
            require.NoError(t, remote.RegisterNode(ctx, rec))
            got, err := d.Registry.GetNode(ctx, 1)
            require.NoError(t, err)
            assert.Equal(t, rec, got)

            info, err := d.Client.Replication(ctx, addr)
            require.NoError(t, err)
            assert.Equal(t, node.RecoveryPrimary, info.RecoveryType)

            b, err := d.Client.GetStatus(ctx, addr)
            require.NoError(t, err)
            assert.Contains(t, string(b), `"nodeId":1`)
        })
    }
}

func TestDaemonRunsMonitor(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    d := build(t, testConfig("http"))
    require.NoError(t, d.Start(ctx))
    require.NoError(t, d.Registry.RegisterNode(ctx, registry.NodeRecord{
        ID: 1, Conninfo: "local", Type: registry.TypePrimary, Priority: 100, Location: "default", Active: true,
    }))

    done := make(chan error, 1)
    go func() { done <- d.Run(ctx) }()
    require.Eventually(t, func() bool { return d.Monitor.Status().Role == monitor.RolePrimary }, 3*time.Second, 20*time.Millisecond)
    cancel()
    select {
    case err := <-done:
        assert.NoError(t, err)
    case <-time.After(3 * time.Second):
        t.Fatal("monitor did not stop")
    }
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
    cfg := testConfig("http")
    cfg.NodeID = 0
    _, err := Build(Options{Config: cfg})
    require.Error(t, err)
    assert.True(t, errors.Is(err, config.ErrInvalid))
    assert.Equal(t, monitor.ExitBadConfig, monitor.CodeOf(err))
}
