package config

import (
    "errors"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

const sample = `
node_id: 2
node_name: node2
conninfo: 10.0.0.2:17946
location: dc1
priority: 80
failover: automatic
monitor_interval_secs: 1
degraded_monitoring_timeout: 30
primary_notification_timeout: 10
promote_command: /usr/local/bin/promote.sh
follow_command: /usr/local/bin/follow.sh --upstream=%n
monitoring_history: true
registry:
  kind: remote
  addr: 10.0.0.9:17946
agent:
  proto: grpc
  addr: :17946
  timeout: 2s
instance:
  kind: command
  status_command: /usr/local/bin/status.sh
gossip:
  enabled: true
  bind: 0.0.0.0:7946
  join: [10.0.0.1:7946]
  join_file: /etc/failoverd/seeds
  join_dns: [_failover._tcp.db.internal]
`

func TestParseSample(t *testing.T) {
    cfg, err := Parse([]byte(sample))
    require.NoError(t, err)
    assert.Equal(t, 2, cfg.NodeID)
    assert.Equal(t, FailoverAutomatic, cfg.Failover)
    assert.Equal(t, 30, cfg.DegradedMonitoringTimeout)
    assert.Equal(t, 2*time.Second, cfg.Agent.Timeout)
    assert.Equal(t, time.Second, cfg.MonitorInterval())
    assert.Equal(t, 300, cfg.LogStatusInterval, "default kept")
    assert.Equal(t, "/usr/local/bin/follow.sh --upstream=7", cfg.FollowCommandFor(7))
    assert.Equal(t, []string{"_failover._tcp.db.internal"}, cfg.Gossip.JoinDNS)
    assert.Equal(t, "/etc/failoverd/seeds", cfg.Gossip.JoinFile)
}

func TestAutomaticFailoverRequiresCommands(t *testing.T) {
    _, err := Parse([]byte("node_id: 1\ninstance: {kind: command, status_command: x}\n"))
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrInvalid))
    assert.Contains(t, err.Error(), "promote_command")
    assert.Contains(t, err.Error(), "follow_command")
}

func TestFollowCommandNeedsPlaceholder(t *testing.T) {
    doc := "node_id: 1\npromote_command: p\nfollow_command: f\ninstance: {kind: command, status_command: x}\n"
    _, err := Parse([]byte(doc))
    require.Error(t, err)
    assert.Contains(t, err.Error(), "%n")
}

func TestManualModeNeedsNoCommands(t *testing.T) {
    cfg, err := Parse([]byte("node_id: 3\nfailover: manual\ninstance: {kind: command, status_command: x}\n"))
    require.NoError(t, err)
    assert.Equal(t, FailoverManual, cfg.Failover)
    assert.Equal(t, ":17946", cfg.Conninfo, "conninfo falls back to the agent address")
}

func TestLoadAndCheckReload(t *testing.T) {
    path := filepath.Join(t.TempDir(), "failoverd.yaml")
    require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
    cur, err := Load(path)
    require.NoError(t, err)

    next, err := Parse([]byte(strings.Replace(sample, "priority: 80", "priority: 10", 1)))
    require.NoError(t, err)
    require.NoError(t, cur.CheckReload(next))

    moved, err := Parse([]byte(strings.Replace(sample, "node_id: 2", "node_id: 5", 1)))
    require.NoError(t, err)
    assert.Error(t, cur.CheckReload(moved))
}

func TestLoadMissingFileIsInvalid(t *testing.T) {
    _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrInvalid))
    assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestTLSDisabledReturnsNil(t *testing.T) {
    s, err := TLS{}.Server()
    require.NoError(t, err)
    assert.Nil(t, s)
    _, err = TLS{Enable: true}.Server()
    assert.Error(t, err)
}
