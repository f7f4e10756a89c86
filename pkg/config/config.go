package config

import (
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// FollowPlaceholder is replaced by the target node id in FollowCommand.
const FollowPlaceholder = "%n"

type FailoverMode string

const (
    FailoverAutomatic FailoverMode = "automatic"
    FailoverManual    FailoverMode = "manual"
)

// Config is the daemon configuration. Zero durations fall back to the
// defaults applied by Load and Defaults.
type Config struct {
    NodeID   int    `yaml:"node_id"`
    NodeName string `yaml:"node_name"`
    // Conninfo is the address peers use to reach this node's agent.
    Conninfo string `yaml:"conninfo"`
    Location string `yaml:"location"`
    Priority int    `yaml:"priority"`

    Failover FailoverMode `yaml:"failover"`

    MonitorIntervalSecs        int  `yaml:"monitor_interval_secs"`
    LogStatusInterval          int  `yaml:"log_status_interval"`
    DegradedMonitoringTimeout  int  `yaml:"degraded_monitoring_timeout"`
    PrimaryNotificationTimeout int  `yaml:"primary_notification_timeout"`
    PromoteDelay               int  `yaml:"promote_delay"`
    MonitoringHistory          bool `yaml:"monitoring_history"`

    PromoteCommand string `yaml:"promote_command"`
    FollowCommand  string `yaml:"follow_command"`

    LogFormat string `yaml:"log_format"`
    LogDebug  bool   `yaml:"log_debug"`
    Trace     bool   `yaml:"trace"`

    Registry Registry `yaml:"registry"`
    Agent    Agent    `yaml:"agent"`
    Gossip   Gossip   `yaml:"gossip"`
    Instance Instance `yaml:"instance"`
}

// Registry selects the registry backend. "bolt" opens Path locally and
// serves it to peers; "remote" talks to another daemon's agent at Addr.
type Registry struct {
    Kind string `yaml:"kind"`
    Path string `yaml:"path"`
    Addr string `yaml:"addr"`
}

// Agent configures the management endpoint peers use to probe and notify
// this node.
type Agent struct {
    Proto   string        `yaml:"proto"`
    Addr    string        `yaml:"addr"`
    Timeout time.Duration `yaml:"timeout"`
    TLS     TLS           `yaml:"tls"`
}

// Gossip optionally carries follow notifications over memberlist.
type Gossip struct {
    Enabled   bool     `yaml:"enabled"`
    Bind      string   `yaml:"bind"`
    Advertise string   `yaml:"advertise"`
    Join      []string `yaml:"join"`

    // JoinFile is a seed file or glob, re-read while the daemon runs.
    JoinFile string `yaml:"join_file"`
    // JoinDNS lists SRV or host names resolved into seeds.
    JoinDNS  []string `yaml:"join_dns"`
    JoinPort int      `yaml:"join_port"`
}

// Instance selects how the local database is probed.
type Instance struct {
    Kind          string `yaml:"kind"`
    DSN           string `yaml:"dsn"`
    StatusCommand string `yaml:"status_command"`
}

// Defaults returns a configuration with every optional field populated.
func Defaults() Config {
    return Config{
        Failover:                   FailoverAutomatic,
        Priority:                   100,
        Location:                   "default",
        MonitorIntervalSecs:        2,
        LogStatusInterval:          300,
        DegradedMonitoringTimeout:  -1,
        PrimaryNotificationTimeout: 60,
        Registry:                   Registry{Kind: "memory"},
        Agent:                      Agent{Proto: "http", Addr: ":17946", Timeout: 3 * time.Second},
        Instance:                   Instance{Kind: "command"},
    }
}

// Load reads a YAML file on top of Defaults and validates the result.
func Load(path string) (*Config, error) {
    b, err := os.ReadFile(path)
    if err != nil { return nil, fmt.Errorf("%w: read %s: %w", ErrInvalid, path, err) }
    return Parse(b)
}

// Parse decodes YAML on top of Defaults and validates the result.
func Parse(b []byte) (*Config, error) {
    cfg := Defaults()
    if err := yaml.Unmarshal(b, &cfg); err != nil { return nil, fmt.Errorf("%w: %v", ErrInvalid, err) }
    if cfg.Conninfo == "" { cfg.Conninfo = cfg.Agent.Addr }
    if err := cfg.Validate(); err != nil { return nil, err }
    return &cfg, nil
}

// Validate performs the pre-flight checks run at startup and on reload.
func (c *Config) Validate() error {
    var problems []string
    if c.NodeID <= 0 { problems = append(problems, "node_id must be a positive integer") }
    if c.Priority < 0 { problems = append(problems, "priority must not be negative") }
    if c.MonitorIntervalSecs <= 0 { problems = append(problems, "monitor_interval_secs must be positive") }
    if c.PrimaryNotificationTimeout <= 0 { problems = append(problems, "primary_notification_timeout must be positive") }
    switch c.Failover {
    case FailoverAutomatic:
        if strings.TrimSpace(c.PromoteCommand) == "" { problems = append(problems, "promote_command is required when failover=automatic") }
        if strings.TrimSpace(c.FollowCommand) == "" {
            problems = append(problems, "follow_command is required when failover=automatic")
        } else if !strings.Contains(c.FollowCommand, FollowPlaceholder) {
            problems = append(problems, "follow_command must contain the "+FollowPlaceholder+" placeholder")
        }
    case FailoverManual:
    default:
        problems = append(problems, fmt.Sprintf("failover must be automatic or manual, got %q", c.Failover))
    }
    switch c.Registry.Kind {
    case "memory":
    case "bolt":
        if c.Registry.Path == "" { problems = append(problems, "registry.path is required for kind=bolt") }
    case "remote":
        if c.Registry.Addr == "" { problems = append(problems, "registry.addr is required for kind=remote") }
    default:
        problems = append(problems, fmt.Sprintf("unknown registry.kind %q", c.Registry.Kind))
    }
    if c.Agent.Proto != "http" && c.Agent.Proto != "grpc" {
        problems = append(problems, fmt.Sprintf("agent.proto must be http or grpc, got %q", c.Agent.Proto))
    }
    switch c.Instance.Kind {
    case "command":
        if c.Instance.StatusCommand == "" { problems = append(problems, "instance.status_command is required for kind=command") }
    case "postgres":
        if c.Instance.DSN == "" { problems = append(problems, "instance.dsn is required for kind=postgres") }
    default:
        problems = append(problems, fmt.Sprintf("unknown instance.kind %q", c.Instance.Kind))
    }
    if c.Gossip.Enabled && c.Gossip.Bind == "" { problems = append(problems, "gossip.bind is required when gossip is enabled") }
    if len(problems) > 0 {
        return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
    }
    return nil
}

// MonitorInterval returns the per-tick sleep.
func (c *Config) MonitorInterval() time.Duration { return time.Duration(c.MonitorIntervalSecs) * time.Second }

// FollowCommandFor substitutes targetID into the follow command.
func (c *Config) FollowCommandFor(targetID int) string {
    return strings.ReplaceAll(c.FollowCommand, FollowPlaceholder, fmt.Sprintf("%d", targetID))
}

// CheckReload returns an error when next changes a setting that only takes
// effect on restart.
func (c *Config) CheckReload(next *Config) error {
    if next.NodeID != c.NodeID { return fmt.Errorf("%w: node_id cannot change on reload (%d -> %d)", ErrInvalid, c.NodeID, next.NodeID) }
    if next.Registry != c.Registry { return fmt.Errorf("%w: registry settings cannot change on reload", ErrInvalid) }
    if next.Agent.Addr != c.Agent.Addr || next.Agent.Proto != c.Agent.Proto {
        return fmt.Errorf("%w: agent endpoint cannot change on reload", ErrInvalid)
    }
    return nil
}
