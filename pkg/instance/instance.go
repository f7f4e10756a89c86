// Package instance probes the database instance a daemon manages.
package instance

import (
    "context"
    "encoding/json"
    "fmt"

    "github.com/amirimatin/go-failover/pkg/execx"
    "github.com/amirimatin/go-failover/pkg/node"
)

// Command probes the instance by running an operator supplied status command
// that prints a JSON document such as
//
//    {"recoveryType":"standby","lastWalReceiveLsn":"0/3000060","lastWalReplayLsn":"0/3000060"}
//
// A non-zero exit status means the instance is unreachable.
type Command struct {
    StatusCommand string
    Runner        execx.Commander
}

// NewCommand returns a Command that runs through the shell.
func NewCommand(statusCommand string) *Command {
    return &Command{StatusCommand: statusCommand, Runner: execx.Shell{}}
}

func (c *Command) Ping(ctx context.Context) error {
    _, err := c.ReplicationInfo(ctx)
    return err
}

func (c *Command) ReplicationInfo(ctx context.Context) (node.ReplicationInfo, error) {
    unknown := node.ReplicationInfo{RecoveryType: node.RecoveryUnknown}
    res, err := c.Runner.Run(ctx, c.StatusCommand)
    if err != nil { return unknown, fmt.Errorf("%w: %v", node.ErrUnreachable, err) }
    if !res.OK() { return unknown, fmt.Errorf("%w: status command exited %d: %s", node.ErrUnreachable, res.ExitCode, res.Output) }
    var ri node.ReplicationInfo
    if err := json.Unmarshal([]byte(res.Output), &ri); err != nil {
        return unknown, fmt.Errorf("instance: decode status output: %w", err)
    }
    switch ri.RecoveryType {
    case node.RecoveryPrimary, node.RecoveryStandby:
    default:
        return unknown, fmt.Errorf("instance: unexpected recoveryType %q", ri.RecoveryType)
    }
    return ri, nil
}

var _ node.Instance = (*Command)(nil)
