package instance

import (
    "context"
    "errors"
    "testing"

    "github.com/amirimatin/go-failover/pkg/execx"
    "github.com/amirimatin/go-failover/pkg/node"
)

func TestCommandParsesStatus(t *testing.T) {
    f := &execx.Fake{Handler: func(string) execx.Result {
        return execx.Result{Output: `{"recoveryType":"standby","lastWalReceiveLsn":"0/3000060","lastWalReplayLsn":"0/3000000"}`}
    }}
    c := &Command{StatusCommand: "status", Runner: f}
    ri, err := c.ReplicationInfo(context.Background())
    if err != nil { t.Fatal(err) }
    if ri.RecoveryType != node.RecoveryStandby { t.Fatalf("type = %s", ri.RecoveryType) }
    if ri.LastWALReceiveLSN != 0x3000060 || ri.LastWALReplayLSN != 0x3000000 { t.Fatalf("lsn = %s/%s", ri.LastWALReceiveLSN, ri.LastWALReplayLSN) }
}

func TestCommandFailureIsUnreachable(t *testing.T) {
    f := &execx.Fake{Handler: func(string) execx.Result { return execx.Result{ExitCode: 2, Output: "no server"} }}
    c := &Command{StatusCommand: "status", Runner: f}
    if err := c.Ping(context.Background()); !errors.Is(err, node.ErrUnreachable) { t.Fatalf("got %v", err) }
}

func TestCommandRejectsUnknownRole(t *testing.T) {
    f := &execx.Fake{Handler: func(string) execx.Result { return execx.Result{Output: `{"recoveryType":"bogus"}`} }}
    c := &Command{StatusCommand: "status", Runner: f}
    if _, err := c.ReplicationInfo(context.Background()); err == nil { t.Fatal("expected error") }
}
