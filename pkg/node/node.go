package node

import (
    "context"
    "errors"
    "fmt"
    "strconv"
    "strings"
    "time"
)

// ErrUnreachable is returned by dialers and connections when the peer cannot
// be contacted.
var ErrUnreachable = errors.New("node: unreachable")

// RecoveryType describes whether a database instance is accepting writes
// (primary) or replaying changes from an upstream (standby).
type RecoveryType string

const (
    RecoveryUnknown RecoveryType = "unknown"
    RecoveryPrimary RecoveryType = "primary"
    RecoveryStandby RecoveryType = "standby"
)

// LSN is a replication log position. Higher means more up to date.
type LSN uint64

// InvalidLSN marks a position that could not be determined.
const InvalidLSN LSN = 0

// String renders the position in the conventional "hi/lo" hex form.
func (l LSN) String() string {
    return fmt.Sprintf("%X/%X", uint32(l>>32), uint32(l))
}

// ParseLSN accepts "hi/lo" hex or a plain decimal value.
func ParseLSN(s string) (LSN, error) {
    s = strings.TrimSpace(s)
    if s == "" { return InvalidLSN, nil }
    hi, lo, ok := strings.Cut(s, "/")
    if !ok {
        v, err := strconv.ParseUint(s, 10, 64)
        if err != nil { return InvalidLSN, fmt.Errorf("node: invalid lsn %q: %w", s, err) }
        return LSN(v), nil
    }
    h, err := strconv.ParseUint(hi, 16, 32)
    if err != nil { return InvalidLSN, fmt.Errorf("node: invalid lsn %q: %w", s, err) }
    l, err := strconv.ParseUint(lo, 16, 32)
    if err != nil { return InvalidLSN, fmt.Errorf("node: invalid lsn %q: %w", s, err) }
    return LSN(h<<32 | l), nil
}

// MarshalText lets LSN travel as "hi/lo" in JSON and YAML.
func (l LSN) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *LSN) UnmarshalText(b []byte) error {
    v, err := ParseLSN(string(b))
    if err != nil { return err }
    *l = v
    return nil
}

// ReplicationInfo is the replication progress reported by an instance.
// CurrentLSN is only meaningful on a primary; the receive/replay fields only
// on a standby.
type ReplicationInfo struct {
    RecoveryType        RecoveryType `json:"recoveryType"`
    CurrentLSN          LSN          `json:"currentLsn"`
    LastWALReceiveLSN   LSN          `json:"lastWalReceiveLsn"`
    LastWALReplayLSN    LSN          `json:"lastWalReplayLsn"`
    LastXactReplayTime  time.Time    `json:"lastXactReplayTime"`
}

// Instance is the database instance a daemon manages on its own host.
type Instance interface {
    Ping(ctx context.Context) error
    ReplicationInfo(ctx context.Context) (ReplicationInfo, error)
}

// Conn is a live handle to a node, either the local one or a peer reached
// through its agent. A Conn is owned by whoever dialed it and must be closed
// by that owner.
type Conn interface {
    Ping(ctx context.Context) error
    RecoveryType(ctx context.Context) (RecoveryType, error)
    LastWALReceiveLSN(ctx context.Context) (LSN, error)
    ReplicationInfo(ctx context.Context) (ReplicationInfo, error)
    // NotifyFollowPrimary stores primaryID in the node's notification slot.
    NotifyFollowPrimary(ctx context.Context, primaryID int) error
    // NewPrimary reads the notification slot. ok is false when empty.
    NewPrimary(ctx context.Context) (primaryID int, ok bool, err error)
    // ResetNotification clears the notification slot.
    ResetNotification(ctx context.Context) error
    Close() error
}

// Dialer opens connections from a node's conninfo.
type Dialer interface {
    Dial(ctx context.Context, conninfo string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, conninfo string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, conninfo string) (Conn, error) { return f(ctx, conninfo) }
