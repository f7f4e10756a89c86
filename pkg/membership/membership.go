// Package membership is the optional gossip layer between daemons. It gives
// each daemon a second path, independent of the agent API, for delivering
// follow notifications to siblings.
package membership

import (
    "context"
    "errors"
    "strconv"
    "time"
)

// ErrUnknownMember is returned when a notice targets a node gossip has not
// seen.
var ErrUnknownMember = errors.New("membership: unknown member")

// MemberInfo describes a daemon as observed by the gossip layer. Meta carries
// the agent address and node id.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

// MemberName is the gossip name of a node id.
func MemberName(nodeID int) string { return strconv.Itoa(nodeID) }

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventLeave indicates a member left or was declared dead.
    EventLeave EventType = "leave"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the underlying gossip/failure-detection
// layer.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// Messenger delivers a follow notice naming primaryID to the daemon of
// nodeID.
type Messenger interface {
    SendFollow(ctx context.Context, nodeID, primaryID int) error
}

// FollowNotice is the gossip payload of a follow notification.
type FollowNotice struct {
    From      int `json:"from"`
    PrimaryID int `json:"primaryId"`
}
