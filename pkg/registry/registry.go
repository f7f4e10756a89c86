// Package registry describes the shared node metadata every daemon reads
// and writes: node records, the electoral term, voting markers, events and
// monitoring history. Writes are last-writer-wins; the registry gives no
// isolation beyond what a backend happens to provide.
package registry

import (
    "context"
    "errors"
    "time"

    "github.com/amirimatin/go-failover/pkg/node"
)

var (
    ErrNotFound  = errors.New("registry: node not found")
    ErrNoPrimary = errors.New("registry: no active primary")
)

// NoNode is the UpstreamID of a node that follows nobody.
const NoNode = 0

type NodeType string

const (
    TypePrimary NodeType = "primary"
    TypeStandby NodeType = "standby"
    TypeWitness NodeType = "witness"
)

type NodeStatus string

const (
    StatusUnknown NodeStatus = "unknown"
    StatusUp      NodeStatus = "up"
    StatusDown    NodeStatus = "down"
)

// NodeRecord is a node's registry entry. LastWALReceiveLSN and Status are
// observations made during an election and are not persisted by backends.
type NodeRecord struct {
    ID                int        `json:"id"`
    Name              string     `json:"name"`
    Conninfo          string     `json:"conninfo"`
    Type              NodeType   `json:"type"`
    UpstreamID        int        `json:"upstreamId"`
    Priority          int        `json:"priority"`
    Location          string     `json:"location"`
    Active            bool       `json:"active"`
    LastWALReceiveLSN node.LSN   `json:"lastWalReceiveLsn,omitempty"`
    Status            NodeStatus `json:"status,omitempty"`
}

// NodeInfoList is a working set of records built fresh for each query.
type NodeInfoList []NodeRecord

// IDs returns the node ids in list order.
func (l NodeInfoList) IDs() []int {
    out := make([]int, 0, len(l))
    for _, n := range l { out = append(out, n.ID) }
    return out
}

type VotingStatus string

const (
    VotingNone      VotingStatus = ""
    VotingInitiated VotingStatus = "initiated"
)

// Event is an auditable record of a state transition.
type Event struct {
    NodeID    int       `json:"nodeId"`
    Type      string    `json:"type"`
    Success   bool      `json:"success"`
    Details   string    `json:"details"`
    Timestamp time.Time `json:"timestamp"`
}

// MonitoringSample is one row of replication monitoring history.
type MonitoringSample struct {
    PrimaryID          int       `json:"primaryId"`
    StandbyID          int       `json:"standbyId"`
    Timestamp          time.Time `json:"timestamp"`
    PrimaryLSN         node.LSN  `json:"primaryLsn"`
    ReceiveLSN         node.LSN  `json:"receiveLsn"`
    LastReplayTime     time.Time `json:"lastReplayTime"`
    ReplicationLagBytes int64    `json:"replicationLagBytes"`
    ApplyLagBytes      int64     `json:"applyLagBytes"`
}

// Registry is the node metadata store shared by every daemon in a cluster.
// All calls block; callers treat write failures as non-fatal.
type Registry interface {
    // RegisterNode inserts or replaces a record.
    RegisterNode(ctx context.Context, rec NodeRecord) error
    GetNode(ctx context.Context, id int) (NodeRecord, error)
    ListNodes(ctx context.Context) (NodeInfoList, error)
    // ActiveSiblings returns active nodes whose upstream is upstreamID,
    // excluding excludeID.
    ActiveSiblings(ctx context.Context, upstreamID, excludeID int) (NodeInfoList, error)
    // PrimaryID returns the id of the active primary or ErrNoPrimary.
    PrimaryID(ctx context.Context) (int, error)
    SetActive(ctx context.Context, id int, active bool) error
    SetUpstream(ctx context.Context, id, upstreamID int) error
    // SetPrimary records id as the primary and, when oldPrimaryID is not
    // NoNode, marks the old primary inactive.
    SetPrimary(ctx context.Context, id, oldPrimaryID int) error

    CurrentTerm(ctx context.Context) (int, error)
    IncrementTerm(ctx context.Context) (int, error)
    SetVotingStatus(ctx context.Context, id, term int, status VotingStatus) error
    ResetVotingStatus(ctx context.Context, id int) error
    VotingStatus(ctx context.Context, id int) (term int, status VotingStatus, err error)

    AddEvent(ctx context.Context, ev Event) error
    // Events returns at most limit events, newest first. limit <= 0 means all.
    Events(ctx context.Context, limit int) ([]Event, error)
    AddMonitoringSample(ctx context.Context, s MonitoringSample) error
    // History returns samples recorded for standbyID, oldest first.
    History(ctx context.Context, standbyID int) ([]MonitoringSample, error)

    Close() error
}
