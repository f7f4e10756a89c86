package transport

import (
    "context"
    "errors"
    "fmt"

    "github.com/amirimatin/go-failover/pkg/registry"
)

// Registry methods carried by RegistryRequest.Method.
const (
    MethodRegisterNode      = "RegisterNode"
    MethodGetNode           = "GetNode"
    MethodListNodes         = "ListNodes"
    MethodActiveSiblings    = "ActiveSiblings"
    MethodPrimaryID         = "PrimaryID"
    MethodSetActive         = "SetActive"
    MethodSetUpstream       = "SetUpstream"
    MethodSetPrimary        = "SetPrimary"
    MethodCurrentTerm       = "CurrentTerm"
    MethodIncrementTerm     = "IncrementTerm"
    MethodSetVotingStatus   = "SetVotingStatus"
    MethodResetVotingStatus = "ResetVotingStatus"
    MethodVotingStatus      = "VotingStatus"
    MethodAddEvent          = "AddEvent"
    MethodEvents            = "Events"
    MethodAddSample         = "AddMonitoringSample"
    MethodHistory           = "History"
)

// ErrNoRegistry is returned by agents that do not host the registry.
var ErrNoRegistry = errors.New("transport: registry not served by this node")

// RegistryRequest is one registry call. Only the fields the method uses are
// set.
type RegistryRequest struct {
    Method       string                     `json:"method"`
    ID           int                        `json:"id,omitempty"`
    UpstreamID   int                        `json:"upstreamId,omitempty"`
    ExcludeID    int                        `json:"excludeId,omitempty"`
    OldPrimaryID int                        `json:"oldPrimaryId,omitempty"`
    Term         int                        `json:"term,omitempty"`
    Limit        int                        `json:"limit,omitempty"`
    Active       bool                       `json:"active,omitempty"`
    Status       registry.VotingStatus      `json:"status,omitempty"`
    Node         *registry.NodeRecord       `json:"node,omitempty"`
    Event        *registry.Event            `json:"event,omitempty"`
    Sample       *registry.MonitoringSample `json:"sample,omitempty"`
}

// RegistryResponse carries the result of a RegistryRequest. Err is set when
// the call failed on the serving node.
type RegistryResponse struct {
    Node    *registry.NodeRecord        `json:"node,omitempty"`
    Nodes   registry.NodeInfoList       `json:"nodes,omitempty"`
    ID      int                         `json:"id,omitempty"`
    Term    int                         `json:"term,omitempty"`
    Status  registry.VotingStatus       `json:"status,omitempty"`
    Events  []registry.Event            `json:"events,omitempty"`
    History []registry.MonitoringSample `json:"history,omitempty"`
    Err     *ErrorResponse              `json:"err,omitempty"`
}

func registryCode(err error) string {
    switch {
    case errors.Is(err, registry.ErrNotFound):
        return "not_found"
    case errors.Is(err, registry.ErrNoPrimary):
        return "no_primary"
    case errors.Is(err, ErrNoRegistry):
        return "no_registry"
    }
    return ""
}

func registrySentinel(code string) error {
    switch code {
    case "not_found":
        return registry.ErrNotFound
    case "no_primary":
        return registry.ErrNoPrimary
    case "no_registry":
        return ErrNoRegistry
    }
    return nil
}

// ServeRegistry executes req against reg.
func ServeRegistry(ctx context.Context, reg registry.Registry, req RegistryRequest) RegistryResponse {
    var (
        out RegistryResponse
        err error
    )
    if reg == nil {
        e := NewErrorResponse(ErrNoRegistry)
        return RegistryResponse{Err: &e}
    }
    switch req.Method {
    case MethodRegisterNode:
        if req.Node == nil { err = fmt.Errorf("transport: %s without node", req.Method); break }
        err = reg.RegisterNode(ctx, *req.Node)
    case MethodGetNode:
        var n registry.NodeRecord
        n, err = reg.GetNode(ctx, req.ID)
        out.Node = &n
    case MethodListNodes:
        out.Nodes, err = reg.ListNodes(ctx)
    case MethodActiveSiblings:
        out.Nodes, err = reg.ActiveSiblings(ctx, req.UpstreamID, req.ExcludeID)
    case MethodPrimaryID:
        out.ID, err = reg.PrimaryID(ctx)
    case MethodSetActive:
        err = reg.SetActive(ctx, req.ID, req.Active)
    case MethodSetUpstream:
        err = reg.SetUpstream(ctx, req.ID, req.UpstreamID)
    case MethodSetPrimary:
        err = reg.SetPrimary(ctx, req.ID, req.OldPrimaryID)
    case MethodCurrentTerm:
        out.Term, err = reg.CurrentTerm(ctx)
    case MethodIncrementTerm:
        out.Term, err = reg.IncrementTerm(ctx)
    case MethodSetVotingStatus:
        err = reg.SetVotingStatus(ctx, req.ID, req.Term, req.Status)
    case MethodResetVotingStatus:
        err = reg.ResetVotingStatus(ctx, req.ID)
    case MethodVotingStatus:
        out.Term, out.Status, err = reg.VotingStatus(ctx, req.ID)
    case MethodAddEvent:
        if req.Event == nil { err = fmt.Errorf("transport: %s without event", req.Method); break }
        err = reg.AddEvent(ctx, *req.Event)
    case MethodEvents:
        out.Events, err = reg.Events(ctx, req.Limit)
    case MethodAddSample:
        if req.Sample == nil { err = fmt.Errorf("transport: %s without sample", req.Method); break }
        err = reg.AddMonitoringSample(ctx, *req.Sample)
    case MethodHistory:
        out.History, err = reg.History(ctx, req.ID)
    default:
        err = fmt.Errorf("transport: unknown registry method %q", req.Method)
    }
    if err != nil {
        e := NewErrorResponse(err)
        return RegistryResponse{Err: &e}
    }
    return out
}

// RemoteRegistry is a registry.Registry served by another node's agent.
type RemoteRegistry struct {
    c    RPCClient
    addr string
}

func NewRemoteRegistry(c RPCClient, addr string) *RemoteRegistry { return &RemoteRegistry{c: c, addr: addr} }

func (r *RemoteRegistry) call(ctx context.Context, req RegistryRequest) (RegistryResponse, error) {
    resp, err := r.c.CallRegistry(ctx, r.addr, req)
    if err != nil { return resp, fmt.Errorf("registry %s: %w", req.Method, err) }
    if resp.Err != nil { return resp, resp.Err.AsError() }
    return resp, nil
}

func (r *RemoteRegistry) RegisterNode(ctx context.Context, rec registry.NodeRecord) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodRegisterNode, Node: &rec})
    return err
}

func (r *RemoteRegistry) GetNode(ctx context.Context, id int) (registry.NodeRecord, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodGetNode, ID: id})
    if err != nil || resp.Node == nil { return registry.NodeRecord{}, err }
    return *resp.Node, nil
}

func (r *RemoteRegistry) ListNodes(ctx context.Context) (registry.NodeInfoList, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodListNodes})
    return resp.Nodes, err
}

func (r *RemoteRegistry) ActiveSiblings(ctx context.Context, upstreamID, excludeID int) (registry.NodeInfoList, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodActiveSiblings, UpstreamID: upstreamID, ExcludeID: excludeID})
    return resp.Nodes, err
}

func (r *RemoteRegistry) PrimaryID(ctx context.Context) (int, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodPrimaryID})
    if err != nil { return registry.NoNode, err }
    return resp.ID, nil
}

func (r *RemoteRegistry) SetActive(ctx context.Context, id int, active bool) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodSetActive, ID: id, Active: active})
    return err
}

func (r *RemoteRegistry) SetUpstream(ctx context.Context, id, upstreamID int) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodSetUpstream, ID: id, UpstreamID: upstreamID})
    return err
}

func (r *RemoteRegistry) SetPrimary(ctx context.Context, id, oldPrimaryID int) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodSetPrimary, ID: id, OldPrimaryID: oldPrimaryID})
    return err
}

func (r *RemoteRegistry) CurrentTerm(ctx context.Context) (int, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodCurrentTerm})
    return resp.Term, err
}

func (r *RemoteRegistry) IncrementTerm(ctx context.Context) (int, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodIncrementTerm})
    return resp.Term, err
}

func (r *RemoteRegistry) SetVotingStatus(ctx context.Context, id, term int, status registry.VotingStatus) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodSetVotingStatus, ID: id, Term: term, Status: status})
    return err
}

func (r *RemoteRegistry) ResetVotingStatus(ctx context.Context, id int) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodResetVotingStatus, ID: id})
    return err
}

func (r *RemoteRegistry) VotingStatus(ctx context.Context, id int) (int, registry.VotingStatus, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodVotingStatus, ID: id})
    return resp.Term, resp.Status, err
}

func (r *RemoteRegistry) AddEvent(ctx context.Context, ev registry.Event) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodAddEvent, Event: &ev})
    return err
}

func (r *RemoteRegistry) Events(ctx context.Context, limit int) ([]registry.Event, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodEvents, Limit: limit})
    return resp.Events, err
}

func (r *RemoteRegistry) AddMonitoringSample(ctx context.Context, s registry.MonitoringSample) error {
    _, err := r.call(ctx, RegistryRequest{Method: MethodAddSample, Sample: &s})
    return err
}

func (r *RemoteRegistry) History(ctx context.Context, standbyID int) ([]registry.MonitoringSample, error) {
    resp, err := r.call(ctx, RegistryRequest{Method: MethodHistory, ID: standbyID})
    return resp.History, err
}

// Close is a no-op; the client's connections belong to the RPCClient.
func (r *RemoteRegistry) Close() error { return nil }

var _ registry.Registry = (*RemoteRegistry)(nil)
