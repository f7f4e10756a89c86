package memory

import (
    "context"
    "errors"
    "sort"
    "sync"

    "github.com/amirimatin/go-failover/pkg/registry"
)

// ErrWriteRejected is returned by every write while FailWrites is on.
var ErrWriteRejected = errors.New("memory: write rejected")

type vote struct {
    term   int
    status registry.VotingStatus
}

// Store is an in-memory Registry. One Store shared by several monitors
// behaves like the shared metadata store of a real cluster.
type Store struct {
    mu         sync.RWMutex
    nodes      map[int]registry.NodeRecord
    term       int
    votes      map[int]vote
    events     []registry.Event
    history    []registry.MonitoringSample
    failWrites bool
}

// New returns an empty store at term 1.
func New() *Store {
    return &Store{nodes: make(map[int]registry.NodeRecord), votes: make(map[int]vote), term: 1}
}

// FailWrites makes every write return ErrWriteRejected until turned off.
func (s *Store) FailWrites(on bool) { s.mu.Lock(); s.failWrites = on; s.mu.Unlock() }

func (s *Store) write(fn func() error) error {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.failWrites { return ErrWriteRejected }
    return fn()
}

func (s *Store) RegisterNode(_ context.Context, rec registry.NodeRecord) error {
    return s.write(func() error {
        rec.LastWALReceiveLSN, rec.Status = 0, ""
        s.nodes[rec.ID] = rec
        return nil
    })
}

func (s *Store) GetNode(_ context.Context, id int) (registry.NodeRecord, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    n, ok := s.nodes[id]
    if !ok { return registry.NodeRecord{}, registry.ErrNotFound }
    return n, nil
}

func (s *Store) ListNodes(context.Context) (registry.NodeInfoList, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    out := make(registry.NodeInfoList, 0, len(s.nodes))
    for _, n := range s.nodes { out = append(out, n) }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (s *Store) ActiveSiblings(ctx context.Context, upstreamID, excludeID int) (registry.NodeInfoList, error) {
    all, _ := s.ListNodes(ctx)
    var out registry.NodeInfoList
    for _, n := range all {
        if n.Active && n.UpstreamID == upstreamID && n.ID != excludeID {
            out = append(out, n)
        }
    }
    return out, nil
}

func (s *Store) PrimaryID(ctx context.Context) (int, error) {
    all, _ := s.ListNodes(ctx)
    for _, n := range all {
        if n.Active && n.Type == registry.TypePrimary { return n.ID, nil }
    }
    return registry.NoNode, registry.ErrNoPrimary
}

func (s *Store) update(id int, fn func(*registry.NodeRecord)) error {
    return s.write(func() error {
        n, ok := s.nodes[id]
        if !ok { return registry.ErrNotFound }
        fn(&n)
        s.nodes[id] = n
        return nil
    })
}

func (s *Store) SetActive(_ context.Context, id int, active bool) error {
    return s.update(id, func(n *registry.NodeRecord) { n.Active = active })
}

func (s *Store) SetUpstream(_ context.Context, id, upstreamID int) error {
    return s.update(id, func(n *registry.NodeRecord) { n.UpstreamID = upstreamID })
}

func (s *Store) SetPrimary(_ context.Context, id, oldPrimaryID int) error {
    return s.write(func() error {
        n, ok := s.nodes[id]
        if !ok { return registry.ErrNotFound }
        n.Type, n.UpstreamID, n.Active = registry.TypePrimary, registry.NoNode, true
        s.nodes[id] = n
        if old, ok := s.nodes[oldPrimaryID]; ok && oldPrimaryID != id {
            old.Active = false
            s.nodes[oldPrimaryID] = old
        }
        return nil
    })
}

func (s *Store) CurrentTerm(context.Context) (int, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.term, nil
}

func (s *Store) IncrementTerm(context.Context) (int, error) {
    var t int
    err := s.write(func() error { s.term++; t = s.term; return nil })
    return t, err
}

func (s *Store) SetVotingStatus(_ context.Context, id, term int, status registry.VotingStatus) error {
    return s.write(func() error { s.votes[id] = vote{term: term, status: status}; return nil })
}

func (s *Store) ResetVotingStatus(_ context.Context, id int) error {
    return s.write(func() error { delete(s.votes, id); return nil })
}

func (s *Store) VotingStatus(_ context.Context, id int) (int, registry.VotingStatus, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    v := s.votes[id]
    return v.term, v.status, nil
}

func (s *Store) AddEvent(_ context.Context, ev registry.Event) error {
    return s.write(func() error { s.events = append(s.events, ev); return nil })
}

func (s *Store) Events(_ context.Context, limit int) ([]registry.Event, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    out := make([]registry.Event, 0, len(s.events))
    for i := len(s.events) - 1; i >= 0; i-- {
        if limit > 0 && len(out) == limit { break }
        out = append(out, s.events[i])
    }
    return out, nil
}

func (s *Store) AddMonitoringSample(_ context.Context, m registry.MonitoringSample) error {
    return s.write(func() error { s.history = append(s.history, m); return nil })
}

func (s *Store) History(_ context.Context, standbyID int) ([]registry.MonitoringSample, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    var out []registry.MonitoringSample
    for _, h := range s.history {
        if h.StandbyID == standbyID { out = append(out, h) }
    }
    return out, nil
}

func (s *Store) Close() error { return nil }

var _ registry.Registry = (*Store)(nil)
